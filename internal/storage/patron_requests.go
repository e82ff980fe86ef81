package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/openlibraryenvironment/dcb-service-sub002/internal/model"
)

var ErrNotFound = errors.New("not found")

// PatronRequests is the row repository for the patron_requests table.
type PatronRequests struct {
	db *sql.DB
}

func NewPatronRequests(db *sql.DB) *PatronRequests {
	return &PatronRequests{db: db}
}

const patronRequestColumns = `
id, status, previous_status, patron_id, patron_host_lms_code, home_library_code,
home_agency_code, bib_cluster_id, pickup_location_code, pickup_location_context,
description, local_request_id, local_item_id, local_bib_id, local_status,
pickup_request_id, pickup_item_id, pickup_bib_id, pickup_patron_id,
active_workflow, resolution_count, renewal_count, local_hold_count,
error_message, created_at_ns, updated_at_ns`

func scanPatronRequest(row interface{ Scan(...interface{}) error }) (model.PatronRequest, error) {
	var pr model.PatronRequest
	var createdNs, updatedNs int64
	err := row.Scan(
		&pr.ID, &pr.Status, &pr.PreviousStatus, &pr.PatronID, &pr.PatronHostLMSCode,
		&pr.HomeLibraryCode, &pr.HomeAgencyCode, &pr.BibClusterID,
		&pr.PickupLocationCode, &pr.PickupLocationContext, &pr.Description,
		&pr.LocalRequestID, &pr.LocalItemID, &pr.LocalBibID, &pr.LocalStatus,
		&pr.PickupRequestID, &pr.PickupItemID, &pr.PickupBibID, &pr.PickupPatronID,
		&pr.ActiveWorkflow, &pr.ResolutionCount, &pr.RenewalCount, &pr.LocalHoldCount,
		&pr.ErrorMessage, &createdNs, &updatedNs,
	)
	if err != nil {
		return model.PatronRequest{}, err
	}
	pr.CreatedAt = time.Unix(0, createdNs)
	pr.UpdatedAt = time.Unix(0, updatedNs)
	return pr, nil
}

func (r *PatronRequests) Insert(ctx context.Context, pr model.PatronRequest) error {
	now := time.Now().UnixNano()
	_, err := r.db.ExecContext(ctx, `
INSERT INTO patron_requests(`+patronRequestColumns+`)
VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?);
`,
		pr.ID, pr.Status, pr.PreviousStatus, pr.PatronID, pr.PatronHostLMSCode,
		pr.HomeLibraryCode, pr.HomeAgencyCode, pr.BibClusterID,
		pr.PickupLocationCode, pr.PickupLocationContext, pr.Description,
		pr.LocalRequestID, pr.LocalItemID, pr.LocalBibID, pr.LocalStatus,
		pr.PickupRequestID, pr.PickupItemID, pr.PickupBibID, pr.PickupPatronID,
		pr.ActiveWorkflow, pr.ResolutionCount, pr.RenewalCount, pr.LocalHoldCount,
		pr.ErrorMessage, now, now,
	)
	return err
}

func (r *PatronRequests) Get(ctx context.Context, id string) (model.PatronRequest, error) {
	pr, err := scanPatronRequest(r.db.QueryRowContext(ctx, `
SELECT `+patronRequestColumns+` FROM patron_requests WHERE id = ?;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.PatronRequest{}, ErrNotFound
	}
	return pr, err
}

// Update rewrites every mutable column. Callers hold the workflow lock, so
// last-write-wins is safe here.
func (r *PatronRequests) Update(ctx context.Context, pr model.PatronRequest) error {
	now := time.Now().UnixNano()
	res, err := r.db.ExecContext(ctx, `
UPDATE patron_requests SET
  status = ?, previous_status = ?, home_agency_code = ?,
  pickup_location_context = ?,
  local_request_id = ?, local_item_id = ?, local_bib_id = ?, local_status = ?,
  pickup_request_id = ?, pickup_item_id = ?, pickup_bib_id = ?, pickup_patron_id = ?,
  active_workflow = ?, resolution_count = ?, renewal_count = ?, local_hold_count = ?,
  error_message = ?, updated_at_ns = ?
WHERE id = ?;
`,
		pr.Status, pr.PreviousStatus, pr.HomeAgencyCode,
		pr.PickupLocationContext,
		pr.LocalRequestID, pr.LocalItemID, pr.LocalBibID, pr.LocalStatus,
		pr.PickupRequestID, pr.PickupItemID, pr.PickupBibID, pr.PickupPatronID,
		pr.ActiveWorkflow, pr.ResolutionCount, pr.RenewalCount, pr.LocalHoldCount,
		pr.ErrorMessage, now, pr.ID,
	)
	if err != nil {
		return err
	}
	if aff, _ := res.RowsAffected(); aff == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateLocalStatus writes only the mirrored local_status column. The
// tracking sweep runs outside the workflow lock, so it must not touch any
// column a transition handler owns.
func (r *PatronRequests) UpdateLocalStatus(ctx context.Context, id, localStatus string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE patron_requests SET local_status = ?, updated_at_ns = ? WHERE id = ?;
`, localStatus, time.Now().UnixNano(), id)
	if err != nil {
		return err
	}
	if aff, _ := res.RowsAffected(); aff == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByStatuses returns requests whose status is in the given set,
// oldest first. Used by the tracking sweep.
func (r *PatronRequests) ListByStatuses(ctx context.Context, statuses []model.Status, limit int) ([]model.PatronRequest, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + patronRequestColumns + ` FROM patron_requests WHERE status IN (?`
	args := []interface{}{string(statuses[0])}
	for _, s := range statuses[1:] {
		q += ",?"
		args = append(args, string(s))
	}
	q += `) ORDER BY updated_at_ns ASC LIMIT ?;`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PatronRequest
	for rows.Next() {
		pr, err := scanPatronRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}

// CountActive counts non-terminal requests, optionally scoped to one home
// agency. Used by the preflight request-limit checks.
func (r *PatronRequests) CountActive(ctx context.Context, agencyCode string) (int, error) {
	terminal := []interface{}{
		string(model.StatusFinalised), string(model.StatusHandedOffAsLocal),
		string(model.StatusCancelled), string(model.StatusNoItemsSelectable),
	}
	q := `SELECT COUNT(*) FROM patron_requests WHERE status NOT IN (?,?,?,?)`
	args := terminal
	if agencyCode != "" {
		q += ` AND home_agency_code = ?`
		args = append(args, agencyCode)
	}
	var n int
	err := r.db.QueryRowContext(ctx, q+";", args...).Scan(&n)
	return n, err
}

// FindDuplicate looks for a live request by the same patron for the same
// cluster created inside the suppression window.
func (r *PatronRequests) FindDuplicate(ctx context.Context, patronID, clusterID string, window time.Duration) (model.PatronRequest, bool, error) {
	cutoff := time.Now().Add(-window).UnixNano()
	pr, err := scanPatronRequest(r.db.QueryRowContext(ctx, `
SELECT `+patronRequestColumns+` FROM patron_requests
WHERE patron_id = ? AND bib_cluster_id = ?
  AND status NOT IN (?,?,?,?)
  AND created_at_ns > ?
ORDER BY created_at_ns DESC LIMIT 1;`,
		patronID, clusterID,
		string(model.StatusFinalised), string(model.StatusHandedOffAsLocal),
		string(model.StatusCancelled), string(model.StatusNoItemsSelectable),
		cutoff,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return model.PatronRequest{}, false, nil
	}
	if err != nil {
		return model.PatronRequest{}, false, err
	}
	return pr, true, nil
}
