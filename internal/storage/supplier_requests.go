package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/openlibraryenvironment/dcb-service-sub002/internal/model"
)

// SupplierRequests persists the live supplier candidate per request plus
// the archive of superseded candidates.
type SupplierRequests struct {
	db *sql.DB
}

func NewSupplierRequests(db *sql.DB) *SupplierRequests {
	return &SupplierRequests{db: db}
}

const supplierRequestColumns = `
id, patron_request_id, agency_code, host_lms_code, local_item_id, local_bib_id,
local_holding_id, local_item_barcode, local_item_location, call_number,
virtual_patron_id, local_request_id, status_code, local_status,
created_at_ns, updated_at_ns`

func scanSupplierRequest(row interface{ Scan(...interface{}) error }) (model.SupplierRequest, error) {
	var sr model.SupplierRequest
	var createdNs, updatedNs int64
	err := row.Scan(
		&sr.ID, &sr.PatronRequestID, &sr.AgencyCode, &sr.HostLMSCode,
		&sr.LocalItemID, &sr.LocalBibID, &sr.LocalHoldingID, &sr.LocalItemBarcode,
		&sr.LocalItemLocation, &sr.CallNumber,
		&sr.VirtualPatronID, &sr.LocalRequestID, &sr.StatusCode, &sr.LocalStatus,
		&createdNs, &updatedNs,
	)
	if err != nil {
		return model.SupplierRequest{}, err
	}
	sr.CreatedAt = time.Unix(0, createdNs)
	sr.UpdatedAt = time.Unix(0, updatedNs)
	return sr, nil
}

func (r *SupplierRequests) Insert(ctx context.Context, sr model.SupplierRequest) error {
	now := time.Now().UnixNano()
	_, err := r.db.ExecContext(ctx, `
INSERT INTO supplier_requests(`+supplierRequestColumns+`)
VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?);
`,
		sr.ID, sr.PatronRequestID, sr.AgencyCode, sr.HostLMSCode,
		sr.LocalItemID, sr.LocalBibID, sr.LocalHoldingID, sr.LocalItemBarcode,
		sr.LocalItemLocation, sr.CallNumber,
		sr.VirtualPatronID, sr.LocalRequestID, sr.StatusCode, sr.LocalStatus,
		now, now,
	)
	return err
}

func (r *SupplierRequests) Update(ctx context.Context, sr model.SupplierRequest) error {
	now := time.Now().UnixNano()
	res, err := r.db.ExecContext(ctx, `
UPDATE supplier_requests SET
  local_item_id = ?, local_bib_id = ?, local_holding_id = ?,
  local_item_barcode = ?, local_item_location = ?, call_number = ?,
  virtual_patron_id = ?, local_request_id = ?, status_code = ?, local_status = ?,
  updated_at_ns = ?
WHERE id = ?;
`,
		sr.LocalItemID, sr.LocalBibID, sr.LocalHoldingID,
		sr.LocalItemBarcode, sr.LocalItemLocation, sr.CallNumber,
		sr.VirtualPatronID, sr.LocalRequestID, sr.StatusCode, sr.LocalStatus,
		now, sr.ID,
	)
	if err != nil {
		return err
	}
	if aff, _ := res.RowsAffected(); aff == 0 {
		return ErrNotFound
	}
	return nil
}

// Active returns the live supplier request for a patron request, if any.
func (r *SupplierRequests) Active(ctx context.Context, patronRequestID string) (model.SupplierRequest, bool, error) {
	sr, err := scanSupplierRequest(r.db.QueryRowContext(ctx, `
SELECT `+supplierRequestColumns+` FROM supplier_requests WHERE patron_request_id = ?;`,
		patronRequestID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.SupplierRequest{}, false, nil
	}
	if err != nil {
		return model.SupplierRequest{}, false, err
	}
	return sr, true, nil
}

// Archive moves the live supplier request into the inactive history. The
// delete and the history insert commit together so a request never has two
// live suppliers.
func (r *SupplierRequests) Archive(ctx context.Context, sr model.SupplierRequest, resolutionSeq int, reason string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO inactive_supplier_requests(
  id, patron_request_id, agency_code, host_lms_code, local_item_id, local_bib_id,
  resolution_seq, reason, archived_at_ns)
VALUES(?,?,?,?,?,?,?,?,?);
`,
		sr.ID, sr.PatronRequestID, sr.AgencyCode, sr.HostLMSCode,
		sr.LocalItemID, sr.LocalBibID, resolutionSeq, reason, time.Now().UnixNano(),
	); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM supplier_requests WHERE id = ?;`, sr.ID); err != nil {
		return err
	}

	return tx.Commit()
}

// ExcludedSuppliers returns the (hostLMS, localItemID) pairs already tried
// and archived for a request, so re-resolution skips them.
func (r *SupplierRequests) ExcludedSuppliers(ctx context.Context, patronRequestID string) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT host_lms_code, local_item_id FROM inactive_supplier_requests
WHERE patron_request_id = ?;`, patronRequestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var system, itemID string
		if err := rows.Scan(&system, &itemID); err != nil {
			return nil, err
		}
		out[system+"/"+itemID] = true
	}
	return out, rows.Err()
}
