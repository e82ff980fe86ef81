package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/openlibraryenvironment/dcb-service-sub002/internal/model"
)

// Reference is the row store for agencies, locations and value mappings.
// This is configuration data loaded out of band; the workflow only reads it.
type Reference struct {
	db *sql.DB
}

func NewReference(db *sql.DB) *Reference {
	return &Reference{db: db}
}

func (r *Reference) GetAgency(ctx context.Context, code string) (model.Agency, error) {
	var a model.Agency
	err := r.db.QueryRowContext(ctx, `
SELECT code, name, host_lms_code FROM agencies WHERE code = ?;`, code).
		Scan(&a.Code, &a.Name, &a.HostLMSCode)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Agency{}, ErrNotFound
	}
	return a, err
}

func (r *Reference) UpsertAgency(ctx context.Context, a model.Agency) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO agencies(code, name, host_lms_code) VALUES(?,?,?)
ON CONFLICT(code) DO UPDATE SET name = excluded.name, host_lms_code = excluded.host_lms_code;
`, a.Code, a.Name, a.HostLMSCode)
	return err
}

func (r *Reference) GetLocationByID(ctx context.Context, id string) (model.Location, error) {
	var l model.Location
	err := r.db.QueryRowContext(ctx, `
SELECT id, code, agency_code FROM locations WHERE id = ?;`, id).
		Scan(&l.ID, &l.Code, &l.AgencyCode)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Location{}, ErrNotFound
	}
	return l, err
}

func (r *Reference) UpsertLocation(ctx context.Context, l model.Location) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO locations(id, code, agency_code) VALUES(?,?,?)
ON CONFLICT(id) DO UPDATE SET code = excluded.code, agency_code = excluded.agency_code;
`, l.ID, l.Code, l.AgencyCode)
	return err
}

func (r *Reference) FindMapping(ctx context.Context, category, fromContext, fromValue, toContext string) (string, error) {
	var v string
	err := r.db.QueryRowContext(ctx, `
SELECT to_value FROM reference_value_mappings
WHERE category = ? AND from_context = ? AND from_value = ? AND to_context = ?;`,
		category, fromContext, fromValue, toContext).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return v, err
}

func (r *Reference) UpsertMapping(ctx context.Context, category, fromContext, fromValue, toContext, toValue string) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO reference_value_mappings(category, from_context, from_value, to_context, to_value)
VALUES(?,?,?,?,?)
ON CONFLICT(category, from_context, from_value, to_context) DO UPDATE SET to_value = excluded.to_value;
`, category, fromContext, fromValue, toContext, toValue)
	return err
}

// FindLocationToAgency resolves a pickup-location symbol to an agency code,
// optionally scoped by a naming-authority context. With an empty context
// any single match wins; multiple matches across contexts are ambiguous.
func (r *Reference) FindLocationToAgency(ctx context.Context, context_, symbol string) (string, error) {
	if context_ != "" {
		var agency string
		err := r.db.QueryRowContext(ctx, `
SELECT agency_code FROM location_to_agency WHERE context = ? AND code = ?;`,
			context_, symbol).Scan(&agency)
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return agency, err
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT agency_code FROM location_to_agency WHERE code = ?;`, symbol)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var agencies []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return "", err
		}
		agencies = append(agencies, a)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	switch len(agencies) {
	case 0:
		return "", ErrNotFound
	case 1:
		return agencies[0], nil
	default:
		return "", errors.New("ambiguous location symbol: " + symbol)
	}
}

func (r *Reference) UpsertLocationToAgency(ctx context.Context, context_, code, agencyCode string) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO location_to_agency(context, code, agency_code) VALUES(?,?,?)
ON CONFLICT(context, code) DO UPDATE SET agency_code = excluded.agency_code;
`, context_, code, agencyCode)
	return err
}
