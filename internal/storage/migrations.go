package storage

import (
	"context"
	"database/sql"
	"fmt"
)

func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at_ns INTEGER NOT NULL
);
`); err != nil {
		return err
	}

	const latest = 1

	cur, err := currentVersion(ctx, d.DB)
	if err != nil {
		return err
	}
	for v := cur + 1; v <= latest; v++ {
		if err := apply(ctx, d.DB, v); err != nil {
			return err
		}
	}
	return nil
}

func currentVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations;`).Scan(&v); err != nil {
		return 0, err
	}
	if !v.Valid {
		return 0, nil
	}
	return int(v.Int64), nil
}

func apply(ctx context.Context, db *sql.DB, version int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	switch version {
	case 1:
		if _, err := tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS patron_requests (
  id TEXT PRIMARY KEY,
  status TEXT NOT NULL,
  previous_status TEXT NOT NULL DEFAULT '',
  patron_id TEXT NOT NULL,
  patron_host_lms_code TEXT NOT NULL,
  home_library_code TEXT NOT NULL DEFAULT '',
  home_agency_code TEXT NOT NULL DEFAULT '',
  bib_cluster_id TEXT NOT NULL,
  pickup_location_code TEXT NOT NULL,
  pickup_location_context TEXT NOT NULL DEFAULT '',
  description TEXT NOT NULL DEFAULT '',
  local_request_id TEXT NOT NULL DEFAULT '',
  local_item_id TEXT NOT NULL DEFAULT '',
  local_bib_id TEXT NOT NULL DEFAULT '',
  local_status TEXT NOT NULL DEFAULT '',
  pickup_request_id TEXT NOT NULL DEFAULT '',
  pickup_item_id TEXT NOT NULL DEFAULT '',
  pickup_bib_id TEXT NOT NULL DEFAULT '',
  pickup_patron_id TEXT NOT NULL DEFAULT '',
  active_workflow TEXT NOT NULL DEFAULT '',
  resolution_count INTEGER NOT NULL DEFAULT 0,
  renewal_count INTEGER NOT NULL DEFAULT 0,
  local_hold_count INTEGER NOT NULL DEFAULT 0,
  error_message TEXT NOT NULL DEFAULT '',
  created_at_ns INTEGER NOT NULL,
  updated_at_ns INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_patron_requests_status ON patron_requests(status);
CREATE INDEX IF NOT EXISTS idx_patron_requests_patron ON patron_requests(patron_id, bib_cluster_id);

CREATE TABLE IF NOT EXISTS supplier_requests (
  id TEXT PRIMARY KEY,
  patron_request_id TEXT NOT NULL REFERENCES patron_requests(id),
  agency_code TEXT NOT NULL,
  host_lms_code TEXT NOT NULL,
  local_item_id TEXT NOT NULL DEFAULT '',
  local_bib_id TEXT NOT NULL DEFAULT '',
  local_holding_id TEXT NOT NULL DEFAULT '',
  local_item_barcode TEXT NOT NULL DEFAULT '',
  local_item_location TEXT NOT NULL DEFAULT '',
  call_number TEXT NOT NULL DEFAULT '',
  virtual_patron_id TEXT NOT NULL DEFAULT '',
  local_request_id TEXT NOT NULL DEFAULT '',
  status_code TEXT NOT NULL,
  local_status TEXT NOT NULL DEFAULT '',
  created_at_ns INTEGER NOT NULL,
  updated_at_ns INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_supplier_requests_request ON supplier_requests(patron_request_id);

CREATE TABLE IF NOT EXISTS inactive_supplier_requests (
  id TEXT PRIMARY KEY,
  patron_request_id TEXT NOT NULL,
  agency_code TEXT NOT NULL,
  host_lms_code TEXT NOT NULL,
  local_item_id TEXT NOT NULL DEFAULT '',
  local_bib_id TEXT NOT NULL DEFAULT '',
  resolution_seq INTEGER NOT NULL,
  reason TEXT NOT NULL DEFAULT '',
  archived_at_ns INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_inactive_supplier_request ON inactive_supplier_requests(patron_request_id);

CREATE TABLE IF NOT EXISTS patron_request_audits (
  id TEXT PRIMARY KEY,
  patron_request_id TEXT NOT NULL,
  from_status TEXT NOT NULL,
  to_status TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  data TEXT NOT NULL DEFAULT '{}',
  ts_ns INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audits_request ON patron_request_audits(patron_request_id, ts_ns);

CREATE TABLE IF NOT EXISTS agencies (
  code TEXT PRIMARY KEY,
  name TEXT NOT NULL DEFAULT '',
  host_lms_code TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS locations (
  id TEXT PRIMARY KEY,
  code TEXT NOT NULL,
  agency_code TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_locations_code ON locations(code);

CREATE TABLE IF NOT EXISTS reference_value_mappings (
  category TEXT NOT NULL,
  from_context TEXT NOT NULL,
  from_value TEXT NOT NULL,
  to_context TEXT NOT NULL,
  to_value TEXT NOT NULL,
  PRIMARY KEY (category, from_context, from_value, to_context)
);

CREATE TABLE IF NOT EXISTS location_to_agency (
  context TEXT NOT NULL,
  code TEXT NOT NULL,
  agency_code TEXT NOT NULL,
  PRIMARY KEY (context, code)
);

CREATE TABLE IF NOT EXISTS workflow_locks (
  lock_name TEXT PRIMARY KEY,
  lease_id TEXT,
  owner_id TEXT,
  lease_expiry_ns INTEGER NOT NULL,
  created_at_ns INTEGER NOT NULL,
  updated_at_ns INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_workflow_locks_expiry ON workflow_locks(lease_expiry_ns);
`); err != nil {
			return fmt.Errorf("migration v1 failed: %w", err)
		}
	default:
		return fmt.Errorf("unknown migration version: %d", version)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at_ns) VALUES(?, strftime('%s','now')*1000000000);`, version); err != nil {
		return err
	}
	return tx.Commit()
}
