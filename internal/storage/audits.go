package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/openlibraryenvironment/dcb-service-sub002/internal/model"
)

// Audits is the append-only store behind the audit trail. Rows are never
// updated or deleted.
type Audits struct {
	db *sql.DB
}

func NewAudits(db *sql.DB) *Audits {
	return &Audits{db: db}
}

func (r *Audits) Append(ctx context.Context, a model.Audit) error {
	data := a.Data
	if data == nil {
		data = map[string]interface{}{}
	}
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO patron_request_audits(id, patron_request_id, from_status, to_status, description, data, ts_ns)
VALUES(?,?,?,?,?,?,?);
`,
		a.ID, a.PatronRequestID, a.FromStatus, a.ToStatus, a.Description, string(b), a.Timestamp.UnixNano(),
	)
	return err
}

// List returns a request's audit trail ordered by timestamp ascending.
func (r *Audits) List(ctx context.Context, patronRequestID string) ([]model.Audit, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, patron_request_id, from_status, to_status, description, data, ts_ns
FROM patron_request_audits
WHERE patron_request_id = ?
ORDER BY ts_ns ASC;`, patronRequestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Audit
	for rows.Next() {
		var a model.Audit
		var data string
		var tsNs int64
		if err := rows.Scan(&a.ID, &a.PatronRequestID, &a.FromStatus, &a.ToStatus, &a.Description, &data, &tsNs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &a.Data); err != nil {
			a.Data = map[string]interface{}{"unparsed": data}
		}
		a.Timestamp = time.Unix(0, tsNs)
		out = append(out, a)
	}
	return out, rows.Err()
}
