package locks

import (
	"context"
	"database/sql"
	"time"

	"github.com/openlibraryenvironment/dcb-service-sub002/internal/obs"
)

// Sweeper periodically clears expired leases so the lock table does not
// accumulate rows for crashed holders, and counts them for the expiry
// metric.
type Sweeper struct {
	db       *sql.DB
	logger   *obs.Logger
	metrics  *obs.Metrics
	interval time.Duration
}

func NewSweeper(db *sql.DB, logger *obs.Logger, metrics *obs.Metrics, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{db: db, logger: logger, metrics: metrics, interval: interval}
}

func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	s.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	if err := s.SweepOnce(ctx); err != nil && s.logger != nil {
		s.logger.Error(map[string]interface{}{"op": "lock.sweep", "error": err.Error()})
	}
}

// SweepOnce clears every expired lease currently in the table.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	nowNs := time.Now().UnixNano()

	res, err := s.db.ExecContext(ctx, `
UPDATE workflow_locks
SET lease_id = NULL, owner_id = NULL, lease_expiry_ns = 0, updated_at_ns = ?
WHERE lease_id IS NOT NULL AND lease_expiry_ns <= ?;
`, nowNs, nowNs)
	if err != nil {
		return err
	}

	expired, _ := res.RowsAffected()
	if expired > 0 {
		if s.metrics != nil {
			s.metrics.ExpiredLeases.Add(float64(expired))
			s.metrics.RequestsInFlight.Sub(float64(expired))
		}
		if s.logger != nil {
			s.logger.Warn(map[string]interface{}{"op": "lock.sweep", "expired": expired})
		}
	}
	return nil
}
