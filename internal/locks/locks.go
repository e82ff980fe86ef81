// Package locks provides the named lock that serializes workflow activity
// per patron request. The lock lives in the same sqlite database as the
// requests so any process sharing the database shares the locks.
//
// Contention is not an error here: a caller that cannot take the lock is
// expected to walk away and let the current holder make progress.
package locks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openlibraryenvironment/dcb-service-sub002/internal/obs"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/storage"
)

// Lease identifies one successful acquisition. Release checks the lease id
// so a holder whose lease expired and was taken over cannot release the new
// holder's lock.
type Lease struct {
	Key     string
	LeaseID string
	OwnerID string
	Expiry  time.Time
}

type Service struct {
	db      *sql.DB
	logger  *obs.Logger
	metrics *obs.Metrics
}

func NewService(db *sql.DB, logger *obs.Logger, metrics *obs.Metrics) *Service {
	return &Service{db: db, logger: logger, metrics: metrics}
}

func (s *Service) incLock(result string) {
	if s.metrics == nil {
		return
	}
	s.metrics.LockTotal.WithLabelValues(result).Inc()
}

// TryAcquire attempts to take the named lock for ttl. The second return
// value reports whether the lock was obtained; false with a nil error means
// another holder has it (or the store was briefly busy) and the caller
// should skip, not retry.
func (s *Service) TryAcquire(ctx context.Context, key, ownerID string, ttl time.Duration) (Lease, bool, error) {
	if key == "" || ownerID == "" {
		return Lease{}, false, fmt.Errorf("lock key and owner required")
	}
	if ttl <= 0 {
		return Lease{}, false, fmt.Errorf("ttl must be > 0")
	}

	now := time.Now()
	nowNs := now.UnixNano()
	expiry := now.Add(ttl)
	leaseID := uuid.NewString()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		if storage.IsBusy(err) {
			s.incLock("busy")
			return Lease{}, false, nil
		}
		return Lease{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	var curLease sql.NullString
	var curOwner sql.NullString
	var curExpNs int64
	err = tx.QueryRowContext(ctx, `
SELECT lease_id, owner_id, lease_expiry_ns FROM workflow_locks WHERE lock_name = ?;
`, key).Scan(&curLease, &curOwner, &curExpNs)

	notFound := errors.Is(err, sql.ErrNoRows)
	if err != nil && !notFound {
		if storage.IsBusy(err) {
			s.incLock("busy")
			return Lease{}, false, nil
		}
		return Lease{}, false, err
	}

	// Held and unexpired: someone else is progressing this request.
	if !notFound && curLease.Valid && curExpNs > nowNs {
		if err := tx.Commit(); err != nil && !storage.IsBusy(err) {
			return Lease{}, false, err
		}
		s.incLock("contended")
		if s.logger != nil {
			s.logger.Info(map[string]interface{}{
				"op":     "lock.skip",
				"key":    key,
				"owner":  ownerID,
				"holder": curOwner.String,
			})
		}
		return Lease{}, false, nil
	}

	// Free, absent, or expired: take it over.
	_, err = tx.ExecContext(ctx, `
INSERT INTO workflow_locks(lock_name, lease_id, owner_id, lease_expiry_ns, created_at_ns, updated_at_ns)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(lock_name) DO UPDATE SET
  lease_id = excluded.lease_id,
  owner_id = excluded.owner_id,
  lease_expiry_ns = excluded.lease_expiry_ns,
  updated_at_ns = excluded.updated_at_ns;
`, key, leaseID, ownerID, expiry.UnixNano(), nowNs, nowNs)
	if err != nil {
		if storage.IsBusy(err) {
			s.incLock("busy")
			return Lease{}, false, nil
		}
		return Lease{}, false, err
	}

	if err := tx.Commit(); err != nil {
		if storage.IsBusy(err) {
			s.incLock("busy")
			return Lease{}, false, nil
		}
		return Lease{}, false, err
	}

	s.incLock("acquired")
	if s.metrics != nil {
		// Taking over an expired lease ends it; the gauge counts live
		// leases, so the takeover is a wash.
		if !curLease.Valid {
			s.metrics.RequestsInFlight.Inc()
		}
	}
	return Lease{Key: key, LeaseID: leaseID, OwnerID: ownerID, Expiry: expiry}, true, nil
}

// Release frees the lock if the lease still owns it. Releasing a lease that
// expired and was reclaimed is a no-op, not an error.
func (s *Service) Release(ctx context.Context, lease Lease) error {
	if lease.Key == "" || lease.LeaseID == "" {
		return fmt.Errorf("lease key and id required")
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE workflow_locks
SET lease_id = NULL, owner_id = NULL, lease_expiry_ns = 0, updated_at_ns = ?
WHERE lock_name = ? AND lease_id = ?;
`, time.Now().UnixNano(), lease.Key, lease.LeaseID)
	if err != nil {
		return err
	}
	aff, _ := res.RowsAffected()
	if aff == 0 {
		// Already reclaimed by the sweeper or a takeover; the gauge was
		// settled when the lease ended.
		if s.logger != nil {
			s.logger.Warn(map[string]interface{}{
				"op":  "lock.release_lost",
				"key": lease.Key,
			})
		}
		return nil
	}
	if s.metrics != nil {
		s.metrics.RequestsInFlight.Dec()
	}
	return nil
}
