// Package tracking polls external systems for local state changes and
// feeds them back into the workflow engine. Each sweep is best effort: a
// system that fails to answer is logged and skipped, and the affected
// request is simply picked up again next sweep.
package tracking

import (
	"context"
	"time"

	"github.com/openlibraryenvironment/dcb-service-sub002/internal/hostlms"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/model"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/obs"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/storage"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/workflow"
)

type Tracker struct {
	requests  *storage.PatronRequests
	suppliers *storage.SupplierRequests
	clients   *hostlms.Registry
	orch      *workflow.Orchestrator
	logger    *obs.Logger
	interval  time.Duration
	batch     int
}

func NewTracker(requests *storage.PatronRequests, suppliers *storage.SupplierRequests, clients *hostlms.Registry, orch *workflow.Orchestrator, logger *obs.Logger, interval time.Duration) *Tracker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Tracker{
		requests:  requests,
		suppliers: suppliers,
		clients:   clients,
		orch:      orch,
		logger:    logger,
		interval:  interval,
		batch:     100,
	}
}

func (t *Tracker) Run(ctx context.Context) {
	tick := time.NewTicker(t.interval)
	defer tick.Stop()

	t.sweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			t.sweepOnce(ctx)
		}
	}
}

var trackableStatuses = []model.Status{
	model.StatusPlacedAtSupplier,
	model.StatusPlacedAtBorrower,
	model.StatusPlacedAtPickup,
	model.StatusPickupTransit,
	model.StatusReceivedAtPickup,
	model.StatusReadyForPickup,
	model.StatusLoaned,
	model.StatusReturnTransit,
}

func (t *Tracker) sweepOnce(ctx context.Context) {
	prs, err := t.requests.ListByStatuses(ctx, trackableStatuses, t.batch)
	if err != nil {
		if t.logger != nil {
			t.logger.Error(map[string]interface{}{"op": "tracking.list", "error": err.Error()})
		}
		return
	}

	for _, pr := range prs {
		changed := t.poll(ctx, pr)
		if !changed {
			continue
		}
		if _, err := t.orch.Progress(ctx, pr.ID); err != nil && t.logger != nil {
			t.logger.Warn(map[string]interface{}{
				"op":      "tracking.progress",
				"request": pr.ID,
				"error":   err.Error(),
			})
		}
	}
}

// poll refreshes the mirrored local statuses for one request and reports
// whether anything moved. The sweep runs outside the workflow lock, so the
// request write is restricted to the local_status column; every other
// column belongs to the transition handlers.
func (t *Tracker) poll(ctx context.Context, pr model.PatronRequest) bool {
	changed := false

	if sr, ok, err := t.suppliers.Active(ctx, pr.ID); err == nil && ok && sr.LocalRequestID != "" {
		if client, err := t.clients.Get(sr.HostLMSCode); err == nil {
			if status, ok := t.supplierLocalStatus(ctx, client, sr); ok && status != sr.LocalStatus {
				sr.LocalStatus = status
				if status == model.LocalStatusAccepted {
					sr.StatusCode = model.SupplierAccepted
				}
				if err := t.suppliers.Update(ctx, sr); err == nil {
					changed = true
				}
			}
		}
	}

	if pr.LocalItemID != "" {
		if client, err := t.clients.Get(pr.PatronHostLMSCode); err == nil {
			if item, ierr := client.GetItem(ctx, pr.LocalItemID); ierr == nil && item.StatusCode != pr.LocalStatus {
				if err := t.requests.UpdateLocalStatus(ctx, pr.ID, item.StatusCode); err == nil {
					changed = true
				}
			}
		}
	}

	return changed
}

// supplierLocalStatus prefers the hold's status while the hold is live and
// falls back to the item once the hold is done, because circulation
// activity after checkout shows up on the item, not the hold.
func (t *Tracker) supplierLocalStatus(ctx context.Context, client hostlms.Client, sr model.SupplierRequest) (string, bool) {
	hold, err := client.GetHold(ctx, sr.LocalRequestID)
	if err == nil && hold.LocalStatus != "" {
		return hold.LocalStatus, true
	}

	if sr.LocalItemID != "" {
		if item, ierr := client.GetItem(ctx, sr.LocalItemID); ierr == nil {
			return item.StatusCode, true
		}
	}

	if t.logger != nil && err != nil {
		t.logger.Warn(map[string]interface{}{
			"op":       "tracking.poll",
			"system":   sr.HostLMSCode,
			"supplier": sr.ID,
			"error":    err.Error(),
		})
	}
	return "", false
}
