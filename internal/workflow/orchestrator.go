package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/openlibraryenvironment/dcb-service-sub002/internal/locks"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/model"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/obs"
)

// LockKey names the per-request workflow lock.
func LockKey(requestID string) string {
	return "patron-request-workflow-" + requestID
}

// Orchestrator drives a request through its transition graph. At most one
// transition attempt runs concurrently per request id, enforced by the
// named lock; everything else about the engine follows from that.
type Orchestrator struct {
	deps    Deps
	actions []Action
	builder *Builder
	auditor *Auditor
	locks   *locks.Service
	lockTTL time.Duration
	ownerID string
	logger  *obs.Logger
	metrics *obs.Metrics
}

func NewOrchestrator(deps Deps, builder *Builder, auditor *Auditor, lockSvc *locks.Service, lockTTL time.Duration, ownerID string, logger *obs.Logger, metrics *obs.Metrics) *Orchestrator {
	if lockTTL <= 0 {
		lockTTL = 2 * time.Minute
	}
	return &Orchestrator{
		deps:    deps,
		actions: DefaultActions(deps),
		builder: builder,
		auditor: auditor,
		locks:   lockSvc,
		lockTTL: lockTTL,
		ownerID: ownerID,
		logger:  logger,
		metrics: metrics,
	}
}

func (o *Orchestrator) observe(action, result string, start time.Time) {
	if o.metrics == nil {
		return
	}
	o.metrics.TransitionTotal.WithLabelValues(action, result).Inc()
	o.metrics.TransitionLatencyMS.WithLabelValues(action).Observe(float64(time.Since(start).Milliseconds()))
}

// Initiate starts the loop for a freshly persisted request, applying
// transitions until none is applicable or a terminal status is reached.
// The hop bound keeps a guard bug from looping forever.
func (o *Orchestrator) Initiate(ctx context.Context, requestID string) (model.PatronRequest, error) {
	var pr model.PatronRequest
	var err error
	for hops := 0; hops < model.StatusCount; hops++ {
		var progressed bool
		pr, progressed, err = o.progressOnce(ctx, requestID)
		if err != nil {
			return pr, err
		}
		if !progressed || model.IsTerminal(pr.Status) {
			return pr, nil
		}
	}
	return pr, nil
}

// Progress applies at most one transition. Lock contention and "no
// applicable transition" both return the request unchanged with a nil
// error.
func (o *Orchestrator) Progress(ctx context.Context, requestID string) (model.PatronRequest, error) {
	pr, _, err := o.progressOnce(ctx, requestID)
	return pr, err
}

func (o *Orchestrator) progressOnce(ctx context.Context, requestID string) (model.PatronRequest, bool, error) {
	lease, ok, err := o.locks.TryAcquire(ctx, LockKey(requestID), o.ownerID, o.lockTTL)
	if err != nil {
		return model.PatronRequest{}, false, err
	}
	if !ok {
		// Another worker is progressing this request; a benign skip.
		pr, err := o.deps.Requests.Get(ctx, requestID)
		return pr, false, err
	}
	defer func() { _ = o.locks.Release(ctx, lease) }()

	wc, err := o.builder.Build(ctx, requestID)
	if err != nil {
		return model.PatronRequest{}, false, err
	}

	if model.IsTerminal(wc.Request.Status) {
		return wc.Request, false, nil
	}

	action := o.selectAction(wc)
	if action == nil {
		// Not currently progressible: the external world has not moved
		// yet. Left untouched by design.
		return wc.Request, false, nil
	}

	return o.attempt(ctx, wc, action)
}

// selectAction returns the first registered handler whose guard matches
// the context, provided the status it would leave is on the workflow's
// expected path.
func (o *Orchestrator) selectAction(wc *Context) Action {
	for _, a := range o.actions {
		if a.Applicable(wc) {
			return a
		}
	}
	return nil
}

func (o *Orchestrator) attempt(ctx context.Context, wc *Context, action Action) (model.PatronRequest, bool, error) {
	start := time.Now()
	from := wc.Request.Status

	updated, data, err := action.Attempt(ctx, wc)
	if err != nil {
		return o.fail(ctx, wc, action, updated, from, data, err, start)
	}

	if !model.ValidEdge(updated.ActiveWorkflow, from, updated.Status) {
		err := fmt.Errorf("transition %s produced invalid edge %s -> %s (workflow %s)",
			action.Name(), from, updated.Status, updated.ActiveWorkflow)
		return o.fail(ctx, wc, action, updated, from, data, err, start)
	}

	if updated.Status != model.StatusError {
		updated.PreviousStatus = ""
		updated.ErrorMessage = ""
	}
	if err := o.deps.Requests.Update(ctx, updated); err != nil {
		return o.fail(ctx, wc, action, updated, from, data, err, start)
	}

	desc := action.Name()
	if len(wc.Messages) > 0 {
		if data == nil {
			data = map[string]interface{}{}
		}
		data["contextMessages"] = wc.Messages
	}
	if aerr := o.auditor.Record(ctx, updated.ID, from, updated.Status, desc, data); aerr != nil && o.logger != nil {
		o.logger.Error(map[string]interface{}{
			"op":      "workflow.audit",
			"request": updated.ID,
			"error":   aerr.Error(),
		})
	}

	o.observe(action.Name(), "success", start)
	if o.logger != nil {
		o.logger.Info(map[string]interface{}{
			"op":      "workflow.transition",
			"request": updated.ID,
			"action":  action.Name(),
			"from":    string(from),
			"to":      string(updated.Status),
		})
	}

	return updated, updated.Status != from, nil
}

// fail persists the ERROR status and its audit row before propagating the
// cause: the durable record outranks exactly-once semantics. The partial
// mutations the handler made (ids of records it created before failing)
// are kept so a retry does not re-create them.
func (o *Orchestrator) fail(ctx context.Context, wc *Context, action Action, partial model.PatronRequest, from model.Status, data map[string]interface{}, cause error, start time.Time) (model.PatronRequest, bool, error) {
	pr := partial
	if pr.ID == "" {
		pr = wc.Request
	}
	if from != model.StatusError {
		pr.PreviousStatus = from
	} else {
		pr.PreviousStatus = wc.Request.PreviousStatus
	}
	pr.Status = model.StatusError
	pr.ErrorMessage = cause.Error()

	if uerr := o.deps.Requests.Update(ctx, pr); uerr != nil && o.logger != nil {
		o.logger.Error(map[string]interface{}{
			"op":      "workflow.error_persist",
			"request": pr.ID,
			"error":   uerr.Error(),
		})
	}

	if data == nil {
		data = map[string]interface{}{}
	}
	data["cause"] = cause.Error()
	if len(wc.Messages) > 0 {
		data["contextMessages"] = wc.Messages
	}
	desc := action.Name() + " failed: " + cause.Error()
	if aerr := o.auditor.Record(ctx, pr.ID, from, model.StatusError, desc, data); aerr != nil && o.logger != nil {
		o.logger.Error(map[string]interface{}{
			"op":      "workflow.audit",
			"request": pr.ID,
			"error":   aerr.Error(),
		})
	}

	o.observe(action.Name(), "error", start)
	return pr, false, cause
}

// Cancel is the explicit cancellation operation. It runs under the same
// per-request lock as Progress, cancels the supplier hold when one was
// placed, archives the supplier request and records the cancellation.
func (o *Orchestrator) Cancel(ctx context.Context, requestID, reason string) (model.PatronRequest, error) {
	lease, ok, err := o.locks.TryAcquire(ctx, LockKey(requestID), o.ownerID, o.lockTTL)
	if err != nil {
		return model.PatronRequest{}, err
	}
	if !ok {
		return model.PatronRequest{}, fmt.Errorf("request %s is busy, try again", requestID)
	}
	defer func() { _ = o.locks.Release(ctx, lease) }()

	wc, err := o.builder.Build(ctx, requestID)
	if err != nil {
		return model.PatronRequest{}, err
	}
	pr := wc.Request

	if !model.Cancellable(pr.Status) {
		return pr, fmt.Errorf("request %s in status %s cannot be cancelled", requestID, pr.Status)
	}

	data := map[string]interface{}{"reason": reason}
	if wc.HasSupplier {
		if wc.Supplier.LocalRequestID != "" && wc.LenderClient != nil {
			if cerr := wc.LenderClient.CancelHold(ctx, wc.Supplier.LocalRequestID); cerr != nil {
				data["supplierCancelError"] = cerr.Error()
			}
		}
		if aerr := o.deps.Suppliers.Archive(ctx, wc.Supplier, pr.ResolutionCount, "request cancelled"); aerr != nil {
			return pr, aerr
		}
	}
	if pr.LocalRequestID != "" && wc.BorrowerClient != nil {
		if cerr := wc.BorrowerClient.CancelHold(ctx, pr.LocalRequestID); cerr != nil {
			data["borrowerCancelError"] = cerr.Error()
		}
	}

	from := pr.Status
	pr.Status = model.StatusCancelled
	pr.PreviousStatus = ""
	pr.ErrorMessage = ""
	if err := o.deps.Requests.Update(ctx, pr); err != nil {
		return pr, err
	}
	if aerr := o.auditor.Record(ctx, pr.ID, from, model.StatusCancelled, "Cancelled: "+reason, data); aerr != nil && o.logger != nil {
		o.logger.Error(map[string]interface{}{
			"op":      "workflow.audit",
			"request": pr.ID,
			"error":   aerr.Error(),
		})
	}
	return pr, nil
}
