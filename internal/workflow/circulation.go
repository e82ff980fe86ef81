package workflow

import (
	"context"

	"github.com/openlibraryenvironment/dcb-service-sub002/internal/model"
)

// The circulation transitions below are driven by local-status changes the
// tracking jobs mirror onto the request and its supplier request. Their
// attempts carry no external side effects; the external world already
// moved, these record it.

// MarkPickupTransit fires when the supplying system reports the item in
// transit. PICKUP_ANYWHERE requests must have completed the third-party
// placement first.
type MarkPickupTransit struct {
	d Deps
}

func (a *MarkPickupTransit) Name() string { return "MarkPickupTransit" }

func (a *MarkPickupTransit) Applicable(wc *Context) bool {
	if !wc.HasSupplier || wc.Supplier.LocalStatus != model.LocalStatusTransit {
		return false
	}
	s := wc.EffectiveStatus()
	if wc.Request.ActiveWorkflow == model.WorkflowPickupAnywhere {
		return s == model.StatusPlacedAtPickup
	}
	return wc.Request.ActiveWorkflow == model.WorkflowStandard && s == model.StatusPlacedAtBorrower
}

func (a *MarkPickupTransit) Attempt(_ context.Context, wc *Context) (model.PatronRequest, map[string]interface{}, error) {
	pr := wc.Request
	pr.Status = model.StatusPickupTransit
	return pr, map[string]interface{}{"supplierLocalStatus": wc.Supplier.LocalStatus}, nil
}

// MarkReceived fires when the pickup-side system reports the virtual item
// arrived.
type MarkReceived struct {
	d Deps
}

func (a *MarkReceived) Name() string { return "MarkReceived" }

func (a *MarkReceived) Applicable(wc *Context) bool {
	return wc.EffectiveStatus() == model.StatusPickupTransit &&
		wc.Request.LocalStatus == model.LocalStatusReceived
}

func (a *MarkReceived) Attempt(_ context.Context, wc *Context) (model.PatronRequest, map[string]interface{}, error) {
	pr := wc.Request
	pr.Status = model.StatusReceivedAtPickup
	return pr, nil, nil
}

// MarkReady fires when the item reaches the hold shelf.
type MarkReady struct {
	d Deps
}

func (a *MarkReady) Name() string { return "MarkReady" }

func (a *MarkReady) Applicable(wc *Context) bool {
	return wc.EffectiveStatus() == model.StatusReceivedAtPickup &&
		wc.Request.LocalStatus == model.LocalStatusHoldShelf
}

func (a *MarkReady) Attempt(_ context.Context, wc *Context) (model.PatronRequest, map[string]interface{}, error) {
	pr := wc.Request
	pr.Status = model.StatusReadyForPickup
	return pr, nil, nil
}

// MarkLoaned fires when the patron checks the item out. On the EXPEDITED
// path the lender and pickup share a system, so the loan follows borrower
// placement directly with no transit leg.
type MarkLoaned struct {
	d Deps
}

func (a *MarkLoaned) Name() string { return "MarkLoaned" }

func (a *MarkLoaned) Applicable(wc *Context) bool {
	s := wc.EffectiveStatus()
	if wc.Request.ActiveWorkflow == model.WorkflowExpedited {
		return s == model.StatusPlacedAtBorrower &&
			wc.HasSupplier &&
			wc.Supplier.LocalStatus == model.LocalStatusLoaned
	}
	return s == model.StatusReadyForPickup &&
		wc.Request.LocalStatus == model.LocalStatusLoaned
}

func (a *MarkLoaned) Attempt(_ context.Context, wc *Context) (model.PatronRequest, map[string]interface{}, error) {
	pr := wc.Request
	pr.Status = model.StatusLoaned
	return pr, nil, nil
}

// MarkReturnTransit fires when the borrowed item is checked back in at the
// pickup side and starts its journey home.
type MarkReturnTransit struct {
	d Deps
}

func (a *MarkReturnTransit) Name() string { return "MarkReturnTransit" }

func (a *MarkReturnTransit) Applicable(wc *Context) bool {
	if wc.EffectiveStatus() != model.StatusLoaned {
		return false
	}
	if wc.Request.ActiveWorkflow == model.WorkflowExpedited {
		return wc.HasSupplier && wc.Supplier.LocalStatus == model.LocalStatusTransit
	}
	return wc.Request.LocalStatus == model.LocalStatusAvailable
}

func (a *MarkReturnTransit) Attempt(_ context.Context, wc *Context) (model.PatronRequest, map[string]interface{}, error) {
	pr := wc.Request
	pr.Status = model.StatusReturnTransit
	return pr, nil, nil
}

// Complete fires when the supplying system reports its item back on the
// shelf.
type Complete struct {
	d Deps
}

func (a *Complete) Name() string { return "Complete" }

func (a *Complete) Applicable(wc *Context) bool {
	return wc.EffectiveStatus() == model.StatusReturnTransit &&
		wc.HasSupplier &&
		wc.Supplier.LocalStatus == model.LocalStatusAvailable
}

func (a *Complete) Attempt(_ context.Context, wc *Context) (model.PatronRequest, map[string]interface{}, error) {
	pr := wc.Request
	pr.Status = model.StatusCompleted
	return pr, map[string]interface{}{"supplierAgency": wc.Supplier.AgencyCode}, nil
}
