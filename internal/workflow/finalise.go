package workflow

import (
	"context"

	"github.com/openlibraryenvironment/dcb-service-sub002/internal/model"
)

// Finalise tears down the virtual records the request created at remote
// systems. Cleanup failures are recorded in the audit payload but never
// block finalisation.
type Finalise struct {
	d Deps
}

func (a *Finalise) Name() string { return "Finalise" }

func (a *Finalise) Applicable(wc *Context) bool {
	return wc.EffectiveStatus() == model.StatusCompleted
}

func (a *Finalise) Attempt(ctx context.Context, wc *Context) (model.PatronRequest, map[string]interface{}, error) {
	pr := wc.Request
	var cleanupErrors []string

	record := func(op string, err error) {
		if err != nil {
			cleanupErrors = append(cleanupErrors, op+": "+err.Error())
		}
	}

	if wc.BorrowerClient != nil {
		if pr.LocalRequestID != "" {
			record("cancel borrower hold", wc.BorrowerClient.CancelHold(ctx, pr.LocalRequestID))
		}
		if pr.LocalItemID != "" {
			record("delete virtual item", wc.BorrowerClient.DeleteItem(ctx, pr.LocalItemID))
		}
		if pr.LocalBibID != "" {
			record("delete virtual bib", wc.BorrowerClient.DeleteBib(ctx, pr.LocalBibID))
		}
	}

	if wc.PickupClient != nil && pr.ActiveWorkflow == model.WorkflowPickupAnywhere {
		if pr.PickupRequestID != "" {
			record("cancel pickup hold", wc.PickupClient.CancelHold(ctx, pr.PickupRequestID))
		}
		if pr.PickupItemID != "" {
			record("delete pickup item", wc.PickupClient.DeleteItem(ctx, pr.PickupItemID))
		}
		if pr.PickupBibID != "" {
			record("delete pickup bib", wc.PickupClient.DeleteBib(ctx, pr.PickupBibID))
		}
	}

	var data map[string]interface{}
	if len(cleanupErrors) > 0 {
		data = map[string]interface{}{"cleanupErrors": cleanupErrors}
	}

	pr.Status = model.StatusFinalised
	return pr, data, nil
}
