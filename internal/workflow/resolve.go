package workflow

import (
	"context"

	"github.com/openlibraryenvironment/dcb-service-sub002/internal/model"
)

// ResolveSupplier runs the resolution engine. It handles both first
// resolution (PATRON_VERIFIED) and re-resolution after a supplier refused
// (NOT_SUPPLIED_CURRENT_SUPPLIER), where previously-tried suppliers are
// excluded.
type ResolveSupplier struct {
	d Deps
}

func (a *ResolveSupplier) Name() string { return "ResolveSupplier" }

func (a *ResolveSupplier) Applicable(wc *Context) bool {
	s := wc.EffectiveStatus()
	return s == model.StatusPatronVerified || s == model.StatusNotSupplied
}

func (a *ResolveSupplier) Attempt(ctx context.Context, wc *Context) (model.PatronRequest, map[string]interface{}, error) {
	pr := wc.Request

	excluded, err := a.d.Suppliers.ExcludedSuppliers(ctx, pr.ID)
	if err != nil {
		return pr, nil, err
	}

	outcome, err := a.d.Resolver.Resolve(ctx, pr, excluded)
	if err != nil {
		return pr, nil, err
	}

	considered := make([]map[string]interface{}, 0, len(outcome.Considered))
	for _, c := range outcome.Considered {
		entry := map[string]interface{}{
			"system": c.HostLMSCode,
			"bib":    c.LocalBibID,
			"item":   c.LocalItemID,
		}
		if c.Excluded != "" {
			entry["excludedReason"] = c.Excluded
		}
		considered = append(considered, entry)
	}
	data := map[string]interface{}{"consideredItems": considered}

	if outcome.NoItems {
		pr.Status = model.StatusNoItemsSelectable
		return pr, data, nil
	}

	// A live supplier left over from a previous resolution is superseded
	// by this one.
	if wc.HasSupplier {
		if err := a.d.Suppliers.Archive(ctx, wc.Supplier, pr.ResolutionCount, "superseded by re-resolution"); err != nil {
			return pr, nil, err
		}
	}

	if err := a.d.Suppliers.Insert(ctx, outcome.Supplier); err != nil {
		return pr, nil, err
	}

	pr.ActiveWorkflow = outcome.Workflow
	pr.ResolutionCount++
	pr.Status = model.StatusResolved

	data["supplierAgency"] = outcome.Supplier.AgencyCode
	data["supplierSystem"] = outcome.Supplier.HostLMSCode
	data["supplierItem"] = outcome.Supplier.LocalItemID
	data["workflow"] = string(outcome.Workflow)
	return pr, data, nil
}
