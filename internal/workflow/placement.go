package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/openlibraryenvironment/dcb-service-sub002/internal/hostlms"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/model"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/refmap"
)

// ensureVirtualPatron finds or creates the patron's identity at a remote
// system. The unique id ties the virtual record back to the home identity
// so repeated placements reuse one virtual patron.
func ensureVirtualPatron(ctx context.Context, d Deps, client hostlms.Client, pr model.PatronRequest) (hostlms.Patron, error) {
	uniqueID := pr.PatronID + "@" + pr.HomeAgencyCode

	p, err := client.PatronFind(ctx, uniqueID)
	if err == nil {
		return p, nil
	}
	// Only a confirmed miss may fall through to creation; a failed call
	// would mint a duplicate virtual patron on the next attempt.
	if !errors.Is(err, hostlms.ErrRecordNotFound) {
		return hostlms.Patron{}, err
	}

	localType := ""
	if home, err := d.Clients.Get(pr.PatronHostLMSCode); err == nil {
		if hp, err := home.GetPatronByLocalID(ctx, pr.PatronID); err == nil {
			mapped, merr := d.Mappings.MapPatronType(ctx, pr.PatronHostLMSCode, hp.LocalPatronType, client.Code())
			if merr != nil && !errors.Is(merr, refmap.ErrNoMapping) {
				return hostlms.Patron{}, merr
			}
			localType = mapped
		}
	}

	return client.CreatePatron(ctx, hostlms.Patron{
		UniqueID:        uniqueID,
		LocalPatronType: localType,
		HomeLibraryCode: pr.HomeLibraryCode,
	})
}

// PlaceAtSupplier creates the virtual patron at the lending system and
// places the hold on the selected item. The supplier request moves
// PENDING→PLACED.
type PlaceAtSupplier struct {
	d Deps
}

func (a *PlaceAtSupplier) Name() string { return "PlaceAtSupplier" }

func (a *PlaceAtSupplier) Applicable(wc *Context) bool {
	return wc.EffectiveStatus() == model.StatusResolved &&
		wc.HasSupplier &&
		wc.Request.ActiveWorkflow != model.WorkflowLocal &&
		wc.LenderClient != nil
}

func (a *PlaceAtSupplier) Attempt(ctx context.Context, wc *Context) (model.PatronRequest, map[string]interface{}, error) {
	pr := wc.Request
	sr := wc.Supplier

	vp, err := ensureVirtualPatron(ctx, a.d, wc.LenderClient, pr)
	if err != nil {
		return pr, nil, err
	}

	hold, err := wc.LenderClient.PlaceHoldAtSupplyingAgency(ctx, hostlms.HoldParams{
		LocalPatronID:      vp.LocalID,
		LocalBibID:         sr.LocalBibID,
		LocalItemID:        sr.LocalItemID,
		PickupLocationCode: pr.PickupLocationCode,
		Note:               "Consortial borrowing request " + pr.ID,
	})
	if err != nil {
		return pr, nil, err
	}

	sr.VirtualPatronID = vp.LocalID
	sr.LocalRequestID = hold.LocalID
	sr.LocalStatus = hold.LocalStatus
	sr.StatusCode = model.SupplierPlaced
	if err := a.d.Suppliers.Update(ctx, sr); err != nil {
		return pr, nil, err
	}

	pr.Status = model.StatusPlacedAtSupplier
	return pr, map[string]interface{}{
		"supplierHold":   hold.LocalID,
		"virtualPatron":  vp.LocalID,
		"supplierSystem": sr.HostLMSCode,
	}, nil
}

// PlaceAtBorrower creates the virtual bib and item at the borrowing system
// and places the patron's hold on them.
type PlaceAtBorrower struct {
	d Deps
}

func (a *PlaceAtBorrower) Name() string { return "PlaceAtBorrower" }

func (a *PlaceAtBorrower) Applicable(wc *Context) bool {
	return wc.EffectiveStatus() == model.StatusPlacedAtSupplier &&
		wc.HasSupplier &&
		wc.BorrowerClient != nil
}

func (a *PlaceAtBorrower) Attempt(ctx context.Context, wc *Context) (model.PatronRequest, map[string]interface{}, error) {
	pr := wc.Request
	sr := wc.Supplier

	bib := pr.LocalBibID
	if bib == "" {
		created, err := wc.BorrowerClient.CreateBib(ctx, hostlms.Bib{
			Title: pr.Description,
		})
		if err != nil {
			return pr, nil, err
		}
		bib = created.LocalID
	}

	item := pr.LocalItemID
	if item == "" {
		created, err := wc.BorrowerClient.CreateItem(ctx, hostlms.Item{
			LocalBibID:   bib,
			Barcode:      sr.LocalItemBarcode,
			CallNumber:   sr.CallNumber,
			LocationCode: pr.PickupLocationCode,
			StatusCode:   hostlms.ItemStatusAvailable,
		})
		if err != nil {
			pr.LocalBibID = bib
			return pr, nil, err
		}
		item = created.LocalID
	}

	hold, err := wc.BorrowerClient.PlaceHoldAtBorrowingAgency(ctx, hostlms.HoldParams{
		LocalPatronID:      pr.PatronID,
		LocalBibID:         bib,
		LocalItemID:        item,
		PickupLocationCode: pr.PickupLocationCode,
	})
	if err != nil {
		pr.LocalBibID = bib
		pr.LocalItemID = item
		return pr, nil, err
	}

	pr.LocalBibID = bib
	pr.LocalItemID = item
	pr.LocalRequestID = hold.LocalID
	pr.LocalStatus = hold.LocalStatus
	pr.LocalHoldCount++
	pr.Status = model.StatusPlacedAtBorrower
	return pr, map[string]interface{}{
		"borrowerHold": hold.LocalID,
		"virtualBib":   bib,
		"virtualItem":  item,
	}, nil
}

// PlaceAtPickup involves the third party of a pickup-anywhere request: a
// pickup-side patron identity, virtual bib/item, and a hold at the pickup
// system.
type PlaceAtPickup struct {
	d Deps
}

func (a *PlaceAtPickup) Name() string { return "PlaceAtPickup" }

func (a *PlaceAtPickup) Applicable(wc *Context) bool {
	return wc.EffectiveStatus() == model.StatusPlacedAtBorrower &&
		wc.Request.ActiveWorkflow == model.WorkflowPickupAnywhere &&
		wc.HasSupplier &&
		wc.PickupClient != nil
}

func (a *PlaceAtPickup) Attempt(ctx context.Context, wc *Context) (model.PatronRequest, map[string]interface{}, error) {
	pr := wc.Request
	sr := wc.Supplier

	vp, err := ensureVirtualPatron(ctx, a.d, wc.PickupClient, pr)
	if err != nil {
		return pr, nil, err
	}
	pr.PickupPatronID = vp.LocalID

	bib := pr.PickupBibID
	if bib == "" {
		created, err := wc.PickupClient.CreateBib(ctx, hostlms.Bib{Title: pr.Description})
		if err != nil {
			return pr, nil, err
		}
		bib = created.LocalID
		pr.PickupBibID = bib
	}

	item := pr.PickupItemID
	if item == "" {
		created, err := wc.PickupClient.CreateItem(ctx, hostlms.Item{
			LocalBibID:   bib,
			Barcode:      sr.LocalItemBarcode,
			CallNumber:   sr.CallNumber,
			LocationCode: pr.PickupLocationCode,
			StatusCode:   hostlms.ItemStatusAvailable,
		})
		if err != nil {
			return pr, nil, err
		}
		item = created.LocalID
		pr.PickupItemID = item
	}

	hold, err := wc.PickupClient.PlaceHoldAtPickupAgency(ctx, hostlms.HoldParams{
		LocalPatronID:      vp.LocalID,
		LocalBibID:         bib,
		LocalItemID:        item,
		PickupLocationCode: pr.PickupLocationCode,
	})
	if err != nil {
		return pr, nil, err
	}

	pr.PickupRequestID = hold.LocalID
	pr.Status = model.StatusPlacedAtPickup
	return pr, map[string]interface{}{
		"pickupHold":   hold.LocalID,
		"pickupPatron": vp.LocalID,
		"pickupBib":    bib,
		"pickupItem":   item,
	}, nil
}

// HandOffLocal is the whole placement story for a LOCAL request: one hold
// at the single shared system, then the request leaves consortial
// management.
type HandOffLocal struct {
	d Deps
}

func (a *HandOffLocal) Name() string { return "HandOffLocal" }

func (a *HandOffLocal) Applicable(wc *Context) bool {
	return wc.EffectiveStatus() == model.StatusResolved &&
		wc.Request.ActiveWorkflow == model.WorkflowLocal &&
		wc.HasSupplier &&
		wc.BorrowerClient != nil
}

func (a *HandOffLocal) Attempt(ctx context.Context, wc *Context) (model.PatronRequest, map[string]interface{}, error) {
	pr := wc.Request
	sr := wc.Supplier

	hold, err := wc.BorrowerClient.PlaceHoldAtLocalAgency(ctx, hostlms.HoldParams{
		LocalPatronID:      pr.PatronID,
		LocalBibID:         sr.LocalBibID,
		LocalItemID:        sr.LocalItemID,
		PickupLocationCode: pr.PickupLocationCode,
	})
	if err != nil {
		return pr, nil, err
	}

	sr.LocalRequestID = hold.LocalID
	sr.LocalStatus = hold.LocalStatus
	sr.StatusCode = model.SupplierPlaced
	if err := a.d.Suppliers.Update(ctx, sr); err != nil {
		return pr, nil, err
	}

	pr.LocalRequestID = hold.LocalID
	pr.Status = model.StatusHandedOffAsLocal
	return pr, map[string]interface{}{"localHold": hold.LocalID}, nil
}

// NotSupplied reacts to the supplying system cancelling or losing the
// item. The supplier is archived so re-resolution skips it.
type NotSupplied struct {
	d Deps
}

func (a *NotSupplied) Name() string { return "NotSupplied" }

func (a *NotSupplied) Applicable(wc *Context) bool {
	if !wc.HasSupplier {
		return false
	}
	s := wc.EffectiveStatus()
	if s != model.StatusPlacedAtSupplier && s != model.StatusPlacedAtBorrower {
		return false
	}
	return wc.Supplier.LocalStatus == model.LocalStatusCancelled ||
		wc.Supplier.LocalStatus == model.LocalStatusMissing
}

func (a *NotSupplied) Attempt(ctx context.Context, wc *Context) (model.PatronRequest, map[string]interface{}, error) {
	pr := wc.Request
	sr := wc.Supplier

	reason := fmt.Sprintf("supplier %s reported %s", sr.AgencyCode, sr.LocalStatus)
	if err := a.d.Suppliers.Archive(ctx, sr, pr.ResolutionCount, reason); err != nil {
		return pr, nil, err
	}

	pr.Status = model.StatusNotSupplied
	return pr, map[string]interface{}{
		"supplierAgency": sr.AgencyCode,
		"localStatus":    sr.LocalStatus,
	}, nil
}
