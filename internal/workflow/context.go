package workflow

import (
	"context"
	"fmt"

	"github.com/openlibraryenvironment/dcb-service-sub002/internal/hostlms"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/model"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/refmap"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/storage"
)

// Context aggregates, for one request, every cross-system fact a transition
// might need. It is rebuilt before each attempt and never cached: the
// active supplier request, agency mappings and remote identities can all
// change between attempts.
//
// Fields are populated by independent, individually-fallible lookups. A
// failed lookup leaves the field zero and appends a diagnostic message;
// only a missing request row aborts the build.
type Context struct {
	Request model.PatronRequest

	Patron       hostlms.Patron
	PatronAgency model.Agency

	Supplier    model.SupplierRequest
	HasSupplier bool

	LenderAgency model.Agency
	PickupAgency model.Agency

	BorrowerClient hostlms.Client
	LenderClient   hostlms.Client
	PickupClient   hostlms.Client

	PickupPatron hostlms.Patron

	Messages []string
}

// EffectiveStatus is the status guards evaluate against. A request in
// ERROR retries the transition out of the status it failed in.
func (c *Context) EffectiveStatus() model.Status {
	if c.Request.Status == model.StatusError && c.Request.PreviousStatus != "" {
		return c.Request.PreviousStatus
	}
	return c.Request.Status
}

func (c *Context) note(format string, args ...interface{}) {
	c.Messages = append(c.Messages, fmt.Sprintf(format, args...))
}

// Builder reconstructs a Context from persistent state.
type Builder struct {
	requests  *storage.PatronRequests
	suppliers *storage.SupplierRequests
	reference *storage.Reference
	clients   *hostlms.Registry
	mappings  *refmap.Service
}

func NewBuilder(requests *storage.PatronRequests, suppliers *storage.SupplierRequests, reference *storage.Reference, clients *hostlms.Registry, mappings *refmap.Service) *Builder {
	return &Builder{
		requests:  requests,
		suppliers: suppliers,
		reference: reference,
		clients:   clients,
		mappings:  mappings,
	}
}

// Build loads the request and assembles everything reachable from it.
func (b *Builder) Build(ctx context.Context, requestID string) (*Context, error) {
	pr, err := b.requests.Get(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("load patron request %s: %w", requestID, err)
	}
	return b.BuildFromRequest(ctx, pr)
}

// BuildForSupplier is the symmetric entry point: trackers hold a supplier
// request and need the same context.
func (b *Builder) BuildForSupplier(ctx context.Context, sr model.SupplierRequest) (*Context, error) {
	return b.Build(ctx, sr.PatronRequestID)
}

func (b *Builder) BuildFromRequest(ctx context.Context, pr model.PatronRequest) (*Context, error) {
	wc := &Context{Request: pr}

	if client, err := b.clients.Get(pr.PatronHostLMSCode); err != nil {
		wc.note("borrower system %s unavailable: %v", pr.PatronHostLMSCode, err)
	} else {
		wc.BorrowerClient = client
		if p, err := client.GetPatronByLocalID(ctx, pr.PatronID); err != nil {
			wc.note("patron %s not resolvable at %s: %v", pr.PatronID, pr.PatronHostLMSCode, err)
		} else {
			wc.Patron = p
		}
	}

	if pr.HomeAgencyCode != "" {
		if a, err := b.reference.GetAgency(ctx, pr.HomeAgencyCode); err != nil {
			wc.note("home agency %s not resolvable: %v", pr.HomeAgencyCode, err)
		} else {
			wc.PatronAgency = a
		}
	}

	if sr, ok, err := b.suppliers.Active(ctx, pr.ID); err != nil {
		wc.note("supplier request lookup failed: %v", err)
	} else if ok {
		wc.Supplier = sr
		wc.HasSupplier = true

		if a, err := b.reference.GetAgency(ctx, sr.AgencyCode); err != nil {
			wc.note("lender agency %s not resolvable: %v", sr.AgencyCode, err)
		} else {
			wc.LenderAgency = a
		}
		if client, err := b.clients.Get(sr.HostLMSCode); err != nil {
			wc.note("lender system %s unavailable: %v", sr.HostLMSCode, err)
		} else {
			wc.LenderClient = client
		}
	}

	if a, err := b.mappings.ResolvePickupLocation(ctx, pr.PickupLocationContext, pr.PickupLocationCode); err != nil {
		wc.note("pickup location %s not resolvable: %v", pr.PickupLocationCode, err)
	} else {
		wc.PickupAgency = a
		if client, err := b.clients.Get(a.HostLMSCode); err != nil {
			wc.note("pickup system %s unavailable: %v", a.HostLMSCode, err)
		} else {
			wc.PickupClient = client
		}
	}

	// Pickup-side patron identity only matters when a third party holds
	// the item for collection.
	if pr.ActiveWorkflow == model.WorkflowPickupAnywhere && pr.PickupPatronID != "" && wc.PickupClient != nil {
		if p, err := wc.PickupClient.GetPatronByLocalID(ctx, pr.PickupPatronID); err != nil {
			wc.note("pickup patron %s not resolvable: %v", pr.PickupPatronID, err)
		} else {
			wc.PickupPatron = p
		}
	}

	return wc, nil
}
