package workflow

import (
	"context"

	"github.com/openlibraryenvironment/dcb-service-sub002/internal/hostlms"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/model"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/obs"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/refmap"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/resolution"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/storage"
)

// Action is one transition handler. Applicable is the guard: a pure
// predicate over the context. Attempt performs the external calls and
// returns the request with its new status set, plus optional structured
// audit data.
//
// Attempt must not persist the patron request itself; the orchestrator
// persists and audits uniformly (including the ERROR path). Supplier
// request changes are persisted by the handler because they must commit
// even when the surrounding attempt later fails.
type Action interface {
	Name() string
	Applicable(wc *Context) bool
	Attempt(ctx context.Context, wc *Context) (model.PatronRequest, map[string]interface{}, error)
}

// Deps is the collaborator set handlers draw on.
type Deps struct {
	Requests  *storage.PatronRequests
	Suppliers *storage.SupplierRequests
	Reference *storage.Reference
	Clients   *hostlms.Registry
	Mappings  *refmap.Service
	Resolver  *resolution.Resolver
	Logger    *obs.Logger
}

// DefaultActions returns the full transition set in selection order. Order
// matters only where guards overlap; the earliest applicable handler wins.
func DefaultActions(d Deps) []Action {
	return []Action{
		&VerifyPatron{d},
		&ResolveSupplier{d},
		&HandOffLocal{d},
		&PlaceAtSupplier{d},
		&NotSupplied{d},
		&PlaceAtBorrower{d},
		&PlaceAtPickup{d},
		&MarkPickupTransit{d},
		&MarkReceived{d},
		&MarkReady{d},
		&MarkLoaned{d},
		&MarkReturnTransit{d},
		&Complete{d},
		&Finalise{d},
	}
}
