package model

// Each workflow gets its own fully-enumerated edge table. The tables are
// constants in spirit: nothing may mutate them after init, and no table is
// derived from another by copying and patching edges.

type edge struct {
	From Status
	To   Status
}

var standardEdges = []edge{
	{StatusSubmitted, StatusPatronVerified},
	{StatusPatronVerified, StatusResolved},
	{StatusNotSupplied, StatusResolved},
	{StatusResolved, StatusPlacedAtSupplier},
	{StatusPlacedAtSupplier, StatusPlacedAtBorrower},
	{StatusPlacedAtBorrower, StatusPickupTransit},
	{StatusPickupTransit, StatusReceivedAtPickup},
	{StatusReceivedAtPickup, StatusReadyForPickup},
	{StatusReadyForPickup, StatusLoaned},
	{StatusLoaned, StatusReturnTransit},
	{StatusReturnTransit, StatusCompleted},
	{StatusCompleted, StatusFinalised},
}

// PICKUP_ANYWHERE adds a third placement party between the borrower hold
// and the transit leg.
var pickupAnywhereEdges = []edge{
	{StatusSubmitted, StatusPatronVerified},
	{StatusPatronVerified, StatusResolved},
	{StatusNotSupplied, StatusResolved},
	{StatusResolved, StatusPlacedAtSupplier},
	{StatusPlacedAtSupplier, StatusPlacedAtBorrower},
	{StatusPlacedAtBorrower, StatusPlacedAtPickup},
	{StatusPlacedAtPickup, StatusPickupTransit},
	{StatusPickupTransit, StatusReceivedAtPickup},
	{StatusReceivedAtPickup, StatusReadyForPickup},
	{StatusReadyForPickup, StatusLoaned},
	{StatusLoaned, StatusReturnTransit},
	{StatusReturnTransit, StatusCompleted},
	{StatusCompleted, StatusFinalised},
}

// EXPEDITED skips the transit/received/ready leg entirely: the lender and
// pickup location share a system, so the item never crosses systems on the
// outbound leg and the borrower placement goes straight to LOANED.
var expeditedEdges = []edge{
	{StatusSubmitted, StatusPatronVerified},
	{StatusPatronVerified, StatusResolved},
	{StatusNotSupplied, StatusResolved},
	{StatusResolved, StatusPlacedAtSupplier},
	{StatusPlacedAtSupplier, StatusPlacedAtBorrower},
	{StatusPlacedAtBorrower, StatusLoaned},
	{StatusLoaned, StatusReturnTransit},
	{StatusReturnTransit, StatusCompleted},
	{StatusCompleted, StatusFinalised},
}

// LOCAL never moves an item between systems; once resolved the request is
// handed off to ordinary local circulation.
var localEdges = []edge{
	{StatusSubmitted, StatusPatronVerified},
	{StatusPatronVerified, StatusResolved},
	{StatusNotSupplied, StatusResolved},
	{StatusResolved, StatusHandedOffAsLocal},
}

var workflowTables = map[Workflow][]edge{
	WorkflowStandard:       standardEdges,
	WorkflowLocal:          localEdges,
	WorkflowPickupAnywhere: pickupAnywhereEdges,
	WorkflowExpedited:      expeditedEdges,
}

// NextStatus returns the next expected status for a request on the given
// workflow. Before resolution succeeds no workflow is assigned yet; the
// pre-resolution edges are identical across all tables, so the standard
// table answers for an empty workflow.
func NextStatus(w Workflow, from Status) (Status, bool) {
	table, ok := workflowTables[w]
	if !ok {
		table = standardEdges
	}
	for _, e := range table {
		if e.From == from {
			return e.To, true
		}
	}
	return "", false
}

// ValidEdge reports whether from→to is an allowed status change for the
// workflow, including the side branches every workflow shares: resolution
// can land on NO_ITEMS_SELECTABLE_AT_ANY_AGENCY, a supplier can refuse
// (NOT_SUPPLIED_CURRENT_SUPPLIER), any state can fail to ERROR and retry
// out of it, and any cancellable state can be cancelled.
func ValidEdge(w Workflow, from, to Status) bool {
	if to == StatusError {
		return true
	}
	if from == StatusError {
		// Retry of the failed transition; the target must be reachable
		// somewhere in the workflow's table.
		if to == StatusError {
			return true
		}
		table, ok := workflowTables[w]
		if !ok {
			table = standardEdges
		}
		for _, e := range table {
			if e.To == to {
				return true
			}
		}
		return to == StatusNoItemsSelectable || to == StatusCancelled
	}
	if to == StatusCancelled {
		return Cancellable(from)
	}
	if to == StatusNoItemsSelectable {
		return from == StatusPatronVerified || from == StatusNotSupplied
	}
	if to == StatusNotSupplied {
		return from == StatusResolved || from == StatusPlacedAtSupplier || from == StatusPlacedAtBorrower
	}
	next, ok := NextStatus(w, from)
	return ok && next == to
}

// Statuses the tracking jobs poll external systems for. Terminal statuses
// and pre-placement statuses have nothing to track.
func Trackable(s Status) bool {
	switch s {
	case StatusPlacedAtSupplier, StatusPlacedAtBorrower, StatusPlacedAtPickup,
		StatusPickupTransit, StatusReceivedAtPickup, StatusReadyForPickup,
		StatusLoaned, StatusReturnTransit:
		return true
	}
	return false
}

// StatusCount bounds the synchronous progress chain after Initiate: a
// request cannot legitimately change status more times than there are
// statuses.
const StatusCount = 18
