package model

// Status is the lifecycle position of a patron request.
type Status string

const (
	StatusSubmitted         Status = "SUBMITTED_TO_DCB"
	StatusPatronVerified    Status = "PATRON_VERIFIED"
	StatusResolved          Status = "RESOLVED"
	StatusNotSupplied       Status = "NOT_SUPPLIED_CURRENT_SUPPLIER"
	StatusNoItemsSelectable Status = "NO_ITEMS_SELECTABLE_AT_ANY_AGENCY"
	StatusPlacedAtSupplier  Status = "REQUEST_PLACED_AT_SUPPLYING_AGENCY"
	StatusPlacedAtBorrower  Status = "REQUEST_PLACED_AT_BORROWING_AGENCY"
	StatusPlacedAtPickup    Status = "REQUEST_PLACED_AT_PICKUP_AGENCY"
	StatusPickupTransit     Status = "PICKUP_TRANSIT"
	StatusReceivedAtPickup  Status = "RECEIVED_AT_PICKUP"
	StatusReadyForPickup    Status = "READY_FOR_PICKUP"
	StatusLoaned            Status = "LOANED"
	StatusReturnTransit     Status = "RETURN_TRANSIT"
	StatusCompleted         Status = "COMPLETED"
	StatusFinalised         Status = "FINALISED"
	StatusHandedOffAsLocal  Status = "HANDED_OFF_AS_LOCAL"
	StatusCancelled         Status = "CANCELLED"
	StatusError             Status = "ERROR"
)

// Workflow names the shape of a request's multi-party lifecycle. It is
// fixed at resolution time and selects the transition table below.
type Workflow string

const (
	WorkflowStandard       Workflow = "STANDARD"
	WorkflowLocal          Workflow = "LOCAL"
	WorkflowPickupAnywhere Workflow = "PICKUP_ANYWHERE"
	WorkflowExpedited      Workflow = "EXPEDITED"
)

// IsTerminal reports whether no further transition can ever apply.
// ERROR is deliberately not terminal: the next external trigger may
// retry the failed transition.
func IsTerminal(s Status) bool {
	switch s {
	case StatusFinalised, StatusHandedOffAsLocal, StatusCancelled, StatusNoItemsSelectable:
		return true
	}
	return false
}

// Cancellable reports whether a request may still be cancelled.
func Cancellable(s Status) bool {
	return !IsTerminal(s) && s != StatusCompleted && s != StatusFinalised
}
