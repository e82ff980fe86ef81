package model

import "time"

// PatronRequest is the aggregate root of an interlibrary loan request. It
// is mutated exclusively by transition handlers running under the
// per-request workflow lock.
type PatronRequest struct {
	ID             string
	Status         Status
	PreviousStatus Status // status before an ERROR, used to retry the failed step

	// Requesting patron.
	PatronID          string
	PatronHostLMSCode string
	HomeLibraryCode   string
	HomeAgencyCode    string

	// What is being requested and where it will be collected.
	BibClusterID          string
	PickupLocationCode    string
	PickupLocationContext string
	Description           string

	// Identifiers assigned at the borrowing system.
	LocalRequestID string
	LocalItemID    string
	LocalBibID     string
	LocalStatus    string

	// Identifiers assigned at the pickup system (PICKUP_ANYWHERE only).
	PickupRequestID string
	PickupItemID    string
	PickupBibID     string
	PickupPatronID  string

	ActiveWorkflow  Workflow
	ResolutionCount int
	RenewalCount    int
	LocalHoldCount  int

	ErrorMessage string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SupplierRequest is the live candidate lender for a patron request. At
// most one is active per request; superseded rows are archived to the
// inactive history.
type SupplierRequest struct {
	ID              string
	PatronRequestID string

	AgencyCode  string
	HostLMSCode string

	LocalItemID       string
	LocalBibID        string
	LocalHoldingID    string
	LocalItemBarcode  string
	LocalItemLocation string
	CallNumber        string

	// Identifiers for the virtual records created at the supplying system.
	VirtualPatronID string
	LocalRequestID  string

	StatusCode  SupplierStatus
	LocalStatus string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SupplierStatus is the placement state of the hold at the supplying
// system.
type SupplierStatus string

const (
	SupplierPending  SupplierStatus = "PENDING"
	SupplierPlaced   SupplierStatus = "PLACED"
	SupplierAccepted SupplierStatus = "ACCEPTED"
)

// InactiveSupplierRequest archives a superseded supplier request so
// re-resolution can avoid retrying a supplier that already failed.
type InactiveSupplierRequest struct {
	SupplierRequest
	ResolutionSeq int
	Reason        string
	ArchivedAt    time.Time
}

// Audit is one immutable row of the per-request audit trail. Data carries
// structured diagnostics (considered candidates, raw error causes) as JSON.
type Audit struct {
	ID              string
	PatronRequestID string
	FromStatus      Status
	ToStatus        Status
	Description     string
	Data            map[string]interface{}
	Timestamp       time.Time
}

// PlaceRequestCommand is the inbound command accepted by the API after
// preflight.
type PlaceRequestCommand struct {
	BibClusterID       string `json:"bibClusterId"`
	PickupLocationCode string `json:"pickupLocationCode"`
	RequestorLocalID   string `json:"requestorLocalId"`
	RequestorSystem    string `json:"requestorLocalSystemCode"`
	HomeLibraryCode    string `json:"requestorHomeLibraryCode"`
	Description        string `json:"description,omitempty"`
}

// Agency is an organizational unit tied to exactly one Host LMS.
type Agency struct {
	Code        string
	Name        string
	HostLMSCode string
}

// Location is a catalog pickup location addressable by UUID or code.
type Location struct {
	ID         string
	Code       string
	AgencyCode string
}
