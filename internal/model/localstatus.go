package model

// Local statuses mirrored from external systems by the tracking jobs.
// These are canonical values; each adapter maps its backend's vocabulary
// onto them before reporting.
const (
	LocalStatusPlaced    = "PLACED"
	LocalStatusAccepted  = "ACCEPTED"
	LocalStatusTransit   = "TRANSIT"
	LocalStatusReceived  = "RECEIVED"
	LocalStatusHoldShelf = "ON_HOLD_SHELF"
	LocalStatusLoaned    = "LOANED"
	LocalStatusAvailable = "AVAILABLE"
	LocalStatusCancelled = "CANCELLED"
	LocalStatusMissing   = "MISSING"
)
