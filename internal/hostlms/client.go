// Package hostlms defines the capability interface every backend library
// system adapter implements. The workflow engine only talks to external
// systems through this surface; the concrete protocol adapters live
// elsewhere and register themselves with the Registry.
package hostlms

import (
	"context"
	"errors"
	"fmt"
)

// ErrRecordNotFound reports that the remote system has no record matching
// the lookup. Adapters wrap it as the ClientError cause so callers can
// tell absence apart from a failed call with errors.Is.
var ErrRecordNotFound = errors.New("record not found")

// Patron is a patron record as known to one Host LMS.
type Patron struct {
	LocalID             string
	UniqueID            string
	LocalPatronType     string
	CanonicalPatronType string
	HomeLibraryCode     string
	Blocked             bool
	Deleted             bool
}

// Bib is a bibliographic record at one Host LMS.
type Bib struct {
	LocalID string
	Title   string
	Author  string
}

// Item is a holdable physical item at one Host LMS.
type Item struct {
	LocalID      string
	LocalBibID   string
	Barcode      string
	CallNumber   string
	LocationCode string
	StatusCode   string // AVAILABLE, CHECKED_OUT, TRANSIT, ...
	HoldCount    int
	Suppressed   bool
	Deleted      bool
}

// Hold is a request/hold placed at one Host LMS.
type Hold struct {
	LocalID     string
	LocalStatus string
	ItemID      string
	PatronID    string
}

// HoldParams carries everything needed to place a hold, whichever role the
// target system plays.
type HoldParams struct {
	LocalPatronID      string
	LocalBibID         string
	LocalItemID        string
	PickupLocationCode string
	Note               string
}

const ItemStatusAvailable = "AVAILABLE"

// Client is the full capability set of one backend system. Every call is
// expected to respect ctx deadlines; a timeout surfaces as an ordinary
// *ClientError.
type Client interface {
	Code() string

	GetPatronByLocalID(ctx context.Context, localID string) (Patron, error)
	PatronFind(ctx context.Context, uniqueID string) (Patron, error)
	CreatePatron(ctx context.Context, p Patron) (Patron, error)
	UpdatePatron(ctx context.Context, p Patron) (Patron, error)

	CreateBib(ctx context.Context, b Bib) (Bib, error)
	DeleteBib(ctx context.Context, localID string) error

	GetItemsForBib(ctx context.Context, localBibID string) ([]Item, error)
	GetItem(ctx context.Context, localID string) (Item, error)
	CreateItem(ctx context.Context, it Item) (Item, error)
	DeleteItem(ctx context.Context, localID string) error

	PlaceHoldAtBorrowingAgency(ctx context.Context, p HoldParams) (Hold, error)
	PlaceHoldAtSupplyingAgency(ctx context.Context, p HoldParams) (Hold, error)
	PlaceHoldAtPickupAgency(ctx context.Context, p HoldParams) (Hold, error)
	PlaceHoldAtLocalAgency(ctx context.Context, p HoldParams) (Hold, error)
	UpdateHold(ctx context.Context, localID string, p HoldParams) (Hold, error)
	CancelHold(ctx context.Context, localID string) error
	GetHold(ctx context.Context, localID string) (Hold, error)
}

// ClientError is the typed failure every adapter call can return. Op and
// System identify the failing call for audit payloads.
type ClientError struct {
	System string
	Op     string
	Cause  error
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("host lms %s: %s: %v", e.System, e.Op, e.Cause)
}

func (e *ClientError) Unwrap() error { return e.Cause }

// Registry resolves a Host LMS code to its registered client.
type Registry struct {
	clients map[string]Client
}

func NewRegistry(clients ...Client) *Registry {
	r := &Registry{clients: map[string]Client{}}
	for _, c := range clients {
		r.clients[c.Code()] = c
	}
	return r
}

func (r *Registry) Register(c Client) {
	r.clients[c.Code()] = c
}

func (r *Registry) Get(code string) (Client, error) {
	c, ok := r.clients[code]
	if !ok {
		return nil, fmt.Errorf("no host lms client registered for %q", code)
	}
	return c, nil
}

func (r *Registry) Codes() []string {
	out := make([]string, 0, len(r.clients))
	for code := range r.clients {
		out = append(out, code)
	}
	return out
}
