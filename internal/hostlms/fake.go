package hostlms

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Fake is an in-memory Client used by tests and local development. It is
// safe for concurrent use. Individual operations can be forced to fail via
// FailNext.
type Fake struct {
	code string

	mu       sync.Mutex
	patrons  map[string]Patron // by local id
	bibs     map[string]Bib
	items    map[string]Item
	holds    map[string]Hold
	itemsFor map[string][]string // bib id -> item ids
	failNext map[string]error
}

func NewFake(code string) *Fake {
	return &Fake{
		code:     code,
		patrons:  map[string]Patron{},
		bibs:     map[string]Bib{},
		items:    map[string]Item{},
		holds:    map[string]Hold{},
		itemsFor: map[string][]string{},
		failNext: map[string]error{},
	}
}

func (f *Fake) Code() string { return f.code }

// FailNext makes the next call of op return err wrapped in a ClientError.
func (f *Fake) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext[op] = err
}

// SeedPatron, SeedItem and SeedBib install fixture records.
func (f *Fake) SeedPatron(p Patron) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patrons[p.LocalID] = p
}

func (f *Fake) SeedBib(b Bib) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bibs[b.LocalID] = b
}

func (f *Fake) SeedItem(it Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[it.LocalID] = it
	f.itemsFor[it.LocalBibID] = append(f.itemsFor[it.LocalBibID], it.LocalID)
}

// SetHoldStatus mutates a hold's local status, simulating circulation
// activity a tracker would observe.
func (f *Fake) SetHoldStatus(holdID, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.holds[holdID]
	if !ok {
		return
	}
	h.LocalStatus = status
	f.holds[holdID] = h
}

func (f *Fake) check(op string) error {
	if err, ok := f.failNext[op]; ok {
		delete(f.failNext, op)
		return &ClientError{System: f.code, Op: op, Cause: err}
	}
	return nil
}

func (f *Fake) GetPatronByLocalID(_ context.Context, localID string) (Patron, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("getPatronByLocalId"); err != nil {
		return Patron{}, err
	}
	p, ok := f.patrons[localID]
	if !ok {
		return Patron{}, &ClientError{System: f.code, Op: "getPatronByLocalId", Cause: fmt.Errorf("patron %s: %w", localID, ErrRecordNotFound)}
	}
	return p, nil
}

func (f *Fake) PatronFind(_ context.Context, uniqueID string) (Patron, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("patronFind"); err != nil {
		return Patron{}, err
	}
	for _, p := range f.patrons {
		if p.UniqueID == uniqueID {
			return p, nil
		}
	}
	return Patron{}, &ClientError{System: f.code, Op: "patronFind", Cause: ErrRecordNotFound}
}

func (f *Fake) CreatePatron(_ context.Context, p Patron) (Patron, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("createPatron"); err != nil {
		return Patron{}, err
	}
	if p.LocalID == "" {
		p.LocalID = uuid.NewString()
	}
	f.patrons[p.LocalID] = p
	return p, nil
}

func (f *Fake) UpdatePatron(_ context.Context, p Patron) (Patron, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("updatePatron"); err != nil {
		return Patron{}, err
	}
	if _, ok := f.patrons[p.LocalID]; !ok {
		return Patron{}, &ClientError{System: f.code, Op: "updatePatron", Cause: fmt.Errorf("patron: %w", ErrRecordNotFound)}
	}
	f.patrons[p.LocalID] = p
	return p, nil
}

func (f *Fake) CreateBib(_ context.Context, b Bib) (Bib, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("createBib"); err != nil {
		return Bib{}, err
	}
	if b.LocalID == "" {
		b.LocalID = uuid.NewString()
	}
	f.bibs[b.LocalID] = b
	return b, nil
}

func (f *Fake) DeleteBib(_ context.Context, localID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("deleteBib"); err != nil {
		return err
	}
	delete(f.bibs, localID)
	return nil
}

func (f *Fake) GetItemsForBib(_ context.Context, localBibID string) ([]Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("getItemsForBib"); err != nil {
		return nil, err
	}
	var out []Item
	for _, id := range f.itemsFor[localBibID] {
		out = append(out, f.items[id])
	}
	return out, nil
}

func (f *Fake) GetItem(_ context.Context, localID string) (Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("getItem"); err != nil {
		return Item{}, err
	}
	it, ok := f.items[localID]
	if !ok {
		return Item{}, &ClientError{System: f.code, Op: "getItem", Cause: fmt.Errorf("item %s: %w", localID, ErrRecordNotFound)}
	}
	return it, nil
}

func (f *Fake) CreateItem(_ context.Context, it Item) (Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("createItem"); err != nil {
		return Item{}, err
	}
	if it.LocalID == "" {
		it.LocalID = uuid.NewString()
	}
	f.items[it.LocalID] = it
	f.itemsFor[it.LocalBibID] = append(f.itemsFor[it.LocalBibID], it.LocalID)
	return it, nil
}

func (f *Fake) DeleteItem(_ context.Context, localID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("deleteItem"); err != nil {
		return err
	}
	delete(f.items, localID)
	return nil
}

func (f *Fake) placeHold(op string, p HoldParams) (Hold, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(op); err != nil {
		return Hold{}, err
	}
	h := Hold{
		LocalID:     uuid.NewString(),
		LocalStatus: "PLACED",
		ItemID:      p.LocalItemID,
		PatronID:    p.LocalPatronID,
	}
	f.holds[h.LocalID] = h
	return h, nil
}

func (f *Fake) PlaceHoldAtBorrowingAgency(_ context.Context, p HoldParams) (Hold, error) {
	return f.placeHold("placeHoldRequestAtBorrowingAgency", p)
}

func (f *Fake) PlaceHoldAtSupplyingAgency(_ context.Context, p HoldParams) (Hold, error) {
	return f.placeHold("placeHoldRequestAtSupplyingAgency", p)
}

func (f *Fake) PlaceHoldAtPickupAgency(_ context.Context, p HoldParams) (Hold, error) {
	return f.placeHold("placeHoldRequestAtPickupAgency", p)
}

func (f *Fake) PlaceHoldAtLocalAgency(_ context.Context, p HoldParams) (Hold, error) {
	return f.placeHold("placeHoldRequestAtLocalAgency", p)
}

func (f *Fake) UpdateHold(_ context.Context, localID string, p HoldParams) (Hold, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("updateHoldRequest"); err != nil {
		return Hold{}, err
	}
	h, ok := f.holds[localID]
	if !ok {
		return Hold{}, &ClientError{System: f.code, Op: "updateHoldRequest", Cause: fmt.Errorf("hold: %w", ErrRecordNotFound)}
	}
	if p.LocalItemID != "" {
		h.ItemID = p.LocalItemID
	}
	f.holds[localID] = h
	return h, nil
}

func (f *Fake) CancelHold(_ context.Context, localID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("cancelHoldRequest"); err != nil {
		return err
	}
	h, ok := f.holds[localID]
	if !ok {
		return &ClientError{System: f.code, Op: "cancelHoldRequest", Cause: fmt.Errorf("hold: %w", ErrRecordNotFound)}
	}
	h.LocalStatus = "CANCELLED"
	f.holds[localID] = h
	return nil
}

func (f *Fake) GetHold(_ context.Context, localID string) (Hold, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("getHold"); err != nil {
		return Hold{}, err
	}
	h, ok := f.holds[localID]
	if !ok {
		return Hold{}, &ClientError{System: f.code, Op: "getHold", Cause: fmt.Errorf("hold: %w", ErrRecordNotFound)}
	}
	return h, nil
}

var _ Client = (*Fake)(nil)
