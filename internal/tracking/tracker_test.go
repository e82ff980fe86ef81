package tracking

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/openlibraryenvironment/dcb-service-sub002/internal/hostlms"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/locks"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/model"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/refmap"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/resolution"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/storage"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/workflow"
)

type fixture struct {
	requests  *storage.PatronRequests
	suppliers *storage.SupplierRequests
	orch      *workflow.Orchestrator
	tracker   *Tracker
	systemA   *hostlms.Fake
	systemB   *hostlms.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := storage.Open(ctx, storage.Config{
		Path:        filepath.Join(t.TempDir(), "tracking_test.db"),
		BusyTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("db open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ref := storage.NewReference(db.DB)
	seed := func(err error) {
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	seed(ref.UpsertAgency(ctx, model.Agency{Code: "agencyA", HostLMSCode: "A"}))
	seed(ref.UpsertAgency(ctx, model.Agency{Code: "agencyB", HostLMSCode: "B"}))
	seed(ref.UpsertLocationToAgency(ctx, "A", "LIB-A", "agencyA"))
	seed(ref.UpsertLocationToAgency(ctx, "pickup", "MAIN", "agencyA"))
	seed(ref.UpsertMapping(ctx, refmap.CategoryPatronType, "A", "UG", refmap.CanonicalContext, "UNDERGRAD"))
	seed(ref.UpsertMapping(ctx, refmap.CategoryShelvingLocation, "B", "STACKS", "AGENCY", "agencyB"))

	systemA := hostlms.NewFake("A")
	systemB := hostlms.NewFake("B")
	systemA.SeedPatron(hostlms.Patron{LocalID: "p1", LocalPatronType: "UG", HomeLibraryCode: "LIB-A"})
	systemB.SeedItem(hostlms.Item{
		LocalID:      "item-1",
		LocalBibID:   "bibB",
		CallNumber:   "QA76",
		LocationCode: "STACKS",
		StatusCode:   hostlms.ItemStatusAvailable,
	})
	clients := hostlms.NewRegistry(systemA, systemB)

	mappings := refmap.NewService(ref)
	catalog := resolution.NewStaticCatalog()
	catalog.Add("cluster-1", resolution.ClusterMember{HostLMSCode: "B", LocalBibID: "bibB"})
	resolver := resolution.NewResolver(catalog, clients, mappings, resolution.Settings{}, nil, nil)

	requests := storage.NewPatronRequests(db.DB)
	suppliers := storage.NewSupplierRequests(db.DB)
	deps := workflow.Deps{
		Requests:  requests,
		Suppliers: suppliers,
		Reference: ref,
		Clients:   clients,
		Mappings:  mappings,
		Resolver:  resolver,
	}
	builder := workflow.NewBuilder(requests, suppliers, ref, clients, mappings)
	auditor := workflow.NewAuditor(storage.NewAudits(db.DB))
	orch := workflow.NewOrchestrator(deps, builder, auditor, locks.NewService(db.DB, nil, nil), time.Minute, "test-owner", nil, nil)

	return &fixture{
		requests:  requests,
		suppliers: suppliers,
		orch:      orch,
		tracker:   NewTracker(requests, suppliers, clients, orch, nil, time.Minute),
		systemA:   systemA,
		systemB:   systemB,
	}
}

func (f *fixture) placed(t *testing.T) model.PatronRequest {
	t.Helper()
	pr := model.PatronRequest{
		ID:                 uuid.NewString(),
		Status:             model.StatusSubmitted,
		PatronID:           "p1",
		PatronHostLMSCode:  "A",
		BibClusterID:       "cluster-1",
		PickupLocationCode: "MAIN",
	}
	if err := f.requests.Insert(context.Background(), pr); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := f.orch.Initiate(context.Background(), pr.ID)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if got.Status != model.StatusPlacedAtBorrower {
		t.Fatalf("fixture request stuck at %s", got.Status)
	}
	return got
}

func TestSweepMirrorsSupplierHoldAndProgresses(t *testing.T) {
	f := newFixture(t)
	pr := f.placed(t)
	ctx := context.Background()

	sr, ok, err := f.suppliers.Active(ctx, pr.ID)
	if err != nil || !ok {
		t.Fatalf("active supplier: ok=%v err=%v", ok, err)
	}
	f.systemB.SetHoldStatus(sr.LocalRequestID, model.LocalStatusTransit)

	f.tracker.sweepOnce(ctx)

	got, err := f.requests.Get(ctx, pr.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.StatusPickupTransit {
		t.Fatalf("status %s, want %s", got.Status, model.StatusPickupTransit)
	}
	sr, _, _ = f.suppliers.Active(ctx, pr.ID)
	if sr.LocalStatus != model.LocalStatusTransit {
		t.Fatalf("mirrored supplier status %s, want %s", sr.LocalStatus, model.LocalStatusTransit)
	}
}

func TestSweepMirrorsAcceptedOntoSupplierStatusCode(t *testing.T) {
	f := newFixture(t)
	pr := f.placed(t)
	ctx := context.Background()

	sr, _, _ := f.suppliers.Active(ctx, pr.ID)
	f.systemB.SetHoldStatus(sr.LocalRequestID, model.LocalStatusAccepted)

	f.tracker.sweepOnce(ctx)

	sr, _, _ = f.suppliers.Active(ctx, pr.ID)
	if sr.StatusCode != model.SupplierAccepted {
		t.Fatalf("supplier status code %s, want %s", sr.StatusCode, model.SupplierAccepted)
	}
}

func TestSweepSkipsQuietRequests(t *testing.T) {
	f := newFixture(t)
	pr := f.placed(t)
	ctx := context.Background()

	// Nothing moved externally, so the sweep must not advance anything.
	f.tracker.sweepOnce(ctx)

	got, err := f.requests.Get(ctx, pr.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.StatusPlacedAtBorrower {
		t.Fatalf("status %s, want %s", got.Status, model.StatusPlacedAtBorrower)
	}
}

func TestPollWithStaleCopyDoesNotRevertTransitions(t *testing.T) {
	f := newFixture(t)
	stale := f.placed(t)
	ctx := context.Background()

	// A transition commits under the workflow lock after the sweep
	// captured its copy of the row.
	sr, ok, err := f.suppliers.Active(ctx, stale.ID)
	if err != nil || !ok {
		t.Fatalf("active supplier: ok=%v err=%v", ok, err)
	}
	sr.LocalStatus = model.LocalStatusTransit
	if err := f.suppliers.Update(ctx, sr); err != nil {
		t.Fatalf("update supplier: %v", err)
	}
	advanced, err := f.orch.Progress(ctx, stale.ID)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if advanced.Status != model.StatusPickupTransit {
		t.Fatalf("status %s, want %s", advanced.Status, model.StatusPickupTransit)
	}

	// The borrower-side item moved too, so the stale poll has something
	// to mirror.
	f.systemA.SeedItem(hostlms.Item{
		LocalID:    stale.LocalItemID,
		LocalBibID: stale.LocalBibID,
		StatusCode: model.LocalStatusReceived,
	})

	if changed := f.tracker.poll(ctx, stale); !changed {
		t.Fatal("poll should report the mirrored item change")
	}

	got, err := f.requests.Get(ctx, stale.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.StatusPickupTransit {
		t.Fatalf("status %s, want %s (poll must not write status)", got.Status, model.StatusPickupTransit)
	}
	if got.LocalStatus != model.LocalStatusReceived {
		t.Fatalf("local status %s, want %s", got.LocalStatus, model.LocalStatusReceived)
	}
}

func TestSweepToleratesUnreachableSystems(t *testing.T) {
	f := newFixture(t)
	pr := f.placed(t)
	ctx := context.Background()

	f.systemB.FailNext("getHold", context.DeadlineExceeded)
	f.tracker.sweepOnce(ctx)

	got, err := f.requests.Get(ctx, pr.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.StatusPlacedAtBorrower {
		t.Fatalf("status %s, want %s (a failed poll must not move the request)", got.Status, model.StatusPlacedAtBorrower)
	}
}
