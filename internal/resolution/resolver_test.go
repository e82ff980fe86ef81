package resolution_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/openlibraryenvironment/dcb-service-sub002/internal/hostlms"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/model"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/refmap"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/resolution"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/storage"
)

type fixture struct {
	resolver *resolution.Resolver
	catalog  *resolution.StaticCatalog
	systemA  *hostlms.Fake
	systemB  *hostlms.Fake
	systemC  *hostlms.Fake
}

func newFixture(t *testing.T, settings resolution.Settings) fixture {
	t.Helper()
	ctx := context.Background()

	db, err := storage.Open(ctx, storage.Config{
		Path:        filepath.Join(t.TempDir(), "resolution_test.db"),
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
	seed(ref.UpsertAgency(ctx, model.Agency{Code: "agencyA2", HostLMSCode: "A"}))
	seed(ref.UpsertAgency(ctx, model.Agency{Code: "agencyB", HostLMSCode: "B"}))
	seed(ref.UpsertAgency(ctx, model.Agency{Code: "agencyC", HostLMSCode: "C"}))
	seed(ref.UpsertLocationToAgency(ctx, "circ", "MAIN", "agencyA"))
	seed(ref.UpsertMapping(ctx, refmap.CategoryShelvingLocation, "B", "STACKS", "AGENCY", "agencyB"))
	seed(ref.UpsertMapping(ctx, refmap.CategoryShelvingLocation, "A", "LOCAL", "AGENCY", "agencyA"))
	seed(ref.UpsertMapping(ctx, refmap.CategoryShelvingLocation, "A", "BRANCH", "AGENCY", "agencyA2"))
	seed(ref.UpsertMapping(ctx, refmap.CategoryShelvingLocation, "C", "ANNEX", "AGENCY", "agencyC"))

	systemA := hostlms.NewFake("A")
	systemB := hostlms.NewFake("B")
	systemC := hostlms.NewFake("C")
	clients := hostlms.NewRegistry(systemA, systemB, systemC)

	catalog := resolution.NewStaticCatalog()
	resolver := resolution.NewResolver(catalog, clients, refmap.NewService(ref), settings, nil, nil)

	return fixture{resolver: resolver, catalog: catalog, systemA: systemA, systemB: systemB, systemC: systemC}
}

func availableItem(id, bib, location, callNumber string) hostlms.Item {
	return hostlms.Item{
		LocalID:      id,
		LocalBibID:   bib,
		CallNumber:   callNumber,
		LocationCode: location,
		StatusCode:   hostlms.ItemStatusAvailable,
	}
}

func testRequest() model.PatronRequest {
	return model.PatronRequest{
		ID:                 "req-1",
		Status:             model.StatusPatronVerified,
		PatronID:           "p1",
		PatronHostLMSCode:  "A",
		HomeAgencyCode:     "agencyA",
		BibClusterID:       "cluster-1",
		PickupLocationCode: "MAIN",
	}
}

func TestResolvePicksLowestLocationThenCallNumber(t *testing.T) {
	f := newFixture(t, resolution.Settings{})
	f.catalog.Add("cluster-1", resolution.ClusterMember{HostLMSCode: "B", LocalBibID: "bibB"})
	f.systemB.SeedItem(availableItem("item-2", "bibB", "STACKS", "QA76.2"))
	f.systemB.SeedItem(availableItem("item-1", "bibB", "STACKS", "QA76.1"))

	out, err := f.resolver.Resolve(context.Background(), testRequest(), nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if out.NoItems {
		t.Fatal("expected a supplier")
	}
	if out.Supplier.LocalItemID != "item-1" {
		t.Fatalf("picked %s, want item-1 (lowest call number)", out.Supplier.LocalItemID)
	}
	if out.Supplier.AgencyCode != "agencyB" {
		t.Fatalf("agency %s, want agencyB", out.Supplier.AgencyCode)
	}
}

func TestResolveEmptyCallNumberSortsLast(t *testing.T) {
	f := newFixture(t, resolution.Settings{})
	f.catalog.Add("cluster-1", resolution.ClusterMember{HostLMSCode: "B", LocalBibID: "bibB"})
	f.systemB.SeedItem(availableItem("item-blank", "bibB", "STACKS", ""))
	f.systemB.SeedItem(availableItem("item-z", "bibB", "STACKS", "Z999"))

	out, err := f.resolver.Resolve(context.Background(), testRequest(), nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if out.Supplier.LocalItemID != "item-z" {
		t.Fatalf("picked %s, want item-z (empty call numbers sort last)", out.Supplier.LocalItemID)
	}
}

func TestResolveIsIdempotentOnUnchangedCatalog(t *testing.T) {
	f := newFixture(t, resolution.Settings{})
	f.catalog.Add("cluster-1",
		resolution.ClusterMember{HostLMSCode: "B", LocalBibID: "bibB"},
		resolution.ClusterMember{HostLMSCode: "C", LocalBibID: "bibC"},
	)
	f.systemB.SeedItem(availableItem("item-b", "bibB", "STACKS", "M100"))
	f.systemC.SeedItem(availableItem("item-c", "bibC", "ANNEX", "M100"))

	first, err := f.resolver.Resolve(context.Background(), testRequest(), nil)
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	second, err := f.resolver.Resolve(context.Background(), testRequest(), nil)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if first.Supplier.LocalItemID != second.Supplier.LocalItemID {
		t.Fatalf("resolution not deterministic: %s then %s", first.Supplier.LocalItemID, second.Supplier.LocalItemID)
	}
}

func TestResolveFiltersUnavailableAndHeldItems(t *testing.T) {
	f := newFixture(t, resolution.Settings{})
	f.catalog.Add("cluster-1", resolution.ClusterMember{HostLMSCode: "B", LocalBibID: "bibB"})

	checkedOut := availableItem("item-out", "bibB", "STACKS", "A1")
	checkedOut.StatusCode = "CHECKED_OUT"
	f.systemB.SeedItem(checkedOut)

	held := availableItem("item-held", "bibB", "STACKS", "A2")
	held.HoldCount = 2
	f.systemB.SeedItem(held)

	suppressed := availableItem("item-sup", "bibB", "STACKS", "A3")
	suppressed.Suppressed = true
	f.systemB.SeedItem(suppressed)

	f.systemB.SeedItem(availableItem("item-ok", "bibB", "STACKS", "A4"))

	out, err := f.resolver.Resolve(context.Background(), testRequest(), nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if out.Supplier.LocalItemID != "item-ok" {
		t.Fatalf("picked %s, want item-ok", out.Supplier.LocalItemID)
	}

	reasons := map[string]string{}
	for _, c := range out.Considered {
		reasons[c.LocalItemID] = c.Excluded
	}
	if reasons["item-out"] != resolution.ExcludedUnavailable {
		t.Errorf("item-out excluded as %q, want %q", reasons["item-out"], resolution.ExcludedUnavailable)
	}
	if reasons["item-held"] != resolution.ExcludedHolds {
		t.Errorf("item-held excluded as %q, want %q", reasons["item-held"], resolution.ExcludedHolds)
	}
	if reasons["item-sup"] != resolution.ExcludedSuppressed {
		t.Errorf("item-sup excluded as %q, want %q", reasons["item-sup"], resolution.ExcludedSuppressed)
	}
}

func TestResolveExcludesOwnAgencyUnlessEnabled(t *testing.T) {
	f := newFixture(t, resolution.Settings{})
	f.catalog.Add("cluster-1", resolution.ClusterMember{HostLMSCode: "A", LocalBibID: "bibA"})
	f.systemA.SeedItem(availableItem("item-home", "bibA", "LOCAL", "B1"))

	out, err := f.resolver.Resolve(context.Background(), testRequest(), nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !out.NoItems {
		t.Fatal("own-agency item should be excluded by default")
	}

	enabled := newFixture(t, resolution.Settings{OwnLibraryBorrowing: true})
	enabled.catalog.Add("cluster-1", resolution.ClusterMember{HostLMSCode: "A", LocalBibID: "bibA"})
	enabled.systemA.SeedItem(availableItem("item-home", "bibA", "LOCAL", "B1"))

	out, err = enabled.resolver.Resolve(context.Background(), testRequest(), nil)
	if err != nil {
		t.Fatalf("resolve with own-library borrowing: %v", err)
	}
	if out.NoItems {
		t.Fatal("own-agency item should be selectable when the setting is on")
	}
}

func TestResolveAllowsSiblingAgencyOnSameSystem(t *testing.T) {
	f := newFixture(t, resolution.Settings{})
	f.catalog.Add("cluster-1", resolution.ClusterMember{HostLMSCode: "A", LocalBibID: "bibA"})
	f.systemA.SeedItem(availableItem("item-sibling", "bibA", "BRANCH", "B1"))

	// The exclusion is by agency, not by system: a sibling agency on the
	// patron's own system is a legitimate supplier.
	out, err := f.resolver.Resolve(context.Background(), testRequest(), nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if out.NoItems {
		t.Fatal("sibling-agency item should be selectable")
	}
	if out.Supplier.AgencyCode != "agencyA2" {
		t.Fatalf("agency %s, want agencyA2", out.Supplier.AgencyCode)
	}
}

func TestResolveSkipsAlreadyTriedSuppliers(t *testing.T) {
	f := newFixture(t, resolution.Settings{})
	f.catalog.Add("cluster-1", resolution.ClusterMember{HostLMSCode: "B", LocalBibID: "bibB"})
	f.systemB.SeedItem(availableItem("item-1", "bibB", "STACKS", "C1"))
	f.systemB.SeedItem(availableItem("item-2", "bibB", "STACKS", "C2"))

	excluded := map[string]bool{"B/item-1": true}
	out, err := f.resolver.Resolve(context.Background(), testRequest(), excluded)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if out.Supplier.LocalItemID != "item-2" {
		t.Fatalf("picked %s, want item-2 (item-1 already tried)", out.Supplier.LocalItemID)
	}
}

func TestResolveNoItemsListsEveryCandidate(t *testing.T) {
	f := newFixture(t, resolution.Settings{})
	f.catalog.Add("cluster-1", resolution.ClusterMember{HostLMSCode: "B", LocalBibID: "bibB"})

	gone := availableItem("item-gone", "bibB", "STACKS", "D1")
	gone.Deleted = true
	f.systemB.SeedItem(gone)

	unmapped := availableItem("item-lost", "bibB", "BASEMENT", "D2")
	f.systemB.SeedItem(unmapped)

	out, err := f.resolver.Resolve(context.Background(), testRequest(), nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !out.NoItems {
		t.Fatal("expected no selectable items")
	}
	if len(out.Considered) != 2 {
		t.Fatalf("considered %d candidates, want 2", len(out.Considered))
	}
	for _, c := range out.Considered {
		if c.Excluded == "" {
			t.Errorf("candidate %s has no exclusion reason", c.LocalItemID)
		}
	}
}

func TestResolveUnknownClusterIsAnError(t *testing.T) {
	f := newFixture(t, resolution.Settings{})
	pr := testRequest()
	pr.BibClusterID = "no-such-cluster"
	_, err := f.resolver.Resolve(context.Background(), pr, nil)
	if err == nil {
		t.Fatal("expected error for unknown cluster")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		patron, lender, pickup string
		want                   model.Workflow
	}{
		{"A", "A", "A", model.WorkflowLocal},
		{"A", "B", "B", model.WorkflowExpedited},
		{"A", "B", "A", model.WorkflowStandard},
		{"A", "B", "C", model.WorkflowPickupAnywhere},
	}
	for _, c := range cases {
		if got := resolution.Classify(c.patron, c.lender, c.pickup); got != c.want {
			t.Errorf("Classify(%s,%s,%s) = %s, want %s", c.patron, c.lender, c.pickup, got, c.want)
		}
	}
}
