package preflight_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/openlibraryenvironment/dcb-service-sub002/internal/hostlms"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/model"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/preflight"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/refmap"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/storage"
)

type fixture struct {
	requests *storage.PatronRequests
	systemA  *hostlms.Fake
	pipeline *preflight.Pipeline
}

func newFixture(t *testing.T, limits preflight.Limits) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := storage.Open(ctx, storage.Config{
		Path:        filepath.Join(t.TempDir(), "preflight_test.db"),
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
	seed(ref.UpsertLocationToAgency(ctx, "A", "LIB-A", "agencyA"))
	seed(ref.UpsertLocationToAgency(ctx, "pickup", "MAIN", "agencyA"))
	seed(ref.UpsertMapping(ctx, refmap.CategoryPatronType, "A", "UG", refmap.CanonicalContext, "UNDERGRAD"))

	systemA := hostlms.NewFake("A")
	systemA.SeedPatron(hostlms.Patron{LocalID: "p1", LocalPatronType: "UG", HomeLibraryCode: "LIB-A"})

	requests := storage.NewPatronRequests(db.DB)
	pipeline := preflight.NewPipeline(requests, hostlms.NewRegistry(systemA), refmap.NewService(ref), limits, nil)
	return &fixture{requests: requests, systemA: systemA, pipeline: pipeline}
}

func validCommand() model.PlaceRequestCommand {
	return model.PlaceRequestCommand{
		BibClusterID:       "cluster-1",
		PickupLocationCode: "MAIN",
		RequestorLocalID:   "p1",
		RequestorSystem:    "A",
		HomeLibraryCode:    "LIB-A",
	}
}

func TestValidCommandPassesEveryCheck(t *testing.T) {
	f := newFixture(t, preflight.Limits{})
	results, err := f.pipeline.Run(context.Background(), validCommand())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, r := range results {
		if !r.Passed {
			t.Errorf("check %s failed: [%s] %s", r.Check, r.Code, r.Description)
		}
	}
}

func TestEveryCheckRunsEvenWhenEarlierOnesFail(t *testing.T) {
	f := newFixture(t, preflight.Limits{})

	cmd := validCommand()
	cmd.PickupLocationCode = "NOWHERE"
	cmd.RequestorLocalID = "ghost"

	results, err := f.pipeline.Run(context.Background(), cmd)
	if err == nil {
		t.Fatal("run should fail")
	}

	// No short-circuit: the full result set is always produced.
	if len(results) != 6 {
		t.Fatalf("%d results, want 6", len(results))
	}

	var cf *preflight.CheckFailedError
	if !errors.As(err, &cf) {
		t.Fatalf("error type %T, want *CheckFailedError", err)
	}
	codes := map[string]bool{}
	for _, fr := range cf.Failures {
		codes[fr.Code] = true
	}
	for _, want := range []string{"UNKNOWN_PICKUP_LOCATION", "PICKUP_LOCATION_NOT_MAPPED", "PATRON_NOT_FOUND"} {
		if !codes[want] {
			t.Errorf("aggregated failures missing %s (got %v)", want, codes)
		}
	}
}

func TestDuplicateRequestIsRejectedInsideWindow(t *testing.T) {
	f := newFixture(t, preflight.Limits{DuplicateWindow: time.Hour})
	ctx := context.Background()

	if err := f.requests.Insert(ctx, model.PatronRequest{
		ID:                 uuid.NewString(),
		Status:             model.StatusResolved,
		PatronID:           "p1",
		PatronHostLMSCode:  "A",
		BibClusterID:       "cluster-1",
		PickupLocationCode: "MAIN",
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	_, err := f.pipeline.Run(ctx, validCommand())
	var cf *preflight.CheckFailedError
	if !errors.As(err, &cf) {
		t.Fatalf("want duplicate failure, got %v", err)
	}
	if len(cf.Failures) != 1 || cf.Failures[0].Code != "DUPLICATE_REQUEST" {
		t.Fatalf("failures %+v, want a single DUPLICATE_REQUEST", cf.Failures)
	}

	// A different cluster is not a duplicate.
	cmd := validCommand()
	cmd.BibClusterID = "cluster-2"
	if _, err := f.pipeline.Run(ctx, cmd); err != nil {
		t.Fatalf("distinct cluster should pass: %v", err)
	}
}

func TestFinishedRequestsDoNotCountAsDuplicates(t *testing.T) {
	f := newFixture(t, preflight.Limits{DuplicateWindow: time.Hour})
	ctx := context.Background()

	if err := f.requests.Insert(ctx, model.PatronRequest{
		ID:                 uuid.NewString(),
		Status:             model.StatusFinalised,
		PatronID:           "p1",
		PatronHostLMSCode:  "A",
		BibClusterID:       "cluster-1",
		PickupLocationCode: "MAIN",
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if _, err := f.pipeline.Run(ctx, validCommand()); err != nil {
		t.Fatalf("terminal prior request should not block: %v", err)
	}
}

func TestGlobalLimitBlocksNewRequests(t *testing.T) {
	f := newFixture(t, preflight.Limits{GlobalActiveRequests: 1})
	ctx := context.Background()

	if err := f.requests.Insert(ctx, model.PatronRequest{
		ID:                uuid.NewString(),
		Status:            model.StatusLoaned,
		PatronID:          "other",
		PatronHostLMSCode: "A",
		BibClusterID:      "cluster-9",
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	_, err := f.pipeline.Run(ctx, validCommand())
	var cf *preflight.CheckFailedError
	if !errors.As(err, &cf) {
		t.Fatalf("want limit failure, got %v", err)
	}
	if cf.Failures[0].Code != "GLOBAL_LIMIT_REACHED" {
		t.Fatalf("code %s, want GLOBAL_LIMIT_REACHED", cf.Failures[0].Code)
	}
}

func TestAgencyLimitBlocksNewRequests(t *testing.T) {
	f := newFixture(t, preflight.Limits{PerAgencyActiveRequests: 1})
	ctx := context.Background()

	if err := f.requests.Insert(ctx, model.PatronRequest{
		ID:                uuid.NewString(),
		Status:            model.StatusLoaned,
		PatronID:          "other",
		PatronHostLMSCode: "A",
		HomeAgencyCode:    "agencyA",
		BibClusterID:      "cluster-9",
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	_, err := f.pipeline.Run(ctx, validCommand())
	var cf *preflight.CheckFailedError
	if !errors.As(err, &cf) {
		t.Fatalf("want agency limit failure, got %v", err)
	}
	if cf.Failures[0].Code != "AGENCY_LIMIT_REACHED" {
		t.Fatalf("code %s, want AGENCY_LIMIT_REACHED", cf.Failures[0].Code)
	}
}

func TestBlockedPatronTypeFailsPreflight(t *testing.T) {
	f := newFixture(t, preflight.Limits{})
	f.systemA.SeedPatron(hostlms.Patron{LocalID: "p9", LocalPatronType: "UNMAPPED"})

	cmd := validCommand()
	cmd.RequestorLocalID = "p9"

	_, err := f.pipeline.Run(context.Background(), cmd)
	var cf *preflight.CheckFailedError
	if !errors.As(err, &cf) {
		t.Fatalf("want patron-type failure, got %v", err)
	}
	if cf.Failures[0].Code != "PATRON_TYPE_NOT_MAPPED" {
		t.Fatalf("code %s, want PATRON_TYPE_NOT_MAPPED", cf.Failures[0].Code)
	}
}
