package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/openlibraryenvironment/dcb-service-sub002/internal/api"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/fulfilment"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/hostlms"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/locks"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/model"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/preflight"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/refmap"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/resolution"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/storage"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/workflow"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()

	db, err := storage.Open(ctx, storage.Config{
		Path:        filepath.Join(t.TempDir(), "api_test.db"),
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
	pf := preflight.NewPipeline(requests, clients, mappings, preflight.Limits{}, nil)
	svc := fulfilment.NewService(pf, requests, auditor, orch, nil)

	ts := httptest.NewServer(api.NewServer(svc).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func placeBody() []byte {
	return []byte(`{
		"citation": {"bibClusterId": "cluster-1"},
		"pickupLocation": {"code": "MAIN"},
		"requestor": {"localId": "p1", "localSystemCode": "A", "homeLibraryCode": "LIB-A"},
		"description": "A book"
	}`)
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestPlaceRequestRunsTheWorkflowSynchronously(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/v1/patron-requests", "application/json", bytes.NewReader(placeBody()))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status %d, want 201", resp.StatusCode)
	}
	var created struct {
		ID             string `json:"id"`
		Status         string `json:"status"`
		ActiveWorkflow string `json:"activeWorkflow"`
	}
	decode(t, resp, &created)
	if created.ID == "" {
		t.Fatal("no request id returned")
	}
	if created.Status != string(model.StatusPlacedAtBorrower) {
		t.Fatalf("status %s, want %s", created.Status, model.StatusPlacedAtBorrower)
	}
	if created.ActiveWorkflow != string(model.WorkflowStandard) {
		t.Fatalf("workflow %s, want %s", created.ActiveWorkflow, model.WorkflowStandard)
	}

	// The resource is retrievable and carries its audit trail.
	resp, err = http.Get(ts.URL + "/v1/patron-requests/" + created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var fetched struct {
		ID string `json:"id"`
	}
	decode(t, resp, &fetched)
	if fetched.ID != created.ID {
		t.Fatalf("fetched %s, want %s", fetched.ID, created.ID)
	}

	resp, err = http.Get(ts.URL + "/v1/patron-requests/" + created.ID + "/audits")
	if err != nil {
		t.Fatalf("audits: %v", err)
	}
	var audits []struct {
		FromStatus  string `json:"fromStatus"`
		ToStatus    string `json:"toStatus"`
		Description string `json:"description"`
	}
	decode(t, resp, &audits)
	if len(audits) < 4 {
		t.Fatalf("%d audit rows, want at least submission + 4 transitions", len(audits))
	}
}

func TestPlaceRequestPreflightFailureReturnsChecks(t *testing.T) {
	ts := newTestServer(t)

	body := []byte(`{
		"citation": {"bibClusterId": "cluster-1"},
		"pickupLocation": {"code": "NOWHERE"},
		"requestor": {"localId": "p1", "localSystemCode": "A"}
	}`)
	resp, err := http.Post(ts.URL+"/v1/patron-requests", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", resp.StatusCode)
	}
	var failure struct {
		Error  string `json:"error"`
		Checks []struct {
			Check  string `json:"check"`
			Passed bool   `json:"passed"`
			Code   string `json:"code"`
		} `json:"checks"`
	}
	decode(t, resp, &failure)
	if len(failure.Checks) == 0 {
		t.Fatal("response should list the executed checks")
	}
	var sawFailure bool
	for _, c := range failure.Checks {
		if !c.Passed {
			sawFailure = true
		}
	}
	if !sawFailure {
		t.Fatal("at least one check should be marked failed")
	}
}

func TestPlaceRequestRejectsIncompleteCommands(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/v1/patron-requests", "application/json", bytes.NewReader([]byte(`{"citation":{}}`)))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", resp.StatusCode)
	}
}

func TestCancelEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/v1/patron-requests", "application/json", bytes.NewReader(placeBody()))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	var created struct {
		ID string `json:"id"`
	}
	decode(t, resp, &created)

	resp, err = http.Post(ts.URL+"/v1/patron-requests/"+created.ID+"/cancel",
		"application/json", bytes.NewReader([]byte(`{"reason":"changed plans"}`)))
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	var cancelled struct {
		Status string `json:"status"`
	}
	decode(t, resp, &cancelled)
	if cancelled.Status != string(model.StatusCancelled) {
		t.Fatalf("status %s, want %s", cancelled.Status, model.StatusCancelled)
	}

	// Cancelling again conflicts.
	resp, err = http.Post(ts.URL+"/v1/patron-requests/"+created.ID+"/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status %d, want 409", resp.StatusCode)
	}
}

func TestUnknownRequestIs404(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/patron-requests/no-such-id")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d, want 404", resp.StatusCode)
	}
}
