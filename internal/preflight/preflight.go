// Package preflight validates a place-request command before anything is
// persisted. Every check runs to completion so the caller sees all
// failures at once, not just the first.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openlibraryenvironment/dcb-service-sub002/internal/hostlms"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/model"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/obs"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/refmap"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/storage"
)

// Result is the outcome of one check. Code is a stable, localizable token;
// Description is for humans.
type Result struct {
	Check       string `json:"check"`
	Passed      bool   `json:"passed"`
	Code        string `json:"code,omitempty"`
	Description string `json:"description,omitempty"`
}

func passed(check string) Result {
	return Result{Check: check, Passed: true}
}

func failed(check, code, format string, args ...interface{}) Result {
	return Result{Check: check, Passed: false, Code: code, Description: fmt.Sprintf(format, args...)}
}

// CheckFailedError aggregates every failed check for one command.
type CheckFailedError struct {
	Failures []Result
}

func (e *CheckFailedError) Error() string {
	var b strings.Builder
	b.WriteString("preflight failed:")
	for _, f := range e.Failures {
		b.WriteString(" [")
		b.WriteString(f.Code)
		b.WriteString("] ")
		b.WriteString(f.Description)
		b.WriteString(";")
	}
	return strings.TrimSuffix(b.String(), ";")
}

// Limits are the request-count ceilings. Zero means unlimited.
type Limits struct {
	GlobalActiveRequests    int
	PerAgencyActiveRequests int
	DuplicateWindow         time.Duration
}

type Pipeline struct {
	requests *storage.PatronRequests
	clients  *hostlms.Registry
	mappings *refmap.Service
	limits   Limits
	metrics  *obs.Metrics
}

func NewPipeline(requests *storage.PatronRequests, clients *hostlms.Registry, mappings *refmap.Service, limits Limits, metrics *obs.Metrics) *Pipeline {
	if limits.DuplicateWindow <= 0 {
		limits.DuplicateWindow = 15 * time.Minute
	}
	return &Pipeline{
		requests: requests,
		clients:  clients,
		mappings: mappings,
		limits:   limits,
		metrics:  metrics,
	}
}

// Run executes every check in order and returns all results. The error is
// a *CheckFailedError when any check failed, nil otherwise.
func (p *Pipeline) Run(ctx context.Context, cmd model.PlaceRequestCommand) ([]Result, error) {
	checks := []func(context.Context, model.PlaceRequestCommand) Result{
		p.checkGlobalLimit,
		p.checkAgencyLimit,
		p.checkPickupLocationKnown,
		p.checkPickupLocationAgency,
		p.checkDuplicate,
		p.checkPatronResolvable,
	}

	results := make([]Result, 0, len(checks))
	var failures []Result
	for _, check := range checks {
		r := check(ctx, cmd)
		results = append(results, r)
		if !r.Passed {
			failures = append(failures, r)
			if p.metrics != nil {
				p.metrics.PreflightFailed.WithLabelValues(r.Check).Inc()
			}
		}
	}

	if len(failures) > 0 {
		return results, &CheckFailedError{Failures: failures}
	}
	return results, nil
}

func (p *Pipeline) checkGlobalLimit(ctx context.Context, _ model.PlaceRequestCommand) Result {
	const check = "GlobalRequestLimit"
	if p.limits.GlobalActiveRequests <= 0 {
		return passed(check)
	}
	n, err := p.requests.CountActive(ctx, "")
	if err != nil {
		return failed(check, "LIMIT_CHECK_FAILED", "could not count active requests: %v", err)
	}
	if n >= p.limits.GlobalActiveRequests {
		return failed(check, "GLOBAL_LIMIT_REACHED", "active request limit %d reached", p.limits.GlobalActiveRequests)
	}
	return passed(check)
}

func (p *Pipeline) checkAgencyLimit(ctx context.Context, cmd model.PlaceRequestCommand) Result {
	const check = "AgencyRequestLimit"
	if p.limits.PerAgencyActiveRequests <= 0 {
		return passed(check)
	}
	agency, err := p.mappings.AgencyForHomeLibrary(ctx, cmd.RequestorSystem, cmd.HomeLibraryCode)
	if err != nil {
		// The patron-resolvability check reports the mapping problem; this
		// check only enforces the ceiling when the agency is knowable.
		return passed(check)
	}
	n, err := p.requests.CountActive(ctx, agency.Code)
	if err != nil {
		return failed(check, "LIMIT_CHECK_FAILED", "could not count active requests for %s: %v", agency.Code, err)
	}
	if n >= p.limits.PerAgencyActiveRequests {
		return failed(check, "AGENCY_LIMIT_REACHED", "agency %s active request limit %d reached", agency.Code, p.limits.PerAgencyActiveRequests)
	}
	return passed(check)
}

func (p *Pipeline) checkPickupLocationKnown(ctx context.Context, cmd model.PlaceRequestCommand) Result {
	const check = "PickupLocationKnown"
	if cmd.PickupLocationCode == "" {
		return failed(check, "PICKUP_LOCATION_MISSING", "pickup location code is required")
	}
	if !p.mappings.KnownPickupLocation(ctx, "", cmd.PickupLocationCode) {
		return failed(check, "UNKNOWN_PICKUP_LOCATION", "pickup location %q is not recognised", cmd.PickupLocationCode)
	}
	return passed(check)
}

func (p *Pipeline) checkPickupLocationAgency(ctx context.Context, cmd model.PlaceRequestCommand) Result {
	const check = "PickupLocationToAgency"
	if cmd.PickupLocationCode == "" {
		// Reported by PickupLocationKnown; nothing further to map.
		return passed(check)
	}
	agency, err := p.mappings.ResolvePickupLocation(ctx, "", cmd.PickupLocationCode)
	if err != nil {
		if errors.Is(err, refmap.ErrNoMapping) {
			return failed(check, "PICKUP_LOCATION_NOT_MAPPED", "pickup location %q maps to no agency", cmd.PickupLocationCode)
		}
		return failed(check, "PICKUP_MAPPING_FAILED", "pickup location mapping failed: %v", err)
	}
	if agency.HostLMSCode == "" {
		return failed(check, "PICKUP_AGENCY_NO_SYSTEM", "pickup agency %q has no host system", agency.Code)
	}
	if _, err := p.clients.Get(agency.HostLMSCode); err != nil {
		return failed(check, "PICKUP_SYSTEM_UNKNOWN", "pickup agency %q is on unknown system %q", agency.Code, agency.HostLMSCode)
	}
	return passed(check)
}

func (p *Pipeline) checkDuplicate(ctx context.Context, cmd model.PlaceRequestCommand) Result {
	const check = "DuplicateRequest"
	dup, found, err := p.requests.FindDuplicate(ctx, cmd.RequestorLocalID, cmd.BibClusterID, p.limits.DuplicateWindow)
	if err != nil {
		return failed(check, "DUPLICATE_CHECK_FAILED", "duplicate check failed: %v", err)
	}
	if found {
		return failed(check, "DUPLICATE_REQUEST", "request %s for the same item is already in progress (status %s)", dup.ID, dup.Status)
	}
	return passed(check)
}

func (p *Pipeline) checkPatronResolvable(ctx context.Context, cmd model.PlaceRequestCommand) Result {
	const check = "PatronResolvable"
	client, err := p.clients.Get(cmd.RequestorSystem)
	if err != nil {
		return failed(check, "UNKNOWN_PATRON_SYSTEM", "patron system %q is not registered", cmd.RequestorSystem)
	}
	patron, err := client.GetPatronByLocalID(ctx, cmd.RequestorLocalID)
	if err != nil {
		return failed(check, "PATRON_NOT_FOUND", "patron %q not found at %s", cmd.RequestorLocalID, cmd.RequestorSystem)
	}
	if _, err := p.mappings.ToCanonical(ctx, refmap.CategoryPatronType, cmd.RequestorSystem, patron.LocalPatronType); err != nil {
		return failed(check, "PATRON_TYPE_NOT_MAPPED", "patron type %q at %s has no canonical mapping", patron.LocalPatronType, cmd.RequestorSystem)
	}
	return passed(check)
}
