// Package resolution selects the supplying agency and item for a patron
// request and classifies the workflow shape the request will follow.
package resolution

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/openlibraryenvironment/dcb-service-sub002/internal/hostlms"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/model"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/obs"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/refmap"
)

// ClusterMember is one catalog record belonging to a bibliographic
// cluster, owned by one Host LMS.
type ClusterMember struct {
	HostLMSCode string
	LocalBibID  string
}

// ClusterCatalog answers cluster membership questions. Record ingestion
// and deduplication happen elsewhere; the resolver only reads.
type ClusterCatalog interface {
	Members(ctx context.Context, clusterID string) ([]ClusterMember, error)
}

// ErrClusterNotFound distinguishes a broken reference (exceptional, drives
// the request to ERROR) from an empty candidate set (a normal outcome).
var ErrClusterNotFound = errors.New("bib cluster not found")

// Exclusion reasons recorded per considered candidate.
const (
	ExcludedDeleted         = "DELETED"
	ExcludedSuppressed      = "SUPPRESSED"
	ExcludedUnavailable     = "UNAVAILABLE"
	ExcludedHolds           = "HOLDS"
	ExcludedNoAgencyMapping = "NO_AGENCY_MAPPING"
	ExcludedUnknownSystem   = "UNKNOWN_SYSTEM"
	ExcludedOwnAgency       = "OWN_AGENCY"
	ExcludedAlreadyTried    = "ALREADY_TRIED"
)

// Candidate is one item considered during resolution, with the reason it
// was excluded (empty if it survived filtering).
type Candidate struct {
	HostLMSCode  string
	LocalBibID   string
	LocalItemID  string
	Barcode      string
	CallNumber   string
	LocationCode string
	AgencyCode   string
	Excluded     string
}

// Outcome is the result of one resolution attempt. Either Supplier is set
// and Workflow names the classified shape, or NoItems is true and
// Considered explains why every candidate was rejected.
type Outcome struct {
	NoItems    bool
	Supplier   model.SupplierRequest
	Workflow   model.Workflow
	Considered []Candidate
}

// Settings are the consortium-level functional toggles the resolver
// consults.
type Settings struct {
	// OwnLibraryBorrowing permits routing a patron back to their own
	// agency when enabled.
	OwnLibraryBorrowing bool
}

type Resolver struct {
	catalog  ClusterCatalog
	clients  *hostlms.Registry
	mappings *refmap.Service
	settings Settings
	logger   *obs.Logger
	metrics  *obs.Metrics
}

func NewResolver(catalog ClusterCatalog, clients *hostlms.Registry, mappings *refmap.Service, settings Settings, logger *obs.Logger, metrics *obs.Metrics) *Resolver {
	return &Resolver{
		catalog:  catalog,
		clients:  clients,
		mappings: mappings,
		settings: settings,
		logger:   logger,
		metrics:  metrics,
	}
}

func (r *Resolver) incResolution(result string) {
	if r.metrics == nil {
		return
	}
	r.metrics.ResolutionTotal.WithLabelValues(result).Inc()
}

// Resolve enumerates the request's cluster, filters and sorts live item
// candidates, and picks the first survivor. excluded carries
// "system/itemID" keys of suppliers already tried and archived, so
// re-resolution never re-picks a supplier that failed to supply.
func (r *Resolver) Resolve(ctx context.Context, pr model.PatronRequest, excluded map[string]bool) (Outcome, error) {
	pickupAgency, err := r.mappings.ResolvePickupLocation(ctx, pr.PickupLocationContext, pr.PickupLocationCode)
	if err != nil {
		r.incResolution("error")
		return Outcome{}, fmt.Errorf("resolve pickup location %q: %w", pr.PickupLocationCode, err)
	}

	members, err := r.catalog.Members(ctx, pr.BibClusterID)
	if err != nil {
		r.incResolution("error")
		return Outcome{}, err
	}
	if len(members) == 0 {
		r.incResolution("error")
		return Outcome{}, fmt.Errorf("%w: %s", ErrClusterNotFound, pr.BibClusterID)
	}

	candidates := r.fetchCandidates(ctx, members)
	survivors := r.filter(ctx, pr, candidates, excluded)

	var live []Candidate
	for i := range survivors {
		if survivors[i].Excluded == "" {
			live = append(live, survivors[i])
		}
	}

	if len(live) == 0 {
		r.incResolution("no_items")
		return Outcome{NoItems: true, Considered: survivors}, nil
	}

	// Deterministic pick: shelving location then call number, ascending,
	// empty strings last. Ties break on item id so two runs over the same
	// snapshot agree.
	sort.SliceStable(live, func(i, j int) bool {
		if c := compareNullsLast(live[i].LocationCode, live[j].LocationCode); c != 0 {
			return c < 0
		}
		if c := compareNullsLast(live[i].CallNumber, live[j].CallNumber); c != 0 {
			return c < 0
		}
		return live[i].LocalItemID < live[j].LocalItemID
	})
	pick := live[0]

	lenderAgency, err := r.mappings.AgencyForShelvingLocation(ctx, pick.HostLMSCode, pick.LocationCode)
	if err != nil {
		// The filter already proved this mapping; losing it mid-flight is
		// an external inconsistency, not a no-items outcome.
		r.incResolution("error")
		return Outcome{}, fmt.Errorf("agency for picked item %s: %w", pick.LocalItemID, err)
	}

	workflow := Classify(pr.PatronHostLMSCode, lenderAgency.HostLMSCode, pickupAgency.HostLMSCode)

	supplier := model.SupplierRequest{
		ID:                uuid.NewString(),
		PatronRequestID:   pr.ID,
		AgencyCode:        lenderAgency.Code,
		HostLMSCode:       lenderAgency.HostLMSCode,
		LocalItemID:       pick.LocalItemID,
		LocalBibID:        pick.LocalBibID,
		LocalItemBarcode:  pick.Barcode,
		LocalItemLocation: pick.LocationCode,
		CallNumber:        pick.CallNumber,
		StatusCode:        model.SupplierPending,
	}

	r.incResolution("resolved")
	if r.logger != nil {
		r.logger.Info(map[string]interface{}{
			"op":         "resolution.resolved",
			"request":    pr.ID,
			"agency":     lenderAgency.Code,
			"item":       pick.LocalItemID,
			"workflow":   string(workflow),
			"candidates": len(survivors),
		})
	}

	return Outcome{Supplier: supplier, Workflow: workflow, Considered: survivors}, nil
}

// fetchCandidates asks every member system for its item list in parallel
// and merges the results. Arrival order does not matter; the final sort is
// deterministic. A system that errors contributes nothing but does not
// abort the attempt.
func (r *Resolver) fetchCandidates(ctx context.Context, members []ClusterMember) []Candidate {
	var (
		mu  sync.Mutex
		out []Candidate
		wg  sync.WaitGroup
	)

	for _, m := range members {
		client, err := r.clients.Get(m.HostLMSCode)
		if err != nil {
			mu.Lock()
			out = append(out, Candidate{
				HostLMSCode: m.HostLMSCode,
				LocalBibID:  m.LocalBibID,
				Excluded:    ExcludedUnknownSystem,
			})
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(m ClusterMember, client hostlms.Client) {
			defer wg.Done()
			items, err := client.GetItemsForBib(ctx, m.LocalBibID)
			if err != nil {
				if r.logger != nil {
					r.logger.Warn(map[string]interface{}{
						"op":     "resolution.items",
						"system": m.HostLMSCode,
						"bib":    m.LocalBibID,
						"error":  err.Error(),
					})
				}
				return
			}
			mu.Lock()
			for _, it := range items {
				out = append(out, Candidate{
					HostLMSCode:  m.HostLMSCode,
					LocalBibID:   m.LocalBibID,
					LocalItemID:  it.LocalID,
					Barcode:      it.Barcode,
					CallNumber:   it.CallNumber,
					LocationCode: it.LocationCode,
					Excluded:     rawExclusion(it),
				})
			}
			mu.Unlock()
		}(m, client)
	}

	wg.Wait()
	return out
}

func rawExclusion(it hostlms.Item) string {
	switch {
	case it.Deleted:
		return ExcludedDeleted
	case it.Suppressed:
		return ExcludedSuppressed
	case it.StatusCode != hostlms.ItemStatusAvailable:
		return ExcludedUnavailable
	case it.HoldCount > 0:
		return ExcludedHolds
	}
	return ""
}

// filter applies the agency-level rules to candidates that survived the
// raw item checks.
func (r *Resolver) filter(ctx context.Context, pr model.PatronRequest, candidates []Candidate, excluded map[string]bool) []Candidate {
	for i := range candidates {
		c := &candidates[i]
		if c.Excluded != "" {
			continue
		}
		if excluded[c.HostLMSCode+"/"+c.LocalItemID] {
			c.Excluded = ExcludedAlreadyTried
			continue
		}
		agency, err := r.mappings.AgencyForShelvingLocation(ctx, c.HostLMSCode, c.LocationCode)
		if err != nil {
			c.Excluded = ExcludedNoAgencyMapping
			continue
		}
		c.AgencyCode = agency.Code
		if agency.HostLMSCode == "" {
			c.Excluded = ExcludedUnknownSystem
			continue
		}
		if !r.settings.OwnLibraryBorrowing && agency.Code == pr.HomeAgencyCode {
			c.Excluded = ExcludedOwnAgency
			continue
		}
	}
	return candidates
}

// Classify derives the workflow shape from Host LMS system identity. Two
// agencies on the same system compare equal here even though their codes
// differ.
func Classify(patronSystem, lenderSystem, pickupSystem string) model.Workflow {
	switch {
	case patronSystem == lenderSystem && lenderSystem == pickupSystem:
		return model.WorkflowLocal
	case lenderSystem == pickupSystem:
		return model.WorkflowExpedited
	case patronSystem == pickupSystem:
		return model.WorkflowStandard
	default:
		return model.WorkflowPickupAnywhere
	}
}

func compareNullsLast(a, b string) int {
	if a == b {
		return 0
	}
	if a == "" {
		return 1
	}
	if b == "" {
		return -1
	}
	if a < b {
		return -1
	}
	return 1
}
