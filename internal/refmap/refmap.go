// Package refmap translates local codes to canonical values and back. The
// canonical "DCB" context is the hub: every backend maps to and from DCB so
// N systems need N mappings, not N².
package refmap

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/openlibraryenvironment/dcb-service-sub002/internal/model"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/storage"
)

const CanonicalContext = "DCB"

const (
	CategoryPatronType       = "patronType"
	CategoryItemType         = "itemType"
	CategoryShelvingLocation = "Location"
)

var ErrNoMapping = errors.New("no mapping")

type Service struct {
	ref *storage.Reference
}

func NewService(ref *storage.Reference) *Service {
	return &Service{ref: ref}
}

// ToCanonical maps a local value into the DCB hub context.
func (s *Service) ToCanonical(ctx context.Context, category, fromContext, value string) (string, error) {
	v, err := s.ref.FindMapping(ctx, category, fromContext, value, CanonicalContext)
	if errors.Is(err, storage.ErrNotFound) {
		return "", ErrNoMapping
	}
	return v, err
}

// FromCanonical maps a DCB hub value into a target system's local value.
func (s *Service) FromCanonical(ctx context.Context, category, value, toContext string) (string, error) {
	v, err := s.ref.FindMapping(ctx, category, CanonicalContext, value, toContext)
	if errors.Is(err, storage.ErrNotFound) {
		return "", ErrNoMapping
	}
	return v, err
}

// MapPatronType does the two-hop spine translation: local type at the home
// system → canonical → local type at the target system.
func (s *Service) MapPatronType(ctx context.Context, fromSystem, localType, toSystem string) (string, error) {
	canonical, err := s.ToCanonical(ctx, CategoryPatronType, fromSystem, localType)
	if err != nil {
		return "", err
	}
	return s.FromCanonical(ctx, CategoryPatronType, canonical, toSystem)
}

// AgencyForShelvingLocation maps an item's shelving location at a system to
// the agency that owns it.
func (s *Service) AgencyForShelvingLocation(ctx context.Context, systemCode, locationCode string) (model.Agency, error) {
	agencyCode, err := s.ref.FindMapping(ctx, CategoryShelvingLocation, systemCode, locationCode, "AGENCY")
	if errors.Is(err, storage.ErrNotFound) {
		return model.Agency{}, ErrNoMapping
	}
	if err != nil {
		return model.Agency{}, err
	}
	agency, err := s.ref.GetAgency(ctx, agencyCode)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Agency{}, ErrNoMapping
	}
	return agency, err
}

// AgencyForHomeLibrary maps a patron's home library code at their home
// system to the owning agency.
func (s *Service) AgencyForHomeLibrary(ctx context.Context, systemCode, homeLibraryCode string) (model.Agency, error) {
	agencyCode, err := s.ref.FindLocationToAgency(ctx, systemCode, homeLibraryCode)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Agency{}, ErrNoMapping
	}
	if err != nil {
		return model.Agency{}, err
	}
	agency, err := s.ref.GetAgency(ctx, agencyCode)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Agency{}, ErrNoMapping
	}
	return agency, err
}

// ResolvePickupLocation resolves a pickup-location code to its owning
// agency. A UUID-shaped code addresses the location catalog directly.
// Anything else goes through the location→agency mapping table, optionally
// scoped by a "context:symbol" naming-authority prefix.
func (s *Service) ResolvePickupLocation(ctx context.Context, namingContext, code string) (model.Agency, error) {
	if _, err := uuid.Parse(code); err == nil {
		loc, err := s.ref.GetLocationByID(ctx, code)
		if errors.Is(err, storage.ErrNotFound) {
			return model.Agency{}, ErrNoMapping
		}
		if err != nil {
			return model.Agency{}, err
		}
		agency, err := s.ref.GetAgency(ctx, loc.AgencyCode)
		if errors.Is(err, storage.ErrNotFound) {
			return model.Agency{}, ErrNoMapping
		}
		return agency, err
	}

	symbol := code
	if i := strings.IndexByte(code, ':'); i > 0 {
		namingContext = code[:i]
		symbol = code[i+1:]
	}

	agencyCode, err := s.ref.FindLocationToAgency(ctx, namingContext, symbol)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Agency{}, ErrNoMapping
	}
	if err != nil {
		return model.Agency{}, err
	}
	agency, err := s.ref.GetAgency(ctx, agencyCode)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Agency{}, ErrNoMapping
	}
	return agency, err
}

// KnownPickupLocation reports whether the code resolves at all, without
// caring about the agency. Used by preflight.
func (s *Service) KnownPickupLocation(ctx context.Context, namingContext, code string) bool {
	_, err := s.ResolvePickupLocation(ctx, namingContext, code)
	return err == nil
}
