package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/openlibraryenvironment/dcb-service-sub002/internal/model"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/refmap"
)

// VerifyPatron confirms the requesting patron exists at their home system,
// is in good standing, and has a mappable patron type, then pins the
// patron's home agency on the request.
type VerifyPatron struct {
	d Deps
}

func (a *VerifyPatron) Name() string { return "VerifyPatron" }

func (a *VerifyPatron) Applicable(wc *Context) bool {
	return wc.EffectiveStatus() == model.StatusSubmitted
}

func (a *VerifyPatron) Attempt(ctx context.Context, wc *Context) (model.PatronRequest, map[string]interface{}, error) {
	pr := wc.Request

	client, err := a.d.Clients.Get(pr.PatronHostLMSCode)
	if err != nil {
		return pr, nil, err
	}

	patron, err := client.GetPatronByLocalID(ctx, pr.PatronID)
	if err != nil {
		return pr, nil, err
	}
	if patron.Deleted {
		return pr, nil, fmt.Errorf("patron %s is deleted at %s", pr.PatronID, pr.PatronHostLMSCode)
	}
	if patron.Blocked {
		return pr, nil, fmt.Errorf("patron %s is blocked at %s", pr.PatronID, pr.PatronHostLMSCode)
	}

	canonicalType, err := a.d.Mappings.ToCanonical(ctx, refmap.CategoryPatronType, pr.PatronHostLMSCode, patron.LocalPatronType)
	if err != nil {
		if errors.Is(err, refmap.ErrNoMapping) {
			return pr, nil, fmt.Errorf("patron type %q at %s has no canonical mapping", patron.LocalPatronType, pr.PatronHostLMSCode)
		}
		return pr, nil, err
	}

	homeLibrary := patron.HomeLibraryCode
	if pr.HomeLibraryCode != "" {
		homeLibrary = pr.HomeLibraryCode
	}
	agency, err := a.d.Mappings.AgencyForHomeLibrary(ctx, pr.PatronHostLMSCode, homeLibrary)
	if err != nil {
		return pr, nil, fmt.Errorf("home library %q at %s maps to no agency: %w", homeLibrary, pr.PatronHostLMSCode, err)
	}

	pr.HomeAgencyCode = agency.Code
	pr.Status = model.StatusPatronVerified
	return pr, map[string]interface{}{
		"patronType":       patron.LocalPatronType,
		"canonicalType":    canonicalType,
		"homeAgency":       agency.Code,
		"homeAgencySystem": agency.HostLMSCode,
	}, nil
}
