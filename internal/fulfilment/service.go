// Package fulfilment is the entry point for new patron requests: preflight
// the command, persist the request in SUBMITTED, record the opening audit
// row, and hand the id to the workflow engine.
package fulfilment

import (
	"context"

	"github.com/google/uuid"

	"github.com/openlibraryenvironment/dcb-service-sub002/internal/model"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/obs"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/preflight"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/storage"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/workflow"
)

type Service struct {
	preflight *preflight.Pipeline
	requests  *storage.PatronRequests
	auditor   *workflow.Auditor
	orch      *workflow.Orchestrator
	logger    *obs.Logger
}

func NewService(pf *preflight.Pipeline, requests *storage.PatronRequests, auditor *workflow.Auditor, orch *workflow.Orchestrator, logger *obs.Logger) *Service {
	return &Service{
		preflight: pf,
		requests:  requests,
		auditor:   auditor,
		orch:      orch,
		logger:    logger,
	}
}

// PlaceRequest validates and persists a new request, then starts its
// workflow. A preflight failure persists nothing and returns the
// aggregated *preflight.CheckFailedError. A workflow failure after
// persistence still returns the request: it exists, carries an ERROR
// status and an audit trail, and the tracker will retry it.
func (s *Service) PlaceRequest(ctx context.Context, cmd model.PlaceRequestCommand) (model.PatronRequest, []preflight.Result, error) {
	results, err := s.preflight.Run(ctx, cmd)
	if err != nil {
		return model.PatronRequest{}, results, err
	}

	pr := model.PatronRequest{
		ID:                 uuid.NewString(),
		Status:             model.StatusSubmitted,
		PatronID:           cmd.RequestorLocalID,
		PatronHostLMSCode:  cmd.RequestorSystem,
		HomeLibraryCode:    cmd.HomeLibraryCode,
		BibClusterID:       cmd.BibClusterID,
		PickupLocationCode: cmd.PickupLocationCode,
		Description:        cmd.Description,
	}
	if err := s.requests.Insert(ctx, pr); err != nil {
		return model.PatronRequest{}, results, err
	}

	if aerr := s.auditor.Record(ctx, pr.ID, model.StatusSubmitted, model.StatusSubmitted, "Request submitted", map[string]interface{}{
		"bibClusterId":   cmd.BibClusterID,
		"pickupLocation": cmd.PickupLocationCode,
	}); aerr != nil && s.logger != nil {
		s.logger.Error(map[string]interface{}{"op": "fulfilment.audit", "request": pr.ID, "error": aerr.Error()})
	}

	placed, err := s.orch.Initiate(ctx, pr.ID)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn(map[string]interface{}{
				"op":      "fulfilment.initiate",
				"request": pr.ID,
				"error":   err.Error(),
			})
		}
		// The request exists and is in ERROR with an audit row; report it
		// rather than failing the placement.
		if reread, rerr := s.requests.Get(ctx, pr.ID); rerr == nil {
			return reread, results, nil
		}
		return pr, results, nil
	}

	return placed, results, nil
}

func (s *Service) GetRequest(ctx context.Context, id string) (model.PatronRequest, error) {
	return s.requests.Get(ctx, id)
}

func (s *Service) Audits(ctx context.Context, id string) ([]model.Audit, error) {
	return s.auditor.List(ctx, id)
}

func (s *Service) Progress(ctx context.Context, id string) (model.PatronRequest, error) {
	return s.orch.Progress(ctx, id)
}

func (s *Service) Cancel(ctx context.Context, id, reason string) (model.PatronRequest, error) {
	return s.orch.Cancel(ctx, id, reason)
}
