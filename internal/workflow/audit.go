package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/openlibraryenvironment/dcb-service-sub002/internal/model"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/storage"
)

// Auditor appends immutable status-change records. One row per transition
// attempt, successful or failed; failures carry the raw cause in the data
// payload so operators never meet a silent ERROR.
type Auditor struct {
	audits *storage.Audits
}

func NewAuditor(audits *storage.Audits) *Auditor {
	return &Auditor{audits: audits}
}

func (a *Auditor) Record(ctx context.Context, requestID string, from, to model.Status, description string, data map[string]interface{}) error {
	return a.audits.Append(ctx, model.Audit{
		ID:              uuid.NewString(),
		PatronRequestID: requestID,
		FromStatus:      from,
		ToStatus:        to,
		Description:     description,
		Data:            data,
		Timestamp:       time.Now(),
	})
}

func (a *Auditor) List(ctx context.Context, requestID string) ([]model.Audit, error) {
	return a.audits.List(ctx, requestID)
}
