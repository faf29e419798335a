package interfaces

import (
	"context"

	"canvas-server/shared/models"

	"github.com/google/uuid"
)

// JobLifecycle defines the job lifecycle manager consumed by the submission
// API and the webhook reconciliation engine.
//
//go:generate mockery --name JobLifecycle --output ./mocks --outpkg mocks --case=underscore
type JobLifecycle interface {
	// CreateProvisional persists a job with a local placeholder external ID.
	// Must complete before the outbound provider call is issued.
	CreateProvisional(ctx context.Context, ownerID uuid.UUID, kind models.JobKind, input []byte, metadata *models.JobMetadata) (*models.Job, error)

	// BindExternalID replaces the placeholder with the provider-assigned
	// request ID. Idempotent.
	BindExternalID(ctx context.Context, jobID uuid.UUID, externalRequestID string) error

	// FinalizeCompleted transitions the job to completed with its result.
	// A second call on an already-terminal job is a no-op, never an error.
	FinalizeCompleted(ctx context.Context, jobID uuid.UUID, result models.JobResult) error

	// FinalizeFailed transitions the job to failed with an error message.
	// Same no-op semantics for already-terminal jobs.
	FinalizeFailed(ctx context.Context, jobID uuid.UUID, errMsg string) error

	// GetByExternalID looks a job up by the provider request ID.
	GetByExternalID(ctx context.Context, externalRequestID string) (*models.Job, error)

	// GetByID looks a job up by its internal ID.
	GetByID(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
}

// JobCache is a read-through cache for job status lookups.
type JobCache interface {
	Get(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
	Set(ctx context.Context, job *models.Job) error
	Invalidate(ctx context.Context, jobID uuid.UUID) error
}
