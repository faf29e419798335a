package interfaces

import (
	"context"
	"time"

	"canvas-server/shared/models"

	"github.com/google/uuid"
)

// JobRepository defines the interface for durable job record storage.
//
//go:generate mockery --name JobRepository --output ./mocks --outpkg mocks --case=underscore
type JobRepository interface {
	// Create persists a new provisional job record.
	Create(ctx context.Context, querier DBTX, job *models.Job) error

	// GetByID retrieves a job by its internal ID.
	GetByID(ctx context.Context, querier DBTX, id uuid.UUID) (*models.Job, error)

	// GetByExternalID retrieves a job by the provider-assigned request ID.
	// Returns models.ErrJobNotFound if no job carries this external ID.
	GetByExternalID(ctx context.Context, querier DBTX, externalRequestID string) (*models.Job, error)

	// BindExternalID replaces the local placeholder with the provider-assigned
	// request ID. Idempotent: binding the same value twice is a no-op.
	BindExternalID(ctx context.Context, querier DBTX, id uuid.UUID, externalRequestID string) error

	// Finalize performs the one-shot terminal transition. Returns the number of
	// rows updated: zero means the job was already terminal and nothing changed.
	Finalize(ctx context.Context, querier DBTX, id uuid.UUID, status models.JobStatus, result *models.JobResult, errMsg *string, completedAt time.Time) (int64, error)

	// ListByIDs retrieves jobs for a set of internal IDs.
	ListByIDs(ctx context.Context, querier DBTX, ids []uuid.UUID) ([]*models.Job, error)

	// ListByOwner retrieves the owner's jobs, newest first, keyset-paginated
	// by (created_at, id). A zero cursor time means the first page.
	ListByOwner(ctx context.Context, querier DBTX, ownerID uuid.UUID, cursorTime time.Time, cursorID uuid.UUID, limit int) ([]*models.Job, error)
}
