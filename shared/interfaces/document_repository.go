package interfaces

import (
	"context"
	"time"

	"canvas-server/shared/models"

	"github.com/google/uuid"
)

// DocumentRepository defines the interface for canvas document storage.
//
//go:generate mockery --name DocumentRepository --output ./mocks --outpkg mocks --case=underscore
type DocumentRepository interface {
	// Create persists a new document.
	Create(ctx context.Context, querier DBTX, doc *models.Document) error

	// GetByID retrieves a document by ID. Returns models.ErrDocumentNotFound
	// if the document has been deleted.
	GetByID(ctx context.Context, querier DBTX, id uuid.UUID) (*models.Document, error)

	// Touch bumps the document's updated_at timestamp.
	Touch(ctx context.Context, querier DBTX, id uuid.UUID, at time.Time) error
}

// DocumentNodeRepository defines the interface for per-node generation state,
// normalized as rows keyed by (document_id, node_id) with a row-level timestamp.
//
//go:generate mockery --name DocumentNodeRepository --output ./mocks --outpkg mocks --case=underscore
type DocumentNodeRepository interface {
	// Get retrieves the state row of one node. Returns models.ErrNodeNotFound
	// if the node does not exist.
	Get(ctx context.Context, querier DBTX, documentID uuid.UUID, nodeID string) (*models.DocumentNode, error)

	// Upsert writes the node state, last-write-wins on the state timestamp:
	// a write older than the stored row returns models.ErrStaleNodeUpdate
	// and leaves the row untouched.
	Upsert(ctx context.Context, querier DBTX, node *models.DocumentNode) error

	// ListByDocument returns all node state rows of a document.
	ListByDocument(ctx context.Context, querier DBTX, documentID uuid.UUID) ([]*models.DocumentNode, error)

	// Delete removes a node state row.
	Delete(ctx context.Context, querier DBTX, documentID uuid.UUID, nodeID string) error
}
