package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	interfaces "canvas-server/shared/interfaces"
	"canvas-server/shared/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Compile-time check to ensure implementation satisfies the interface.
var _ interfaces.DocumentRepository = (*pgDocumentRepository)(nil)

type pgDocumentRepository struct {
	logger *zap.Logger
}

// NewPgDocumentRepository создает новый экземпляр pgDocumentRepository.
func NewPgDocumentRepository(logger *zap.Logger) interfaces.DocumentRepository {
	return &pgDocumentRepository{
		logger: logger.Named("PgDocumentRepo"),
	}
}

const createDocumentQuery = `
INSERT INTO documents (id, owner_id, title, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5)`

const getDocumentByIDQuery = `
SELECT id, owner_id, title, created_at, updated_at
FROM documents
WHERE id = $1`

const touchDocumentQuery = `
UPDATE documents SET updated_at = $2 WHERE id = $1`

// Create persists a new document.
func (r *pgDocumentRepository) Create(ctx context.Context, querier interfaces.DBTX, doc *models.Document) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = doc.CreatedAt
	}

	_, err := querier.Exec(ctx, createDocumentQuery, doc.ID, doc.OwnerID, doc.Title, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to create document", zap.String("document_id", doc.ID.String()), zap.Error(err))
		return fmt.Errorf("error creating document: %w", err)
	}
	return nil
}

// GetByID retrieves a document by ID.
func (r *pgDocumentRepository) GetByID(ctx context.Context, querier interfaces.DBTX, id uuid.UUID) (*models.Document, error) {
	var doc models.Document
	err := querier.QueryRow(ctx, getDocumentByIDQuery, id).Scan(
		&doc.ID,
		&doc.OwnerID,
		&doc.Title,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrDocumentNotFound
		}
		r.logger.Error("Failed to get document by ID", zap.String("document_id", id.String()), zap.Error(err))
		return nil, fmt.Errorf("error getting document by id: %w", err)
	}
	return &doc, nil
}

// Touch bumps the document's updated_at timestamp.
func (r *pgDocumentRepository) Touch(ctx context.Context, querier interfaces.DBTX, id uuid.UUID, at time.Time) error {
	tag, err := querier.Exec(ctx, touchDocumentQuery, id, at)
	if err != nil {
		r.logger.Error("Failed to touch document", zap.String("document_id", id.String()), zap.Error(err))
		return fmt.Errorf("error touching document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrDocumentNotFound
	}
	return nil
}

// Compile-time check to ensure implementation satisfies the interface.
var _ interfaces.DocumentNodeRepository = (*pgDocumentNodeRepository)(nil)

type pgDocumentNodeRepository struct {
	logger *zap.Logger
}

// NewPgDocumentNodeRepository создает новый экземпляр pgDocumentNodeRepository.
func NewPgDocumentNodeRepository(logger *zap.Logger) interfaces.DocumentNodeRepository {
	return &pgDocumentNodeRepository{
		logger: logger.Named("PgDocumentNodeRepo"),
	}
}

const getDocumentNodeQuery = `
SELECT document_id, node_id, state, updated_at
FROM document_nodes
WHERE document_id = $1 AND node_id = $2 AND deleted_at IS NULL`

// Last-write-wins на уровне запроса: строка обновляется только если входящая
// метка времени не старше хранимой, а узел не удален. Гонка read-modify-write
// между конкурирующими доставками webhook решается здесь, без распределенных
// блокировок.
const upsertDocumentNodeQuery = `
INSERT INTO document_nodes (document_id, node_id, state, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (document_id, node_id) DO UPDATE SET
	state = EXCLUDED.state,
	updated_at = EXCLUDED.updated_at
WHERE document_nodes.deleted_at IS NULL
	AND document_nodes.updated_at <= EXCLUDED.updated_at`

// Различает tombstone и более свежую строку после отклоненного upsert-а.
const nodeTombstonedQuery = `
SELECT deleted_at IS NOT NULL
FROM document_nodes
WHERE document_id = $1 AND node_id = $2`

const listDocumentNodesQuery = `
SELECT document_id, node_id, state, updated_at
FROM document_nodes
WHERE document_id = $1 AND deleted_at IS NULL
ORDER BY node_id`

// Вместо физического удаления ставится tombstone: запоздавший webhook
// увидит его в upsert-е и отбросит результат, а не воскресит узел.
const deleteDocumentNodeQuery = `
INSERT INTO document_nodes (document_id, node_id, state, updated_at, deleted_at)
VALUES ($1, $2, '{"status":"idle"}'::jsonb, now(), now())
ON CONFLICT (document_id, node_id) DO UPDATE SET deleted_at = now()`

// Get retrieves the state row of one node.
func (r *pgDocumentNodeRepository) Get(ctx context.Context, querier interfaces.DBTX, documentID uuid.UUID, nodeID string) (*models.DocumentNode, error) {
	var node models.DocumentNode
	err := querier.QueryRow(ctx, getDocumentNodeQuery, documentID, nodeID).Scan(
		&node.DocumentID,
		&node.NodeID,
		&node.State,
		&node.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNodeNotFound
		}
		r.logger.Error("Failed to get document node",
			zap.String("document_id", documentID.String()),
			zap.String("node_id", nodeID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("error getting document node: %w", err)
	}
	return &node, nil
}

// Upsert writes the node state with the last-write-wins timestamp guard.
func (r *pgDocumentNodeRepository) Upsert(ctx context.Context, querier interfaces.DBTX, node *models.DocumentNode) error {
	if node.UpdatedAt.IsZero() {
		node.UpdatedAt = time.Now().UTC()
	}

	tag, err := querier.Exec(ctx, upsertDocumentNodeQuery, node.DocumentID, node.NodeID, node.State, node.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to upsert document node",
			zap.String("document_id", node.DocumentID.String()),
			zap.String("node_id", node.NodeID),
			zap.Error(err),
		)
		return fmt.Errorf("error upserting document node: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Либо узел удален (tombstone), либо хранимая строка новее.
		var tombstoned bool
		err := querier.QueryRow(ctx, nodeTombstonedQuery, node.DocumentID, node.NodeID).Scan(&tombstoned)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return models.ErrNodeNotFound
			}
			return fmt.Errorf("error checking node tombstone: %w", err)
		}
		if tombstoned {
			r.logger.Info("Node is deleted, rejecting state write",
				zap.String("document_id", node.DocumentID.String()),
				zap.String("node_id", node.NodeID),
			)
			return models.ErrNodeNotFound
		}
		r.logger.Warn("Stale node state update skipped",
			zap.String("document_id", node.DocumentID.String()),
			zap.String("node_id", node.NodeID),
			zap.Time("incoming_updated_at", node.UpdatedAt),
		)
		return models.ErrStaleNodeUpdate
	}
	return nil
}

// ListByDocument returns all node state rows of a document.
func (r *pgDocumentNodeRepository) ListByDocument(ctx context.Context, querier interfaces.DBTX, documentID uuid.UUID) ([]*models.DocumentNode, error) {
	var nodes []*models.DocumentNode
	err := pgxscan.Select(ctx, querier, &nodes, listDocumentNodesQuery, documentID)
	if err != nil {
		r.logger.Error("Failed to list document nodes", zap.String("document_id", documentID.String()), zap.Error(err))
		return nil, fmt.Errorf("error listing document nodes: %w", err)
	}
	return nodes, nil
}

// Delete tombstones a node so late generation results cannot resurrect it.
func (r *pgDocumentNodeRepository) Delete(ctx context.Context, querier interfaces.DBTX, documentID uuid.UUID, nodeID string) error {
	_, err := querier.Exec(ctx, deleteDocumentNodeQuery, documentID, nodeID)
	if err != nil {
		r.logger.Error("Failed to delete document node",
			zap.String("document_id", documentID.String()),
			zap.String("node_id", nodeID),
			zap.Error(err),
		)
		return fmt.Errorf("error deleting document node: %w", err)
	}
	return nil
}
