package service

import (
	"context"
	"fmt"
	"time"

	"canvas-server/shared/interfaces"
	"canvas-server/shared/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DocumentService обслуживает документы-канвасы и их узлы генерации.
type DocumentService struct {
	db       interfaces.DBTX
	docRepo  interfaces.DocumentRepository
	nodeRepo interfaces.DocumentNodeRepository
	logger   *zap.Logger
}

// NewDocumentService создает новый DocumentService.
func NewDocumentService(db interfaces.DBTX, docRepo interfaces.DocumentRepository, nodeRepo interfaces.DocumentNodeRepository, logger *zap.Logger) *DocumentService {
	return &DocumentService{
		db:       db,
		docRepo:  docRepo,
		nodeRepo: nodeRepo,
		logger:   logger.Named("DocumentService"),
	}
}

// DocumentWithNodes - документ вместе со срезом состояний его узлов.
// Отдается клиенту при загрузке канваса: это источник истины, с которым
// клиент сверяет локальное состояние после переподключения.
type DocumentWithNodes struct {
	Document *models.Document       `json:"document"`
	Nodes    []*models.DocumentNode `json:"nodes"`
}

// Create создает новый документ.
func (s *DocumentService) Create(ctx context.Context, ownerID uuid.UUID, title string) (*models.Document, error) {
	now := time.Now().UTC()
	doc := &models.Document{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.docRepo.Create(ctx, s.db, doc); err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}
	s.logger.Info("Document created", zap.String("document_id", doc.ID.String()))
	return doc, nil
}

// Get возвращает документ владельца вместе с состояниями узлов.
// Чужие документы не раскрываются.
func (s *DocumentService) Get(ctx context.Context, ownerID, documentID uuid.UUID) (*DocumentWithNodes, error) {
	doc, err := s.docRepo.GetByID(ctx, s.db, documentID)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != ownerID {
		return nil, models.ErrDocumentNotFound
	}

	nodes, err := s.nodeRepo.ListByDocument(ctx, s.db, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list document nodes: %w", err)
	}
	return &DocumentWithNodes{Document: doc, Nodes: nodes}, nil
}

// DeleteNode удаляет состояние узла. Вызывается при удалении узла с канваса;
// результат еще выполняющейся задачи для этого узла будет отброшен.
func (s *DocumentService) DeleteNode(ctx context.Context, ownerID, documentID uuid.UUID, nodeID string) error {
	doc, err := s.docRepo.GetByID(ctx, s.db, documentID)
	if err != nil {
		return err
	}
	if doc.OwnerID != ownerID {
		return models.ErrDocumentNotFound
	}
	return s.nodeRepo.Delete(ctx, s.db, documentID, nodeID)
}
