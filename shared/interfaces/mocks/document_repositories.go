package mocks

import (
	"context"
	"time"

	"canvas-server/shared/interfaces"
	"canvas-server/shared/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// DocumentRepository is a mock type for the DocumentRepository type
type DocumentRepository struct {
	mock.Mock
}

func (_m *DocumentRepository) Create(ctx context.Context, querier interfaces.DBTX, doc *models.Document) error {
	ret := _m.Called(ctx, querier, doc)
	return ret.Error(0)
}

func (_m *DocumentRepository) GetByID(ctx context.Context, querier interfaces.DBTX, id uuid.UUID) (*models.Document, error) {
	ret := _m.Called(ctx, querier, id)

	var r0 *models.Document
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.Document)
	}
	return r0, ret.Error(1)
}

func (_m *DocumentRepository) Touch(ctx context.Context, querier interfaces.DBTX, id uuid.UUID, at time.Time) error {
	ret := _m.Called(ctx, querier, id, at)
	return ret.Error(0)
}

// NewDocumentRepository creates a new instance of DocumentRepository.
// The first argument is typically a *testing.T value.
func NewDocumentRepository(t interface {
	mock.TestingT
	Cleanup(func())
}) *DocumentRepository {
	m := &DocumentRepository{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

var _ interfaces.DocumentRepository = (*DocumentRepository)(nil)

// DocumentNodeRepository is a mock type for the DocumentNodeRepository type
type DocumentNodeRepository struct {
	mock.Mock
}

func (_m *DocumentNodeRepository) Get(ctx context.Context, querier interfaces.DBTX, documentID uuid.UUID, nodeID string) (*models.DocumentNode, error) {
	ret := _m.Called(ctx, querier, documentID, nodeID)

	var r0 *models.DocumentNode
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.DocumentNode)
	}
	return r0, ret.Error(1)
}

func (_m *DocumentNodeRepository) Upsert(ctx context.Context, querier interfaces.DBTX, node *models.DocumentNode) error {
	ret := _m.Called(ctx, querier, node)
	return ret.Error(0)
}

func (_m *DocumentNodeRepository) ListByDocument(ctx context.Context, querier interfaces.DBTX, documentID uuid.UUID) ([]*models.DocumentNode, error) {
	ret := _m.Called(ctx, querier, documentID)

	var r0 []*models.DocumentNode
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]*models.DocumentNode)
	}
	return r0, ret.Error(1)
}

func (_m *DocumentNodeRepository) Delete(ctx context.Context, querier interfaces.DBTX, documentID uuid.UUID, nodeID string) error {
	ret := _m.Called(ctx, querier, documentID, nodeID)
	return ret.Error(0)
}

// NewDocumentNodeRepository creates a new instance of DocumentNodeRepository.
// The first argument is typically a *testing.T value.
func NewDocumentNodeRepository(t interface {
	mock.TestingT
	Cleanup(func())
}) *DocumentNodeRepository {
	m := &DocumentNodeRepository{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

var _ interfaces.DocumentNodeRepository = (*DocumentNodeRepository)(nil)
