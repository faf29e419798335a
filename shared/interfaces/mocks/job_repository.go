package mocks

import (
	"context"
	"time"

	"canvas-server/shared/interfaces"
	"canvas-server/shared/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// JobRepository is a mock type for the JobRepository type
type JobRepository struct {
	mock.Mock
}

func (_m *JobRepository) Create(ctx context.Context, querier interfaces.DBTX, job *models.Job) error {
	ret := _m.Called(ctx, querier, job)
	return ret.Error(0)
}

func (_m *JobRepository) GetByID(ctx context.Context, querier interfaces.DBTX, id uuid.UUID) (*models.Job, error) {
	ret := _m.Called(ctx, querier, id)

	var r0 *models.Job
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.Job)
	}
	return r0, ret.Error(1)
}

func (_m *JobRepository) GetByExternalID(ctx context.Context, querier interfaces.DBTX, externalRequestID string) (*models.Job, error) {
	ret := _m.Called(ctx, querier, externalRequestID)

	var r0 *models.Job
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.Job)
	}
	return r0, ret.Error(1)
}

func (_m *JobRepository) BindExternalID(ctx context.Context, querier interfaces.DBTX, id uuid.UUID, externalRequestID string) error {
	ret := _m.Called(ctx, querier, id, externalRequestID)
	return ret.Error(0)
}

func (_m *JobRepository) Finalize(ctx context.Context, querier interfaces.DBTX, id uuid.UUID, status models.JobStatus, result *models.JobResult, errMsg *string, completedAt time.Time) (int64, error) {
	ret := _m.Called(ctx, querier, id, status, result, errMsg, completedAt)

	var r0 int64
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(int64)
	}
	return r0, ret.Error(1)
}

func (_m *JobRepository) ListByIDs(ctx context.Context, querier interfaces.DBTX, ids []uuid.UUID) ([]*models.Job, error) {
	ret := _m.Called(ctx, querier, ids)

	var r0 []*models.Job
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]*models.Job)
	}
	return r0, ret.Error(1)
}

func (_m *JobRepository) ListByOwner(ctx context.Context, querier interfaces.DBTX, ownerID uuid.UUID, cursorTime time.Time, cursorID uuid.UUID, limit int) ([]*models.Job, error) {
	ret := _m.Called(ctx, querier, ownerID, cursorTime, cursorID, limit)

	var r0 []*models.Job
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]*models.Job)
	}
	return r0, ret.Error(1)
}

// NewJobRepository creates a new instance of JobRepository. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewJobRepository(t interface {
	mock.TestingT
	Cleanup(func())
}) *JobRepository {
	m := &JobRepository{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

var _ interfaces.JobRepository = (*JobRepository)(nil)
