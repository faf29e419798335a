package mocks

import (
	"context"

	"canvas-server/shared/interfaces"
	"canvas-server/shared/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// JobLifecycle is a mock type for the JobLifecycle type
type JobLifecycle struct {
	mock.Mock
}

func (_m *JobLifecycle) CreateProvisional(ctx context.Context, ownerID uuid.UUID, kind models.JobKind, input []byte, metadata *models.JobMetadata) (*models.Job, error) {
	ret := _m.Called(ctx, ownerID, kind, input, metadata)

	var r0 *models.Job
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.Job)
	}
	return r0, ret.Error(1)
}

func (_m *JobLifecycle) BindExternalID(ctx context.Context, jobID uuid.UUID, externalRequestID string) error {
	ret := _m.Called(ctx, jobID, externalRequestID)
	return ret.Error(0)
}

func (_m *JobLifecycle) FinalizeCompleted(ctx context.Context, jobID uuid.UUID, result models.JobResult) error {
	ret := _m.Called(ctx, jobID, result)
	return ret.Error(0)
}

func (_m *JobLifecycle) FinalizeFailed(ctx context.Context, jobID uuid.UUID, errMsg string) error {
	ret := _m.Called(ctx, jobID, errMsg)
	return ret.Error(0)
}

func (_m *JobLifecycle) GetByExternalID(ctx context.Context, externalRequestID string) (*models.Job, error) {
	ret := _m.Called(ctx, externalRequestID)

	var r0 *models.Job
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.Job)
	}
	return r0, ret.Error(1)
}

func (_m *JobLifecycle) GetByID(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	ret := _m.Called(ctx, jobID)

	var r0 *models.Job
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.Job)
	}
	return r0, ret.Error(1)
}

// NewJobLifecycle creates a new instance of JobLifecycle.
// The first argument is typically a *testing.T value.
func NewJobLifecycle(t interface {
	mock.TestingT
	Cleanup(func())
}) *JobLifecycle {
	m := &JobLifecycle{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

var _ interfaces.JobLifecycle = (*JobLifecycle)(nil)
