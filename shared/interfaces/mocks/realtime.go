package mocks

import (
	"context"

	"canvas-server/shared/interfaces"
	"canvas-server/shared/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// RealtimePublisher is a mock type for the RealtimePublisher type
type RealtimePublisher struct {
	mock.Mock
}

func (_m *RealtimePublisher) PublishBroadcast(ctx context.Context, msg models.BroadcastMessage) error {
	ret := _m.Called(ctx, msg)
	return ret.Error(0)
}

// NewRealtimePublisher creates a new instance of RealtimePublisher.
// The first argument is typically a *testing.T value.
func NewRealtimePublisher(t interface {
	mock.TestingT
	Cleanup(func())
}) *RealtimePublisher {
	m := &RealtimePublisher{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

var _ interfaces.RealtimePublisher = (*RealtimePublisher)(nil)

// Uploader is a mock type for the Uploader type
type Uploader struct {
	mock.Mock
}

func (_m *Uploader) Upload(ctx context.Context, ownerID, bucket, filename string, data []byte, contentType string) (string, error) {
	ret := _m.Called(ctx, ownerID, bucket, filename, data, contentType)

	var r0 string
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(string)
	}
	return r0, ret.Error(1)
}

// NewUploader creates a new instance of Uploader.
// The first argument is typically a *testing.T value.
func NewUploader(t interface {
	mock.TestingT
	Cleanup(func())
}) *Uploader {
	m := &Uploader{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

var _ interfaces.Uploader = (*Uploader)(nil)

// JobCache is a mock type for the JobCache type
type JobCache struct {
	mock.Mock
}

func (_m *JobCache) Get(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	ret := _m.Called(ctx, jobID)

	var r0 *models.Job
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.Job)
	}
	return r0, ret.Error(1)
}

func (_m *JobCache) Set(ctx context.Context, job *models.Job) error {
	ret := _m.Called(ctx, job)
	return ret.Error(0)
}

func (_m *JobCache) Invalidate(ctx context.Context, jobID uuid.UUID) error {
	ret := _m.Called(ctx, jobID)
	return ret.Error(0)
}

// NewJobCache creates a new instance of JobCache.
// The first argument is typically a *testing.T value.
func NewJobCache(t interface {
	mock.TestingT
	Cleanup(func())
}) *JobCache {
	m := &JobCache{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

var _ interfaces.JobCache = (*JobCache)(nil)
