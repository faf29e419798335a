package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"canvas-server/jobs-service/internal/provider"
	"canvas-server/shared/interfaces/mocks"
	"canvas-server/shared/models"
	"canvas-server/shared/utils"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubProvider - управляемый из теста провайдер генерации.
type stubProvider struct {
	kind   models.JobKind
	result provider.SubmitResult
	err    error
	calls  chan json.RawMessage
}

func newStubProvider(kind models.JobKind) *stubProvider {
	return &stubProvider{kind: kind, calls: make(chan json.RawMessage, 1)}
}

func (s *stubProvider) Kind() models.JobKind { return s.kind }

func (s *stubProvider) Submit(ctx context.Context, input json.RawMessage) (provider.SubmitResult, error) {
	s.calls <- input
	return s.result, s.err
}

type submissionDeps struct {
	lifecycle *mocks.JobLifecycle
	jobRepo   *mocks.JobRepository
	docRepo   *mocks.DocumentRepository
	publisher *mocks.RealtimePublisher
	provider  *stubProvider
}

func newTestSubmissionService(t *testing.T) (*SubmissionService, submissionDeps) {
	t.Helper()
	deps := submissionDeps{
		lifecycle: mocks.NewJobLifecycle(t),
		jobRepo:   mocks.NewJobRepository(t),
		docRepo:   mocks.NewDocumentRepository(t),
		publisher: mocks.NewRealtimePublisher(t),
		provider:  newStubProvider(models.JobKindImage),
	}
	registry := provider.NewRegistry(deps.provider)
	s := NewSubmissionService(nil, deps.lifecycle, deps.jobRepo, deps.docRepo, registry, deps.publisher, zap.NewNop())
	return s, deps
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestSubmit_UnknownKindRejected(t *testing.T) {
	s, _ := newTestSubmissionService(t)

	_, err := s.Submit(context.Background(), uuid.New(), SubmitRequest{Kind: models.JobKindVideo, Input: []byte(`{}`)})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestSubmit_ForeignDocumentRejected(t *testing.T) {
	s, deps := newTestSubmissionService(t)

	ownerID := uuid.New()
	meta := &models.JobMetadata{DocumentID: uuid.New(), NodeID: "node-1"}
	deps.docRepo.On("GetByID", mock.Anything, mock.Anything, meta.DocumentID).
		Return(&models.Document{ID: meta.DocumentID, OwnerID: uuid.New()}, nil).Once()

	_, err := s.Submit(context.Background(), ownerID, SubmitRequest{
		Kind:     models.JobKindImage,
		Input:    []byte(`{"prompt":"a cat"}`),
		Metadata: meta,
	})
	require.ErrorIs(t, err, models.ErrForbidden)
	// Задача не записывается, провайдер не вызывается.
	deps.lifecycle.AssertNotCalled(t, "CreateProvisional", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmit_RecordPrecedesProviderCall(t *testing.T) {
	s, deps := newTestSubmissionService(t)

	ownerID := uuid.New()
	job := &models.Job{ID: uuid.New(), OwnerID: ownerID, Kind: models.JobKindImage, Status: models.JobStatusPending}
	deps.provider.result = provider.SubmitResult{ExternalRequestID: "req-42"}

	deps.lifecycle.On("CreateProvisional", mock.Anything, ownerID, models.JobKindImage, mock.Anything, (*models.JobMetadata)(nil)).
		Return(job, nil).Once()

	bound := make(chan struct{})
	deps.lifecycle.On("BindExternalID", mock.Anything, job.ID, "req-42").
		Run(func(mock.Arguments) { close(bound) }).Return(nil).Once()

	returned, err := s.Submit(context.Background(), ownerID, SubmitRequest{
		Kind:  models.JobKindImage,
		Input: []byte(`{"prompt":"a cat"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, job.ID, returned.ID)
	assert.Equal(t, models.JobStatusPending, returned.Status)

	// Провайдер вызывается только после записи задачи.
	select {
	case <-deps.provider.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("provider was never called")
	}
	waitFor(t, bound, "external id binding")
}

func TestSubmit_ProviderFailureFinalizesJob(t *testing.T) {
	s, deps := newTestSubmissionService(t)

	ownerID := uuid.New()
	job := &models.Job{ID: uuid.New(), OwnerID: ownerID, Kind: models.JobKindImage, Status: models.JobStatusPending}
	deps.provider.err = errors.New("provider unavailable")

	deps.lifecycle.On("CreateProvisional", mock.Anything, ownerID, models.JobKindImage, mock.Anything, (*models.JobMetadata)(nil)).
		Return(job, nil).Once()

	failed := make(chan struct{})
	deps.lifecycle.On("FinalizeFailed", mock.Anything, job.ID, "provider unavailable").
		Run(func(mock.Arguments) { close(failed) }).Return(nil).Once()
	deps.publisher.On("PublishBroadcast", mock.Anything, mock.Anything).Return(nil).Once()

	_, err := s.Submit(context.Background(), ownerID, SubmitRequest{
		Kind:  models.JobKindImage,
		Input: []byte(`{"prompt":"a cat"}`),
	})
	require.NoError(t, err)
	waitFor(t, failed, "failure finalization")
	// Публикация события - тоже асинхронная часть dispatch.
	assert.Eventually(t, func() bool {
		return len(deps.publisher.Calls) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubmit_ImmediateResultFinalizesCompleted(t *testing.T) {
	s, deps := newTestSubmissionService(t)

	ownerID := uuid.New()
	job := &models.Job{ID: uuid.New(), OwnerID: ownerID, Kind: models.JobKindImage, Status: models.JobStatusPending}
	result := models.JobResult{URL: "https://cdn.test/img.png", Type: "image/png"}
	deps.provider.result = provider.SubmitResult{ExternalRequestID: "openai-1", Immediate: &result}

	deps.lifecycle.On("CreateProvisional", mock.Anything, ownerID, models.JobKindImage, mock.Anything, (*models.JobMetadata)(nil)).
		Return(job, nil).Once()
	deps.lifecycle.On("BindExternalID", mock.Anything, job.ID, "openai-1").Return(nil).Once()

	completed := make(chan struct{})
	deps.lifecycle.On("FinalizeCompleted", mock.Anything, job.ID, result).
		Run(func(mock.Arguments) { close(completed) }).Return(nil).Once()
	deps.publisher.On("PublishBroadcast", mock.Anything, mock.Anything).Return(nil).Once()

	_, err := s.Submit(context.Background(), ownerID, SubmitRequest{
		Kind:  models.JobKindImage,
		Input: []byte(`{"prompt":"a cat"}`),
	})
	require.NoError(t, err)
	waitFor(t, completed, "synchronous completion")
	assert.Eventually(t, func() bool {
		return len(deps.publisher.Calls) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGetJob_ForeignJobHidden(t *testing.T) {
	s, deps := newTestSubmissionService(t)

	jobID := uuid.New()
	deps.lifecycle.On("GetByID", mock.Anything, jobID).
		Return(&models.Job{ID: jobID, OwnerID: uuid.New()}, nil).Once()

	_, err := s.GetJob(context.Background(), uuid.New(), jobID)
	assert.ErrorIs(t, err, models.ErrJobNotFound)
}

func TestListJobs_CursorPagination(t *testing.T) {
	s, deps := newTestSubmissionService(t)

	ownerID := uuid.New()
	now := time.Now().UTC()
	page := []*models.Job{
		{ID: uuid.New(), OwnerID: ownerID, CreatedAt: now},
		{ID: uuid.New(), OwnerID: ownerID, CreatedAt: now.Add(-time.Minute)},
	}
	deps.jobRepo.On("ListByOwner", mock.Anything, mock.Anything, ownerID, time.Time{}, uuid.Nil, 2).
		Return(page, nil).Once()

	jobsPage, nextCursor, err := s.ListJobs(context.Background(), ownerID, "", 2)
	require.NoError(t, err)
	assert.Len(t, jobsPage, 2)
	require.NotEmpty(t, nextCursor)

	// Курсор указывает на последний элемент страницы.
	cursorTime, cursorID, err := utils.DecodeCursor(nextCursor)
	require.NoError(t, err)
	assert.Equal(t, page[1].ID, cursorID)
	assert.WithinDuration(t, page[1].CreatedAt, cursorTime, time.Microsecond)

	// Неполная страница завершает пагинацию.
	deps.jobRepo.On("ListByOwner", mock.Anything, mock.Anything, ownerID, mock.Anything, page[1].ID, 2).
		Return([]*models.Job{{ID: uuid.New(), OwnerID: ownerID}}, nil).Once()
	_, nextCursor, err = s.ListJobs(context.Background(), ownerID, nextCursor, 2)
	require.NoError(t, err)
	assert.Empty(t, nextCursor)
}

func TestListJobs_MalformedCursorRejected(t *testing.T) {
	s, _ := newTestSubmissionService(t)

	_, _, err := s.ListJobs(context.Background(), uuid.New(), "not-base64!!!", 10)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}
