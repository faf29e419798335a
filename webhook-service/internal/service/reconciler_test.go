package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"canvas-server/shared/constants"
	"canvas-server/shared/interfaces/mocks"
	"canvas-server/shared/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type reconcilerDeps struct {
	lifecycle *mocks.JobLifecycle
	docRepo   *mocks.DocumentRepository
	nodeRepo  *mocks.DocumentNodeRepository
	publisher *mocks.RealtimePublisher
}

func newTestReconciler(t *testing.T) (*Reconciler, reconcilerDeps) {
	t.Helper()
	deps := reconcilerDeps{
		lifecycle: mocks.NewJobLifecycle(t),
		docRepo:   mocks.NewDocumentRepository(t),
		nodeRepo:  mocks.NewDocumentNodeRepository(t),
		publisher: mocks.NewRealtimePublisher(t),
	}
	resolver := NewResultResolver(nil, nil, "", zap.NewNop())
	r := NewReconciler(nil, deps.lifecycle, deps.docRepo, deps.nodeRepo, resolver, deps.publisher, zap.NewNop())
	return r, deps
}

func pendingJob(meta *models.JobMetadata) *models.Job {
	return &models.Job{
		ID:                uuid.New(),
		ExternalRequestID: "req-123",
		OwnerID:           uuid.New(),
		Kind:              models.JobKindImage,
		Status:            models.JobStatusPending,
		Metadata:          meta,
		CreatedAt:         time.Now().UTC(),
	}
}

func completedCallback() ProviderCallback {
	return ProviderCallback{
		RequestID: "req-123",
		Status:    "completed",
		Images:    []CallbackImage{{URL: "https://cdn.provider.test/img.png", ContentType: "image/png"}},
	}
}

func TestReconcile_UnknownRequestID(t *testing.T) {
	r, deps := newTestReconciler(t)

	deps.lifecycle.On("GetByExternalID", mock.Anything, "req-404").
		Return(nil, models.ErrJobNotFound).Once()

	outcome, err := r.Reconcile(context.Background(), ProviderCallback{RequestID: "req-404", Status: "completed"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknownRequest, outcome)
}

func TestReconcile_EmptyRequestID(t *testing.T) {
	r, _ := newTestReconciler(t)

	outcome, err := r.Reconcile(context.Background(), ProviderCallback{Status: "completed"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknownRequest, outcome)
}

func TestReconcile_DuplicateDelivery(t *testing.T) {
	r, deps := newTestReconciler(t)

	job := pendingJob(nil)
	job.Status = models.JobStatusCompleted
	deps.lifecycle.On("GetByExternalID", mock.Anything, "req-123").Return(job, nil).Once()

	outcome, err := r.Reconcile(context.Background(), completedCallback())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	// Никаких финализаций и публикаций при повторной доставке.
	deps.lifecycle.AssertNotCalled(t, "FinalizeCompleted", mock.Anything, mock.Anything, mock.Anything)
	deps.publisher.AssertNotCalled(t, "PublishBroadcast", mock.Anything, mock.Anything)
}

func TestReconcile_IntermediateStatusIgnored(t *testing.T) {
	r, deps := newTestReconciler(t)

	job := pendingJob(nil)
	deps.lifecycle.On("GetByExternalID", mock.Anything, "req-123").Return(job, nil).Once()

	outcome, err := r.Reconcile(context.Background(), ProviderCallback{RequestID: "req-123", Status: "in_progress"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
}

func TestReconcile_CompletedWithoutMetadata(t *testing.T) {
	r, deps := newTestReconciler(t)

	job := pendingJob(nil)
	deps.lifecycle.On("GetByExternalID", mock.Anything, "req-123").Return(job, nil).Once()
	deps.lifecycle.On("FinalizeCompleted", mock.Anything, job.ID,
		models.JobResult{URL: "https://cdn.provider.test/img.png", Type: "image/png"}).Return(nil).Once()
	deps.publisher.On("PublishBroadcast", mock.Anything, mock.MatchedBy(func(msg models.BroadcastMessage) bool {
		return msg.Topic == constants.JobsTopic(job.OwnerID.String()) && msg.Event == constants.EventJobUpdated
	})).Return(nil).Once()

	outcome, err := r.Reconcile(context.Background(), completedCallback())
	require.NoError(t, err)
	assert.Equal(t, OutcomeReconciled, outcome)
	// Документные репозитории не трогаются без привязки к узлу.
	deps.docRepo.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything, mock.Anything)
}

func TestReconcile_CompletedWritesNodeState(t *testing.T) {
	r, deps := newTestReconciler(t)

	meta := &models.JobMetadata{DocumentID: uuid.New(), NodeID: "node-1"}
	job := pendingJob(meta)

	deps.lifecycle.On("GetByExternalID", mock.Anything, "req-123").Return(job, nil).Once()
	deps.docRepo.On("GetByID", mock.Anything, mock.Anything, meta.DocumentID).
		Return(&models.Document{ID: meta.DocumentID}, nil).Once()
	deps.nodeRepo.On("Upsert", mock.Anything, mock.Anything, mock.MatchedBy(func(node *models.DocumentNode) bool {
		return node.DocumentID == meta.DocumentID &&
			node.NodeID == "node-1" &&
			node.State.Status == models.NodeStatusReady &&
			node.State.URL == "https://cdn.provider.test/img.png"
	})).Return(nil).Once()
	deps.docRepo.On("Touch", mock.Anything, mock.Anything, meta.DocumentID, mock.Anything).Return(nil).Once()
	deps.lifecycle.On("FinalizeCompleted", mock.Anything, job.ID, mock.Anything).Return(nil).Once()
	deps.publisher.On("PublishBroadcast", mock.Anything, mock.MatchedBy(func(msg models.BroadcastMessage) bool {
		return msg.Topic == constants.DocumentTopic(meta.DocumentID.String()) && msg.Event == constants.EventDocumentUpdated
	})).Return(nil).Once()
	deps.publisher.On("PublishBroadcast", mock.Anything, mock.MatchedBy(func(msg models.BroadcastMessage) bool {
		return msg.Topic == constants.JobsTopic(job.OwnerID.String()) && msg.Event == constants.EventJobUpdated
	})).Return(nil).Once()

	outcome, err := r.Reconcile(context.Background(), completedCallback())
	require.NoError(t, err)
	assert.Equal(t, OutcomeReconciled, outcome)
}

func TestReconcile_CompletedDocumentDeleted(t *testing.T) {
	r, deps := newTestReconciler(t)

	meta := &models.JobMetadata{DocumentID: uuid.New(), NodeID: "node-1"}
	job := pendingJob(meta)

	deps.lifecycle.On("GetByExternalID", mock.Anything, "req-123").Return(job, nil).Once()
	deps.docRepo.On("GetByID", mock.Anything, mock.Anything, meta.DocumentID).
		Return(nil, models.ErrDocumentNotFound).Once()
	// Задача все равно финализируется успехом: результат остается в ее записи.
	deps.lifecycle.On("FinalizeCompleted", mock.Anything, job.ID, mock.Anything).Return(nil).Once()
	deps.publisher.On("PublishBroadcast", mock.Anything, mock.MatchedBy(func(msg models.BroadcastMessage) bool {
		return msg.Event == constants.EventJobUpdated
	})).Return(nil).Once()

	outcome, err := r.Reconcile(context.Background(), completedCallback())
	require.NoError(t, err)
	assert.Equal(t, OutcomeReconciled, outcome)
	deps.nodeRepo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything, mock.Anything)
}

func TestReconcile_CompletedNodeDeleted(t *testing.T) {
	r, deps := newTestReconciler(t)

	meta := &models.JobMetadata{DocumentID: uuid.New(), NodeID: "node-gone"}
	job := pendingJob(meta)

	deps.lifecycle.On("GetByExternalID", mock.Anything, "req-123").Return(job, nil).Once()
	deps.docRepo.On("GetByID", mock.Anything, mock.Anything, meta.DocumentID).
		Return(&models.Document{ID: meta.DocumentID}, nil).Once()
	deps.nodeRepo.On("Upsert", mock.Anything, mock.Anything, mock.Anything).
		Return(models.ErrNodeNotFound).Once()
	deps.lifecycle.On("FinalizeCompleted", mock.Anything, job.ID, mock.Anything).Return(nil).Once()
	deps.publisher.On("PublishBroadcast", mock.Anything, mock.MatchedBy(func(msg models.BroadcastMessage) bool {
		return msg.Event == constants.EventJobUpdated
	})).Return(nil).Once()

	outcome, err := r.Reconcile(context.Background(), completedCallback())
	require.NoError(t, err)
	assert.Equal(t, OutcomeReconciled, outcome)
	deps.docRepo.AssertNotCalled(t, "Touch", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReconcile_StaleNodeUpdateTolerated(t *testing.T) {
	r, deps := newTestReconciler(t)

	meta := &models.JobMetadata{DocumentID: uuid.New(), NodeID: "node-1"}
	job := pendingJob(meta)

	deps.lifecycle.On("GetByExternalID", mock.Anything, "req-123").Return(job, nil).Once()
	deps.docRepo.On("GetByID", mock.Anything, mock.Anything, meta.DocumentID).
		Return(&models.Document{ID: meta.DocumentID}, nil).Once()
	// Узел уже несет более свежее состояние: запись пропускается, задача
	// финализируется, но отклоненное состояние НЕ транслируется в документ.
	// Уходит только событие по задаче.
	deps.nodeRepo.On("Upsert", mock.Anything, mock.Anything, mock.Anything).
		Return(models.ErrStaleNodeUpdate).Once()
	deps.docRepo.On("Touch", mock.Anything, mock.Anything, meta.DocumentID, mock.Anything).Return(nil).Once()
	deps.lifecycle.On("FinalizeCompleted", mock.Anything, job.ID, mock.Anything).Return(nil).Once()
	deps.publisher.On("PublishBroadcast", mock.Anything, mock.MatchedBy(func(msg models.BroadcastMessage) bool {
		return msg.Event == constants.EventJobUpdated
	})).Return(nil).Once()

	outcome, err := r.Reconcile(context.Background(), completedCallback())
	require.NoError(t, err)
	assert.Equal(t, OutcomeReconciled, outcome)
}

func TestReconcile_FailedClassifiesAndFinalizes(t *testing.T) {
	r, deps := newTestReconciler(t)

	meta := &models.JobMetadata{DocumentID: uuid.New(), NodeID: "node-1"}
	job := pendingJob(meta)

	deps.lifecycle.On("GetByExternalID", mock.Anything, "req-123").Return(job, nil).Once()
	deps.lifecycle.On("FinalizeFailed", mock.Anything, job.ID, "prompt was rejected").Return(nil).Once()
	deps.nodeRepo.On("Upsert", mock.Anything, mock.Anything, mock.MatchedBy(func(node *models.DocumentNode) bool {
		return node.State.Status == models.NodeStatusError &&
			node.State.Kind == models.ErrorKindValidation &&
			!node.State.CanRetry
	})).Return(nil).Once()
	deps.publisher.On("PublishBroadcast", mock.Anything, mock.Anything).Return(nil).Twice()

	cb := ProviderCallback{
		RequestID: "req-123",
		Status:    "failed",
		Error:     &CallbackError{Code: "validation_error", Message: "prompt was rejected"},
	}
	outcome, err := r.Reconcile(context.Background(), cb)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReconciled, outcome)
}

func TestReconcile_FailedNodeWriteIsBestEffort(t *testing.T) {
	r, deps := newTestReconciler(t)

	meta := &models.JobMetadata{DocumentID: uuid.New(), NodeID: "node-1"}
	job := pendingJob(meta)

	deps.lifecycle.On("GetByExternalID", mock.Anything, "req-123").Return(job, nil).Once()
	deps.lifecycle.On("FinalizeFailed", mock.Anything, job.ID, mock.Anything).Return(nil).Once()
	deps.nodeRepo.On("Upsert", mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("connection refused")).Once()
	deps.publisher.On("PublishBroadcast", mock.Anything, mock.MatchedBy(func(msg models.BroadcastMessage) bool {
		return msg.Event == constants.EventJobUpdated
	})).Return(nil).Once()

	cb := ProviderCallback{
		RequestID: "req-123",
		Status:    "failed",
		Error:     &CallbackError{Message: "boom"},
	}
	outcome, err := r.Reconcile(context.Background(), cb)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReconciled, outcome)
}

func TestReconcile_StoreFailurePropagates(t *testing.T) {
	r, deps := newTestReconciler(t)

	deps.lifecycle.On("GetByExternalID", mock.Anything, "req-123").
		Return(nil, errors.New("connection refused")).Once()

	outcome, err := r.Reconcile(context.Background(), completedCallback())
	require.Error(t, err)
	assert.Equal(t, OutcomeReconciled, outcome)
}

func TestReconcile_FinalizeFailurePropagates(t *testing.T) {
	r, deps := newTestReconciler(t)

	job := pendingJob(nil)
	deps.lifecycle.On("GetByExternalID", mock.Anything, "req-123").Return(job, nil).Once()
	deps.lifecycle.On("FinalizeCompleted", mock.Anything, job.ID, mock.Anything).
		Return(errors.New("connection refused")).Once()

	_, err := r.Reconcile(context.Background(), completedCallback())
	require.Error(t, err)
}

func TestReconcile_CompletedWithoutResultFailsJob(t *testing.T) {
	r, deps := newTestReconciler(t)

	job := pendingJob(nil)
	deps.lifecycle.On("GetByExternalID", mock.Anything, "req-123").Return(job, nil).Once()
	deps.lifecycle.On("FinalizeFailed", mock.Anything, job.ID, mock.Anything).Return(nil).Once()
	deps.publisher.On("PublishBroadcast", mock.Anything, mock.Anything).Return(nil).Once()

	cb := ProviderCallback{RequestID: "req-123", Status: "completed"}
	outcome, err := r.Reconcile(context.Background(), cb)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReconciled, outcome)
}
