package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"canvas-server/jobs-service/internal/provider"
	"canvas-server/shared/constants"
	"canvas-server/shared/interfaces"
	"canvas-server/shared/models"
	"canvas-server/shared/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// defaultDispatchTimeout ограничивает время исходящего вызова провайдера.
const defaultDispatchTimeout = 3 * time.Minute

// SubmitRequest - запрос на постановку задачи генерации.
type SubmitRequest struct {
	Kind     models.JobKind      `json:"kind" binding:"required"`
	Input    json.RawMessage     `json:"input" binding:"required"`
	Metadata *models.JobMetadata `json:"metadata,omitempty"`
}

// SubmissionService ставит задачи генерации: записывает provisional-задачу,
// асинхронно отправляет ее провайдеру и привязывает внешний идентификатор.
// HTTP-запрос возвращается сразу после записи, не дожидаясь провайдера.
type SubmissionService struct {
	db        interfaces.DBTX
	lifecycle interfaces.JobLifecycle
	jobRepo   interfaces.JobRepository
	docRepo   interfaces.DocumentRepository
	providers *provider.Registry
	publisher interfaces.RealtimePublisher
	logger    *zap.Logger

	dispatchTimeout time.Duration
}

// NewSubmissionService создает новый SubmissionService.
func NewSubmissionService(
	db interfaces.DBTX,
	lifecycle interfaces.JobLifecycle,
	jobRepo interfaces.JobRepository,
	docRepo interfaces.DocumentRepository,
	providers *provider.Registry,
	publisher interfaces.RealtimePublisher,
	logger *zap.Logger,
) *SubmissionService {
	return &SubmissionService{
		db:              db,
		lifecycle:       lifecycle,
		jobRepo:         jobRepo,
		docRepo:         docRepo,
		providers:       providers,
		publisher:       publisher,
		logger:          logger.Named("SubmissionService"),
		dispatchTimeout: defaultDispatchTimeout,
	}
}

// Submit ставит новую задачу генерации. Возвращает provisional-задачу
// со статусом pending; результат придет через realtime-канал.
func (s *SubmissionService) Submit(ctx context.Context, ownerID uuid.UUID, req SubmitRequest) (*models.Job, error) {
	p, err := s.providers.For(req.Kind)
	if err != nil {
		return nil, err
	}

	if req.Metadata != nil {
		doc, err := s.docRepo.GetByID(ctx, s.db, req.Metadata.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve target document: %w", err)
		}
		if doc.OwnerID != ownerID {
			return nil, models.ErrForbidden
		}
		if req.Metadata.NodeID == "" {
			return nil, fmt.Errorf("%w: metadata requires node_id", models.ErrInvalidInput)
		}
	}

	// Запись задачи обязана завершиться до исходящего вызова провайдера,
	// иначе webhook может прийти раньше, чем появится строка для привязки.
	job, err := s.lifecycle.CreateProvisional(ctx, ownerID, req.Kind, req.Input, req.Metadata)
	if err != nil {
		return nil, err
	}

	go s.dispatch(job, p, req.Input)

	return job, nil
}

// dispatch выполняет исходящий вызов провайдера в фоне.
func (s *SubmissionService) dispatch(job *models.Job, p provider.Provider, input json.RawMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), s.dispatchTimeout)
	defer cancel()

	log := s.logger.With(zap.String("job_id", job.ID.String()), zap.String("kind", string(job.Kind)))

	submitted, err := p.Submit(ctx, input)
	if err != nil {
		log.Error("Provider submit failed", zap.Error(err))
		s.failJob(ctx, log, job, err)
		return
	}

	if err := s.lifecycle.BindExternalID(ctx, job.ID, submitted.ExternalRequestID); err != nil {
		// Привязка не удалась: webhook по этому request id не найдет задачу.
		log.Error("Failed to bind external request id",
			zap.String("external_request_id", submitted.ExternalRequestID), zap.Error(err))
		s.failJob(ctx, log, job, err)
		return
	}
	log.Info("Job dispatched to provider", zap.String("external_request_id", submitted.ExternalRequestID))

	// Синхронный провайдер вернул результат сразу: финализируем на месте.
	if submitted.Immediate != nil {
		if err := s.lifecycle.FinalizeCompleted(ctx, job.ID, *submitted.Immediate); err != nil {
			log.Error("Failed to finalize synchronously completed job", zap.Error(err))
			return
		}
		s.publishJobUpdated(ctx, log, job, models.JobStatusCompleted, submitted.Immediate, nil)
	}
}

// failJob переводит задачу в failed после сбоя исходящего вызова.
func (s *SubmissionService) failJob(ctx context.Context, log *zap.Logger, job *models.Job, cause error) {
	msg := cause.Error()
	if errors.Is(cause, context.DeadlineExceeded) {
		msg = "provider request timed out"
	}
	if err := s.lifecycle.FinalizeFailed(ctx, job.ID, msg); err != nil {
		log.Error("Failed to finalize failed job", zap.Error(err))
		return
	}
	s.publishJobUpdated(ctx, log, job, models.JobStatusFailed, nil, &msg)
}

// publishJobUpdated публикует событие job.updated в топик владельца.
func (s *SubmissionService) publishJobUpdated(ctx context.Context, log *zap.Logger, job *models.Job, status models.JobStatus, result *models.JobResult, errMsg *string) {
	if s.publisher == nil {
		return
	}
	payload, err := json.Marshal(models.JobUpdatedPayload{
		JobID:  job.ID.String(),
		Kind:   job.Kind,
		Status: status,
		Result: result,
		Error:  errMsg,
	})
	if err != nil {
		log.Error("Failed to marshal job update payload", zap.Error(err))
		return
	}
	msg := models.BroadcastMessage{
		Topic:     constants.JobsTopic(job.OwnerID.String()),
		Event:     constants.EventJobUpdated,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	if err := s.publisher.PublishBroadcast(ctx, msg); err != nil {
		log.Warn("Failed to publish job update", zap.Error(err))
	}
}

// GetJob возвращает задачу владельца. Чужие задачи не раскрываются:
// для них возвращается models.ErrJobNotFound, а не forbidden.
func (s *SubmissionService) GetJob(ctx context.Context, ownerID, jobID uuid.UUID) (*models.Job, error) {
	job, err := s.lifecycle.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, models.ErrJobNotFound
	}
	return job, nil
}

// ListJobs возвращает страницу задач владельца, новейшие первыми.
// Курсор - keyset по (created_at, id), кодируется utils.EncodeCursor.
func (s *SubmissionService) ListJobs(ctx context.Context, ownerID uuid.UUID, cursor string, limit int) ([]*models.Job, string, error) {
	cursorTime, cursorID, err := utils.DecodeCursor(cursor)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	jobsPage, err := s.jobRepo.ListByOwner(ctx, s.db, ownerID, cursorTime, cursorID, limit)
	if err != nil {
		return nil, "", err
	}

	nextCursor := ""
	if len(jobsPage) == limit {
		last := jobsPage[len(jobsPage)-1]
		nextCursor = utils.EncodeCursor(last.CreatedAt, last.ID)
	}
	return jobsPage, nextCursor, nil
}
