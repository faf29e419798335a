package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"canvas-server/shared/interfaces"
	"canvas-server/shared/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Compile-time check to ensure implementation satisfies the interface.
var _ interfaces.JobLifecycle = (*LifecycleManager)(nil)

// LifecycleManager управляет жизненным циклом задач генерации.
//
// Запись задачи мутируется ровно три раза: создание провизорной записи с
// плейсхолдером внешнего идентификатора, привязка реального идентификатора
// провайдера и один терминальный переход. Задачи никогда не удаляются этой
// подсистемой.
type LifecycleManager struct {
	db     interfaces.DBTX
	repo   interfaces.JobRepository
	cache  interfaces.JobCache // может быть nil, кэш опционален
	logger *zap.Logger
}

// NewLifecycleManager создает новый LifecycleManager. cache может быть nil.
func NewLifecycleManager(db interfaces.DBTX, repo interfaces.JobRepository, cache interfaces.JobCache, logger *zap.Logger) *LifecycleManager {
	return &LifecycleManager{
		db:     db,
		repo:   repo,
		cache:  cache,
		logger: logger.Named("JobLifecycle"),
	}
}

// CreateProvisional персистит задачу с плейсхолдером внешнего идентификатора.
// Вызов ОБЯЗАН завершиться до исходящего вызова провайдера: иначе webhook
// провайдера может прийти раньше, чем локальная запись появится в хранилище.
// Недоступность хранилища здесь прерывает весь сабмит.
func (m *LifecycleManager) CreateProvisional(ctx context.Context, ownerID uuid.UUID, kind models.JobKind, input []byte, metadata *models.JobMetadata) (*models.Job, error) {
	if !models.IsValidJobKind(kind) {
		return nil, fmt.Errorf("%w: unsupported job kind %q", models.ErrInvalidInput, kind)
	}

	job := &models.Job{
		ID:                uuid.New(),
		ExternalRequestID: models.NewLocalRequestID(),
		OwnerID:           ownerID,
		Kind:              kind,
		Status:            models.JobStatusPending,
		Input:             input,
		Metadata:          metadata,
		CreatedAt:         time.Now().UTC(),
	}

	if err := m.repo.Create(ctx, m.db, job); err != nil {
		m.logger.Error("Failed to create provisional job",
			zap.String("owner_id", ownerID.String()),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to create provisional job: %w", err)
	}

	m.logger.Info("Provisional job created",
		zap.String("job_id", job.ID.String()),
		zap.String("external_request_id", job.ExternalRequestID),
		zap.String("kind", string(kind)),
	)
	return job, nil
}

// BindExternalID заменяет плейсхолдер реальным идентификатором провайдера.
// Идемпотентна: повторный вызов с тем же значением безопасен.
func (m *LifecycleManager) BindExternalID(ctx context.Context, jobID uuid.UUID, externalRequestID string) error {
	if externalRequestID == "" {
		return fmt.Errorf("%w: empty external request id", models.ErrInvalidInput)
	}

	if err := m.repo.BindExternalID(ctx, m.db, jobID, externalRequestID); err != nil {
		return fmt.Errorf("failed to bind external request id: %w", err)
	}

	m.invalidateCache(ctx, jobID)
	return nil
}

// FinalizeCompleted переводит задачу в completed с результатом.
func (m *LifecycleManager) FinalizeCompleted(ctx context.Context, jobID uuid.UUID, result models.JobResult) error {
	return m.finalize(ctx, jobID, models.JobStatusCompleted, &result, nil)
}

// FinalizeFailed переводит задачу в failed с сообщением об ошибке.
func (m *LifecycleManager) FinalizeFailed(ctx context.Context, jobID uuid.UUID, errMsg string) error {
	return m.finalize(ctx, jobID, models.JobStatusFailed, nil, &errMsg)
}

// finalize выполняет одноразовый терминальный переход. Повторный вызов для
// уже терминальной задачи - no-op, а не ошибка: провайдеры повторяют доставку
// webhook, и дубликаты ожидаемы.
func (m *LifecycleManager) finalize(ctx context.Context, jobID uuid.UUID, status models.JobStatus, result *models.JobResult, errMsg *string) error {
	affected, err := m.repo.Finalize(ctx, m.db, jobID, status, result, errMsg, time.Now().UTC())
	if err != nil {
		m.logger.Error("Failed to finalize job",
			zap.String("job_id", jobID.String()),
			zap.String("status", string(status)),
			zap.Error(err),
		)
		return fmt.Errorf("failed to finalize job: %w", err)
	}

	if affected == 0 {
		// Задача уже терминальна: вторая доставка webhook или гонка.
		m.logger.Info("Finalize skipped, job already terminal",
			zap.String("job_id", jobID.String()),
			zap.String("requested_status", string(status)),
		)
		return nil
	}

	m.logger.Info("Job finalized",
		zap.String("job_id", jobID.String()),
		zap.String("status", string(status)),
	)
	m.invalidateCache(ctx, jobID)
	return nil
}

// GetByExternalID возвращает задачу по идентификатору запроса провайдера.
func (m *LifecycleManager) GetByExternalID(ctx context.Context, externalRequestID string) (*models.Job, error) {
	job, err := m.repo.GetByExternalID(ctx, m.db, externalRequestID)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// GetByID возвращает задачу по внутреннему идентификатору, через кэш если он настроен.
func (m *LifecycleManager) GetByID(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	if m.cache != nil {
		job, err := m.cache.Get(ctx, jobID)
		if err == nil {
			return job, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			m.logger.Warn("Job cache read failed, falling back to store", zap.String("job_id", jobID.String()), zap.Error(err))
		}
	}

	job, err := m.repo.GetByID(ctx, m.db, jobID)
	if err != nil {
		return nil, err
	}

	if m.cache != nil {
		if err := m.cache.Set(ctx, job); err != nil {
			m.logger.Warn("Job cache write failed", zap.String("job_id", jobID.String()), zap.Error(err))
		}
	}
	return job, nil
}

func (m *LifecycleManager) invalidateCache(ctx context.Context, jobID uuid.UUID) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Invalidate(ctx, jobID); err != nil {
		m.logger.Warn("Job cache invalidation failed", zap.String("job_id", jobID.String()), zap.Error(err))
	}
}
