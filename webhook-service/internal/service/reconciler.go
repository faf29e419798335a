package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"canvas-server/shared/constants"
	"canvas-server/shared/interfaces"
	"canvas-server/shared/models"

	"go.uber.org/zap"
)

// ReconcileOutcome описывает результат обработки уведомления для HTTP-слоя.
type ReconcileOutcome int

const (
	// OutcomeReconciled — уведомление применено (или корректно поглощено).
	OutcomeReconciled ReconcileOutcome = iota
	// OutcomeDuplicate — задача уже в терминальном статусе, повторная доставка.
	OutcomeDuplicate
	// OutcomeUnknownRequest — внешний идентификатор нам неизвестен.
	OutcomeUnknownRequest
	// OutcomeIgnored — статус уведомления не требует действий (промежуточный прогресс).
	OutcomeIgnored
)

// Reconciler приводит состояние задачи и документа в соответствие с
// уведомлением провайдера. Все операции идемпотентны: повторная доставка
// того же уведомления не порождает повторных записей и публикаций.
type Reconciler struct {
	db        interfaces.DBTX
	lifecycle interfaces.JobLifecycle
	docRepo   interfaces.DocumentRepository
	nodeRepo  interfaces.DocumentNodeRepository
	resolver  *ResultResolver
	publisher interfaces.RealtimePublisher
	logger    *zap.Logger
}

// NewReconciler создает новый Reconciler.
func NewReconciler(
	db interfaces.DBTX,
	lifecycle interfaces.JobLifecycle,
	docRepo interfaces.DocumentRepository,
	nodeRepo interfaces.DocumentNodeRepository,
	resolver *ResultResolver,
	publisher interfaces.RealtimePublisher,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		db:        db,
		lifecycle: lifecycle,
		docRepo:   docRepo,
		nodeRepo:  nodeRepo,
		resolver:  resolver,
		publisher: publisher,
		logger:    logger.Named("Reconciler"),
	}
}

// Reconcile обрабатывает одно уведомление провайдера.
//
// Возвращаемая ошибка означает временный сбой (хранилище недоступно и т.п.) —
// провайдеру следует ответить 5xx, чтобы он повторил доставку. Все
// "постоянные" исходы, включая удаленный документ или узел, выражаются
// через ReconcileOutcome и считаются успешной обработкой.
func (r *Reconciler) Reconcile(ctx context.Context, cb ProviderCallback) (ReconcileOutcome, error) {
	log := r.logger.With(zap.String("request_id", cb.RequestID))

	if cb.RequestID == "" {
		log.Warn("Callback without request id")
		return OutcomeUnknownRequest, nil
	}

	job, err := r.lifecycle.GetByExternalID(ctx, cb.RequestID)
	if err != nil {
		if errors.Is(err, models.ErrJobNotFound) || errors.Is(err, models.ErrNotFound) {
			log.Warn("Callback for unknown request id")
			return OutcomeUnknownRequest, nil
		}
		return OutcomeReconciled, fmt.Errorf("failed to look up job by request id: %w", err)
	}

	log = log.With(zap.String("job_id", job.ID.String()))

	if job.Status.IsTerminal() {
		log.Info("Job already terminal, treating callback as duplicate delivery",
			zap.String("status", string(job.Status)))
		return OutcomeDuplicate, nil
	}

	switch MapProviderStatus(cb.Status) {
	case models.JobStatusCompleted:
		return r.reconcileCompleted(ctx, log, job, cb)
	case models.JobStatusFailed:
		return r.reconcileFailed(ctx, log, job, cb)
	default:
		log.Debug("Ignoring non-terminal provider status", zap.String("provider_status", cb.Status))
		return OutcomeIgnored, nil
	}
}

// reconcileCompleted применяет успешное завершение: разрешает результат,
// обновляет узел документа (если задача к нему привязана), финализирует
// задачу и публикует события в realtime-канал.
func (r *Reconciler) reconcileCompleted(ctx context.Context, log *zap.Logger, job *models.Job, cb ProviderCallback) (ReconcileOutcome, error) {
	result, err := r.resolver.Resolve(ctx, job, cb)
	if err != nil {
		if errors.Is(err, models.ErrInvalidInput) {
			// Провайдер отчитался об успехе без результата: повтор не поможет.
			log.Error("Completion callback without a usable result", zap.Error(err))
			reason := models.ErrorNodeState("provider reported success without a result", models.ErrorKindAPI, time.Now().UTC())
			return r.finalizeFailed(ctx, log, job, reason)
		}
		return OutcomeReconciled, fmt.Errorf("failed to resolve job result: %w", err)
	}

	if job.Metadata == nil {
		// Задача не привязана к узлу документа: только финализация.
		if err := r.lifecycle.FinalizeCompleted(ctx, job.ID, result); err != nil {
			return OutcomeReconciled, fmt.Errorf("failed to finalize job: %w", err)
		}
		r.publishJobUpdated(ctx, log, job, models.JobStatusCompleted, &result, nil)
		return OutcomeReconciled, nil
	}

	docLog := log.With(
		zap.String("document_id", job.Metadata.DocumentID.String()),
		zap.String("node_id", job.Metadata.NodeID))

	if _, err := r.docRepo.GetByID(ctx, r.db, job.Metadata.DocumentID); err != nil {
		if errors.Is(err, models.ErrDocumentNotFound) || errors.Is(err, models.ErrNotFound) {
			// Документ удален, пока задача выполнялась: результат выбрасывается.
			docLog.Info("Target document deleted, discarding result")
			return r.finalizeOrphaned(ctx, docLog, job, result)
		}
		return OutcomeReconciled, fmt.Errorf("failed to load target document: %w", err)
	}

	now := time.Now().UTC()
	state := models.ReadyNodeState(result.URL, result.Type, now)
	node := &models.DocumentNode{
		DocumentID: job.Metadata.DocumentID,
		NodeID:     job.Metadata.NodeID,
		State:      state,
		UpdatedAt:  now,
	}
	staleNode := false
	if err := r.nodeRepo.Upsert(ctx, r.db, node); err != nil {
		switch {
		case errors.Is(err, models.ErrStaleNodeUpdate):
			// Узел уже обновлен более свежим событием: не откатываем
			// и не транслируем отклоненное состояние клиентам.
			docLog.Info("Node already carries a newer state, skipping write")
			staleNode = true
		case errors.Is(err, models.ErrNodeNotFound), errors.Is(err, models.ErrNotFound):
			docLog.Info("Target node deleted, discarding result")
			return r.finalizeOrphaned(ctx, docLog, job, result)
		default:
			return OutcomeReconciled, fmt.Errorf("failed to write node state: %w", err)
		}
	}

	if err := r.docRepo.Touch(ctx, r.db, job.Metadata.DocumentID, now); err != nil {
		docLog.Warn("Failed to touch document timestamp", zap.Error(err))
	}

	if err := r.lifecycle.FinalizeCompleted(ctx, job.ID, result); err != nil {
		return OutcomeReconciled, fmt.Errorf("failed to finalize job: %w", err)
	}

	if !staleNode {
		r.publishDocumentUpdated(ctx, docLog, job, state)
	}
	r.publishJobUpdated(ctx, docLog, job, models.JobStatusCompleted, &result, nil)
	return OutcomeReconciled, nil
}

// reconcileFailed применяет провал: классифицирует ошибку, финализирует
// задачу и по возможности ставит узлу состояние ошибки.
func (r *Reconciler) reconcileFailed(ctx context.Context, log *zap.Logger, job *models.Job, cb ProviderCallback) (ReconcileOutcome, error) {
	kind := ClassifyProviderError(cb.ErrorCode(), cb.ErrorMessage())
	message := cb.ErrorMessage()
	if message == "" {
		message = "generation failed"
	}
	state := models.ErrorNodeState(message, kind, time.Now().UTC())
	log.Info("Provider reported failure",
		zap.String("error_kind", string(kind)),
		zap.String("error_message", message))
	return r.finalizeFailed(ctx, log, job, state)
}

// finalizeFailed переводит задачу в failed и best-effort пишет состояние
// ошибки в узел. Отсутствие документа или узла здесь не считается сбоем.
func (r *Reconciler) finalizeFailed(ctx context.Context, log *zap.Logger, job *models.Job, state models.NodeState) (ReconcileOutcome, error) {
	if err := r.lifecycle.FinalizeFailed(ctx, job.ID, state.Message); err != nil {
		return OutcomeReconciled, fmt.Errorf("failed to finalize job: %w", err)
	}

	if job.Metadata != nil {
		node := &models.DocumentNode{
			DocumentID: job.Metadata.DocumentID,
			NodeID:     job.Metadata.NodeID,
			State:      state,
			UpdatedAt:  state.StateTimestamp(),
		}
		if err := r.nodeRepo.Upsert(ctx, r.db, node); err != nil {
			// Состояние ошибки на узле — косметика; задача уже финализирована.
			log.Warn("Failed to write error state to node", zap.Error(err))
		} else {
			r.publishDocumentUpdated(ctx, log, job, state)
		}
	}

	msg := state.Message
	r.publishJobUpdated(ctx, log, job, models.JobStatusFailed, nil, &msg)
	return OutcomeReconciled, nil
}

// finalizeOrphaned завершает задачу успехом, когда ее целевой документ или
// узел исчезли: результат сохраняется в записи задачи, но в документ не
// попадает, а провайдеру возвращается успех, чтобы он не ретраил доставку.
func (r *Reconciler) finalizeOrphaned(ctx context.Context, log *zap.Logger, job *models.Job, result models.JobResult) (ReconcileOutcome, error) {
	if err := r.lifecycle.FinalizeCompleted(ctx, job.ID, result); err != nil {
		return OutcomeReconciled, fmt.Errorf("failed to finalize orphaned job: %w", err)
	}
	r.publishJobUpdated(ctx, log, job, models.JobStatusCompleted, &result, nil)
	return OutcomeReconciled, nil
}

// publishDocumentUpdated публикует событие document.updated в топик документа.
func (r *Reconciler) publishDocumentUpdated(ctx context.Context, log *zap.Logger, job *models.Job, state models.NodeState) {
	if r.publisher == nil || job.Metadata == nil {
		return
	}
	payload, err := json.Marshal(models.DocumentUpdatedPayload{
		DocumentID: job.Metadata.DocumentID.String(),
		NodeID:     job.Metadata.NodeID,
		State:      state,
		JobID:      job.ID.String(),
	})
	if err != nil {
		log.Error("Failed to marshal document update payload", zap.Error(err))
		return
	}
	msg := models.BroadcastMessage{
		Topic:     constants.DocumentTopic(job.Metadata.DocumentID.String()),
		Event:     constants.EventDocumentUpdated,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	if err := r.publisher.PublishBroadcast(ctx, msg); err != nil {
		// Клиенты дотянут состояние при следующем запросе документа.
		log.Warn("Failed to publish document update", zap.Error(err))
	}
}

// publishJobUpdated публикует событие job.updated в топик владельца задачи.
func (r *Reconciler) publishJobUpdated(ctx context.Context, log *zap.Logger, job *models.Job, status models.JobStatus, result *models.JobResult, errMsg *string) {
	if r.publisher == nil {
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
	if err := r.publisher.PublishBroadcast(ctx, msg); err != nil {
		log.Warn("Failed to publish job update", zap.Error(err))
	}
}
