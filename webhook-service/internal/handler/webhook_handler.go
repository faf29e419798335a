package handler

import (
	"net/http"
	"time"

	"canvas-server/webhook-service/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// WebhookHandler принимает уведомления провайдеров генерации.
type WebhookHandler struct {
	reconciler *service.Reconciler
	logger     *zap.Logger
}

// NewWebhookHandler создает новый WebhookHandler.
func NewWebhookHandler(reconciler *service.Reconciler, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		reconciler: reconciler,
		logger:     logger.Named("WebhookHandler"),
	}
}

// HandleGenerationCallback обрабатывает POST /webhooks/generation.
//
// Контракт кодов ответа:
//   - 200 - уведомление применено, поглощено как дубликат или проигнорировано;
//     провайдер не должен повторять доставку;
//   - 404 - неизвестный request id: доставка не для нас;
//   - 5xx - временный сбой на нашей стороне, доставку следует повторить.
func (h *WebhookHandler) HandleGenerationCallback(c *gin.Context) {
	start := time.Now()

	var cb service.ProviderCallback
	if err := c.ShouldBindJSON(&cb); err != nil {
		h.logger.Warn("Malformed callback payload", zap.Error(err))
		callbacksTotal.WithLabelValues("malformed").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}

	outcome, err := h.reconciler.Reconcile(c.Request.Context(), cb)
	callbackDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		h.logger.Error("Callback reconciliation failed",
			zap.String("request_id", cb.RequestID), zap.Error(err))
		callbacksTotal.WithLabelValues("error").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reconciliation failed"})
		return
	}

	switch outcome {
	case service.OutcomeUnknownRequest:
		callbacksTotal.WithLabelValues("unknown").Inc()
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown request id"})
	case service.OutcomeDuplicate:
		callbacksTotal.WithLabelValues("duplicate").Inc()
		c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
	case service.OutcomeIgnored:
		callbacksTotal.WithLabelValues("ignored").Inc()
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
	default:
		callbacksTotal.WithLabelValues("reconciled").Inc()
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// RegisterRoutes регистрирует маршруты обработчика.
func (h *WebhookHandler) RegisterRoutes(router gin.IRouter, signature gin.HandlerFunc) {
	group := router.Group("/webhooks")
	group.Use(signature)
	group.POST("/generation", h.HandleGenerationCallback)
}
