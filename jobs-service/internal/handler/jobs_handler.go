package handler

import (
	"errors"
	"net/http"
	"strconv"

	"canvas-server/jobs-service/internal/service"
	sharedMiddleware "canvas-server/shared/middleware"
	"canvas-server/shared/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// JobsHandler обслуживает HTTP API задач генерации и документов.
type JobsHandler struct {
	submissions *service.SubmissionService
	documents   *service.DocumentService
	logger      *zap.Logger
}

// NewJobsHandler создает новый JobsHandler.
func NewJobsHandler(submissions *service.SubmissionService, documents *service.DocumentService, logger *zap.Logger) *JobsHandler {
	return &JobsHandler{
		submissions: submissions,
		documents:   documents,
		logger:      logger.Named("JobsHandler"),
	}
}

// RegisterRoutes регистрирует маршруты API под переданным auth-middleware.
func (h *JobsHandler) RegisterRoutes(router gin.IRouter, auth gin.HandlerFunc) {
	api := router.Group("/api")
	api.Use(auth)

	api.POST("/generations", h.SubmitGeneration)
	api.GET("/jobs", h.ListJobs)
	api.GET("/jobs/:id", h.GetJob)

	api.POST("/documents", h.CreateDocument)
	api.GET("/documents/:id", h.GetDocument)
	api.DELETE("/documents/:id/nodes/:nodeId", h.DeleteNode)
}

// SubmitGeneration обрабатывает POST /api/generations.
// Возвращает 202 с provisional-задачей; результат придет realtime-событием.
func (h *JobsHandler) SubmitGeneration(c *gin.Context) {
	userID, err := sharedMiddleware.UserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req service.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}

	job, err := h.submissions.Submit(c.Request.Context(), userID, req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

// GetJob обрабатывает GET /api/jobs/:id.
func (h *JobsHandler) GetJob(c *gin.Context) {
	userID, err := sharedMiddleware.UserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	job, err := h.submissions.GetJob(c.Request.Context(), userID, jobID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// ListJobs обрабатывает GET /api/jobs?cursor=...&limit=...
func (h *JobsHandler) ListJobs(c *gin.Context) {
	userID, err := sharedMiddleware.UserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	jobsPage, nextCursor, err := h.submissions.ListJobs(c.Request.Context(), userID, c.Query("cursor"), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobsPage, "next_cursor": nextCursor})
}

type createDocumentRequest struct {
	Title string `json:"title"`
}

// CreateDocument обрабатывает POST /api/documents.
func (h *JobsHandler) CreateDocument(c *gin.Context) {
	userID, err := sharedMiddleware.UserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req createDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}

	doc, err := h.documents.Create(c.Request.Context(), userID, req.Title)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, doc)
}

// GetDocument обрабатывает GET /api/documents/:id.
// Отдает документ вместе со срезом состояний узлов для загрузки канваса.
func (h *JobsHandler) GetDocument(c *gin.Context) {
	userID, err := sharedMiddleware.UserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	documentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
		return
	}

	doc, err := h.documents.Get(c.Request.Context(), userID, documentID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// DeleteNode обрабатывает DELETE /api/documents/:id/nodes/:nodeId.
func (h *JobsHandler) DeleteNode(c *gin.Context) {
	userID, err := sharedMiddleware.UserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	documentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
		return
	}

	if err := h.documents.DeleteNode(c.Request.Context(), userID, documentID, c.Param("nodeId")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// respondError транслирует доменные ошибки в HTTP-статусы.
func (h *JobsHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound),
		errors.Is(err, models.ErrJobNotFound),
		errors.Is(err, models.ErrDocumentNotFound),
		errors.Is(err, models.ErrNodeNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, models.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, models.ErrInvalidInput), errors.Is(err, models.ErrBadRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
