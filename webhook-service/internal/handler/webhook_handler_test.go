package handler

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"canvas-server/shared/interfaces/mocks"
	"canvas-server/shared/models"
	"canvas-server/webhook-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSigningSecret = "test-signing-secret"

type handlerDeps struct {
	lifecycle *mocks.JobLifecycle
	docRepo   *mocks.DocumentRepository
	nodeRepo  *mocks.DocumentNodeRepository
	publisher *mocks.RealtimePublisher
}

func newTestRouter(t *testing.T) (*gin.Engine, *handlerDeps) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	deps := &handlerDeps{
		lifecycle: mocks.NewJobLifecycle(t),
		docRepo:   mocks.NewDocumentRepository(t),
		nodeRepo:  mocks.NewDocumentNodeRepository(t),
		publisher: mocks.NewRealtimePublisher(t),
	}
	reconciler := service.NewReconciler(
		nil,
		deps.lifecycle,
		deps.docRepo,
		deps.nodeRepo,
		service.NewResultResolver(nil, nil, "", zap.NewNop()),
		deps.publisher,
		zap.NewNop(),
	)
	h := NewWebhookHandler(reconciler, zap.NewNop())

	router := gin.New()
	h.RegisterRoutes(router, SignatureMiddleware(testSigningSecret, zap.NewNop()))
	return router, deps
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSigningSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func postCallback(router *gin.Engine, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/generation", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestWebhook_RejectsMissingSignature(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := postCallback(router, []byte(`{"request_id":"prov-1","status":"completed"}`), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	router, _ := newTestRouter(t)

	body := []byte(`{"request_id":"prov-1","status":"completed"}`)
	rec := postCallback(router, body, sign([]byte("other body")))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhook_MalformedBody(t *testing.T) {
	router, _ := newTestRouter(t)

	body := []byte(`{not json`)
	rec := postCallback(router, body, sign(body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhook_UnknownRequestIDReturns404(t *testing.T) {
	router, deps := newTestRouter(t)

	deps.lifecycle.On("GetByExternalID", mock.Anything, "prov-missing").
		Return(nil, models.ErrJobNotFound).Once()

	body := []byte(`{"request_id":"prov-missing","status":"completed"}`)
	rec := postCallback(router, body, sign(body))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhook_DuplicateDeliveryReturns200(t *testing.T) {
	router, deps := newTestRouter(t)

	completedAt := time.Now().UTC()
	deps.lifecycle.On("GetByExternalID", mock.Anything, "prov-1").
		Return(&models.Job{
			ID:                uuid.New(),
			ExternalRequestID: "prov-1",
			Status:            models.JobStatusCompleted,
			CompletedAt:       &completedAt,
		}, nil).Once()

	body := []byte(`{"request_id":"prov-1","status":"completed"}`)
	rec := postCallback(router, body, sign(body))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"duplicate"}`, rec.Body.String())
}

func TestWebhook_TransientStoreFailureReturns500(t *testing.T) {
	router, deps := newTestRouter(t)

	deps.lifecycle.On("GetByExternalID", mock.Anything, "prov-1").
		Return(nil, errors.New("connection refused")).Once()

	body := []byte(`{"request_id":"prov-1","status":"completed"}`)
	rec := postCallback(router, body, sign(body))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWebhook_IntermediateStatusIgnored(t *testing.T) {
	router, deps := newTestRouter(t)

	deps.lifecycle.On("GetByExternalID", mock.Anything, "prov-1").
		Return(&models.Job{
			ID:                uuid.New(),
			ExternalRequestID: "prov-1",
			Status:            models.JobStatusPending,
		}, nil).Once()

	body := []byte(`{"request_id":"prov-1","status":"processing"}`)
	rec := postCallback(router, body, sign(body))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ignored"}`, rec.Body.String())
}
