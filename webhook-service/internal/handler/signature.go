package handler

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SignatureHeader - заголовок с HMAC-SHA256 подписью тела запроса (hex).
const SignatureHeader = "X-Webhook-Signature"

// maxCallbackBodyBytes ограничивает размер тела уведомления.
const maxCallbackBodyBytes = 1 << 20 // 1 MiB

// SignatureMiddleware проверяет HMAC-подпись входящего уведомления общим
// секретом, выданным провайдеру при регистрации webhook-а. Тело запроса
// вычитывается целиком и возвращается в c.Request.Body для последующего
// биндинга.
func SignatureMiddleware(secret string, logger *zap.Logger) gin.HandlerFunc {
	log := logger.Named("SignatureMiddleware")
	key := []byte(secret)
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBodyBytes+1))
		if err != nil {
			log.Warn("Failed to read callback body", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}
		if len(body) > maxCallbackBodyBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body too large"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		provided, err := hex.DecodeString(c.GetHeader(SignatureHeader))
		if err != nil || len(provided) == 0 {
			log.Warn("Callback without a valid signature header", zap.String("remote", c.ClientIP()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or malformed signature"})
			return
		}

		mac := hmac.New(sha256.New, key)
		mac.Write(body)
		if !hmac.Equal(provided, mac.Sum(nil)) {
			log.Warn("Callback signature mismatch", zap.String("remote", c.ClientIP()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}

		c.Next()
	}
}
