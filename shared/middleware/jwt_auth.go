package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"canvas-server/shared/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ContextUserIDKey - ключ, под которым идентификатор пользователя кладется в gin.Context.
const ContextUserIDKey = "userID"

// Claims - структура пользовательских клеймов JWT.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// JWTAuth создает middleware для проверки JWT access токена.
// Проверяет подпись и срок действия, извлекает user_id и кладет его в контекст.
// Не проверяет отзыв токена (это ответственность сервиса аутентификации).
func JWTAuth(secretKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := ParseBearerToken(c.GetHeader("Authorization"), secretKey)
		if err != nil {
			status := http.StatusUnauthorized
			c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
			return
		}
		c.Set(ContextUserIDKey, userID)
		c.Next()
	}
}

// ParseBearerToken валидирует заголовок Authorization и возвращает идентификатор
// пользователя из токена. Используется и HTTP-middleware, и websocket-рукопожатием.
func ParseBearerToken(authHeader, secretKey string) (uuid.UUID, error) {
	if authHeader == "" {
		return uuid.Nil, errors.New("authorization header missing")
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return uuid.Nil, errors.New("invalid authorization header format")
	}
	return ValidateToken(parts[1], secretKey)
}

// ValidateToken валидирует сырой JWT и возвращает идентификатор пользователя.
func ValidateToken(tokenString, secretKey string) (uuid.UUID, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secretKey), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return uuid.Nil, models.ErrTokenExpired
		}
		return uuid.Nil, models.ErrTokenInvalid
	}
	if !token.Valid {
		return uuid.Nil, models.ErrTokenInvalid
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return uuid.Nil, models.ErrTokenInvalid
	}
	return userID, nil
}

// UserIDFromContext извлекает идентификатор пользователя, положенный JWTAuth.
func UserIDFromContext(c *gin.Context) (uuid.UUID, error) {
	v, ok := c.Get(ContextUserIDKey)
	if !ok {
		return uuid.Nil, models.ErrUnauthorized
	}
	userID, ok := v.(uuid.UUID)
	if !ok {
		return uuid.Nil, models.ErrUnauthorized
	}
	return userID, nil
}
