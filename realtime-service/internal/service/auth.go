package service

import (
	"context"
	"errors"

	"canvas-server/shared/constants"
	"canvas-server/shared/interfaces"
	sharedMiddleware "canvas-server/shared/middleware"
	"canvas-server/shared/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AuthService валидирует токены и авторизует подписки на топики.
// Все топики приватные: jobs-топик доступен только своему пользователю,
// документный - только владельцу документа.
type AuthService struct {
	jwtSecret string
	db        interfaces.DBTX
	docRepo   interfaces.DocumentRepository
	logger    zerolog.Logger
}

// NewAuthService создает новый AuthService.
func NewAuthService(jwtSecret string, db interfaces.DBTX, docRepo interfaces.DocumentRepository, logger zerolog.Logger) *AuthService {
	return &AuthService{
		jwtSecret: jwtSecret,
		db:        db,
		docRepo:   docRepo,
		logger:    logger.With().Str("component", "AuthService").Logger(),
	}
}

// ValidateToken проверяет JWT и возвращает идентификатор пользователя.
func (s *AuthService) ValidateToken(tokenString string) (uuid.UUID, error) {
	return sharedMiddleware.ValidateToken(tokenString, s.jwtSecret)
}

// CanSubscribe проверяет, имеет ли пользователь доступ к топику.
func (s *AuthService) CanSubscribe(ctx context.Context, userID uuid.UUID, topic string) (bool, error) {
	prefix, id, err := constants.ParseTopic(topic)
	if err != nil {
		return false, err
	}

	switch prefix {
	case constants.JobsTopicPrefix:
		return id == userID.String(), nil
	case constants.DocumentTopicPrefix:
		documentID, err := uuid.Parse(id)
		if err != nil {
			return false, err
		}
		doc, err := s.docRepo.GetByID(ctx, s.db, documentID)
		if err != nil {
			if errors.Is(err, models.ErrDocumentNotFound) || errors.Is(err, models.ErrNotFound) {
				return false, nil
			}
			return false, err
		}
		return doc.OwnerID == userID, nil
	default:
		return false, nil
	}
}
