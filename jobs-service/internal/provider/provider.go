package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"canvas-server/shared/models"
)

// SubmitResult - результат постановки задачи у внешнего провайдера.
type SubmitResult struct {
	// ExternalRequestID - идентификатор запроса, присвоенный провайдером.
	// По нему провайдер адресует последующее webhook-уведомление.
	ExternalRequestID string

	// Immediate заполняется синхронными провайдерами, которые возвращают
	// готовый результат прямо в ответе на постановку. Webhook для таких
	// задач не придет, финализацию выполняет вызывающая сторона.
	Immediate *models.JobResult
}

// Provider - адаптер одного внешнего провайдера генерации.
type Provider interface {
	// Kind возвращает тип задач, которые обслуживает провайдер.
	Kind() models.JobKind

	// Submit ставит задачу у провайдера. Вызывается строго после того,
	// как задача уже записана в хранилище с локальным placeholder-ид.
	Submit(ctx context.Context, input json.RawMessage) (SubmitResult, error)
}

// Registry - реестр провайдеров по типу задачи.
type Registry struct {
	providers map[models.JobKind]Provider
}

// NewRegistry создает реестр из переданных провайдеров.
func NewRegistry(providers ...Provider) *Registry {
	m := make(map[models.JobKind]Provider, len(providers))
	for _, p := range providers {
		m[p.Kind()] = p
	}
	return &Registry{providers: m}
}

// For возвращает провайдера для типа задачи.
func (r *Registry) For(kind models.JobKind) (Provider, error) {
	p, ok := r.providers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no provider registered for kind %q", models.ErrInvalidInput, kind)
	}
	return p, nil
}
