package interfaces

import (
	"context"

	"canvas-server/shared/models"
)

// RealtimePublisher defines the interface for publishing broadcast envelopes
// towards connected clients (fanned out by the realtime service).
//
//go:generate mockery --name RealtimePublisher --output ./mocks --outpkg mocks --case=underscore
type RealtimePublisher interface {
	// PublishBroadcast sends one envelope to the realtime fanout exchange.
	PublishBroadcast(ctx context.Context, msg models.BroadcastMessage) error
}

// Uploader is the external storage collaborator. Failures here are logged and
// degraded, never fatal to job finalization.
//
//go:generate mockery --name Uploader --output ./mocks --outpkg mocks --case=underscore
type Uploader interface {
	// Upload stores the payload and returns a publicly reachable URL.
	Upload(ctx context.Context, ownerID, bucket, filename string, data []byte, contentType string) (string, error)
}
