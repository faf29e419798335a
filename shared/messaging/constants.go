package messaging

// Exchange Names
const (
	// RealtimeUpdatesExchangeName - fanout exchange, через который webhook-service
	// доставляет broadcast-конверты всем инстансам realtime-service.
	RealtimeUpdatesExchangeName = "realtime_updates_exchange"
)

// Queue Names (examples, might be service-specific)
const (
	// RealtimeUpdatesQueuePrefix - префикс эксклюзивных очередей инстансов
	// realtime-service, привязанных к fanout exchange.
	RealtimeUpdatesQueuePrefix = "realtime_updates"
)
