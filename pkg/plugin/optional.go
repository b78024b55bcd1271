package plugin

import "context"

// HTTPProvider is implemented by plugins that expose REST routes.
// Paths are relative; the server mounts them under /api/v1/<plugin name>.
type HTTPProvider interface {
	Routes() []Route
}

// HealthChecker is implemented by plugins that report their own health.
type HealthChecker interface {
	Health(ctx context.Context) HealthStatus
}

// EventSubscriber is implemented by plugins that consume bus topics.
// The registry subscribes every declared handler after a successful Init.
type EventSubscriber interface {
	Subscriptions() []Subscription
}

// Validator is implemented by plugins that check their configuration after Init.
type Validator interface {
	ValidateConfig() error
}
