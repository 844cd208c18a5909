// Package producer publishes account events to a message broker (Kafka).
package producer

import (
	"context"

	"referral-system/internal/telemetry"
)

// Producer emits account events. Callers use it best-effort: log and ignore errors.
type Producer interface {
	// Emit sends a single event. Implementations may block briefly; call through telemetry.EmitAsync from handlers.
	Emit(ctx context.Context, event *telemetry.Event) error
	// Close releases resources (e.g. Kafka writer). Safe to call if already closed.
	Close() error
}
