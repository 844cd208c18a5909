package telemetry

import (
	"context"
	"errors"
)

// EventEmitter emits account events (e.g. to Kafka or OTel Logs). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *Event) error
}

// Multi fans an event out to every non-nil emitter and joins their errors.
type Multi []EventEmitter

// Emit sends event to all emitters, continuing past failures.
func (m Multi) Emit(ctx context.Context, event *Event) error {
	var errs []error
	for _, e := range m {
		if e == nil {
			continue
		}
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Combine returns a single emitter over the non-nil emitters, or nil when there are none.
func Combine(emitters ...EventEmitter) EventEmitter {
	var out Multi
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return out
}
