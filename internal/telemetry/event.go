package telemetry

import (
	"time"

	"github.com/google/uuid"
)

// EventType names an account lifecycle event.
type EventType string

const (
	EventAccountCreated  EventType = "account.created"
	EventCodeResent      EventType = "account.code_resent"
	EventAccountVerified EventType = "account.verified"
	EventInviteRedeemed  EventType = "invite.redeemed"
)

// Source is the default event source label.
const Source = "referral-system"

// Event is an account lifecycle event. It is serialized as JSON for Kafka and Loki.
// Verification codes are never part of an event.
type Event struct {
	ID          string            `json:"id"`
	Type        EventType         `json:"event_type"`
	PhoneNumber string            `json:"phone_number"`
	InviteCode  string            `json:"invite_code,omitempty"`
	Source      string            `json:"source"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

// NewEvent returns an event with a fresh ID.
func NewEvent(t EventType, phone string, at time.Time) *Event {
	return &Event{
		ID:          uuid.New().String(),
		Type:        t,
		PhoneNumber: phone,
		Source:      Source,
		OccurredAt:  at.UTC(),
	}
}

// With sets a metadata key and returns the event for chaining.
func (e *Event) With(key, value string) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}
