package entity

import "time"

// EventState is the delivery state of an outbox entry.
type EventState string

const (
	EventStatePending   EventState = "Pending"
	EventStateInFlight  EventState = "InFlight"
	EventStatePublished EventState = "Published"
	EventStateFailed    EventState = "Failed"
)

// IntegrationEventLogEntry is one outbox row, written in the same transaction
// as the aggregate change that produced it.
type IntegrationEventLogEntry struct {
	EventID       string     `json:"event_id"`
	EventTypeName string     `json:"event_type_name"`
	Content       []byte     `json:"content"`
	AggregateID   string     `json:"aggregate_id"`
	Sequence      int        `json:"sequence"`
	State         EventState `json:"state"`
	TimesSent     int        `json:"times_sent"`
	TransactionID string     `json:"transaction_id"`
	CreationTime  time.Time  `json:"creation_time"`
	NextAttemptAt time.Time  `json:"next_attempt_at"`
	ClaimedBy     string     `json:"claimed_by,omitempty"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty"`
	PublishedAt   *time.Time `json:"published_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}
