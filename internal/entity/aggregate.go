package entity

import "time"

// Event represents a domain event.
type Event interface {
	EventType() string
}

// Aggregate represents a domain aggregate root.
type Aggregate interface {
	GetAggregateID() string
	GetVersion() int
	Changes() []Event
	ClearChanges()
}

// AggregateBase provides a basic implementation for an aggregate.
// Version is the persisted version the aggregate was loaded at; the store
// bumps it after every committed save.
type AggregateBase struct {
	ID      string
	Version int

	changes []Event
}

func (a *AggregateBase) GetAggregateID() string {
	return a.ID
}

func (a *AggregateBase) GetVersion() int {
	return a.Version
}

// Changes returns the domain events raised since the last committed save.
func (a *AggregateBase) Changes() []Event {
	out := make([]Event, len(a.changes))
	copy(out, a.changes)
	return out
}

// ClearChanges drops the uncommitted events. Stores call it after commit.
func (a *AggregateBase) ClearChanges() {
	a.changes = nil
}

func (a *AggregateBase) record(e Event) {
	a.changes = append(a.changes, e)
}

func utcNow() time.Time {
	return time.Now().UTC()
}
