// Package events publishes domain events after an atomic unit has committed.
// Publishing is best effort: a failed publish is logged and never fails the
// request that caused it.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type names a domain event. The value doubles as the AMQP routing key.
type Type string

const (
	UserRegistered     Type = "user.registered"
	PasswordChanged    Type = "user.password_changed"
	TransactionCreated Type = "transaction.created"
	TransactionUpdated Type = "transaction.updated"
	TransactionDeleted Type = "transaction.deleted"
	BudgetCreated      Type = "budget.created"
	BudgetUpdated      Type = "budget.updated"
	BudgetDeleted      Type = "budget.deleted"
	PotCreated         Type = "pot.created"
	PotDeposited       Type = "pot.deposited"
	PotWithdrawn       Type = "pot.withdrawn"
	PotDeleted         Type = "pot.deleted"
	BillCreated        Type = "bill.created"
	BillUpdated        Type = "bill.updated"
	BillDeleted        Type = "bill.deleted"
)

// Event is one committed change.
type Event struct {
	ID         uuid.UUID  `json:"id"`
	Type       Type       `json:"type"`
	UserID     uuid.UUID  `json:"user_id"`
	EntityID   uuid.UUID  `json:"entity_id"`
	OccurredAt time.Time  `json:"occurred_at"`
	Attributes Attributes `json:"attributes"`
}

// New builds an event with a fresh ID.
func New(typ Type, userID, entityID uuid.UUID, at time.Time) Event {
	return Event{ID: uuid.New(), Type: typ, UserID: userID, EntityID: entityID, OccurredAt: at.UTC(), Attributes: Attributes{}}
}

// Body is the JSON message body for e.
func (e Event) Body() ([]byte, error) { return json.Marshal(e) }

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in publish order.
func (r *Recorder) Types() []Type {
	evs := r.Events()
	out := make([]Type, len(evs))
	for i, e := range evs {
		out[i] = e.Type
	}
	return out
}
