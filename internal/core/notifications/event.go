package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	EventPayoutRequested   = "payout.requested"
	EventPayoutUnderReview = "payout.under_review"
	EventPayoutApproved    = "payout.approved"
	EventPayoutRejected    = "payout.rejected"
	EventPayoutCancelled   = "payout.cancelled"
	EventPayoutProcessing  = "payout.processing"
	EventPayoutCompleted   = "payout.completed"
	EventPayoutFailed      = "payout.failed"
	EventCashbackPaid      = "cashback.paid"
)

// Event is a post-commit lifecycle notification. Data holds the entity
// snapshot at the time of the change.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Type       string    `json:"event"`
	EntityID   uuid.UUID `json:"entity_id"`
	ChurchID   uuid.UUID `json:"church_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data,omitempty"`
}

func NewEvent(typ string, entityID, churchID uuid.UUID, at time.Time, data any) Event {
	return Event{ID: uuid.New(), Type: typ, EntityID: entityID, ChurchID: churchID, OccurredAt: at, Data: data}
}

// Notifier is fire-and-forget: a slow or failing receiver never affects the
// operation that raised the event.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) {}
