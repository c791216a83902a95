// Package events publishes booking lifecycle events for downstream collaborators
// such as guest notifications.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nkiryanov/homestay/internal/models"
)

type Type string

const (
	BookingConfirmed Type = "booking.confirmed"
	BookingCheckedIn Type = "booking.checked_in"
	BookingCancelled Type = "booking.cancelled"
	BookingCompleted Type = "booking.completed"
)

// TypeFor returns the event emitted when a booking enters status
func TypeFor(status models.BookingStatus) (Type, bool) {
	switch status {
	case models.BookingConfirmed:
		return BookingConfirmed, true
	case models.BookingCheckedIn:
		return BookingCheckedIn, true
	case models.BookingCancelled:
		return BookingCancelled, true
	case models.BookingCompleted:
		return BookingCompleted, true
	default:
		return "", false
	}
}

type Event struct {
	ID         string               `json:"id"`
	Type       Type                 `json:"type"`
	OccurredAt time.Time            `json:"occurredAt"`
	BookingID  string               `json:"bookingId"`
	RoomID     string               `json:"roomId"`
	UserID     string               `json:"userId"`
	From       models.BookingStatus `json:"from"`
	To         models.BookingStatus `json:"to"`
	TotalPrice decimal.Decimal      `json:"totalPrice"`

	// Set when the transition was caused by a payment
	Gateway models.Gateway `json:"gateway,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// NoOp drops every event. Used when no broker is configured.
type NoOp struct{}

func (NoOp) Publish(context.Context, Event) error { return nil }

// Recorder keeps published events in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Event(nil), r.events...)
}
