package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nkiryanov/homestay/internal/apperrors"
	"github.com/nkiryanov/homestay/internal/events"
	"github.com/nkiryanov/homestay/internal/ids"
	"github.com/nkiryanov/homestay/internal/models"
	"github.com/nkiryanov/homestay/internal/repository"
)

var transitions = map[models.BookingStatus][]models.BookingStatus{
	models.BookingPending:   {models.BookingConfirmed, models.BookingCancelled},
	models.BookingConfirmed: {models.BookingCheckedIn, models.BookingCancelled},
	models.BookingCheckedIn: {models.BookingCompleted},
}

// CanTransition reports whether the state machine allows moving from one status to another
func CanTransition(from, to models.BookingStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Result of a lifecycle operation. Changed is false for idempotent no-ops.
type Result struct {
	Booking models.Booking
	Changed bool
}

type transition struct {
	to models.BookingStatus

	// Inspects freshly read booking. Returns noop=true to finish without writing.
	guard func(b models.Booking) (noop bool, err error)

	// Extra fields written together with the status
	options func(b models.Booking) []repository.UpdateOption

	// Recorded in the published event
	gateway models.Gateway
}

// apply runs read, guard and compare-and-swap write. Lost races re-read the booking and try again,
// so a concurrent writer can never be overwritten.
func (s *Service) apply(ctx context.Context, bookingID string, t transition) (Result, error) {
	repo := s.storage.Booking()

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		b, err := repo.GetBooking(ctx, bookingID)
		if err != nil {
			return Result{}, err
		}

		if t.guard != nil {
			noop, err := t.guard(b)
			if err != nil {
				return Result{Booking: b}, err
			}
			if noop {
				return Result{Booking: b}, nil
			}
		}

		if !CanTransition(b.Status, t.to) {
			return Result{Booking: b}, &TransitionError{From: b.Status, To: t.to}
		}

		var opts []repository.UpdateOption
		if t.options != nil {
			opts = t.options(b)
		}

		updated, err := repo.UpdateStatus(ctx, b.ID, b.Status, t.to, opts...)
		switch {
		case err == nil:
			s.transitioned(ctx, b, updated, t.gateway)
			return Result{Booking: updated, Changed: true}, nil

		case errors.Is(err, apperrors.ErrBookingStatusConflict):
			s.logger.Debug("Booking changed concurrently, retrying", "booking_id", b.ID, "attempt", attempt, "from", b.Status, "to", t.to)
			continue

		default:
			return Result{Booking: b}, err
		}
	}

	return Result{}, fmt.Errorf("%w: booking %s, gave up after %d attempts", apperrors.ErrBookingStatusConflict, bookingID, s.maxAttempts)
}

// Runs after a transition is written: count it and notify collaborators.
// Publishing is best effort, the transition is already persisted.
func (s *Service) transitioned(ctx context.Context, before models.Booking, after models.Booking, gateway models.Gateway) {
	s.observer.BookingTransition(before.Status, after.Status)
	s.logger.Info("Booking status changed", "booking_id", after.ID, "from", before.Status, "to", after.Status)

	typ, ok := events.TypeFor(after.Status)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	err := s.publisher.Publish(ctx, events.Event{
		ID:         ids.NewEventID(),
		Type:       typ,
		OccurredAt: after.UpdatedAt,
		BookingID:  after.ID,
		RoomID:     after.RoomID.String(),
		UserID:     after.UserID.String(),
		From:       before.Status,
		To:         after.Status,
		TotalPrice: after.TotalPrice,
		Gateway:    gateway,
	})
	if err != nil {
		s.logger.Error("Failed to publish booking event", "error", err, "booking_id", after.ID, "event", typ)
	}
}
