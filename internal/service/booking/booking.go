// Package booking implements booking creation and the booking status state machine.
//
//	pending -> confirmed -> checked-in -> completed
//	pending, confirmed -> cancelled
//
// Every status write is a compare-and-swap on the status read just before.
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/homestay/internal/apperrors"
	"github.com/nkiryanov/homestay/internal/events"
	"github.com/nkiryanov/homestay/internal/ids"
	"github.com/nkiryanov/homestay/internal/logger"
	"github.com/nkiryanov/homestay/internal/models"
	"github.com/nkiryanov/homestay/internal/repository"
)

const defaultMaxAttempts = 3

type eventPublisher interface {
	Publish(ctx context.Context, e events.Event) error
}

type transitionObserver interface {
	BookingTransition(from, to models.BookingStatus)
}

type Config struct {
	// Calendar dates (stay window, today) are evaluated in this location
	Location *time.Location
	Now      func() time.Time

	Publisher eventPublisher
	Observer  transitionObserver

	// Compare-and-swap attempts before giving up with status conflict
	MaxAttempts int
}

type Service struct {
	storage   repository.Storage
	publisher eventPublisher
	observer  transitionObserver
	logger    logger.Logger

	location    *time.Location
	now         func() time.Time
	maxAttempts int
}

func NewService(cfg Config, storage repository.Storage, l logger.Logger) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.NoOp{}
	}
	if cfg.Observer == nil {
		cfg.Observer = noopObserver{}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Service{
		storage:     storage,
		publisher:   cfg.Publisher,
		observer:    cfg.Observer,
		logger:      l,
		location:    cfg.Location,
		now:         cfg.Now,
		maxAttempts: cfg.MaxAttempts,
	}
}

type noopObserver struct{}

func (noopObserver) BookingTransition(models.BookingStatus, models.BookingStatus) {}

// Today returns current calendar date in service location as midnight UTC,
// the representation used for stored stay dates
func (s *Service) Today() time.Time {
	return dateOf(s.now().In(s.location))
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type CreateParams struct {
	RoomID   uuid.UUID
	CheckIn  time.Time
	CheckOut time.Time
	Guests   int
}

// Create reserves the room for the stay window. Booking starts as pending.
func (s *Service) Create(ctx context.Context, p models.Principal, params CreateParams) (models.Booking, error) {
	checkIn, checkOut := dateOf(params.CheckIn), dateOf(params.CheckOut)

	if !checkIn.Before(checkOut) {
		return models.Booking{}, fmt.Errorf("%w: check-out must be after check-in", apperrors.ErrInvalidStay)
	}
	if params.Guests < 1 {
		return models.Booking{}, fmt.Errorf("%w: at least one guest required", apperrors.ErrInvalidStay)
	}
	if checkIn.Before(s.Today()) {
		return models.Booking{}, apperrors.ErrStayInPast
	}

	var created models.Booking

	err := s.storage.InTx(ctx, func(tx repository.Storage) error {
		// Lock serializes bookings of the same room, so overlap check and insert are atomic
		room, err := tx.Room().LockRoom(ctx, params.RoomID)
		if err != nil {
			return err
		}
		if params.Guests > room.Capacity {
			return apperrors.ErrGuestsExceedCapacity
		}

		overlap, err := tx.Booking().HasOverlap(ctx, room.ID, checkIn, checkOut)
		if err != nil {
			return err
		}
		if overlap {
			return apperrors.ErrRoomUnavailable
		}

		nights := models.Nights(checkIn, checkOut)
		created, err = tx.Booking().CreateBooking(ctx, models.Booking{
			ID:         ids.NewBookingID(),
			CreatedAt:  s.now(),
			RoomID:     room.ID,
			UserID:     p.UserID,
			CheckIn:    checkIn,
			CheckOut:   checkOut,
			Guests:     params.Guests,
			TotalPrice: room.PricePerNight.Mul(decimal.NewFromInt(int64(nights))),
			Status:     models.BookingPending,
		})
		return err
	})
	if err != nil {
		return models.Booking{}, err
	}

	s.logger.Info("Booking created", "booking_id", created.ID, "room_id", created.RoomID, "user_id", created.UserID, "total", created.TotalPrice)
	return created, nil
}

// Get returns booking visible to the principal: own bookings, or any booking for admins.
// Foreign bookings are reported as not found.
func (s *Service) Get(ctx context.Context, p models.Principal, bookingID string) (models.Booking, error) {
	id, ok := ids.NormalizeBookingID(bookingID)
	if !ok {
		return models.Booking{}, apperrors.ErrBookingNotFound
	}

	b, err := s.storage.Booking().GetBooking(ctx, id)
	if err != nil {
		return b, err
	}
	if !p.IsAdmin() && b.UserID != p.UserID {
		return models.Booking{}, apperrors.ErrBookingNotFound
	}

	return b, nil
}

func (s *Service) ListOwn(ctx context.Context, p models.Principal) ([]models.Booking, error) {
	return s.storage.Booking().ListBookings(ctx, repository.ListBookingsOpts{UserID: &p.UserID})
}

func (s *Service) List(ctx context.Context, opts repository.ListBookingsOpts) ([]models.Booking, error) {
	return s.storage.Booking().ListBookings(ctx, opts)
}

// AttachPayment stores payment instruction shown to the guest. Only pending bookings accept payment.
func (s *Service) AttachPayment(ctx context.Context, bookingID string, info models.PaymentInfo) (models.Booking, error) {
	b, err := s.storage.Booking().SetPaymentInfo(ctx, bookingID, info)
	if errors.Is(err, apperrors.ErrBookingStatusConflict) {
		return b, apperrors.ErrPaymentNotAvailable
	}
	return b, err
}

// ApplyPayment reconciles payment outcome reported by a gateway.
//
// Outcome must be verified and cover booking total; otherwise booking is left unchanged.
// Bookings already confirmed (or further) are a no-op, gateways redeliver callbacks.
func (s *Service) ApplyPayment(ctx context.Context, outcome models.PaymentOutcome) (Result, error) {
	log := s.logger.With("gateway", outcome.Gateway, "reference", outcome.BookingReference, "transaction_id", outcome.TransactionID)

	if !outcome.Verified {
		log.Warn("Unverified payment outcome rejected")
		return Result{}, apperrors.ErrPaymentNotVerified
	}

	id, ok := ids.NormalizeBookingID(outcome.BookingReference)
	if !ok {
		log.Info("Payment reference does not match any booking")
		return Result{}, apperrors.ErrBookingNotFound
	}

	return s.apply(ctx, id, transition{
		to:      models.BookingConfirmed,
		gateway: outcome.Gateway,
		guard: func(b models.Booking) (bool, error) {
			switch b.Status {
			case models.BookingConfirmed, models.BookingCheckedIn, models.BookingCompleted:
				log.Debug("Payment already applied", "booking_id", b.ID, "status", b.Status)
				return true, nil
			case models.BookingCancelled:
				log.Warn("Payment received for cancelled booking", "booking_id", b.ID, "amount", outcome.AmountReceived)
				return false, nil
			}

			if outcome.AmountReceived.LessThan(b.TotalPrice) {
				log.Warn("Insufficient payment amount", "booking_id", b.ID, "received", outcome.AmountReceived, "total", b.TotalPrice)
				return false, fmt.Errorf("%w: received %s, total %s", apperrors.ErrInsufficientAmount, outcome.AmountReceived, b.TotalPrice)
			}
			return false, nil
		},
		options: func(b models.Booking) []repository.UpdateOption {
			return []repository.UpdateOption{repository.WithPaymentInfo(s.paidInfo(b, outcome))}
		},
	})
}

func (s *Service) paidInfo(b models.Booking, outcome models.PaymentOutcome) models.PaymentInfo {
	now := s.now()

	info := models.PaymentInfo{
		Gateway:   outcome.Gateway,
		CreatedAt: now,
	}
	if b.PaymentInfo != nil {
		info = *b.PaymentInfo
		info.Gateway = outcome.Gateway
	}

	info.Amount = outcome.AmountReceived
	info.TransactionID = outcome.TransactionID
	info.PaidAt = &now
	return info
}

// Confirm is the admin override for payments settled outside the gateways
func (s *Service) Confirm(ctx context.Context, bookingID string) (Result, error) {
	id, ok := ids.NormalizeBookingID(bookingID)
	if !ok {
		return Result{}, apperrors.ErrBookingNotFound
	}

	return s.apply(ctx, id, transition{
		to:      models.BookingConfirmed,
		gateway: models.GatewayManual,
		guard: func(b models.Booking) (bool, error) {
			return b.Status == models.BookingConfirmed, nil
		},
		options: func(b models.Booking) []repository.UpdateOption {
			return []repository.UpdateOption{repository.WithPaymentInfo(s.paidInfo(b, models.PaymentOutcome{
				Gateway:        models.GatewayManual,
				AmountReceived: b.TotalPrice,
			}))}
		},
	})
}

// Cancel is allowed to the booking owner and admins
func (s *Service) Cancel(ctx context.Context, p models.Principal, bookingID string) (Result, error) {
	b, err := s.Get(ctx, p, bookingID)
	if err != nil {
		return Result{}, err
	}

	return s.apply(ctx, b.ID, transition{to: models.BookingCancelled})
}

// Complete closes stay of a checked-in guest
func (s *Service) Complete(ctx context.Context, bookingID string) (Result, error) {
	id, ok := ids.NormalizeBookingID(bookingID)
	if !ok {
		return Result{}, apperrors.ErrBookingNotFound
	}

	return s.apply(ctx, id, transition{to: models.BookingCompleted})
}

// ExpireHold cancels pending booking created before cutoff. Any other booking is left as is.
func (s *Service) ExpireHold(ctx context.Context, bookingID string, cutoff time.Time) (Result, error) {
	return s.apply(ctx, bookingID, transition{
		to: models.BookingCancelled,
		guard: func(b models.Booking) (bool, error) {
			return b.Status != models.BookingPending || !b.CreatedAt.Before(cutoff), nil
		},
	})
}
