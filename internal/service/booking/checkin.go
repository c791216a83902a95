package booking

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"

	"github.com/nkiryanov/homestay/internal/apperrors"
	"github.com/nkiryanov/homestay/internal/ids"
	"github.com/nkiryanov/homestay/internal/models"
	"github.com/nkiryanov/homestay/internal/repository"
)

var validate = validator.New()

// Pass returns check-in payload for the guest. Issued for confirmed bookings only.
func (s *Service) Pass(ctx context.Context, p models.Principal, bookingID string) (models.CheckInPass, error) {
	b, err := s.Get(ctx, p, bookingID)
	if err != nil {
		return models.CheckInPass{}, err
	}
	if b.Status != models.BookingConfirmed {
		return models.CheckInPass{}, apperrors.ErrPassNotAvailable
	}

	return models.CheckInPass{
		Type:      models.CheckInPassType,
		BookingID: b.ID,
		RoomID:    b.RoomID.String(),
		CheckIn:   b.CheckIn.Format(models.DateLayout),
		CheckOut:  b.CheckOut.Format(models.DateLayout),
		Guests:    b.Guests,
	}, nil
}

// CheckIn validates the scanned pass against the stored booking and moves it to checked-in.
// Stored booking is authoritative, pass dates are informational.
// Expected rejections are returned as *CheckInError.
func (s *Service) CheckIn(ctx context.Context, pass models.CheckInPass) (models.Booking, error) {
	if err := validate.Struct(pass); err != nil {
		return models.Booking{}, rejectCheckIn(ReasonInvalidPass, "malformed check-in pass")
	}

	id, ok := ids.NormalizeBookingID(pass.BookingID)
	if !ok {
		return models.Booking{}, rejectCheckIn(ReasonInvalidPass, "unknown booking")
	}

	today := s.Today()

	res, err := s.apply(ctx, id, transition{
		to: models.BookingCheckedIn,
		guard: func(b models.Booking) (bool, error) {
			switch {
			case b.RoomID.String() != pass.RoomID:
				return false, rejectCheckIn(ReasonRoomMismatch, "pass is issued for another room")
			case b.Status != models.BookingConfirmed:
				return false, rejectCheckIn(ReasonWrongStatus, "booking is %s", b.Status)
			case today.Before(b.CheckIn):
				return false, rejectCheckIn(ReasonTooEarly, "check-in opens on %s", b.CheckIn.Format(models.DateLayout))
			case today.After(b.CheckOut):
				return false, rejectCheckIn(ReasonExpired, "stay ended on %s", b.CheckOut.Format(models.DateLayout))
			}
			return false, nil
		},
		options: func(models.Booking) []repository.UpdateOption {
			return []repository.UpdateOption{repository.WithCheckedInAt(s.now())}
		},
	})

	var rejected *CheckInError
	switch {
	case err == nil:
		return res.Booking, nil
	case errors.Is(err, apperrors.ErrBookingNotFound):
		s.logger.Info("Check-in rejected", "reason", ReasonInvalidPass, "booking_id", id)
		return models.Booking{}, rejectCheckIn(ReasonInvalidPass, "unknown booking")
	case errors.As(err, &rejected):
		s.logger.Info("Check-in rejected", "reason", rejected.Reason, "booking_id", id)
		return res.Booking, err
	default:
		return res.Booking, err
	}
}
