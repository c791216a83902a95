package apperrors

import (
	"errors"
)

var (
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid email or password")

	// Access or refresh token could not be verified. Expiry is reported with its own error
	// so callers may treat it as an expected outcome.
	ErrTokenInvalid = errors.New("token is invalid")
	ErrTokenExpired = errors.New("token is expired")

	ErrRoomNotFound         = errors.New("room not found")
	ErrRoomUnavailable      = errors.New("room is not available for the requested dates")
	ErrGuestsExceedCapacity = errors.New("guests exceed room capacity")
	ErrStayInPast           = errors.New("stay starts in the past")
	ErrInvalidStay          = errors.New("invalid stay")

	ErrBookingNotFound       = errors.New("booking not found")
	ErrBookingStatusConflict = errors.New("booking status changed concurrently")
	ErrInvalidTransition     = errors.New("booking status transition not allowed")
	ErrCheckInRejected       = errors.New("check-in rejected")
	ErrPassNotAvailable      = errors.New("check-in pass is issued for confirmed bookings only")

	ErrPaymentNotVerified  = errors.New("payment outcome is not verified")
	ErrInsufficientAmount  = errors.New("payment amount is less than booking total")
	ErrPaymentNotAvailable = errors.New("payment is allowed for pending bookings only")
)
