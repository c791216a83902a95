package booking

import (
	"fmt"

	"github.com/nkiryanov/homestay/internal/apperrors"
	"github.com/nkiryanov/homestay/internal/models"
)

// TransitionError reports a status change the state machine does not allow
type TransitionError struct {
	From models.BookingStatus
	To   models.BookingStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("booking is %s, cannot move to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return apperrors.ErrInvalidTransition
}

type CheckInReason string

const (
	ReasonTooEarly     CheckInReason = "TOO_EARLY"
	ReasonExpired      CheckInReason = "EXPIRED"
	ReasonRoomMismatch CheckInReason = "ROOM_MISMATCH"
	ReasonWrongStatus  CheckInReason = "WRONG_STATUS"
	ReasonInvalidPass  CheckInReason = "INVALID_PASS"
)

// CheckInError is an expected front desk rejection with a reason the guest can act on
type CheckInError struct {
	Reason  CheckInReason
	Message string
}

func (e *CheckInError) Error() string {
	return fmt.Sprintf("check-in rejected (%s): %s", e.Reason, e.Message)
}

func (e *CheckInError) Unwrap() error {
	return apperrors.ErrCheckInRejected
}

func rejectCheckIn(reason CheckInReason, format string, args ...any) *CheckInError {
	return &CheckInError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}
