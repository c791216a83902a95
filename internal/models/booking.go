package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCheckedIn BookingStatus = "checked-in"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
)

// Terminal statuses have no outgoing transitions
func (s BookingStatus) IsTerminal() bool {
	return s == BookingCompleted || s == BookingCancelled
}

func (s BookingStatus) Valid() bool {
	switch s {
	case BookingPending, BookingConfirmed, BookingCheckedIn, BookingCompleted, BookingCancelled:
		return true
	default:
		return false
	}
}

type Booking struct {
	ID          string // ULID, uppercase
	CreatedAt   time.Time
	UpdatedAt   time.Time
	RoomID      uuid.UUID
	UserID      uuid.UUID
	CheckIn     time.Time // calendar date, midnight UTC
	CheckOut    time.Time // calendar date, midnight UTC
	Guests      int
	TotalPrice  decimal.Decimal
	Status      BookingStatus
	PaymentInfo *PaymentInfo
	CheckedInAt *time.Time
}

// Nights returns the number of nights between check-in and check-out dates
func (b Booking) Nights() int {
	return Nights(b.CheckIn, b.CheckOut)
}

func Nights(checkIn, checkOut time.Time) int {
	return int(checkOut.Sub(checkIn).Hours() / 24)
}

// Snapshot of the last payment instruction or payment attached to the booking.
// Stored as JSON.
type PaymentInfo struct {
	Gateway       Gateway         `json:"gateway"`
	Reference     string          `json:"reference"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description,omitempty"`
	TransactionID string          `json:"transactionId,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	PaidAt        *time.Time      `json:"paidAt,omitempty"`
}
