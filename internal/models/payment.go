package models

import (
	"github.com/shopspring/decimal"
)

type Gateway string

const (
	GatewaySePay  Gateway = "sepay"
	GatewayVNPay  Gateway = "vnpay"
	GatewayManual Gateway = "manual"
)

// PaymentOutcome is what a gateway adapter reports after parsing a callback
type PaymentOutcome struct {
	BookingReference string
	AmountReceived   decimal.Decimal
	Verified         bool
	Gateway          Gateway
	TransactionID    string

	// Gateway response code, kept for diagnostics
	Code string
}

// CheckInPass is the payload encoded into the guest check-in QR code
type CheckInPass struct {
	Type      string `json:"type" validate:"required,eq=CHECKIN"`
	BookingID string `json:"bookingId" validate:"required"`
	RoomID    string `json:"roomId" validate:"required,uuid"`
	CheckIn   string `json:"checkIn" validate:"required,datetime=2006-01-02"`
	CheckOut  string `json:"checkOut" validate:"required,datetime=2006-01-02"`
	Guests    int    `json:"guests" validate:"required,min=1"`
}

const CheckInPassType = "CHECKIN"

const DateLayout = "2006-01-02"
