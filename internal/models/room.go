package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Room struct {
	ID            uuid.UUID
	CreatedAt     time.Time
	Name          string
	Description   string
	Capacity      int
	PricePerNight decimal.Decimal
}
