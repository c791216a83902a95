package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/homestay/internal/models"
)

type CreateUserParams struct {
	Email          string
	Name           string
	Role           models.Role
	HashedPassword string
}

// User repository interface
type UserRepo interface {
	// Create user
	// If user with the email exists already has to return error apperrors.ErrUserAlreadyExists
	CreateUser(ctx context.Context, params CreateUserParams) (models.User, error)

	// Get user by it's id or email (case-insensitive)
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
}

type RoomRepo interface {
	CreateRoom(ctx context.Context, room models.Room) (models.Room, error)

	// If room not found must return apperrors.ErrRoomNotFound
	GetRoom(ctx context.Context, roomID uuid.UUID) (models.Room, error)

	// Same as GetRoom but locks the row until the end of the transaction
	LockRoom(ctx context.Context, roomID uuid.UUID) (models.Room, error)

	ListRooms(ctx context.Context) ([]models.Room, error)
}

type ListBookingsOpts struct {
	UserID   *uuid.UUID
	Statuses []models.BookingStatus

	// Filter by payment attempt made through the gateway
	Gateway models.Gateway

	CreatedBefore        time.Time
	PaymentCreatedBefore time.Time

	Limit int
}

type BookingRepo interface {
	CreateBooking(ctx context.Context, booking models.Booking) (models.Booking, error)

	// If booking not found must return apperrors.ErrBookingNotFound
	GetBooking(ctx context.Context, bookingID string) (models.Booking, error)

	ListBookings(ctx context.Context, opts ListBookingsOpts) ([]models.Booking, error)

	// Report whether the room has an active booking intersecting [checkIn, checkOut)
	HasOverlap(ctx context.Context, roomID uuid.UUID, checkIn time.Time, checkOut time.Time) (bool, error)

	// Compare-and-swap status change: the write happens only if the stored status equals 'from'.
	// If the booking does not exist must return apperrors.ErrBookingNotFound,
	// if the stored status differs must return apperrors.ErrBookingStatusConflict
	UpdateStatus(ctx context.Context, bookingID string, from models.BookingStatus, to models.BookingStatus, opts ...UpdateOption) (models.Booking, error)

	// Attach payment instruction snapshot. Allowed for pending bookings only,
	// otherwise must return apperrors.ErrBookingStatusConflict
	SetPaymentInfo(ctx context.Context, bookingID string, info models.PaymentInfo) (models.Booking, error)
}

// Optional fields written together with a status change
type StatusUpdate struct {
	PaymentInfo *models.PaymentInfo
	CheckedInAt *time.Time
}

type UpdateOption func(*StatusUpdate)

func WithPaymentInfo(info models.PaymentInfo) UpdateOption {
	return func(u *StatusUpdate) {
		u.PaymentInfo = &info
	}
}

func WithCheckedInAt(at time.Time) UpdateOption {
	return func(u *StatusUpdate) {
		u.CheckedInAt = &at
	}
}

type Storage interface {
	User() UserRepo
	Room() RoomRepo
	Booking() BookingRepo

	// Run fn in transaction. Storage passed to fn is bound to the transaction
	InTx(ctx context.Context, fn func(Storage) error) error
}
