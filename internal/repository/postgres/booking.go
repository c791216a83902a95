package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/homestay/internal/apperrors"
	"github.com/nkiryanov/homestay/internal/models"
	"github.com/nkiryanov/homestay/internal/repository"
)

type BookingRepo struct {
	DB DBTX
}

const bookingColumns = `id, created_at, updated_at, room_id, user_id, check_in, check_out, guests, total_price, status, payment_info, checked_in_at`

// Statuses that hold the room for their stay window
var activeStatuses = []string{
	string(models.BookingPending),
	string(models.BookingConfirmed),
	string(models.BookingCheckedIn),
}

const createBooking = `-- name: CreateBooking
INSERT INTO bookings (id, created_at, updated_at, room_id, user_id, check_in, check_out, guests, total_price, status)
VALUES ($1, $2, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + bookingColumns

func (r *BookingRepo) CreateBooking(ctx context.Context, b models.Booking) (models.Booking, error) {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	if b.Status == "" {
		b.Status = models.BookingPending
	}

	rows, _ := r.DB.Query(ctx, createBooking, b.ID, b.CreatedAt, b.RoomID, b.UserID, b.CheckIn, b.CheckOut, b.Guests, b.TotalPrice, b.Status)
	created, err := pgx.CollectOneRow(rows, rowToBooking)
	if err != nil {
		return created, fmt.Errorf("db error: %w", err)
	}

	return created, nil
}

const getBooking = `-- name: GetBooking
SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

func (r *BookingRepo) GetBooking(ctx context.Context, bookingID string) (models.Booking, error) {
	rows, _ := r.DB.Query(ctx, getBooking, bookingID)
	b, err := pgx.CollectOneRow(rows, rowToBooking)

	switch {
	case err == nil:
		return b, nil
	case errors.Is(err, pgx.ErrNoRows):
		return b, apperrors.ErrBookingNotFound
	default:
		return b, fmt.Errorf("db error: %w", err)
	}
}

func (r *BookingRepo) ListBookings(ctx context.Context, opts repository.ListBookingsOpts) ([]models.Booking, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if opts.UserID != nil {
		where = append(where, "user_id = "+arg(*opts.UserID))
	}
	if len(opts.Statuses) > 0 {
		statuses := make([]string, 0, len(opts.Statuses))
		for _, s := range opts.Statuses {
			statuses = append(statuses, string(s))
		}
		where = append(where, "status = ANY("+arg(statuses)+")")
	}
	if opts.Gateway != "" {
		where = append(where, "payment_info->>'gateway' = "+arg(string(opts.Gateway)))
	}
	if !opts.CreatedBefore.IsZero() {
		where = append(where, "created_at < "+arg(opts.CreatedBefore))
	}
	if !opts.PaymentCreatedBefore.IsZero() {
		where = append(where, "(payment_info->>'createdAt')::timestamptz < "+arg(opts.PaymentCreatedBefore))
	}

	q := strings.Builder{}
	q.WriteString("-- name: ListBookings\nSELECT " + bookingColumns + " FROM bookings")
	if len(where) > 0 {
		q.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	q.WriteString(" ORDER BY created_at DESC, id")
	if opts.Limit > 0 {
		q.WriteString(" LIMIT " + arg(opts.Limit))
	}

	rows, _ := r.DB.Query(ctx, q.String(), args...)
	bookings, err := pgx.CollectRows(rows, rowToBooking)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return bookings, nil
}

const hasOverlap = `-- name: HasOverlap
SELECT EXISTS (
	SELECT 1 FROM bookings
	WHERE room_id = $1
	  AND status = ANY($4)
	  AND check_in < $3
	  AND check_out > $2
)`

func (r *BookingRepo) HasOverlap(ctx context.Context, roomID uuid.UUID, checkIn time.Time, checkOut time.Time) (bool, error) {
	var exists bool
	err := r.DB.QueryRow(ctx, hasOverlap, roomID, checkIn, checkOut, activeStatuses).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	return exists, nil
}

// Status precondition is part of the WHERE clause, so two concurrent writers
// can never both succeed from the same source status
const updateStatus = `-- name: UpdateStatus
UPDATE bookings
SET status        = $3,
    updated_at    = $4,
    payment_info  = COALESCE($5::jsonb, payment_info),
    checked_in_at = COALESCE($6::timestamptz, checked_in_at)
WHERE id = $1 AND status = $2
RETURNING ` + bookingColumns

func (r *BookingRepo) UpdateStatus(
	ctx context.Context,
	bookingID string,
	from models.BookingStatus,
	to models.BookingStatus,
	opts ...repository.UpdateOption,
) (models.Booking, error) {
	var u repository.StatusUpdate
	for _, option := range opts {
		option(&u)
	}

	rows, _ := r.DB.Query(ctx, updateStatus, bookingID, from, to, time.Now(), u.PaymentInfo, u.CheckedInAt)
	b, err := pgx.CollectOneRow(rows, rowToBooking)

	switch {
	case err == nil:
		return b, nil
	case errors.Is(err, pgx.ErrNoRows):
		return r.preconditionFailed(ctx, bookingID)
	default:
		return b, fmt.Errorf("db error: %w", err)
	}
}

const setPaymentInfo = `-- name: SetPaymentInfo
UPDATE bookings
SET payment_info = $2,
    updated_at   = $3
WHERE id = $1 AND status = 'pending'
RETURNING ` + bookingColumns

func (r *BookingRepo) SetPaymentInfo(ctx context.Context, bookingID string, info models.PaymentInfo) (models.Booking, error) {
	rows, _ := r.DB.Query(ctx, setPaymentInfo, bookingID, info, time.Now())
	b, err := pgx.CollectOneRow(rows, rowToBooking)

	switch {
	case err == nil:
		return b, nil
	case errors.Is(err, pgx.ErrNoRows):
		return r.preconditionFailed(ctx, bookingID)
	default:
		return b, fmt.Errorf("db error: %w", err)
	}
}

// Tell apart missing booking and failed status precondition
func (r *BookingRepo) preconditionFailed(ctx context.Context, bookingID string) (models.Booking, error) {
	current, err := r.GetBooking(ctx, bookingID)
	if err != nil {
		return current, err
	}

	return current, fmt.Errorf("booking %s has status %s: %w", bookingID, current.Status, apperrors.ErrBookingStatusConflict)
}

func rowToBooking(row pgx.CollectableRow) (models.Booking, error) {
	var b models.Booking
	err := row.Scan(
		&b.ID,
		&b.CreatedAt,
		&b.UpdatedAt,
		&b.RoomID,
		&b.UserID,
		&b.CheckIn,
		&b.CheckOut,
		&b.Guests,
		&b.TotalPrice,
		&b.Status,
		&b.PaymentInfo,
		&b.CheckedInAt,
	)
	return b, err
}
