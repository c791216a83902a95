package booking

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/homestay/internal/apperrors"
	"github.com/nkiryanov/homestay/internal/models"
	"github.com/nkiryanov/homestay/internal/repository"
)

// In-memory storage with the same compare-and-swap contract as postgres storage
type fakeStorage struct {
	mu       sync.Mutex
	rooms    map[uuid.UUID]models.Room
	bookings map[string]models.Booking
	now      func() time.Time

	// Called inside UpdateStatus before the swap, lets tests interleave a concurrent writer
	beforeUpdate func(b *models.Booking)
	updates      int
}

func newFakeStorage(now func() time.Time) *fakeStorage {
	return &fakeStorage{
		rooms:    make(map[uuid.UUID]models.Room),
		bookings: make(map[string]models.Booking),
		now:      now,
	}
}

func (s *fakeStorage) User() repository.UserRepo       { return nil }
func (s *fakeStorage) Room() repository.RoomRepo       { return (*fakeRooms)(s) }
func (s *fakeStorage) Booking() repository.BookingRepo { return (*fakeBookings)(s) }

func (s *fakeStorage) InTx(_ context.Context, fn func(repository.Storage) error) error {
	return fn(s)
}

func (s *fakeStorage) put(b models.Booking) models.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bookings[b.ID] = b
	return b
}

func (s *fakeStorage) get(id string) models.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.bookings[id]
}

type fakeRooms fakeStorage

func (r *fakeRooms) CreateRoom(_ context.Context, room models.Room) (models.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if room.ID == uuid.Nil {
		room.ID = uuid.New()
	}
	r.rooms[room.ID] = room
	return room, nil
}

func (r *fakeRooms) GetRoom(_ context.Context, id uuid.UUID) (models.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[id]
	if !ok {
		return room, apperrors.ErrRoomNotFound
	}
	return room, nil
}

func (r *fakeRooms) LockRoom(ctx context.Context, id uuid.UUID) (models.Room, error) {
	return r.GetRoom(ctx, id)
}

func (r *fakeRooms) ListRooms(context.Context) ([]models.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var rooms []models.Room
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	return rooms, nil
}

type fakeBookings fakeStorage

func (r *fakeBookings) CreateBooking(_ context.Context, b models.Booking) (models.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b.UpdatedAt = b.CreatedAt
	r.bookings[b.ID] = b
	return b, nil
}

func (r *fakeBookings) GetBooking(_ context.Context, id string) (models.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bookings[id]
	if !ok {
		return b, apperrors.ErrBookingNotFound
	}
	return b, nil
}

func (r *fakeBookings) ListBookings(_ context.Context, opts repository.ListBookingsOpts) ([]models.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []models.Booking
	for _, b := range r.bookings {
		if opts.UserID != nil && b.UserID != *opts.UserID {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *fakeBookings) HasOverlap(_ context.Context, roomID uuid.UUID, checkIn, checkOut time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, b := range r.bookings {
		if b.RoomID != roomID || b.Status.IsTerminal() {
			continue
		}
		if b.CheckIn.Before(checkOut) && b.CheckOut.After(checkIn) {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeBookings) UpdateStatus(
	_ context.Context,
	id string,
	from models.BookingStatus,
	to models.BookingStatus,
	opts ...repository.UpdateOption,
) (models.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bookings[id]
	if !ok {
		return b, apperrors.ErrBookingNotFound
	}

	if r.beforeUpdate != nil {
		r.beforeUpdate(&b)
		r.bookings[id] = b
		r.beforeUpdate = nil
	}

	if b.Status != from {
		return b, fmt.Errorf("booking %s has status %s: %w", id, b.Status, apperrors.ErrBookingStatusConflict)
	}

	var u repository.StatusUpdate
	for _, option := range opts {
		option(&u)
	}

	b.Status = to
	b.UpdatedAt = r.now()
	if u.PaymentInfo != nil {
		b.PaymentInfo = u.PaymentInfo
	}
	if u.CheckedInAt != nil {
		b.CheckedInAt = u.CheckedInAt
	}

	r.bookings[id] = b
	r.updates++
	return b, nil
}

func (r *fakeBookings) SetPaymentInfo(_ context.Context, id string, info models.PaymentInfo) (models.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bookings[id]
	if !ok {
		return b, apperrors.ErrBookingNotFound
	}
	if b.Status != models.BookingPending {
		return b, apperrors.ErrBookingStatusConflict
	}

	b.PaymentInfo = &info
	r.bookings[id] = b
	return b, nil
}

type fakeObserver struct {
	mu          sync.Mutex
	transitions []string
}

func (o *fakeObserver) BookingTransition(from, to models.BookingStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.transitions = append(o.transitions, string(from)+"->"+string(to))
}
