package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/homestay/internal/apperrors"
	"github.com/nkiryanov/homestay/internal/models"
)

type RoomRepo struct {
	DB DBTX
}

const roomColumns = `id, created_at, name, description, capacity, price_per_night`

const createRoom = `-- name: CreateRoom
INSERT INTO rooms (id, created_at, name, description, capacity, price_per_night)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + roomColumns

func (r *RoomRepo) CreateRoom(ctx context.Context, room models.Room) (models.Room, error) {
	if room.ID == uuid.Nil {
		room.ID = uuid.New()
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now()
	}

	rows, _ := r.DB.Query(ctx, createRoom, room.ID, room.CreatedAt, room.Name, room.Description, room.Capacity, room.PricePerNight)
	created, err := pgx.CollectOneRow(rows, rowToRoom)
	if err != nil {
		return created, fmt.Errorf("db error: %w", err)
	}

	return created, nil
}

const getRoom = `-- name: GetRoom
SELECT ` + roomColumns + ` FROM rooms WHERE id = $1`

func (r *RoomRepo) GetRoom(ctx context.Context, roomID uuid.UUID) (models.Room, error) {
	rows, _ := r.DB.Query(ctx, getRoom, roomID)
	return collectRoom(rows)
}

const lockRoom = getRoom + ` FOR UPDATE`

func (r *RoomRepo) LockRoom(ctx context.Context, roomID uuid.UUID) (models.Room, error) {
	rows, _ := r.DB.Query(ctx, lockRoom, roomID)
	return collectRoom(rows)
}

const listRooms = `-- name: ListRooms
SELECT ` + roomColumns + ` FROM rooms ORDER BY name, id`

func (r *RoomRepo) ListRooms(ctx context.Context) ([]models.Room, error) {
	rows, _ := r.DB.Query(ctx, listRooms)
	rooms, err := pgx.CollectRows(rows, rowToRoom)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return rooms, nil
}

func collectRoom(rows pgx.Rows) (models.Room, error) {
	room, err := pgx.CollectOneRow(rows, rowToRoom)

	switch {
	case err == nil:
		return room, nil
	case errors.Is(err, pgx.ErrNoRows):
		return room, apperrors.ErrRoomNotFound
	default:
		return room, fmt.Errorf("db error: %w", err)
	}
}

func rowToRoom(row pgx.CollectableRow) (models.Room, error) {
	var r models.Room
	err := row.Scan(&r.ID, &r.CreatedAt, &r.Name, &r.Description, &r.Capacity, &r.PricePerNight)
	return r, err
}
