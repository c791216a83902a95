package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/homestay/internal/apperrors"
	"github.com/nkiryanov/homestay/internal/handlers/render"
	"github.com/nkiryanov/homestay/internal/logger"
	"github.com/nkiryanov/homestay/internal/models"
)

type roomResponse struct {
	ID            uuid.UUID       `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Capacity      int             `json:"capacity"`
	PricePerNight decimal.Decimal `json:"pricePerNight"`
	CreatedAt     time.Time       `json:"createdAt"`
}

func newRoomResponse(room models.Room) roomResponse {
	return roomResponse{
		ID:            room.ID,
		Name:          room.Name,
		Description:   room.Description,
		Capacity:      room.Capacity,
		PricePerNight: room.PricePerNight,
		CreatedAt:     room.CreatedAt,
	}
}

func handleListRooms(rooms roomRepo, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		list, err := rooms.ListRooms(r.Context())
		if err != nil {
			l.Error("Failed to list rooms", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		res := make([]roomResponse, 0, len(list))
		for _, room := range list {
			res = append(res, newRoomResponse(room))
		}
		render.JSON(w, res)
	})
}

func handleGetRoom(rooms roomRepo, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "roomID"))
		if err != nil {
			render.ServiceError(w, "Room not found", http.StatusNotFound)
			return
		}

		room, err := rooms.GetRoom(r.Context(), id)
		switch {
		case err == nil:
			render.JSON(w, newRoomResponse(room))
		case errors.Is(err, apperrors.ErrRoomNotFound):
			render.ServiceError(w, "Room not found", http.StatusNotFound)
		default:
			l.Error("Failed to get room", "error", err, "room_id", id)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleCreateRoom(rooms roomRepo, l logger.Logger) http.Handler {
	type request struct {
		Name          string          `json:"name" validate:"required,max=100"`
		Description   string          `json:"description" validate:"max=2000"`
		Capacity      int             `json:"capacity" validate:"required,min=1,max=50"`
		PricePerNight decimal.Decimal `json:"pricePerNight"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}
		if data.PricePerNight.IsNegative() {
			render.JSONWithStatus(w, render.ErrorResponse{
				Error:   render.ValidationErrorType,
				Message: "Request validation failed",
				Fields:  map[string]string{"pricePerNight": "Must not be negative"},
			}, http.StatusBadRequest)
			return
		}

		room, err := rooms.CreateRoom(r.Context(), models.Room{
			Name:          data.Name,
			Description:   data.Description,
			Capacity:      data.Capacity,
			PricePerNight: data.PricePerNight,
		})
		if err != nil {
			l.Error("Failed to create room", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		render.JSONWithStatus(w, newRoomResponse(room), http.StatusCreated)
	})
}
