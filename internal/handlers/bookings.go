package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/homestay/internal/handlers/render"
	"github.com/nkiryanov/homestay/internal/logger"
	"github.com/nkiryanov/homestay/internal/models"
	"github.com/nkiryanov/homestay/internal/repository"
	"github.com/nkiryanov/homestay/internal/service/booking"
)

const maxListedBookings = 500

type bookingResponse struct {
	ID          string               `json:"id"`
	RoomID      uuid.UUID            `json:"roomId"`
	UserID      uuid.UUID            `json:"userId"`
	CheckIn     string               `json:"checkIn"`
	CheckOut    string               `json:"checkOut"`
	Nights      int                  `json:"nights"`
	Guests      int                  `json:"guests"`
	TotalPrice  decimal.Decimal      `json:"totalPrice"`
	Status      models.BookingStatus `json:"status"`
	Payment     *models.PaymentInfo  `json:"payment,omitempty"`
	CheckedInAt *time.Time           `json:"checkedInAt,omitempty"`
	CreatedAt   time.Time            `json:"createdAt"`
	UpdatedAt   time.Time            `json:"updatedAt"`
}

func newBookingResponse(b models.Booking) bookingResponse {
	return bookingResponse{
		ID:          b.ID,
		RoomID:      b.RoomID,
		UserID:      b.UserID,
		CheckIn:     b.CheckIn.Format(models.DateLayout),
		CheckOut:    b.CheckOut.Format(models.DateLayout),
		Nights:      b.Nights(),
		Guests:      b.Guests,
		TotalPrice:  b.TotalPrice,
		Status:      b.Status,
		Payment:     b.PaymentInfo,
		CheckedInAt: b.CheckedInAt,
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
}

func newBookingsResponse(list []models.Booking) []bookingResponse {
	res := make([]bookingResponse, 0, len(list))
	for _, b := range list {
		res = append(res, newBookingResponse(b))
	}
	return res
}

func handleCreateBooking(bookings bookingService, l logger.Logger) http.Handler {
	type request struct {
		RoomID   string `json:"roomId" validate:"required,uuid"`
		CheckIn  string `json:"checkIn" validate:"required,datetime=2006-01-02"`
		CheckOut string `json:"checkOut" validate:"required,datetime=2006-01-02"`
		Guests   int    `json:"guests" validate:"required,min=1"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		// Formats are checked by validator already
		roomID, _ := uuid.Parse(data.RoomID)
		checkIn, _ := time.Parse(models.DateLayout, data.CheckIn)
		checkOut, _ := time.Parse(models.DateLayout, data.CheckOut)

		b, err := bookings.Create(r.Context(), p, booking.CreateParams{
			RoomID:   roomID,
			CheckIn:  checkIn,
			CheckOut: checkOut,
			Guests:   data.Guests,
		})
		if err != nil {
			renderError(w, r, err, l)
			return
		}

		render.JSONWithStatus(w, newBookingResponse(b), http.StatusCreated)
	})
}

func handleListOwnBookings(bookings bookingService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}

		list, err := bookings.ListOwn(r.Context(), p)
		if err != nil {
			renderError(w, r, err, l)
			return
		}

		render.JSON(w, newBookingsResponse(list))
	})
}

func handleGetBooking(bookings bookingService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}

		b, err := bookings.Get(r.Context(), p, bookingID(r))
		if err != nil {
			renderError(w, r, err, l)
			return
		}

		render.JSON(w, newBookingResponse(b))
	})
}

// Serves both owner and admin routes; ownership is checked by the service
func handleCancelBooking(bookings bookingService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}

		res, err := bookings.Cancel(r.Context(), p, bookingID(r))
		if err != nil {
			renderError(w, r, err, l)
			return
		}

		render.JSON(w, newBookingResponse(res.Booking))
	})
}

// Query parameter status accepts comma separated statuses
func handleListBookings(bookings bookingService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		opts := repository.ListBookingsOpts{Limit: maxListedBookings}

		if raw := r.URL.Query().Get("status"); raw != "" {
			for _, value := range strings.Split(raw, ",") {
				status := models.BookingStatus(strings.TrimSpace(value))
				if !status.Valid() {
					render.ServiceError(w, "Unknown booking status: "+string(status), http.StatusBadRequest)
					return
				}
				opts.Statuses = append(opts.Statuses, status)
			}
		}

		list, err := bookings.List(r.Context(), opts)
		if err != nil {
			renderError(w, r, err, l)
			return
		}

		render.JSON(w, newBookingsResponse(list))
	})
}

func handleConfirmBooking(bookings bookingService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, err := bookings.Confirm(r.Context(), bookingID(r))
		if err != nil {
			renderError(w, r, err, l)
			return
		}

		render.JSON(w, newBookingResponse(res.Booking))
	})
}

func handleCompleteBooking(bookings bookingService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, err := bookings.Complete(r.Context(), bookingID(r))
		if err != nil {
			renderError(w, r, err, l)
			return
		}

		render.JSON(w, newBookingResponse(res.Booking))
	})
}
