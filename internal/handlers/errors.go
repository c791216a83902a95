package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/nkiryanov/homestay/internal/apperrors"
	"github.com/nkiryanov/homestay/internal/handlers/render"
	"github.com/nkiryanov/homestay/internal/handlers/userctx"
	"github.com/nkiryanov/homestay/internal/logger"
	"github.com/nkiryanov/homestay/internal/models"
	"github.com/nkiryanov/homestay/internal/service/booking"
)

// renderError maps service errors to responses. Unexpected errors are logged and become 500.
func renderError(w http.ResponseWriter, r *http.Request, err error, l logger.Logger) {
	var (
		transition *booking.TransitionError
		checkIn    *booking.CheckInError
	)

	switch {
	case errors.As(err, &checkIn):
		render.CheckInRejected(w, string(checkIn.Reason), checkIn.Message)
	case errors.As(err, &transition):
		render.ServiceError(w, transition.Error(), http.StatusConflict)

	case errors.Is(err, apperrors.ErrRoomNotFound):
		render.ServiceError(w, "Room not found", http.StatusNotFound)
	case errors.Is(err, apperrors.ErrBookingNotFound):
		render.ServiceError(w, "Booking not found", http.StatusNotFound)

	case errors.Is(err, apperrors.ErrRoomUnavailable):
		render.ServiceError(w, "Room is not available for the requested dates", http.StatusConflict)
	case errors.Is(err, apperrors.ErrBookingStatusConflict):
		render.ServiceError(w, "Booking changed concurrently, try again", http.StatusConflict)
	case errors.Is(err, apperrors.ErrPaymentNotAvailable):
		render.ServiceError(w, "Payment is allowed for pending bookings only", http.StatusConflict)
	case errors.Is(err, apperrors.ErrPassNotAvailable):
		render.ServiceError(w, "Check-in pass is issued for confirmed bookings only", http.StatusConflict)

	case errors.Is(err, apperrors.ErrGuestsExceedCapacity):
		render.ServiceError(w, "Guests exceed room capacity", http.StatusUnprocessableEntity)
	case errors.Is(err, apperrors.ErrStayInPast):
		render.ServiceError(w, "Stay starts in the past", http.StatusUnprocessableEntity)
	case errors.Is(err, apperrors.ErrInvalidStay):
		render.ServiceError(w, err.Error(), http.StatusUnprocessableEntity)

	default:
		l.Error("Request failed", "error", err, "method", r.Method, "path", r.URL.Path, "request_id", chimw.GetReqID(r.Context()))
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
	}
}

// principal is put to context by auth middleware; missing one means routing is broken
func principal(w http.ResponseWriter, r *http.Request) (models.Principal, bool) {
	p, ok := userctx.FromContext(r.Context())
	if !ok {
		render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
	}
	return p, ok
}

func bookingID(r *http.Request) string {
	return chi.URLParam(r, "bookingID")
}
