package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/skip2/go-qrcode"

	"github.com/nkiryanov/homestay/internal/handlers/render"
	"github.com/nkiryanov/homestay/internal/logger"
	"github.com/nkiryanov/homestay/internal/models"
)

const passImageSize = 320

func handleCheckInPass(bookings bookingService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}

		pass, err := bookings.Pass(r.Context(), p, bookingID(r))
		if err != nil {
			renderError(w, r, err, l)
			return
		}

		render.JSON(w, pass)
	})
}

// Encodes the same JSON payload the scanner posts back to check-in endpoint
func handleCheckInPassImage(bookings bookingService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}

		pass, err := bookings.Pass(r.Context(), p, bookingID(r))
		if err != nil {
			renderError(w, r, err, l)
			return
		}

		payload, err := json.Marshal(pass)
		if err != nil {
			renderError(w, r, err, l)
			return
		}

		png, err := qrcode.Encode(string(payload), qrcode.Medium, passImageSize)
		if err != nil {
			renderError(w, r, err, l)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(png)
	})
}

// handleCheckIn is the front desk endpoint. Pass validation is left to the service,
// so a malformed pass is reported with the same rejection envelope as other reasons.
func handleCheckIn(bookings bookingService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var pass models.CheckInPass

		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&pass); err != nil {
			render.DecodeError(w, err)
			return
		}

		b, err := bookings.CheckIn(r.Context(), pass)
		if err != nil {
			renderError(w, r, err, l)
			return
		}

		render.JSON(w, newBookingResponse(b))
	})
}
