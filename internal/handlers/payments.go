package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nkiryanov/homestay/internal/apperrors"
	"github.com/nkiryanov/homestay/internal/handlers/middleware"
	"github.com/nkiryanov/homestay/internal/handlers/render"
	"github.com/nkiryanov/homestay/internal/logger"
	"github.com/nkiryanov/homestay/internal/metrics"
	"github.com/nkiryanov/homestay/internal/models"
	"github.com/nkiryanov/homestay/internal/service/booking"
	"github.com/nkiryanov/homestay/internal/service/payment/sepay"
)

const maxWebhookBody = 64 << 10

// VNPay IPN response codes
const (
	ipnConfirmed        = "00"
	ipnOrderNotFound    = "01"
	ipnAlreadyConfirmed = "02"
	ipnInvalidAmount    = "04"
	ipnInvalidSignature = "97"
	ipnUnknownError     = "99"
)

type paymentObserver interface {
	PaymentCallback(gateway models.Gateway, result string)
}

// paymentResult classifies ApplyPayment outcome for metrics and gateway responses
func paymentResult(res booking.Result, err error) string {
	switch {
	case err == nil && res.Changed:
		return metrics.ResultConfirmed
	case err == nil:
		return metrics.ResultDuplicate
	case errors.Is(err, apperrors.ErrBookingNotFound):
		return metrics.ResultUnmatched
	case errors.Is(err, apperrors.ErrInsufficientAmount):
		return metrics.ResultInsufficient
	case errors.Is(err, apperrors.ErrInvalidTransition):
		return metrics.ResultFailed
	case errors.Is(err, apperrors.ErrPaymentNotVerified):
		return metrics.ResultUnverified
	default:
		return metrics.ResultError
	}
}

// pendingBooking loads booking of the principal that may still be paid
func pendingBooking(w http.ResponseWriter, r *http.Request, bookings bookingService, l logger.Logger) (models.Booking, bool) {
	p, ok := principal(w, r)
	if !ok {
		return models.Booking{}, false
	}

	b, err := bookings.Get(r.Context(), p, bookingID(r))
	if err == nil && b.Status != models.BookingPending {
		err = apperrors.ErrPaymentNotAvailable
	}
	if err != nil {
		renderError(w, r, err, l)
		return b, false
	}

	return b, true
}

func handleCreateQRPayment(bookings bookingService, gw sepayGateway, l logger.Logger) http.Handler {
	type response struct {
		BookingID string          `json:"bookingId"`
		QRURL     string          `json:"qrUrl"`
		Reference string          `json:"reference"`
		Amount    decimal.Decimal `json:"amount"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, ok := pendingBooking(w, r, bookings, l)
		if !ok {
			return
		}

		payable := gw.BuildPayable(b.ID, b.TotalPrice)

		_, err := bookings.AttachPayment(r.Context(), b.ID, models.PaymentInfo{
			Gateway:     models.GatewaySePay,
			Reference:   payable.Reference,
			Amount:      payable.Amount,
			Description: "Transfer with memo " + payable.Reference,
			CreatedAt:   time.Now(),
		})
		if err != nil {
			renderError(w, r, err, l)
			return
		}

		render.JSON(w, response{BookingID: b.ID, QRURL: payable.QRURL, Reference: payable.Reference, Amount: payable.Amount})
	})
}

func handleCreateVNPayPayment(bookings bookingService, gw vnpayGateway, l logger.Logger) http.Handler {
	type response struct {
		BookingID   string          `json:"bookingId"`
		RedirectURL string          `json:"redirectUrl"`
		Reference   string          `json:"reference"`
		Amount      decimal.Decimal `json:"amount"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gw == nil {
			render.ServiceError(w, "VNPay payments are not configured", http.StatusServiceUnavailable)
			return
		}

		b, ok := pendingBooking(w, r, bookings, l)
		if !ok {
			return
		}

		payable, err := gw.BuildPayable(b.ID, b.TotalPrice, middleware.ClientIP(r))
		if err != nil {
			renderError(w, r, err, l)
			return
		}

		_, err = bookings.AttachPayment(r.Context(), b.ID, models.PaymentInfo{
			Gateway:   models.GatewayVNPay,
			Reference: payable.Reference,
			Amount:    payable.Amount,
			CreatedAt: payable.CreatedAt,
		})
		if err != nil {
			renderError(w, r, err, l)
			return
		}

		render.JSON(w, response{BookingID: b.ID, RedirectURL: payable.RedirectURL, Reference: payable.Reference, Amount: payable.Amount})
	})
}

// handleSePayWebhook reconciles bank transfer notification.
// Every business outcome is answered with 200, otherwise the gateway redelivers for nothing.
func handleSePayWebhook(gw sepayGateway, bookings bookingService, observer paymentObserver, l logger.Logger) http.Handler {
	type response struct {
		Success bool   `json:"success"`
		Result  string `json:"result"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !gw.VerifyAPIKey(r.Header.Get("Authorization")) {
			l.Warn("SePay webhook with invalid API key", "client_ip", middleware.ClientIP(r))
			observer.PaymentCallback(models.GatewaySePay, metrics.ResultUnverified)
			render.ServiceError(w, "Invalid API key", http.StatusUnauthorized)
			return
		}

		transfer, err := sepay.ParseWebhook(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			l.Warn("Malformed SePay webhook rejected", "error", err)
			render.ServiceError(w, "Malformed webhook body", http.StatusBadRequest)
			return
		}

		log := l.With("transaction_id", transfer.ID, "amount", transfer.TransferAmount)

		outcome, ok := gw.Outcome(transfer)
		if !ok {
			log.Info("SePay transfer without booking reference ignored", "type", transfer.TransferType, "content", transfer.Content)
			observer.PaymentCallback(models.GatewaySePay, metrics.ResultUnmatched)
			render.JSON(w, response{Success: true, Result: metrics.ResultUnmatched})
			return
		}

		res, err := bookings.ApplyPayment(r.Context(), outcome)
		result := paymentResult(res, err)
		observer.PaymentCallback(models.GatewaySePay, result)

		if result == metrics.ResultError {
			log.Error("Failed to apply SePay payment", "error", err, "reference", outcome.BookingReference)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		log.Info("SePay webhook processed", "reference", outcome.BookingReference, "result", result)
		render.JSON(w, response{Success: true, Result: result})
	})
}

// handleVNPayReturn applies payment the guest was redirected back with and redirects browser to frontend
func handleVNPayReturn(gw vnpayGateway, bookings bookingService, observer paymentObserver, frontendURL string, l logger.Logger) http.Handler {
	frontendURL = strings.TrimRight(frontendURL, "/")
	failedURL := frontendURL + "/payment/failed"

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gw == nil {
			http.Redirect(w, r, failedURL, http.StatusFound)
			return
		}

		outcome, callback, err := gw.Outcome(r.URL.Query())
		if err != nil {
			l.Warn("Malformed VNPay return rejected", "error", err)
			http.Redirect(w, r, failedURL, http.StatusFound)
			return
		}
		if !outcome.Verified {
			l.Warn("VNPay return with invalid signature", "txn_ref", callback.TxnRef, "client_ip", middleware.ClientIP(r))
			observer.PaymentCallback(models.GatewayVNPay, metrics.ResultUnverified)
			http.Redirect(w, r, failedURL, http.StatusFound)
			return
		}

		bookingURL := frontendURL + "/bookings/" + url.PathEscape(outcome.BookingReference)

		if !callback.Success() {
			observer.PaymentCallback(models.GatewayVNPay, metrics.ResultFailed)
			http.Redirect(w, r, bookingURL+"/payment?"+url.Values{"code": {callback.ResponseCode}}.Encode(), http.StatusFound)
			return
		}

		res, err := bookings.ApplyPayment(r.Context(), outcome)
		result := paymentResult(res, err)
		observer.PaymentCallback(models.GatewayVNPay, result)

		switch result {
		case metrics.ResultConfirmed, metrics.ResultDuplicate:
			http.Redirect(w, r, bookingURL+"/confirmation", http.StatusFound)
		case metrics.ResultError:
			l.Error("Failed to apply VNPay payment", "error", err, "reference", outcome.BookingReference)
			http.Redirect(w, r, failedURL, http.StatusFound)
		default:
			l.Warn("VNPay payment not applied", "error", err, "reference", outcome.BookingReference, "result", result)
			http.Redirect(w, r, failedURL, http.StatusFound)
		}
	})
}

// handleVNPayIPN answers server to server notification in the gateway's own JSON contract
func handleVNPayIPN(gw vnpayGateway, bookings bookingService, observer paymentObserver, l logger.Logger) http.Handler {
	type response struct {
		RspCode string `json:"RspCode"`
		Message string `json:"Message"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gw == nil {
			render.JSON(w, response{RspCode: ipnUnknownError, Message: "Gateway not configured"})
			return
		}

		outcome, callback, err := gw.Outcome(r.URL.Query())
		if err != nil {
			l.Warn("Malformed VNPay IPN rejected", "error", err)
			render.JSON(w, response{RspCode: ipnUnknownError, Message: "Invalid request"})
			return
		}
		if !outcome.Verified {
			l.Warn("VNPay IPN with invalid signature", "txn_ref", callback.TxnRef, "client_ip", middleware.ClientIP(r))
			observer.PaymentCallback(models.GatewayVNPay, metrics.ResultUnverified)
			render.JSON(w, response{RspCode: ipnInvalidSignature, Message: "Invalid signature"})
			return
		}

		if !callback.Success() {
			l.Info("VNPay reported failed payment", "txn_ref", callback.TxnRef, "code", callback.ResponseCode)
			observer.PaymentCallback(models.GatewayVNPay, metrics.ResultFailed)
			render.JSON(w, response{RspCode: ipnConfirmed, Message: "Confirm Success"})
			return
		}

		res, err := bookings.ApplyPayment(r.Context(), outcome)
		result := paymentResult(res, err)
		observer.PaymentCallback(models.GatewayVNPay, result)

		switch result {
		case metrics.ResultConfirmed:
			render.JSON(w, response{RspCode: ipnConfirmed, Message: "Confirm Success"})
		case metrics.ResultDuplicate:
			render.JSON(w, response{RspCode: ipnAlreadyConfirmed, Message: "Order already confirmed"})
		case metrics.ResultFailed:
			render.JSON(w, response{RspCode: ipnAlreadyConfirmed, Message: "Order is not payable"})
		case metrics.ResultUnmatched:
			render.JSON(w, response{RspCode: ipnOrderNotFound, Message: "Order not found"})
		case metrics.ResultInsufficient:
			render.JSON(w, response{RspCode: ipnInvalidAmount, Message: "Invalid amount"})
		default:
			l.Error("Failed to apply VNPay payment", "error", err, "reference", outcome.BookingReference)
			render.JSON(w, response{RspCode: ipnUnknownError, Message: "Unknown error"})
		}
	})
}
