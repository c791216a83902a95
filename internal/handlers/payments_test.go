package handlers

import (
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/homestay/internal/apperrors"
	"github.com/nkiryanov/homestay/internal/models"
	"github.com/nkiryanov/homestay/internal/service/booking"
	"github.com/nkiryanov/homestay/internal/service/payment/sepay"
	"github.com/nkiryanov/homestay/internal/service/payment/vnpay"
)

func newSePay(t *testing.T, apiKey string) *sepay.Adapter {
	t.Helper()

	a, err := sepay.New(sepay.Config{AccountNumber: "0123456789", BankCode: "MB", APIKey: apiKey})
	require.NoError(t, err)
	return a
}

func newVNPay(t *testing.T) *vnpay.Adapter {
	t.Helper()

	a, err := vnpay.New(vnpay.Config{
		TmnCode:    testTmnCode,
		HashSecret: testHashSecret,
		ReturnURL:  "https://api.homestay.example/api/payments/vnpay/return",
		Now:        func() time.Time { return time.Date(2025, 6, 10, 1, 0, 0, 0, time.UTC) },
	}, nil)
	require.NoError(t, err)
	return a
}

func webhookBody(content string, amount int) string {
	return fmt.Sprintf(`{
		"id": 92704,
		"gateway": "MBBank",
		"transactionDate": "2025-06-10 08:15:00",
		"accountNumber": "0123456789",
		"code": null,
		"content": %q,
		"transferType": "in",
		"transferAmount": %d,
		"accumulated": 19077000,
		"subAccount": null,
		"referenceCode": "MBVCB.3278907687",
		"description": ""
	}`, content, amount)
}

// Applies outcome like lifecycle does: first delivery confirms, later ones are duplicates
func confirmingBookings() *fakeBookings {
	confirmed := false
	return &fakeBookings{
		applyPayment: func(outcome models.PaymentOutcome) (booking.Result, error) {
			if !strings.EqualFold(outcome.BookingReference, testBookingID) {
				return booking.Result{}, apperrors.ErrBookingNotFound
			}
			b := testBooking(models.BookingConfirmed)
			if outcome.AmountReceived.LessThan(b.TotalPrice) {
				return booking.Result{}, apperrors.ErrInsufficientAmount
			}
			changed := !confirmed
			confirmed = true
			return booking.Result{Booking: b, Changed: changed}, nil
		},
	}
}

func TestPaymentCreation(t *testing.T) {
	pending := &fakeBookings{
		get: func(p models.Principal, id string) (models.Booking, error) {
			return testBooking(models.BookingPending), nil
		},
	}

	t.Run("qr payable", func(t *testing.T) {
		env := startServer(t, Services{Bookings: pending, SePay: newSePay(t, "")})

		resp, body := do(t, http.MethodPost, env.URL+"/api/bookings/"+testBookingID+"/payments/qr", "", "Authorization", env.bearer(t, guest))

		require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", body)
		require.JSONEq(t, `{
			"bookingId": "01JXA4Z7C3M5N8Q2R6T9V1W4XY",
			"qrUrl": "https://qr.sepay.vn/img?acc=0123456789&amount=1500000&bank=MB&des=BK01JXA4Z7C3M5N8Q2R6T9V1W4XY",
			"reference": "BK01JXA4Z7C3M5N8Q2R6T9V1W4XY",
			"amount": "1500000"
		}`, body)

		attached := pending.Attached()
		require.Len(t, attached, 1)
		assert.Equal(t, models.GatewaySePay, attached[0].Gateway)
		assert.Equal(t, "BK01JXA4Z7C3M5N8Q2R6T9V1W4XY", attached[0].Reference)
	})

	t.Run("vnpay payable", func(t *testing.T) {
		bookings := &fakeBookings{get: pending.get}
		env := startServer(t, Services{Bookings: bookings, VNPay: newVNPay(t)})

		resp, body := do(t, http.MethodPost, env.URL+"/api/bookings/"+testBookingID+"/payments/vnpay", "",
			"Authorization", env.bearer(t, guest), "X-Forwarded-For", "203.0.113.7")

		require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", body)
		require.Contains(t, body, `"reference":"01JXA4Z7C3M5N8Q2R6T9V1W4XY_20250610080000"`)
		require.Contains(t, body, "vnp_IpAddr=127.0.0.1", "forwarded header of untrusted peer is ignored")

		attached := bookings.Attached()
		require.Len(t, attached, 1)
		info := attached[0]
		assert.Equal(t, models.GatewayVNPay, info.Gateway)
		assert.Equal(t, "01JXA4Z7C3M5N8Q2R6T9V1W4XY_20250610080000", info.Reference)
		assert.True(t, info.CreatedAt.Equal(time.Date(2025, 6, 10, 1, 0, 0, 0, time.UTC)))
	})

	t.Run("vnpay payable behind trusted proxy", func(t *testing.T) {
		bookings := &fakeBookings{get: pending.get}
		env := startServerWithConfig(t, Config{TrustedProxies: []netip.Prefix{netip.MustParsePrefix("127.0.0.0/8")}}, Services{Bookings: bookings, VNPay: newVNPay(t)})

		resp, body := do(t, http.MethodPost, env.URL+"/api/bookings/"+testBookingID+"/payments/vnpay", "",
			"Authorization", env.bearer(t, guest), "X-Forwarded-For", "203.0.113.7")

		require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", body)
		require.Contains(t, body, "vnp_IpAddr=203.0.113.7")
	})

	t.Run("vnpay not configured", func(t *testing.T) {
		env := startServer(t, Services{Bookings: pending})

		resp, body := do(t, http.MethodPost, env.URL+"/api/bookings/"+testBookingID+"/payments/vnpay", "", "Authorization", env.bearer(t, guest))

		require.Equalf(t, http.StatusServiceUnavailable, resp.StatusCode, "not expected code. Body: %s", body)
	})

	t.Run("not pending booking", func(t *testing.T) {
		bookings := &fakeBookings{
			get: func(models.Principal, string) (models.Booking, error) {
				return testBooking(models.BookingConfirmed), nil
			},
		}
		env := startServer(t, Services{Bookings: bookings, SePay: newSePay(t, "")})

		resp, body := do(t, http.MethodPost, env.URL+"/api/bookings/"+testBookingID+"/payments/qr", "", "Authorization", env.bearer(t, guest))

		require.Equalf(t, http.StatusConflict, resp.StatusCode, "not expected code. Body: %s", body)
		require.JSONEq(t, `{"error": "service_error", "message": "Payment is allowed for pending bookings only"}`, body)
		require.Empty(t, bookings.Attached())
	})
}

func TestSePayWebhook(t *testing.T) {
	t.Run("double delivery confirms once", func(t *testing.T) {
		bookings := confirmingBookings()
		env := startServer(t, Services{Bookings: bookings, SePay: newSePay(t, "")})
		body := webhookBody("Chuyen khoan BK"+strings.ToLower(testBookingID)+" thanh toan phong", 1_500_000)

		resp, res := do(t, http.MethodPost, env.URL+"/api/payments/sepay/webhook", body)
		require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", res)
		require.JSONEq(t, `{"success": true, "result": "confirmed"}`, res)

		resp, res = do(t, http.MethodPost, env.URL+"/api/payments/sepay/webhook", body)
		require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", res)
		require.JSONEq(t, `{"success": true, "result": "duplicate"}`, res)

		applied := bookings.Applied()
		require.Len(t, applied, 2)
		assert.True(t, applied[0].Verified)
		assert.Equal(t, models.GatewaySePay, applied[0].Gateway)
		assert.Equal(t, "92704", applied[0].TransactionID)
		assert.True(t, decimal.NewFromInt(1_500_000).Equal(applied[0].AmountReceived))

		_, scraped := do(t, http.MethodGet, env.URL+"/metrics", "")
		assert.Contains(t, scraped, `homestay_payment_callbacks_total{gateway="sepay",result="confirmed"} 1`)
		assert.Contains(t, scraped, `homestay_payment_callbacks_total{gateway="sepay",result="duplicate"} 1`)
	})

	t.Run("insufficient amount is acknowledged", func(t *testing.T) {
		env := startServer(t, Services{Bookings: confirmingBookings(), SePay: newSePay(t, "")})

		resp, res := do(t, http.MethodPost, env.URL+"/api/payments/sepay/webhook", webhookBody("BK"+testBookingID, 1_000_000))

		require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", res)
		require.JSONEq(t, `{"success": true, "result": "insufficient"}`, res)
	})

	t.Run("memo without reference is acknowledged", func(t *testing.T) {
		bookings := confirmingBookings()
		env := startServer(t, Services{Bookings: bookings, SePay: newSePay(t, "")})

		resp, res := do(t, http.MethodPost, env.URL+"/api/payments/sepay/webhook", webhookBody("tien an trua", 1_500_000))

		require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", res)
		require.JSONEq(t, `{"success": true, "result": "unmatched"}`, res)
		require.Empty(t, bookings.Applied(), "nothing to apply")
	})

	t.Run("unknown booking is acknowledged", func(t *testing.T) {
		env := startServer(t, Services{Bookings: confirmingBookings(), SePay: newSePay(t, "")})

		resp, res := do(t, http.MethodPost, env.URL+"/api/payments/sepay/webhook", webhookBody("BK01JXA4Z7C3M5N8Q2R6T9V1W4ZZ", 1_500_000))

		require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", res)
		require.JSONEq(t, `{"success": true, "result": "unmatched"}`, res)
	})

	t.Run("wrong api key", func(t *testing.T) {
		bookings := confirmingBookings()
		env := startServer(t, Services{Bookings: bookings, SePay: newSePay(t, "webhook-key")})

		resp, res := do(t, http.MethodPost, env.URL+"/api/payments/sepay/webhook", webhookBody("BK"+testBookingID, 1_500_000), "Authorization", "Apikey other-key")

		require.Equalf(t, http.StatusUnauthorized, resp.StatusCode, "not expected code. Body: %s", res)
		require.Empty(t, bookings.Applied())

		resp, res = do(t, http.MethodPost, env.URL+"/api/payments/sepay/webhook", webhookBody("BK"+testBookingID, 1_500_000), "Authorization", "Apikey webhook-key")
		require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", res)
	})

	t.Run("malformed body", func(t *testing.T) {
		env := startServer(t, Services{Bookings: confirmingBookings(), SePay: newSePay(t, "")})

		resp, res := do(t, http.MethodPost, env.URL+"/api/payments/sepay/webhook", `{"id": 1, "transferType": "sideways", "transferAmount": 10}`)

		require.Equalf(t, http.StatusBadRequest, resp.StatusCode, "not expected code. Body: %s", res)
	})

	t.Run("storage failure asks for redelivery", func(t *testing.T) {
		bookings := &fakeBookings{
			applyPayment: func(models.PaymentOutcome) (booking.Result, error) {
				return booking.Result{}, assert.AnError
			},
		}
		env := startServer(t, Services{Bookings: bookings, SePay: newSePay(t, "")})

		resp, res := do(t, http.MethodPost, env.URL+"/api/payments/sepay/webhook", webhookBody("BK"+testBookingID, 1_500_000))

		require.Equalf(t, http.StatusInternalServerError, resp.StatusCode, "not expected code. Body: %s", res)
	})
}

func TestGatewayCallbacksRateLimit(t *testing.T) {
	limiter := &recordingLimiter{}
	env := startServer(t, Services{Bookings: confirmingBookings(), SePay: newSePay(t, ""), VNPay: newVNPay(t), Limiter: limiter})

	resp, res := do(t, http.MethodPost, env.URL+"/api/payments/sepay/webhook", webhookBody("BK"+testBookingID, 1_500_000))
	require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", res)

	resp, res = do(t, http.MethodGet, env.URL+"/api/payments/vnpay/ipn?"+signVNPay(vnpayCallback("150000000", "00")).Encode(), "")
	require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", res)

	require.Empty(t, limiter.Checks(), "gateway callbacks must not be rate limited")

	resp, _ = do(t, http.MethodGet, env.URL+"/api/rooms", "", "X-Forwarded-For", "198.51.100.1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Equal(t, []string{"api:127.0.0.1"}, limiter.Checks(), "API is limited by connection address")
}

func vnpayCallback(amount string, responseCode string) url.Values {
	return url.Values{
		"vnp_Amount":            {amount},
		"vnp_BankCode":          {"NCB"},
		"vnp_OrderInfo":         {"Thanh toan dat phong " + testBookingID},
		"vnp_PayDate":           {"20250610081500"},
		"vnp_ResponseCode":      {responseCode},
		"vnp_TmnCode":           {testTmnCode},
		"vnp_TransactionNo":     {"14422574"},
		"vnp_TransactionStatus": {responseCode},
		"vnp_TxnRef":            {testBookingID + "_20250610080000"},
	}
}

func TestVNPayIPN(t *testing.T) {
	tests := []struct {
		name     string
		params   func() url.Values
		bookings *fakeBookings
		want     string
	}{
		{
			name:     "confirmed",
			params:   func() url.Values { return signVNPay(vnpayCallback("150000000", "00")) },
			bookings: confirmingBookings(),
			want:     `{"RspCode": "00", "Message": "Confirm Success"}`,
		},
		{
			name: "already confirmed",
			params: func() url.Values {
				return signVNPay(vnpayCallback("150000000", "00"))
			},
			bookings: &fakeBookings{
				applyPayment: func(models.PaymentOutcome) (booking.Result, error) {
					return booking.Result{Booking: testBooking(models.BookingConfirmed)}, nil
				},
			},
			want: `{"RspCode": "02", "Message": "Order already confirmed"}`,
		},
		{
			name:     "amount mismatch",
			params:   func() url.Values { return signVNPay(vnpayCallback("100000000", "00")) },
			bookings: confirmingBookings(),
			want:     `{"RspCode": "04", "Message": "Invalid amount"}`,
		},
		{
			name: "booking not found",
			params: func() url.Values {
				p := vnpayCallback("150000000", "00")
				p.Set("vnp_TxnRef", "01JXA4Z7C3M5N8Q2R6T9V1W4ZZ_20250610080000")
				return signVNPay(p)
			},
			bookings: confirmingBookings(),
			want:     `{"RspCode": "01", "Message": "Order not found"}`,
		},
		{
			name: "tampered amount",
			params: func() url.Values {
				p := signVNPay(vnpayCallback("150000000", "00"))
				p.Set("vnp_Amount", "1500000000")
				return p
			},
			bookings: confirmingBookings(),
			want:     `{"RspCode": "97", "Message": "Invalid signature"}`,
		},
		{
			name:     "payment failed at gateway",
			params:   func() url.Values { return signVNPay(vnpayCallback("150000000", "24")) },
			bookings: confirmingBookings(),
			want:     `{"RspCode": "00", "Message": "Confirm Success"}`,
		},
		{
			name:     "missing parameters",
			params:   func() url.Values { return url.Values{"vnp_TxnRef": {"x"}} },
			bookings: confirmingBookings(),
			want:     `{"RspCode": "99", "Message": "Invalid request"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := startServer(t, Services{Bookings: tt.bookings, VNPay: newVNPay(t)})

			resp, body := do(t, http.MethodGet, env.URL+"/api/payments/vnpay/ipn?"+tt.params().Encode(), "")

			require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", body)
			require.JSONEq(t, tt.want, body)
		})
	}

	t.Run("failed and unverified callbacks are not applied", func(t *testing.T) {
		bookings := confirmingBookings()
		env := startServer(t, Services{Bookings: bookings, VNPay: newVNPay(t)})

		tampered := signVNPay(vnpayCallback("150000000", "00"))
		tampered.Set("vnp_ResponseCode", "01")
		do(t, http.MethodGet, env.URL+"/api/payments/vnpay/ipn?"+tampered.Encode(), "")
		do(t, http.MethodGet, env.URL+"/api/payments/vnpay/ipn?"+signVNPay(vnpayCallback("150000000", "24")).Encode(), "")

		require.Empty(t, bookings.Applied())
	})
}

func TestVNPayReturn(t *testing.T) {
	tests := []struct {
		name     string
		params   func() url.Values
		location string
	}{
		{
			name:     "success",
			params:   func() url.Values { return signVNPay(vnpayCallback("150000000", "00")) },
			location: testFrontendURL + "/bookings/" + testBookingID + "/confirmation",
		},
		{
			name:     "cancelled by payer",
			params:   func() url.Values { return signVNPay(vnpayCallback("150000000", "24")) },
			location: testFrontendURL + "/bookings/" + testBookingID + "/payment?code=24",
		},
		{
			name: "bad signature",
			params: func() url.Values {
				p := signVNPay(vnpayCallback("150000000", "00"))
				p.Set("vnp_BankCode", "VCB")
				return p
			},
			location: testFrontendURL + "/payment/failed",
		},
		{
			name:     "insufficient amount",
			params:   func() url.Values { return signVNPay(vnpayCallback("100", "00")) },
			location: testFrontendURL + "/payment/failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := startServer(t, Services{Bookings: confirmingBookings(), VNPay: newVNPay(t)})

			resp, body := do(t, http.MethodGet, env.URL+"/api/payments/vnpay/return?"+tt.params().Encode(), "")

			require.Equalf(t, http.StatusFound, resp.StatusCode, "not expected code. Body: %s", body)
			require.Equal(t, tt.location, resp.Header.Get("Location"))
		})
	}
}
