package handlers

import (
	"context"
	"net/http"
	"net/netip"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/homestay/internal/handlers/middleware"
	"github.com/nkiryanov/homestay/internal/logger"
	"github.com/nkiryanov/homestay/internal/models"
	"github.com/nkiryanov/homestay/internal/repository"
	"github.com/nkiryanov/homestay/internal/service/booking"
	"github.com/nkiryanov/homestay/internal/service/payment/sepay"
	"github.com/nkiryanov/homestay/internal/service/payment/vnpay"
	"github.com/nkiryanov/homestay/internal/service/ratelimit"
)

type Config struct {
	// Browser is redirected here after redirect gateway payment
	FrontendURL string

	// Origins allowed to call API from browser
	CORSOrigins []string

	// Proxies whose forwarding headers name the client. Connection address is the client if empty.
	TrustedProxies []netip.Prefix
}

// Services the router dispatches to. VNPay may be nil if the gateway is not configured.
type Services struct {
	Auth     authService
	Bookings bookingService
	Rooms    roomRepo
	SePay    sepayGateway
	VNPay    vnpayGateway
	Limiter  limiter
	Metrics  metricsCollector
}

func NewRouter(cfg Config, s Services, l logger.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(
		chimw.RequestID,
		middleware.RealIP(cfg.TrustedProxies),
		middleware.Recoverer(l),
		middleware.Logger(l),
		s.Metrics.Instrument,
		middleware.CORS(cfg.CORSOrigins),
	)

	r.Method(http.MethodGet, "/metrics", s.Metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	withAuth := middleware.Auth(s.Auth)
	rateLimit := func(p ratelimit.Policy) func(http.Handler) http.Handler {
		return middleware.RateLimit(s.Limiter, p, s.Metrics, l)
	}

	r.Route("/api", func(r chi.Router) {
		// Gateway callbacks are not rate limited, gateways retry from a few shared addresses
		r.Route("/payments", func(r chi.Router) {
			r.Method(http.MethodPost, "/sepay/webhook", handleSePayWebhook(s.SePay, s.Bookings, s.Metrics, l))
			r.Method(http.MethodGet, "/vnpay/return", handleVNPayReturn(s.VNPay, s.Bookings, s.Metrics, cfg.FrontendURL, l))
			r.Method(http.MethodGet, "/vnpay/ipn", handleVNPayIPN(s.VNPay, s.Bookings, s.Metrics, l))
		})

		r.Group(func(r chi.Router) {
			r.Use(rateLimit(ratelimit.APIPolicy))

			r.Route("/auth", func(r chi.Router) {
				r.With(rateLimit(ratelimit.RegisterPolicy)).Method(http.MethodPost, "/register", handleRegister(s.Auth, l))
				r.With(rateLimit(ratelimit.LoginPolicy)).Method(http.MethodPost, "/login", handleLogin(s.Auth, l))
				r.Method(http.MethodPost, "/refresh", handleTokenRefresh(s.Auth, l))
				r.With(withAuth).Method(http.MethodGet, "/me", handleMe(s.Auth, l))
			})

			r.Method(http.MethodGet, "/rooms", handleListRooms(s.Rooms, l))
			r.Method(http.MethodGet, "/rooms/{roomID}", handleGetRoom(s.Rooms, l))

			r.Route("/bookings", func(r chi.Router) {
				r.Use(withAuth)

				r.Method(http.MethodPost, "/", handleCreateBooking(s.Bookings, l))
				r.Method(http.MethodGet, "/", handleListOwnBookings(s.Bookings, l))
				r.Method(http.MethodGet, "/{bookingID}", handleGetBooking(s.Bookings, l))
				r.Method(http.MethodPost, "/{bookingID}/cancel", handleCancelBooking(s.Bookings, l))
				r.Method(http.MethodPost, "/{bookingID}/payments/qr", handleCreateQRPayment(s.Bookings, s.SePay, l))
				r.Method(http.MethodPost, "/{bookingID}/payments/vnpay", handleCreateVNPayPayment(s.Bookings, s.VNPay, l))
				r.Method(http.MethodGet, "/{bookingID}/checkin-pass", handleCheckInPass(s.Bookings, l))
				r.Method(http.MethodGet, "/{bookingID}/checkin-pass.png", handleCheckInPassImage(s.Bookings, l))
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(withAuth, middleware.Admin)

				r.Method(http.MethodPost, "/rooms", handleCreateRoom(s.Rooms, l))
				r.Method(http.MethodGet, "/bookings", handleListBookings(s.Bookings, l))
				r.Method(http.MethodPost, "/bookings/{bookingID}/confirm", handleConfirmBooking(s.Bookings, l))
				r.Method(http.MethodPost, "/bookings/{bookingID}/complete", handleCompleteBooking(s.Bookings, l))
				r.Method(http.MethodPost, "/bookings/{bookingID}/cancel", handleCancelBooking(s.Bookings, l))
				r.Method(http.MethodPost, "/checkin", handleCheckIn(s.Bookings, l))
			})
		})
	})

	return r
}

type authService interface {
	// Register user and issue tokens
	// Has to return apperrors.ErrUserAlreadyExists if user already exists
	Register(ctx context.Context, email string, password string, name string) (models.User, models.TokenPair, error)

	// Has to return apperrors.ErrInvalidCredentials for unknown email or wrong password
	Login(ctx context.Context, email string, password string) (models.User, models.TokenPair, error)

	// Refresh tokens using refresh token
	// If token expired: has to return apperrors.ErrTokenExpired
	Refresh(ctx context.Context, refresh string) (models.TokenPair, error)

	GetUser(ctx context.Context, p models.Principal) (models.User, error)

	// Verify bearer access token of the request
	Authenticate(r *http.Request) (models.Principal, error)

	SetRefreshCookie(w http.ResponseWriter, pair models.TokenPair)
	GetRefreshString(r *http.Request) (string, error)
}

type bookingService interface {
	Create(ctx context.Context, p models.Principal, params booking.CreateParams) (models.Booking, error)
	Get(ctx context.Context, p models.Principal, bookingID string) (models.Booking, error)
	ListOwn(ctx context.Context, p models.Principal) ([]models.Booking, error)
	List(ctx context.Context, opts repository.ListBookingsOpts) ([]models.Booking, error)

	AttachPayment(ctx context.Context, bookingID string, info models.PaymentInfo) (models.Booking, error)
	ApplyPayment(ctx context.Context, outcome models.PaymentOutcome) (booking.Result, error)

	Confirm(ctx context.Context, bookingID string) (booking.Result, error)
	Cancel(ctx context.Context, p models.Principal, bookingID string) (booking.Result, error)
	Complete(ctx context.Context, bookingID string) (booking.Result, error)

	Pass(ctx context.Context, p models.Principal, bookingID string) (models.CheckInPass, error)
	CheckIn(ctx context.Context, pass models.CheckInPass) (models.Booking, error)
}

type roomRepo interface {
	CreateRoom(ctx context.Context, room models.Room) (models.Room, error)
	GetRoom(ctx context.Context, roomID uuid.UUID) (models.Room, error)
	ListRooms(ctx context.Context) ([]models.Room, error)
}

type sepayGateway interface {
	BuildPayable(bookingID string, amount decimal.Decimal) sepay.Payable
	VerifyAPIKey(header string) bool
	Outcome(t sepay.Transfer) (models.PaymentOutcome, bool)
}

type vnpayGateway interface {
	BuildPayable(bookingID string, amount decimal.Decimal, clientIP string) (vnpay.Payable, error)
	Outcome(params url.Values) (models.PaymentOutcome, vnpay.Callback, error)
}

type limiter interface {
	Allow(ctx context.Context, policy ratelimit.Policy, identity string) (ratelimit.Result, error)
	Now() time.Time
}

type metricsCollector interface {
	Handler() http.Handler
	Instrument(next http.Handler) http.Handler
	PaymentCallback(gateway models.Gateway, result string)
	RateLimited(policy string)
}
