package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/homestay/internal/apperrors"
	"github.com/nkiryanov/homestay/internal/logger"
	"github.com/nkiryanov/homestay/internal/metrics"
	"github.com/nkiryanov/homestay/internal/models"
	"github.com/nkiryanov/homestay/internal/repository"
	"github.com/nkiryanov/homestay/internal/service/auth"
	"github.com/nkiryanov/homestay/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/homestay/internal/service/booking"
	"github.com/nkiryanov/homestay/internal/service/ratelimit"
)

const (
	testAccessSecret  = "access-secret"
	testRefreshSecret = "refresh-secret"
	testHashSecret    = "vnpay-hash-secret"
	testTmnCode       = "HOMESTAY"
	testFrontendURL   = "https://homestay.example"
)

// fakeBookings records calls; unset functions report booking not found
type fakeBookings struct {
	mu sync.Mutex

	create        func(p models.Principal, params booking.CreateParams) (models.Booking, error)
	get           func(p models.Principal, id string) (models.Booking, error)
	list          func(opts repository.ListBookingsOpts) ([]models.Booking, error)
	attachPayment func(id string, info models.PaymentInfo) (models.Booking, error)
	applyPayment  func(outcome models.PaymentOutcome) (booking.Result, error)
	confirm       func(id string) (booking.Result, error)
	cancel        func(p models.Principal, id string) (booking.Result, error)
	pass          func(p models.Principal, id string) (models.CheckInPass, error)
	checkIn       func(pass models.CheckInPass) (models.Booking, error)

	applied  []models.PaymentOutcome
	attached []models.PaymentInfo
}

func (f *fakeBookings) Create(_ context.Context, p models.Principal, params booking.CreateParams) (models.Booking, error) {
	if f.create == nil {
		return models.Booking{}, apperrors.ErrRoomNotFound
	}
	return f.create(p, params)
}

func (f *fakeBookings) Get(_ context.Context, p models.Principal, id string) (models.Booking, error) {
	if f.get == nil {
		return models.Booking{}, apperrors.ErrBookingNotFound
	}
	return f.get(p, id)
}

func (f *fakeBookings) ListOwn(_ context.Context, p models.Principal) ([]models.Booking, error) {
	return f.List(context.Background(), repository.ListBookingsOpts{UserID: &p.UserID})
}

func (f *fakeBookings) List(_ context.Context, opts repository.ListBookingsOpts) ([]models.Booking, error) {
	if f.list == nil {
		return nil, nil
	}
	return f.list(opts)
}

func (f *fakeBookings) AttachPayment(_ context.Context, id string, info models.PaymentInfo) (models.Booking, error) {
	f.mu.Lock()
	f.attached = append(f.attached, info)
	f.mu.Unlock()

	if f.attachPayment == nil {
		return models.Booking{ID: id, PaymentInfo: &info}, nil
	}
	return f.attachPayment(id, info)
}

func (f *fakeBookings) ApplyPayment(_ context.Context, outcome models.PaymentOutcome) (booking.Result, error) {
	f.mu.Lock()
	f.applied = append(f.applied, outcome)
	f.mu.Unlock()

	if f.applyPayment == nil {
		return booking.Result{}, apperrors.ErrBookingNotFound
	}
	return f.applyPayment(outcome)
}

func (f *fakeBookings) Confirm(_ context.Context, id string) (booking.Result, error) {
	if f.confirm == nil {
		return booking.Result{}, apperrors.ErrBookingNotFound
	}
	return f.confirm(id)
}

func (f *fakeBookings) Cancel(_ context.Context, p models.Principal, id string) (booking.Result, error) {
	if f.cancel == nil {
		return booking.Result{}, apperrors.ErrBookingNotFound
	}
	return f.cancel(p, id)
}

func (f *fakeBookings) Complete(context.Context, string) (booking.Result, error) {
	return booking.Result{}, apperrors.ErrBookingNotFound
}

func (f *fakeBookings) Pass(_ context.Context, p models.Principal, id string) (models.CheckInPass, error) {
	if f.pass == nil {
		return models.CheckInPass{}, apperrors.ErrBookingNotFound
	}
	return f.pass(p, id)
}

func (f *fakeBookings) CheckIn(_ context.Context, pass models.CheckInPass) (models.Booking, error) {
	if f.checkIn == nil {
		return models.Booking{}, apperrors.ErrBookingNotFound
	}
	return f.checkIn(pass)
}

func (f *fakeBookings) Applied() []models.PaymentOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.PaymentOutcome(nil), f.applied...)
}

func (f *fakeBookings) Attached() []models.PaymentInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.PaymentInfo(nil), f.attached...)
}

type fakeRooms struct {
	mu    sync.Mutex
	rooms map[uuid.UUID]models.Room
}

func (f *fakeRooms) CreateRoom(_ context.Context, room models.Room) (models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	room.ID = uuid.New()
	room.CreatedAt = time.Now()
	if f.rooms == nil {
		f.rooms = make(map[uuid.UUID]models.Room)
	}
	f.rooms[room.ID] = room
	return room, nil
}

func (f *fakeRooms) GetRoom(_ context.Context, id uuid.UUID) (models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	room, ok := f.rooms[id]
	if !ok {
		return room, apperrors.ErrRoomNotFound
	}
	return room, nil
}

func (f *fakeRooms) ListRooms(context.Context) ([]models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	res := make([]models.Room, 0, len(f.rooms))
	for _, room := range f.rooms {
		res = append(res, room)
	}
	return res, nil
}

type testEnv struct {
	URL     string
	Tokens  *tokenmanager.TokenManager
	Metrics *metrics.Metrics
}

func (f *fakeRooms) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rooms)
}

// Principal access token header value
func (e testEnv) bearer(t *testing.T, p models.Principal) string {
	t.Helper()

	pair, err := e.Tokens.GeneratePair(p)
	require.NoError(t, err)
	return "Bearer " + pair.Access.Value
}

// Records limiter checks and lets everything through
type recordingLimiter struct {
	mu     sync.Mutex
	checks []string
}

func (l *recordingLimiter) Allow(_ context.Context, policy ratelimit.Policy, identity string) (ratelimit.Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.checks = append(l.checks, policy.Name+":"+identity)
	return ratelimit.Result{Allowed: true, Limit: policy.Limit, Remaining: policy.Limit, ResetAt: time.Now().Add(policy.Window)}, nil
}

func (l *recordingLimiter) Now() time.Time { return time.Now() }

func (l *recordingLimiter) Checks() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.checks)
}

// startServer serves router with s. Unset auth, limiter and metrics are filled with working defaults.
func startServer(t *testing.T, s Services) testEnv {
	t.Helper()
	return startServerWithConfig(t, Config{}, s)
}

func startServerWithConfig(t *testing.T, cfg Config, s Services) testEnv {
	t.Helper()

	if cfg.FrontendURL == "" {
		cfg.FrontendURL = testFrontendURL
	}

	tokens, err := tokenmanager.New(tokenmanager.Config{AccessSecret: testAccessSecret, RefreshSecret: testRefreshSecret}, nil)
	require.NoError(t, err)

	if s.Auth == nil {
		a, err := auth.NewService(auth.Config{}, tokens, nil)
		require.NoError(t, err)
		s.Auth = a
	}
	if s.Bookings == nil {
		s.Bookings = &fakeBookings{}
	}
	if s.Rooms == nil {
		s.Rooms = &fakeRooms{}
	}
	if s.Limiter == nil {
		s.Limiter = ratelimit.New(ratelimit.NewMemoryStore(), nil)
	}
	m := metrics.New()
	if s.Metrics == nil {
		s.Metrics = m
	}

	srv := httptest.NewServer(NewRouter(cfg, s, logger.NewNoOpLogger()))
	t.Cleanup(srv.Close)

	return testEnv{URL: srv.URL, Tokens: tokens, Metrics: m}
}

// do sends request and returns response with the whole body read.
// Redirects are not followed.
func do(t *testing.T, method string, target string, body string, headers ...string) (*http.Response, string) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, target, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() // nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, string(data)
}

// Sign callback parameters the way the gateway does
func signVNPay(params url.Values) url.Values {
	mac := hmac.New(sha512.New, []byte(testHashSecret))
	mac.Write([]byte(params.Encode())) // nolint:errcheck
	params.Set("vnp_SecureHash", hex.EncodeToString(mac.Sum(nil)))
	return params
}
