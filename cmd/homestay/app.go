package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nkiryanov/homestay/internal/db"
	"github.com/nkiryanov/homestay/internal/events"
	"github.com/nkiryanov/homestay/internal/handlers"
	"github.com/nkiryanov/homestay/internal/handlers/middleware"
	"github.com/nkiryanov/homestay/internal/logger"
	"github.com/nkiryanov/homestay/internal/metrics"
	"github.com/nkiryanov/homestay/internal/repository/postgres"
	"github.com/nkiryanov/homestay/internal/service/auth"
	"github.com/nkiryanov/homestay/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/homestay/internal/service/booking"
	"github.com/nkiryanov/homestay/internal/service/payment/sepay"
	"github.com/nkiryanov/homestay/internal/service/payment/vnpay"
	"github.com/nkiryanov/homestay/internal/service/ratelimit"
	"github.com/nkiryanov/homestay/internal/service/reconciler"
)

const shutdownTimeout = 5 * time.Second

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	logger     logger.Logger
	limiter    *ratelimit.Limiter
	reconciler *reconciler.Reconciler
	publisher  events.Publisher

	// Released in reverse order when app stops
	closers []func()
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	log, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	location, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("error while loading timezone: %w", err)
	}

	app := &ServerApp{ListenAddr: c.ListenAddr, logger: log}

	// Release what is already opened if initialization fails halfway
	fail := func(err error) (*ServerApp, error) {
		app.Close()
		return nil, err
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return fail(fmt.Errorf("error while connecting to db. Err: %w", err))
	}
	app.closers = append(app.closers, pool.Close)

	app.publisher = events.NoOp{}
	if c.AMQPURL != "" {
		publisher, err := events.NewAMQPPublisher(c.AMQPURL, events.DefaultExchange)
		if err != nil {
			return fail(fmt.Errorf("error while connecting to rabbitmq: %w", err))
		}
		app.publisher = publisher
		app.closers = append(app.closers, func() {
			if err := publisher.Close(); err != nil {
				log.Warn("Failed to close rabbitmq connection", "error", err)
			}
		})
	}

	storage := postgres.NewStorage(pool)
	m := metrics.New()

	// Initialize services
	tokens, err := tokenmanager.New(tokenmanager.Config{AccessSecret: c.AccessSecret, RefreshSecret: c.RefreshSecret}, log)
	if err != nil {
		return fail(fmt.Errorf("error while creating token manager: %w", err))
	}
	authService, err := auth.NewService(auth.Config{AdminEmails: splitList(c.AdminEmails)}, tokens, storage.User())
	if err != nil {
		return fail(fmt.Errorf("error while creating auth service. Err: %w", err))
	}
	bookingService := booking.NewService(booking.Config{
		Location:  location,
		Publisher: app.publisher,
		Observer:  m,
	}, storage, log)

	sepayAdapter, err := sepay.New(sepay.Config{
		AccountNumber: c.SePayAccount,
		BankCode:      c.SePayBank,
		APIKey:        c.SePayAPIKey,
	})
	if err != nil {
		return fail(fmt.Errorf("error while creating sepay adapter: %w", err))
	}
	if c.SePayAPIKey == "" {
		log.Warn("SePay API key is not set, webhooks are accepted without authorization")
	}

	app.limiter = ratelimit.New(ratelimit.NewMemoryStore(), log)

	services := handlers.Services{
		Auth:     authService,
		Bookings: bookingService,
		Rooms:    storage.Room(),
		SePay:    sepayAdapter,
		Limiter:  app.limiter,
		Metrics:  m,
	}

	// Interfaces below stay nil unless VNPay is configured
	if c.VNPayEnabled() {
		vnpayAdapter, err := vnpay.New(vnpay.Config{
			TmnCode:    c.VNPayTmnCode,
			HashSecret: c.VNPayHashSecret,
			PayURL:     c.VNPayPayURL,
			APIURL:     c.VNPayAPIURL,
			ReturnURL:  strings.TrimRight(c.PublicURL, "/") + "/api/payments/vnpay/return",
		}, log)
		if err != nil {
			return fail(fmt.Errorf("error while creating vnpay adapter: %w", err))
		}

		services.VNPay = vnpayAdapter
		app.reconciler = reconciler.New(reconciler.Config{}, vnpayAdapter, bookingService, log)
	} else {
		log.Info("VNPay is not configured, redirect payments are disabled")
		app.reconciler = reconciler.New(reconciler.Config{}, nil, bookingService, log)
	}

	trustedProxies, err := middleware.ParseTrustedProxies(splitList(c.TrustedProxies))
	if err != nil {
		return fail(fmt.Errorf("error while parsing trusted proxies: %w", err))
	}

	app.Handler = handlers.NewRouter(handlers.Config{
		FrontendURL:    c.FrontendURL,
		CORSOrigins:    splitList(c.CORSOrigins),
		TrustedProxies: trustedProxies,
	}, services, log)

	return app, nil
}

// Run starts background workers and http server; stops gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	defer s.Close()

	httpServer := &http.Server{
		Addr:              s.ListenAddr,
		Handler:           s.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	gcStopped := s.limiter.RunGC(srvCtx, time.Minute)
	reconcilerStopped := s.reconciler.Process(srvCtx)

	idleConnsClosed := make(chan struct{})
	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.logger.Info("Starting server", "address", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed
	<-gcStopped
	<-reconcilerStopped

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *ServerApp) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
