// Package reconciler settles payments whose gateway notification never arrived
// and releases rooms held by unpaid bookings.
//
// Producer lists candidate bookings on every tick, consumers ask the redirect gateway
// for the transaction state and apply the result through the booking lifecycle.
package reconciler

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/nkiryanov/homestay/internal/logger"
	"github.com/nkiryanov/homestay/internal/models"
	"github.com/nkiryanov/homestay/internal/repository"
	"github.com/nkiryanov/homestay/internal/service/booking"
	"github.com/nkiryanov/homestay/internal/service/payment/vnpay"
)

const (
	defaultCountWorkers    = 4                // Number of workers querying the gateway
	defaultProduceInterval = time.Minute      // Interval for listing candidates
	defaultGrace           = 20 * time.Minute // Payment attempt age before gateway is asked
	defaultHoldTTL         = 24 * time.Hour   // Unpaid booking age before it is cancelled
	defaultBatchSize       = 100
	defaultQueriesPerSec   = 2
)

type gatewayClient interface {
	QueryTransaction(ctx context.Context, txnRef string, createdAt time.Time) (vnpay.Transaction, error)
}

type bookingService interface {
	List(ctx context.Context, opts repository.ListBookingsOpts) ([]models.Booking, error)
	ApplyPayment(ctx context.Context, outcome models.PaymentOutcome) (booking.Result, error)
	ExpireHold(ctx context.Context, bookingID string, cutoff time.Time) (booking.Result, error)
}

type Config struct {
	Workers  int
	Interval time.Duration
	Grace    time.Duration
	HoldTTL  time.Duration

	BatchSize int

	// Gateway query pacing
	QueriesPerSecond float64

	Now func() time.Time
}

type Reconciler struct {
	consumer *Consumer
	producer *Producer
	logger   logger.Logger
}

// New creates reconciler. Gateway may be nil, then only holds are expired.
func New(cfg Config, gateway gatewayClient, bookings bookingService, l logger.Logger) *Reconciler {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultCountWorkers
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultProduceInterval
	}
	if cfg.Grace <= 0 {
		cfg.Grace = defaultGrace
	}
	if cfg.HoldTTL <= 0 {
		cfg.HoldTTL = defaultHoldTTL
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.QueriesPerSecond <= 0 {
		cfg.QueriesPerSecond = defaultQueriesPerSec
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	l = l.With("component", "reconciler")

	return &Reconciler{
		consumer: &Consumer{
			countWorkers: cfg.Workers,
			holdTTL:      cfg.HoldTTL,
			limiter:      rate.NewLimiter(rate.Limit(cfg.QueriesPerSecond), 1),
			now:          cfg.Now,
			gateway:      gateway,
			bookings:     bookings,
			logger:       l,
		},
		producer: &Producer{
			interval:     cfg.Interval,
			grace:        cfg.Grace,
			holdTTL:      cfg.HoldTTL,
			batchSize:    cfg.BatchSize,
			queryGateway: gateway != nil,
			now:          cfg.Now,
			bookings:     bookings,
			logger:       l,
		},
		logger: l,
	}
}

func (r *Reconciler) Process(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})

	bookingChan := make(chan models.Booking)

	producerStopped := r.producer.Produce(ctx, bookingChan)
	consumerStopped := r.consumer.Consume(ctx, bookingChan)

	go func() {
		defer close(idleStopped)
		defer close(bookingChan)
		<-producerStopped
		<-consumerStopped
		r.logger.Debug("Reconciler stopped")
	}()

	return idleStopped
}
