package reconciler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/nkiryanov/homestay/internal/apperrors"
	"github.com/nkiryanov/homestay/internal/logger"
	"github.com/nkiryanov/homestay/internal/models"
	"github.com/nkiryanov/homestay/internal/service/payment/vnpay"
)

type Consumer struct {
	countWorkers int
	holdTTL      time.Duration

	// Gateway may return rate-limit errors
	// If the gateway throttles us, workers wait until the time is up
	waitUntil atomic.Int64
	limiter   *rate.Limiter

	now      func() time.Time
	gateway  gatewayClient
	bookings bookingService
	logger   logger.Logger
}

func (c *Consumer) Consume(ctx context.Context, in <-chan models.Booking) <-chan struct{} {
	idleStopped := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < c.countWorkers; i++ {
		wg.Add(1)
		go func() {
			c.worker(ctx, in)
			wg.Done()
		}()
	}

	go func() {
		defer close(idleStopped)
		wg.Wait()
		c.logger.Debug("Consumer stopped")
	}()

	return idleStopped
}

func (c *Consumer) worker(ctx context.Context, in <-chan models.Booking) {
	for {
		// Wait until rate limit is passed or context is done
		waitUntil := time.Unix(c.waitUntil.Load(), 0)
		if waitUntil.After(time.Now()) {
			c.logger.Debug("Worker is waiting for rate limit to reset", "wait_until", waitUntil)

			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Until(waitUntil)):
				continue
			}
		}

		select {
		case <-ctx.Done():
			return

		case b, ok := <-in:
			if !ok {
				c.logger.Debug("Consumer worker stopped, input channel closed")
				return
			}

			c.reconcile(ctx, b)
		}
	}
}

func (c *Consumer) reconcile(ctx context.Context, b models.Booking) {
	log := c.logger.With("booking_id", b.ID)

	if c.gateway != nil && b.PaymentInfo != nil && b.PaymentInfo.Gateway == models.GatewayVNPay && b.PaymentInfo.Reference != "" {
		if settled := c.queryGateway(ctx, log, b); settled {
			return
		}
	}

	cutoff := c.now().Add(-c.holdTTL)
	if !b.CreatedAt.Before(cutoff) {
		return
	}

	res, err := c.bookings.ExpireHold(ctx, b.ID, cutoff)
	switch {
	case err != nil:
		log.Error("Failed to expire hold", "error", err)
	case res.Changed:
		log.Info("Unpaid booking hold expired")
	}
}

// queryGateway returns true if the booking must not be expired on this round:
// payment was found, or gateway state is unknown
func (c *Consumer) queryGateway(ctx context.Context, log logger.Logger, b models.Booking) bool {
	if err := c.limiter.Wait(ctx); err != nil {
		return true
	}

	ref := b.PaymentInfo.Reference
	tx, err := c.gateway.QueryTransaction(ctx, ref, b.PaymentInfo.CreatedAt)

	var qErr *vnpay.QueryError
	switch {
	case err == nil:

	case errors.As(err, &qErr):
		switch qErr.Code {
		case vnpay.CodeRetryAfter:
			log.Info("Gateway rate limit exceeded, waiting", "retry_after", qErr.RetryAfter)
			c.waitUntil.Store(time.Now().Add(qErr.RetryAfter).Unix())
			return true

		case vnpay.CodeNotFound:
			log.Debug("Gateway has no transaction", "txn_ref", ref)
			return false

		default:
			log.Error("Gateway query failed", "error", err, "txn_ref", ref)
			return true
		}

	default:
		log.Error("Unexpected error from gateway", "error", err, "txn_ref", ref)
		return true
	}

	if !tx.Success() {
		log.Debug("Gateway transaction not paid", "txn_ref", ref, "response_code", tx.ResponseCode, "status", tx.TransactionStatus)
		return false
	}

	bookingID, ok := vnpay.ParseOrderReference(tx.TxnRef)
	if !ok {
		log.Error("Gateway returned malformed reference", "txn_ref", tx.TxnRef)
		return true
	}

	res, err := c.bookings.ApplyPayment(ctx, models.PaymentOutcome{
		BookingReference: bookingID,
		AmountReceived:   tx.Amount,
		Verified:         true,
		Gateway:          models.GatewayVNPay,
		TransactionID:    tx.TransactionNo,
		Code:             tx.ResponseCode,
	})
	switch {
	case errors.Is(err, apperrors.ErrInsufficientAmount):
		// Logged by lifecycle, left for manual review
	case err != nil:
		log.Error("Failed to apply reconciled payment", "error", err)
	case res.Changed:
		log.Info("Payment reconciled from gateway", "txn_ref", ref)
	}

	return true
}
