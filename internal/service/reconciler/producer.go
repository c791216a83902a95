package reconciler

import (
	"context"
	"time"

	"github.com/nkiryanov/homestay/internal/logger"
	"github.com/nkiryanov/homestay/internal/models"
	"github.com/nkiryanov/homestay/internal/repository"
)

type Producer struct {
	interval  time.Duration
	grace     time.Duration
	holdTTL   time.Duration
	batchSize int

	queryGateway bool

	now      func() time.Time
	bookings bookingService
	logger   logger.Logger
}

func (p *Producer) Produce(ctx context.Context, out chan<- models.Booking) <-chan struct{} {
	idleStopped := make(chan struct{})
	p.logger.Debug("Starting producer", "interval", p.interval, "batch_size", p.batchSize)

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				p.logger.Debug("Producer stopped by context")
				return

			case <-ticker.C:
				bookings, err := p.candidates(ctx)
				if err != nil {
					p.logger.Error("Failed to list bookings", "error", err)
					continue
				}

				for _, b := range bookings {
					select {
					case <-ctx.Done():
						p.logger.Debug("Producer stopped by context while sending bookings")
						return
					case out <- b:
					}
				}
			}
		}
	}()

	return idleStopped
}

// Pending bookings with stale gateway payment attempt, and pending bookings past hold TTL
func (p *Producer) candidates(ctx context.Context) ([]models.Booking, error) {
	now := p.now()
	pending := []models.BookingStatus{models.BookingPending}

	var lists [][]models.Booking

	if p.queryGateway {
		stale, err := p.bookings.List(ctx, repository.ListBookingsOpts{
			Statuses:             pending,
			Gateway:              models.GatewayVNPay,
			PaymentCreatedBefore: now.Add(-p.grace),
			Limit:                p.batchSize,
		})
		if err != nil {
			return nil, err
		}
		lists = append(lists, stale)
	}

	expired, err := p.bookings.List(ctx, repository.ListBookingsOpts{
		Statuses:      pending,
		CreatedBefore: now.Add(-p.holdTTL),
		Limit:         p.batchSize,
	})
	if err != nil {
		return nil, err
	}
	lists = append(lists, expired)

	seen := make(map[string]struct{})
	var res []models.Booking
	for _, list := range lists {
		for _, b := range list {
			if _, ok := seen[b.ID]; ok {
				continue
			}
			seen[b.ID] = struct{}{}
			res = append(res, b)
		}
	}

	p.logger.Debug("Producer tick", "candidates", len(res))
	return res, nil
}
