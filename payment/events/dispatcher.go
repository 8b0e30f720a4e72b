package events

import (
	"context"
	"log/slog"
	"time"

	"go-settlement/payment/db"
)

// Outbox is the event queue written by the atomic confirm.
type Outbox interface {
	// ClaimEvents leases up to limit due events. An event neither marked sent
	// nor failed within lease becomes due again.
	ClaimEvents(ctx context.Context, limit int, lease time.Duration) ([]db.OutboxEvent, error)
	MarkEventSent(ctx context.Context, id uint64) error
	MarkEventFailed(ctx context.Context, id uint64, nextRetry time.Time) error
}

const (
	claimLease     = 30 * time.Second
	publishTimeout = 5 * time.Second
)

// OutboxDispatcher delivers outbox events at least once.
type OutboxDispatcher struct {
	outbox    Outbox
	publisher Publisher
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
	now       func() time.Time
}

func NewOutboxDispatcher(outbox Outbox, publisher Publisher, interval time.Duration, batch int, logger *slog.Logger) *OutboxDispatcher {
	if batch <= 0 {
		batch = 32
	}
	return &OutboxDispatcher{
		outbox:    outbox,
		publisher: publisher,
		interval:  interval,
		batchSize: batch,
		logger:    logger,
		now:       time.Now,
	}
}

// Run dispatches until ctx is done.
func (d *OutboxDispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if _, err := d.Dispatch(ctx); err != nil {
			d.logger.Error("outbox dispatch failed", "err", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Dispatch publishes one batch of due events and returns how many were sent.
func (d *OutboxDispatcher) Dispatch(ctx context.Context) (int, error) {
	rows, err := d.outbox.ClaimEvents(ctx, d.batchSize, claimLease)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, row := range rows {
		if err := d.publishOne(ctx, row); err != nil {
			d.logger.Warn("publish event failed", "event_id", row.EventID, "attempts", row.Attempts+1, "err", err)
			continue
		}
		sent++
	}
	return sent, nil
}

func (d *OutboxDispatcher) publishOne(ctx context.Context, row db.OutboxEvent) error {
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := d.publisher.Publish(pubCtx, row.EventType, row.Payload); err != nil {
		nextRetry := d.now().UTC().Add(retryDelay(row.Attempts + 1))
		if markErr := d.outbox.MarkEventFailed(ctx, row.ID, nextRetry); markErr != nil {
			d.logger.Error("reschedule event failed", "event_id", row.EventID, "err", markErr)
		}
		return err
	}
	return d.outbox.MarkEventSent(ctx, row.ID)
}

// retryDelay doubles from 2s and stops growing after the fifth attempt.
func retryDelay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 5 {
		attempts = 5
	}
	delay := time.Duration(1<<attempts) * time.Second
	if delay > time.Minute {
		delay = time.Minute
	}
	return delay
}
