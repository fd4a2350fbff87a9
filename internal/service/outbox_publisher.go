package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/messaging"
	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/repository"
)

// OutboxConfig tunes the outbox publisher.
type OutboxConfig struct {
	WorkerID        string
	BatchSize       int
	PollInterval    time.Duration
	InFlightTimeout time.Duration
	PublishTimeout  time.Duration
	RetryInitial    time.Duration
	RetryMax        time.Duration
}

func (c OutboxConfig) withDefaults() OutboxConfig {
	if c.WorkerID == "" {
		c.WorkerID = "outbox"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.InFlightTimeout <= 0 {
		c.InFlightTimeout = 30 * time.Second
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = time.Second
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 5 * time.Minute
	}
	return c
}

// OutboxPublisher moves committed outbox entries onto the message channel.
// Delivery is at-least-once: an entry is marked Published only after the
// publisher acknowledged it.
type OutboxPublisher struct {
	log       repository.EventLog
	publisher messaging.Publisher
	cfg       OutboxConfig
	now       func() time.Time
}

func NewOutboxPublisher(log repository.EventLog, publisher messaging.Publisher, cfg OutboxConfig) *OutboxPublisher {
	return &OutboxPublisher{
		log:       log,
		publisher: publisher,
		cfg:       cfg.withDefaults(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// PublishPending claims one batch of due entries and publishes it. It
// returns how many entries were published.
func (p *OutboxPublisher) PublishPending(ctx context.Context) (int, error) {
	entries, err := p.log.ClaimPending(ctx, p.cfg.WorkerID, p.cfg.BatchSize, p.now(), p.cfg.InFlightTimeout)
	if err != nil {
		return 0, fmt.Errorf("failed to claim outbox entries: %w", err)
	}
	return p.publishEntries(ctx, entries)
}

// PublishTransaction publishes the entries of one committed save right away.
// Entries it cannot publish stay for the background loop.
func (p *OutboxPublisher) PublishTransaction(ctx context.Context, transactionID string) error {
	entries, err := p.log.ClaimTransaction(ctx, transactionID, p.cfg.WorkerID, p.now())
	if err != nil {
		return fmt.Errorf("failed to claim transaction %s: %w", transactionID, err)
	}
	published, err := p.publishEntries(ctx, entries)
	if err != nil {
		return err
	}
	if published < len(entries) {
		return fmt.Errorf("published %d of %d entries of transaction %s", published, len(entries), transactionID)
	}
	return nil
}

// publishEntries sends entries one at a time in claim order. Once an entry of
// an aggregate fails, the later entries of that aggregate in the batch are
// deferred with it so they cannot overtake it.
func (p *OutboxPublisher) publishEntries(ctx context.Context, entries []entity.IntegrationEventLogEntry) (int, error) {
	published := 0
	blocked := make(map[string]time.Time)
	for _, entry := range entries {
		if retryAt, ok := blocked[entry.AggregateID]; ok {
			if err := p.log.MarkFailed(ctx, entry.EventID, p.cfg.WorkerID, retryAt, "deferred behind an earlier failed event"); err != nil {
				slog.Error("Outbox: failed to defer entry", "event_id", entry.EventID, "err", err)
			}
			continue
		}

		ok, retryAt, err := p.publish(ctx, entry)
		if err != nil {
			return published, err
		}
		if !ok {
			blocked[entry.AggregateID] = retryAt
			continue
		}
		published++
	}
	return published, nil
}

// publish makes one attempt. A failed send is recorded on the entry and
// reported through ok=false; err is only set when the event log itself fails.
func (p *OutboxPublisher) publish(ctx context.Context, entry entity.IntegrationEventLogEntry) (bool, time.Time, error) {
	ctx, span := tracer.Start(ctx, "outbox publish "+entry.EventTypeName)
	defer span.End()
	span.SetAttributes(
		attribute.String("outbox.event_id", entry.EventID),
		attribute.String("outbox.aggregate_id", entry.AggregateID),
		attribute.Int("outbox.times_sent", entry.TimesSent),
	)

	attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	sendErr := p.publisher.Publish(attemptCtx, messaging.Envelope{
		EventID:   entry.EventID,
		EventType: entry.EventTypeName,
		Key:       entry.AggregateID,
		Payload:   entry.Content,
	})
	cancel()

	if sendErr != nil {
		span.RecordError(sendErr)
		span.SetStatus(codes.Error, "publish failed")
		retryAt := p.now().Add(p.retryDelay(entry.TimesSent + 1))
		slog.Warn("Outbox: publish failed, scheduling retry",
			"event_id", entry.EventID,
			"event_type", entry.EventTypeName,
			"times_sent", entry.TimesSent+1,
			"retry_at", retryAt,
			"err", sendErr,
		)
		if err := p.log.MarkFailed(ctx, entry.EventID, p.cfg.WorkerID, retryAt, sendErr.Error()); err != nil {
			return false, retryAt, p.settleError(entry, err)
		}
		return false, retryAt, nil
	}

	if err := p.log.MarkPublished(ctx, entry.EventID, p.cfg.WorkerID, p.now()); err != nil {
		return false, time.Time{}, p.settleError(entry, err)
	}
	slog.Debug("Outbox: event published", "event_id", entry.EventID, "event_type", entry.EventTypeName)
	return true, time.Time{}, nil
}

// settleError tolerates losing the claim to another worker; the entry was
// reclaimed and will be settled there.
func (p *OutboxPublisher) settleError(entry entity.IntegrationEventLogEntry, err error) error {
	if errors.Is(err, entity.ErrNotFound) || errors.Is(err, repository.ErrClaimLost) {
		slog.Warn("Outbox: claim lost before settling entry", "event_id", entry.EventID, "err", err)
		return nil
	}
	return fmt.Errorf("failed to settle outbox entry %s: %w", entry.EventID, err)
}

// retryDelay is the exponential schedule for the given attempt number,
// capped at RetryMax.
func (p *OutboxPublisher) retryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.RetryInitial
	b.MaxInterval = p.cfg.RetryMax
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()

	delay := b.NextBackOff()
	for i := 1; i < attempt && delay < p.cfg.RetryMax; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

// Run drains due entries every PollInterval until ctx is done.
func (p *OutboxPublisher) Run(ctx context.Context) error {
	slog.Info("Outbox: publisher started", "worker_id", p.cfg.WorkerID, "poll_interval", p.cfg.PollInterval)
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Outbox: publisher stopped", "worker_id", p.cfg.WorkerID)
			return nil
		case <-ticker.C:
			p.drain(ctx)
		}
	}
}

func (p *OutboxPublisher) drain(ctx context.Context) {
	for ctx.Err() == nil {
		published, err := p.PublishPending(ctx)
		if err != nil {
			slog.Error("Outbox: publish cycle failed", "err", err)
			return
		}
		if published < p.cfg.BatchSize {
			return
		}
	}
}

// Stats reports how many entries sit in each delivery state.
func (p *OutboxPublisher) Stats(ctx context.Context) (map[entity.EventState]int, error) {
	counts, err := p.log.CountByState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count outbox entries: %w", err)
	}
	return counts, nil
}
