package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/erp-ticketing/internal/domain"
	"github.com/spec-kit/erp-ticketing/internal/events"
	"github.com/spec-kit/erp-ticketing/internal/observability"
	"github.com/spec-kit/erp-ticketing/internal/repository"
)

// Delivery outcomes recorded in metrics.
const (
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
	OutcomeReleased  = "released"
)

// DefaultWorkers bounds concurrent deliveries per claimed batch. A record
// backing off occupies one slot, so more than one keeps the rest of the batch
// moving.
const DefaultWorkers = 4

// Options tunes the delivery worker.
type Options struct {
	BatchSize      int
	Workers        int
	PollInterval   time.Duration
	ClaimLease     time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.ClaimLease <= 0 {
		o.ClaimLease = 5 * time.Minute
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 500 * time.Millisecond
	}
	if o.MaxBackoff < o.InitialBackoff {
		o.MaxBackoff = o.InitialBackoff
	}
	return o
}

// DeliveryWorker drains the integration outbox into the dispatcher. It runs
// outside request handling, so a slow or unavailable integration layer never
// blocks ticket writes.
type DeliveryWorker struct {
	store      repository.Store
	dispatcher events.Dispatcher
	opts       Options
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
	wake       chan struct{}
}

// NewDeliveryWorker builds a worker.
func NewDeliveryWorker(store repository.Store, dispatcher events.Dispatcher, opts Options, logger *zap.Logger, metrics *observability.Metrics) *DeliveryWorker {
	return &DeliveryWorker{
		store:      store,
		dispatcher: dispatcher,
		opts:       opts.withDefaults(),
		logger:     logger,
		metrics:    metrics,
		now:        time.Now,
		wake:       make(chan struct{}, 1),
	}
}

// Notify asks the worker to scan the outbox now. It never blocks.
func (w *DeliveryWorker) Notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run drains the outbox until ctx is cancelled. Records being delivered at
// cancellation are returned to pending.
func (w *DeliveryWorker) Run(ctx context.Context) error {
	w.logger.Info("delivery worker started",
		zap.Int("batch_size", w.opts.BatchSize),
		zap.Int("workers", w.opts.Workers),
		zap.Int("max_attempts", w.opts.MaxAttempts),
	)
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		for {
			n, err := w.RunOnce(ctx)
			if err != nil && ctx.Err() == nil {
				w.logger.Error("outbox claim failed", zap.Error(err))
			}
			if err != nil || n < w.opts.BatchSize {
				break
			}
		}
		if err := w.ReportBacklog(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn("outbox backlog unavailable", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			w.logger.Info("delivery worker stopped")
			return nil
		case <-ticker.C:
		case <-w.wake:
		}
	}
}

// RunOnce claims one batch and delivers it. It returns the number of records
// claimed.
func (w *DeliveryWorker) RunOnce(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	records, err := w.store.Repos().Outbox.Claim(ctx, w.timestamp(), w.opts.ClaimLease, w.opts.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	w.metrics.OutboxClaimed(len(records))

	jobs := make(chan domain.OutboxRecord)
	var wg sync.WaitGroup
	for i := 0; i < min(w.opts.Workers, len(records)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range jobs {
				w.deliver(ctx, rec)
			}
		}()
	}
	for _, rec := range records {
		jobs <- rec
	}
	close(jobs)
	wg.Wait()
	return len(records), nil
}

// ReportBacklog publishes the pending and failed outbox counts as gauges.
func (w *DeliveryWorker) ReportBacklog(ctx context.Context) error {
	outbox := w.store.Repos().Outbox
	for _, state := range []domain.DeliveryState{domain.DeliveryPending, domain.DeliveryFailed} {
		_, total, err := outbox.List(ctx, repository.OutboxFilter{State: &state, Limit: 1})
		if err != nil {
			return err
		}
		w.metrics.OutboxBacklog(string(state), total)
	}
	return nil
}

func (w *DeliveryWorker) deliver(ctx context.Context, rec domain.OutboxRecord) {
	event := rec.Event
	logger := w.logger.With(
		zap.String("event_id", event.EventID),
		zap.String("event_type", event.EventType),
		zap.String("correlation_id", event.CorrelationID),
	)

	attempts := rec.Attempts
	remaining := w.opts.MaxAttempts - attempts
	var lastErr error

	if remaining > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = w.opts.InitialBackoff
		exp.MaxInterval = w.opts.MaxBackoff

		operation := func() (struct{}, error) {
			if err := ctx.Err(); err != nil {
				return struct{}{}, backoff.Permanent(err)
			}
			attempts++
			w.metrics.DeliveryAttempt(event.EventType)
			err := w.dispatcher.Deliver(ctx, event)
			if err == nil {
				return struct{}{}, nil
			}
			lastErr = err
			if errors.Is(err, events.ErrRejected) {
				return struct{}{}, backoff.Permanent(err)
			}
			logger.Warn("delivery attempt failed", zap.Int("attempt", attempts), zap.Error(err))
			return struct{}{}, err
		}

		_, err := backoff.Retry(ctx, operation,
			backoff.WithBackOff(exp),
			backoff.WithMaxTries(uint(remaining)),
			backoff.WithMaxElapsedTime(w.opts.ClaimLease),
		)
		if err == nil {
			w.settle(logger, OutcomeDelivered, event.EventType, func(ctx context.Context, o repository.OutboxRepository) error {
				return o.MarkDelivered(ctx, event.EventID, attempts, w.timestamp())
			})
			return
		}
		if lastErr == nil {
			lastErr = err
		}
	}

	switch {
	case ctx.Err() != nil:
		w.settle(logger, OutcomeReleased, event.EventType, func(ctx context.Context, o repository.OutboxRepository) error {
			return o.Release(ctx, event.EventID, attempts, errorText(lastErr), w.timestamp())
		})
	case attempts >= w.opts.MaxAttempts || errors.Is(lastErr, events.ErrRejected):
		logger.Error("integration event delivery failed",
			zap.Int("attempts", attempts),
			zap.Bool("alert", true),
			zap.Error(lastErr),
		)
		w.settle(logger, OutcomeFailed, event.EventType, func(ctx context.Context, o repository.OutboxRepository) error {
			return o.MarkFailed(ctx, event.EventID, attempts, errorText(lastErr), w.timestamp())
		})
	default:
		// Retry window outlived the claim lease; hand the record back.
		w.settle(logger, OutcomeReleased, event.EventType, func(ctx context.Context, o repository.OutboxRepository) error {
			return o.Release(ctx, event.EventID, attempts, errorText(lastErr), w.timestamp())
		})
	}
}

// settle persists the delivery outcome. It must survive shutdown, so it runs
// on a context detached from the worker's.
func (w *DeliveryWorker) settle(logger *zap.Logger, outcome, eventType string, fn func(context.Context, repository.OutboxRepository) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx, w.store.Repos().Outbox); err != nil {
		logger.Warn("unable to record delivery outcome", zap.String("outcome", outcome), zap.Error(err))
		return
	}
	w.metrics.DeliveryOutcome(eventType, outcome)
}

func (w *DeliveryWorker) timestamp() time.Time {
	return w.now().UTC().Truncate(time.Microsecond)
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > 1024 {
		msg = msg[:1024]
	}
	return msg
}
