package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/spec-kit/erp-ticketing/internal/domain"
	"github.com/spec-kit/erp-ticketing/internal/events"
	"github.com/spec-kit/erp-ticketing/internal/observability"
	"github.com/spec-kit/erp-ticketing/internal/repository/memory"
)

type flakySink struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    int
	block    bool
	started  chan struct{}
	received []domain.IntegrationEvent
}

func (s *flakySink) Name() string { return "flaky" }

func (s *flakySink) Deliver(ctx context.Context, event domain.IntegrationEvent) error {
	s.mu.Lock()
	s.calls++
	call := s.calls
	block := s.block
	s.mu.Unlock()

	if block {
		if s.started != nil && call == 1 {
			close(s.started)
		}
		<-ctx.Done()
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if call <= s.failures {
		if s.err != nil {
			return s.err
		}
		return fmt.Errorf("ingress unavailable (call %d)", call)
	}
	s.received = append(s.received, event)
	return nil
}

func (s *flakySink) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testOptions() Options {
	return Options{
		BatchSize:      10,
		Workers:        2,
		PollInterval:   10 * time.Millisecond,
		ClaimLease:     time.Minute,
		MaxAttempts:    4,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}
}

func newWorker(t *testing.T, sink events.Sink) (*DeliveryWorker, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	dispatcher := events.NewDispatcher()
	dispatcher.Subscribe(events.AnyModule, sink)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return NewDeliveryWorker(store, dispatcher, testOptions(), zap.NewNop(), metrics), store
}

func enqueue(t *testing.T, store *memory.Store, id string) {
	t.Helper()
	err := store.Repos().Outbox.Enqueue(context.Background(), domain.IntegrationEvent{
		EventID:       id,
		EventType:     "PM_TICKET_CREATED",
		CorrelationID: "corr-" + id,
		Timestamp:     time.Now().UTC().Add(-time.Second),
		Payload:       map[string]any{"ticket_id": "TKT-PM-20240115-0001"},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
}

func record(t *testing.T, store *memory.Store, id string) *domain.OutboxRecord {
	t.Helper()
	rec, err := store.Repos().Outbox.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%s): %v", id, err)
	}
	return rec
}

func TestRunOnce_RetriesUntilDelivered(t *testing.T) {
	sink := &flakySink{failures: 2}
	w, store := newWorker(t, sink)
	enqueue(t, store, "e1")

	n, err := w.RunOnce(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("RunOnce = %d, %v", n, err)
	}

	rec := record(t, store, "e1")
	if rec.State != domain.DeliveryDelivered {
		t.Fatalf("State = %q, want delivered", rec.State)
	}
	if rec.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", rec.Attempts)
	}
	if rec.DeliveredAt == nil {
		t.Error("DeliveredAt not set")
	}
	if len(sink.received) != 1 || sink.received[0].CorrelationID != "corr-e1" {
		t.Errorf("received = %+v", sink.received)
	}
}

func TestRunOnce_ExhaustionMarksFailed(t *testing.T) {
	sink := &flakySink{failures: 100}
	w, store := newWorker(t, sink)
	enqueue(t, store, "e1")

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	rec := record(t, store, "e1")
	if rec.State != domain.DeliveryFailed {
		t.Fatalf("State = %q, want failed", rec.State)
	}
	if rec.Attempts != 4 || sink.callCount() != 4 {
		t.Errorf("Attempts = %d calls = %d, want 4", rec.Attempts, sink.callCount())
	}
	if rec.LastError == "" {
		t.Error("LastError not recorded")
	}

	// Failed records are not claimed again until requeued.
	if n, _ := w.RunOnce(context.Background()); n != 0 {
		t.Errorf("failed record reclaimed: n = %d", n)
	}
}

func TestRunOnce_RejectionIsNotRetried(t *testing.T) {
	sink := &flakySink{failures: 100, err: fmt.Errorf("%w: status 400", events.ErrRejected)}
	w, store := newWorker(t, sink)
	enqueue(t, store, "e1")

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	rec := record(t, store, "e1")
	if rec.State != domain.DeliveryFailed || rec.Attempts != 1 {
		t.Errorf("record = %+v, want failed after 1 attempt", rec)
	}
}

func TestRunOnce_RequeuedRecordGetsFreshBudget(t *testing.T) {
	sink := &flakySink{failures: 4}
	w, store := newWorker(t, sink)
	enqueue(t, store, "e1")

	_, _ = w.RunOnce(context.Background())
	if rec := record(t, store, "e1"); rec.State != domain.DeliveryFailed {
		t.Fatalf("State = %q, want failed", rec.State)
	}
	if err := store.Repos().Outbox.Requeue(context.Background(), "e1", time.Now()); err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	_, _ = w.RunOnce(context.Background())
	rec := record(t, store, "e1")
	if rec.State != domain.DeliveryDelivered || rec.Attempts != 1 {
		t.Errorf("record = %+v, want delivered on first retry", rec)
	}
}

func TestRunOnce_CancelReleasesClaim(t *testing.T) {
	sink := &flakySink{block: true, started: make(chan struct{})}
	w, store := newWorker(t, sink)
	enqueue(t, store, "e1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = w.RunOnce(ctx)
	}()

	select {
	case <-sink.started:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery never started")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunOnce did not return after cancel")
	}

	rec := record(t, store, "e1")
	if rec.State != domain.DeliveryPending {
		t.Errorf("State = %q, want pending", rec.State)
	}
	if rec.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", rec.Attempts)
	}
}

func TestRun_NotifyDrainsOutbox(t *testing.T) {
	sink := &flakySink{}
	w, store := newWorker(t, sink)
	w.opts.PollInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- w.Run(ctx) }()

	enqueue(t, store, "e1")
	enqueue(t, store, "e2")
	w.Notify()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		a, b := record(t, store, "e1"), record(t, store, "e2")
		if a.State == domain.DeliveryDelivered && b.State == domain.DeliveryDelivered {
			break
		}
		time.Sleep(5 * time.Millisecond)
		w.Notify()
	}
	cancel()
	if err := <-stopped; err != nil {
		t.Errorf("Run: %v", err)
	}
	for _, id := range []string{"e1", "e2"} {
		if rec := record(t, store, id); rec.State != domain.DeliveryDelivered {
			t.Errorf("%s state = %q, want delivered", id, rec.State)
		}
	}
}

func TestRunOnce_ClaimError(t *testing.T) {
	w, store := newWorker(t, &flakySink{})
	store.Fault = func(op string) error {
		if op == "outbox.claim" {
			return errors.New("db down")
		}
		return nil
	}
	if _, err := w.RunOnce(context.Background()); err == nil {
		t.Error("expected claim error")
	}
}

// gatedSink holds delivery of one event until another has been delivered.
type gatedSink struct {
	held, gate string
	opened     chan struct{}
	once       sync.Once
}

func (s *gatedSink) Name() string { return "gated" }

func (s *gatedSink) Deliver(ctx context.Context, event domain.IntegrationEvent) error {
	switch event.EventID {
	case s.gate:
		s.once.Do(func() { close(s.opened) })
		return nil
	case s.held:
		select {
		case <-s.opened:
			return nil
		case <-time.After(2 * time.Second):
			return errors.New("gate never opened")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func TestRunOnce_DefaultWorkersDeliverAroundHeldRecord(t *testing.T) {
	sink := &gatedSink{held: "a-held", gate: "b-gate", opened: make(chan struct{})}
	store := memory.NewStore()
	dispatcher := events.NewDispatcher()
	dispatcher.Subscribe(events.AnyModule, sink)
	opts := testOptions()
	opts.Workers = 0
	w := NewDeliveryWorker(store, dispatcher, opts, zap.NewNop(), nil)
	if w.opts.Workers != DefaultWorkers || DefaultWorkers < 2 {
		t.Fatalf("Workers = %d, want default %d", w.opts.Workers, DefaultWorkers)
	}

	enqueue(t, store, "a-held")
	enqueue(t, store, "b-gate")

	if n, err := w.RunOnce(context.Background()); err != nil || n != 2 {
		t.Fatalf("RunOnce = %d, %v", n, err)
	}
	for _, id := range []string{"a-held", "b-gate"} {
		rec := record(t, store, id)
		if rec.State != domain.DeliveryDelivered || rec.Attempts != 1 {
			t.Errorf("%s = %s after %d attempts, want delivered after 1", id, rec.State, rec.Attempts)
		}
	}
}

func TestReportBacklog_PublishesPendingAndFailed(t *testing.T) {
	store := memory.NewStore()
	dispatcher := events.NewDispatcher()
	dispatcher.Subscribe(events.AnyModule, &flakySink{failures: 100})
	reg := prometheus.NewRegistry()
	w := NewDeliveryWorker(store, dispatcher, testOptions(), zap.NewNop(), observability.NewMetrics(reg))

	enqueue(t, store, "e1")
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	enqueue(t, store, "e2")
	enqueue(t, store, "e3")

	if err := w.ReportBacklog(context.Background()); err != nil {
		t.Fatalf("ReportBacklog: %v", err)
	}
	expected := `
# HELP integration_outbox_backlog Outbox records awaiting delivery (pending) or operator retry (failed)
# TYPE integration_outbox_backlog gauge
integration_outbox_backlog{state="failed"} 1
integration_outbox_backlog{state="pending"} 2
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "integration_outbox_backlog"); err != nil {
		t.Error(err)
	}
}

func TestReportBacklog_ListError(t *testing.T) {
	w, store := newWorker(t, &flakySink{})
	store.Fault = func(op string) error {
		if op == "outbox.list" {
			return errors.New("db down")
		}
		return nil
	}
	if err := w.ReportBacklog(context.Background()); err == nil {
		t.Error("expected list error")
	}
}
