package observability

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/spec-kit/erp-ticketing/internal/config"
)

func TestCorrelationIDRoundTrip(t *testing.T) {
	ctx := ContextWithCorrelationID(context.Background(), "corr-1")
	if got := CorrelationID(ctx); got != "corr-1" {
		t.Errorf("CorrelationID = %q, want corr-1", got)
	}
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("empty ctx CorrelationID = %q", got)
	}
	if NewCorrelationID() == NewCorrelationID() {
		t.Error("NewCorrelationID should be unique")
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(config.LoggerConfig{Level: "not-a-level"}, config.AppConfig{Name: "svc", Env: "test"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if !logger.Core().Enabled(zap.InfoLevel) {
		t.Error("invalid level should fall back to info")
	}
	if logger.Core().Enabled(zap.DebugLevel) {
		t.Error("debug should be disabled at info level")
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RecordRequest("/", "GET", 200, time.Millisecond)
	m.RecordError("/", "GET", "X")
	m.TicketCreated("PM", "Incident")
	m.Transition("PM", "Assigned", "accepted")
	m.Reorder("created")
	m.DeliveryAttempt("PM_TICKET_CREATED")
	m.DeliveryOutcome("PM_TICKET_CREATED", "delivered")
	m.OutboxClaimed(3)
	m.OutboxBacklog("failed", 2)
}

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.TicketCreated("MM", "Procurement")
	m.TicketCreated("MM", "Procurement")
	m.DeliveryOutcome("MM_TICKET_CREATED", "failed")

	if got := testutil.ToFloat64(m.ticketsCreated.WithLabelValues("MM", "Procurement")); got != 2 {
		t.Errorf("tickets_created_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.deliveryOutcomes.WithLabelValues("MM_TICKET_CREATED", "failed")); got != 1 {
		t.Errorf("delivery failed = %v, want 1", got)
	}
}

func TestMetrics_OutboxBacklogIsAGauge(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.OutboxBacklog("failed", 7)
	m.OutboxBacklog("failed", 3)
	m.OutboxBacklog("pending", 0)

	if got := testutil.ToFloat64(m.outboxBacklog.WithLabelValues("failed")); got != 3 {
		t.Errorf("failed backlog = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.outboxBacklog.WithLabelValues("pending")); got != 0 {
		t.Errorf("pending backlog = %v, want 0", got)
	}
}

func TestRequestLogger_RecordsRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	app := fiber.New()
	app.Use(RequestLogger(zap.NewNop(), m))
	app.Get("/tickets/:id", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusTeapot)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/tickets/TKT-PM-20240115-0001", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusTeapot {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("GET", "/tickets/:id", "418")); got != 1 {
		t.Errorf("http_requests_total = %v, want 1", got)
	}
}
