package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/erp-ticketing/internal/domain"
)

// LogSink writes events to the service log. Used in development and when no
// integration layer is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink builds a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Name implements Sink.
func (s *LogSink) Name() string { return "log" }

// Deliver implements Sink.
func (s *LogSink) Deliver(_ context.Context, event domain.IntegrationEvent) error {
	s.logger.Info("integration event",
		zap.String("event_id", event.EventID),
		zap.String("event_type", event.EventType),
		zap.String("correlation_id", event.CorrelationID),
		zap.Time("timestamp", event.Timestamp),
		zap.Any("payload", event.Payload),
	)
	return nil
}
