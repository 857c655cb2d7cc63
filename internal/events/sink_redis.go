package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/erp-ticketing/internal/domain"
)

// RedisStreamSink appends events to one Redis stream per module.
type RedisStreamSink struct {
	client redis.Cmdable
	prefix string
}

// NewRedisStreamSink builds a sink writing to streams named prefix+module.
func NewRedisStreamSink(client redis.Cmdable, prefix string) *RedisStreamSink {
	return &RedisStreamSink{client: client, prefix: prefix}
}

// Name implements Sink.
func (s *RedisStreamSink) Name() string { return "redis" }

// StreamFor returns the stream key an event type is appended to.
func (s *RedisStreamSink) StreamFor(eventType string) string {
	return s.prefix + strings.ToLower(ModuleOf(eventType))
}

// Deliver implements Sink.
func (s *RedisStreamSink) Deliver(ctx context.Context, event domain.IntegrationEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.StreamFor(event.EventType),
		Values: map[string]any{
			"event_id":       event.EventID,
			"event_type":     event.EventType,
			"correlation_id": event.CorrelationID,
			"timestamp":      event.Timestamp.Format(time.RFC3339Nano),
			"payload":        string(payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", event.EventType, err)
	}
	return nil
}
