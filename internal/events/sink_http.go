package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/erp-ticketing/internal/domain"
)

// HTTPSink posts events as JSON to the integration layer ingress.
type HTTPSink struct {
	url     string
	timeout time.Duration
}

// NewHTTPSink builds a sink posting to url.
func NewHTTPSink(url string, timeout time.Duration) *HTTPSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPSink{url: url, timeout: timeout}
}

// Name implements Sink.
func (s *HTTPSink) Name() string { return "http" }

// Deliver implements Sink. 2xx is success; 408, 429 and 5xx are retryable;
// any other status is a rejection.
func (s *HTTPSink) Deliver(ctx context.Context, event domain.IntegrationEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	timeout := s.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	agent := fiber.Post(s.url)
	agent.Set("X-Correlation-ID", event.CorrelationID)
	agent.Set("Idempotency-Key", event.EventID)
	agent.Set("X-Event-Type", event.EventType)
	agent.Timeout(timeout)
	agent.JSON(event)

	status, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("post %s: %w", event.EventType, errors.Join(errs...))
	}
	return classifyStatus(status, body)
}

func classifyStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == fiber.StatusRequestTimeout, status == fiber.StatusTooManyRequests, status >= 500:
		return fmt.Errorf("integration layer returned %d: %s", status, truncate(body, 256))
	default:
		return fmt.Errorf("%w: status %d: %s", ErrRejected, status, truncate(body, 256))
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
