package observability

import (
	"context"

	"github.com/google/uuid"
)

// CorrelationHeader carries the causal-chain id across service boundaries.
const CorrelationHeader = "X-Correlation-ID"

type correlationKey struct{}

// ContextWithCorrelationID stores id on ctx.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id stored on ctx, or "".
func CorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// NewCorrelationID mints an id for a chain that starts here.
func NewCorrelationID() string {
	return uuid.NewString()
}
