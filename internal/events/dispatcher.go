package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spec-kit/erp-ticketing/internal/domain"
)

// AnyModule subscribes a sink to every event without a more specific route.
const AnyModule = "*"

// Dispatcher routes integration events to sinks by module prefix.
type Dispatcher interface {
	Deliver(ctx context.Context, event domain.IntegrationEvent) error
	Subscribe(module string, sink Sink)
}

type routingDispatcher struct {
	mu     sync.RWMutex
	routes map[string][]Sink
}

// NewDispatcher creates a dispatcher instance.
func NewDispatcher() Dispatcher {
	return &routingDispatcher{
		routes: make(map[string][]Sink),
	}
}

// Deliver hands event to every sink routed for its module. All sinks are tried;
// the joined error is returned. An event no sink accepts is rejected.
func (d *routingDispatcher) Deliver(ctx context.Context, event domain.IntegrationEvent) error {
	d.mu.RLock()
	sinks := d.routes[ModuleOf(event.EventType)]
	if len(sinks) == 0 {
		sinks = d.routes[AnyModule]
	}
	sinks = append([]Sink{}, sinks...)
	d.mu.RUnlock()

	if len(sinks) == 0 {
		return fmt.Errorf("%w: no sink routed for %s", ErrRejected, event.EventType)
	}

	var (
		errs      []error
		transient bool
	)
	for _, sink := range sinks {
		if err := sink.Deliver(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
			transient = transient || !errors.Is(err, ErrRejected)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	joined := errors.Join(errs...)
	if transient {
		// One retryable failure makes the whole delivery retryable.
		return errors.New(joined.Error())
	}
	return joined
}

// Subscribe registers sink for the given module prefix or AnyModule.
func (d *routingDispatcher) Subscribe(module string, sink Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.routes[module] = append(d.routes[module], sink)
}
