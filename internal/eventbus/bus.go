package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/nats-io/nats.go"
)

// Bus dispatches lifecycle events to registered handlers. Without JetStream
// events are dispatched in-process; with it, Publish appends them to the
// LIFECYCLE_EVENTS stream and a Subscribe consumer dispatches them.
type Bus struct {
	handlers []Handler
	js       nats.JetStreamContext
	mu       sync.RWMutex
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{}
}

// SetJetStream attaches a JetStream context. Passing nil detaches it.
func (b *Bus) SetJetStream(js nats.JetStreamContext) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.js = js
}

// JetStreamEnabled reports whether events are routed through JetStream.
func (b *Bus) JetStreamEnabled() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.js != nil
}

// Register adds a handler to the bus. Handlers are sorted by priority on
// each Dispatch call, so registration order does not matter.
func (b *Bus) Register(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish submits an event. With JetStream attached the event is appended to
// the stream and a nil result is returned; otherwise it is dispatched
// directly.
func (b *Bus) Publish(ctx context.Context, event *Event) (*Result, error) {
	if event == nil {
		return nil, fmt.Errorf("eventbus: nil event")
	}
	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("eventbus: %w", err)
	}

	b.mu.RLock()
	js := b.js
	b.mu.RUnlock()
	if js == nil {
		return b.Dispatch(ctx, event)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("eventbus: marshal event: %w", err)
	}
	if _, err := js.Publish(SubjectForEvent(TypeOf(event)), data, nats.Context(ctx)); err != nil {
		return nil, fmt.Errorf("eventbus: publish %s: %w", TypeOf(event), err)
	}
	return nil, nil
}

// Dispatch sends an event to all registered handlers that handle its type.
// Handlers are called sequentially in priority order (lowest first).
// Handler errors are recorded as warnings and do not stop the chain.
func (b *Bus) Dispatch(ctx context.Context, event *Event) (*Result, error) {
	if event == nil {
		return nil, fmt.Errorf("eventbus: nil event")
	}

	b.mu.RLock()
	matching := b.matchingHandlers(TypeOf(event))
	b.mu.RUnlock()

	result := &Result{}

	for _, h := range matching {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("eventbus: context cancelled: %w", err)
		}

		if err := h.Handle(ctx, event, result); err != nil {
			log.Printf("eventbus: handler %q error for %s: %v", h.ID(), TypeOf(event), err)
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %v", h.ID(), err))
		}
	}

	return result, nil
}

// Subscribe starts a durable JetStream consumer on every lifecycle subject
// that dispatches each delivered event. Malformed messages are terminated so
// they are not redelivered; a cancelled dispatch is nak'd for redelivery.
// The caller drains the returned subscription.
func (b *Bus) Subscribe(ctx context.Context, durable string) (*nats.Subscription, error) {
	b.mu.RLock()
	js := b.js
	b.mu.RUnlock()
	if js == nil {
		return nil, fmt.Errorf("eventbus: JetStream not enabled")
	}
	if durable == "" {
		durable = DefaultDurable
	}

	sub, err := js.Subscribe(SubjectLifecyclePrefix+">", func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Printf("eventbus: dropping malformed message on %s: %v", msg.Subject, err)
			_ = msg.Term()
			return
		}
		if err := event.Validate(); err != nil {
			log.Printf("eventbus: dropping invalid event on %s: %v", msg.Subject, err)
			_ = msg.Term()
			return
		}
		if _, err := b.Dispatch(ctx, &event); err != nil {
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	}, nats.Durable(durable), nats.ManualAck(), nats.DeliverAll(), nats.BindStream(StreamLifecycleEvents))
	if err != nil {
		return nil, fmt.Errorf("eventbus: subscribe %s: %w", durable, err)
	}
	return sub, nil
}

// Handlers returns all registered handlers (for introspection/status reporting).
func (b *Bus) Handlers() []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Handler, len(b.handlers))
	copy(out, b.handlers)
	return out
}

// matchingHandlers returns handlers that handle the given event type, sorted
// by priority (lowest first). Must be called with at least a read lock held.
func (b *Bus) matchingHandlers(eventType EventType) []Handler {
	var matched []Handler
	for _, h := range b.handlers {
		for _, t := range h.Handles() {
			if t == eventType {
				matched = append(matched, h)
				break
			}
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority() < matched[j].Priority()
	})
	return matched
}
