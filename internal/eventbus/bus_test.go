package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/types"
)

// testHandler is a configurable handler for testing.
type testHandler struct {
	id       string
	handles  []EventType
	priority int
	fn       func(ctx context.Context, event *Event, result *Result) error
}

func (h *testHandler) ID() string           { return h.id }
func (h *testHandler) Handles() []EventType { return h.handles }
func (h *testHandler) Priority() int        { return h.priority }

func (h *testHandler) Handle(ctx context.Context, event *Event, result *Result) error {
	if h.fn != nil {
		return h.fn(ctx, event, result)
	}
	return nil
}

func pushEvent() *Event {
	return &Event{
		Node: types.PushNode(&types.Push{
			Branch: "feature/x",
			Repo: &types.Repo{
				Owner: "PRJ", Name: "svc", DefaultBranch: "master", ProviderType: types.ProviderBitbucket,
			},
			After: &types.Commit{SHA: "abc1234", Message: "Add x"},
		}),
		Channel: "svc-builds",
	}
}

func TestNew(t *testing.T) {
	bus := New()
	if bus == nil {
		t.Fatal("New() returned nil")
	}
}

func TestDispatchNoHandlers(t *testing.T) {
	bus := New()
	result, err := bus.Dispatch(context.Background(), pushEvent())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Posted || len(result.Actions) != 0 {
		t.Errorf("result = %+v, want empty", result)
	}
}

func TestDispatchNilEvent(t *testing.T) {
	bus := New()
	if _, err := bus.Dispatch(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil event")
	}
}

func TestDispatchMatchingHandlers(t *testing.T) {
	bus := New()
	var called []string

	bus.Register(&testHandler{
		id:       "push-handler",
		handles:  []EventType{EventPush, EventBranch},
		priority: 10,
		fn: func(ctx context.Context, event *Event, result *Result) error {
			called = append(called, "push-handler")
			return nil
		},
	})
	bus.Register(&testHandler{
		id:       "goal-handler",
		handles:  []EventType{EventGoalSet},
		priority: 10,
		fn: func(ctx context.Context, event *Event, result *Result) error {
			called = append(called, "goal-handler")
			return nil
		},
	})

	if _, err := bus.Dispatch(context.Background(), pushEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(called) != 1 || called[0] != "push-handler" {
		t.Errorf("expected [push-handler], got %v", called)
	}
}

func TestDispatchPriorityOrder(t *testing.T) {
	bus := New()
	var order []string

	for _, h := range []struct {
		id       string
		priority int
	}{{"low", 100}, {"high", 1}, {"mid", 50}} {
		id := h.id
		bus.Register(&testHandler{
			id:       id,
			handles:  []EventType{EventPush},
			priority: h.priority,
			fn: func(ctx context.Context, event *Event, result *Result) error {
				order = append(order, id)
				return nil
			},
		})
	}

	if _, err := bus.Dispatch(context.Background(), pushEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"high", "mid", "low"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestDispatchHandlerErrorDoesNotStopChain(t *testing.T) {
	bus := New()
	var secondCalled bool

	bus.Register(&testHandler{
		id:       "failing",
		handles:  []EventType{EventPush},
		priority: 1,
		fn: func(ctx context.Context, event *Event, result *Result) error {
			return errors.New("boom")
		},
	})
	bus.Register(&testHandler{
		id:       "after",
		handles:  []EventType{EventPush},
		priority: 2,
		fn: func(ctx context.Context, event *Event, result *Result) error {
			secondCalled = true
			return nil
		},
	})

	result, err := bus.Dispatch(context.Background(), pushEvent())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !secondCalled {
		t.Error("second handler was not called after first failed")
	}
	if len(result.Warnings) != 1 || result.Warnings[0] != "failing: boom" {
		t.Errorf("Warnings = %v, want [failing: boom]", result.Warnings)
	}
}

func TestDispatchContextCancellation(t *testing.T) {
	bus := New()
	bus.Register(&testHandler{id: "h", handles: []EventType{EventPush}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := bus.Dispatch(ctx, pushEvent()); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestPublishWithoutJetStreamDispatches(t *testing.T) {
	bus := New()
	var called bool
	bus.Register(&testHandler{
		id:      "h",
		handles: []EventType{EventPush},
		fn: func(ctx context.Context, event *Event, result *Result) error {
			called = true
			result.Posted = true
			return nil
		},
	})

	result, err := bus.Publish(context.Background(), pushEvent())
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !called || result == nil || !result.Posted {
		t.Errorf("Publish did not dispatch locally: called=%v result=%+v", called, result)
	}
}

func TestPublishRejectsInvalidEvent(t *testing.T) {
	bus := New()
	invalid := &Event{Node: types.Node{Kind: types.KindPush}}
	if _, err := bus.Publish(context.Background(), invalid); err == nil {
		t.Error("expected error for event without push")
	}
	if _, err := bus.Publish(context.Background(), nil); err == nil {
		t.Error("expected error for nil event")
	}
}

func TestHandlersReturnsCopy(t *testing.T) {
	bus := New()
	bus.Register(&testHandler{id: "a"})
	hs := bus.Handlers()
	hs[0] = &testHandler{id: "b"}
	if bus.Handlers()[0].ID() != "a" {
		t.Error("Handlers() exposed internal slice")
	}
}

// startTestNATS starts an embedded NATS server with JetStream for testing.
// Returns the server, JetStream context, and a cleanup function.
func startTestNATS(t *testing.T) (*natsserver.Server, nats.JetStreamContext, func()) {
	t.Helper()
	opts := &natsserver.Options{
		Port:               -1, // random available port
		JetStream:          true,
		JetStreamMaxMemory: 256 << 20,
		JetStreamMaxStore:  256 << 20,
		StoreDir:           t.TempDir(),
		NoLog:              true,
		NoSigs:             true,
	}
	ns, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("create test NATS server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("test NATS server failed to start")
	}

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		t.Fatalf("connect to test NATS: %v", err)
	}

	js, err := JetStream(nc)
	if err != nil {
		nc.Close()
		ns.Shutdown()
		t.Fatalf("JetStream: %v", err)
	}

	cleanup := func() {
		nc.Close()
		ns.Shutdown()
	}
	return ns, js, cleanup
}

func TestJetStreamEnabled(t *testing.T) {
	bus := New()
	if bus.JetStreamEnabled() {
		t.Error("expected JetStreamEnabled=false before SetJetStream")
	}

	_, js, cleanup := startTestNATS(t)
	defer cleanup()

	bus.SetJetStream(js)
	if !bus.JetStreamEnabled() {
		t.Error("expected JetStreamEnabled=true after SetJetStream")
	}

	bus.SetJetStream(nil)
	if bus.JetStreamEnabled() {
		t.Error("expected JetStreamEnabled=false after SetJetStream(nil)")
	}
}

func TestPublishAppendsToStream(t *testing.T) {
	_, js, cleanup := startTestNATS(t)
	defer cleanup()

	bus := New()
	bus.SetJetStream(js)

	var called atomic.Bool
	bus.Register(&testHandler{
		id:      "h",
		handles: []EventType{EventPush},
		fn: func(ctx context.Context, event *Event, result *Result) error {
			called.Store(true)
			return nil
		},
	})

	result, err := bus.Publish(context.Background(), pushEvent())
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if result != nil {
		t.Errorf("Publish result = %+v, want nil when routed through JetStream", result)
	}
	if called.Load() {
		t.Error("handler ran synchronously; want dispatch deferred to a subscriber")
	}

	sub, err := js.SubscribeSync(SubjectForEvent(EventPush), nats.DeliverAll())
	if err != nil {
		t.Fatalf("SubscribeSync: %v", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("expected JetStream message, got error: %v", err)
	}
	var got Event
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatalf("unmarshal JetStream message: %v", err)
	}
	if got.Channel != "svc-builds" || got.Node.Push == nil || got.Node.Push.Branch != "feature/x" {
		t.Errorf("round-tripped event = %+v", got)
	}
}

func TestSubscribeDispatchesPublishedEvents(t *testing.T) {
	_, js, cleanup := startTestNATS(t)
	defer cleanup()

	bus := New()
	bus.SetJetStream(js)

	var mu sync.Mutex
	var channels []string
	bus.Register(&testHandler{
		id:      "h",
		handles: AllEventTypes,
		fn: func(ctx context.Context, event *Event, result *Result) error {
			mu.Lock()
			defer mu.Unlock()
			channels = append(channels, event.Channel)
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := bus.Subscribe(ctx, "")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	// Malformed payloads are terminated and never reach handlers.
	if _, err := js.Publish(SubjectForEvent(EventPush), []byte("{not json")); err != nil {
		t.Fatalf("publish malformed: %v", err)
	}
	if _, err := bus.Publish(ctx, pushEvent()); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		n := len(channels)
		mu.Unlock()
		if n >= 1 || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(channels) != 1 || channels[0] != "svc-builds" {
		t.Errorf("dispatched channels = %v, want [svc-builds]", channels)
	}
}

func TestSubscribeRequiresJetStream(t *testing.T) {
	if _, err := New().Subscribe(context.Background(), ""); err == nil {
		t.Error("expected error without JetStream")
	}
}
