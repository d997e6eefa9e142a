package eventbus

import (
	"fmt"

	"github.com/nats-io/nats.go"
)

const (
	// StreamLifecycleEvents is the JetStream stream for inbound lifecycle events.
	StreamLifecycleEvents = "LIFECYCLE_EVENTS"

	// SubjectLifecyclePrefix is the subject prefix for all lifecycle events.
	SubjectLifecyclePrefix = "lifecycle."

	// DefaultDurable is the consumer name used by the lifecycle service.
	DefaultDurable = "bblifecycle"
)

// SubjectForEvent returns the NATS subject for a given event type.
// Format: lifecycle.<kind> (e.g., lifecycle.push, lifecycle.pull_request).
func SubjectForEvent(eventType EventType) string {
	return SubjectLifecyclePrefix + string(eventType)
}

// EnsureStreams creates the required JetStream streams if they don't already
// exist.
func EnsureStreams(js nats.JetStreamContext) error {
	_, err := js.StreamInfo(StreamLifecycleEvents)
	if err == nil {
		return nil // Stream already exists.
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     StreamLifecycleEvents,
		Subjects: []string{SubjectLifecyclePrefix + ">"},
		Storage:  nats.FileStorage,
		// Retain last 10000 messages or 100MB, whichever comes first.
		MaxMsgs:  10000,
		MaxBytes: 100 << 20,
	})
	if err != nil {
		return fmt.Errorf("create %s stream: %w", StreamLifecycleEvents, err)
	}

	return nil
}
