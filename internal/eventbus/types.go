package eventbus

import (
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/lifecycle"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/types"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/webhook"
)

// EventType identifies an event flowing through the bus. Lifecycle events
// are typed by the kind of node they carry.
type EventType string

const (
	EventBranch      EventType = EventType(types.KindBranch)
	EventPullRequest EventType = EventType(types.KindPullRequest)
	EventPush        EventType = EventType(types.KindPush)
	EventGoalSet     EventType = EventType(types.KindGoalSet)
)

// AllEventTypes lists every lifecycle event type.
var AllEventTypes = []EventType{EventBranch, EventPullRequest, EventPush, EventGoalSet}

// Event is a lifecycle event flowing through the bus.
type Event = lifecycle.Event

// TypeOf returns the bus type of e.
func TypeOf(e *Event) EventType {
	return EventType(e.Node.Kind)
}

// Result aggregates handler responses for an event.
type Result struct {
	Actions []webhook.SignedAction `json:"actions,omitempty"`
	Posted  bool                   `json:"posted,omitempty"`

	// Warnings collects non-fatal handler failures.
	Warnings []string `json:"warnings,omitempty"`
}
