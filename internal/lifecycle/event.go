package lifecycle

import (
	"context"
	"fmt"

	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/types"
)

// Event is an inbound lifecycle change: the node to render plus the
// ancestors and channel it is rendered for.
type Event struct {
	Node      types.Node      `json:"node"`
	Repo      *types.Repo     `json:"repo,omitempty"`
	Push      *types.Push     `json:"push,omitempty"`
	GoalSets  []types.GoalSet `json:"goalSets,omitempty"`
	Deleted   bool            `json:"deleted,omitempty"`
	Channel   string          `json:"channel,omitempty"`
	Renderers []string        `json:"renderers,omitempty"`
}

// Validate checks the node carried by the event.
func (e Event) Validate() error {
	if err := e.Node.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	return nil
}

// Context builds the render context for the first pass of the event's node
// kind. disabled lists contributor ids switched off for the channel.
func (e Event) Context(disabled map[string]bool) *RenderContext {
	var pass Pass
	if passes := PassesFor(e.Node.Kind); len(passes) > 0 {
		pass = passes[0]
	}
	rc := NewRenderContext(pass)
	rc.Renderers = append([]string(nil), e.Renderers...)
	rc.Disabled = disabled
	if e.Repo != nil {
		rc.WithRepo(e.Repo)
	}
	if e.Push != nil {
		rc.WithPush(e.Push)
	}
	if len(e.GoalSets) > 0 {
		rc.WithGoalSets(e.GoalSets)
	}
	if e.Deleted {
		rc.WithDeleted(true)
	}
	return rc
}

// Preferences reports the contributor ids disabled for a channel.
type Preferences interface {
	Disabled(channel string) map[string]bool
}

// RenderEvent runs every pass for the event's node with the channel's
// preferences applied. prefs may be nil.
func (r *Registry) RenderEvent(ctx context.Context, e Event, prefs Preferences) (Result, error) {
	if err := e.Validate(); err != nil {
		return Result{}, err
	}
	var disabled map[string]bool
	if prefs != nil {
		disabled = prefs.Disabled(e.Channel)
	}
	return r.RenderAll(ctx, e.Node, e.Context(disabled))
}
