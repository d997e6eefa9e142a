package lifecycle

import (
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/types"
)

// Context keys understood by Extract.
const (
	KeyRepo     = "repo"
	KeyPush     = "push"
	KeyGoalSets = "goalSets"
	KeyDeleted  = "deleted"
)

// RendererExpand is the renderer id that forces expanded goal rendering for
// a channel.
const RendererExpand = "expand"

// RenderContext is built fresh for each render and never retained by
// contributors.
type RenderContext struct {
	// RendererID is the active render pass.
	RendererID Pass
	// Renderers lists the renderer ids active for the target channel.
	Renderers []string
	// Disabled holds contributor ids switched off for the target channel.
	Disabled map[string]bool

	values map[string]interface{}
}

// NewRenderContext creates a context for one pass.
func NewRenderContext(pass Pass) *RenderContext {
	return &RenderContext{RendererID: pass, values: make(map[string]interface{})}
}

// ForPass returns a shallow copy of rc for another pass, sharing the same
// ancestor values.
func (rc *RenderContext) ForPass(pass Pass) *RenderContext {
	cp := *rc
	cp.RendererID = pass
	return &cp
}

// With records an ancestor value and returns rc.
func (rc *RenderContext) With(key string, value interface{}) *RenderContext {
	if rc.values == nil {
		rc.values = make(map[string]interface{})
	}
	rc.values[key] = value
	return rc
}

// WithRepo records the repo ancestor.
func (rc *RenderContext) WithRepo(r *types.Repo) *RenderContext { return rc.With(KeyRepo, r) }

// WithPush records the push ancestor.
func (rc *RenderContext) WithPush(p *types.Push) *RenderContext { return rc.With(KeyPush, p) }

// WithGoalSets records every goal set of the push, oldest first.
func (rc *RenderContext) WithGoalSets(gs []types.GoalSet) *RenderContext {
	return rc.With(KeyGoalSets, gs)
}

// WithDeleted records whether the branch was deleted.
func (rc *RenderContext) WithDeleted(deleted bool) *RenderContext {
	return rc.With(KeyDeleted, deleted)
}

// Extract looks up an ancestor value.
func (rc *RenderContext) Extract(key string) (interface{}, bool) {
	if rc == nil || rc.values == nil {
		return nil, false
	}
	v, ok := rc.values[key]
	return v, ok
}

// Repo returns the repo ancestor, or nil.
func (rc *RenderContext) Repo() *types.Repo {
	v, _ := rc.Extract(KeyRepo)
	r, _ := v.(*types.Repo)
	return r
}

// Push returns the push ancestor, or nil.
func (rc *RenderContext) Push() *types.Push {
	v, _ := rc.Extract(KeyPush)
	p, _ := v.(*types.Push)
	return p
}

// GoalSets returns every goal set of the push.
func (rc *RenderContext) GoalSets() []types.GoalSet {
	v, _ := rc.Extract(KeyGoalSets)
	gs, _ := v.([]types.GoalSet)
	return gs
}

// Deleted reports whether the branch ancestor was deleted.
func (rc *RenderContext) Deleted() bool {
	v, _ := rc.Extract(KeyDeleted)
	d, _ := v.(bool)
	return d
}

// ChannelExpanded reports whether the channel renders goals expanded.
func (rc *RenderContext) ChannelExpanded() bool {
	if rc == nil {
		return false
	}
	for _, r := range rc.Renderers {
		if r == RendererExpand {
			return true
		}
	}
	return false
}

// enabled reports whether the contributor id is not disabled for the
// channel.
func (rc *RenderContext) enabled(id string) bool {
	return rc == nil || !rc.Disabled[id]
}

// repoFor returns the repo ancestor, falling back to the repo on the node.
func (rc *RenderContext) repoFor(n types.Node) *types.Repo {
	if r := rc.Repo(); r != nil {
		return r
	}
	switch n.Kind {
	case types.KindBranch:
		if n.Branch != nil {
			return n.Branch.Repo
		}
	case types.KindPullRequest:
		if n.PullRequest != nil {
			return n.PullRequest.Repo
		}
	case types.KindPush:
		if n.Push != nil {
			return n.Push.Repo
		}
	case types.KindGoalSet:
		if p := rc.Push(); p != nil {
			return p.Repo
		}
	}
	return nil
}

// pushFor returns the push ancestor, falling back to the node itself.
func (rc *RenderContext) pushFor(n types.Node) *types.Push {
	if p := rc.Push(); p != nil {
		return p
	}
	if n.Kind == types.KindPush {
		return n.Push
	}
	return nil
}
