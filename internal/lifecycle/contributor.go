// Package lifecycle decides which chat actions are legal for a lifecycle
// node. Contributors are selected by node kind and render pass, run
// concurrently, and return bound actions. Nothing here executes a command.
package lifecycle

import (
	"context"

	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/merge"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/types"
)

// Pass identifies a render pass. Each contributor is scoped to one pass.
type Pass string

// Render passes
const (
	PassBranch            Pass = "branch"
	PassPullRequest       Pass = "pull_request"
	PassStatus            Pass = "status"
	PassCommit            Pass = "commit"
	PassGoals             Pass = "goals"
	PassExpandAttachments Pass = "expand_attachments"
)

// PassesFor lists the render passes run for a node kind, in render order.
func PassesFor(kind types.NodeKind) []Pass {
	switch kind {
	case types.KindBranch:
		return []Pass{PassBranch}
	case types.KindPullRequest:
		return []Pass{PassPullRequest, PassStatus}
	case types.KindPush:
		return []Pass{PassCommit, PassExpandAttachments}
	case types.KindGoalSet:
		return []Pass{PassGoals}
	}
	return nil
}

// Contributor IDs, usable in channel preferences to disable an action.
const (
	IDRaisePullRequest  = "raise_pullrequest"
	IDMerge             = "merge"
	IDDeleteBranch      = "delete"
	IDCancelGoalSet     = "cancel_goal_set"
	IDApproveGoal       = "approve_goal"
	IDDisplayGoals      = "display_goals"
	IDExpandAttachments = "expand_attachments"
	IDTag               = "tag"
)

// Contributor offers actions for one node kind in one render pass.
//
// Supports must be pure and total over every node. ButtonsFor and MenusFor
// are only called for supported nodes; they may read remote state but never
// change it.
type Contributor interface {
	ID() string
	Kind() types.NodeKind
	Pass() Pass
	Configure(cfg Config)
	Supports(n types.Node) bool
	ButtonsFor(ctx context.Context, n types.Node, rc *RenderContext) ([]types.Action, error)
	MenusFor(ctx context.Context, n types.Node, rc *RenderContext) ([]types.Action, error)
}

// Config carries the settings contributors read.
type Config struct {
	// RenderingStyle is the configured goal display format.
	RenderingStyle types.DisplayFormat
	// GeneratedMarkers identify machine generated commit messages.
	GeneratedMarkers []string
	// DefaultBranch is assumed when a repo does not report one.
	DefaultBranch string
	// ProviderType is the repo provider the contributors apply to.
	ProviderType string
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		RenderingStyle:   types.FormatFull,
		GeneratedMarkers: merge.DefaultGeneratedMarkers,
		DefaultBranch:    types.DefaultBranchFallback,
		ProviderType:     types.ProviderBitbucket,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RenderingStyle == "" {
		c.RenderingStyle = d.RenderingStyle
	}
	if c.GeneratedMarkers == nil {
		c.GeneratedMarkers = d.GeneratedMarkers
	}
	if c.DefaultBranch == "" {
		c.DefaultBranch = d.DefaultBranch
	}
	if c.ProviderType == "" {
		c.ProviderType = d.ProviderType
	}
	return c
}

// base holds the identity shared by every contributor.
type base struct {
	id   string
	kind types.NodeKind
	pass Pass
	cfg  Config
}

func (b *base) ID() string           { return b.id }
func (b *base) Kind() types.NodeKind { return b.kind }
func (b *base) Pass() Pass           { return b.pass }
func (b *base) Configure(cfg Config) { b.cfg = cfg.withDefaults() }

// config returns the configuration, with defaults when Configure was never
// called.
func (b *base) config() Config { return b.cfg.withDefaults() }

// MenusFor is the default for contributors that only offer buttons.
func (b *base) MenusFor(ctx context.Context, n types.Node, rc *RenderContext) ([]types.Action, error) {
	return nil, nil
}

// ButtonsFor is the default for contributors that only offer menus.
func (b *base) ButtonsFor(ctx context.Context, n types.Node, rc *RenderContext) ([]types.Action, error) {
	return nil, nil
}
