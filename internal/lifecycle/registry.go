package lifecycle

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/telemetry"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/types"
)

// Result is the union of actions offered for one node in one pass, in
// contributor registration order then each contributor's own order.
type Result struct {
	Buttons []types.Action `json:"buttons,omitempty"`
	Menus   []types.Action `json:"menus,omitempty"`
}

// Actions returns buttons followed by menus.
func (r Result) Actions() []types.Action {
	out := make([]types.Action, 0, len(r.Buttons)+len(r.Menus))
	out = append(out, r.Buttons...)
	return append(out, r.Menus...)
}

// Registry holds contributors in registration order.
type Registry struct {
	mu           sync.RWMutex
	contributors []Contributor
	cfg          Config
	instruments  *telemetry.Instruments
}

// NewRegistry creates a registry whose contributors are configured with cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg.withDefaults()}
}

// SetInstruments attaches telemetry; nil disables it.
func (r *Registry) SetInstruments(in *telemetry.Instruments) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instruments = in
}

// Register configures and appends contributors.
func (r *Registry) Register(cs ...Contributor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range cs {
		c.Configure(r.cfg)
		r.contributors = append(r.contributors, c)
	}
}

// Contributors returns the registered contributors (for introspection).
func (r *Registry) Contributors() []Contributor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Contributor, len(r.contributors))
	copy(out, r.contributors)
	return out
}

// Config returns the configuration contributors were given.
func (r *Registry) Config() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// selected returns the contributors that take part in rendering n for the
// pass in rc.
func (r *Registry) selected(n types.Node, rc *RenderContext) []Contributor {
	var out []Contributor
	for _, c := range ForProvider(rc.repoFor(n), r.cfg.ProviderType, r.contributors) {
		if c.Kind() != n.Kind || c.Pass() != rc.RendererID || !rc.enabled(c.ID()) {
			continue
		}
		if !c.Supports(n) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Render computes the actions for n in the pass named by rc. Contributors
// run concurrently; a contributor that fails contributes nothing and does
// not affect the others.
func (r *Registry) Render(ctx context.Context, n types.Node, rc *RenderContext) (Result, error) {
	if err := n.Validate(); err != nil {
		return Result{}, fmt.Errorf("lifecycle: %w", err)
	}
	if rc == nil {
		return Result{}, fmt.Errorf("lifecycle: nil render context")
	}

	r.mu.RLock()
	selected := r.selected(n, rc)
	in := r.instruments
	r.mu.RUnlock()

	if len(selected) == 0 {
		return Result{}, nil
	}

	var pass *telemetry.Pass
	if in != nil {
		ctx, pass = in.StartPass(ctx, string(n.Kind), string(rc.RendererID))
	}

	buttons := make([][]types.Action, len(selected))
	menus := make([][]types.Action, len(selected))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range selected {
		g.Go(func() error {
			b, err := c.ButtonsFor(gctx, n, rc)
			if err != nil {
				log.Printf("lifecycle: contributor %q buttons for %s: %v", c.ID(), n.Kind, err)
			} else {
				buttons[i] = b
			}
			m, err := c.MenusFor(gctx, n, rc)
			if err != nil {
				log.Printf("lifecycle: contributor %q menus for %s: %v", c.ID(), n.Kind, err)
				return nil
			}
			menus[i] = m
			return nil
		})
	}
	err := g.Wait()

	var res Result
	for i, c := range selected {
		res.Buttons = append(res.Buttons, buttons[i]...)
		res.Menus = append(res.Menus, menus[i]...)
		if pass != nil {
			pass.Contributed(ctx, c.ID(), len(buttons[i])+len(menus[i]))
		}
	}
	if pass != nil {
		pass.End(ctx, err)
	}
	return res, err
}

// RenderAll runs every pass for the node kind and concatenates the results.
func (r *Registry) RenderAll(ctx context.Context, n types.Node, rc *RenderContext) (Result, error) {
	if rc == nil {
		return Result{}, fmt.Errorf("lifecycle: nil render context")
	}
	var all Result
	for _, p := range PassesFor(n.Kind) {
		res, err := r.Render(ctx, n, rc.ForPass(p))
		if err != nil {
			return all, err
		}
		all.Buttons = append(all.Buttons, res.Buttons...)
		all.Menus = append(all.Menus, res.Menus...)
	}
	return all, nil
}
