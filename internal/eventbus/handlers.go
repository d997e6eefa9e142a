package eventbus

import (
	"context"
	"fmt"

	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/lifecycle"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/webhook"
)

// RenderHandler renders the event's node and signs the resulting actions.
type RenderHandler struct {
	Renderer    webhook.Renderer
	Preferences lifecycle.Preferences
	Signer      *webhook.Signer
}

func (h *RenderHandler) ID() string           { return "render" }
func (h *RenderHandler) Handles() []EventType { return AllEventTypes }
func (h *RenderHandler) Priority() int        { return 10 }

func (h *RenderHandler) Handle(ctx context.Context, event *Event, result *Result) error {
	res, err := h.Renderer.RenderEvent(ctx, *event, h.Preferences)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	signed, err := h.Signer.SignAll(res.Actions())
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	result.Actions = append(result.Actions, signed...)
	return nil
}

// PostHandler delivers signed actions to the event's channel. An empty
// result is delivered only when the poster already has a message for the
// node.
type PostHandler struct {
	Poster webhook.Poster
}

func (h *PostHandler) ID() string           { return "post" }
func (h *PostHandler) Handles() []EventType { return AllEventTypes }
func (h *PostHandler) Priority() int        { return 20 }

func (h *PostHandler) Handle(ctx context.Context, event *Event, result *Result) error {
	if !webhook.ShouldPost(h.Poster, *event, result.Actions) {
		return nil
	}
	if err := h.Poster.Post(ctx, *event, result.Actions); err != nil {
		return err
	}
	result.Posted = true
	return nil
}
