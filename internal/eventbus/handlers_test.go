package eventbus

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/lifecycle"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/types"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/webhook"
)

type nopGraph struct{}

func (nopGraph) Branch(ctx context.Context, owner, repo, branch string) (*types.Branch, error) {
	return nil, nil
}

func (nopGraph) LatestTag(ctx context.Context, owner, repo string) (string, error) {
	return "", nil
}

type fakePoster struct {
	calls   int
	actions []webhook.SignedAction
	err     error
	posted  map[string]bool
}

func (f *fakePoster) Post(ctx context.Context, e lifecycle.Event, actions []webhook.SignedAction) error {
	f.calls++
	f.actions = actions
	if f.err != nil {
		return f.err
	}
	if f.posted == nil {
		f.posted = make(map[string]bool)
	}
	f.posted[nodeKey(e)] = true
	return nil
}

func (f *fakePoster) HasMessage(e lifecycle.Event) bool {
	return f.posted[nodeKey(e)]
}

func nodeKey(e lifecycle.Event) string {
	if e.Node.PullRequest != nil {
		return fmt.Sprintf("pr:%d", e.Node.PullRequest.Number)
	}
	return string(e.Node.Kind)
}

func pullRequestEvent(state string) *Event {
	return &Event{
		Node: types.PullRequestNode(&types.PullRequest{
			Number:  7,
			Title:   "Add login",
			State:   state,
			Branch:  &types.BranchRef{Name: "feature/login"},
			Head:    &types.Commit{SHA: "abc1234def"},
			Commits: []types.Commit{{SHA: "abc1234def", Message: "Add login"}},
			Reviews: []types.Review{{State: types.ReviewApproved}},
			Repo: &types.Repo{
				Owner: "PRJ", Name: "svc", DefaultBranch: "master", ProviderType: types.ProviderBitbucket,
			},
		}),
		Channel: "svc-builds",
	}
}

func lifecycleBus(poster webhook.Poster) (*Bus, *webhook.Signer) {
	signer := webhook.NewSigner([]byte("test-secret"), 0)
	bus := New()
	bus.Register(&PostHandler{Poster: poster})
	bus.Register(&RenderHandler{
		Renderer: lifecycle.NewBitbucketRegistry(lifecycle.DefaultConfig(), nopGraph{}),
		Signer:   signer,
	})
	return bus, signer
}

func TestRenderThenPost(t *testing.T) {
	poster := &fakePoster{}
	bus, signer := lifecycleBus(poster)

	result, err := bus.Dispatch(context.Background(), pushEvent())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(result.Actions) != 1 || result.Actions[0].Text != "Raise PR" {
		t.Fatalf("actions = %+v, want one Raise PR", result.Actions)
	}
	if !result.Posted || poster.calls != 1 {
		t.Errorf("posted = %v, calls = %d; want posted once", result.Posted, poster.calls)
	}
	claims, err := signer.Verify(result.Actions[0].Token)
	if err != nil {
		t.Fatalf("token does not verify: %v", err)
	}
	if claims.Command != types.CmdRaisePullRequest {
		t.Errorf("claims.Command = %q, want %q", claims.Command, types.CmdRaisePullRequest)
	}
}

func TestRerenderWithoutActionsUpdatesMessage(t *testing.T) {
	poster := &fakePoster{}
	bus, _ := lifecycleBus(poster)
	ctx := context.Background()

	result, err := bus.Dispatch(ctx, pullRequestEvent(types.PullRequestOpen))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(result.Actions) != 1 || result.Actions[0].Text != "Merge" {
		t.Fatalf("actions = %+v, want one Merge", result.Actions)
	}

	result, err = bus.Dispatch(ctx, pullRequestEvent(types.PullRequestMerged))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(result.Actions) != 0 {
		t.Fatalf("actions = %+v, want none for a merged pull request", result.Actions)
	}
	if poster.calls != 2 || !result.Posted {
		t.Errorf("calls = %d, posted = %v; want the stale message updated", poster.calls, result.Posted)
	}
	if len(poster.actions) != 0 {
		t.Errorf("update carried %d actions, want none", len(poster.actions))
	}
}

func TestPostSkippedForNewNodeWithoutActions(t *testing.T) {
	poster := &fakePoster{}
	bus := New()
	bus.Register(&PostHandler{Poster: poster})

	result, err := bus.Dispatch(context.Background(), pushEvent())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if poster.calls != 0 || result.Posted {
		t.Errorf("poster called %d times with nothing to post", poster.calls)
	}
}

func TestPostFailureIsWarning(t *testing.T) {
	poster := &fakePoster{err: errors.New("channel_not_found")}
	bus, _ := lifecycleBus(poster)

	result, err := bus.Dispatch(context.Background(), pushEvent())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if result.Posted {
		t.Error("Posted = true after post failure")
	}
	if len(result.Warnings) != 1 {
		t.Errorf("Warnings = %v, want one", result.Warnings)
	}
}
