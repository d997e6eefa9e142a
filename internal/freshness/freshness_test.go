package freshness

import (
	"context"
	"errors"
	"testing"

	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/types"
)

type fakeGraph struct {
	branch *types.Branch
	err    error
	calls  int
}

func (f *fakeGraph) Branch(ctx context.Context, owner, repo, branch string) (*types.Branch, error) {
	f.calls++
	return f.branch, f.err
}

func (f *fakeGraph) LatestTag(ctx context.Context, owner, repo string) (string, error) {
	return "", nil
}

func TestBranchBlocksRaise(t *testing.T) {
	tests := []struct {
		name   string
		branch *types.Branch
		sha    string
		want   bool
	}{
		{"unknown branch", nil, "abc", false},
		{"no pull requests", &types.Branch{Name: "f"}, "abc", false},
		{"open pull request", &types.Branch{PullRequests: []types.PullRequest{{State: types.PullRequestOpen}}}, "abc", true},
		{"closed pr containing sha", &types.Branch{PullRequests: []types.PullRequest{
			{State: types.PullRequestClosed, Commits: []types.Commit{{SHA: "abc"}}},
		}}, "abc", true},
		{"merged pr with other commits", &types.Branch{PullRequests: []types.PullRequest{
			{State: types.PullRequestMerged, Commits: []types.Commit{{SHA: "old"}}},
		}}, "abc", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BranchBlocksRaise(tt.branch, tt.sha); got != tt.want {
				t.Errorf("BranchBlocksRaise() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCanRaisePullRequest(t *testing.T) {
	repo := &types.Repo{Owner: "PRJ", Name: "svc"}

	g := &fakeGraph{branch: &types.Branch{Name: "feature"}}
	if !NewChecker(g).CanRaisePullRequest(context.Background(), repo, "feature", "abc") {
		t.Error("CanRaisePullRequest = false for branch without pull requests")
	}
	if g.calls != 1 {
		t.Errorf("graph calls = %d, want 1", g.calls)
	}

	g = &fakeGraph{branch: &types.Branch{PullRequests: []types.PullRequest{{State: types.PullRequestOpen}}}}
	if NewChecker(g).CanRaisePullRequest(context.Background(), repo, "feature", "abc") {
		t.Error("CanRaisePullRequest = true with open pull request")
	}
}

func TestCanRaisePullRequestFailsClosed(t *testing.T) {
	g := &fakeGraph{err: errors.New("graph unavailable")}
	var reported error
	c := NewChecker(g)
	c.OnError = func(err error) { reported = err }

	if c.CanRaisePullRequest(context.Background(), &types.Repo{Owner: "PRJ", Name: "svc"}, "feature", "abc") {
		t.Error("CanRaisePullRequest = true on read failure")
	}
	if reported == nil {
		t.Error("OnError not called")
	}

	var nilChecker *Checker
	if nilChecker.CanRaisePullRequest(context.Background(), &types.Repo{}, "b", "s") {
		t.Error("nil checker allowed raise")
	}
}
