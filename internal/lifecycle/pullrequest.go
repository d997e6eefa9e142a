package lifecycle

import (
	"context"

	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/merge"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/types"
)

// PullRequestMerge offers one merge button per eligible method on an open,
// fully approved pull request whose latest statuses all succeeded.
type PullRequestMerge struct {
	base
}

// NewPullRequestMerge creates the Merge contributor.
func NewPullRequestMerge() *PullRequestMerge {
	return &PullRequestMerge{base: base{id: IDMerge, kind: types.KindPullRequest, pass: PassStatus}}
}

func (c *PullRequestMerge) Supports(n types.Node) bool {
	return n.Kind == types.KindPullRequest && merge.Mergeable(n.PullRequest)
}

func (c *PullRequestMerge) ButtonsFor(ctx context.Context, n types.Node, rc *RenderContext) ([]types.Action, error) {
	if rc.RendererID != PassStatus {
		return nil, nil
	}
	pr := n.PullRequest
	if pr.Head == nil || !merge.StatusesPass(pr.Commits) {
		return nil, nil
	}
	repo := rc.Repo()
	if repo == nil {
		repo = pr.Repo
	}
	if repo == nil {
		return nil, nil
	}

	var actions []types.Action
	for _, m := range merge.Methods(pr, c.config().GeneratedMarkers) {
		cmd := types.MergePullRequest{
			PR:      pr.Number,
			Title:   m.Title,
			Message: m.Message,
			SHA:     pr.Head.SHA,
			Repo:    repo.Name,
			Project: repo.Owner,
			Method:  m.Name,
		}
		actions = append(actions, types.ButtonForCommand(m.Label, cmd, types.WithRole(types.RoleGlobal)))
	}
	return actions, nil
}

// PullRequestDeleteBranch offers "Delete Branch" once a pull request is
// closed, unless its branch is the default branch.
type PullRequestDeleteBranch struct {
	base
}

// NewPullRequestDeleteBranch creates the Delete Branch contributor.
func NewPullRequestDeleteBranch() *PullRequestDeleteBranch {
	return &PullRequestDeleteBranch{base: base{id: IDDeleteBranch, kind: types.KindPullRequest, pass: PassPullRequest}}
}

func (c *PullRequestDeleteBranch) Supports(n types.Node) bool {
	if n.Kind != types.KindPullRequest || n.PullRequest == nil {
		return false
	}
	pr := n.PullRequest
	return pr.State == types.PullRequestClosed && pr.Branch != nil
}

func (c *PullRequestDeleteBranch) ButtonsFor(ctx context.Context, n types.Node, rc *RenderContext) ([]types.Action, error) {
	if rc.RendererID != PassPullRequest {
		return nil, nil
	}
	pr := n.PullRequest
	repo := rc.repoFor(n)
	if repo == nil || pr.Branch.Name == repo.DefaultBranchOr(c.config().DefaultBranch) {
		return nil, nil
	}
	cmd := types.DeleteBranch{Branch: pr.Branch.Name, Repo: repo.Name, Owner: repo.Owner}
	return []types.Action{
		types.ButtonForCommand("Delete Branch", cmd, types.WithRole(types.RoleGlobal)),
	}, nil
}
