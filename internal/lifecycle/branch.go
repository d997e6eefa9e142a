package lifecycle

import (
	"context"

	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/freshness"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/types"
)

// BranchRaisePR offers "Raise PR" on a branch with a head commit and no
// linked pull requests, after re-checking the branch against the graph.
type BranchRaisePR struct {
	base
	checker *freshness.Checker
}

// NewBranchRaisePR creates the branch Raise PR contributor.
func NewBranchRaisePR(checker *freshness.Checker) *BranchRaisePR {
	return &BranchRaisePR{
		base:    base{id: IDRaisePullRequest, kind: types.KindBranch, pass: PassBranch},
		checker: checker,
	}
}

func (c *BranchRaisePR) Supports(n types.Node) bool {
	if n.Kind != types.KindBranch || n.Branch == nil {
		return false
	}
	return n.Branch.Commit != nil && len(n.Branch.PullRequests) == 0
}

func (c *BranchRaisePR) ButtonsFor(ctx context.Context, n types.Node, rc *RenderContext) ([]types.Action, error) {
	if rc.RendererID != PassBranch {
		return nil, nil
	}
	b := n.Branch
	if b.Deleted || rc.Deleted() {
		return nil, nil
	}
	repo := rc.repoFor(n)
	if repo == nil {
		return nil, nil
	}
	if !c.checker.CanRaisePullRequest(ctx, repo, b.Name, b.Commit.SHA) {
		return nil, nil
	}

	cmd := types.RaisePullRequest{
		Title: b.Commit.Message,
		Base:  repo.DefaultBranchOr(c.config().DefaultBranch),
		Head:  b.Name,
		Repo:  repo.Name,
		Owner: repo.Owner,
	}
	return []types.Action{
		types.ButtonForCommand("Raise PR", cmd, types.WithRole(types.RoleGlobal)),
	}, nil
}
