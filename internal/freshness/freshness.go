// Package freshness re-validates "Raise PR" eligibility against the live
// graph at render time. Event payloads may be stale; the graph is asked
// again, uncached, and any failure suppresses the action.
package freshness

import (
	"context"
	"log"

	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/graph"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/types"
)

// Checker queries the graph for the current branch state.
type Checker struct {
	graph graph.Querier
	// OnError is called when the graph read fails. Nil means log only.
	OnError func(err error)
}

// NewChecker creates a checker reading from q.
func NewChecker(q graph.Querier) *Checker {
	return &Checker{graph: q}
}

// BranchBlocksRaise reports whether the branch already has an open pull
// request, or any pull request containing headSHA.
func BranchBlocksRaise(b *types.Branch, headSHA string) bool {
	if b == nil {
		return false
	}
	for i := range b.PullRequests {
		if b.PullRequests[i].State == types.PullRequestOpen {
			return true
		}
	}
	if headSHA == "" {
		return false
	}
	for i := range b.PullRequests {
		if b.PullRequests[i].ContainsCommit(headSHA) {
			return true
		}
	}
	return false
}

// CanRaisePullRequest re-reads the branch and reports whether a pull request
// may still be raised for headSHA. Read failures return false.
func (c *Checker) CanRaisePullRequest(ctx context.Context, repo *types.Repo, branch, headSHA string) bool {
	if c == nil || c.graph == nil || repo == nil {
		return false
	}
	b, err := c.graph.Branch(ctx, repo.Owner, repo.Name, branch)
	if err != nil {
		log.Printf("freshness: branch query for %s:%s failed: %v", repo.Slug(), branch, err)
		if c.OnError != nil {
			c.OnError(err)
		}
		return false
	}
	return !BranchBlocksRaise(b, headSHA)
}
