package lifecycle

import (
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/freshness"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/graph"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/types"
)

// ForProvider returns cs when repo is hosted by providerType and nil
// otherwise, so a whole contributor set applies to one provider only.
func ForProvider(repo *types.Repo, providerType string, cs []Contributor) []Contributor {
	if repo == nil || repo.ProviderType != providerType {
		return nil
	}
	return cs
}

// BitbucketContributors returns the Bitbucket contributor set in render
// order.
func BitbucketContributors(q graph.Querier) []Contributor {
	checker := freshness.NewChecker(q)
	return []Contributor{
		NewBranchRaisePR(checker),
		NewPullRequestMerge(),
		NewPullRequestDeleteBranch(),
		NewPushRaisePR(checker),
		NewPushTag(q),
		NewApproveGoal(),
		NewCancelGoalSet(),
		NewDisplayGoals(),
		NewExpandAttachments(),
	}
}

// NewBitbucketRegistry creates a registry holding the Bitbucket contributor
// set.
func NewBitbucketRegistry(cfg Config, q graph.Querier) *Registry {
	r := NewRegistry(cfg)
	r.Register(BitbucketContributors(q)...)
	return r
}
