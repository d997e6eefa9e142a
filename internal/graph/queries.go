package graph

import (
	"context"

	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/types"
)

const branchQuery = `query Branch($owner: String!, $repo: String!, $branch: String!) {
  Repo(owner: $owner, name: $repo) {
    branches(name: $branch) {
      name
      commit { sha message timestamp }
      pullRequests {
        number
        state
        commits { sha }
      }
    }
  }
}`

const repositoryTagsQuery = `query RepositoryTags($name: String!, $owner: String!) {
  repository(name: $name, owner: $owner) {
    refs(refPrefix: "refs/tags/", first: 1, orderBy: { field: TAG_COMMIT_DATE, direction: DESC }) {
      nodes { name }
    }
  }
}`

const updateGoalStateMutation = `mutation UpdateSdmGoalState($id: ID!, $state: SdmGoalState!) {
  updateSdmGoal(id: $id, goal: { state: $state }) { id }
}`

const updateGoalDisplayMutation = `mutation UpdateSdmGoalDisplayState($value: SdmGoalDisplayInput!) {
  ingestCustomSdmGoalDisplay(value: $value)
}`

const cancelGoalSetMutation = `mutation CancelGoalSets($goalSetId: String!) {
  cancelSdmGoalSet(goalSetId: $goalSetId) { goalSetId }
}`

type branchData struct {
	Repo []struct {
		Branches []types.Branch `json:"branches"`
	} `json:"Repo"`
}

// Branch re-reads a branch and its pull requests.
func (c *Client) Branch(ctx context.Context, owner, repo, branch string) (*types.Branch, error) {
	var data branchData
	vars := map[string]interface{}{"owner": owner, "repo": repo, "branch": branch}
	if err := c.query(ctx, "branch", branchQuery, vars, &data); err != nil {
		return nil, err
	}
	if len(data.Repo) == 0 || len(data.Repo[0].Branches) == 0 {
		return nil, nil
	}
	b := data.Repo[0].Branches[0]
	return &b, nil
}

type tagsData struct {
	Repository *struct {
		Refs struct {
			Nodes []struct {
				Name string `json:"name"`
			} `json:"nodes"`
		} `json:"refs"`
	} `json:"repository"`
}

// LatestTag returns the newest tag of a repo, or "" when it has none.
func (c *Client) LatestTag(ctx context.Context, owner, repo string) (string, error) {
	var data tagsData
	vars := map[string]interface{}{"owner": owner, "name": repo}
	if err := c.query(ctx, "tags", repositoryTagsQuery, vars, &data); err != nil {
		return "", err
	}
	if data.Repository == nil || len(data.Repository.Refs.Nodes) == 0 {
		return "", nil
	}
	return data.Repository.Refs.Nodes[0].Name, nil
}

// UpdateGoalState moves a goal to a new state.
func (c *Client) UpdateGoalState(ctx context.Context, cmd types.UpdateGoalState) error {
	return c.mutate(ctx, "update goal state", updateGoalStateMutation, map[string]interface{}{
		"id":    cmd.ID,
		"state": string(cmd.State),
	})
}

// UpdateGoalDisplayState records the display preference of a push.
func (c *Client) UpdateGoalDisplayState(ctx context.Context, cmd types.UpdateGoalDisplayState) error {
	return c.mutate(ctx, "update goal display", updateGoalDisplayMutation, map[string]interface{}{
		"value": map[string]interface{}{
			"state":      string(cmd.State),
			"format":     string(cmd.Format),
			"owner":      cmd.Owner,
			"name":       cmd.Name,
			"providerId": cmd.ProviderID,
			"branch":     cmd.Branch,
			"sha":        cmd.SHA,
		},
	})
}

// CancelGoalSet cancels the pending goals of a goal set.
func (c *Client) CancelGoalSet(ctx context.Context, cmd types.CancelGoalSets) error {
	return c.mutate(ctx, "cancel goal set", cancelGoalSetMutation, map[string]interface{}{
		"goalSetId": cmd.GoalSetID,
	})
}
