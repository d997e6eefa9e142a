// Package types defines the lifecycle snapshots, actions and command
// parameters shared by the lifecycle rendering engine and its collaborators.
package types

import (
	"encoding/json"
	"fmt"
)

// NodeKind tags the variant carried by a Node.
type NodeKind string

// Node kinds
const (
	KindBranch      NodeKind = "branch"
	KindPullRequest NodeKind = "pull_request"
	KindPush        NodeKind = "push"
	KindGoalSet     NodeKind = "goal_set"
)

// IsValid checks if the node kind is one of the known variants.
func (k NodeKind) IsValid() bool {
	switch k {
	case KindBranch, KindPullRequest, KindPush, KindGoalSet:
		return true
	}
	return false
}

// ProviderBitbucket is the provider type this pack renders actions for.
const ProviderBitbucket = "bitbucket"

// DefaultBranchFallback is used when a repo does not report its default branch.
const DefaultBranchFallback = "master"

// Repo identifies a repository. Nodes reference a Repo but never own it.
type Repo struct {
	Owner            string `json:"owner"`
	Name             string `json:"name"`
	DefaultBranch    string `json:"defaultBranch,omitempty"`
	AllowMergeCommit bool   `json:"allowMergeCommit,omitempty"`
	AllowSquash      bool   `json:"allowSquashMerge,omitempty"`
	AllowRebase      bool   `json:"allowRebaseMerge,omitempty"`
	ProviderID       string `json:"providerId,omitempty"`
	ProviderType     string `json:"providerType,omitempty"`
}

// DefaultBranchOr returns the repo's default branch, or fallback when unset.
func (r *Repo) DefaultBranchOr(fallback string) string {
	if r == nil || r.DefaultBranch == "" {
		return fallback
	}
	return r.DefaultBranch
}

// Slug returns "owner/name".
func (r *Repo) Slug() string {
	if r == nil {
		return ""
	}
	return r.Owner + "/" + r.Name
}

// Status states reported on commits
const (
	StatusSuccess = "success"
	StatusPending = "pending"
	StatusFailure = "failure"
	StatusError   = "error"
)

// Status is a build or check status recorded against a commit.
type Status struct {
	Context     string `json:"context,omitempty"`
	State       string `json:"state"`
	Description string `json:"description,omitempty"`
	TargetURL   string `json:"targetUrl,omitempty"`
}

// Commit is a commit snapshot. Timestamp is kept as the raw string the graph
// reported; it may be empty or malformed.
type Commit struct {
	SHA       string   `json:"sha"`
	Message   string   `json:"message,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
	Author    string   `json:"author,omitempty"`
	Statuses  []Status `json:"statuses,omitempty"`
}

// Review states
const (
	ReviewApproved         = "approved"
	ReviewChangesRequested = "changes_requested"
	ReviewCommented        = "commented"
	ReviewPending          = "pending"
)

// Review is a reviewer's verdict on a pull request.
type Review struct {
	State string `json:"state"`
	By    string `json:"by,omitempty"`
}

// Pull request states
const (
	PullRequestOpen   = "open"
	PullRequestClosed = "closed"
	PullRequestMerged = "merged"
)

// BranchRef names the branch a pull request was raised from.
type BranchRef struct {
	Name string `json:"name"`
}

// PullRequest is a pull request snapshot.
type PullRequest struct {
	Number         int        `json:"number"`
	Title          string     `json:"title,omitempty"`
	Body           string     `json:"body,omitempty"`
	State          string     `json:"state"`
	BaseBranchName string     `json:"baseBranchName,omitempty"`
	Branch         *BranchRef `json:"branch,omitempty"`
	Head           *Commit    `json:"head,omitempty"`
	Commits        []Commit   `json:"commits,omitempty"`
	Reviews        []Review   `json:"reviews,omitempty"`
	Repo           *Repo      `json:"repo,omitempty"`
}

// ContainsCommit reports whether sha is one of the pull request's commits.
func (pr *PullRequest) ContainsCommit(sha string) bool {
	for _, c := range pr.Commits {
		if c.SHA == sha {
			return true
		}
	}
	return false
}

// Branch is a branch snapshot.
type Branch struct {
	Name         string        `json:"name"`
	Repo         *Repo         `json:"repo,omitempty"`
	Commit       *Commit       `json:"commit,omitempty"`
	PullRequests []PullRequest `json:"pullRequests,omitempty"`
	Deleted      bool          `json:"deleted,omitempty"`
}

// GoalDisplay is a persisted per-push display preference.
type GoalDisplay struct {
	State  DisplayState  `json:"state,omitempty"`
	Format DisplayFormat `json:"format,omitempty"`
}

// Push is a push snapshot. After is the head commit once the push landed.
type Push struct {
	After             *Commit       `json:"after,omitempty"`
	Branch            string        `json:"branch"`
	Repo              *Repo         `json:"repo,omitempty"`
	Commits           []Commit      `json:"commits,omitempty"`
	GoalsDisplayState []GoalDisplay `json:"goalsDisplayState,omitempty"`
}

// Display returns the push's recorded display preference. The first entry
// wins; zero values mean "not recorded".
func (p *Push) Display() GoalDisplay {
	if p == nil || len(p.GoalsDisplayState) == 0 {
		return GoalDisplay{}
	}
	return p.GoalsDisplayState[0]
}

// Node is an immutable lifecycle snapshot. Exactly one of the variant
// pointers is set, matching Kind.
type Node struct {
	Kind        NodeKind     `json:"kind"`
	Branch      *Branch      `json:"branch,omitempty"`
	PullRequest *PullRequest `json:"pullRequest,omitempty"`
	Push        *Push        `json:"push,omitempty"`
	GoalSet     *GoalSet     `json:"goalSet,omitempty"`
}

// BranchNode wraps a branch snapshot.
func BranchNode(b *Branch) Node { return Node{Kind: KindBranch, Branch: b} }

// PullRequestNode wraps a pull request snapshot.
func PullRequestNode(pr *PullRequest) Node { return Node{Kind: KindPullRequest, PullRequest: pr} }

// PushNode wraps a push snapshot.
func PushNode(p *Push) Node { return Node{Kind: KindPush, Push: p} }

// GoalSetNode wraps a goal set snapshot.
func GoalSetNode(gs *GoalSet) Node { return Node{Kind: KindGoalSet, GoalSet: gs} }

// Validate checks that the node's variant pointer matches its kind.
func (n Node) Validate() error {
	if !n.Kind.IsValid() {
		return fmt.Errorf("invalid node kind %q", n.Kind)
	}
	var ok bool
	switch n.Kind {
	case KindBranch:
		ok = n.Branch != nil
	case KindPullRequest:
		ok = n.PullRequest != nil
	case KindPush:
		ok = n.Push != nil
	case KindGoalSet:
		ok = n.GoalSet != nil
	}
	if !ok {
		return fmt.Errorf("%s node has no %s payload", n.Kind, n.Kind)
	}
	return nil
}

// UnmarshalJSON decodes a node and rejects payloads whose variant does not
// match the declared kind.
func (n *Node) UnmarshalJSON(data []byte) error {
	type plain Node
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	node := Node(p)
	if err := node.Validate(); err != nil {
		return err
	}
	*n = node
	return nil
}
