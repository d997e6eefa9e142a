// Package merge decides whether a pull request may be merged now and which
// merge methods are offered for it.
package merge

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/types"
)

// DefaultGeneratedMarkers flag commit messages written by automation.
var DefaultGeneratedMarkers = []string{"[atomist:generated]"}

// Mergeable reports whether pr is open and no review is in a state other
// than approved. A pull request without reviews is mergeable.
func Mergeable(pr *types.PullRequest) bool {
	if pr == nil || pr.State != types.PullRequestOpen {
		return false
	}
	for _, r := range pr.Reviews {
		if r.State != types.ReviewApproved {
			return false
		}
	}
	return true
}

func timestampOrZero(c types.Commit) string {
	if c.Timestamp == "" {
		return "0"
	}
	return c.Timestamp
}

// LatestStatusCommit returns the most recent commit carrying at least one
// status. Commits are ordered by their raw timestamp strings, newest first;
// a missing timestamp sorts as "0".
func LatestStatusCommit(commits []types.Commit) (types.Commit, bool) {
	var withStatus []types.Commit
	for _, c := range commits {
		if len(c.Statuses) > 0 {
			withStatus = append(withStatus, c)
		}
	}
	if len(withStatus) == 0 {
		return types.Commit{}, false
	}
	sort.SliceStable(withStatus, func(i, j int) bool {
		return timestampOrZero(withStatus[i]) > timestampOrZero(withStatus[j])
	})
	return withStatus[0], true
}

// StatusesPass reports whether the latest status-bearing commit has only
// successful statuses. No status-bearing commit at all passes.
func StatusesPass(commits []types.Commit) bool {
	c, ok := LatestStatusCommit(commits)
	if !ok {
		return true
	}
	for _, s := range c.Statuses {
		if s.State != types.StatusSuccess {
			return false
		}
	}
	return true
}

// IsGenerated reports whether the commit message carries one of the markers.
func IsGenerated(c *types.Commit, markers []string) bool {
	if c == nil {
		return false
	}
	for _, m := range markers {
		if m != "" && strings.Contains(c.Message, m) {
			return true
		}
	}
	return false
}

// Method is an offered merge method with its pre-filled commit text.
type Method struct {
	Name    string
	Label   string
	Title   string
	Message string
}

type methodSpec struct {
	name      string
	label     string
	allowed   func(r *types.Repo) bool
	generated bool // offered for machine generated head commits
	build     func(pr *types.PullRequest) (title, message string)
}

func mergeTitle(pr *types.PullRequest) (string, string) {
	t := fmt.Sprintf("Merge pull request #%d from %s", pr.Number, pr.Repo.Slug())
	return t, t
}

func squashTitle(pr *types.PullRequest) (string, string) {
	title := fmt.Sprintf("%s (#%d)", pr.Title, pr.Number)
	lines := make([]string, 0, len(pr.Commits))
	for _, c := range pr.Commits {
		lines = append(lines, "* "+c.Message)
	}
	return title, strings.Join(lines, "\n")
}

// methods is the display order of merge methods.
var methods = []methodSpec{
	{
		name:      types.MethodMerge,
		label:     "Merge",
		allowed:   func(r *types.Repo) bool { return r.AllowMergeCommit },
		generated: true,
		build:     mergeTitle,
	},
	{
		name:    types.MethodSquash,
		label:   "Squash and Merge",
		allowed: func(r *types.Repo) bool { return r.AllowSquash },
		build:   squashTitle,
	},
	{
		name:    types.MethodRebase,
		label:   "Rebase and Merge",
		allowed: func(r *types.Repo) bool { return r.AllowRebase },
		build:   mergeTitle,
	},
}

// Methods lists the merge methods offered for pr, always in the order
// Merge, Squash, Rebase. A repo without any method flag offers Merge only.
func Methods(pr *types.PullRequest, markers []string) []Method {
	if pr == nil {
		return nil
	}
	repo := pr.Repo
	if repo == nil {
		repo = &types.Repo{}
	}
	pr = withRepo(pr, repo)
	noFlags := !repo.AllowMergeCommit && !repo.AllowSquash && !repo.AllowRebase
	generated := IsGenerated(pr.Head, markers)

	var out []Method
	for _, m := range methods {
		switch {
		case noFlags && m.name != types.MethodMerge:
			continue
		case !noFlags && !m.allowed(repo):
			continue
		case generated && !m.generated:
			continue
		}
		title, message := m.build(pr)
		out = append(out, Method{
			Name:    m.name,
			Label:   m.label,
			Title:   clip(title, types.MaxMergeTitleLength),
			Message: clip(message, types.MaxMergeMessage),
		})
	}
	return out
}

func withRepo(pr *types.PullRequest, repo *types.Repo) *types.PullRequest {
	if pr.Repo == repo {
		return pr
	}
	cp := *pr
	cp.Repo = repo
	return &cp
}

// clip shortens s to at most n bytes without splitting a rune.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
