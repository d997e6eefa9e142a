package lifecycle

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/freshness"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/goals"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/graph"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/types"
)

// PushRaisePR offers "Raise PR" for a push to a non-default branch, unless
// the branch already has an open pull request or one containing the pushed
// commit.
type PushRaisePR struct {
	base
	checker *freshness.Checker
}

// NewPushRaisePR creates the push Raise PR contributor.
func NewPushRaisePR(checker *freshness.Checker) *PushRaisePR {
	return &PushRaisePR{
		base:    base{id: IDRaisePullRequest, kind: types.KindPush, pass: PassCommit},
		checker: checker,
	}
}

func (c *PushRaisePR) Supports(n types.Node) bool {
	return n.Kind == types.KindPush && n.Push != nil && n.Push.After != nil
}

// SplitCommitMessage returns the first line of msg as the title and the
// remaining lines as the body, with CRLF line endings normalized. The body
// is empty for single line messages.
func SplitCommitMessage(msg string) (title, body string) {
	msg = strings.ReplaceAll(msg, "\r\n", "\n")
	title, body, _ = strings.Cut(msg, "\n")
	return title, body
}

func (c *PushRaisePR) ButtonsFor(ctx context.Context, n types.Node, rc *RenderContext) ([]types.Action, error) {
	if rc.RendererID != PassCommit {
		return nil, nil
	}
	push := n.Push
	repo := rc.repoFor(n)
	if repo == nil {
		return nil, nil
	}
	target := repo.DefaultBranchOr(c.config().DefaultBranch)
	if push.Branch == target {
		return nil, nil
	}
	if !c.checker.CanRaisePullRequest(ctx, repo, push.Branch, push.After.SHA) {
		return nil, nil
	}

	title, body := SplitCommitMessage(push.After.Message)
	cmd := types.RaisePullRequest{
		Title: title,
		Body:  body,
		Base:  target,
		Head:  push.Branch,
		Repo:  repo.Name,
		Owner: repo.Owner,
	}
	return []types.Action{
		types.ButtonForCommand("Raise PR", cmd, types.WithRole(types.RoleGlobal)),
	}, nil
}

// PushTag offers a menu of next release tags for a push to the default
// branch, based on the latest tag of the repo.
type PushTag struct {
	base
	graph graph.Querier
}

// NewPushTag creates the tag menu contributor.
func NewPushTag(q graph.Querier) *PushTag {
	return &PushTag{base: base{id: IDTag, kind: types.KindPush, pass: PassCommit}, graph: q}
}

func (c *PushTag) Supports(n types.Node) bool {
	return n.Kind == types.KindPush && n.Push != nil && n.Push.After != nil
}

func (c *PushTag) MenusFor(ctx context.Context, n types.Node, rc *RenderContext) ([]types.Action, error) {
	if rc.RendererID != PassCommit || c.graph == nil {
		return nil, nil
	}
	push := n.Push
	repo := rc.repoFor(n)
	if repo == nil || push.Branch != repo.DefaultBranchOr(c.config().DefaultBranch) {
		return nil, nil
	}

	latest, err := c.graph.LatestTag(ctx, repo.Owner, repo.Name)
	if err != nil {
		log.Printf("lifecycle: tag query for %s failed: %v", repo.Slug(), err)
		return nil, nil
	}
	versions := NextVersions(latest)
	if len(versions) == 0 {
		return nil, nil
	}

	options := make([]types.Option, 0, len(versions))
	for _, v := range versions {
		options = append(options, types.Option{Text: v, Value: v})
	}
	cmd := types.CreateTag{SHA: push.After.SHA, Repo: repo.Name, Owner: repo.Owner}
	return []types.Action{
		types.MenuForCommand("Tag", cmd, "tag", options, types.WithRole(types.RoleGlobal)),
	}, nil
}

// NextVersions returns the next patch, minor and major versions after the
// tag latest, keeping its "v" prefix style. An empty tag starts at 0.1.0
// and 1.0.0. Tags that are not semantic versions yield nothing.
func NextVersions(latest string) []string {
	if latest == "" {
		return []string{"0.1.0", "1.0.0"}
	}
	prefix := ""
	v := latest
	if strings.HasPrefix(latest, "v") {
		prefix = "v"
	} else {
		v = "v" + latest
	}
	if !semver.IsValid(v) {
		return nil
	}

	core := strings.TrimSuffix(semver.Canonical(v), semver.Build(v))
	pre := semver.Prerelease(core)
	core = strings.TrimSuffix(core, pre)
	parts := strings.SplitN(strings.TrimPrefix(core, "v"), ".", 3)
	if len(parts) != 3 {
		return nil
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil
		}
		nums[i] = n
	}
	major, minor, patch := nums[0], nums[1], nums[2]

	nextPatch := patch + 1
	if pre != "" {
		// a prerelease is followed by its own release
		nextPatch = patch
	}
	return []string{
		fmt.Sprintf("%s%d.%d.%d", prefix, major, minor, nextPatch),
		fmt.Sprintf("%s%d.%d.0", prefix, major, minor+1),
		fmt.Sprintf("%s%d.0.0", prefix, major+1),
	}
}

// ExpandAttachments offers the More/Less goal format toggle when the
// configured style is compact.
type ExpandAttachments struct {
	base
}

// NewExpandAttachments creates the format toggle contributor.
func NewExpandAttachments() *ExpandAttachments {
	return &ExpandAttachments{base: base{id: IDExpandAttachments, kind: types.KindPush, pass: PassExpandAttachments}}
}

func (c *ExpandAttachments) Supports(n types.Node) bool {
	return n.Kind == types.KindPush && n.Push != nil && n.Push.After != nil
}

func (c *ExpandAttachments) ButtonsFor(ctx context.Context, n types.Node, rc *RenderContext) ([]types.Action, error) {
	if rc.RendererID != PassExpandAttachments {
		return nil, nil
	}
	push := rc.pushFor(n)
	style := c.config().RenderingStyle
	d := goals.Resolve(push.Display(), style)

	toggle, ok := goals.FormatToggle(d, style, rc.ChannelExpanded())
	if !ok {
		return nil, nil
	}
	cmd, ok := displayCommand(rc.repoFor(n), push, toggle.Target)
	if !ok {
		return nil, nil
	}
	return []types.Action{types.ButtonForCommand(toggle.Label, cmd)}, nil
}

// displayCommand binds a display change to the push it applies to.
func displayCommand(repo *types.Repo, push *types.Push, target goals.Display) (types.UpdateGoalDisplayState, bool) {
	if push == nil || repo == nil || push.After == nil {
		return types.UpdateGoalDisplayState{}, false
	}
	return types.UpdateGoalDisplayState{
		State:      target.State,
		Format:     target.Format,
		Owner:      repo.Owner,
		Name:       repo.Name,
		ProviderID: repo.ProviderID,
		Branch:     push.Branch,
		SHA:        push.After.SHA,
	}, true
}
