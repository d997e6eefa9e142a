package lifecycle

import (
	"context"
	"fmt"

	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/goals"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/types"
)

func supportsGoalSet(n types.Node) bool {
	return n.Kind == types.KindGoalSet && n.GoalSet != nil &&
		n.GoalSet.GoalSetID != "" && len(n.GoalSet.Goals) > 0
}

// fullRendering reports whether goals render in full: by configuration, by
// the push's recorded format, or because the channel forces expansion.
func fullRendering(cfg Config, rc *RenderContext, n types.Node) bool {
	if rc.ChannelExpanded() {
		return true
	}
	return goals.Resolve(rc.pushFor(n).Display(), cfg.RenderingStyle).Format == types.FormatFull
}

func short(s string) string {
	if len(s) > 7 {
		return s[:7]
	}
	return s
}

// CancelGoalSet offers "Cancel" while any current goal can still be
// canceled.
type CancelGoalSet struct {
	base
}

// NewCancelGoalSet creates the Cancel contributor.
func NewCancelGoalSet() *CancelGoalSet {
	return &CancelGoalSet{base: base{id: IDCancelGoalSet, kind: types.KindGoalSet, pass: PassGoals}}
}

func (c *CancelGoalSet) Supports(n types.Node) bool { return supportsGoalSet(n) }

func (c *CancelGoalSet) ButtonsFor(ctx context.Context, n types.Node, rc *RenderContext) ([]types.Action, error) {
	if rc.RendererID != PassGoals {
		return nil, nil
	}
	gs := n.GoalSet
	current := goals.LastGoalSet(gs.Goals)
	if !fullRendering(c.config(), rc, n) || !goals.AnyCancelable(current) {
		return nil, nil
	}

	sha := gs.SHA
	repo := rc.repoFor(n)
	if push := rc.Push(); push != nil && push.After != nil {
		sha = push.After.SHA
	}
	confirm := types.Confirm{
		Title: "Cancel Goal Set",
		Text: fmt.Sprintf("Do you really want to cancel goal set %s on commit %s of %s?",
			short(gs.GoalSetID), short(sha), repo.Slug()),
		OkText:      "Yes",
		DismissText: "No",
	}
	cmd := types.CancelGoalSets{GoalSetID: gs.GoalSetID}
	return []types.Action{types.ButtonForCommand("Cancel", cmd, types.WithConfirm(confirm))}, nil
}

// ApproveGoal offers Restart, Start and Approve buttons for goals waiting
// on a user.
type ApproveGoal struct {
	base
}

// NewApproveGoal creates the goal transition contributor.
func NewApproveGoal() *ApproveGoal {
	return &ApproveGoal{base: base{id: IDApproveGoal, kind: types.KindGoalSet, pass: PassGoals}}
}

func (c *ApproveGoal) Supports(n types.Node) bool { return supportsGoalSet(n) }

func (c *ApproveGoal) ButtonsFor(ctx context.Context, n types.Node, rc *RenderContext) ([]types.Action, error) {
	if rc.RendererID != PassGoals {
		return nil, nil
	}
	var actions []types.Action
	for _, o := range goals.OfferedTransitions(goals.LastGoalSet(n.GoalSet.Goals)) {
		cmd := types.UpdateGoalState{ID: o.Goal.ID, State: o.Transition.To}
		actions = append(actions,
			types.ButtonForCommand(o.Transition.ButtonText(o.Goal), cmd, types.WithRole(types.RoleGlobal)))
	}
	return actions, nil
}

// DisplayGoals offers the goal set history toggle when a push has more
// than one goal set.
type DisplayGoals struct {
	base
}

// NewDisplayGoals creates the history toggle contributor.
func NewDisplayGoals() *DisplayGoals {
	return &DisplayGoals{base: base{id: IDDisplayGoals, kind: types.KindGoalSet, pass: PassGoals}}
}

func (c *DisplayGoals) Supports(n types.Node) bool { return supportsGoalSet(n) }

func (c *DisplayGoals) ButtonsFor(ctx context.Context, n types.Node, rc *RenderContext) ([]types.Action, error) {
	if rc.RendererID != PassGoals {
		return nil, nil
	}
	sets := rc.GoalSets()
	index := -1
	for i := range sets {
		if sets[i].GoalSetID == n.GoalSet.GoalSetID {
			index = i
			break
		}
	}

	push := rc.Push()
	d := goals.Resolve(push.Display(), c.config().RenderingStyle)
	toggle, ok := goals.HistoryToggle(d, index, len(sets))
	if !ok {
		return nil, nil
	}
	cmd, ok := displayCommand(rc.repoFor(n), push, toggle.Target)
	if !ok {
		return nil, nil
	}
	return []types.Action{types.ButtonForCommand(toggle.Label, cmd)}, nil
}
