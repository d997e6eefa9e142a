// Package goals holds the goal state model: which goals may be canceled,
// which state transitions are offered as actions, selection of the current
// goal set, and the push display state machine.
package goals

import (
	"sort"
	"strings"

	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/types"
)

var cancelable = map[types.GoalState]bool{
	types.GoalInProcess:             true,
	types.GoalRequested:             true,
	types.GoalPlanned:               true,
	types.GoalWaitingForApproval:    true,
	types.GoalApproved:              true,
	types.GoalWaitingForPreApproval: true,
	types.GoalPreApproved:           true,
}

// IsCancelable reports whether a goal in state s can still be canceled.
func IsCancelable(s types.GoalState) bool {
	return cancelable[s]
}

// AnyCancelable reports whether at least one goal can be canceled.
func AnyCancelable(goals []types.Goal) bool {
	for _, g := range goals {
		if IsCancelable(g.State) {
			return true
		}
	}
	return false
}

// Transition is a state change a user may trigger on a single goal.
type Transition struct {
	From  types.GoalState
	To    types.GoalState
	Label string
	// RetryFeasible restricts the transition to goals that report retries
	// as feasible.
	RetryFeasible bool
}

// Transitions is the complete list of user triggered transitions, in the
// order their actions are rendered.
var Transitions = []Transition{
	{From: types.GoalFailure, To: types.GoalRequested, Label: "Restart", RetryFeasible: true},
	{From: types.GoalWaitingForPreApproval, To: types.GoalPreApproved, Label: "Start"},
	{From: types.GoalWaitingForApproval, To: types.GoalApproved, Label: "Approve"},
}

// Applies reports whether the transition is offered for g.
func (t Transition) Applies(g types.Goal) bool {
	if g.State != t.From {
		return false
	}
	return !t.RetryFeasible || g.RetryFeasible
}

// ButtonText renders "<label> _<name>_" with backticks removed from the name.
func (t Transition) ButtonText(g types.Goal) string {
	return t.Label + " _" + strings.ReplaceAll(g.Name, "`", "") + "_"
}

// Offered pairs a goal with a transition that applies to it.
type Offered struct {
	Goal       types.Goal
	Transition Transition
}

// OfferedTransitions walks Transitions in order and, for each, the goals
// (already in display order) it applies to.
func OfferedTransitions(goals []types.Goal) []Offered {
	var out []Offered
	for _, t := range Transitions {
		for _, g := range goals {
			if t.Applies(g) {
				out = append(out, Offered{Goal: g, Transition: t})
			}
		}
	}
	return out
}

// LastGoalSet keeps the most recent goal (highest ts) for every goal key and
// returns them sorted by name. The input is not modified.
func LastGoalSet(goals []types.Goal) []types.Goal {
	latest := make(map[string]types.Goal, len(goals))
	for _, g := range goals {
		prev, ok := latest[g.Key()]
		if !ok || g.Ts > prev.Ts {
			latest[g.Key()] = g
		}
	}
	out := make([]types.Goal, 0, len(latest))
	for _, g := range latest {
		out = append(out, g)
	}
	return SortByName(out)
}

// SortByName sorts goals in place lexicographically by name, with the goal
// key as tie breaker so the order never depends on arrival order.
func SortByName(goals []types.Goal) []types.Goal {
	sort.SliceStable(goals, func(i, j int) bool {
		if goals[i].Name != goals[j].Name {
			return goals[i].Name < goals[j].Name
		}
		return goals[i].Key() < goals[j].Key()
	})
	return goals
}
