package types

// GoalState is the state of a build or deployment goal.
type GoalState string

// Goal states. Success, failure and skipped are terminal.
const (
	GoalRequested             GoalState = "requested"
	GoalPlanned               GoalState = "planned"
	GoalInProcess             GoalState = "in_process"
	GoalWaitingForPreApproval GoalState = "waiting_for_pre_approval"
	GoalPreApproved           GoalState = "pre_approved"
	GoalWaitingForApproval    GoalState = "waiting_for_approval"
	GoalApproved              GoalState = "approved"
	GoalSuccess               GoalState = "success"
	GoalFailure               GoalState = "failure"
	GoalSkipped               GoalState = "skipped"
)

// IsValid checks if the goal state is one of the known states.
func (s GoalState) IsValid() bool {
	switch s {
	case GoalRequested, GoalPlanned, GoalInProcess,
		GoalWaitingForPreApproval, GoalPreApproved,
		GoalWaitingForApproval, GoalApproved,
		GoalSuccess, GoalFailure, GoalSkipped:
		return true
	}
	return false
}

// IsTerminal reports whether no further state changes are expected.
func (s GoalState) IsTerminal() bool {
	return s == GoalSuccess || s == GoalFailure || s == GoalSkipped
}

// DisplayState selects which goal sets of a push are shown.
type DisplayState string

// Display states
const (
	ShowCurrent DisplayState = "show_current"
	ShowAll     DisplayState = "show_all"
)

// IsValid checks if the display state is known.
func (s DisplayState) IsValid() bool {
	return s == ShowCurrent || s == ShowAll
}

// DisplayFormat selects how much detail goals are rendered with.
type DisplayFormat string

// Display formats
const (
	FormatCompact DisplayFormat = "compact"
	FormatFull    DisplayFormat = "full"
)

// IsValid checks if the display format is known.
func (f DisplayFormat) IsValid() bool {
	return f == FormatCompact || f == FormatFull
}

// GoalRepo is the repository reference carried on a goal.
type GoalRepo struct {
	Owner      string `json:"owner"`
	Name       string `json:"name"`
	ProviderID string `json:"providerId,omitempty"`
}

// Goal is a unit of build or deployment work.
type Goal struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	UniqueName    string    `json:"uniqueName,omitempty"`
	State         GoalState `json:"state"`
	RetryFeasible bool      `json:"retryFeasible,omitempty"`
	Ts            int64     `json:"ts,omitempty"`
	GoalSetID     string    `json:"goalSetId,omitempty"`
	Repo          GoalRepo  `json:"repo"`
}

// Key identifies the goal across re-submissions within one goal set.
func (g Goal) Key() string {
	if g.UniqueName != "" {
		return g.UniqueName
	}
	return g.Name
}

// GoalSet is the group of goals triggered by one push.
type GoalSet struct {
	GoalSetID string `json:"goalSetId"`
	Goals     []Goal `json:"goals"`
	SHA       string `json:"sha,omitempty"`
	Branch    string `json:"branch,omitempty"`
	Ts        int64  `json:"ts,omitempty"`
}
