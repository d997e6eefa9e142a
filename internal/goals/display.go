package goals

import (
	"fmt"

	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/types"
)

const (
	arrowDown = "˅"
	arrowUp   = "˄"
)

// Display is a point in the push display state machine.
type Display struct {
	State  types.DisplayState
	Format types.DisplayFormat
}

// Resolve fills in the display recorded on a push. Unset state means
// show_current; unset format falls back to the configured rendering style.
func Resolve(recorded types.GoalDisplay, style types.DisplayFormat) Display {
	d := Display{State: recorded.State, Format: recorded.Format}
	if d.State == "" {
		d.State = types.ShowCurrent
	}
	if d.Format == "" {
		d.Format = style
	}
	return d
}

// Apply moves to the target display. Applying the same target twice yields
// the same display as applying it once.
func (d Display) Apply(target Display) Display {
	if target.State != "" {
		d.State = target.State
	}
	if target.Format != "" {
		d.Format = target.Format
	}
	return d
}

// Toggle is an offered display change.
type Toggle struct {
	Target Display
	Label  string
}

// HistoryToggle decides the goal set history toggle for the goal set at
// index of goalSetCount sets. With show_current an expand toggle is offered
// on every goal set; with show_all only the last goal set carries the
// collapse toggle. A single goal set never gets a toggle.
func HistoryToggle(d Display, index, goalSetCount int) (Toggle, bool) {
	if goalSetCount <= 1 {
		return Toggle{}, false
	}
	count := goalSetCount - 1
	noun := "set"
	if count > 1 {
		noun = "sets"
	}
	switch {
	case d.State == types.ShowCurrent:
		return Toggle{
			Target: Display{State: types.ShowAll, Format: d.Format},
			Label:  fmt.Sprintf("%d additional goal %s %s", count, noun, arrowDown),
		}, true
	case index == goalSetCount-1:
		return Toggle{
			Target: Display{State: types.ShowCurrent, Format: d.Format},
			Label:  fmt.Sprintf("%d additional goal %s %s", count, noun, arrowUp),
		}, true
	}
	return Toggle{}, false
}

// FormatToggle decides the More/Less toggle. It is offered only when the
// configured style is compact and the channel does not already force
// expanded rendering.
func FormatToggle(d Display, style types.DisplayFormat, channelExpanded bool) (Toggle, bool) {
	if channelExpanded || style != types.FormatCompact {
		return Toggle{}, false
	}
	if d.Format == types.FormatFull {
		return Toggle{
			Target: Display{State: d.State, Format: types.FormatCompact},
			Label:  "Less " + arrowUp,
		}, true
	}
	return Toggle{
		Target: Display{State: d.State, Format: types.FormatFull},
		Label:  "More " + arrowDown,
	}, true
}
