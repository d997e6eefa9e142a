package ui

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/types"
)

// FormatActions writes a human readable listing of actions: one line per
// button or menu with the command it runs, followed by its bound parameters.
func FormatActions(w io.Writer, title string, actions []types.Action) error {
	if _, err := fmt.Fprintln(w, RenderCategory(title)); err != nil {
		return err
	}
	if len(actions) == 0 {
		_, err := fmt.Fprintln(w, TreeIndent+RenderMuted("no actions"))
		return err
	}
	for _, a := range actions {
		if _, err := io.WriteString(w, formatAction(a)); err != nil {
			return err
		}
	}
	return nil
}

func formatAction(a types.Action) string {
	var b strings.Builder
	icon := IconButton
	if a.IsMenu() {
		icon = IconMenu
	}
	fmt.Fprintf(&b, "%s%s %s  %s", TreeIndent, RenderAccent(icon), a.Text, RenderMuted(a.Command))
	if a.Confirm != nil {
		b.WriteString(" " + RenderWarn(IconWarn))
	}
	b.WriteString("\n")

	if a.IsMenu() {
		values := make([]string, 0, len(a.Options))
		for _, o := range a.Options {
			values = append(values, o.Value)
		}
		fmt.Fprintf(&b, "%s%s%s: %s\n", TreeIndent, TreeIndent, a.OptionParameter, strings.Join(values, ", "))
	}

	keys := make([]string, 0, len(a.Parameters))
	for k := range a.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s%s%s = %s\n", TreeIndent, TreeIndent, RenderMuted(k), TruncateSimple(a.Parameters[k], 72))
	}
	return b.String()
}
