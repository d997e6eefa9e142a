package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/commands"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/ui"
)

var execCmd = &cobra.Command{
	Use:   "exec <command> [key=value...]",
	Short: "Run a lifecycle command directly",
	Long: `Run one of the commands behind lifecycle actions with explicit parameters.

Examples:
  bblifecycle exec DeleteBitbucketBranch repo=svc owner=PRJ branch=feature/x
  bblifecycle exec CreateBitbucketTag repo=svc owner=PRJ sha=0123456 tag=v1.2.0`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := parseParams(args[1:])
		if err != nil {
			return err
		}
		actor, _ := cmd.Flags().GetString("actor")

		bb, err := newBitbucketClient()
		if err != nil {
			return err
		}
		gc, err := newGraphClient(nil)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		d := commands.NewDispatcher(bb, gc, commands.ResponderFunc(func(ctx context.Context, r commands.Reply) error {
			return printReply(out, r)
		}))

		err = d.ExecuteParams(rootCtx, args[0], params, actor)
		var ce *commands.CommandError
		if errors.As(err, &ce) {
			// already reported through the responder
			return errors.New(ce.Message)
		}
		if err != nil {
			return err
		}
		if !quietFlag {
			fmt.Fprintf(out, "%s %s\n", ui.RenderPassIcon(), args[0])
		}
		return nil
	},
}

func init() {
	execCmd.Flags().String("actor", defaultActor(), "Who the command runs on behalf of")
	rootCmd.AddCommand(execCmd)
}

// parseParams splits key=value arguments.
func parseParams(args []string) (map[string]string, error) {
	params := make(map[string]string, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid parameter %q (want key=value)", a)
		}
		params[k] = v
	}
	return params, nil
}

func printReply(w io.Writer, r commands.Reply) error {
	icon := ui.RenderPassIcon()
	switch r.Kind {
	case commands.ReplyWarning:
		icon = ui.RenderWarnIcon()
	case commands.ReplyError:
		icon = ui.RenderFailIcon()
	}
	_, err := fmt.Fprintf(w, "%s %s\n%s%s\n", icon, r.Title, ui.TreeIndent, r.Text)
	return err
}

func defaultActor() string {
	if u := os.Getenv("USER"); u != "" {
		return "cli:" + u
	}
	return "cli"
}
