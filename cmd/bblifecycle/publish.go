package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/config"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/eventbus"
)

var publishCmd = &cobra.Command{
	Use:   "publish [event-file]",
	Short: "Publish a lifecycle event to the NATS event stream",
	Long: `Publish a lifecycle event to the LIFECYCLE_EVENTS JetStream stream, where a
running "bblifecycle serve" renders and posts it.

The event is read as JSON or YAML from the file argument or stdin.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := readEvent(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}
		url := config.GetString(config.KeyNATSURL)
		if url == "" {
			return fmt.Errorf("%s is not set", config.KeyNATSURL)
		}

		nc, err := eventbus.Connect(url, config.GetString(config.KeyNATSToken))
		if err != nil {
			return err
		}
		defer nc.Close()
		js, err := eventbus.JetStream(nc)
		if err != nil {
			return err
		}

		bus := eventbus.New()
		bus.SetJetStream(js)
		if _, err := bus.Publish(rootCtx, &e); err != nil {
			return err
		}

		subject := eventbus.SubjectForEvent(eventbus.TypeOf(&e))
		if jsonOutput {
			return outputJSON(map[string]string{"subject": subject})
		}
		if !quietFlag {
			fmt.Fprintf(cmd.OutOrStdout(), "published to %s\n", subject)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(publishCmd)
}
