package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/config"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/graph"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/lifecycle"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/ui"
)

var renderCmd = &cobra.Command{
	Use:   "render [event-file]",
	Short: "Render the actions offered for a lifecycle event",
	Long: `Render the buttons and menus a lifecycle event would carry.

The event is read from the file argument, or stdin when absent or "-", as
JSON or YAML. Channel preferences are applied for the event's channel.

Examples:
  bblifecycle render push.yaml
  bblifecycle render --offline --format json < pr.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		offline, _ := cmd.Flags().GetBool("offline")
		if jsonOutput {
			format = "json"
		}

		e, err := readEvent(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}

		var q graph.Querier = offlineGraph{}
		if !offline {
			gc, err := newGraphClient(nil)
			if err != nil {
				return fmt.Errorf("%w (use --offline to render without graph reads)", err)
			}
			q = gc
		}
		prefs, err := config.LoadPreferences(config.PreferencesPath())
		if err != nil {
			return err
		}

		reg := lifecycle.NewBitbucketRegistry(config.Lifecycle(), q)
		res, err := reg.RenderEvent(rootCtx, e, prefs)
		if err != nil {
			return err
		}
		return writeResult(cmd.OutOrStdout(), format, e, res)
	},
}

func init() {
	renderCmd.Flags().String("format", "text", "Output format: text, json or yaml")
	renderCmd.Flags().Bool("offline", false, "Render without graph reads")
	rootCmd.AddCommand(renderCmd)
}

// readEvent loads an event from the named file or r.
func readEvent(r io.Reader, args []string) (lifecycle.Event, error) {
	var (
		data []byte
		err  error
		name = "stdin"
	)
	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(r)
	} else {
		name = args[0]
		data, err = os.ReadFile(filepath.Clean(name))
	}
	if err != nil {
		return lifecycle.Event{}, fmt.Errorf("read event: %w", err)
	}
	e, err := decodeEvent(data)
	if err != nil {
		return lifecycle.Event{}, fmt.Errorf("%s: %w", name, err)
	}
	return e, nil
}

// decodeEvent parses an event written as JSON or YAML. YAML documents are
// converted to JSON so both share the event's json field names.
func decodeEvent(data []byte) (lifecycle.Event, error) {
	var e lifecycle.Event
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return e, fmt.Errorf("empty event")
	}
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal(data, &e); err != nil {
			return e, fmt.Errorf("parse event JSON: %w", err)
		}
		return e, nil
	}

	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return e, fmt.Errorf("parse event YAML: %w", err)
	}
	converted, err := json.Marshal(doc)
	if err != nil {
		return e, fmt.Errorf("convert event YAML: %w", err)
	}
	if err := json.Unmarshal(converted, &e); err != nil {
		return e, fmt.Errorf("parse event YAML: %w", err)
	}
	return e, nil
}

func writeResult(w io.Writer, format string, e lifecycle.Event, res lifecycle.Result) error {
	switch format {
	case "json":
		return writeJSON(w, res)
	case "yaml":
		// field names follow the json tags
		data, err := json.Marshal(res)
		if err != nil {
			return err
		}
		var doc interface{}
		if err := json.Unmarshal(data, &doc); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode YAML: %w", err)
		}
		return enc.Close()
	case "text", "":
		return ui.FormatActions(w, string(e.Node.Kind), res.Actions())
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}
