package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/config"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/lifecycle"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration settings",
	Long: `Manage configuration settings and channel preferences.

Settings live in .bblifecycle/config.yaml (searched upward from the working
directory) or the user config directory. Every key can also be set from the
environment with a BBL_ prefix, e.g. BBL_BITBUCKET_URL.

Examples:
  bblifecycle config set bitbucket.url https://bitbucket.example.com
  bblifecycle config set lifecycle.generated-markers "[bot],[ci skip]"
  bblifecycle config get lifecycle.rendering-style
  bblifecycle config disable tag --channel svc-builds`,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		value := config.GetString(args[0])
		if jsonOutput {
			return outputJSON(map[string]string{"key": args[0], "value": value})
		}
		fmt.Fprintln(cmd.OutOrStdout(), value)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings := redact(config.AllSettings())
		if jsonOutput {
			return outputJSON(settings)
		}
		out := cmd.OutOrStdout()
		if used := config.ConfigFileUsed(); used != "" {
			fmt.Fprintln(out, ui.RenderMuted("# "+used))
		}
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(settings); err != nil {
			return err
		}
		return enc.Close()
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in config.yaml. Comma separated values are
written as a list.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configWritePath()
		if err != nil {
			return err
		}
		if err := config.SetYamlConfig(path, args[0], args[1]); err != nil {
			return fmt.Errorf("set %s: %w", args[0], err)
		}
		if jsonOutput {
			return outputJSON(map[string]string{"key": args[0], "value": args[1], "file": path})
		}
		if !quietFlag {
			fmt.Fprintf(cmd.OutOrStdout(), "%s Set %s in %s\n", ui.RenderPassIcon(), args[0], path)
		}
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check that the service settings are complete",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Validate(); err != nil {
			return err
		}
		if !quietFlag {
			fmt.Fprintf(cmd.OutOrStdout(), "%s configuration is valid\n", ui.RenderPassIcon())
		}
		return nil
	},
}

var configDisableCmd = &cobra.Command{
	Use:   "disable <contributor-id>",
	Short: "Disable a contributor for a channel, or everywhere",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setContributor(cmd, args[0], true)
	},
}

var configEnableCmd = &cobra.Command{
	Use:   "enable <contributor-id>",
	Short: "Re-enable a contributor for a channel, or everywhere",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setContributor(cmd, args[0], false)
	},
}

var configPrefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "List disabled contributors",
	RunE: func(cmd *cobra.Command, args []string) error {
		channel, _ := cmd.Flags().GetString("channel")
		prefs, err := config.LoadPreferences(config.PreferencesPath())
		if err != nil {
			return err
		}
		disabled := sortedKeys(prefs.Disabled(channel))
		if jsonOutput {
			return outputJSON(map[string]interface{}{"channel": channel, "disabled": disabled})
		}
		out := cmd.OutOrStdout()
		if len(disabled) == 0 {
			fmt.Fprintln(out, "All contributors are enabled.")
			return nil
		}
		for _, id := range disabled {
			fmt.Fprintf(out, "%s %s\n", ui.RenderFailIcon(), id)
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{configDisableCmd, configEnableCmd, configPrefsCmd} {
		c.Flags().String("channel", "", "Channel to apply to (default: all channels)")
	}
	configCmd.AddCommand(configGetCmd, configShowCmd, configSetCmd, configValidateCmd,
		configDisableCmd, configEnableCmd, configPrefsCmd)
	rootCmd.AddCommand(configCmd)
}

func setContributor(cmd *cobra.Command, id string, disabled bool) error {
	known := contributorIDs(lifecycle.NewBitbucketRegistry(config.Lifecycle(), offlineGraph{}))
	if !containsString(known, id) {
		return fmt.Errorf("unknown contributor %q (known: %s)", id, strings.Join(known, ", "))
	}
	channel, _ := cmd.Flags().GetString("channel")
	prefs, err := config.LoadPreferences(config.PreferencesPath())
	if err != nil {
		return err
	}
	if err := prefs.SetDisabled(channel, id, disabled); err != nil {
		return err
	}
	if quietFlag {
		return nil
	}
	state := "enabled"
	if disabled {
		state = "disabled"
	}
	where := "all channels"
	if channel != "" {
		where = channel
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s for %s\n", ui.RenderPassIcon(), id, state, where)
	return nil
}

// configWritePath returns the config file settings are written to: the
// project config when one exists, else .bblifecycle/config.yaml in the
// working directory.
func configWritePath() (string, error) {
	if path, err := config.FindConfigYAMLPath(); err == nil {
		return path, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, config.DirName, "config.yaml"), nil
}

var secretKeys = []string{
	config.KeyBitbucketPassword,
	config.KeyGraphToken,
	config.KeySlackBotToken,
	config.KeySlackAppToken,
	config.KeyWebhookSecret,
	config.KeyNATSToken,
}

// redact masks secret values in a nested settings map.
func redact(settings map[string]interface{}) map[string]interface{} {
	for _, key := range secretKeys {
		parts := strings.Split(key, ".")
		m := settings
		for _, p := range parts[:len(parts)-1] {
			next, ok := m[p].(map[string]interface{})
			if !ok {
				m = nil
				break
			}
			m = next
		}
		if m == nil {
			continue
		}
		if s, ok := m[parts[len(parts)-1]].(string); ok && s != "" {
			m[parts[len(parts)-1]] = "********"
		}
	}
	return settings
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
