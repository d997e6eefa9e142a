// Package config loads service settings from .bblifecycle/config.yaml, the
// user config directory and BBL_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/lifecycle"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/merge"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/types"
)

// DirName is the per-project configuration directory.
const DirName = ".bblifecycle"

// Keys understood by the service.
const (
	KeyBitbucketURL      = "bitbucket.url"
	KeyBitbucketUsername = "bitbucket.username"
	KeyBitbucketPassword = "bitbucket.password"
	KeyGraphURL          = "graph.url"
	KeyGraphToken        = "graph.token"
	KeyRenderingStyle    = "lifecycle.rendering-style"
	KeyGeneratedMarkers  = "lifecycle.generated-markers"
	KeyDefaultBranch     = "lifecycle.default-branch"
	KeySlackBotToken     = "slack.bot-token"
	KeySlackAppToken     = "slack.app-token"
	KeySlackChannel      = "slack.channel"
	KeySlackHealthPort   = "slack.health-port"
	KeyNATSURL           = "nats.url"
	KeyNATSEmbedded      = "nats.embedded"
	KeyNATSPort          = "nats.port"
	KeyNATSStoreDir      = "nats.store-dir"
	KeyNATSToken         = "nats.token"
	KeyWebhookAddr       = "webhook.addr"
	KeyWebhookSecret     = "webhook.secret"
	KeyWebhookTokenTTL   = "webhook.token-ttl"
	KeyPreferencesFile   = "preferences.file"
)

var v *viper.Viper

// Initialize sets up the viper configuration singleton.
// Should be called once at application startup.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	// Project config wins over the user config; only one file is read.
	configFileSet := false
	if cwd, err := os.Getwd(); err == nil {
		if path := findProjectConfig(cwd); path != "" {
			v.SetConfigFile(path)
			configFileSet = true
		}
	}
	if !configFileSet {
		if dir, err := os.UserConfigDir(); err == nil {
			path := filepath.Join(dir, "bblifecycle", "config.yaml")
			if _, err := os.Stat(path); err == nil {
				v.SetConfigFile(path)
				configFileSet = true
			}
		}
	}

	v.SetEnvPrefix("BBL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyBitbucketURL, "")
	v.SetDefault(KeyBitbucketUsername, "")
	v.SetDefault(KeyBitbucketPassword, "")
	v.SetDefault(KeyGraphURL, "")
	v.SetDefault(KeyGraphToken, "")
	v.SetDefault(KeyRenderingStyle, string(types.FormatFull))
	v.SetDefault(KeyGeneratedMarkers, merge.DefaultGeneratedMarkers)
	v.SetDefault(KeyDefaultBranch, types.DefaultBranchFallback)
	v.SetDefault(KeySlackBotToken, "")
	v.SetDefault(KeySlackAppToken, "")
	v.SetDefault(KeySlackChannel, "")
	v.SetDefault(KeySlackHealthPort, 0)
	v.SetDefault(KeyNATSURL, "")
	v.SetDefault(KeyNATSEmbedded, false)
	v.SetDefault(KeyNATSPort, 4222)
	v.SetDefault(KeyNATSStoreDir, "")
	v.SetDefault(KeyNATSToken, "")
	v.SetDefault(KeyWebhookAddr, ":8080")
	v.SetDefault(KeyWebhookSecret, "")
	v.SetDefault(KeyWebhookTokenTTL, 7*24*time.Hour)
	v.SetDefault(KeyPreferencesFile, "")
}

// findProjectConfig walks up from dir looking for .bblifecycle/config.yaml.
func findProjectConfig(dir string) string {
	for {
		path := filepath.Join(dir, DirName, "config.yaml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// ConfigFileUsed returns the path of the loaded config file, if any.
func ConfigFileUsed() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}

// GetString retrieves a string configuration value
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration retrieves a duration configuration value
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// GetStringSlice retrieves a string slice configuration value.
// A comma separated string (as set through the environment) is split.
func GetStringSlice(key string) []string {
	if v == nil {
		return []string{}
	}
	var out []string
	if s, ok := v.Get(key).(string); ok {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	} else {
		out = v.GetStringSlice(key)
	}
	if out == nil {
		return []string{}
	}
	return out
}

// Set sets a configuration value
func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}

// AllSettings returns all configuration settings as a map
func AllSettings() map[string]interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return v.AllSettings()
}

// ResetForTesting clears the singleton so tests start from a known state.
func ResetForTesting() {
	v = nil
}

// Lifecycle returns the contributor configuration.
func Lifecycle() lifecycle.Config {
	cfg := lifecycle.DefaultConfig()
	if style := GetString(KeyRenderingStyle); style != "" {
		cfg.RenderingStyle = types.DisplayFormat(style)
	}
	if v != nil {
		cfg.GeneratedMarkers = GetStringSlice(KeyGeneratedMarkers)
	}
	if b := GetString(KeyDefaultBranch); b != "" {
		cfg.DefaultBranch = b
	}
	return cfg
}

// Validate reports the settings serve cannot start without.
func Validate() error {
	var missing []string
	for _, key := range []string{KeyBitbucketURL, KeyGraphURL, KeyWebhookSecret} {
		if GetString(key) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	if style := GetString(KeyRenderingStyle); !types.DisplayFormat(style).IsValid() {
		return fmt.Errorf("invalid %s %q", KeyRenderingStyle, style)
	}
	return nil
}
