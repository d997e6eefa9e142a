package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/types"
)

func writeProjectConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	dir := filepath.Join(tmpDir, DirName)
	if err := os.MkdirAll(dir, 0750); err != nil {
		t.Fatalf("failed to create %s directory: %v", DirName, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return tmpDir
}

func TestInitialize(t *testing.T) {
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	if v == nil {
		t.Fatal("viper instance is nil after Initialize()")
	}
	if got := ConfigFileUsed(); got != "" {
		t.Errorf("ConfigFileUsed() = %q, want none", got)
	}
}

func TestDefaults(t *testing.T) {
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}

	tests := []struct {
		key      string
		expected interface{}
		getter   func(string) interface{}
	}{
		{KeyRenderingStyle, "full", func(k string) interface{} { return GetString(k) }},
		{KeyDefaultBranch, "master", func(k string) interface{} { return GetString(k) }},
		{KeyWebhookAddr, ":8080", func(k string) interface{} { return GetString(k) }},
		{KeyWebhookTokenTTL, 7 * 24 * time.Hour, func(k string) interface{} { return GetDuration(k) }},
		{KeyBitbucketURL, "", func(k string) interface{} { return GetString(k) }},
		{KeyNATSURL, "", func(k string) interface{} { return GetString(k) }},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got := tt.getter(tt.key)
			if got != tt.expected {
				t.Errorf("GetXXX(%q) = %v, want %v", tt.key, got, tt.expected)
			}
		})
	}

	markers := GetStringSlice(KeyGeneratedMarkers)
	if len(markers) != 1 || markers[0] != "[atomist:generated]" {
		t.Errorf("GetStringSlice(%q) = %v, want [[atomist:generated]]", KeyGeneratedMarkers, markers)
	}
}

func TestEnvironmentBinding(t *testing.T) {
	tests := []struct {
		envVar   string
		key      string
		value    string
		expected interface{}
		getter   func(string) interface{}
	}{
		{"BBL_BITBUCKET_URL", KeyBitbucketURL, "https://bb.example.com", "https://bb.example.com", func(k string) interface{} { return GetString(k) }},
		{"BBL_WEBHOOK_ADDR", KeyWebhookAddr, ":9090", ":9090", func(k string) interface{} { return GetString(k) }},
		{"BBL_WEBHOOK_TOKEN_TTL", KeyWebhookTokenTTL, "1h", time.Hour, func(k string) interface{} { return GetDuration(k) }},
		{"BBL_LIFECYCLE_RENDERING_STYLE", KeyRenderingStyle, "compact", "compact", func(k string) interface{} { return GetString(k) }},
		{"BBL_SLACK_CHANNEL", KeySlackChannel, "C123", "C123", func(k string) interface{} { return GetString(k) }},
	}

	for _, tt := range tests {
		t.Run(tt.envVar, func(t *testing.T) {
			t.Setenv(tt.envVar, tt.value)

			if err := Initialize(); err != nil {
				t.Fatalf("Initialize() returned error: %v", err)
			}

			got := tt.getter(tt.key)
			if got != tt.expected {
				t.Errorf("GetXXX(%q) with %s=%s = %v, want %v", tt.key, tt.envVar, tt.value, got, tt.expected)
			}
		})
	}
}

func TestEnvironmentStringSlice(t *testing.T) {
	t.Setenv("BBL_LIFECYCLE_GENERATED_MARKERS", "[bot], [ci skip]")
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}

	got := GetStringSlice(KeyGeneratedMarkers)
	if len(got) != 2 || got[0] != "[bot]" || got[1] != "[ci skip]" {
		t.Errorf("GetStringSlice(%q) = %q, want [[bot] [ci skip]]", KeyGeneratedMarkers, got)
	}
}

func TestConfigFile(t *testing.T) {
	dir := writeProjectConfig(t, `
bitbucket:
  url: https://bitbucket.example.com
  username: lifecycle
lifecycle:
  rendering-style: compact
  generated-markers:
    - "[bot]"
webhook:
  token-ttl: 48h
`)
	// Discovery walks up from a nested directory.
	nested := filepath.Join(dir, "a", "b")
	if err := os.MkdirAll(nested, 0750); err != nil {
		t.Fatal(err)
	}
	t.Chdir(nested)

	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}

	if got := GetString(KeyBitbucketURL); got != "https://bitbucket.example.com" {
		t.Errorf("GetString(%s) = %q, want %q", KeyBitbucketURL, got, "https://bitbucket.example.com")
	}
	if got := GetString(KeyBitbucketUsername); got != "lifecycle" {
		t.Errorf("GetString(%s) = %q, want %q", KeyBitbucketUsername, got, "lifecycle")
	}
	if got := GetDuration(KeyWebhookTokenTTL); got != 48*time.Hour {
		t.Errorf("GetDuration(%s) = %v, want 48h", KeyWebhookTokenTTL, got)
	}
	// Unset keys keep their defaults.
	if got := GetString(KeyWebhookAddr); got != ":8080" {
		t.Errorf("GetString(%s) = %q, want %q", KeyWebhookAddr, got, ":8080")
	}
	if got := ConfigFileUsed(); filepath.Base(filepath.Dir(got)) != DirName {
		t.Errorf("ConfigFileUsed() = %q, want a file in %s", got, DirName)
	}

	cfg := Lifecycle()
	if cfg.RenderingStyle != types.FormatCompact {
		t.Errorf("Lifecycle().RenderingStyle = %q, want %q", cfg.RenderingStyle, types.FormatCompact)
	}
	if len(cfg.GeneratedMarkers) != 1 || cfg.GeneratedMarkers[0] != "[bot]" {
		t.Errorf("Lifecycle().GeneratedMarkers = %v, want [[bot]]", cfg.GeneratedMarkers)
	}
	if cfg.DefaultBranch != "master" {
		t.Errorf("Lifecycle().DefaultBranch = %q, want master", cfg.DefaultBranch)
	}
}

func TestUserConfigFile(t *testing.T) {
	userDir := filepath.Join(os.Getenv("XDG_CONFIG_HOME"), "bblifecycle")
	if err := os.MkdirAll(userDir, 0750); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(userDir, "config.yaml")
	if err := os.WriteFile(path, []byte("graph:\n  url: https://graph.example.com\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Remove(path) })
	t.Chdir(t.TempDir())

	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	if got := GetString(KeyGraphURL); got != "https://graph.example.com" {
		t.Errorf("GetString(%s) = %q, want %q", KeyGraphURL, got, "https://graph.example.com")
	}

	// A project config shadows the user config entirely.
	t.Chdir(writeProjectConfig(t, "nats:\n  url: nats://localhost:4222\n"))
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	if got := GetString(KeyGraphURL); got != "" {
		t.Errorf("GetString(%s) = %q, want empty with a project config", KeyGraphURL, got)
	}
	if got := GetString(KeyNATSURL); got != "nats://localhost:4222" {
		t.Errorf("GetString(%s) = %q, want %q", KeyNATSURL, got, "nats://localhost:4222")
	}
}

func TestConfigPrecedence(t *testing.T) {
	t.Chdir(writeProjectConfig(t, "slack:\n  channel: from-file\n"))

	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	if got := GetString(KeySlackChannel); got != "from-file" {
		t.Errorf("GetString(%s) from config file = %q, want from-file", KeySlackChannel, got)
	}

	t.Setenv("BBL_SLACK_CHANNEL", "from-env")
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	if got := GetString(KeySlackChannel); got != "from-env" {
		t.Errorf("GetString(%s) with env var = %q, want from-env (env should override config)", KeySlackChannel, got)
	}
}

func TestInvalidConfigFile(t *testing.T) {
	t.Chdir(writeProjectConfig(t, "bitbucket: [unclosed\n"))
	if err := Initialize(); err == nil {
		t.Error("Initialize() with malformed YAML returned nil error")
	}
}

func TestSetAndGet(t *testing.T) {
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}

	Set("test-key", "test-value")
	if got := GetString("test-key"); got != "test-value" {
		t.Errorf("GetString(test-key) = %q, want \"test-value\"", got)
	}

	Set("test-bool", true)
	if got := GetBool("test-bool"); got != true {
		t.Errorf("GetBool(test-bool) = %v, want true", got)
	}

	Set("test-int", 42)
	if got := GetInt("test-int"); got != 42 {
		t.Errorf("GetInt(test-int) = %d, want 42", got)
	}
}

func TestAllSettings(t *testing.T) {
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}

	Set("custom-key", "custom-value")

	settings := AllSettings()
	if val, ok := settings["custom-key"]; !ok || val != "custom-value" {
		t.Errorf("AllSettings() missing or incorrect custom-key: got %v", val)
	}
	if _, ok := settings["webhook"]; !ok {
		t.Error("AllSettings() should include defaulted webhook settings")
	}
}

func TestValidate(t *testing.T) {
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	if err := Validate(); err == nil {
		t.Fatal("Validate() with no endpoints returned nil error")
	}

	Set(KeyBitbucketURL, "https://bb")
	Set(KeyGraphURL, "https://graph")
	Set(KeyWebhookSecret, "s3cret")
	if err := Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}

	Set(KeyRenderingStyle, "verbose")
	if err := Validate(); err == nil {
		t.Error("Validate() with unknown rendering style returned nil error")
	}
}

func TestNilViperBehavior(t *testing.T) {
	savedV := v
	v = nil
	defer func() { v = savedV }()

	// All getters should return zero values without panicking
	if got := GetString("any-key"); got != "" {
		t.Errorf("GetString with nil viper = %q, want \"\"", got)
	}
	if got := GetBool("any-key"); got != false {
		t.Errorf("GetBool with nil viper = %v, want false", got)
	}
	if got := GetInt("any-key"); got != 0 {
		t.Errorf("GetInt with nil viper = %d, want 0", got)
	}
	if got := GetDuration("any-key"); got != 0 {
		t.Errorf("GetDuration with nil viper = %v, want 0", got)
	}
	if got := GetStringSlice("any-key"); got == nil || len(got) != 0 {
		t.Errorf("GetStringSlice with nil viper = %v, want empty slice", got)
	}
	if got := AllSettings(); got == nil || len(got) != 0 {
		t.Errorf("AllSettings with nil viper = %v, want empty map", got)
	}
	if got := Lifecycle(); got.RenderingStyle != types.FormatFull || len(got.GeneratedMarkers) != 1 {
		t.Errorf("Lifecycle with nil viper = %+v, want defaults", got)
	}

	Set("any-key", "any-value") // no-op
}
