package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePreferences = `
[default]
disabled = ["tag"]

[channels.svc-builds]
disabled = ["delete"]
`

func writePreferences(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func TestLoadPreferencesMissing(t *testing.T) {
	p, err := LoadPreferences(filepath.Join(t.TempDir(), "preferences.toml"))
	require.NoError(t, err)
	assert.Empty(t, p.Disabled("anything"))
}

func TestPreferencesDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preferences.toml")
	writePreferences(t, path, samplePreferences)

	p, err := LoadPreferences(path)
	require.NoError(t, err)

	assert.Equal(t, map[string]bool{
		"tag":    true,
		"delete": true,
	}, p.Disabled("svc-builds"))
	assert.Equal(t, map[string]bool{"tag": true}, p.Disabled("other"))
}

func TestLoadPreferencesInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preferences.toml")
	writePreferences(t, path, "[default\n")

	_, err := LoadPreferences(path)
	assert.Error(t, err)
}

func TestReloadKeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preferences.toml")
	writePreferences(t, path, samplePreferences)
	p, err := LoadPreferences(path)
	require.NoError(t, err)

	writePreferences(t, path, "not = [valid")
	assert.Error(t, p.Reload())
	assert.True(t, p.Disabled("x")["tag"])
}

func TestSetDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "preferences.toml")
	p, err := LoadPreferences(path)
	require.NoError(t, err)

	require.NoError(t, p.SetDisabled("svc-builds", "tag", true))
	require.NoError(t, p.SetDisabled("", "display_goals", true))
	// Disabling twice keeps a single entry.
	require.NoError(t, p.SetDisabled("svc-builds", "tag", true))

	reloaded, err := LoadPreferences(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{
		"tag":           true,
		"display_goals": true,
	}, reloaded.Disabled("svc-builds"))

	require.NoError(t, reloaded.SetDisabled("svc-builds", "tag", false))
	assert.Equal(t, map[string]bool{"display_goals": true}, reloaded.Disabled("svc-builds"))
}

func TestPreferencesPath(t *testing.T) {
	ResetForTesting()
	t.Cleanup(ResetForTesting)
	assert.Equal(t, filepath.Join(DirName, DefaultPreferencesFile), PreferencesPath())

	require.NoError(t, Initialize())
	Set(KeyPreferencesFile, "/etc/bblifecycle/prefs.toml")
	assert.Equal(t, "/etc/bblifecycle/prefs.toml", PreferencesPath())
}

func TestPreferencesWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preferences.toml")
	p, err := LoadPreferences(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Watch(ctx) }()

	// Keep writing until the watcher is registered and picks a write up.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte(samplePreferences), 0600)
		return p.Disabled("svc-builds")["delete"]
	}, 5*time.Second, 250*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
