package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
)

// DefaultPreferencesFile is used when preferences.file is not set.
const DefaultPreferencesFile = "preferences.toml"

// ChannelPreferences lists contributor ids switched off for a channel.
type ChannelPreferences struct {
	Disabled []string `toml:"disabled"`
}

// PreferencesFile is the on-disk layout of the preferences file.
type PreferencesFile struct {
	Default  ChannelPreferences            `toml:"default"`
	Channels map[string]ChannelPreferences `toml:"channels"`
}

// Preferences holds per-channel action preferences. It is safe for
// concurrent use and can follow edits to its file with Watch.
type Preferences struct {
	path string

	mu   sync.RWMutex
	file PreferencesFile
}

// PreferencesPath resolves the preferences file location: preferences.file
// if set, otherwise next to the loaded config file, otherwise in the
// working directory's .bblifecycle.
func PreferencesPath() string {
	if p := GetString(KeyPreferencesFile); p != "" {
		return p
	}
	if used := ConfigFileUsed(); used != "" {
		return filepath.Join(filepath.Dir(used), DefaultPreferencesFile)
	}
	return filepath.Join(DirName, DefaultPreferencesFile)
}

// LoadPreferences reads the preferences at path. A missing file yields
// empty preferences.
func LoadPreferences(path string) (*Preferences, error) {
	p := &Preferences{path: path}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Path returns the file the preferences were loaded from.
func (p *Preferences) Path() string { return p.path }

// Reload re-reads the preferences file. On error the previous
// preferences stay in effect.
func (p *Preferences) Reload() error {
	var f PreferencesFile
	data, err := os.ReadFile(p.path) // #nosec G304 - path from config
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return fmt.Errorf("failed to read preferences: %w", err)
	default:
		if err := toml.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("failed to parse preferences %s: %w", p.path, err)
		}
	}
	p.mu.Lock()
	p.file = f
	p.mu.Unlock()
	return nil
}

// Disabled returns the contributor ids disabled for channel, including
// those disabled for every channel.
func (p *Preferences) Disabled(channel string) map[string]bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]bool)
	for _, id := range p.file.Default.Disabled {
		out[id] = true
	}
	if cp, ok := p.file.Channels[channel]; ok {
		for _, id := range cp.Disabled {
			out[id] = true
		}
	}
	return out
}

// SetDisabled switches a contributor off (or back on) for channel and
// writes the file. An empty channel targets the default section.
func (p *Preferences) SetDisabled(channel, id string, disabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cp := p.file.Default
	if channel != "" {
		cp = p.file.Channels[channel]
	}
	cp.Disabled = slices.DeleteFunc(slices.Clone(cp.Disabled), func(s string) bool { return s == id })
	if disabled {
		cp.Disabled = append(cp.Disabled, id)
		slices.Sort(cp.Disabled)
	}
	if channel == "" {
		p.file.Default = cp
	} else {
		if p.file.Channels == nil {
			p.file.Channels = make(map[string]ChannelPreferences)
		}
		p.file.Channels[channel] = cp
	}
	return p.save()
}

func (p *Preferences) save() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0750); err != nil {
		return fmt.Errorf("failed to create preferences directory: %w", err)
	}
	f, err := os.Create(p.path) // #nosec G304 - path from config
	if err != nil {
		return fmt.Errorf("failed to create preferences: %w", err)
	}
	defer func() { _ = f.Close() }()

	encoder := toml.NewEncoder(f)
	encoder.Indent = ""
	if err := encoder.Encode(p.file); err != nil {
		return fmt.Errorf("failed to encode preferences: %w", err)
	}
	return nil
}

// Watch reloads the preferences whenever the file changes, until ctx is
// done. The containing directory is watched so that editors replacing the
// file are noticed.
func (p *Preferences) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create preferences directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	name := filepath.Base(p.path)
	var debounceTimer *time.Timer
	debounceDelay := 200 * time.Millisecond
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceDelay, func() {
				if err := p.Reload(); err != nil {
					log.Printf("preferences: reload failed: %v", err)
					return
				}
				log.Printf("preferences: reloaded %s", p.path)
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("preferences: watcher error: %v", err)
		}
	}
}
