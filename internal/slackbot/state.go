package slackbot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// messageState is the serialized form of a posted lifecycle message.
type messageState struct {
	ChannelID string `json:"channel_id"`
	Timestamp string `json:"timestamp"`
}

// menuState is a select menu's signed token. Slack option values are too
// short to carry tokens, so menus reference them by id.
type menuState struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}

// slackState is the top-level persisted state.
type slackState struct {
	Messages map[string]messageState `json:"messages"`
	Menus    map[string]menuState    `json:"menus"`
}

// StateManager persists Slack bot state across restarts: the message each
// lifecycle node was posted as, so re-renders update it in place, and the
// tokens behind posted menus.
type StateManager struct {
	mu       sync.RWMutex
	filePath string
	state    slackState
	now      func() time.Time
}

// NewStateManager creates a StateManager persisting to dir/slack_state.json.
// An empty dir keeps state in memory only.
func NewStateManager(dir string) *StateManager {
	sm := &StateManager{
		state: slackState{
			Messages: make(map[string]messageState),
			Menus:    make(map[string]menuState),
		},
		now: time.Now,
	}
	if dir != "" {
		sm.filePath = filepath.Join(dir, "slack_state.json")
		_ = sm.Load()
	}
	return sm
}

// GetMessage returns the message a node key was posted as, if any.
func (sm *StateManager) GetMessage(key string) (channelID, timestamp string, ok bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	m, exists := sm.state.Messages[key]
	if !exists {
		return "", "", false
	}
	return m.ChannelID, m.Timestamp, true
}

// SetMessage records the message a node key was posted as.
func (sm *StateManager) SetMessage(key, channelID, timestamp string) error {
	sm.mu.Lock()
	sm.state.Messages[key] = messageState{ChannelID: channelID, Timestamp: timestamp}
	sm.mu.Unlock()

	return sm.Save()
}

// SetMenu records the token behind a menu and drops expired menus.
func (sm *StateManager) SetMenu(ref, token string, expires time.Time) error {
	sm.mu.Lock()
	now := sm.now()
	for k, m := range sm.state.Menus {
		if now.After(m.Expires) {
			delete(sm.state.Menus, k)
		}
	}
	sm.state.Menus[ref] = menuState{Token: token, Expires: expires}
	sm.mu.Unlock()

	return sm.Save()
}

// GetMenu returns the token behind a menu.
func (sm *StateManager) GetMenu(ref string) (string, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	m, ok := sm.state.Menus[ref]
	if !ok {
		return "", false
	}
	return m.Token, true
}

// Save writes state to disk using atomic write (temp file + rename).
func (sm *StateManager) Save() error {
	if sm.filePath == "" {
		return nil
	}
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	dir := filepath.Dir(sm.filePath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	data, err := json.MarshalIndent(sm.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmpPath := sm.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, sm.filePath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}

// Load reads state from disk. Returns nil if file doesn't exist yet.
func (sm *StateManager) Load() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	data, err := os.ReadFile(sm.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read state file: %w", err)
	}

	var state slackState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("parse state file: %w", err)
	}

	if state.Messages == nil {
		state.Messages = make(map[string]messageState)
	}
	if state.Menus == nil {
		state.Menus = make(map[string]menuState)
	}

	sm.state = state
	return nil
}

// GetFilePath returns the path to the state file.
func (sm *StateManager) GetFilePath() string {
	return sm.filePath
}
