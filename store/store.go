// Package store persists user presets and panel settings as JSON
// documents in the data directory.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

const (
	presetsFile  = "user_presets.json"
	settingsFile = "user_settings.json"
)

// Preset is a saved named prompt pair.
type Preset struct {
	Prompt   string `json:"prompt"`
	Negative string `json:"negative"`
}

// Settings holds the last-used generation parameters for a user.
type Settings struct {
	Size      string  `json:"size"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Steps     int     `json:"steps"`
	CfgScale  float64 `json:"cfg_scale"`
	Sampler   string  `json:"sampler"`
	Scheduler string  `json:"scheduler"`
	Preset    string  `json:"preset,omitempty"`
}

// Store reads and writes the preset and settings documents. All
// operations take the whole-file lock, writes go through a temp file
// and rename so a crash can't leave a truncated document behind.
type Store struct {
	dir string
	mu  sync.Mutex
}

// New creates a store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Presets returns all presets saved by the given user, empty map if none.
func (s *Store) Presets(userID string) (map[string]Preset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.loadPresets()
	if err != nil {
		return nil, err
	}
	res, ok := all[userID]
	if !ok {
		return map[string]Preset{}, nil
	}
	return res, nil
}

// PresetNames returns the user's preset names, sorted.
func (s *Store) PresetNames(userID string) ([]string, error) {
	presets, err := s.Presets(userID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// SavePreset creates or replaces a named preset for the user and
// persists immediately.
func (s *Store) SavePreset(userID, name string, p Preset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.loadPresets()
	if err != nil {
		return err
	}
	if all[userID] == nil {
		all[userID] = map[string]Preset{}
	}
	all[userID][name] = p
	return s.writeJSON(presetsFile, all)
}

// DeletePreset removes a named preset. It reports whether the preset
// existed; deleting a missing preset is not an error.
func (s *Store) DeletePreset(userID, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.loadPresets()
	if err != nil {
		return false, err
	}
	user, ok := all[userID]
	if !ok {
		return false, nil
	}
	if _, ok = user[name]; !ok {
		return false, nil
	}
	delete(user, name)
	if len(user) == 0 {
		delete(all, userID)
	}
	return true, s.writeJSON(presetsFile, all)
}

// Settings returns the user's saved settings and whether any were found.
func (s *Store) Settings(userID string) (Settings, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := map[string]Settings{}
	if err := s.readJSON(settingsFile, &all); err != nil {
		return Settings{}, false, err
	}
	res, ok := all[userID]
	return res, ok, nil
}

// SaveSettings upserts the user's settings and persists immediately.
func (s *Store) SaveSettings(userID string, st Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := map[string]Settings{}
	if err := s.readJSON(settingsFile, &all); err != nil {
		return err
	}
	all[userID] = st
	return s.writeJSON(settingsFile, all)
}

func (s *Store) loadPresets() (map[string]map[string]Preset, error) {
	all := map[string]map[string]Preset{}
	if err := s.readJSON(presetsFile, &all); err != nil {
		return nil, err
	}
	return all, nil
}

// readJSON decodes the named document into v, a missing file reads as
// the empty document.
func (s *Store) readJSON(name string, v interface{}) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err = json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}

func (s *Store) writeJSON(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err = os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}
