// Package configfile persists the runtime's settings file: UTF-8 JSON with
// camelCase keys, atomic writes, owner-only permissions, and unknown fields
// preserved across load/save cycles.
package configfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gq3171/piagent/internal/msg"
)

// Settings is the persisted configuration. Fields unknown to this build are
// kept in Extra and written back untouched.
type Settings struct {
	Model               string                 `json:"model,omitempty"`
	Provider            string                 `json:"provider,omitempty"`
	ThinkingLevel       msg.AgentThinkingLevel `json:"thinkingLevel,omitempty"`
	Temperature         *float64               `json:"temperature,omitempty"`
	MaxTokens           int64                  `json:"maxTokens,omitempty"`
	CompactionEnabled   *bool                  `json:"compactionEnabled,omitempty"`
	CompactionThreshold float64                `json:"compactionThreshold,omitempty"`
	KeepRecentMessages  int                    `json:"keepRecentMessages,omitempty"`
	RetryEnabled        *bool                  `json:"retryEnabled,omitempty"`
	MaxRetries          int                    `json:"maxRetries,omitempty"`
	CustomModels        []msg.Model            `json:"customModels,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// settingsAlias avoids recursive MarshalJSON.
type settingsAlias Settings

// MarshalJSON merges the typed fields with the preserved unknown fields.
func (s Settings) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(settingsAlias(s))
	if err != nil {
		return nil, err
	}
	if len(s.Extra) == 0 {
		return known, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for key, value := range s.Extra {
		if _, taken := merged[key]; !taken {
			merged[key] = value
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON splits typed fields from unknown ones.
func (s *Settings) UnmarshalJSON(data []byte) error {
	var alias settingsAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*s = Settings(alias)

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	knownRaw, err := json.Marshal(alias)
	if err != nil {
		return err
	}
	var known map[string]json.RawMessage
	if err := json.Unmarshal(knownRaw, &known); err != nil {
		return err
	}
	for key := range all {
		if _, ok := known[key]; ok {
			delete(all, key)
		}
	}
	// Keys that marshal away under omitempty but are still known.
	for _, key := range []string{"model", "provider", "thinkingLevel", "temperature",
		"maxTokens", "compactionEnabled", "compactionThreshold", "keepRecentMessages",
		"retryEnabled", "maxRetries", "customModels"} {
		delete(all, key)
	}
	if len(all) > 0 {
		s.Extra = all
	}
	return nil
}

// Store loads and saves the settings file.
type Store struct {
	path string
}

// NewStore creates a store over baseDir/settings.json.
func NewStore(baseDir string) *Store {
	return &Store{path: filepath.Join(baseDir, "settings.json")}
}

// Path returns the settings file location.
func (st *Store) Path() string { return st.path }

// Load reads settings; a missing file yields zero settings.
func (st *Store) Load() (Settings, error) {
	data, err := os.ReadFile(st.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Settings{}, nil
		}
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("parse settings: %w", err)
	}
	return s, nil
}

// Save writes settings atomically (temp file + rename) with 0600 perms.
func (st *Store) Save(s Settings) error {
	if err := os.MkdirAll(filepath.Dir(st.path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	tmp := st.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, st.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace settings file: %w", err)
	}
	return nil
}
