package selfupdate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/jarvis-run/turnengine/internal/config"
)

// State persists the self-update checker's last known findings across
// process runs, alongside the rest of the CLI's config directory.
type State struct {
	LastChecked     time.Time `json:"last_checked"`
	LatestVersion   string    `json:"latest_version"`
	LastError       string    `json:"last_error,omitempty"`
	NotifiedVersion string    `json:"notified_version,omitempty"`
	LastNotified    time.Time `json:"last_notified"`
}

const stateFileName = "update-check.json"

// LoadState reads the update-checker state from the user's config directory.
func LoadState() (*State, error) {
	configDir, err := config.GetConfigDir()
	if err != nil {
		return nil, err
	}
	return loadStateFromDir(configDir)
}

// SaveState writes the update-checker state to the user's config directory.
func SaveState(state *State) error {
	configDir, err := config.GetConfigDir()
	if err != nil {
		return err
	}
	return saveStateToDir(configDir, state)
}

func loadStateFromDir(dir string) (*State, error) {
	data, err := os.ReadFile(filepath.Join(dir, stateFileName))
	if err != nil {
		return nil, err
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func saveStateToDir(dir string, state *State) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, stateFileName), data, 0o644)
}
