// Package settings persists the user's voice preferences as an opaque
// JSON bundle, the desktop analogue of the browser's localStorage entry.
// Components read snapshots; the settings UI mutates through Update.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Interaction modes
const (
	ModeHybrid    = "hybrid"     // transcript echo and reply synthesis
	ModeVoiceOnly = "voice_only" // no textual echo, no typed input
	ModeTextOnly  = "text_only"  // no reply synthesis
)

// Settings is the persisted voice preference bundle
type Settings struct {
	Enabled         bool    `json:"enabled"`
	MicID           string  `json:"micId"`
	STTLanguage     string  `json:"sttLanguage"`
	TTSEnabled      bool    `json:"ttsEnabled"`
	TTSSpeaker      string  `json:"ttsSpeaker"`
	TTSSpeed        float64 `json:"ttsSpeed"`
	TTSPitch        float64 `json:"ttsPitch"`
	InteractionMode string  `json:"interactionMode"`

	// Preferred synthesis model; takes precedence over whatever model the
	// backend reports as currently loaded
	TTSModel string `json:"ttsModel"`
}

// Defaults returns the settings used before the user has saved anything
func Defaults() Settings {
	return Settings{
		Enabled:         false,
		MicID:           "default",
		STTLanguage:     "en",
		TTSEnabled:      true,
		TTSSpeaker:      "default",
		TTSSpeed:        1.0,
		TTSPitch:        1.0,
		InteractionMode: ModeHybrid,
	}
}

// Store holds settings in memory and persists them to a JSON file
type Store struct {
	mu       sync.RWMutex
	path     string
	settings Settings
}

// NewStore creates a store backed by the given file path. If the file
// exists it is loaded; otherwise defaults apply until the first Save
func NewStore(path string) (*Store, error) {
	s := &Store{
		path:     path,
		settings: Defaults(),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	if err := json.Unmarshal(data, &s.settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings file %s: %w", path, err)
	}
	return s, nil
}

// Snapshot returns a copy of the current settings
func (s *Store) Snapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Update applies fn to the settings under lock and persists the result
func (s *Store) Update(fn func(*Settings)) error {
	s.mu.Lock()
	fn(&s.settings)
	snapshot := s.settings
	s.mu.Unlock()

	return s.persist(snapshot)
}

func (s *Store) persist(snapshot Settings) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create settings dir: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace settings file: %w", err)
	}
	return nil
}
