package settings

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewStore_Defaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	s := store.Snapshot()
	if s.Enabled {
		t.Error("Expected voice disabled by default")
	}
	if !s.TTSEnabled {
		t.Error("Expected TTS enabled by default")
	}
	if s.STTLanguage != "en" {
		t.Errorf("Expected default language 'en', got %q", s.STTLanguage)
	}
	if s.InteractionMode != ModeHybrid {
		t.Errorf("Expected default mode %q, got %q", ModeHybrid, s.InteractionMode)
	}
	if s.TTSSpeed != 1.0 || s.TTSPitch != 1.0 {
		t.Errorf("Expected speed/pitch 1.0, got %v/%v", s.TTSSpeed, s.TTSPitch)
	}
}

func TestStore_UpdatePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	err = store.Update(func(s *Settings) {
		s.Enabled = true
		s.STTLanguage = "de"
		s.TTSSpeaker = "p225"
		s.InteractionMode = ModeVoiceOnly
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	// A second store over the same file sees the saved values
	reloaded, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore reload failed: %v", err)
	}

	s := reloaded.Snapshot()
	if !s.Enabled {
		t.Error("Expected enabled=true after reload")
	}
	if s.STTLanguage != "de" {
		t.Errorf("Expected language 'de', got %q", s.STTLanguage)
	}
	if s.TTSSpeaker != "p225" {
		t.Errorf("Expected speaker 'p225', got %q", s.TTSSpeaker)
	}
	if s.InteractionMode != ModeVoiceOnly {
		t.Errorf("Expected mode %q, got %q", ModeVoiceOnly, s.InteractionMode)
	}
}

func TestStore_SnapshotIsCopy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	snap := store.Snapshot()
	snap.Enabled = true

	if store.Snapshot().Enabled {
		t.Error("Mutating a snapshot must not affect the store")
	}
}

func TestNewStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewStore(path); err == nil {
		t.Error("Expected error for corrupt settings file")
	}
}
