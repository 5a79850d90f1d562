package playback

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FilePlayer is a headless Player that writes each utterance to a file
// instead of an audio device. Useful for servers and tests; a desktop
// build swaps in a real audio-output Player
type FilePlayer struct {
	dir string

	mu      sync.Mutex
	lastOut string
}

// NewFilePlayer creates a player writing utterances into dir
func NewFilePlayer(dir string) (*FilePlayer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create playback output dir: %w", err)
	}
	return &FilePlayer{dir: dir}, nil
}

// Play writes buf to a uniquely named file and completes immediately
func (p *FilePlayer) Play(buf []byte, done func(err error)) (stop func(), err error) {
	if len(buf) == 0 {
		return nil, fmt.Errorf("empty audio buffer")
	}

	name := fmt.Sprintf("utterance-%s-%s.audio",
		time.Now().UTC().Format("20060102T150405"), uuid.New().String()[:8])
	path := filepath.Join(p.dir, name)

	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write utterance: %w", err)
	}

	p.mu.Lock()
	p.lastOut = path
	p.mu.Unlock()

	// done must never fire after stop; whichever claims the once first wins
	var once sync.Once
	go once.Do(func() { done(nil) })

	return func() {
		once.Do(func() {})
	}, nil
}

// LastOutput returns the path of the most recently written utterance
func (p *FilePlayer) LastOutput() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastOut
}
