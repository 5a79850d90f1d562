package session

import (
	"sync"

	"github.com/aurachat/voice-client/internal/observability"
)

// BusyFlag serializes generation activity across pipelines. The voice
// coordinator owns one instance; text and image pipelines share the
// same handle so only one activity runs at a time
type BusyFlag struct {
	mu   sync.Mutex
	busy bool
}

// NewBusyFlag creates a released busy flag
func NewBusyFlag() *BusyFlag {
	return &BusyFlag{}
}

// Set marks an activity in progress. Returns false if one already is
func (b *BusyFlag) Set() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.busy {
		return false
	}
	b.busy = true
	observability.SetBusy(true)
	return true
}

// Release clears the flag. Releasing an already-released flag is a no-op
func (b *BusyFlag) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.busy {
		return
	}
	b.busy = false
	observability.SetBusy(false)
}

// IsBusy reports whether an activity is in progress
func (b *BusyFlag) IsBusy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.busy
}
