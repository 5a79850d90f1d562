// Package recording gates and runs the single microphone capture
// session: it acquires the device, stages captured bytes, emits fixed
// interval chunks to the backend while the session is active, and
// finalizes with a grace-delayed stop signal that a rapid restart
// suppresses.
package recording

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aurachat/voice-client/internal/audio"
	"github.com/aurachat/voice-client/internal/observability"
	"github.com/aurachat/voice-client/internal/protocol"
)

// Start refusal reasons. These are policy refusals, not failures: no
// state changes when one is returned
var (
	ErrVoiceDisabled    = errors.New("voice mode is disabled in settings")
	ErrNotConnected     = errors.New("voice service not connected")
	ErrSTTNotReady      = errors.New("speech-to-text engine not ready on server")
	ErrBusy             = errors.New("another generation activity is in progress")
	ErrAlreadyRecording = errors.New("recording already active")
)

// Gate supplies the preconditions consulted on Start
type Gate interface {
	VoiceEnabled() bool
	Connected() bool
	STTReady() bool
	Busy() bool
}

// Sender transmits client events over the persistent connection
type Sender interface {
	Send(ev protocol.ClientEvent) error
}

// SettingsReader exposes the preferences recording consults
type SettingsReader interface {
	MicID() string
	STTLanguage() string
}

// Controller owns the recording session lifecycle. At most one session
// exists at a time
type Controller struct {
	device   Device
	sender   Sender
	gate     Gate
	settings SettingsReader
	logger   zerolog.Logger

	chunkInterval time.Duration
	stopGrace     time.Duration
	bufSize       int

	mu         sync.Mutex
	active     bool
	generation uint64
	stream     Stream
	ring       *audio.RingBuffer
	quit       chan struct{}
	sessionID  string
	onStopped  func(err error)
}

// NewController creates a recording controller
func NewController(device Device, sender Sender, gate Gate, settings SettingsReader,
	chunkInterval, stopGrace time.Duration, bufSize int, logger zerolog.Logger) *Controller {
	return &Controller{
		device:        device,
		sender:        sender,
		gate:          gate,
		settings:      settings,
		logger:        logger,
		chunkInterval: chunkInterval,
		stopGrace:     stopGrace,
		bufSize:       bufSize,
	}
}

// SetStoppedFunc registers the observer notified when a session ends.
// err is nil for a user-initiated stop and non-nil for an abnormal one
func (c *Controller) SetStoppedFunc(fn func(err error)) {
	c.mu.Lock()
	c.onStopped = fn
	c.mu.Unlock()
}

// Active reports whether a recording session is running
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Start begins a recording session. All gates must hold or a specific
// refusal is returned with no partial state change. Device acquisition
// failures are reported as *DeviceError, also with no state change
func (c *Controller) Start() error {
	c.mu.Lock()

	switch {
	case c.active:
		c.mu.Unlock()
		return ErrAlreadyRecording
	case !c.gate.VoiceEnabled():
		c.mu.Unlock()
		return ErrVoiceDisabled
	case !c.gate.Connected():
		c.mu.Unlock()
		return ErrNotConnected
	case !c.gate.STTReady():
		c.mu.Unlock()
		return ErrSTTNotReady
	case c.gate.Busy():
		c.mu.Unlock()
		return ErrBusy
	}

	micID := c.settings.MicID()
	language := c.settings.STTLanguage()

	stream, err := c.device.Open(micID)
	if err != nil {
		c.mu.Unlock()
		observability.RecordRecording("refused")
		return err
	}

	c.active = true
	c.generation++
	gen := c.generation
	c.stream = stream
	c.ring = audio.NewRingBuffer(c.bufSize)
	c.quit = make(chan struct{})
	c.sessionID = observability.NewSessionID()
	ring := c.ring
	quit := c.quit
	logger := c.logger.With().Str("session_id", c.sessionID).Logger()
	c.mu.Unlock()

	observability.SetRecordingActive(true)
	logger.Info().Str("mic_id", micID).Str("language", language).Msg("Recording started")

	if err := c.sender.Send(protocol.StartVoice{Language: language}); err != nil {
		logger.Error().Err(err).Msg("Failed to signal session start")
	}

	go c.capturePump(gen, stream, ring, logger)
	go c.chunkLoop(gen, ring, quit, logger)

	return nil
}

// Stop finalizes the session. The active flag flips off before any
// teardown so in-flight chunk emissions observe the inactive state and
// suppress transmission. The backend stop signal fires after a grace
// delay, and only if no new session has started in the meantime
func (c *Controller) Stop() {
	c.stop(nil)
}

func (c *Controller) stop(cause error) {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}

	// Flag first: chunk emissions check this before sending
	c.active = false
	gen := c.generation
	stream := c.stream
	c.stream = nil
	quit := c.quit
	c.quit = nil
	if c.ring != nil {
		c.ring.Clear()
	}
	onStopped := c.onStopped
	logger := c.logger.With().Str("session_id", c.sessionID).Logger()
	c.mu.Unlock()

	if quit != nil {
		close(quit)
	}
	if stream != nil {
		if err := stream.Close(); err != nil {
			logger.Warn().Err(err).Msg("Error releasing capture device")
		}
	}

	observability.SetRecordingActive(false)
	if cause != nil {
		observability.RecordRecording("error")
		observability.RecordError("capture_failure", "recording")
		logger.Error().Err(cause).Msg("Recording stopped abnormally")
	} else {
		observability.RecordRecording("completed")
		logger.Info().Msg("Recording stopped")
	}

	// Grace delay lets a final in-flight chunk land before the backend
	// finalizes; a new session started within the window suppresses the
	// stale signal
	time.AfterFunc(c.stopGrace, func() {
		c.mu.Lock()
		stale := c.active || c.generation != gen
		c.mu.Unlock()
		if stale {
			logger.Debug().Msg("Stop signal aborted, session superseded")
			return
		}
		if err := c.sender.Send(protocol.StopVoice{}); err != nil {
			logger.Error().Err(err).Msg("Failed to signal session stop")
		}
	})

	if onStopped != nil {
		onStopped(cause)
	}
}

// capturePump copies raw device output into the staging ring buffer
func (c *Controller) capturePump(gen uint64, stream Stream, ring *audio.RingBuffer, logger zerolog.Logger) {
	buf := make([]byte, 4096)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			if written := ring.Write(buf[:n]); written < n {
				logger.Warn().Int("dropped", n-written).Msg("Capture buffer overflow")
			}
		}
		if err != nil {
			c.mu.Lock()
			current := c.active && c.generation == gen
			c.mu.Unlock()

			if !current {
				// Session already torn down; the read error is the
				// device being released
				return
			}
			if errors.Is(err, io.EOF) {
				// Source exhausted: finalize like a user stop
				c.stop(nil)
				return
			}
			c.stop(err)
			return
		}
	}
}

// chunkLoop emits one audio_chunk per interval while the session is
// active. A chunk drained after a stop request is discarded, never sent
func (c *Controller) chunkLoop(gen uint64, ring *audio.RingBuffer, quit chan struct{}, logger zerolog.Logger) {
	ticker := time.NewTicker(c.chunkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			c.mu.Lock()
			current := c.active && c.generation == gen
			c.mu.Unlock()
			if !current {
				return
			}

			data := ring.Drain()
			if len(data) == 0 {
				continue
			}

			// Re-check after the drain: a concurrent stop must win
			c.mu.Lock()
			current = c.active && c.generation == gen
			c.mu.Unlock()
			if !current {
				return
			}

			if err := c.sender.Send(protocol.AudioChunk{Audio: data}); err != nil {
				logger.Error().Err(err).Msg("Failed to send audio chunk")
				continue
			}
			observability.RecordAudioBytes("sent", int64(len(data)))
		}
	}
}
