// Package session drives the voice interaction state machine: it
// consumes decoded backend events and local commands, routes transcripts
// to the text pipeline per the interaction mode, requests reply
// synthesis, and keeps the shared busy flag honest through every exit
// path.
package session

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aurachat/voice-client/internal/observability"
	"github.com/aurachat/voice-client/internal/playback"
	"github.com/aurachat/voice-client/internal/protocol"
	"github.com/aurachat/voice-client/internal/settings"
)

// State is the coordinator's position in the voice interaction cycle
type State int

const (
	StateIdle State = iota
	StateRecording
	StateAwaitingTranscript
	StateAwaitingSynthesis
	StateSpeaking
)

// String returns a human-readable state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateAwaitingTranscript:
		return "awaiting_transcript"
	case StateAwaitingSynthesis:
		return "awaiting_synthesis"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// Recorder is the recording session surface the coordinator drives
type Recorder interface {
	Start() error
	Stop()
	Active() bool
}

// Queue is the playback surface the coordinator drives
type Queue interface {
	Enqueue(chunk []byte)
	Reset()
	FlushAndPlay() (started bool, err error)
	Stop()
}

// Connection is the transport surface the coordinator consumes
type Connection interface {
	Connected() bool
	Send(ev protocol.ClientEvent) error
}

// SettingsSource provides preference snapshots
type SettingsSource interface {
	Snapshot() settings.Settings
}

// ForwardFunc hands a transcript to the text-generation pipeline as if
// the user had typed it
type ForwardFunc func(transcript string)

// EchoFunc displays the transcript as the user's message
type EchoFunc func(transcript string)

// StatusFunc surfaces transient status text
type StatusFunc func(message string)

// ErrorFunc surfaces a user-visible error message
type ErrorFunc func(message string)

// Coordinator owns the voice interaction state machine. All inbound
// events and local commands funnel through it; shared state changes
// happen under one lock so callback ordering hazards reduce to
// straightforward state checks
type Coordinator struct {
	conn     Connection
	recorder Recorder
	queue    Queue
	settings SettingsSource
	busy     *BusyFlag
	logger   zerolog.Logger

	mu    sync.Mutex
	state State

	forward  ForwardFunc
	echo     EchoFunc
	onStatus StatusFunc
	onError  ErrorFunc
}

// NewCoordinator creates the coordinator. busy is the shared activity
// flag, also handed to the text and image pipelines
func NewCoordinator(conn Connection, recorder Recorder, queue Queue,
	source SettingsSource, busy *BusyFlag, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		conn:     conn,
		recorder: recorder,
		queue:    queue,
		settings: source,
		busy:     busy,
		logger:   logger,
		state:    StateIdle,
	}
}

// SetForwardFunc wires the text-generation pipeline
func (c *Coordinator) SetForwardFunc(fn ForwardFunc) {
	c.mu.Lock()
	c.forward = fn
	c.mu.Unlock()
}

// SetEchoFunc wires transcript display
func (c *Coordinator) SetEchoFunc(fn EchoFunc) {
	c.mu.Lock()
	c.echo = fn
	c.mu.Unlock()
}

// SetStatusFunc wires transient status display
func (c *Coordinator) SetStatusFunc(fn StatusFunc) {
	c.mu.Lock()
	c.onStatus = fn
	c.mu.Unlock()
}

// SetErrorFunc wires error display
func (c *Coordinator) SetErrorFunc(fn ErrorFunc) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// State returns the current machine state
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Busy returns the shared activity flag
func (c *Coordinator) Busy() *BusyFlag {
	return c.busy
}

// StartRecording begins a voice capture session. Gate refusals come
// back from the recorder unchanged; on success the busy flag is held
// until the interaction cycle completes
func (c *Coordinator) StartRecording() error {
	if err := c.recorder.Start(); err != nil {
		return err
	}
	c.busy.Set()
	c.setState(StateRecording)
	return nil
}

// StopRecording ends the capture session; the busy flag stays held
// while the transcript is pending
func (c *Coordinator) StopRecording() {
	c.recorder.Stop()
	c.mu.Lock()
	if c.state == StateRecording {
		c.setStateLocked(StateAwaitingTranscript)
	}
	c.mu.Unlock()
}

// HandleRecordingStopped is the recorder's session-end callback. A nil
// err is a normal stop; otherwise the cycle unwinds
func (c *Coordinator) HandleRecordingStopped(err error) {
	if err != nil {
		c.surfaceError("Recording stopped unexpectedly. Please try again.")
		c.unwind()
		return
	}
	c.mu.Lock()
	if c.state == StateRecording {
		c.setStateLocked(StateAwaitingTranscript)
	}
	c.mu.Unlock()
}

// Synthesize requests spoken audio for the given text, normally the
// assistant's reply. If any gate fails the request is dropped and the
// busy flag released so no caller waits for audio that will never come
func (c *Coordinator) Synthesize(text string) {
	snap := c.settings.Snapshot()
	text = strings.TrimSpace(text)

	switch {
	case !c.conn.Connected():
		c.logger.Warn().Msg("Synthesis dropped, not connected")
	case text == "":
		c.logger.Debug().Msg("Synthesis dropped, empty text")
	case !snap.TTSEnabled || snap.InteractionMode == settings.ModeTextOnly:
		c.logger.Debug().Msg("Synthesis dropped, disabled by settings")
	default:
		// Leftovers from an abandoned request must not leak into this one
		c.queue.Reset()
		req := protocol.RequestTTS{
			Text:    text,
			Speaker: snap.TTSSpeaker,
			Speed:   snap.TTSSpeed,
			Pitch:   snap.TTSPitch,
		}
		if err := c.conn.Send(req); err != nil {
			c.logger.Error().Err(err).Msg("Failed to request synthesis")
			c.busy.Release()
			c.setState(StateIdle)
			return
		}
		c.busy.Set()
		c.setState(StateAwaitingSynthesis)
		return
	}

	c.busy.Release()
	c.setState(StateIdle)
}

// HandleServerEvent is the single dispatch entry point for decoded
// backend events
func (c *Coordinator) HandleServerEvent(ev protocol.ServerEvent) {
	switch v := ev.(type) {
	case *protocol.VoiceStarted:
		c.surfaceStatus(v.Message)
	case *protocol.VoiceProcessing:
		c.surfaceStatus(v.Message)
		c.mu.Lock()
		if c.state == StateRecording {
			c.setStateLocked(StateAwaitingTranscript)
		}
		c.mu.Unlock()
	case *protocol.VoiceSynthesis:
		c.surfaceStatus(v.Message)
	case *protocol.VoiceResult:
		c.handleResult(v)
	case *protocol.VoiceError:
		c.surfaceError(v.Message)
		observability.RecordError("backend_error", "session")
		c.unwind()
	case *protocol.VoiceAudioChunk:
		c.queue.Enqueue(v.Audio)
	case *protocol.VoiceSpeakEnd:
		c.handleSpeakEnd()
	}
}

// handleResult processes the transcription outcome per the interaction
// mode. The busy flag stays held only when a synthesized reply is still
// expected
func (c *Coordinator) handleResult(res *protocol.VoiceResult) {
	snap := c.settings.Snapshot()

	if res.Error != "" {
		c.surfaceError(res.Error)
	}

	transcript := strings.TrimSpace(res.Transcript)
	if transcript == "" {
		// Nothing to forward; the cycle ends here
		c.busy.Release()
		c.setState(StateIdle)
		return
	}

	c.mu.Lock()
	echo := c.echo
	forward := c.forward
	c.setStateLocked(StateIdle)
	c.mu.Unlock()

	// text_only expects no spoken reply; the flag must be free before
	// the transcript reaches the text pipeline, which may claim it at
	// once
	if snap.InteractionMode == settings.ModeTextOnly {
		c.busy.Release()
	}

	if echo != nil && snap.InteractionMode != settings.ModeVoiceOnly {
		echo(transcript)
	}
	if forward != nil {
		forward(transcript)
	}
}

// handleSpeakEnd flushes the accumulated utterance into one playback.
// Speaking is entered before the player starts: the completion callback
// may fire during FlushAndPlay, and the transition it undoes must
// already be in place when it does
func (c *Coordinator) handleSpeakEnd() {
	c.setState(StateSpeaking)
	started, err := c.queue.FlushAndPlay()
	if err != nil {
		c.surfaceError("Could not play the voice reply.")
		observability.RecordError("playback_failure", "session")
		c.busy.Release()
		c.setState(StateIdle)
		return
	}
	if !started {
		// Empty queue or synthesis disabled in the interim
		c.busy.Release()
		c.setState(StateIdle)
	}
}

// HandlePlaybackComplete is the queue's completion callback. Only the
// generation flow owns the busy flag; replays and samples never touch it
func (c *Coordinator) HandlePlaybackComplete(kind playback.Kind, err error) {
	if err != nil {
		c.surfaceError("Voice playback failed.")
	}
	if kind != playback.KindGeneration {
		return
	}
	c.busy.Release()
	c.setState(StateIdle)
}

// StopPlayback halts the current playback and ends the cycle
func (c *Coordinator) StopPlayback() {
	c.queue.Stop()
	c.mu.Lock()
	speaking := c.state == StateSpeaking
	if speaking {
		c.setStateLocked(StateIdle)
	}
	c.mu.Unlock()
	if speaking {
		c.busy.Release()
	}
}

// HandleMicChanged restarts an active capture session on the newly
// selected device. Idle sessions need nothing; the next start picks up
// the new device on its own
func (c *Coordinator) HandleMicChanged() {
	if !c.recorder.Active() {
		return
	}
	c.recorder.Stop()
	// The busy flag belongs to the cycle being restarted, not a rival
	// activity, so it must not block the fresh start
	c.busy.Release()
	if err := c.recorder.Start(); err != nil {
		c.surfaceError("Could not switch microphone.")
		c.setState(StateIdle)
		return
	}
	c.busy.Set()
	c.setState(StateRecording)
}

// HandleDisabled unwinds everything when the user turns voice off
func (c *Coordinator) HandleDisabled() {
	c.unwind()
}

// HandleDisconnected unwinds everything when the backend link drops
func (c *Coordinator) HandleDisconnected() {
	c.unwind()
}

// SyncPreferences pushes the recognition language and synthesis speaker
// to the backend, fire and forget
func (c *Coordinator) SyncPreferences() {
	if !c.conn.Connected() {
		return
	}
	snap := c.settings.Snapshot()
	ev := protocol.SetVoiceSettings{
		STTLanguage: snap.STTLanguage,
		TTSSpeaker:  snap.TTSSpeaker,
	}
	if err := c.conn.Send(ev); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to sync voice preferences")
	}
}

// unwind tears down recording and playback and returns to idle from any
// state. Every error and cancellation path ends here so the interaction
// cycle can always restart
func (c *Coordinator) unwind() {
	c.recorder.Stop()
	c.queue.Stop()
	c.busy.Release()
	c.setState(StateIdle)
}

func (c *Coordinator) setState(state State) {
	c.mu.Lock()
	c.setStateLocked(state)
	c.mu.Unlock()
}

// setStateLocked updates the state. Caller holds c.mu
func (c *Coordinator) setStateLocked(state State) {
	if c.state == state {
		return
	}
	c.logger.Debug().
		Str("from", c.state.String()).
		Str("to", state.String()).
		Msg("Session state changed")
	c.state = state
}

func (c *Coordinator) surfaceStatus(message string) {
	c.mu.Lock()
	fn := c.onStatus
	c.mu.Unlock()
	if fn != nil && message != "" {
		fn(message)
	}
}

func (c *Coordinator) surfaceError(message string) {
	c.mu.Lock()
	fn := c.onError
	c.mu.Unlock()
	if fn != nil && message != "" {
		fn(message)
	}
}
