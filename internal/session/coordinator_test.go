package session

import (
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/aurachat/voice-client/internal/playback"
	"github.com/aurachat/voice-client/internal/protocol"
	"github.com/aurachat/voice-client/internal/settings"
)

type fakeRecorder struct {
	mu       sync.Mutex
	active   bool
	startErr error
	stops    int
}

func (r *fakeRecorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return r.startErr
	}
	r.active = true
	return nil
}

func (r *fakeRecorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = false
	r.stops++
}

func (r *fakeRecorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

type fakeQueue struct {
	mu       sync.Mutex
	chunks   [][]byte
	resets   int
	stops    int
	started  bool
	flushErr error
}

func (q *fakeQueue) Enqueue(chunk []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.chunks = append(q.chunks, chunk)
}

func (q *fakeQueue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.chunks = nil
	q.resets++
}

func (q *fakeQueue) FlushAndPlay() (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.flushErr != nil {
		return false, q.flushErr
	}
	started := len(q.chunks) > 0
	q.chunks = nil
	q.started = started
	return started, nil
}

func (q *fakeQueue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.chunks = nil
	q.stops++
}

type fakeConn struct {
	mu        sync.Mutex
	connected bool
	sent      []protocol.ClientEvent
	sendErr   error
}

func (c *fakeConn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeConn) Send(ev protocol.ClientEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, ev)
	return nil
}

func (c *fakeConn) sentEvents() []protocol.ClientEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.ClientEvent, len(c.sent))
	copy(out, c.sent)
	return out
}

type fakeSettings struct {
	mu   sync.Mutex
	snap settings.Settings
}

func (s *fakeSettings) Snapshot() settings.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

type harness struct {
	conn     *fakeConn
	recorder *fakeRecorder
	queue    *fakeQueue
	source   *fakeSettings
	busy     *BusyFlag
	c        *Coordinator

	mu          sync.Mutex
	echoed      []string
	forwarded   []string
	errMessages []string
}

func newHarness() *harness {
	h := &harness{
		conn:     &fakeConn{connected: true},
		recorder: &fakeRecorder{},
		queue:    &fakeQueue{},
		source:   &fakeSettings{snap: settings.Defaults()},
		busy:     NewBusyFlag(),
	}
	h.source.snap.Enabled = true
	h.c = NewCoordinator(h.conn, h.recorder, h.queue, h.source, h.busy, zerolog.Nop())
	h.c.SetEchoFunc(func(t string) {
		h.mu.Lock()
		h.echoed = append(h.echoed, t)
		h.mu.Unlock()
	})
	h.c.SetForwardFunc(func(t string) {
		h.mu.Lock()
		h.forwarded = append(h.forwarded, t)
		h.mu.Unlock()
	})
	h.c.SetErrorFunc(func(m string) {
		h.mu.Lock()
		h.errMessages = append(h.errMessages, m)
		h.mu.Unlock()
	})
	return h
}

func (h *harness) setMode(mode string) {
	h.source.mu.Lock()
	h.source.snap.InteractionMode = mode
	h.source.mu.Unlock()
}

func TestHybridCycle_TranscriptThroughSpeakingToIdle(t *testing.T) {
	h := newHarness()

	if err := h.c.StartRecording(); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	if h.c.State() != StateRecording || !h.busy.IsBusy() {
		t.Fatalf("After start: state %v busy %v", h.c.State(), h.busy.IsBusy())
	}

	h.c.StopRecording()
	if h.c.State() != StateAwaitingTranscript {
		t.Fatalf("After stop: state = %v, want %v", h.c.State(), StateAwaitingTranscript)
	}
	if !h.busy.IsBusy() {
		t.Fatal("Busy must stay held while awaiting a transcript")
	}

	h.c.HandleServerEvent(&protocol.VoiceResult{Transcript: "hello"})
	h.mu.Lock()
	echoed, forwarded := len(h.echoed), len(h.forwarded)
	h.mu.Unlock()
	if echoed != 1 || forwarded != 1 {
		t.Errorf("Echoed %d forwarded %d, want 1 and 1", echoed, forwarded)
	}
	if !h.busy.IsBusy() {
		t.Fatal("Busy must stay held in hybrid mode until the reply is spoken")
	}

	h.c.Synthesize("hi there")
	if h.c.State() != StateAwaitingSynthesis {
		t.Fatalf("State = %v, want %v", h.c.State(), StateAwaitingSynthesis)
	}
	events := h.conn.sentEvents()
	req, ok := events[len(events)-1].(protocol.RequestTTS)
	if !ok {
		t.Fatalf("Last sent event = %T, want RequestTTS", events[len(events)-1])
	}
	if req.Text != "hi there" {
		t.Errorf("RequestTTS text = %q", req.Text)
	}

	h.c.HandleServerEvent(&protocol.VoiceAudioChunk{Audio: []byte("abc")})
	h.c.HandleServerEvent(&protocol.VoiceSpeakEnd{})
	if h.c.State() != StateSpeaking {
		t.Fatalf("State = %v, want %v", h.c.State(), StateSpeaking)
	}

	h.c.HandlePlaybackComplete(playback.KindGeneration, nil)
	if h.c.State() != StateIdle {
		t.Errorf("State = %v, want %v", h.c.State(), StateIdle)
	}
	if h.busy.IsBusy() {
		t.Error("Busy must be released when playback completes")
	}
}

func TestTextOnly_ReleasesBusyOnTranscriptAndNeverSynthesizes(t *testing.T) {
	h := newHarness()
	h.setMode(settings.ModeTextOnly)

	if err := h.c.StartRecording(); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	h.c.StopRecording()
	h.c.HandleServerEvent(&protocol.VoiceResult{Transcript: "hello"})

	if h.busy.IsBusy() {
		t.Error("Busy must be released on transcript in text-only mode")
	}

	h.c.Synthesize("assistant reply")
	for _, ev := range h.conn.sentEvents() {
		if _, ok := ev.(protocol.RequestTTS); ok {
			t.Fatal("request_tts must never be sent in text-only mode")
		}
	}
	if h.c.State() != StateIdle {
		t.Errorf("State = %v, want %v", h.c.State(), StateIdle)
	}
}

func TestVoiceOnly_SuppressesEcho(t *testing.T) {
	h := newHarness()
	h.setMode(settings.ModeVoiceOnly)

	h.c.HandleServerEvent(&protocol.VoiceResult{Transcript: "hello"})

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.echoed) != 0 {
		t.Error("Transcript must not be echoed in voice-only mode")
	}
	if len(h.forwarded) != 1 {
		t.Error("Transcript must still be forwarded in voice-only mode")
	}
}

func TestEmptyTranscript_ReleasesBusy(t *testing.T) {
	h := newHarness()
	h.busy.Set()

	h.c.HandleServerEvent(&protocol.VoiceResult{Transcript: "", Error: "Audio too short."})

	if h.busy.IsBusy() {
		t.Error("Busy must be released when no transcript arrives")
	}
	if h.c.State() != StateIdle {
		t.Errorf("State = %v, want %v", h.c.State(), StateIdle)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.errMessages) != 1 || h.errMessages[0] != "Audio too short." {
		t.Errorf("Error messages = %v", h.errMessages)
	}
	if len(h.forwarded) != 0 {
		t.Error("Nothing must be forwarded without a transcript")
	}
}

func TestSynthesize_GateFailuresReleaseBusy(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*harness)
		text   string
	}{
		{"not connected", func(h *harness) { h.conn.connected = false }, "hello"},
		{"empty text", func(h *harness) {}, "   "},
		{"tts disabled", func(h *harness) {
			h.source.mu.Lock()
			h.source.snap.TTSEnabled = false
			h.source.mu.Unlock()
		}, "hello"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness()
			h.busy.Set()
			tc.mutate(h)

			h.c.Synthesize(tc.text)

			if h.busy.IsBusy() {
				t.Error("Busy must be released when a synthesis gate fails")
			}
			if h.c.State() != StateIdle {
				t.Errorf("State = %v, want %v", h.c.State(), StateIdle)
			}
			for _, ev := range h.conn.sentEvents() {
				if _, ok := ev.(protocol.RequestTTS); ok {
					t.Fatal("request_tts must not be sent when a gate fails")
				}
			}
		})
	}
}

func TestSynthesize_ResetsLeftoverQueue(t *testing.T) {
	h := newHarness()
	h.queue.Enqueue([]byte("stale"))

	h.c.Synthesize("fresh reply")

	h.queue.mu.Lock()
	defer h.queue.mu.Unlock()
	if h.queue.resets != 1 {
		t.Errorf("Queue resets = %d, want 1", h.queue.resets)
	}
	if len(h.queue.chunks) != 0 {
		t.Error("Stale chunks must be cleared before a new request")
	}
}

func TestSpeakEnd_EmptyQueueReleasesBusy(t *testing.T) {
	h := newHarness()
	h.busy.Set()
	h.c.Synthesize("reply")

	h.c.HandleServerEvent(&protocol.VoiceSpeakEnd{})

	if h.busy.IsBusy() {
		t.Error("Busy must be released when nothing was queued to play")
	}
	if h.c.State() != StateIdle {
		t.Errorf("State = %v, want %v", h.c.State(), StateIdle)
	}
}

func TestSpeakEnd_FlushFailureReleasesBusy(t *testing.T) {
	h := newHarness()
	h.busy.Set()
	h.queue.flushErr = errors.New("decode failed")
	h.queue.Enqueue([]byte("abc"))

	h.c.HandleServerEvent(&protocol.VoiceSpeakEnd{})

	if h.busy.IsBusy() {
		t.Error("Busy must be released when playback cannot start")
	}
	if h.c.State() != StateIdle {
		t.Errorf("State = %v, want %v", h.c.State(), StateIdle)
	}
}

// instantPlayer completes every playback before Play returns, the
// fastest completion the Player contract allows
type instantPlayer struct{}

func (instantPlayer) Play(buf []byte, done func(err error)) (func(), error) {
	done(nil)
	return func() {}, nil
}

type ttsAlwaysOn struct{}

func (ttsAlwaysOn) TTSEnabled() bool { return true }

func TestSpeakEnd_ImmediateCompletionEndsInIdle(t *testing.T) {
	h := newHarness()
	q := playback.NewQueue(instantPlayer{}, ttsAlwaysOn{}, zerolog.Nop())
	h.c = NewCoordinator(h.conn, h.recorder, q, h.source, h.busy, zerolog.Nop())
	q.SetCompletionFunc(h.c.HandlePlaybackComplete)

	h.c.Synthesize("hello")
	h.c.HandleServerEvent(&protocol.VoiceAudioChunk{Audio: []byte("abc")})
	h.c.HandleServerEvent(&protocol.VoiceSpeakEnd{})

	if h.c.State() != StateIdle {
		t.Fatalf("State = %v, want %v after playback already completed", h.c.State(), StateIdle)
	}
	if h.busy.IsBusy() {
		t.Error("Busy must be released once playback has completed")
	}
}

func TestTextOnly_ForwardCanClaimBusyFlag(t *testing.T) {
	h := newHarness()
	h.setMode(settings.ModeTextOnly)

	claimed := false
	h.c.SetForwardFunc(func(transcript string) {
		claimed = h.busy.Set()
	})

	if err := h.c.StartRecording(); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	h.c.StopRecording()
	h.c.HandleServerEvent(&protocol.VoiceResult{Transcript: "hello"})

	if !claimed {
		t.Fatal("Text pipeline must be able to claim the flag during forward")
	}
	if !h.busy.IsBusy() {
		t.Error("The forward claim must survive transcript handling")
	}
}

func TestVoiceError_UnwindsEverything(t *testing.T) {
	h := newHarness()
	if err := h.c.StartRecording(); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}

	h.c.HandleServerEvent(&protocol.VoiceError{Message: "backend exploded"})

	if h.c.State() != StateIdle {
		t.Errorf("State = %v, want %v", h.c.State(), StateIdle)
	}
	if h.busy.IsBusy() {
		t.Error("Busy must be released on a backend error")
	}
	if h.recorder.Active() {
		t.Error("Recorder must be stopped on a backend error")
	}
	h.queue.mu.Lock()
	stops := h.queue.stops
	h.queue.mu.Unlock()
	if stops == 0 {
		t.Error("Playback must be stopped on a backend error")
	}
}

func TestDisable_UnwindsFromRecordingAndSpeaking(t *testing.T) {
	for _, from := range []string{"recording", "speaking"} {
		t.Run(from, func(t *testing.T) {
			h := newHarness()
			if from == "recording" {
				if err := h.c.StartRecording(); err != nil {
					t.Fatalf("StartRecording() error = %v", err)
				}
			} else {
				h.busy.Set()
				h.c.Synthesize("reply")
				h.c.HandleServerEvent(&protocol.VoiceAudioChunk{Audio: []byte("abc")})
				h.c.HandleServerEvent(&protocol.VoiceSpeakEnd{})
				if h.c.State() != StateSpeaking {
					t.Fatalf("Setup: state = %v, want %v", h.c.State(), StateSpeaking)
				}
			}

			h.c.HandleDisabled()

			if h.c.State() != StateIdle {
				t.Errorf("State = %v, want %v", h.c.State(), StateIdle)
			}
			if h.busy.IsBusy() {
				t.Error("Busy must be released on disable")
			}
			if h.recorder.Active() {
				t.Error("Recorder must be released on disable")
			}
		})
	}
}

func TestPlaybackComplete_ReplayDoesNotTouchBusy(t *testing.T) {
	h := newHarness()
	h.busy.Set()

	h.c.HandlePlaybackComplete(playback.KindReplay, nil)

	if !h.busy.IsBusy() {
		t.Error("Replay completion must not release the busy flag")
	}
}

func TestStopPlayback_DuringSpeakingReturnsToIdle(t *testing.T) {
	h := newHarness()
	h.busy.Set()
	h.c.Synthesize("reply")
	h.c.HandleServerEvent(&protocol.VoiceAudioChunk{Audio: []byte("abc")})
	h.c.HandleServerEvent(&protocol.VoiceSpeakEnd{})

	h.c.StopPlayback()

	if h.c.State() != StateIdle {
		t.Errorf("State = %v, want %v", h.c.State(), StateIdle)
	}
	if h.busy.IsBusy() {
		t.Error("Busy must be released when playback is stopped")
	}
}

func TestMicChanged_RestartsActiveSession(t *testing.T) {
	h := newHarness()
	if err := h.c.StartRecording(); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}

	h.c.HandleMicChanged()

	if h.c.State() != StateRecording {
		t.Errorf("State = %v, want %v", h.c.State(), StateRecording)
	}
	if !h.busy.IsBusy() {
		t.Error("Busy must be held across a microphone switch")
	}
	h.recorder.mu.Lock()
	stops := h.recorder.stops
	active := h.recorder.active
	h.recorder.mu.Unlock()
	if stops != 1 || !active {
		t.Errorf("Recorder stops = %d active = %v, want 1 and true", stops, active)
	}
}

func TestMicChanged_IdleIsNoOp(t *testing.T) {
	h := newHarness()

	h.c.HandleMicChanged()

	if h.c.State() != StateIdle {
		t.Errorf("State = %v, want %v", h.c.State(), StateIdle)
	}
	h.recorder.mu.Lock()
	defer h.recorder.mu.Unlock()
	if h.recorder.stops != 0 {
		t.Error("An idle session must not be restarted")
	}
}

func TestSyncPreferences_SendsSettingsEvent(t *testing.T) {
	h := newHarness()
	h.source.mu.Lock()
	h.source.snap.STTLanguage = "de"
	h.source.snap.TTSSpeaker = "ana"
	h.source.mu.Unlock()

	h.c.SyncPreferences()

	events := h.conn.sentEvents()
	if len(events) != 1 {
		t.Fatalf("Sent %d events, want 1", len(events))
	}
	ev, ok := events[0].(protocol.SetVoiceSettings)
	if !ok {
		t.Fatalf("Sent event = %T, want SetVoiceSettings", events[0])
	}
	if ev.STTLanguage != "de" || ev.TTSSpeaker != "ana" {
		t.Errorf("Synced %+v", ev)
	}
}
