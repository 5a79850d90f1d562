// Package playback turns the stream of synthesized audio chunks into
// exactly one playback per utterance. Chunks accumulate until the backend
// signals end-of-stream, then play as a single combined buffer. At most
// one playback runs at a time; the previous one is stopped and its
// completion detached before a new one starts.
package playback

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aurachat/voice-client/internal/audio"
	"github.com/aurachat/voice-client/internal/observability"
)

// Playback refusal reasons
var (
	ErrAlreadyPlaying = errors.New("playback already in progress")
	ErrNoAudio        = errors.New("no audio to replay")
	ErrOutputDisabled = errors.New("speech output is disabled")
)

// Kind distinguishes why a playback started; only generation-flow
// playbacks participate in busy-flag accounting
type Kind string

const (
	KindGeneration Kind = "generation"
	KindReplay     Kind = "replay"
	KindSample     Kind = "sample"
)

// Player decodes and plays a single audio buffer. Implementations wrap
// the platform audio output API
type Player interface {
	// Play begins decode and playback of buf. done is invoked exactly once
	// when playback finishes or fails, unless the returned stop function is
	// called first. Undecodable input is reported synchronously via err
	Play(buf []byte, done func(err error)) (stop func(), err error)
}

// SettingsReader exposes the subset of user preferences playback consults
type SettingsReader interface {
	TTSEnabled() bool
}

// CompletionFunc observes the natural end (or failure) of a playback.
// It never fires for playbacks superseded by Stop or a newer start
type CompletionFunc func(kind Kind, err error)

// Queue owns the synthesized-audio pipeline: the pending chunk sequence,
// the last fully combined utterance, and the active playback
type Queue struct {
	player   Player
	settings SettingsReader
	logger   zerolog.Logger

	mu         sync.Mutex
	chunks     [][]byte
	last       []byte
	generation uint64
	playing    bool
	stopFn     func()
	onComplete CompletionFunc
}

// NewQueue creates a playback queue over the given player
func NewQueue(player Player, settings SettingsReader, logger zerolog.Logger) *Queue {
	return &Queue{
		player:   player,
		settings: settings,
		logger:   logger,
	}
}

// SetCompletionFunc registers the completion observer
func (q *Queue) SetCompletionFunc(fn CompletionFunc) {
	q.mu.Lock()
	q.onComplete = fn
	q.mu.Unlock()
}

// Enqueue appends one streamed chunk in arrival order
func (q *Queue) Enqueue(chunk []byte) {
	if len(chunk) == 0 {
		q.logger.Warn().Msg("Dropping empty audio chunk")
		observability.RecordChunkDropped()
		return
	}
	q.mu.Lock()
	q.chunks = append(q.chunks, chunk)
	q.mu.Unlock()
	observability.RecordAudioBytes("received", int64(len(chunk)))
}

// Pending returns the number of queued chunks
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.chunks)
}

// Playing reports whether a playback is active
func (q *Queue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

// HasLastUtterance reports whether a replayable buffer is stored
func (q *Queue) HasLastUtterance() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.last != nil
}

// Reset clears leftover chunks and the stored utterance. Called when a
// new synthesis request begins, so an abandoned stream cannot leak into
// the next utterance
func (q *Queue) Reset() {
	q.mu.Lock()
	q.chunks = nil
	q.last = nil
	q.mu.Unlock()
}

// FlushAndPlay combines everything queued into one buffer and plays it.
// Returns started=false when there was nothing to play, output was
// disabled in the interim, or decoding failed; the caller owns releasing
// any busy state in those cases. The queue is cleared in every case
func (q *Queue) FlushAndPlay() (started bool, err error) {
	q.mu.Lock()

	if len(q.chunks) == 0 {
		q.mu.Unlock()
		return false, nil
	}

	combined := audio.Concat(q.chunks)
	q.chunks = nil
	observability.ObserveUtteranceSize(len(combined))

	// The user may have turned synthesis off between request and delivery
	if !q.settings.TTSEnabled() {
		q.last = nil
		q.mu.Unlock()
		q.logger.Info().Msg("Playback skipped: speech output disabled")
		return false, nil
	}

	q.last = combined
	stopPrev := q.detachActiveLocked()
	gen := q.generation
	q.playing = true
	q.mu.Unlock()

	if stopPrev != nil {
		stopPrev()
	}

	if err := q.startPlayback(gen, combined, KindGeneration); err != nil {
		q.mu.Lock()
		if gen == q.generation {
			q.playing = false
		}
		q.last = nil
		q.mu.Unlock()
		observability.RecordError("decode_failure", "playback")
		return false, err
	}
	return true, nil
}

// Replay plays the last fully combined utterance again. The stored buffer
// is never consumed, so replay can be invoked repeatedly
func (q *Queue) Replay() error {
	q.mu.Lock()
	if q.playing {
		q.mu.Unlock()
		return ErrAlreadyPlaying
	}
	if q.last == nil {
		q.mu.Unlock()
		return ErrNoAudio
	}
	if !q.settings.TTSEnabled() {
		q.mu.Unlock()
		return ErrOutputDisabled
	}

	buf := make([]byte, len(q.last))
	copy(buf, q.last)

	q.generation++
	gen := q.generation
	q.playing = true
	q.mu.Unlock()

	if err := q.startPlayback(gen, buf, KindReplay); err != nil {
		q.mu.Lock()
		if gen == q.generation {
			q.playing = false
		}
		q.mu.Unlock()
		observability.RecordError("decode_failure", "playback")
		return err
	}
	return nil
}

// PlaySample plays a one-off buffer (e.g. a voice sample fetched over
// REST) outside the chunked pipeline. Any active playback is stopped
// first; the stored utterance is untouched
func (q *Queue) PlaySample(buf []byte) error {
	if len(buf) == 0 {
		return ErrNoAudio
	}

	q.mu.Lock()
	stopPrev := q.detachActiveLocked()
	gen := q.generation
	q.playing = true
	q.mu.Unlock()

	if stopPrev != nil {
		stopPrev()
	}

	if err := q.startPlayback(gen, buf, KindSample); err != nil {
		q.mu.Lock()
		if gen == q.generation {
			q.playing = false
		}
		q.mu.Unlock()
		observability.RecordError("decode_failure", "playback")
		return err
	}
	return nil
}

// Stop halts any active playback immediately. The completion callback is
// detached before the underlying player is stopped, so a late natural
// completion can never fire after a manual stop. Pending chunks are
// cleared; the stored utterance is kept so replay remains possible
func (q *Queue) Stop() {
	q.mu.Lock()
	q.chunks = nil
	stop := q.detachActiveLocked()
	q.mu.Unlock()

	if stop != nil {
		stop()
	}
}

// detachActiveLocked invalidates the current playback generation so its
// done callback becomes a no-op, and returns the player stop function to
// invoke outside the lock
func (q *Queue) detachActiveLocked() func() {
	q.generation++
	stop := q.stopFn
	q.stopFn = nil
	q.playing = false
	return stop
}

func (q *Queue) startPlayback(gen uint64, buf []byte, kind Kind) error {
	q.mu.Lock()
	superseded := gen != q.generation
	q.mu.Unlock()
	if superseded {
		return nil
	}

	stop, err := q.player.Play(buf, func(playErr error) {
		q.finish(gen, kind, playErr)
	})
	if err != nil {
		q.logger.Error().Err(err).Str("kind", string(kind)).Msg("Audio decode/playback failed")
		return err
	}

	// The done callback may have run already; finish clears playing for
	// this generation, and a stop function must not outlive its playback
	q.mu.Lock()
	if gen == q.generation && q.playing {
		q.stopFn = stop
	}
	q.mu.Unlock()

	observability.RecordPlayback(string(kind))
	q.logger.Debug().Int("bytes", len(buf)).Str("kind", string(kind)).Msg("Playback started")
	return nil
}

// finish handles a playback's natural completion. Completions from a
// superseded generation are ignored
func (q *Queue) finish(gen uint64, kind Kind, err error) {
	q.mu.Lock()
	if gen != q.generation {
		q.mu.Unlock()
		return
	}
	q.playing = false
	q.stopFn = nil
	fn := q.onComplete
	q.mu.Unlock()

	if err != nil {
		q.logger.Error().Err(err).Msg("Playback ended with error")
	} else {
		q.logger.Debug().Str("kind", string(kind)).Msg("Playback finished")
	}
	if fn != nil {
		fn(kind, err)
	}
}
