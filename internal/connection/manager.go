// Package connection maintains the persistent websocket link to the
// voice backend: dialing, bounded reconnection, event dispatch, and the
// advertised capability snapshot.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/aurachat/voice-client/internal/observability"
	"github.com/aurachat/voice-client/internal/protocol"
	"github.com/aurachat/voice-client/internal/resilience"
)

// State represents the connection lifecycle
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateError
)

// String returns a human-readable state name
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ErrNotConnected is returned by Send when no link is established
var ErrNotConnected = errors.New("not connected to voice backend")

// Capabilities is the backend's advertised readiness snapshot. Each
// voice_config event replaces the snapshot wholesale
type Capabilities struct {
	STTReady        bool
	TTSReady        bool
	CurrentTTSModel string
	TTSSpeakers     []string
}

// StateFunc observes connection state transitions
type StateFunc func(state State)

// EventFunc receives decoded server events not consumed by the manager
type EventFunc func(ev protocol.ServerEvent)

// CapabilitiesFunc observes capability snapshot replacements
type CapabilitiesFunc func(caps Capabilities)

// Manager owns the websocket link to the voice backend
type Manager struct {
	url             string
	connectTimeout  time.Duration
	writeTimeout    time.Duration
	reconnectConfig *resilience.ReconnectConfig
	logger          zerolog.Logger

	mu         sync.RWMutex
	conn       *websocket.Conn
	state      State
	caps       Capabilities
	generation uint64

	writeMu sync.Mutex

	onState StateFunc
	onEvent EventFunc
	onCaps  CapabilitiesFunc

	// State notifications are delivered in transition order through a
	// single drain goroutine; notifyMu guards the queue
	notifyMu  sync.Mutex
	notices   []stateNotice
	notifying bool

	// Model reconciliation: after each voice_config, when voice is
	// enabled and synthesis ready, reloadModel restores the user's
	// preferred model over whatever the backend booted with
	voiceEnabled   func() bool
	preferredModel func() string
	reloadModel    func(model string) error
}

type stateNotice struct {
	fn    StateFunc
	state State
}

// NewManager creates a connection manager for the given websocket URL
func NewManager(url string, connectTimeout, writeTimeout time.Duration,
	reconnectConfig *resilience.ReconnectConfig, logger zerolog.Logger) *Manager {
	return &Manager{
		url:             url,
		connectTimeout:  connectTimeout,
		writeTimeout:    writeTimeout,
		reconnectConfig: reconnectConfig,
		logger:          logger,
		state:           StateDisconnected,
	}
}

// SetStateFunc registers the state transition observer
func (m *Manager) SetStateFunc(fn StateFunc) {
	m.mu.Lock()
	m.onState = fn
	m.mu.Unlock()
}

// SetEventFunc registers the server event handler
func (m *Manager) SetEventFunc(fn EventFunc) {
	m.mu.Lock()
	m.onEvent = fn
	m.mu.Unlock()
}

// SetCapabilitiesFunc registers the capability snapshot observer
func (m *Manager) SetCapabilitiesFunc(fn CapabilitiesFunc) {
	m.mu.Lock()
	m.onCaps = fn
	m.mu.Unlock()
}

// SetModelSync wires preferred-model reconciliation: after each
// capability snapshot, if enabled() reports voice on, synthesis is
// ready, and preferred() names a model, reload is invoked to restore
// the user's choice
func (m *Manager) SetModelSync(enabled func() bool, preferred func() string, reload func(model string) error) {
	m.mu.Lock()
	m.voiceEnabled = enabled
	m.preferredModel = preferred
	m.reloadModel = reload
	m.mu.Unlock()
}

// State returns the current connection state
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Connected reports whether the link is established
func (m *Manager) Connected() bool {
	return m.State() == StateConnected
}

// Capabilities returns a copy of the current capability snapshot
func (m *Manager) Capabilities() Capabilities {
	m.mu.RLock()
	defer m.mu.RUnlock()
	caps := m.caps
	caps.TTSSpeakers = append([]string(nil), m.caps.TTSSpeakers...)
	return caps
}

// STTReady reports whether the backend advertises speech recognition
func (m *Manager) STTReady() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateConnected && m.caps.STTReady
}

// TTSReady reports whether the backend advertises speech synthesis
func (m *Manager) TTSReady() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateConnected && m.caps.TTSReady
}

// Connect establishes the websocket link, replacing any existing
// connection, and requests the backend's capability snapshot
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.generation++
	gen := m.generation
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	if err := m.dial(ctx, gen); err != nil {
		m.mu.Lock()
		m.setStateLocked(StateError)
		m.mu.Unlock()
		observability.RecordError("connect_failure", "connection")
		return err
	}

	if err := m.Send(protocol.GetVoiceConfig{}); err != nil {
		m.logger.Error().Err(err).Msg("Failed to request voice configuration")
	}
	return nil
}

// dial performs a single connection attempt and, on success, installs
// the connection and starts its read pump
func (m *Manager) dial(ctx context.Context, gen uint64) error {
	dialer := websocket.Dialer{HandshakeTimeout: m.connectTimeout}
	conn, _, err := dialer.DialContext(ctx, m.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial voice backend: %w", err)
	}

	m.mu.Lock()
	if gen != m.generation {
		// A newer Connect or Disconnect superseded this attempt
		m.mu.Unlock()
		conn.Close()
		return errors.New("connection attempt superseded")
	}
	m.conn = conn
	m.setStateLocked(StateConnected)
	m.mu.Unlock()

	m.logger.Info().Str("url", m.url).Msg("Connected to voice backend")
	go m.readPump(ctx, conn, gen)
	return nil
}

// Disconnect closes the link and downgrades capabilities so gated
// operations refuse until the next successful connect
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.generation++
	conn := m.conn
	m.conn = nil
	m.caps.STTReady = false
	m.caps.TTSReady = false
	caps := m.caps
	m.setStateLocked(StateDisconnected)
	onCaps := m.onCaps
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if onCaps != nil {
		onCaps(caps)
	}
	m.logger.Info().Msg("Disconnected from voice backend")
}

// Send transmits a client event over the link
func (m *Manager) Send(ev protocol.ClientEvent) error {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := protocol.Encode(ev)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", ev.Event(), err)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(m.writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		observability.RecordError("write_failure", "connection")
		return fmt.Errorf("failed to send %s event: %w", ev.Event(), err)
	}
	return nil
}

// readPump decodes inbound events until the connection fails or is
// superseded, then hands off to reconnection
func (m *Manager) readPump(ctx context.Context, conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.mu.RLock()
			current := gen == m.generation
			m.mu.RUnlock()
			if !current {
				// Intentional disconnect or replaced connection
				return
			}
			m.logger.Warn().Err(err).Msg("Connection to voice backend lost")
			m.reconnect(ctx, gen)
			return
		}

		ev, err := protocol.Decode(data)
		if err != nil {
			var unknown *protocol.UnknownEventError
			if errors.As(err, &unknown) {
				m.logger.Debug().Str("event", unknown.Name).Msg("Ignoring unknown event")
			} else {
				m.logger.Error().Err(err).Msg("Failed to decode server event")
				observability.RecordError("decode_failure", "connection")
			}
			continue
		}

		m.dispatch(ev)
	}
}

// dispatch consumes capability snapshots and forwards everything else
func (m *Manager) dispatch(ev protocol.ServerEvent) {
	switch v := ev.(type) {
	case *protocol.VoiceConfig:
		m.applyConfig(v)
		return
	case *protocol.VoiceAudioChunk:
		if len(v.Audio) == 0 {
			m.logger.Warn().Msg("Dropping empty audio chunk from backend")
			observability.RecordChunkDropped()
			return
		}
		observability.RecordAudioBytes("received", int64(len(v.Audio)))
	}

	m.mu.RLock()
	handler := m.onEvent
	m.mu.RUnlock()
	if handler != nil {
		handler(ev)
	}
}

// applyConfig replaces the capability snapshot and reconciles the
// backend's model with the user's preference
func (m *Manager) applyConfig(cfg *protocol.VoiceConfig) {
	caps := Capabilities{
		STTReady:        cfg.STTReady,
		TTSReady:        cfg.TTSReady,
		CurrentTTSModel: cfg.CurrentTTSModel,
		TTSSpeakers:     cfg.TTSSpeakers,
	}

	m.mu.Lock()
	m.caps = caps
	onCaps := m.onCaps
	enabled := m.voiceEnabled
	preferred := m.preferredModel
	reload := m.reloadModel
	m.mu.Unlock()

	m.logger.Info().
		Bool("stt_ready", caps.STTReady).
		Bool("tts_ready", caps.TTSReady).
		Str("tts_model", caps.CurrentTTSModel).
		Int("speakers", len(caps.TTSSpeakers)).
		Msg("Voice configuration received")

	if onCaps != nil {
		onCaps(caps)
	}

	// The user's saved model choice wins over whatever the backend
	// happened to boot with. Reload only when voice is enabled and
	// synthesis is ready to accept it; the backend reapplies the model
	// even when the advertised name already matches
	if preferred != nil && reload != nil && caps.TTSReady {
		if enabled != nil && !enabled() {
			return
		}
		if want := preferred(); want != "" {
			go func() {
				if err := reload(want); err != nil {
					m.logger.Error().Err(err).Str("model", want).Msg("Failed to restore preferred TTS model")
				}
			}()
		}
	}
}

// reconnect redials with bounded exponential backoff. Capabilities are
// downgraded for the duration so gated operations refuse
func (m *Manager) reconnect(ctx context.Context, gen uint64) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.generation++
	newGen := m.generation
	m.conn = nil
	m.caps.STTReady = false
	m.caps.TTSReady = false
	caps := m.caps
	m.setStateLocked(StateReconnecting)
	onCaps := m.onCaps
	m.mu.Unlock()

	if onCaps != nil {
		onCaps(caps)
	}
	observability.RecordReconnect()

	err := resilience.Reconnect(ctx, m.logger, func() error {
		return m.dial(ctx, newGen)
	}, m.reconnectConfig)
	if err != nil {
		m.logger.Error().Err(err).Msg("Reconnection exhausted")
		m.mu.Lock()
		if newGen == m.generation {
			m.setStateLocked(StateError)
		}
		m.mu.Unlock()
		return
	}

	if err := m.Send(protocol.GetVoiceConfig{}); err != nil {
		m.logger.Error().Err(err).Msg("Failed to request voice configuration after reconnect")
	}
}

// setStateLocked updates the state and queues the observer
// notification. Caller holds m.mu
func (m *Manager) setStateLocked(state State) {
	if m.state == state {
		return
	}
	m.state = state
	observability.SetConnectionState(int(state))
	if m.onState != nil {
		m.enqueueNotice(m.onState, state)
	}
}

// enqueueNotice hands a transition to the notifier goroutine. A slow
// observer delays later notifications instead of racing them, so
// observers never see transitions out of order
func (m *Manager) enqueueNotice(fn StateFunc, state State) {
	m.notifyMu.Lock()
	m.notices = append(m.notices, stateNotice{fn: fn, state: state})
	if m.notifying {
		m.notifyMu.Unlock()
		return
	}
	m.notifying = true
	m.notifyMu.Unlock()
	go m.drainNotices()
}

func (m *Manager) drainNotices() {
	for {
		m.notifyMu.Lock()
		if len(m.notices) == 0 {
			m.notifying = false
			m.notifyMu.Unlock()
			return
		}
		n := m.notices[0]
		m.notices = m.notices[1:]
		m.notifyMu.Unlock()
		n.fn(n.state)
	}
}
