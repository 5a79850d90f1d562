// Package protocol defines the wire events exchanged with the voice
// backend over the persistent WebSocket connection. Every event is a JSON
// envelope {event, data}; audio payloads are base64-encoded binary.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Client event names (client -> backend)
const (
	EventGetVoiceConfig   = "get_voice_config"
	EventStartVoice       = "start_voice"
	EventAudioChunk       = "audio_chunk"
	EventStopVoice        = "stop_voice"
	EventRequestTTS       = "request_tts"
	EventSetVoiceSettings = "set_voice_settings"
)

// Server event names (backend -> client)
const (
	EventVoiceConfig     = "voice_config"
	EventVoiceStarted    = "voice_started"
	EventVoiceProcessing = "voice_processing"
	EventVoiceSynthesis  = "voice_synthesis"
	EventVoiceResult     = "voice_result"
	EventVoiceError      = "voice_error"
	EventVoiceAudioChunk = "voice_audio_chunk"
	EventVoiceSpeakEnd   = "voice_speak_end"
)

// Envelope is the JSON frame carried on the wire
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ClientEvent is an outbound event
type ClientEvent interface {
	Event() string
}

// ServerEvent is an inbound event
type ServerEvent interface {
	Event() string
}

// GetVoiceConfig requests the backend's current voice capabilities
type GetVoiceConfig struct{}

func (GetVoiceConfig) Event() string { return EventGetVoiceConfig }

// StartVoice announces the start of a recording session
type StartVoice struct {
	Language string `json:"language"`
}

func (StartVoice) Event() string { return EventStartVoice }

// AudioChunk carries one captured audio chunk
type AudioChunk struct {
	Audio []byte `json:"audio"`
}

func (AudioChunk) Event() string { return EventAudioChunk }

// StopVoice finalizes the recording session
type StopVoice struct{}

func (StopVoice) Event() string { return EventStopVoice }

// RequestTTS asks the backend to synthesize text
type RequestTTS struct {
	Text    string  `json:"text"`
	Speaker string  `json:"speaker"`
	Speed   float64 `json:"speed"`
	Pitch   float64 `json:"pitch"`
}

func (RequestTTS) Event() string { return EventRequestTTS }

// SetVoiceSettings is a fire-and-forget preference sync; zero-valued
// fields are omitted
type SetVoiceSettings struct {
	STTLanguage string `json:"sttLanguage,omitempty"`
	TTSSpeaker  string `json:"ttsSpeaker,omitempty"`
}

func (SetVoiceSettings) Event() string { return EventSetVoiceSettings }

// VoiceConfig reports backend capabilities; it replaces any previously
// known capability state wholesale
type VoiceConfig struct {
	STTReady        bool     `json:"stt_ready"`
	TTSReady        bool     `json:"tts_ready"`
	CurrentTTSModel string   `json:"current_tts_model"`
	TTSSpeakers     []string `json:"tts_speakers"`
}

func (VoiceConfig) Event() string { return EventVoiceConfig }

// VoiceStarted acknowledges a start_voice signal
type VoiceStarted struct {
	Message string `json:"message"`
}

func (VoiceStarted) Event() string { return EventVoiceStarted }

// VoiceProcessing reports transcription progress
type VoiceProcessing struct {
	Message string `json:"message"`
}

func (VoiceProcessing) Event() string { return EventVoiceProcessing }

// VoiceSynthesis reports synthesis progress
type VoiceSynthesis struct {
	Message string `json:"message"`
}

func (VoiceSynthesis) Event() string { return EventVoiceSynthesis }

// VoiceResult carries the transcript, an error, or both. An empty
// transcript means no speech was detected, not a failure
type VoiceResult struct {
	Transcript string `json:"transcript"`
	Error      string `json:"error,omitempty"`
}

func (VoiceResult) Event() string { return EventVoiceResult }

// VoiceError reports a voice-system failure
type VoiceError struct {
	Message string `json:"message"`
}

func (VoiceError) Event() string { return EventVoiceError }

// VoiceAudioChunk carries one synthesized audio chunk
type VoiceAudioChunk struct {
	Audio []byte `json:"audio"`
}

func (VoiceAudioChunk) Event() string { return EventVoiceAudioChunk }

// VoiceSpeakEnd signals that all chunks for the current utterance have
// been sent
type VoiceSpeakEnd struct{}

func (VoiceSpeakEnd) Event() string { return EventVoiceSpeakEnd }

// UnknownEventError is returned when the backend sends an event name the
// client does not recognize
type UnknownEventError struct {
	Name string
}

func (e *UnknownEventError) Error() string {
	return fmt.Sprintf("unknown server event %q", e.Name)
}

// Encode marshals a client event into its wire envelope
func Encode(ev ClientEvent) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", ev.Event(), err)
	}
	env := Envelope{Event: ev.Event(), Data: data}
	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s envelope: %w", ev.Event(), err)
	}
	return out, nil
}

// Decode parses a wire frame into its typed server event. Unknown event
// names return *UnknownEventError; malformed payloads return a wrapped
// unmarshal error
func Decode(raw []byte) (ServerEvent, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to parse event envelope: %w", err)
	}

	var ev ServerEvent
	switch env.Event {
	case EventVoiceConfig:
		ev = &VoiceConfig{}
	case EventVoiceStarted:
		ev = &VoiceStarted{}
	case EventVoiceProcessing:
		ev = &VoiceProcessing{}
	case EventVoiceSynthesis:
		ev = &VoiceSynthesis{}
	case EventVoiceResult:
		ev = &VoiceResult{}
	case EventVoiceError:
		ev = &VoiceError{}
	case EventVoiceAudioChunk:
		ev = &VoiceAudioChunk{}
	case EventVoiceSpeakEnd:
		return &VoiceSpeakEnd{}, nil
	default:
		return nil, &UnknownEventError{Name: env.Event}
	}

	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, ev); err != nil {
			return nil, fmt.Errorf("failed to parse %s payload: %w", env.Event, err)
		}
	}
	return ev, nil
}
