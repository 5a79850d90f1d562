package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/aurachat/voice-client/internal/models"
	"github.com/aurachat/voice-client/internal/playback"
	"github.com/aurachat/voice-client/internal/recording"
	"github.com/aurachat/voice-client/internal/session"
	"github.com/aurachat/voice-client/internal/settings"
)

// controlAPI is the local HTTP surface that drives the voice pipeline,
// standing in for the chat page's buttons and settings panel
type controlAPI struct {
	coordinator *session.Coordinator
	queue       *playback.Queue
	store       *settings.Store
	models      *models.Client
	logger      zerolog.Logger
}

func (a *controlAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("/voice/start", a.handleStart)
	mux.HandleFunc("/voice/stop", a.handleStop)
	mux.HandleFunc("/voice/say", a.handleSay)
	mux.HandleFunc("/voice/replay", a.handleReplay)
	mux.HandleFunc("/voice/playback/stop", a.handlePlaybackStop)
	mux.HandleFunc("/voice/models", a.handleModels)
	mux.HandleFunc("/voice/models/select", a.handleModelSelect)
	mux.HandleFunc("/voice/sample", a.handleSample)
	mux.HandleFunc("/voice/settings", a.handleSettings)
}

func (a *controlAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.logger.Error().Err(err).Msg("Failed to write control response")
	}
}

func (a *controlAPI) writeError(w http.ResponseWriter, status int, message string) {
	a.writeJSON(w, status, map[string]string{"status": "error", "message": message})
}

func (a *controlAPI) writeOK(w http.ResponseWriter) {
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (a *controlAPI) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	err := a.coordinator.StartRecording()
	if err == nil {
		a.writeOK(w)
		return
	}

	// Policy refusals and device failures carry user-presentable text
	var devErr *recording.DeviceError
	if errors.As(err, &devErr) {
		a.writeError(w, http.StatusConflict, devErr.UserMessage())
		return
	}
	a.writeError(w, http.StatusConflict, err.Error())
}

func (a *controlAPI) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	a.coordinator.StopRecording()
	a.writeOK(w)
}

func (a *controlAPI) handleSay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	a.coordinator.Synthesize(body.Text)
	a.writeOK(w)
}

func (a *controlAPI) handleReplay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := a.queue.Replay(); err != nil {
		a.writeError(w, http.StatusConflict, err.Error())
		return
	}
	a.writeOK(w)
}

func (a *controlAPI) handlePlaybackStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	a.coordinator.StopPlayback()
	a.writeOK(w)
}

func (a *controlAPI) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	list, err := a.models.ListModels(r.Context())
	if err != nil {
		a.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"status": "success", "models": list})
}

func (a *controlAPI) handleModelSelect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Model string `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Model == "" {
		a.writeError(w, http.StatusBadRequest, "model name required")
		return
	}

	result, err := a.models.SetModel(r.Context(), body.Model)
	if err != nil {
		a.writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	// Persist the choice so it survives backend restarts
	if err := a.store.Update(func(s *settings.Settings) {
		s.TTSModel = result.LoadedModel
	}); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to persist model choice")
	}

	a.writeJSON(w, http.StatusOK, map[string]any{
		"status":       "success",
		"loaded_model": result.LoadedModel,
		"speakers":     result.Speakers,
	})
}

func (a *controlAPI) handleSample(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Speaker string `json:"speaker"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Speaker == "" {
		body.Speaker = a.store.Snapshot().TTSSpeaker
	}

	audio, err := a.models.Sample(r.Context(), body.Speaker)
	if err != nil {
		a.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if err := a.queue.PlaySample(audio); err != nil {
		a.writeError(w, http.StatusConflict, err.Error())
		return
	}
	a.writeOK(w)
}

// handleSettings returns the current bundle on GET and applies a partial
// update on POST. Language and speaker changes are synced to the backend;
// disabling voice unwinds any active session
func (a *controlAPI) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.writeJSON(w, http.StatusOK, a.store.Snapshot())
	case http.MethodPost:
		var patch map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			a.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		before := a.store.Snapshot()
		if err := a.store.Update(func(s *settings.Settings) {
			applyPatch(s, patch)
		}); err != nil {
			a.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		after := a.store.Snapshot()

		if before.Enabled && !after.Enabled {
			a.coordinator.HandleDisabled()
		}
		if before.MicID != after.MicID {
			a.coordinator.HandleMicChanged()
		}
		if before.STTLanguage != after.STTLanguage || before.TTSSpeaker != after.TTSSpeaker {
			a.coordinator.SyncPreferences()
		}
		a.writeJSON(w, http.StatusOK, after)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// applyPatch overwrites only the fields present in the request
func applyPatch(s *settings.Settings, patch map[string]json.RawMessage) {
	setString := func(key string, dst *string) {
		if raw, ok := patch[key]; ok {
			var v string
			if json.Unmarshal(raw, &v) == nil {
				*dst = v
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if raw, ok := patch[key]; ok {
			var v bool
			if json.Unmarshal(raw, &v) == nil {
				*dst = v
			}
		}
	}
	setFloat := func(key string, dst *float64) {
		if raw, ok := patch[key]; ok {
			var v float64
			if json.Unmarshal(raw, &v) == nil {
				*dst = v
			}
		}
	}

	setBool("enabled", &s.Enabled)
	setString("micId", &s.MicID)
	setString("sttLanguage", &s.STTLanguage)
	setBool("ttsEnabled", &s.TTSEnabled)
	setString("ttsSpeaker", &s.TTSSpeaker)
	setFloat("ttsSpeed", &s.TTSSpeed)
	setFloat("ttsPitch", &s.TTSPitch)
	setString("interactionMode", &s.InteractionMode)
	setString("ttsModel", &s.TTSModel)
}
