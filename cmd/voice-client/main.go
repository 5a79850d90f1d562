package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aurachat/voice-client/internal/config"
	"github.com/aurachat/voice-client/internal/connection"
	"github.com/aurachat/voice-client/internal/models"
	"github.com/aurachat/voice-client/internal/observability"
	"github.com/aurachat/voice-client/internal/playback"
	"github.com/aurachat/voice-client/internal/recording"
	"github.com/aurachat/voice-client/internal/resilience"
	"github.com/aurachat/voice-client/internal/session"
	"github.com/aurachat/voice-client/internal/settings"
)

// voiceGate bundles the preconditions recording consults
type voiceGate struct {
	store   *settings.Store
	manager *connection.Manager
	busy    *session.BusyFlag
}

func (g *voiceGate) VoiceEnabled() bool { return g.store.Snapshot().Enabled }
func (g *voiceGate) Connected() bool    { return g.manager.Connected() }
func (g *voiceGate) STTReady() bool     { return g.manager.STTReady() }
func (g *voiceGate) Busy() bool         { return g.busy.IsBusy() }

// recordingSettings projects the store onto the recording controller
type recordingSettings struct {
	store *settings.Store
}

func (s *recordingSettings) MicID() string       { return s.store.Snapshot().MicID }
func (s *recordingSettings) STTLanguage() string { return s.store.Snapshot().STTLanguage }

// playbackSettings projects the store onto the playback queue
type playbackSettings struct {
	store *settings.Store
}

func (s *playbackSettings) TTSEnabled() bool { return s.store.Snapshot().TTSEnabled }

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("backend_ws_url", cfg.BackendWSURL).
		Str("backend_http_url", cfg.BackendHTTPURL).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice client starting")

	store, err := settings.NewStore(cfg.SettingsPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.SettingsPath).Msg("Failed to load voice settings")
	}

	// Transport
	reconnectConfig := &resilience.ReconnectConfig{
		MaxAttempts: cfg.ReconnectMaxAttempts,
		Backoff:     time.Duration(cfg.ReconnectBackoff) * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	}
	manager := connection.NewManager(cfg.BackendWSURL, cfg.ConnectTimeoutDuration(),
		cfg.WriteTimeoutDuration(), reconnectConfig, observability.WithComponent("connection"))

	// Model REST client shares the backend's availability, so one breaker
	restBreaker := resilience.NewCircuitBreaker("backend-rest",
		cfg.CircuitBreakerMaxFailures, time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second)
	retryConfig := &resilience.RetryConfig{
		MaxAttempts:       cfg.RetryMaxAttempts,
		InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
	}
	modelClient := models.NewClient(cfg.BackendHTTPURL, 30*time.Second,
		retryConfig, restBreaker, observability.WithComponent("models"))

	// Playback
	player, err := playback.NewFilePlayer(cfg.OutputDir)
	if err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.OutputDir).Msg("Failed to prepare audio output")
	}
	queue := playback.NewQueue(player, &playbackSettings{store: store},
		observability.WithComponent("playback"))

	// Recording
	busy := session.NewBusyFlag()
	device := &recording.FileDevice{Path: cfg.CaptureSource}
	gate := &voiceGate{store: store, manager: manager, busy: busy}
	controller := recording.NewController(device, manager, gate,
		&recordingSettings{store: store}, cfg.ChunkIntervalDuration(),
		cfg.StopGraceDelayDuration(), cfg.CaptureBuffer,
		observability.WithComponent("recording"))

	// Coordinator ties the pipeline together
	coordinator := session.NewCoordinator(manager, controller, queue, store, busy,
		observability.WithComponent("session"))
	queue.SetCompletionFunc(coordinator.HandlePlaybackComplete)
	controller.SetStoppedFunc(coordinator.HandleRecordingStopped)
	manager.SetEventFunc(coordinator.HandleServerEvent)
	manager.SetStateFunc(func(state connection.State) {
		logger.Info().Str("state", state.String()).Msg("Connection state changed")
		if state == connection.StateReconnecting || state == connection.StateError ||
			state == connection.StateDisconnected {
			coordinator.HandleDisconnected()
		}
	})
	manager.SetModelSync(
		func() bool { return store.Snapshot().Enabled },
		func() string { return store.Snapshot().TTSModel },
		func(model string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()
			_, err := modelClient.SetModel(ctx, model)
			return err
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := manager.Connect(ctx); err != nil {
		// Not fatal: the backend may come up later and the user can retry
		logger.Error().Err(err).Msg("Initial connection failed")
	} else {
		coordinator.SyncPreferences()
	}

	mux := http.NewServeMux()

	control := &controlAPI{
		coordinator: coordinator,
		queue:       queue,
		store:       store,
		models:      modelClient,
		logger:      observability.WithComponent("control"),
	}
	control.register(mux)

	mux.HandleFunc("/health", observability.HealthCheckHandler())

	backendCheck := func(ctx context.Context) (bool, error) {
		if !manager.Connected() {
			return false, fmt.Errorf("voice backend not connected")
		}
		return true, nil
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"backend": backendCheck,
	}))

	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("Admin server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Admin server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down...")

	coordinator.HandleDisabled()
	manager.Disconnect()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("Admin server forced to shutdown")
	}

	logger.Info().Msg("Voice client exited gracefully")
}
