// Package models is the REST client for the backend's synthesis model
// endpoints: listing available models, loading one by name, and fetching
// a one-off voice sample for immediate playback.
package models

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aurachat/voice-client/internal/observability"
	"github.com/aurachat/voice-client/internal/resilience"
)

// ModelInfo describes one synthesis model the backend can load
type ModelInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Loaded      bool   `json:"loaded,omitempty"`
}

// LoadResult is the backend's response to a model load
type LoadResult struct {
	LoadedModel string   `json:"loaded_model"`
	Speakers    []string `json:"speakers"`
}

// apiEnvelope is the backend's standard JSON response wrapper
type apiEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Models  []ModelInfo     `json:"models,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	LoadResult
}

// Client talks to the backend's model management endpoints
type Client struct {
	baseURL        string
	httpClient     *http.Client
	retryConfig    *resilience.RetryConfig
	circuitBreaker *resilience.CircuitBreaker
	logger         zerolog.Logger
}

// NewClient creates a model client for the backend at baseURL
func NewClient(baseURL string, timeout time.Duration, retryConfig *resilience.RetryConfig,
	circuitBreaker *resilience.CircuitBreaker, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:        baseURL,
		httpClient:     &http.Client{Timeout: timeout},
		retryConfig:    retryConfig,
		circuitBreaker: circuitBreaker,
		logger:         logger,
	}
}

// ListModels fetches the synthesis models the backend can serve
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var env apiEnvelope
	err := c.call(ctx, http.MethodGet, "/api/tts/models", nil, &env)
	if err != nil {
		return nil, err
	}
	return env.Models, nil
}

// SetModel asks the backend to load the named model. The result carries
// the actually loaded model and its speaker list, which drives the
// capability speaker refresh
func (c *Client) SetModel(ctx context.Context, name string) (*LoadResult, error) {
	body := map[string]string{"model_name": name}
	var env apiEnvelope
	if err := c.call(ctx, http.MethodPost, "/api/tts/set-model", body, &env); err != nil {
		return nil, err
	}
	c.logger.Info().
		Str("model", env.LoadedModel).
		Int("speakers", len(env.Speakers)).
		Msg("Synthesis model loaded")
	return &LoadResult{LoadedModel: env.LoadedModel, Speakers: env.Speakers}, nil
}

// Sample fetches a short spoken sample for the given speaker, returned
// as raw audio bytes for one-off playback outside the chunked pipeline
func (c *Client) Sample(ctx context.Context, speaker string) ([]byte, error) {
	body := map[string]string{"speaker": speaker}

	var audio []byte
	err := c.execute(func() error {
		resp, err := c.do(ctx, http.MethodPost, "/api/tts/sample", body)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return c.statusError(resp)
		}
		audio, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read sample audio: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("backend returned an empty voice sample")
	}
	return audio, nil
}

// call performs a JSON request/response round trip
func (c *Client) call(ctx context.Context, method, path string, body any, out *apiEnvelope) error {
	return c.execute(func() error {
		resp, err := c.do(ctx, method, path, body)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return c.statusError(resp)
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response from %s: %w", path, err)
		}
		if out.Status != "" && out.Status != "success" && out.Status != "ok" {
			return fmt.Errorf("backend refused %s: %s", path, out.Message)
		}
		return nil
	})
}

// execute runs fn under the circuit breaker with network retries
func (c *Client) execute(fn func() error) error {
	err := c.circuitBreaker.Call(func() error {
		return resilience.Retry(fn, c.retryConfig, resilience.IsRetryableNetworkError)
	})
	observability.UpdateCircuitBreakerState(c.circuitBreaker.Name(), int(c.circuitBreaker.GetState()))
	if err != nil {
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			observability.IncrementCircuitBreakerFailures(c.circuitBreaker.Name())
		}
		observability.RecordError("rest_failure", "models")
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request for %s: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", path, err)
	}
	return resp, nil
}

// statusError extracts the backend's message from a non-200 response
func (c *Client) statusError(resp *http.Response) error {
	var env apiEnvelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&env); err == nil && env.Message != "" {
		return fmt.Errorf("backend returned status %d: %s", resp.StatusCode, env.Message)
	}
	return fmt.Errorf("backend returned status %d", resp.StatusCode)
}
