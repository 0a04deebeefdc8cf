package campfire

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/campfirevalley/riverboat/internal/client"
)

const (
	defaultOllamaBase  = "http://localhost:11434"
	defaultOllamaModel = "llama3.2"
)

// OllamaClient talks to a local Ollama daemon. Campers use it when it
// is healthy and fall back to canned responses when it is not.
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
	breaker    *client.CircuitBreaker
}

// NewOllamaClient builds a client; empty baseURL and model take the
// local-daemon defaults, and the http client's timeout bounds each
// generation. A non-nil breaker stops campers hammering a failing
// daemon: while it is open, Generate fails immediately and campers use
// their canned responses instead.
func NewOllamaClient(baseURL, model string, httpClient *http.Client, breaker *client.CircuitBreaker) *OllamaClient {
	if baseURL == "" {
		baseURL = defaultOllamaBase
	}
	if model == "" {
		model = defaultOllamaModel
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	return &OllamaClient{baseURL: baseURL, model: model, httpClient: httpClient, breaker: breaker}
}

// Healthy probes the daemon's tag listing with a short deadline.
func (o *OllamaClient) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	return resp.StatusCode == http.StatusOK
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Generate runs one non-streaming completion. With a breaker
// configured, daemon failures are recorded and an open circuit fails
// fast without touching the network.
func (o *OllamaClient) Generate(ctx context.Context, system, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:  o.model,
		Prompt: prompt,
		System: system,
		Stream: false,
	})
	if err != nil {
		return "", fmt.Errorf("encoding generate request: %w", err)
	}

	if o.breaker != nil && !o.breaker.Allow() {
		return "", errors.New("ollama circuit is open")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		o.releaseTrial()
		return "", fmt.Errorf("building generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		// Caller cancellation is no verdict on the daemon; everything
		// else counts against the breaker.
		if ctx.Err() != nil {
			o.releaseTrial()
		} else {
			o.recordFailure()
		}
		return "", fmt.Errorf("calling ollama: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		o.recordFailure()
		return "", fmt.Errorf("reading ollama response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		o.recordFailure()
		return "", fmt.Errorf("ollama returned HTTP %d: %s", resp.StatusCode, truncateBody(raw))
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		o.recordFailure()
		return "", fmt.Errorf("decoding ollama response: %w", err)
	}
	o.recordSuccess()
	return out.Response, nil
}

func (o *OllamaClient) recordFailure() {
	if o.breaker != nil {
		o.breaker.RecordFailure()
	}
}

func (o *OllamaClient) recordSuccess() {
	if o.breaker != nil {
		o.breaker.RecordSuccess()
	}
}

func (o *OllamaClient) releaseTrial() {
	if o.breaker != nil {
		o.breaker.ReleaseTrial()
	}
}

func truncateBody(b []byte) string {
	const n = 200
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
