// Package replicate implements the client and orchestration logic for the
// hosted image-generation API.
package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Status is the remote prediction lifecycle status
type Status string

const (
	StatusStarting   Status = "starting"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// Terminal reports whether no further status transitions occur
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Prediction is one asynchronous generation job tracked by the remote API
type Prediction struct {
	ID          string          `json:"id"`
	Version     string          `json:"version"`
	Status      Status          `json:"status"`
	Input       map[string]any  `json:"input,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   string          `json:"created_at,omitempty"`
	CompletedAt string          `json:"completed_at,omitempty"`
}

// ErrNoOutput is returned when a succeeded prediction carries no usable output
var ErrNoOutput = errors.New("no output produced")

// Client talks to the remote prediction API
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	logger  *slog.Logger
}

// NewClient creates a prediction API client
func NewClient(baseURL, token string, requestTimeout time.Duration, logger *slog.Logger) *Client {
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}

	return &Client{
		baseURL: baseURL,
		token:   token,
		httpc:   &http.Client{Timeout: requestTimeout},
		logger:  logger,
	}
}

type createRequest struct {
	Version string         `json:"version"`
	Input   map[string]any `json:"input"`
	Webhook string         `json:"webhook,omitempty"`
}

// Create submits a new prediction for the given model version
func (c *Client) Create(ctx context.Context, version string, input map[string]any, webhook string) (*Prediction, error) {
	payload, err := json.Marshal(createRequest{
		Version: version,
		Input:   input,
		Webhook: webhook,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal prediction request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/predictions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build prediction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+c.token)

	return c.do(req)
}

// Get fetches the current state of a prediction
func (c *Client) Get(ctx context.Context, id string) (*Prediction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/predictions/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build prediction request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.token)

	return c.do(req)
}

func (c *Client) do(req *http.Request) (*Prediction, error) {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("prediction request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read prediction response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		c.logger.Error("Prediction API returned an error",
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(body)),
		)
		return nil, fmt.Errorf("prediction API returned status %d", resp.StatusCode)
	}

	var p Prediction
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("failed to decode prediction response: %w", err)
	}

	return &p, nil
}

// NormalizeOutput flattens the remote output field into an ordered list of
// output references. The remote result may be a single reference, a list of
// references, or an object carrying either an image or images field.
func NormalizeOutput(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, ErrNoOutput
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if single == "" {
			return nil, ErrNoOutput
		}
		return []string{single}, nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		out := make([]string, 0, len(list))
		for _, v := range list {
			if v != "" {
				out = append(out, v)
			}
		}
		if len(out) == 0 {
			return nil, ErrNoOutput
		}
		return out, nil
	}

	var obj struct {
		Image  string   `json:"image"`
		Images []string `json:"images"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Image != "" {
			return []string{obj.Image}, nil
		}
		out := make([]string, 0, len(obj.Images))
		for _, v := range obj.Images {
			if v != "" {
				out = append(out, v)
			}
		}
		if len(out) > 0 {
			return out, nil
		}
		return nil, ErrNoOutput
	}

	return nil, ErrNoOutput
}
