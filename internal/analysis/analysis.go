package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Returned when the analysis collaborator fails or times out. Never
// retried by the core; the caller decides whether to try again.
var ErrUnavailable = errors.New("analysis service unavailable")

// Returned for a mode outside the supported set
var ErrInvalidMode = errors.New("invalid analysis mode")

const defaultTimeout = 15 * time.Second

type Mode string

const (
	ModeExplain Mode = "explain"
	ModeDebug   Mode = "debug"
	ModeImprove Mode = "improve"
)

func (m Mode) valid() bool {
	switch m {
	case ModeExplain, ModeDebug, ModeImprove:
		return true
	}
	return false
}

type Request struct {
	Code         string `json:"code"`
	Language     string `json:"language"`
	Mode         Mode   `json:"mode"`
	ErrorContext string `json:"error_context,omitempty"`
}

type Result struct {
	Explanation string   `json:"explanation"`
	Suggestions []string `json:"suggestions"`
}

// The text-analysis collaborator consumed by the core. Must complete
// or fail within a bounded timeout.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (*Result, error)
}

// Calls an external analysis endpoint over HTTP
type HTTPAnalyzer struct {
	baseURL string
	client  *http.Client
}

func NewHTTPAnalyzer(baseURL string, timeout time.Duration) *HTTPAnalyzer {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPAnalyzer{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (a *HTTPAnalyzer) Analyze(ctx context.Context, req Request) (*Result, error) {
	if !req.Mode.valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, req.Mode)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrUnavailable, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}

	return &result, nil
}
