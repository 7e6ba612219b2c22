// Package lint runs generated sources through an external ESLint
// daemon and folds its findings into validation issues.
package lint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"appforge/internal/logging"
)

// Finding is one diagnostic from the lint service.
type Finding struct {
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	RuleID   string `json:"ruleId"`
	Message  string `json:"message"`
	Severity int    `json:"severity"` // 1 warning, 2 error
}

// Service lints one file standalone.
type Service interface {
	Lint(ctx context.Context, path, content string) ([]Finding, error)
}

// HTTPService talks to a long-lived ESLint daemon over HTTP. The daemon
// keeps the parser warm; a cold eslint invocation per file would
// dominate pipeline latency.
type HTTPService struct {
	endpoint string
	client   *http.Client
}

// NewHTTPService creates a client for the daemon at endpoint. A zero
// timeout falls back to 30s.
func NewHTTPService(endpoint string, timeout time.Duration) *HTTPService {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPService{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type lintRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type lintResponse struct {
	Findings []Finding `json:"findings"`
	Error    string    `json:"error,omitempty"`
}

// Lint posts the file to the daemon and decodes its findings.
func (s *HTTPService) Lint(ctx context.Context, path, content string) ([]Finding, error) {
	body, err := json.Marshal(lintRequest{Path: path, Content: content})
	if err != nil {
		return nil, fmt.Errorf("encoding lint request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building lint request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lint daemon unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("lint daemon returned %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var decoded lintResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding lint response: %w", err)
	}
	if decoded.Error != "" {
		return nil, fmt.Errorf("lint daemon error for %s: %s", path, decoded.Error)
	}

	logging.LintDebug("daemon: %s -> %d findings", path, len(decoded.Findings))
	return decoded.Findings, nil
}
