// Package gemini is a raw-HTTP client for the generativelanguage API.
// The SDK is deliberately not used: the pipeline needs to tell an
// overloaded backend (retry with backoff) from an exhausted quota
// (terminal), and that distinction lives in the raw status codes.
package gemini

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"appforge/internal/logging"
)

// ErrOverloaded signals a 503 from the backend. The caller owns the
// backoff and retries against its generation budget.
var ErrOverloaded = errors.New("model backend overloaded")

// ErrRateLimited signals a 429. Quota exhaustion does not recover on
// the timescale of one request; the pipeline treats it as terminal.
var ErrRateLimited = errors.New("model backend rate limited")

// Attachment is binary context sent inline with the prompt, such as a
// reference screenshot for an edit request.
type Attachment struct {
	MimeType string
	Data     []byte
}

// Config holds client settings.
type Config struct {
	APIKey          string
	BaseURL         string
	Model           string
	Timeout         time.Duration
	MaxOutputTokens int
}

// DefaultConfig returns the settings used when a field is left zero.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:          apiKey,
		BaseURL:         "https://generativelanguage.googleapis.com/v1beta",
		Model:           "gemini-2.5-flash",
		Timeout:         10 * time.Minute,
		MaxOutputTokens: 65536,
	}
}

// Client talks to one Gemini model over HTTP.
type Client struct {
	apiKey          string
	baseURL         string
	model           string
	maxOutputTokens int
	httpClient      *http.Client

	mu          sync.Mutex
	lastRequest time.Time
}

// minRequestGap spaces consecutive requests to stay under the burst
// limits shared with other processes on the same key.
const minRequestGap = 100 * time.Millisecond

// NewClient creates a client, filling zero config fields from defaults.
func NewClient(cfg Config) *Client {
	def := DefaultConfig(cfg.APIKey)
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = def.MaxOutputTokens
	}
	return &Client{
		apiKey:          cfg.APIKey,
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		model:           cfg.Model,
		maxOutputTokens: cfg.MaxOutputTokens,
		httpClient:      &http.Client{Timeout: cfg.Timeout},
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// pace enforces the minimum gap between requests.
func (c *Client) pace() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elapsed := time.Since(c.lastRequest); elapsed < minRequestGap {
		time.Sleep(minRequestGap - elapsed)
	}
	c.lastRequest = time.Now()
}

func (c *Client) buildRequest(systemPrompt, userPrompt string, attachments []Attachment) request {
	parts := []part{{Text: userPrompt}}
	for _, a := range attachments {
		parts = append(parts, part{InlineData: &inlineData{
			MimeType: a.MimeType,
			Data:     base64.StdEncoding.EncodeToString(a.Data),
		}})
	}

	req := request{
		Contents: []content{{Role: "user", Parts: parts}},
		GenerationConfig: generationConfig{
			Temperature:      1.0,
			MaxOutputTokens:  c.maxOutputTokens,
			ResponseMimeType: "application/json",
		},
	}
	if strings.TrimSpace(systemPrompt) != "" {
		req.SystemInstruction = &content{Parts: []part{{Text: systemPrompt}}}
	}
	return req
}

// statusError maps a non-200 response to the error taxonomy.
func statusError(code int, body []byte) error {
	trimmed := bytes.TrimSpace(body)
	switch code {
	case http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %s", ErrOverloaded, trimmed)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, trimmed)
	default:
		return fmt.Errorf("API request failed with status %d: %s", code, trimmed)
	}
}

// Complete sends a prompt without a system instruction.
func (c *Client) Complete(ctx context.Context, userPrompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", userPrompt, nil)
}

// CompleteWithSystem sends a system + user prompt pair with optional
// inline attachments and returns the full response text.
func (c *Client) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string, attachments []Attachment) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("API key not configured")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	start := time.Now()
	logging.GeminiDebug("complete: model=%s system_len=%d user_len=%d attachments=%d",
		c.model, len(systemPrompt), len(userPrompt), len(attachments))

	c.pace()

	jsonData, err := json.Marshal(c.buildRequest(systemPrompt, userPrompt, attachments))
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		logging.GeminiWarn("complete: status %d after %v", resp.StatusCode, time.Since(start))
		return "", statusError(resp.StatusCode, body)
	}

	var decoded response
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if decoded.Error != nil {
		return "", fmt.Errorf("API error: %s", decoded.Error.Message)
	}
	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no completion returned")
	}

	var result strings.Builder
	for _, p := range decoded.Candidates[0].Content.Parts {
		result.WriteString(p.Text)
	}
	text := strings.TrimSpace(result.String())

	logging.Gemini("complete: %v response_len=%d tokens=%d finish=%s",
		time.Since(start), len(text), decoded.Usage.TotalTokenCount, decoded.Candidates[0].FinishReason)
	return text, nil
}

// CompleteStream sends the same request against the SSE endpoint and
// forwards each text chunk to onChunk as it arrives, returning the
// accumulated text. onChunk may be nil.
func (c *Client) CompleteStream(ctx context.Context, systemPrompt, userPrompt string, onChunk func(string)) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("API key not configured")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	start := time.Now()
	c.pace()

	jsonData, err := json.Marshal(c.buildRequest(systemPrompt, userPrompt, nil))
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", c.baseURL, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", statusError(resp.StatusCode, body)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var result strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var chunk response
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Error != nil {
			return "", fmt.Errorf("API error: %s", chunk.Error.Message)
		}
		if len(chunk.Candidates) == 0 {
			continue
		}
		for _, p := range chunk.Candidates[0].Content.Parts {
			if p.Text == "" {
				continue
			}
			result.WriteString(p.Text)
			if onChunk != nil {
				onChunk(p.Text)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("stream read failed: %w", err)
	}

	text := strings.TrimSpace(result.String())
	if text == "" {
		return "", fmt.Errorf("no completion returned")
	}
	logging.Gemini("stream: %v response_len=%d", time.Since(start), len(text))
	return text, nil
}
