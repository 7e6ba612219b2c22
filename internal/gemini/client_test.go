package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(url string) *Client {
	return NewClient(Config{APIKey: "test-key", BaseURL: url, Model: "gemini-2.5-flash"})
}

func completionBody(text string) string {
	resp := map[string]interface{}{
		"candidates": []map[string]interface{}{
			{
				"content":      map[string]interface{}{"parts": []map[string]string{{"text": text}}},
				"finishReason": "STOP",
			},
		},
		"usageMetadata": map[string]int{"totalTokenCount": 42},
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

func TestCompleteWithSystem(t *testing.T) {
	var captured request
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, ":generateContent")
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		fmt.Fprint(w, completionBody(`{"files":[]}`))
	}))
	defer ts.Close()

	text, err := testClient(ts.URL).CompleteWithSystem(context.Background(), "system rules", "make an app", nil)
	require.NoError(t, err)
	assert.Equal(t, `{"files":[]}`, text)

	require.NotNil(t, captured.SystemInstruction)
	assert.Equal(t, "system rules", captured.SystemInstruction.Parts[0].Text)
	require.Len(t, captured.Contents, 1)
	assert.Equal(t, "make an app", captured.Contents[0].Parts[0].Text)
	assert.Equal(t, "application/json", captured.GenerationConfig.ResponseMimeType)
}

func TestCompleteAttachments(t *testing.T) {
	var captured request
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		fmt.Fprint(w, completionBody("ok"))
	}))
	defer ts.Close()

	att := []Attachment{{MimeType: "image/png", Data: []byte{0x89, 0x50}}}
	_, err := testClient(ts.URL).CompleteWithSystem(context.Background(), "", "edit this", att)
	require.NoError(t, err)

	require.Len(t, captured.Contents[0].Parts, 2)
	inline := captured.Contents[0].Parts[1].InlineData
	require.NotNil(t, inline)
	assert.Equal(t, "image/png", inline.MimeType)
	assert.Equal(t, "iVA=", inline.Data)
}

func TestCompleteOverloaded(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":503,"status":"UNAVAILABLE"}}`, http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	_, err := testClient(ts.URL).Complete(context.Background(), "x")
	assert.ErrorIs(t, err, ErrOverloaded)
	assert.NotErrorIs(t, err, ErrRateLimited)
}

func TestCompleteRateLimited(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":429,"status":"RESOURCE_EXHAUSTED"}}`, http.StatusTooManyRequests)
	}))
	defer ts.Close()

	_, err := testClient(ts.URL).Complete(context.Background(), "x")
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestCompleteAPIErrorBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":{"code":400,"message":"bad prompt","status":"INVALID_ARGUMENT"}}`)
	}))
	defer ts.Close()

	_, err := testClient(ts.URL).Complete(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad prompt")
}

func TestCompleteEmptyCandidates(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[]}`)
	}))
	defer ts.Close()

	_, err := testClient(ts.URL).Complete(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no completion")
}

func TestCompleteNoAPIKey(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://unused"})
	_, err := c.Complete(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}

func TestCompleteStream(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, ":streamGenerateContent")
		assert.Equal(t, "sse", r.URL.Query().Get("alt"))
		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range []string{`{"files`, `":[]}`} {
			fmt.Fprintf(w, "data: %s\n\n", completionBody(chunk))
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer ts.Close()

	var chunks []string
	text, err := testClient(ts.URL).CompleteStream(context.Background(), "sys", "user", func(s string) {
		chunks = append(chunks, s)
	})
	require.NoError(t, err)
	assert.Equal(t, `{"files":[]}`, text)
	assert.Equal(t, []string{`{"files`, `":[]}`}, chunks)
}

func TestCompleteStreamMidStreamError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "data: %s\n\n", completionBody("partial"))
		fmt.Fprint(w, `data: {"error":{"code":500,"message":"internal"}}`+"\n\n")
	}))
	defer ts.Close()

	_, err := testClient(ts.URL).CompleteStream(context.Background(), "", "x", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "internal")
}

func TestCompleteStreamOverloaded(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	_, err := testClient(ts.URL).CompleteStream(context.Background(), "", "x", nil)
	assert.ErrorIs(t, err, ErrOverloaded)
}

func TestNewClientDefaults(t *testing.T) {
	c := NewClient(Config{APIKey: "k"})
	assert.Equal(t, "gemini-2.5-flash", c.Model())
	assert.True(t, strings.HasPrefix(c.baseURL, "https://generativelanguage"))
	assert.Equal(t, 65536, c.maxOutputTokens)
}
