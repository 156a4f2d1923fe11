package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(endpoint string) *geminiClient {
	return &geminiClient{
		apiKey:   "test-key",
		model:    "gemini-test",
		endpoint: endpoint,
		http:     http.DefaultClient,
		logger:   zerolog.Nop(),
		// instant retries, bounded attempts
		newBackoff: func() backoff.BackOff {
			return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3)
		},
	}
}

func candidateBody(text string) string {
	return `{"candidates":[{"content":{"parts":[{"text":` + mustQuote(text) + `}],"role":"model"},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":10,"candidatesTokenCount":5}}`
}

func mustQuote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestGenerateSuccess(t *testing.T) {
	var gotPayload geminiPayload
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-goog-api-key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.Write([]byte(candidateBody("[{\"action_type\":\"noop\"}]")))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	resp, err := c.Generate(context.Background(), Request{
		System:      "you plan actions",
		Prompt:      "pick one",
		Temperature: 0.2,
	})
	require.NoError(t, err)
	assert.Equal(t, `[{"action_type":"noop"}]`, resp.Text)

	assert.Equal(t, "test-key", gotKey)
	require.Len(t, gotPayload.Contents, 1)
	assert.Equal(t, "user", gotPayload.Contents[0].Role)
	assert.Equal(t, "pick one", gotPayload.Contents[0].Parts[0].Text)
	require.NotNil(t, gotPayload.SystemInstruction)
	assert.Equal(t, "you plan actions", gotPayload.SystemInstruction.Parts[0].Text)
	assert.InDelta(t, 0.2, gotPayload.GenerationConfig.Temperature, 1e-9)
	assert.Equal(t, defaultMaxTokens, gotPayload.GenerationConfig.MaxOutputTokens)
}

func TestGenerateJoinsMultipleParts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"hello "},{"text":"world"}]},"finishReason":"STOP"}]}`))
	}))
	defer srv.Close()

	resp, err := testClient(srv.URL).Generate(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "hello world", resp.Text)
}

func TestGenerateRetriesServerError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(candidateBody("recovered")))
	}))
	defer srv.Close()

	resp, err := testClient(srv.URL).Generate(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Text)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGenerateClientErrorIsPermanent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"invalid argument"}}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Generate(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gemini 400")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "4xx must not be retried")
}

func TestGenerateSafetyBlockIsPermanent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"candidates":[{"content":{"parts":[]},"finishReason":"SAFETY"}]}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Generate(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SAFETY")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGenerateNoCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Generate(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no candidates")
}

func TestGenerateHonorsMaxTokens(t *testing.T) {
	var gotPayload geminiPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.Write([]byte(candidateBody("ok")))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Generate(context.Background(), Request{Prompt: "p", MaxTokens: 64})
	require.NoError(t, err)
	assert.Equal(t, 64, gotPayload.GenerationConfig.MaxOutputTokens)
}

func TestNewGeminiFromEnv(t *testing.T) {
	t.Setenv(envAPIKey, "")
	_, err := NewGeminiFromEnv()
	require.Error(t, err)

	t.Setenv(envAPIKey, "k")
	t.Setenv(envModel, `"gemini-2.0-flash-exp"`)
	c, err := NewGeminiFromEnv()
	require.NoError(t, err)
	// quotes from .env values are stripped
	assert.Equal(t, "gemini-2.0-flash-exp", c.Name())
}
