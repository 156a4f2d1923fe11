package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const (
	envAPIKey    = "GOOGLE_API_KEY"
	envModel     = "LLM_MODEL"
	defaultModel = "gemini-2.0-flash-exp"

	endpointFormat = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent"

	defaultMaxTokens = 1024
	timeoutSecs      = 60
	maxElapsedRetry  = 2 * time.Minute
	maxRetryInterval = 30 * time.Second
)

type geminiClient struct {
	apiKey   string
	model    string
	endpoint string
	http     *http.Client
	logger   zerolog.Logger

	// newBackoff is swappable so tests do not wait out real retry delays.
	newBackoff func() backoff.BackOff
}

func NewGeminiFromEnv() (Client, error) {
	key := strings.TrimSpace(os.Getenv(envAPIKey))
	if key == "" {
		return nil, fmt.Errorf("missing %s", envAPIKey)
	}
	model := strings.TrimSpace(os.Getenv(envModel))
	if model == "" {
		model = defaultModel
	}
	model = strings.Trim(model, "\"'")
	return &geminiClient{
		apiKey:   key,
		model:    model,
		endpoint: fmt.Sprintf(endpointFormat, model),
		http: &http.Client{
			Timeout: timeoutSecs * time.Second,
		},
		logger:     zerolog.Nop(),
		newBackoff: defaultBackoff,
	}, nil
}

// NewGeminiWithLogger creates a client with a logger for request tracing.
func NewGeminiWithLogger(logger zerolog.Logger) (Client, error) {
	client, err := NewGeminiFromEnv()
	if err != nil {
		return nil, err
	}
	if gc, ok := client.(*geminiClient); ok {
		gc.logger = logger
	}
	return client, nil
}

func (c *geminiClient) Name() string { return c.model }

func (c *geminiClient) Generate(ctx context.Context, req Request) (Response, error) {
	payload := geminiPayload{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}},
		},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: maxTokens(req.MaxTokens),
		},
	}
	if req.System != "" {
		payload.SystemInstruction = &geminiSystemInstruction{
			Parts: []geminiPart{{Text: req.System}},
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("marshal payload: %w", err)
	}

	c.logger.Debug().
		Str("model", c.model).
		Int("payload_size", len(body)).
		Msg("gemini request")

	var text string
	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-goog-api-key", c.apiKey)

		start := time.Now()
		resp, err := c.http.Do(httpReq)
		if err != nil {
			c.logger.Warn().Err(err).Msg("gemini network error, retrying")
			return fmt.Errorf("http request: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return c.statusError(resp.StatusCode, data)
		}

		var gr geminiResponse
		if err := json.Unmarshal(data, &gr); err != nil {
			return backoff.Permanent(fmt.Errorf("parse response: %w", err))
		}
		if len(gr.Candidates) == 0 {
			return backoff.Permanent(fmt.Errorf("gemini returned no candidates"))
		}
		cand := gr.Candidates[0]
		if len(cand.Content.Parts) == 0 {
			if cand.FinishReason == "SAFETY" || cand.FinishReason == "BLOCKLIST" {
				return backoff.Permanent(fmt.Errorf("gemini blocked the request: %s", cand.FinishReason))
			}
			return fmt.Errorf("gemini returned empty content: %s", cand.FinishReason)
		}

		var buf bytes.Buffer
		for _, part := range cand.Content.Parts {
			buf.WriteString(part.Text)
		}
		text = buf.String()

		c.logger.Debug().
			Dur("duration", time.Since(start)).
			Int("prompt_tokens", gr.UsageMetadata.PromptTokenCount).
			Int("completion_tokens", gr.UsageMetadata.CandidatesTokenCount).
			Msg("gemini response")
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.newBackoff(), ctx)); err != nil {
		return Response{}, err
	}
	return Response{Text: text}, nil
}

// statusError classifies HTTP failures: rate limits and server errors are
// retried, everything else is permanent.
func (c *geminiClient) statusError(status int, body []byte) error {
	msg := string(body)
	if len(msg) > 500 {
		msg = msg[:500] + "..."
	}
	err := fmt.Errorf("gemini %d: %s", status, msg)
	c.logger.Error().Int("status", status).Str("body", msg).Msg("gemini api error")
	switch status {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable:
		return err
	default:
		return backoff.Permanent(err)
	}
}

func defaultBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxElapsedRetry
	b.MaxInterval = maxRetryInterval
	return b
}

func maxTokens(n int) int {
	if n > 0 {
		return n
	}
	return defaultMaxTokens
}

type geminiPayload struct {
	Contents          []geminiContent          `json:"contents"`
	SystemInstruction *geminiSystemInstruction `json:"system_instruction,omitempty"`
	GenerationConfig  geminiGenerationConfig   `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role,omitempty"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiSystemInstruction struct {
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}
