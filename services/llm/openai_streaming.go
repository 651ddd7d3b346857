package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/LumenLearnAI/LumenTutor/services/tutor/datatypes"
)

const (
	// defaultIdleTimeout aborts a stream that produces no frames within
	// the window. A stalled provider must fail the request, not hang it.
	defaultIdleTimeout = 60 * time.Second

	// maxScanTokenSize bounds a single SSE line. Provider deltas are
	// small; anything near this size is malformed.
	maxScanTokenSize = 1024 * 1024
)

// doneSentinel terminates an OpenAI-compatible SSE stream.
const doneSentinel = "[DONE]"

// StreamingClient talks to any OpenAI-compatible chat completion
// endpoint over raw HTTP, consuming the SSE token stream directly.
//
// # Description
//
// The ChatStream path is the heart of the tutor's token pipeline:
// each provider frame of the form
//
//	data: {"choices":[{"delta":{"content":"..."}}]}
//
// is decoded and forwarded to the callback as one token event, in
// order, without buffering beyond the current delta. A "[DONE]"
// sentinel or clean connection close completes the stream. Malformed
// frames are logged and skipped; only transport failures are fatal.
//
// The response body is closed exactly once on every path, including
// context cancellation, via a single deferred close.
type StreamingClient struct {
	httpClient  *http.Client
	baseURL     string
	model       string
	apiKey      string
	idleTimeout time.Duration
}

// NewStreamingClient builds a client from the environment:
// LLM_BASE_URL (default http://localhost:8000/v1), LLM_MODEL, and
// OPENAI_API_KEY or /run/secrets/openai_api_key (optional for local
// backends).
func NewStreamingClient() (*StreamingClient, error) {
	baseURL := os.Getenv("LLM_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8000/v1"
		slog.Warn("LLM_BASE_URL not set, defaulting", "base_url", baseURL)
	}
	model := os.Getenv("LLM_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("LLM_MODEL not set, defaulting", "model", model)
	}

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		if data, err := os.ReadFile("/run/secrets/openai_api_key"); err == nil {
			apiKey = strings.TrimSpace(string(data))
			slog.Info("Read the OpenAI API key from container secrets")
		}
	}

	return &StreamingClient{
		// No client-level timeout: streams are long-lived and bounded
		// by the idle watchdog plus the request context instead.
		httpClient:  &http.Client{},
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       model,
		apiKey:      apiKey,
		idleTimeout: defaultIdleTimeout,
	}, nil
}

// WithIdleTimeout overrides the stall watchdog, mainly for tests.
func (c *StreamingClient) WithIdleTimeout(d time.Duration) *StreamingClient {
	if d > 0 {
		c.idleTimeout = d
	}
	return c
}

type chatCompletionRequest struct {
	Model       string             `json:"model"`
	Messages    []providerMessage  `json:"messages"`
	Stream      bool               `json:"stream"`
	Temperature *float32           `json:"temperature,omitempty"`
	TopP        *float32           `json:"top_p,omitempty"`
	MaxTokens   *int               `json:"max_tokens,omitempty"`
	Stop        []string           `json:"stop,omitempty"`
}

type providerMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// streamFrame is the subset of a provider SSE frame the consumer needs.
type streamFrame struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// ChatStream streams a completion, invoking callback once per delta.
//
// # Outputs
//
//   - error: nil on clean completion ("[DONE]" or EOF); the context
//     error on cancellation; a wrapped transport or HTTP error otherwise.
//     Callback errors propagate unchanged so the caller can distinguish
//     its own aborts.
func (c *StreamingClient) ChatStream(
	ctx context.Context,
	messages []datatypes.Message,
	params GenerationParams,
	callback StreamCallback,
) error {
	body := chatCompletionRequest{
		Model:       c.model,
		Messages:    toProviderMessages(messages),
		Stream:      true,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		MaxTokens:   params.MaxTokens,
		Stop:        params.Stop,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal chat request: %w", err)
	}

	// The watchdog cancels the derived context when no frame arrives
	// within idleTimeout; each frame resets it.
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	watchdog := time.AfterFunc(c.idleTimeout, cancel)
	defer watchdog.Stop()

	req, err := http.NewRequestWithContext(streamCtx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chat completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("chat completion status %d: %s", resp.StatusCode, string(errBody))
	}

	return c.consumeStream(streamCtx, ctx, resp.Body, watchdog, callback)
}

// consumeStream reads SSE lines until the done sentinel, EOF, callback
// abort, or cancellation. streamCtx trips on watchdog expiry; parentCtx
// distinguishes caller cancellation from a stall.
func (c *StreamingClient) consumeStream(
	streamCtx context.Context,
	parentCtx context.Context,
	body io.Reader,
	watchdog *time.Timer,
	callback StreamCallback,
) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxScanTokenSize)

	malformed := 0
	for scanner.Scan() {
		select {
		case <-streamCtx.Done():
			if parentCtx.Err() != nil {
				return parentCtx.Err()
			}
			// %v, not %w: an idle stall must not satisfy
			// errors.Is(err, context.Canceled), which callers use to
			// detect client disconnects.
			return fmt.Errorf("stream idle for %s: %v", c.idleTimeout, streamCtx.Err())
		default:
		}
		watchdog.Reset(c.idleTimeout)

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)

		if data == doneSentinel {
			return nil
		}

		var frame streamFrame
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			// One bad frame never kills the stream.
			malformed++
			slog.Warn("skipping malformed provider frame",
				"error", err,
				"malformed_total", malformed,
			)
			continue
		}
		if len(frame.Choices) == 0 {
			continue
		}

		if delta := frame.Choices[0].Delta.Content; delta != "" {
			if err := callback(StreamEvent{Type: StreamEventToken, Content: delta}); err != nil {
				return err
			}
		}
	}

	if err := scanner.Err(); err != nil {
		if parentCtx.Err() != nil {
			return parentCtx.Err()
		}
		if streamCtx.Err() != nil {
			return fmt.Errorf("stream idle for %s: %v", c.idleTimeout, streamCtx.Err())
		}
		return fmt.Errorf("read provider stream: %w", err)
	}
	// Clean connection close without [DONE] also completes the stream.
	return nil
}

// Generate runs a non-streaming completion by accumulating the stream.
func (c *StreamingClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	var b strings.Builder
	err := c.ChatStream(ctx, []datatypes.Message{
		{Role: "user", Content: prompt},
	}, params, func(event StreamEvent) error {
		if event.Type == StreamEventToken {
			b.WriteString(event.Content)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

func toProviderMessages(messages []datatypes.Message) []providerMessage {
	out := make([]providerMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, providerMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

var _ LLMClient = (*StreamingClient)(nil)
