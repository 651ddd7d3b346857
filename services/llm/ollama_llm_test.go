package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LumenLearnAI/LumenTutor/services/tutor/datatypes"
)

// ndjsonHandler writes newline-delimited JSON chat frames the way the
// Ollama daemon does.
func ndjsonHandler(lines []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		flusher := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprintln(w, line)
			flusher.Flush()
		}
	}
}

func newTestOllamaClient(t *testing.T, handler http.Handler) *OllamaClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	t.Setenv("OLLAMA_BASE_URL", server.URL)
	t.Setenv("OLLAMA_MODEL", "test-model")

	client, err := NewOllamaClient()
	require.NoError(t, err)
	return client
}

func ollamaFrame(content string, done bool) string {
	return fmt.Sprintf(`{"message":{"role":"assistant","content":%q},"done":%v}`, content, done)
}

func TestOllamaChatStream_DeliversFragmentsInOrder(t *testing.T) {
	client := newTestOllamaClient(t, ndjsonHandler([]string{
		ollamaFrame("Work ", false),
		ollamaFrame("equals ", false),
		ollamaFrame("force times distance.", false),
		ollamaFrame("", true),
	}))

	var tokens []string
	err := client.ChatStream(context.Background(), []datatypes.Message{
		{Role: "user", Content: "what is work?"},
	}, GenerationParams{}, func(event StreamEvent) error {
		tokens = append(tokens, event.Content)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Work ", "equals ", "force times distance."}, tokens)
}

func TestOllamaChatStream_MalformedFrameSkipped(t *testing.T) {
	client := newTestOllamaClient(t, ndjsonHandler([]string{
		ollamaFrame("good", false),
		`{broken json`,
		ollamaFrame("still good", false),
		ollamaFrame("", true),
	}))

	var tokens []string
	err := client.ChatStream(context.Background(), nil, GenerationParams{}, func(event StreamEvent) error {
		tokens = append(tokens, event.Content)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"good", "still good"}, tokens)
}

func TestOllamaChatStream_DaemonErrorFrame(t *testing.T) {
	client := newTestOllamaClient(t, ndjsonHandler([]string{
		`{"error":"model is loading"}`,
	}))

	err := client.ChatStream(context.Background(), nil, GenerationParams{}, func(StreamEvent) error {
		t.Fatal("no tokens expected")
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model is loading")
}

func TestOllamaGenerate(t *testing.T) {
	client := newTestOllamaClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		fmt.Fprintln(w, `{"response":"A concise title","done":true}`)
	}))

	answer, err := client.Generate(context.Background(), "summarize this", GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "A concise title", answer)
}

func TestNewOllamaClient_RequiresBaseURL(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "")
	_, err := NewOllamaClient()
	require.Error(t, err)
}
