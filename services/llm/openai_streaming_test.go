package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LumenLearnAI/LumenTutor/services/tutor/datatypes"
)

// sseHandler writes the given frames as an SSE response. Each entry is
// emitted verbatim followed by a blank line.
func sseHandler(t *testing.T, lines []string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)
		for _, line := range lines {
			fmt.Fprintf(w, "%s\n\n", line)
			flusher.Flush()
		}
	}
}

func newTestClient(t *testing.T, handler http.Handler) (*StreamingClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	t.Setenv("LLM_BASE_URL", server.URL+"/v1")
	t.Setenv("LLM_MODEL", "test-model")
	t.Setenv("OPENAI_API_KEY", "test-key")

	client, err := NewStreamingClient()
	require.NoError(t, err)
	return client, server
}

func deltaFrame(content string) string {
	return fmt.Sprintf(`data: {"choices":[{"delta":{"content":%q}}]}`, content)
}

func collectTokens(t *testing.T, client *StreamingClient, ctx context.Context) ([]string, error) {
	t.Helper()
	var tokens []string
	err := client.ChatStream(ctx, []datatypes.Message{
		{Role: "user", Content: "question"},
	}, GenerationParams{}, func(event StreamEvent) error {
		if event.Type == StreamEventToken {
			tokens = append(tokens, event.Content)
		}
		return nil
	})
	return tokens, err
}

func TestChatStream_DeliversDeltasInOrder(t *testing.T) {
	client, _ := newTestClient(t, sseHandler(t, []string{
		deltaFrame("Hello"),
		deltaFrame(" there"),
		deltaFrame(", student."),
		"data: [DONE]",
	}))

	tokens, err := collectTokens(t, client, context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello", " there", ", student."}, tokens)
}

// TestChatStream_MalformedFrameSkipped verifies one bad frame never
// kills the stream: deltas before and after it both arrive.
func TestChatStream_MalformedFrameSkipped(t *testing.T) {
	client, _ := newTestClient(t, sseHandler(t, []string{
		deltaFrame("before"),
		`data: {this is not json`,
		deltaFrame("after"),
		"data: [DONE]",
	}))

	tokens, err := collectTokens(t, client, context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"before", "after"}, tokens)
}

func TestChatStream_CommentAndBlankLinesIgnored(t *testing.T) {
	client, _ := newTestClient(t, sseHandler(t, []string{
		": keepalive",
		"",
		deltaFrame("token"),
		": another comment",
		"data: [DONE]",
	}))

	tokens, err := collectTokens(t, client, context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"token"}, tokens)
}

func TestChatStream_CleanEOFWithoutDoneCompletes(t *testing.T) {
	client, _ := newTestClient(t, sseHandler(t, []string{
		deltaFrame("only"),
	}))

	tokens, err := collectTokens(t, client, context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, tokens)
}

func TestChatStream_EmptyDeltasNotForwarded(t *testing.T) {
	client, _ := newTestClient(t, sseHandler(t, []string{
		`data: {"choices":[{"delta":{}}]}`,
		`data: {"choices":[]}`,
		deltaFrame("real"),
		"data: [DONE]",
	}))

	tokens, err := collectTokens(t, client, context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"real"}, tokens)
}

func TestChatStream_HTTPErrorStatus(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model overloaded"}`, http.StatusServiceUnavailable)
	}))

	_, err := collectTokens(t, client, context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestChatStream_CallbackErrorAborts(t *testing.T) {
	client, _ := newTestClient(t, sseHandler(t, []string{
		deltaFrame("a"),
		deltaFrame("b"),
		deltaFrame("c"),
		"data: [DONE]",
	}))

	abort := fmt.Errorf("caller aborted")
	count := 0
	err := client.ChatStream(context.Background(), []datatypes.Message{
		{Role: "user", Content: "q"},
	}, GenerationParams{}, func(event StreamEvent) error {
		count++
		return abort
	})
	require.ErrorIs(t, err, abort, "callback errors propagate unchanged")
	assert.Equal(t, 1, count)
}

// TestChatStream_CancellationReleasesConnection cancels mid-stream and
// checks both sides let go: the caller gets the context error and the
// server sees its request context die instead of blocking forever.
func TestChatStream_CancellationReleasesConnection(t *testing.T) {
	serverDone := make(chan struct{})
	firstDelta := make(chan struct{})

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(serverDone)
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprintf(w, "%s\n\n", deltaFrame("first"))
		flusher.Flush()
		close(firstDelta)
		<-r.Context().Done()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-firstDelta
		cancel()
	}()

	_, err := collectTokens(t, client, ctx)
	require.ErrorIs(t, err, context.Canceled)

	select {
	case <-serverDone:
	case <-time.After(2 * time.Second):
		t.Fatal("server connection was not released after cancellation")
	}
}

// TestChatStream_IdleTimeout distinguishes a stalled provider from a
// caller cancellation: the error names the idle window, not the caller.
func TestChatStream_IdleTimeout(t *testing.T) {
	stall := make(chan struct{})
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprintf(w, "%s\n\n", deltaFrame("then silence"))
		flusher.Flush()
		select {
		case <-stall:
		case <-r.Context().Done():
		}
	}))
	defer close(stall)

	client.WithIdleTimeout(100 * time.Millisecond)

	_, err := collectTokens(t, client, context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "idle")
	assert.NotErrorIs(t, err, context.Canceled)
}

func TestGenerate_AccumulatesStream(t *testing.T) {
	client, _ := newTestClient(t, sseHandler(t, []string{
		deltaFrame("Sessions "),
		deltaFrame("about "),
		deltaFrame("entropy"),
		"data: [DONE]",
	}))

	answer, err := client.Generate(context.Background(), "summarize", GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "Sessions about entropy", answer)
}

func TestChatStream_SendsAuthAndPayload(t *testing.T) {
	var gotAuth, gotAccept string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		sseHandler(t, []string{"data: [DONE]"}).ServeHTTP(w, r)
	}))

	_, err := collectTokens(t, client, context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "text/event-stream", gotAccept)
}
