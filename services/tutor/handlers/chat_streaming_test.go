// Copyright (C) 2026 LumenLearn AI (dev@lumenlearn.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LumenLearnAI/LumenTutor/services/llm"
	"github.com/LumenLearnAI/LumenTutor/services/tutor/datatypes"
	"github.com/LumenLearnAI/LumenTutor/services/tutor/services"
)

// =============================================================================
// Fakes
// =============================================================================

// stubSearch satisfies retrieval with an empty result set, so handler
// tests run without a vector backend.
type stubSearch struct{}

func (stubSearch) Search(ctx context.Context, query string, documentIDs []string, maxResults int, minSimilarity float64) ([]datatypes.ChunkHit, error) {
	return []datatypes.ChunkHit{}, nil
}

// fakeChatStore is an in-memory TutoringStore that records persisted
// assistant messages on a channel so tests can await the async save.
type fakeChatStore struct {
	session   datatypes.ChatSession
	savedTurn chan datatypes.ChatMessage
}

func newFakeChatStore() *fakeChatStore {
	return &fakeChatStore{
		session: datatypes.ChatSession{
			SessionID:   "3b3f8f3c-6d2a-4b58-9a51-0a4f34c7f1d2",
			DocumentIDs: []string{},
		},
		savedTurn: make(chan datatypes.ChatMessage, 4),
	}
}

func (f *fakeChatStore) CreateSession(ctx context.Context, studentID, title string, documentIDs []string) (datatypes.ChatSession, error) {
	return f.session, nil
}

func (f *fakeChatStore) GetSession(ctx context.Context, sessionID string) (datatypes.ChatSession, error) {
	return f.session, nil
}

func (f *fakeChatStore) History(ctx context.Context, sessionID string) ([]datatypes.ConversationTurn, error) {
	return nil, nil
}

func (f *fakeChatStore) SaveTurn(ctx context.Context, userMsg, assistantMsg datatypes.ChatMessage) error {
	f.savedTurn <- assistantMsg
	return nil
}

func (f *fakeChatStore) UpdateDocumentContext(ctx context.Context, sessionID string, documentIDs []string) error {
	return nil
}

func (f *fakeChatStore) UpdateTitle(ctx context.Context, sessionID string, title string) error {
	return nil
}

// fakeStreamLLM plays back scripted deltas. When waitForCtx is set it
// emits its deltas and then blocks until the caller's context ends, the
// shape of a provider mid-generation.
type fakeStreamLLM struct {
	deltas     []string
	firstDelta chan struct{}
	waitForCtx bool
}

func (f *fakeStreamLLM) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	return "", nil
}

func (f *fakeStreamLLM) ChatStream(ctx context.Context, messages []datatypes.Message, params llm.GenerationParams, cb llm.StreamCallback) error {
	for i, delta := range f.deltas {
		if err := cb(llm.StreamEvent{Type: llm.StreamEventToken, Content: delta}); err != nil {
			return err
		}
		if i == 0 && f.firstDelta != nil {
			close(f.firstDelta)
		}
	}
	if f.waitForCtx {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func newChatTestRouter(t *testing.T, client llm.LLMClient, store TutoringStore) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	personas, err := services.NewPersonaRegistry("")
	require.NoError(t, err)

	handler := NewStreamingChatHandler(
		services.NewRetriever(stubSearch{}), client, store, personas, nil)

	router := gin.New()
	router.POST("/v1/chat/stream", handler.HandleChatStream)
	return router
}

func postChat(router *gin.Engine, ctx context.Context, message string) *httptest.ResponseRecorder {
	body := `{"message": "` + message + `"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/stream", strings.NewReader(body))
	if ctx != nil {
		req = req.WithContext(ctx)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// =============================================================================
// Streamed turn end to end
// =============================================================================

// TestHandleChatStream_DeltasComposeIntoFinalChunk runs a full turn
// against fakes and checks the stream contract: one non-final chunk per
// provider delta, then exactly one final chunk whose content is the
// concatenation of everything already sent.
func TestHandleChatStream_DeltasComposeIntoFinalChunk(t *testing.T) {
	store := newFakeChatStore()
	client := &fakeStreamLLM{deltas: []string{"The sky ", "scatters ", "blue light."}}
	router := newChatTestRouter(t, client, store)

	rec := postChat(router, nil, "why is the sky blue?")
	require.Equal(t, http.StatusOK, rec.Code)

	chunks := decodeFrames(t, rec.Body.String())
	require.Len(t, chunks, 4)

	for i, delta := range client.deltas {
		assert.Equal(t, delta, chunks[i].Content)
		assert.False(t, chunks[i].IsComplete)
	}

	final := chunks[3]
	assert.True(t, final.IsComplete)
	assert.Equal(t, "The sky scatters blue light.", final.Content)
	assert.Equal(t, store.session.SessionID, final.SessionID)
	assert.Empty(t, final.Error)
	require.NotNil(t, final.Confidence)

	select {
	case saved := <-store.savedTurn:
		assert.Equal(t, "The sky scatters blue light.", saved.Content)
		assert.Equal(t, "assistant", saved.Role)
	case <-time.After(2 * time.Second):
		t.Fatal("turn was never persisted")
	}
}

// TestHandleChatStream_ClientCancelEmitsNoTerminalChunk disconnects the
// client mid-generation and confirms the partial answer is discarded:
// no chunk with isComplete=true is ever written and nothing is saved.
func TestHandleChatStream_ClientCancelEmitsNoTerminalChunk(t *testing.T) {
	store := newFakeChatStore()
	client := &fakeStreamLLM{
		deltas:     []string{"partial "},
		firstDelta: make(chan struct{}),
		waitForCtx: true,
	}
	router := newChatTestRouter(t, client, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- postChat(router, ctx, "tell me everything about heat")
	}()

	<-client.firstDelta
	cancel()

	var rec *httptest.ResponseRecorder
	select {
	case rec = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after cancellation")
	}

	for _, chunk := range decodeFrames(t, rec.Body.String()) {
		assert.False(t, chunk.IsComplete, "a cancelled stream must never complete")
	}
	assert.Empty(t, store.savedTurn, "a discarded turn must not be persisted")
}

// TestHandleChatStream_OversizedAnswerEndsStreamWithError overruns the
// answer accumulator and checks the stream terminates with a sanitized
// error chunk rather than a final chunk missing streamed text.
func TestHandleChatStream_OversizedAnswerEndsStreamWithError(t *testing.T) {
	store := newFakeChatStore()
	oversized := strings.Repeat("a", 300*1024)
	client := &fakeStreamLLM{deltas: []string{oversized, oversized}}
	router := newChatTestRouter(t, client, store)

	rec := postChat(router, nil, "write me a novel")

	chunks := decodeFrames(t, rec.Body.String())
	require.NotEmpty(t, chunks)

	terminal := chunks[len(chunks)-1]
	assert.True(t, terminal.IsComplete)
	assert.Equal(t, "response generation failed", terminal.Error)
	assert.Empty(t, terminal.Content)

	completed := 0
	for _, chunk := range chunks {
		if chunk.IsComplete {
			completed++
		}
	}
	assert.Equal(t, 1, completed)
	assert.Empty(t, store.savedTurn)
}

// Provider failures must never leak backend detail (URLs, model names,
// stack fragments) into a student-facing chunk.
func TestSanitizeErrorForClient(t *testing.T) {
	cases := []string{
		"chat completion status 500: upstream at http://llm:8000 said no",
		"dial tcp 10.0.0.4:8000: connect: connection refused",
		"",
	}
	for _, raw := range cases {
		assert.Equal(t, "response generation failed", sanitizeErrorForClient(raw))
	}
}
