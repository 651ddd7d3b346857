// Copyright (C) 2026 LumenLearn AI (dev@lumenlearn.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LumenLearnAI/LumenTutor/services/tutor/datatypes"
)

func newTestStreamWriter(t *testing.T) (StreamWriter, *httptest.ResponseRecorder) {
	t.Helper()
	rec := httptest.NewRecorder()
	w, err := NewStreamWriter(rec)
	require.NoError(t, err)
	return w, rec
}

// decodeFrames parses the recorded body back into chunks, skipping SSE
// comment lines.
func decodeFrames(t *testing.T, body string) []datatypes.ChatStreamChunk {
	t.Helper()
	chunks := make([]datatypes.ChatStreamChunk, 0)
	for _, frame := range strings.Split(body, "\n\n") {
		frame = strings.TrimSpace(frame)
		if frame == "" || strings.HasPrefix(frame, ":") {
			continue
		}
		require.True(t, strings.HasPrefix(frame, "data: "), "frame %q must use the data: prefix", frame)

		var chunk datatypes.ChatStreamChunk
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frame, "data: ")), &chunk))
		chunks = append(chunks, chunk)
	}
	return chunks
}

func TestStreamWriter_DeltaFrameFormat(t *testing.T) {
	w, rec := newTestStreamWriter(t)

	require.NoError(t, w.WriteDelta("Hello"))
	require.NoError(t, w.WriteDelta(" world"))

	body := rec.Body.String()
	assert.True(t, strings.HasSuffix(body, "\n\n"), "every frame ends with a blank line")

	chunks := decodeFrames(t, body)
	require.Len(t, chunks, 2)
	assert.Equal(t, "Hello", chunks[0].Content)
	assert.False(t, chunks[0].IsComplete)
	assert.Equal(t, " world", chunks[1].Content)
}

func TestStreamWriter_FinalChunkCarriesEverything(t *testing.T) {
	w, rec := newTestStreamWriter(t)

	confidence := 0.87
	require.NoError(t, w.WriteDelta("partial"))
	require.NoError(t, w.WriteFinal(datatypes.ChatStreamChunk{
		Content:   "partial answer",
		SessionID: "session-1",
		Sources: []datatypes.DocumentReference{
			{DocumentID: "doc-1", DocumentTitle: "Notes", ChunkID: "c1", RelevanceScore: 0.9},
		},
		Citations:  []datatypes.Citation{{Start: 0, End: 7}},
		Confidence: &confidence,
	}))

	chunks := decodeFrames(t, rec.Body.String())
	require.Len(t, chunks, 2)

	final := chunks[1]
	assert.True(t, final.IsComplete, "WriteFinal forces the completion flag")
	assert.Equal(t, "partial answer", final.Content)
	assert.Equal(t, "session-1", final.SessionID)
	require.Len(t, final.Sources, 1)
	require.Len(t, final.Citations, 1)
	require.NotNil(t, final.Confidence)
	assert.InDelta(t, 0.87, *final.Confidence, 1e-9)
}

// TestStreamWriter_ExactlyOneTerminalChunk drives every write path after
// completion and confirms the writer rejects all of them. The protocol
// guarantee lives here, not in handler discipline.
func TestStreamWriter_ExactlyOneTerminalChunk(t *testing.T) {
	w, rec := newTestStreamWriter(t)

	require.NoError(t, w.WriteFinal(datatypes.ChatStreamChunk{Content: "done"}))

	assert.Error(t, w.WriteDelta("late"))
	assert.Error(t, w.WriteFinal(datatypes.ChatStreamChunk{Content: "again"}))
	assert.Error(t, w.WriteErrorChunk("too late"))

	chunks := decodeFrames(t, rec.Body.String())
	require.Len(t, chunks, 1)
	assert.True(t, chunks[0].IsComplete)
}

func TestStreamWriter_ErrorChunkShape(t *testing.T) {
	w, rec := newTestStreamWriter(t)

	require.NoError(t, w.WriteErrorChunk("response generation failed"))

	chunks := decodeFrames(t, rec.Body.String())
	require.Len(t, chunks, 1)
	assert.Equal(t, "", chunks[0].Content, "error chunks carry no content")
	assert.True(t, chunks[0].IsComplete)
	assert.Equal(t, "response generation failed", chunks[0].Error)
	assert.Empty(t, chunks[0].Sources)
}

func TestStreamWriter_KeepAlive(t *testing.T) {
	w, rec := newTestStreamWriter(t)

	require.NoError(t, w.WriteKeepAlive())
	require.NoError(t, w.WriteDelta("x"))

	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, ": keepalive\n\n"))

	// Keepalive after completion is silently dropped, not an error.
	require.NoError(t, w.WriteFinal(datatypes.ChatStreamChunk{}))
	require.NoError(t, w.WriteKeepAlive())
}

func TestNewStreamWriter_RequiresFlusher(t *testing.T) {
	_, err := NewStreamWriter(nonFlushingWriter{})
	require.Error(t, err)
}

type nonFlushingWriter struct{}

func (nonFlushingWriter) Header() http.Header       { return http.Header{} }
func (nonFlushingWriter) Write(b []byte) (int, error) { return len(b), nil }
func (nonFlushingWriter) WriteHeader(int)           {}

func TestSetStreamHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SetStreamHeaders(rec)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
}
