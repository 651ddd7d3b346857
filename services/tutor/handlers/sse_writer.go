// Copyright (C) 2026 LumenLearn AI (dev@lumenlearn.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/LumenLearnAI/LumenTutor/services/tutor/datatypes"
)

// StreamWriter emits outbound chat stream frames.
//
// # Description
//
// Every frame is "data: <json>\n\n" carrying one ChatStreamChunk,
// flushed immediately so each delta reaches the client before the next
// provider frame is read. The writer enforces the protocol's core
// invariant structurally: exactly one chunk per stream has
// IsComplete=true, whether it is the final answer chunk or a terminal
// error chunk. Writes after the final chunk are rejected.
type StreamWriter interface {
	// WriteDelta emits one incremental content chunk.
	WriteDelta(content string) error

	// WriteFinal emits the single terminal chunk with the accumulated
	// answer, sources, citations, and confidence.
	WriteFinal(chunk datatypes.ChatStreamChunk) error

	// WriteErrorChunk emits a terminal error chunk with empty content.
	WriteErrorChunk(message string) error

	// WriteKeepAlive emits an SSE comment to hold the connection open
	// through slow retrieval.
	WriteKeepAlive() error
}

// chunkWriter is the concrete StreamWriter over an http.ResponseWriter.
type chunkWriter struct {
	mu        sync.Mutex
	writer    http.ResponseWriter
	flusher   http.Flusher
	finalSent bool
}

// NewStreamWriter wraps w. Returns an error when the writer cannot
// flush, since SSE without flushing silently buffers forever.
func NewStreamWriter(w http.ResponseWriter) (StreamWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	return &chunkWriter{writer: w, flusher: flusher}, nil
}

// SetStreamHeaders configures the response for SSE delivery.
// X-Accel-Buffering disables proxy buffering (nginx et al.).
func SetStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

func (w *chunkWriter) WriteDelta(content string) error {
	return w.writeChunk(datatypes.ChatStreamChunk{Content: content})
}

func (w *chunkWriter) WriteFinal(chunk datatypes.ChatStreamChunk) error {
	chunk.IsComplete = true
	return w.writeChunk(chunk)
}

func (w *chunkWriter) WriteErrorChunk(message string) error {
	return w.writeChunk(datatypes.ChatStreamChunk{
		IsComplete: true,
		Error:      message,
	})
}

func (w *chunkWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.finalSent {
		return nil
	}
	if _, err := fmt.Fprint(w.writer, ": keepalive\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	w.flusher.Flush()
	return nil
}

func (w *chunkWriter) writeChunk(chunk datatypes.ChatStreamChunk) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.finalSent {
		return fmt.Errorf("stream already completed")
	}

	data, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("marshal stream chunk: %w", err)
	}
	if _, err := fmt.Fprintf(w.writer, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write stream chunk: %w", err)
	}
	w.flusher.Flush()

	if chunk.IsComplete {
		w.finalSent = true
	}
	return nil
}

var _ StreamWriter = (*chunkWriter)(nil)
