// Copyright (C) 2026 LumenLearn AI (dev@lumenlearn.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// This file consumes the tutor service's chat stream protocol: one JSON
// chunk per SSE frame, text deltas until the single terminal chunk that
// carries the full answer, sources, citations, and confidence.
package ux

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// ChunkSource is a cited document reference attached to the final chunk.
type ChunkSource struct {
	DocumentID     string   `json:"documentId"`
	DocumentTitle  string   `json:"documentTitle"`
	ChunkID        string   `json:"chunkId"`
	PageNumber     *int     `json:"pageNumber"`
	RelevanceScore float64  `json:"relevanceScore"`
	Excerpt        string   `json:"excerpt"`
	Confidence     *float64 `json:"confidence"`
}

// ChunkCitation is a character span in the answer matching a source.
type ChunkCitation struct {
	Start  int         `json:"start"`
	End    int         `json:"end"`
	Source ChunkSource `json:"source"`
}

// StreamChunk mirrors the service's outbound chunk schema.
type StreamChunk struct {
	Content    string          `json:"content"`
	IsComplete bool            `json:"isComplete"`
	SessionID  string          `json:"sessionId,omitempty"`
	Sources    []ChunkSource   `json:"sources,omitempty"`
	Citations  []ChunkCitation `json:"citations,omitempty"`
	Confidence *float64        `json:"confidence,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// StreamResult contains the complete result of processing a stream
type StreamResult struct {
	Answer     string
	Sources    []ChunkSource
	Citations  []ChunkCitation
	Confidence *float64
	SessionID  string
}

// StreamProcessor defines the interface for processing streaming responses.
type StreamProcessor interface {
	// Process reads and processes a streaming response from the reader.
	// Returns the final answer with sources and confidence, or an error
	// when the stream ends with a terminal error chunk.
	Process(reader io.Reader) (*StreamResult, error)
}

// chunkStreamProcessor implements StreamProcessor for the chunk protocol
type chunkStreamProcessor struct {
	writer      io.Writer
	personality PersonalityLevel
	answer      strings.Builder
}

// NewStreamProcessor creates a new chunk stream processor
func NewStreamProcessor() StreamProcessor {
	return &chunkStreamProcessor{
		writer:      os.Stdout,
		personality: GetPersonality().Level,
	}
}

// NewStreamProcessorWithWriter creates a stream processor with custom writer (for testing)
func NewStreamProcessorWithWriter(w io.Writer, personality PersonalityLevel) StreamProcessor {
	return &chunkStreamProcessor{
		writer:      w,
		personality: personality,
	}
}

// Process reads and processes a streaming response
func (p *chunkStreamProcessor) Process(reader io.Reader) (*StreamResult, error) {
	scanner := bufio.NewScanner(reader)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}

		// Parse SSE format: "data: {...}"
		if strings.HasPrefix(line, "data:") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}

		var chunk StreamChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			// Not JSON, treat the line as a raw delta
			p.handleDelta(line)
			continue
		}

		if !chunk.IsComplete {
			p.handleDelta(chunk.Content)
			continue
		}

		// Terminal chunk: either the full answer or an error.
		p.finalize()
		if chunk.Error != "" {
			return nil, fmt.Errorf("%s", chunk.Error)
		}
		return &StreamResult{
			Answer:     chunk.Content,
			Sources:    chunk.Sources,
			Citations:  chunk.Citations,
			Confidence: chunk.Confidence,
			SessionID:  chunk.SessionID,
		}, nil
	}

	p.finalize()
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("stream ended without a terminal chunk")
}

func (p *chunkStreamProcessor) handleDelta(token string) {
	p.answer.WriteString(token)

	if p.personality == PersonalityMachine {
		// In machine mode, buffer until done
		return
	}
	fmt.Fprint(p.writer, token)
}

func (p *chunkStreamProcessor) finalize() {
	if p.personality == PersonalityMachine {
		if p.answer.Len() > 0 {
			fmt.Fprintf(p.writer, "ANSWER: %s\n", p.answer.String())
		}
		return
	}
	if p.answer.Len() > 0 && !strings.HasSuffix(p.answer.String(), "\n") {
		fmt.Fprintln(p.writer)
	}
}

var _ StreamProcessor = (*chunkStreamProcessor)(nil)
