// Copyright (C) 2026 LumenLearn AI (dev@lumenlearn.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides data structures for the tutor service.
//
// This file contains request and chunk types for the streaming chat
// endpoint. For retrieval projections see retrieval.go, for session
// persistence types see conversation.go.
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Constants for Request Limits
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single message content.
	MaxMessageContentBytes = 32 * 1024 // 32KB

	// MaxDocumentScope is the maximum number of documents a single request
	// may scope retrieval to.
	MaxDocumentScope = 50

	// MaxRetrievalResults caps the chunk count a caller may request.
	MaxRetrievalResults = 100
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chat datatypes.
// Initialized in init() with custom validators.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes checks byte length (not rune count) so oversized
// payloads are rejected before any allocation downstream.
func validateMaxBytes(fl validator.FieldLevel) bool {
	content := fl.Field().String()
	return len(content) <= MaxMessageContentBytes
}

// Message is a single conversation message in provider wire order.
type Message struct {
	Role    string `json:"role" validate:"required,oneof=user assistant system"`
	Content string `json:"content" validate:"required,maxbytes"`
}

// =============================================================================
// Streaming Chat Request
// =============================================================================

// ChatStreamRequest is the body for POST /v1/chat/stream.
//
// # Description
//
// Carries the student's message plus the retrieval scope for this turn.
// SessionID is optional: when empty a new session is created and its ID
// is returned in the final stream chunk. DocumentIDs restricts retrieval
// to documents the caller is permitted to use; scope enforcement happens
// upstream of this service.
//
// # Validation
//
// Uses go-playground/validator:
//   - RequestID: required, UUID v4
//   - Message: required, max 32KB (custom maxbytes rule)
//   - SessionID: optional, UUID v4 when present
//   - DocumentIDs: at most MaxDocumentScope entries
//   - MaxResults: 0-100 (0 means server default)
//   - MinSimilarity: 0.0-1.0
type ChatStreamRequest struct {
	RequestID     string   `json:"request_id" validate:"required,uuid4"`
	Timestamp     int64    `json:"timestamp" validate:"required,gt=0"`
	Message       string   `json:"message" validate:"required,maxbytes"`
	SessionID     string   `json:"session_id" validate:"omitempty,uuid4"`
	StudentID     string   `json:"student_id" validate:"omitempty,max=128"`
	DocumentIDs   []string `json:"document_ids" validate:"max=50,dive,max=128"`
	MaxResults    int      `json:"max_results" validate:"gte=0,lte=100"`
	MinSimilarity float64  `json:"min_similarity" validate:"gte=0,lte=1"`
	Persona       string   `json:"persona" validate:"omitempty,max=64"`
}

// Validate validates the ChatStreamRequest fields after JSON binding.
func (r *ChatStreamRequest) Validate() error {
	return chatValidate.Struct(r)
}

// EnsureDefaults populates RequestID and Timestamp when the client
// omitted them, so every request is traceable.
func (r *ChatStreamRequest) EnsureDefaults() {
	if r.RequestID == "" {
		r.RequestID = uuid.New().String()
	}
	if r.Timestamp == 0 {
		r.Timestamp = time.Now().UnixMilli()
	}
	if r.MaxResults == 0 {
		r.MaxResults = DefaultMaxResults
	}
}

// DefaultMaxResults is the retrieval result cap applied when the caller
// does not specify one.
const DefaultMaxResults = 10

// =============================================================================
// Outbound Stream Chunk
// =============================================================================

// ChatStreamChunk is one unit of the outbound streaming protocol,
// serialized as a "data: <json>\n\n" frame.
//
// During generation each chunk carries one text delta with
// IsComplete=false. Exactly one chunk per stream has IsComplete=true:
// either the final chunk holding the full accumulated text with sources,
// citations and confidence, or a terminal error chunk with empty content
// and Error set.
type ChatStreamChunk struct {
	Content    string              `json:"content"`
	IsComplete bool                `json:"isComplete"`
	SessionID  string              `json:"sessionId,omitempty"`
	Sources    []DocumentReference `json:"sources,omitempty"`
	Citations  []Citation          `json:"citations,omitempty"`
	Confidence *float64            `json:"confidence,omitempty"`
	Error      string              `json:"error,omitempty"`
}
