// Copyright (C) 2026 LumenLearn AI (dev@lumenlearn.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// Weaviate class names for the tutor service.
const (
	ClassTutorSession = "TutorSession"
	ClassTutorMessage = "TutorMessage"
	ClassCourseChunk  = "CourseChunk"
)

// ChatSession groups messages and their retrieval scope. Created on the
// first message of a conversation, mutated on every turn, destroyed only
// by explicit delete.
type ChatSession struct {
	SessionID    string         `json:"session_id"`
	StudentID    string         `json:"student_id"`
	Title        string         `json:"title"`
	DocumentIDs  []string       `json:"document_ids"`
	MessageCount int            `json:"message_count"`
	LastActivity time.Time      `json:"last_activity"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// ChatMessage is one persisted message within a session. Immutable once
// saved.
type ChatMessage struct {
	MessageID        string              `json:"message_id"`
	SessionID        string              `json:"session_id"`
	Role             string              `json:"role"`
	Content          string              `json:"content"`
	References       []DocumentReference `json:"references,omitempty"`
	Confidence       *float64            `json:"confidence,omitempty"`
	ProcessingTimeMs *int64              `json:"processing_time_ms,omitempty"`
	Timestamp        int64               `json:"timestamp"`
}

// ConversationTurn pairs a student question with the assistant answer,
// in the shape prompt assembly consumes.
type ConversationTurn struct {
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Timestamp int64  `json:"timestamp"`
}
