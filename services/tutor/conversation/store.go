// Copyright (C) 2026 LumenLearn AI (dev@lumenlearn.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package conversation owns chat session and message persistence for the
// tutor service, backed by Weaviate with a bounded in-memory message
// cache in front.
package conversation

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/LumenLearnAI/LumenTutor/services/tutor/datatypes"
)

var tracer = otel.Tracer("lumentutor/conversation")

// defaultTitleLayout formats the date-stamped placeholder title assigned
// when a session is created without one.
const defaultTitleLayout = "Jan 2, 2006"

// SessionStore persists chat sessions and messages.
//
// # Description
//
// Sessions live in the TutorSession class, messages in TutorMessage.
// Message UUIDs are derived from content hashes, so retrying a failed
// save cannot create duplicates. Reads go through a bounded LRU cache;
// the cache is never authoritative and a miss always falls through to
// Weaviate.
//
// # Assumptions
//
//   - The TutorSession and TutorMessage classes exist in the schema.
//   - Ownership checks happen upstream; the store trusts its callers.
type SessionStore struct {
	client *weaviate.Client
	cache  *MessageCache
}

// NewSessionStore constructs a SessionStore. Panics if client is nil.
// A nil cache gets the default capacity.
func NewSessionStore(client *weaviate.Client, cache *MessageCache) *SessionStore {
	if client == nil {
		panic("NewSessionStore: weaviate client is required")
	}
	if cache == nil {
		cache = NewMessageCache(DefaultMessageCacheCapacity)
	}
	return &SessionStore{client: client, cache: cache}
}

// Cache exposes the message cache for observability wiring.
func (s *SessionStore) Cache() *MessageCache {
	return s.cache
}

// =============================================================================
// Sessions
// =============================================================================

// CreateSession creates a new session for a student.
//
// # Description
//
// When title is empty a date-stamped placeholder is used
// ("Tutoring Session - Jan 2, 2006"); a later summarization pass may
// replace it with a topic title. documentIDs becomes the session's
// retrieval scope for subsequent turns.
func (s *SessionStore) CreateSession(
	ctx context.Context,
	studentID string,
	title string,
	documentIDs []string,
) (datatypes.ChatSession, error) {
	ctx, span := tracer.Start(ctx, "SessionStore.CreateSession")
	defer span.End()

	if title == "" {
		title = "Tutoring Session - " + time.Now().Format(defaultTitleLayout)
	}
	if documentIDs == nil {
		documentIDs = []string{}
	}

	session := datatypes.ChatSession{
		SessionID:    uuid.New().String(),
		StudentID:    studentID,
		Title:        title,
		DocumentIDs:  documentIDs,
		MessageCount: 0,
		LastActivity: time.Now().UTC(),
	}
	span.SetAttributes(attribute.String("session_id", session.SessionID))

	_, err := s.client.Data().Creator().
		WithClassName(datatypes.ClassTutorSession).
		WithID(session.SessionID).
		WithProperties(map[string]interface{}{
			"session_id":    session.SessionID,
			"student_id":    session.StudentID,
			"title":         session.Title,
			"document_ids":  session.DocumentIDs,
			"message_count": 0,
			"last_activity": strfmt.DateTime(session.LastActivity).String(),
		}).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		return datatypes.ChatSession{}, fmt.Errorf("create session: %w", err)
	}

	slog.Info("session created",
		"session_id", session.SessionID,
		"student_id", studentID,
		"scope_size", len(documentIDs),
	)
	return session, nil
}

// weaviateSessionResponse mirrors the GraphQL Get shape for TutorSession.
type weaviateSessionResponse struct {
	Get struct {
		TutorSession []struct {
			SessionID    string   `json:"session_id"`
			StudentID    string   `json:"student_id"`
			Title        string   `json:"title"`
			DocumentIDs  []string `json:"document_ids"`
			MessageCount float64  `json:"message_count"`
			LastActivity string   `json:"last_activity"`
		} `json:"TutorSession"`
	} `json:"Get"`
}

// GetSession fetches one session by ID. Returns a nil error with
// found=false semantics folded into the error: a missing session is an
// error here because callers always hold an ID they were handed.
func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (datatypes.ChatSession, error) {
	sessions, err := s.querySessions(ctx, filters.Where().
		WithPath([]string{"session_id"}).
		WithOperator(filters.Equal).
		WithValueString(sessionID), 1)
	if err != nil {
		return datatypes.ChatSession{}, err
	}
	if len(sessions) == 0 {
		return datatypes.ChatSession{}, fmt.Errorf("session %s not found", sessionID)
	}
	return sessions[0], nil
}

// ListSessions returns a student's sessions, most recently active first.
func (s *SessionStore) ListSessions(ctx context.Context, studentID string) ([]datatypes.ChatSession, error) {
	return s.querySessionsSorted(ctx, filters.Where().
		WithPath([]string{"student_id"}).
		WithOperator(filters.Equal).
		WithValueString(studentID), 100)
}

func (s *SessionStore) querySessionsSorted(ctx context.Context, where *filters.WhereBuilder, limit int) ([]datatypes.ChatSession, error) {
	return s.doSessionQuery(ctx, where, limit, &graphql.Sort{
		Path:  []string{"last_activity"},
		Order: graphql.Desc,
	})
}

func (s *SessionStore) querySessions(ctx context.Context, where *filters.WhereBuilder, limit int) ([]datatypes.ChatSession, error) {
	return s.doSessionQuery(ctx, where, limit, nil)
}

func (s *SessionStore) doSessionQuery(ctx context.Context, where *filters.WhereBuilder, limit int, sortBy *graphql.Sort) ([]datatypes.ChatSession, error) {
	fields := []graphql.Field{
		{Name: "session_id"},
		{Name: "student_id"},
		{Name: "title"},
		{Name: "document_ids"},
		{Name: "message_count"},
		{Name: "last_activity"},
	}

	builder := s.client.GraphQL().Get().
		WithClassName(datatypes.ClassTutorSession).
		WithWhere(where).
		WithLimit(limit).
		WithFields(fields...)
	if sortBy != nil {
		builder = builder.WithSort(*sortBy)
	}

	result, err := builder.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}

	jsonBytes, err := json.Marshal(result.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal session response: %w", err)
	}
	var typed weaviateSessionResponse
	if err := json.Unmarshal(jsonBytes, &typed); err != nil {
		return nil, fmt.Errorf("unmarshal session response: %w", err)
	}

	sessions := make([]datatypes.ChatSession, 0, len(typed.Get.TutorSession))
	for _, obj := range typed.Get.TutorSession {
		lastActivity, _ := time.Parse(time.RFC3339, obj.LastActivity)
		sessions = append(sessions, datatypes.ChatSession{
			SessionID:    obj.SessionID,
			StudentID:    obj.StudentID,
			Title:        obj.Title,
			DocumentIDs:  obj.DocumentIDs,
			MessageCount: int(obj.MessageCount),
			LastActivity: lastActivity,
		})
	}
	return sessions, nil
}

// UpdateDocumentContext replaces the session's retrieval scope for
// subsequent turns. Past messages keep their original references.
func (s *SessionStore) UpdateDocumentContext(ctx context.Context, sessionID string, documentIDs []string) error {
	ctx, span := tracer.Start(ctx, "SessionStore.UpdateDocumentContext")
	defer span.End()
	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.Int("scope_size", len(documentIDs)),
	)

	if documentIDs == nil {
		documentIDs = []string{}
	}

	err := s.client.Data().Updater().
		WithClassName(datatypes.ClassTutorSession).
		WithID(sessionID).
		WithProperties(map[string]interface{}{
			"document_ids":  documentIDs,
			"last_activity": strfmt.DateTime(time.Now().UTC()).String(),
		}).
		WithMerge().
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("update document context: %w", err)
	}
	return nil
}

// UpdateTitle replaces the session title, used by async summarization
// after the first turn.
func (s *SessionStore) UpdateTitle(ctx context.Context, sessionID string, title string) error {
	if title == "" {
		return nil
	}
	err := s.client.Data().Updater().
		WithClassName(datatypes.ClassTutorSession).
		WithID(sessionID).
		WithProperties(map[string]interface{}{"title": title}).
		WithMerge().
		Do(ctx)
	if err != nil {
		return fmt.Errorf("update session title: %w", err)
	}
	return nil
}

// DeleteSession removes a session and all of its messages.
func (s *SessionStore) DeleteSession(ctx context.Context, sessionID string) error {
	ctx, span := tracer.Start(ctx, "SessionStore.DeleteSession")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(datatypes.ClassTutorMessage).
		WithWhere(filters.Where().
			WithPath([]string{"session_id"}).
			WithOperator(filters.Equal).
			WithValueString(sessionID)).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("delete session messages: %w", err)
	}

	if err := s.client.Data().Deleter().
		WithClassName(datatypes.ClassTutorSession).
		WithID(sessionID).
		Do(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("delete session: %w", err)
	}

	slog.Info("session deleted", "session_id", sessionID)
	return nil
}

// =============================================================================
// Messages
// =============================================================================

// weaviateMessageResponse mirrors the GraphQL Get shape for TutorMessage.
type weaviateMessageResponse struct {
	Get struct {
		TutorMessage []struct {
			MessageID        string   `json:"message_id"`
			SessionID        string   `json:"session_id"`
			Role             string   `json:"role"`
			Content          string   `json:"content"`
			References       string   `json:"references"`
			Confidence       *float64 `json:"confidence"`
			ProcessingTimeMs *float64 `json:"processing_time_ms"`
			Timestamp        float64  `json:"timestamp"`
		} `json:"TutorMessage"`
	} `json:"Get"`
}

// GetMessages returns a session's messages ordered by creation time
// ascending. Fetched messages are written through to the cache.
func (s *SessionStore) GetMessages(ctx context.Context, sessionID string) ([]datatypes.ChatMessage, error) {
	ctx, span := tracer.Start(ctx, "SessionStore.GetMessages")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	messages, err := s.queryMessages(ctx, filters.Where().
		WithPath([]string{"session_id"}).
		WithOperator(filters.Equal).
		WithValueString(sessionID), 0)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("messages", len(messages)))
	return messages, nil
}

// GetMessage fetches one message by ID, preferring the cache. A miss
// falls through to Weaviate and repopulates the cache on the way out.
func (s *SessionStore) GetMessage(ctx context.Context, messageID string) (datatypes.ChatMessage, error) {
	if msg, ok := s.cache.Get(messageID); ok {
		return msg, nil
	}

	ctx, span := tracer.Start(ctx, "SessionStore.GetMessage")
	defer span.End()
	span.SetAttributes(attribute.String("message_id", messageID))

	messages, err := s.queryMessages(ctx, filters.Where().
		WithPath([]string{"message_id"}).
		WithOperator(filters.Equal).
		WithValueString(messageID), 1)
	if err != nil {
		span.RecordError(err)
		return datatypes.ChatMessage{}, err
	}
	if len(messages) == 0 {
		return datatypes.ChatMessage{}, fmt.Errorf("message %s not found", messageID)
	}
	return messages[0], nil
}

// queryMessages runs one TutorMessage query ordered by timestamp
// ascending and writes every fetched message through to the cache. A
// limit of 0 means no limit.
func (s *SessionStore) queryMessages(ctx context.Context, where *filters.WhereBuilder, limit int) ([]datatypes.ChatMessage, error) {
	fields := []graphql.Field{
		{Name: "message_id"},
		{Name: "session_id"},
		{Name: "role"},
		{Name: "content"},
		{Name: "references"},
		{Name: "confidence"},
		{Name: "processing_time_ms"},
		{Name: "timestamp"},
	}

	builder := s.client.GraphQL().Get().
		WithClassName(datatypes.ClassTutorMessage).
		WithWhere(where).
		WithSort(graphql.Sort{Path: []string{"timestamp"}, Order: graphql.Asc}).
		WithFields(fields...)
	if limit > 0 {
		builder = builder.WithLimit(limit)
	}

	result, err := builder.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}

	jsonBytes, err := json.Marshal(result.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal message response: %w", err)
	}
	var typed weaviateMessageResponse
	if err := json.Unmarshal(jsonBytes, &typed); err != nil {
		return nil, fmt.Errorf("unmarshal message response: %w", err)
	}

	messages := make([]datatypes.ChatMessage, 0, len(typed.Get.TutorMessage))
	for _, obj := range typed.Get.TutorMessage {
		msg := datatypes.ChatMessage{
			MessageID:  obj.MessageID,
			SessionID:  obj.SessionID,
			Role:       obj.Role,
			Content:    obj.Content,
			Confidence: obj.Confidence,
			Timestamp:  int64(obj.Timestamp),
		}
		if obj.ProcessingTimeMs != nil {
			ms := int64(*obj.ProcessingTimeMs)
			msg.ProcessingTimeMs = &ms
		}
		if obj.References != "" {
			if err := json.Unmarshal([]byte(obj.References), &msg.References); err != nil {
				slog.Warn("skipping malformed references on message",
					"message_id", obj.MessageID,
					"error", err,
				)
			}
		}
		messages = append(messages, msg)
		s.cache.Put(msg)
	}
	return messages, nil
}

// History converts a session's messages into question/answer turns for
// prompt assembly. Incomplete pairs are dropped.
func (s *SessionStore) History(ctx context.Context, sessionID string) ([]datatypes.ConversationTurn, error) {
	messages, err := s.GetMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	turns := make([]datatypes.ConversationTurn, 0, len(messages)/2)
	var pending *datatypes.ChatMessage
	for i := range messages {
		msg := messages[i]
		switch msg.Role {
		case "user":
			pending = &messages[i]
		case "assistant":
			if pending != nil && pending.Content != "" && msg.Content != "" {
				turns = append(turns, datatypes.ConversationTurn{
					Question:  pending.Content,
					Answer:    msg.Content,
					Timestamp: msg.Timestamp,
				})
			}
			pending = nil
		}
	}
	return turns, nil
}

// SaveTurn persists a user/assistant message pair and bumps the
// session's message count and last-activity timestamp.
//
// # Description
//
// Message UUIDs are derived from a content hash so a retried save is
// idempotent. The caller treats failures as best-effort: the student has
// already received the streamed answer, so errors are logged and
// surfaced to metrics, never to the response path.
func (s *SessionStore) SaveTurn(ctx context.Context, userMsg, assistantMsg datatypes.ChatMessage) error {
	ctx, span := tracer.Start(ctx, "SessionStore.SaveTurn")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", userMsg.SessionID))

	if err := s.saveMessage(ctx, &userMsg); err != nil {
		span.RecordError(err)
		return fmt.Errorf("save user message: %w", err)
	}
	if err := s.saveMessage(ctx, &assistantMsg); err != nil {
		span.RecordError(err)
		return fmt.Errorf("save assistant message: %w", err)
	}

	if err := s.bumpSession(ctx, userMsg.SessionID, 2); err != nil {
		// Count drift is tolerable; the messages themselves are saved.
		slog.Warn("failed to bump session activity",
			"session_id", userMsg.SessionID,
			"error", err,
		)
	}

	s.cache.Put(userMsg)
	s.cache.Put(assistantMsg)
	return nil
}

func (s *SessionStore) saveMessage(ctx context.Context, msg *datatypes.ChatMessage) error {
	if msg.MessageID == "" {
		msg.MessageID = messageUUID(msg.SessionID, msg.Role, msg.Content, msg.Timestamp)
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}

	references := ""
	if len(msg.References) > 0 {
		data, err := json.Marshal(msg.References)
		if err != nil {
			return fmt.Errorf("marshal references: %w", err)
		}
		references = string(data)
	}

	properties := map[string]interface{}{
		"message_id": msg.MessageID,
		"session_id": msg.SessionID,
		"role":       msg.Role,
		"content":    msg.Content,
		"references": references,
		"timestamp":  msg.Timestamp,
	}
	if msg.Confidence != nil {
		properties["confidence"] = *msg.Confidence
	}
	if msg.ProcessingTimeMs != nil {
		properties["processing_time_ms"] = *msg.ProcessingTimeMs
	}

	_, err := s.client.Data().Creator().
		WithClassName(datatypes.ClassTutorMessage).
		WithID(msg.MessageID).
		WithProperties(properties).
		Do(ctx)
	return err
}

func (s *SessionStore) bumpSession(ctx context.Context, sessionID string, added int) error {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	return s.client.Data().Updater().
		WithClassName(datatypes.ClassTutorSession).
		WithID(sessionID).
		WithProperties(map[string]interface{}{
			"message_count": session.MessageCount + added,
			"last_activity": strfmt.DateTime(time.Now().UTC()).String(),
		}).
		WithMerge().
		Do(ctx)
}

// messageUUID derives a deterministic message ID from turn content, so
// retrying the same save cannot create duplicate objects.
func messageUUID(sessionID, role, content string, timestamp int64) string {
	payload := fmt.Sprintf("%s|%s|%d|%s", sessionID, role, timestamp, content)
	hash := sha256.Sum256([]byte(payload))
	id, _ := uuid.FromBytes(hash[:16])
	return id.String()
}
