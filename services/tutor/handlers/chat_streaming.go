// Copyright (C) 2026 LumenLearn AI (dev@lumenlearn.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/LumenLearnAI/LumenTutor/services/llm"
	"github.com/LumenLearnAI/LumenTutor/services/tutor/conversation"
	"github.com/LumenLearnAI/LumenTutor/services/tutor/datatypes"
	"github.com/LumenLearnAI/LumenTutor/services/tutor/observability"
	"github.com/LumenLearnAI/LumenTutor/services/tutor/services"
)

var tracer = otel.Tracer("lumentutor/handlers")

const (
	// heartbeatInterval paces keepalive comments while retrieval runs.
	heartbeatInterval = 15 * time.Second

	// persistTimeout bounds the async turn persistence that runs after
	// the stream has completed.
	persistTimeout = 30 * time.Second
)

// StreamingChatHandler serves the streaming chat surface.
type StreamingChatHandler interface {
	HandleChatStream(c *gin.Context)
}

// TutoringStore is the persistence surface the chat handlers depend on.
// Satisfied by conversation.SessionStore; tests supply fakes.
type TutoringStore interface {
	CreateSession(ctx context.Context, studentID, title string, documentIDs []string) (datatypes.ChatSession, error)
	GetSession(ctx context.Context, sessionID string) (datatypes.ChatSession, error)
	History(ctx context.Context, sessionID string) ([]datatypes.ConversationTurn, error)
	SaveTurn(ctx context.Context, userMsg, assistantMsg datatypes.ChatMessage) error
	UpdateDocumentContext(ctx context.Context, sessionID string, documentIDs []string) error
	UpdateTitle(ctx context.Context, sessionID string, title string) error
}

var _ TutoringStore = (*conversation.SessionStore)(nil)

// streamingChatHandler wires the full pipeline: retrieval, prompt
// assembly, provider streaming, citation extraction, quality scoring,
// and best-effort persistence.
//
// All collaborators are constructor-injected so tests can supply fakes;
// there is deliberately no package-level service state.
type streamingChatHandler struct {
	retriever *services.Retriever
	llmClient llm.LLMClient
	store     TutoringStore
	personas  *services.PersonaRegistry

	// summarizer generates session titles after the first turn. May be
	// nil, in which case the date-stamped default title stays.
	summarizer llm.LLMClient
}

// NewStreamingChatHandler constructs the handler. Panics when a required
// dependency is nil: a half-wired handler must fail at startup, not on
// the first student request.
func NewStreamingChatHandler(
	retriever *services.Retriever,
	llmClient llm.LLMClient,
	store TutoringStore,
	personas *services.PersonaRegistry,
	summarizer llm.LLMClient,
) StreamingChatHandler {
	if retriever == nil {
		panic("NewStreamingChatHandler: retriever is required")
	}
	if llmClient == nil {
		panic("NewStreamingChatHandler: llm client is required")
	}
	if store == nil {
		panic("NewStreamingChatHandler: session store is required")
	}
	if personas == nil {
		panic("NewStreamingChatHandler: persona registry is required")
	}
	return &streamingChatHandler{
		retriever:  retriever,
		llmClient:  llmClient,
		store:      store,
		personas:   personas,
		summarizer: summarizer,
	}
}

// HandleChatStream processes POST /v1/chat/stream.
//
// # Description
//
// One request is one chat turn:
//  1. Validate the request and resolve (or create) the session.
//  2. Load conversation history.
//  3. Retrieve document context, degrading to none on failure.
//  4. Assemble the prompt and stream the model's answer, one outbound
//     chunk per provider delta.
//  5. On completion, extract citations and score quality, then emit the
//     single final chunk with the full answer, sources, citations, and
//     confidence.
//  6. Persist the turn asynchronously, best-effort.
//
// The caller always receives either a complete streamed answer or one
// terminal error chunk. A client disconnect stops provider consumption
// immediately and discards the partial answer.
func (h *streamingChatHandler) HandleChatStream(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointChatStream

	ctx, span := tracer.Start(c.Request.Context(), "HandleChatStream")
	defer span.End()

	if m := observability.DefaultMetrics; m != nil {
		m.StreamStarted(endpoint)
		defer m.StreamEnded(endpoint)
	}

	success := false
	defer func() {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, success)
			m.RecordStreamDuration(endpoint, time.Since(startTime).Seconds(), success)
		}
	}()

	// Step 1: Parse and validate the request.
	var req datatypes.ChatStreamRequest
	if err := c.BindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		slog.Error("Failed to parse chat stream request", "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.EnsureDefaults()
	if err := req.Validate(); err != nil {
		span.SetStatus(codes.Error, "validation failed")
		slog.Warn("Rejected invalid chat stream request",
			"requestId", req.RequestID,
			"error", err,
		)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed"})
		return
	}

	span.SetAttributes(
		attribute.String("request.id", req.RequestID),
		attribute.String("request.session_id", req.SessionID),
		attribute.Int("request.scope_size", len(req.DocumentIDs)),
	)

	// Step 2: Resolve the session. A missing session ID means the first
	// message of a new conversation.
	session, created, err := h.resolveSession(ctx, &req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session resolution failed")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeInternal)
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	span.SetAttributes(attribute.String("session.id", session.SessionID))

	// Step 3: Load history. Failure degrades to a history-free turn.
	var history []datatypes.ConversationTurn
	if !created {
		history, err = h.store.History(ctx, session.SessionID)
		if err != nil {
			slog.Warn("failed to load session history, continuing without it",
				"session_id", session.SessionID,
				"error", err,
			)
			history = nil
		}
	}
	span.SetAttributes(attribute.Int("session.history_turns", len(history)))

	// Step 4: Switch to SSE delivery.
	SetStreamHeaders(c.Writer)
	writer, err := NewStreamWriter(c.Writer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "SSE setup failed")
		slog.Error("Failed to create stream writer",
			"error", err,
			"requestId", req.RequestID,
		)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeInternal)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	// Step 5: Retrieve context under a heartbeat. Retrieval can be slow
	// and the client needs proof of life.
	heartbeatDone := make(chan struct{})
	go h.runHeartbeat(ctx, writer, endpoint, heartbeatDone)

	contexts, retrievalErr := h.retriever.Retrieve(
		ctx, req.Message, session.DocumentIDs, req.MaxResults, req.MinSimilarity)
	close(heartbeatDone)

	if retrievalErr != nil {
		// Degraded, not fatal: the turn proceeds context-free.
		span.SetAttributes(attribute.Bool("retrieval.degraded", true))
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeRetrieval)
			m.RecordRetrievalDegraded(endpoint)
		}
	}
	sources := services.References(contexts)
	span.SetAttributes(attribute.Int("retrieval.sources", len(sources)))

	// Step 6: Assemble the prompt and stream the answer.
	messages := services.AssembleMessages(
		h.personas.SystemPrompt(req.Persona),
		req.Message,
		contexts,
		history,
	)

	accumulator, accErr := NewTokenAccumulator()
	if accErr != nil {
		slog.Warn("failed to create token accumulator, turn will not be persisted",
			"requestId", req.RequestID,
			"error", accErr,
		)
	}
	defer func() {
		if accumulator != nil {
			accumulator.Destroy()
		}
	}()

	var tokenCount int32
	firstTokenTime := time.Time{}
	streamErr := h.streamToClient(ctx, req.RequestID, messages, writer, &tokenCount, &firstTokenTime, accumulator)

	if m := observability.DefaultMetrics; m != nil {
		m.RecordTokens(endpoint, int(atomic.LoadInt32(&tokenCount)))
	}
	span.SetAttributes(attribute.Int("stream.token_count", int(atomic.LoadInt32(&tokenCount))))

	if streamErr != nil {
		span.RecordError(streamErr)
		span.SetStatus(codes.Error, "streaming failed")
		slog.Error("chat streaming failed",
			"error", streamErr,
			"requestId", req.RequestID,
			"sessionId", session.SessionID,
			"tokenCount", atomic.LoadInt32(&tokenCount),
		)

		if errors.Is(streamErr, context.Canceled) {
			// Client walked away: release and discard, emit nothing.
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, observability.ErrorCodeClientDisconnect)
				m.RecordClientDisconnect(endpoint)
			}
			return
		}

		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeStreamFailed)
		}
		if err := writer.WriteErrorChunk(sanitizeErrorForClient(streamErr.Error())); err != nil {
			slog.Debug("failed to write terminal error chunk", "error", err)
		}
		return
	}

	if !firstTokenTime.IsZero() {
		ttft := firstTokenTime.Sub(startTime).Seconds()
		span.SetAttributes(attribute.Float64("stream.time_to_first_token_seconds", ttft))
		if m := observability.DefaultMetrics; m != nil {
			m.RecordTimeToFirstToken(endpoint, ttft)
		}
	}

	// Step 7: Finalize the answer, derive citations and quality, and
	// emit the single terminal chunk.
	answer := ""
	if accumulator != nil {
		var finalizeErr error
		answer, _, finalizeErr = accumulator.Finalize()
		if finalizeErr != nil {
			slog.Warn("failed to finalize answer accumulator",
				"requestId", req.RequestID,
				"error", finalizeErr,
			)
		}
	}

	citations := services.ExtractCitations(answer, sources)
	quality := services.ScoreResponse(answer, sources)
	confidence := quality.Confidence

	finalChunk := datatypes.ChatStreamChunk{
		Content:    answer,
		SessionID:  session.SessionID,
		Sources:    sources,
		Citations:  citations,
		Confidence: &confidence,
	}
	if err := writer.WriteFinal(finalChunk); err != nil {
		span.RecordError(err)
		slog.Error("Failed to write final chunk",
			"error", err,
			"requestId", req.RequestID,
		)
		return
	}

	// Step 8: Persist the turn off the response path. The student has
	// their answer; a persistence failure is an observability event.
	if answer != "" {
		processingMs := time.Since(startTime).Milliseconds()
		go h.persistTurn(session, created, req.Message, answer, sources, quality, processingMs, endpoint)
	}

	success = true
	span.SetStatus(codes.Ok, "stream completed")
}

// resolveSession loads the session for a request, creating one when no
// session ID was supplied. An explicit document scope on the request
// replaces the session's scope for this and later turns.
func (h *streamingChatHandler) resolveSession(
	ctx context.Context,
	req *datatypes.ChatStreamRequest,
) (datatypes.ChatSession, bool, error) {
	if req.SessionID == "" {
		session, err := h.store.CreateSession(ctx, req.StudentID, "", req.DocumentIDs)
		if err != nil {
			return datatypes.ChatSession{}, false, fmt.Errorf("create session: %w", err)
		}
		return session, true, nil
	}

	session, err := h.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return datatypes.ChatSession{}, false, err
	}

	if len(req.DocumentIDs) > 0 {
		if err := h.store.UpdateDocumentContext(ctx, session.SessionID, req.DocumentIDs); err != nil {
			slog.Warn("failed to update session document scope",
				"session_id", session.SessionID,
				"error", err,
			)
		} else {
			session.DocumentIDs = req.DocumentIDs
		}
	}
	return session, false, nil
}

// runHeartbeat writes keepalive comments until done closes or the
// request context ends.
func (h *streamingChatHandler) runHeartbeat(
	ctx context.Context,
	writer StreamWriter,
	endpoint observability.Endpoint,
	done <-chan struct{},
) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				slog.Debug("Failed to write keepalive", "error", err)
				return
			}
			if m := observability.DefaultMetrics; m != nil {
				m.RecordKeepAlive(endpoint)
			}
		}
	}
}

// streamToClient forwards provider deltas to the client as they arrive.
//
// Each delta becomes exactly one outbound chunk, written before the next
// provider frame is read. The explicit context check stops token burn
// the moment the client disconnects.
func (h *streamingChatHandler) streamToClient(
	ctx context.Context,
	requestID string,
	messages []datatypes.Message,
	writer StreamWriter,
	tokenCount *int32,
	firstTokenTime *time.Time,
	accumulator TokenAccumulator,
) error {
	callback := func(event llm.StreamEvent) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		switch event.Type {
		case llm.StreamEventToken:
			if firstTokenTime.IsZero() {
				*firstTokenTime = time.Now()
			}
			atomic.AddInt32(tokenCount, 1)

			if accumulator != nil {
				if err := accumulator.Write(event.Content); err != nil {
					// A lost token here means the terminal chunk would no
					// longer carry the text already streamed. Abort and
					// let the client see a terminal error instead.
					slog.Error("failed to accumulate token, aborting stream",
						"requestId", requestID,
						"error", err,
						"accumulatorId", accumulator.ID(),
					)
					return fmt.Errorf("accumulate answer: %w", err)
				}
			}
			return writer.WriteDelta(event.Content)

		case llm.StreamEventError:
			return fmt.Errorf("provider stream error: %s", event.Error)
		}
		return nil
	}

	if err := h.llmClient.ChatStream(ctx, messages, llm.GenerationParams{}, callback); err != nil {
		return err
	}
	return nil
}

// persistTurn saves both turn messages and, on a session's first turn,
// kicks off title summarization. Runs detached from the request context.
func (h *streamingChatHandler) persistTurn(
	session datatypes.ChatSession,
	firstTurn bool,
	question string,
	answer string,
	sources []datatypes.DocumentReference,
	quality datatypes.ResponseQuality,
	processingMs int64,
	endpoint observability.Endpoint,
) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	now := time.Now().UnixMilli()
	confidence := quality.Confidence

	userMsg := datatypes.ChatMessage{
		SessionID: session.SessionID,
		Role:      "user",
		Content:   question,
		Timestamp: now,
	}
	assistantMsg := datatypes.ChatMessage{
		SessionID:        session.SessionID,
		Role:             "assistant",
		Content:          answer,
		References:       sources,
		Confidence:       &confidence,
		ProcessingTimeMs: &processingMs,
		Timestamp:        now + 1,
	}

	if err := h.store.SaveTurn(ctx, userMsg, assistantMsg); err != nil {
		slog.Error("failed to persist conversation turn",
			"session_id", session.SessionID,
			"error", err,
		)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodePersistence)
		}
		return
	}

	slog.Info("conversation turn persisted",
		"session_id", session.SessionID,
		"answer_bytes", len(answer),
		"overall_quality", quality.Overall,
	)

	if firstTurn && h.summarizer != nil {
		h.summarizeTitle(ctx, session.SessionID, question, answer)
	}
}

// summarizeTitle asks the LLM for a short topic title and applies it to
// the session. Best-effort.
func (h *streamingChatHandler) summarizeTitle(ctx context.Context, sessionID, question, answer string) {
	prompt := fmt.Sprintf(
		"Summarize this tutoring exchange as a session title of at most six words. "+
			"Reply with the title only.\n\nStudent: %s\n\nTutor: %s",
		question, answer,
	)
	title, err := h.summarizer.Generate(ctx, prompt, llm.GenerationParams{})
	if err != nil {
		slog.Warn("session title summarization failed",
			"session_id", sessionID,
			"error", err,
		)
		return
	}
	if err := h.store.UpdateTitle(ctx, sessionID, title); err != nil {
		slog.Warn("failed to apply summarized title",
			"session_id", sessionID,
			"error", err,
		)
	}
}

// sanitizeErrorForClient strips backend detail from errors before they
// reach the outbound stream. Full errors stay in the logs.
func sanitizeErrorForClient(msg string) string {
	// Internal addresses, model names, and provider payloads never leave
	// the service, regardless of what the backend said.
	return "response generation failed"
}

var _ StreamingChatHandler = (*streamingChatHandler)(nil)
