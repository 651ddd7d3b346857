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
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/LumenLearnAI/LumenTutor/services/llm"
	"github.com/LumenLearnAI/LumenTutor/services/tutor/datatypes"
	"github.com/LumenLearnAI/LumenTutor/services/tutor/observability"
	"github.com/LumenLearnAI/LumenTutor/services/tutor/services"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024 * 1024,
	WriteBufferSize: 1024 * 1024,
}

// wsChatRequest is one inbound turn on the socket. The socket carries
// the session, so only the first turn may omit sessionId.
type wsChatRequest struct {
	Message       string   `json:"message"`
	StudentID     string   `json:"studentId"`
	DocumentIDs   []string `json:"documentIds,omitempty"`
	MaxResults    int      `json:"maxResults,omitempty"`
	MinSimilarity float64  `json:"minSimilarity,omitempty"`
	Persona       string   `json:"persona,omitempty"`
}

func sendChunk(ws *websocket.Conn, chunk datatypes.ChatStreamChunk) error {
	if err := ws.WriteJSON(chunk); err != nil {
		slog.Warn("Failed to write WebSocket chunk", "error", err)
		return err
	}
	return nil
}

// HandleChatWebSocket upgrades the connection and serves chat turns over
// it. Each turn follows the same pipeline as the SSE endpoint; deltas
// and the terminal chunk use the same JSON chunk schema, one chunk per
// WebSocket message.
func HandleChatWebSocket(
	retriever *services.Retriever,
	llmClient llm.LLMClient,
	store TutoringStore,
	personas *services.PersonaRegistry,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()
		slog.Info("Websocket client connected")

		endpoint := observability.EndpointChatWS
		if m := observability.DefaultMetrics; m != nil {
			m.StreamStarted(endpoint)
			defer m.StreamEnded(endpoint)
		}

		var session datatypes.ChatSession
		haveSession := false
		firstTurn := true

		for {
			var req wsChatRequest
			if err := ws.ReadJSON(&req); err != nil {
				slog.Info("Websocket client disconnected", "error", err.Error())
				if m := observability.DefaultMetrics; m != nil {
					m.RecordClientDisconnect(endpoint)
				}
				return
			}

			ctx := c.Request.Context()
			turnStart := time.Now()

			streamReq := datatypes.ChatStreamRequest{
				Message:       req.Message,
				StudentID:     req.StudentID,
				DocumentIDs:   req.DocumentIDs,
				MaxResults:    req.MaxResults,
				MinSimilarity: req.MinSimilarity,
				Persona:       req.Persona,
			}
			streamReq.EnsureDefaults()
			if err := streamReq.Validate(); err != nil {
				if m := observability.DefaultMetrics; m != nil {
					m.RecordError(endpoint, observability.ErrorCodeValidation)
				}
				if sendChunk(ws, errorChunk("invalid chat message")) != nil {
					return
				}
				continue
			}

			if !haveSession {
				session, err = store.CreateSession(ctx, req.StudentID, "", req.DocumentIDs)
				if err != nil {
					slog.Error("failed to create websocket session", "error", err)
					if sendChunk(ws, errorChunk("failed to start session")) != nil {
						return
					}
					continue
				}
				haveSession = true
				// Let the client learn its session before the first turn
				// streams back.
				if err := ws.WriteJSON(map[string]any{
					"action":    "session_created",
					"sessionId": session.SessionID,
				}); err != nil {
					return
				}
			} else if len(req.DocumentIDs) > 0 {
				if err := store.UpdateDocumentContext(ctx, session.SessionID, req.DocumentIDs); err != nil {
					slog.Warn("failed to update websocket session scope",
						"session_id", session.SessionID, "error", err)
				} else {
					session.DocumentIDs = req.DocumentIDs
				}
			}

			var history []datatypes.ConversationTurn
			if !firstTurn {
				history, err = store.History(ctx, session.SessionID)
				if err != nil {
					slog.Warn("failed to load websocket history, continuing without it",
						"session_id", session.SessionID, "error", err)
					history = nil
				}
			}

			contexts, retrievalErr := retriever.Retrieve(
				ctx, req.Message, session.DocumentIDs, streamReq.MaxResults, streamReq.MinSimilarity)
			if retrievalErr != nil {
				if m := observability.DefaultMetrics; m != nil {
					m.RecordRetrievalDegraded(endpoint)
				}
			}
			sources := services.References(contexts)

			messages := services.AssembleMessages(
				personas.SystemPrompt(req.Persona), req.Message, contexts, history)

			accumulator, accErr := NewTokenAccumulator()
			if accErr != nil {
				slog.Warn("failed to create websocket accumulator", "error", accErr)
			}

			var tokenCount int32
			writeFailed := false
			callback := func(event llm.StreamEvent) error {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
				switch event.Type {
				case llm.StreamEventToken:
					atomic.AddInt32(&tokenCount, 1)
					if accumulator != nil {
						if err := accumulator.Write(event.Content); err != nil {
							slog.Warn("failed to accumulate websocket token", "error", err)
						}
					}
					if err := sendChunk(ws, datatypes.ChatStreamChunk{
						Content:   event.Content,
						SessionID: session.SessionID,
					}); err != nil {
						writeFailed = true
						return err
					}
					return nil
				case llm.StreamEventError:
					return errors.New(event.Error)
				}
				return nil
			}

			streamErr := llmClient.ChatStream(ctx, messages, llm.GenerationParams{}, callback)

			if m := observability.DefaultMetrics; m != nil {
				m.RecordTokens(endpoint, int(atomic.LoadInt32(&tokenCount)))
			}

			if streamErr != nil {
				if accumulator != nil {
					accumulator.Destroy()
				}
				if writeFailed || errors.Is(streamErr, context.Canceled) {
					return
				}
				slog.Error("websocket streaming failed",
					"error", streamErr, "session_id", session.SessionID)
				if m := observability.DefaultMetrics; m != nil {
					m.RecordError(endpoint, observability.ErrorCodeStreamFailed)
				}
				if sendChunk(ws, errorChunk(sanitizeErrorForClient(streamErr.Error()))) != nil {
					return
				}
				continue
			}

			answer := ""
			if accumulator != nil {
				if text, _, err := accumulator.Finalize(); err == nil {
					answer = text
				} else {
					slog.Warn("failed to finalize websocket accumulator", "error", err)
				}
				accumulator.Destroy()
			}

			citations := services.ExtractCitations(answer, sources)
			quality := services.ScoreResponse(answer, sources)
			confidence := quality.Confidence

			if sendChunk(ws, datatypes.ChatStreamChunk{
				Content:    answer,
				IsComplete: true,
				SessionID:  session.SessionID,
				Sources:    sources,
				Citations:  citations,
				Confidence: &confidence,
			}) != nil {
				return
			}

			if answer != "" {
				processingMs := time.Since(turnStart).Milliseconds()
				go persistWebSocketTurn(store, session, req.Message, answer, sources, quality, processingMs)
			}

			if m := observability.DefaultMetrics; m != nil {
				m.RecordRequest(endpoint, true)
				m.RecordStreamDuration(endpoint, time.Since(turnStart).Seconds(), true)
			}
			firstTurn = false
		}
	}
}

func errorChunk(message string) datatypes.ChatStreamChunk {
	return datatypes.ChatStreamChunk{
		Content:    "",
		IsComplete: true,
		Error:      message,
	}
}

func persistWebSocketTurn(
	store TutoringStore,
	session datatypes.ChatSession,
	question string,
	answer string,
	sources []datatypes.DocumentReference,
	quality datatypes.ResponseQuality,
	processingMs int64,
) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	now := time.Now().UnixMilli()
	confidence := quality.Confidence

	err := store.SaveTurn(ctx,
		datatypes.ChatMessage{
			SessionID: session.SessionID,
			Role:      "user",
			Content:   question,
			Timestamp: now,
		},
		datatypes.ChatMessage{
			SessionID:        session.SessionID,
			Role:             "assistant",
			Content:          answer,
			References:       sources,
			Confidence:       &confidence,
			ProcessingTimeMs: &processingMs,
			Timestamp:        now + 1,
		},
	)
	if err != nil {
		slog.Warn("failed to persist websocket turn",
			"session_id", session.SessionID, "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(observability.EndpointChatWS, observability.ErrorCodePersistence)
		}
	}
}
