// Copyright (C) 2026 LumenLearn AI (dev@lumenlearn.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LumenLearnAI/LumenTutor/services/tutor/conversation"
)

// ListSessions handles GET /v1/sessions. An optional student_id query
// parameter narrows the listing to one student's sessions.
func ListSessions(store *conversation.SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		studentID := c.Query("student_id")
		slog.Info("Received request to list sessions", "student_id", studentID)

		sessions, err := store.ListSessions(c.Request.Context(), studentID)
		if err != nil {
			slog.Error("failed to list sessions", "error", err)
			c.JSON(http.StatusInternalServerError,
				gin.H{"error": "failed to list sessions"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": sessions})
	}
}

// GetSessionMessages handles GET /v1/sessions/:sessionId/messages,
// returning the session's messages in ascending timestamp order.
func GetSessionMessages(store *conversation.SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")

		if _, err := store.GetSession(c.Request.Context(), sessionID); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}

		messages, err := store.GetMessages(c.Request.Context(), sessionID)
		if err != nil {
			slog.Error("failed to load session messages",
				"session_id", sessionID, "error", err)
			c.JSON(http.StatusInternalServerError,
				gin.H{"error": "failed to load session messages"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"session_id": sessionID,
			"messages":   messages,
		})
	}
}

// GetSessionMessage handles GET /v1/sessions/:sessionId/messages/:messageId.
// Single-message reads are the hot path for clients re-rendering one
// answer, so they are served from the message cache when possible.
func GetSessionMessage(store *conversation.SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")
		messageID := c.Param("messageId")

		message, err := store.GetMessage(c.Request.Context(), messageID)
		if err != nil || message.SessionID != sessionID {
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
			return
		}
		c.JSON(http.StatusOK, message)
	}
}

// DeleteSession handles DELETE /v1/sessions/:sessionId, removing the
// session and every message under it.
func DeleteSession(store *conversation.SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")
		slog.Info("Received a request to delete a session", "session_id", sessionID)

		if err := store.DeleteSession(c.Request.Context(), sessionID); err != nil {
			slog.Error("failed to delete session", "session_id", sessionID, "error", err)
			c.JSON(http.StatusInternalServerError,
				gin.H{"error": "failed to fully delete session"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":             "success",
			"deleted_session_id": sessionID,
		})
	}
}
