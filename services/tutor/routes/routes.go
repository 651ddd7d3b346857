// Copyright (C) 2026 LumenLearn AI (dev@lumenlearn.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/LumenLearnAI/LumenTutor/services/llm"
	"github.com/LumenLearnAI/LumenTutor/services/tutor/conversation"
	"github.com/LumenLearnAI/LumenTutor/services/tutor/handlers"
	"github.com/LumenLearnAI/LumenTutor/services/tutor/middleware"
	"github.com/LumenLearnAI/LumenTutor/services/tutor/services"
)

// SetupRoutes mounts the tutor API surface on the router.
func SetupRoutes(
	router *gin.Engine,
	client *weaviate.Client,
	llmClient llm.LLMClient,
	retriever *services.Retriever,
	store *conversation.SessionStore,
	personas *services.PersonaRegistry,
	chatHandler handlers.StreamingChatHandler,
) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.Use(middleware.RateLimitMiddleware(nil))
	{
		v1.POST("/chat/stream", chatHandler.HandleChatStream)
		v1.GET("/chat/ws", handlers.HandleChatWebSocket(retriever, llmClient, store, personas))

		v1.POST("/documents", handlers.IngestDocument(client))
		v1.GET("/documents", handlers.ListDocuments(client))
		v1.DELETE("/documents/:documentId", handlers.DeleteDocument(client))

		sessions := v1.Group("/sessions")
		{
			sessions.GET("", handlers.ListSessions(store))
			sessions.GET("/:sessionId/messages", handlers.GetSessionMessages(store))
			sessions.GET("/:sessionId/messages/:messageId", handlers.GetSessionMessage(store))
			sessions.DELETE("/:sessionId", handlers.DeleteSession(store))
		}
	}
}
