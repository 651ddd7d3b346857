// Copyright (C) 2026 LumenLearn AI (dev@lumenlearn.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"log"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"

	"github.com/LumenLearnAI/LumenTutor/services/llm"
	"github.com/LumenLearnAI/LumenTutor/services/tutor/conversation"
	"github.com/LumenLearnAI/LumenTutor/services/tutor/datatypes"
	"github.com/LumenLearnAI/LumenTutor/services/tutor/handlers"
	"github.com/LumenLearnAI/LumenTutor/services/tutor/observability"
	"github.com/LumenLearnAI/LumenTutor/services/tutor/routes"
	"github.com/LumenLearnAI/LumenTutor/services/tutor/services"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "lumen-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("tutor-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func newWeaviateClient() *weaviate.Client {
	weaviateURL := strings.Trim(os.Getenv("WEAVIATE_SERVICE_URL"), "\"' ")
	if weaviateURL == "" {
		log.Fatal("WEAVIATE_SERVICE_URL is required")
	}
	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		log.Fatalf("WEAVIATE_SERVICE_URL is invalid: %q", weaviateURL)
	}
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		log.Fatalf("Failed to create Weaviate client: %v", err)
	}
	return client
}

func newLLMClient() llm.LLMClient {
	var client llm.LLMClient
	var err error

	switch backend := os.Getenv("LLM_BACKEND_TYPE"); backend {
	case "openai":
		client, err = llm.NewOpenAIClient()
		slog.Info("Using OpenAI SDK LLM backend")
	case "ollama":
		client, err = llm.NewOllamaClient()
		slog.Info("Using Ollama LLM backend")
	case "", "sse":
		client, err = llm.NewStreamingClient()
		slog.Info("Using OpenAI-compatible SSE LLM backend")
	default:
		slog.Warn("LLM_BACKEND_TYPE not recognized, defaulting to sse", "value", backend)
		client, err = llm.NewStreamingClient()
	}
	if err != nil {
		log.Fatalf("Failed to initialize LLM client: %v", err)
	}
	return client
}

func main() {
	port := os.Getenv("TUTOR_PORT")
	if port == "" {
		port = "12310"
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	weaviateClient := newWeaviateClient()
	datatypes.EnsureWeaviateSchema(weaviateClient)

	llmClient := newLLMClient()

	cacheCapacity := conversation.DefaultMessageCacheCapacity
	if raw := os.Getenv("MESSAGE_CACHE_CAPACITY"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			cacheCapacity = parsed
		} else {
			slog.Warn("MESSAGE_CACHE_CAPACITY is invalid, using default",
				"value", raw, "default", cacheCapacity)
		}
	}
	store := conversation.NewSessionStore(weaviateClient,
		conversation.NewMessageCache(cacheCapacity))

	observability.InitMetrics(store.Cache().Stats)

	retriever := services.NewRetriever(services.NewWeaviateSearch(weaviateClient))

	personas, err := services.NewPersonaRegistry(os.Getenv("PERSONA_CONFIG_PATH"))
	if err != nil {
		slog.Warn("failed to load persona config, using built-in default", "error", err)
		personas, _ = services.NewPersonaRegistry("")
	}
	if err := personas.Watch(context.Background()); err != nil {
		slog.Warn("persona config watch unavailable", "error", err)
	}

	chatHandler := handlers.NewStreamingChatHandler(retriever, llmClient, store, personas, llmClient)

	router := gin.Default()
	router.Use(otelgin.Middleware("tutor-service"))
	routes.SetupRoutes(router, weaviateClient, llmClient, retriever, store, personas, chatHandler)

	log.Println("Starting the tutor server on port ", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
