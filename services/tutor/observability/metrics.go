// Copyright (C) 2026 LumenLearn AI (dev@lumenlearn.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides prometheus metrics for the tutor
// service.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "lumen"
	subsystem = "chat"
)

// Endpoint labels a metric with the transport surface it came from.
type Endpoint string

const (
	EndpointChatStream Endpoint = "chat_stream"
	EndpointChatWS     Endpoint = "chat_ws"
	EndpointSessions   Endpoint = "sessions"
	EndpointDocuments  Endpoint = "documents"
)

// ErrorCode categorizes failures for the errors_total counter.
type ErrorCode string

const (
	ErrorCodeValidation       ErrorCode = "validation"
	ErrorCodeRetrieval        ErrorCode = "retrieval_degraded"
	ErrorCodeStreamFailed     ErrorCode = "stream_failed"
	ErrorCodePersistence      ErrorCode = "persistence_failed"
	ErrorCodeClientDisconnect ErrorCode = "client_disconnect"
	ErrorCodeInternal         ErrorCode = "internal"
)

// ChatMetrics aggregates the streaming pipeline's prometheus metrics.
type ChatMetrics struct {
	requestsTotal     *prometheus.CounterVec
	tokensTotal       *prometheus.CounterVec
	timeToFirstToken  *prometheus.HistogramVec
	streamDuration    *prometheus.HistogramVec
	activeStreams     *prometheus.GaugeVec
	errorsTotal       *prometheus.CounterVec
	keepalivesTotal   *prometheus.CounterVec
	clientDisconnects *prometheus.CounterVec
	retrievalDegraded *prometheus.CounterVec
	cacheHits         prometheus.GaugeFunc
	cacheMisses       prometheus.GaugeFunc
	cacheEvictions    prometheus.GaugeFunc
}

// DefaultMetrics is the process-wide metrics instance, nil until
// InitMetrics runs. Handlers nil-check it so tests run without a
// registry.
var DefaultMetrics *ChatMetrics

// CacheStatsFunc reports message cache hit/miss/eviction counts.
type CacheStatsFunc func() (hits, misses, evictions int64)

// InitMetrics registers all chat metrics with the default registry.
// cacheStats may be nil when no message cache is wired.
func InitMetrics(cacheStats CacheStatsFunc) *ChatMetrics {
	m := &ChatMetrics{
		requestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "requests_total",
			Help:      "Total chat requests by endpoint and success.",
		}, []string{"endpoint", "success"}),

		tokensTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tokens_total",
			Help:      "Total streamed tokens by endpoint.",
		}, []string{"endpoint"}),

		timeToFirstToken: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "time_to_first_token_seconds",
			Help:      "Latency from request start to first streamed token.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"endpoint"}),

		streamDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "stream_duration_seconds",
			Help:      "Total stream duration by endpoint and success.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"endpoint", "success"}),

		activeStreams: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "active_streams",
			Help:      "Streams currently in flight.",
		}, []string{"endpoint"}),

		errorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Errors by endpoint and code.",
		}, []string{"endpoint", "code"}),

		keepalivesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "keepalives_total",
			Help:      "Keepalive comments written during slow retrieval.",
		}, []string{"endpoint"}),

		clientDisconnects: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "client_disconnects_total",
			Help:      "Streams abandoned by the client before completion.",
		}, []string{"endpoint"}),

		retrievalDegraded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "retrieval_degraded_total",
			Help:      "Chat turns answered without context after retrieval failure.",
		}, []string{"endpoint"}),
	}

	if cacheStats != nil {
		m.cacheHits = promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "message_cache_hits",
			Help: "Message cache hits since start.",
		}, func() float64 { h, _, _ := cacheStats(); return float64(h) })
		m.cacheMisses = promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "message_cache_misses",
			Help: "Message cache misses since start.",
		}, func() float64 { _, mi, _ := cacheStats(); return float64(mi) })
		m.cacheEvictions = promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "message_cache_evictions",
			Help: "Message cache evictions since start.",
		}, func() float64 { _, _, e := cacheStats(); return float64(e) })
	}

	DefaultMetrics = m
	return m
}

func (m *ChatMetrics) RecordRequest(endpoint Endpoint, success bool) {
	m.requestsTotal.WithLabelValues(string(endpoint), strconv.FormatBool(success)).Inc()
}

func (m *ChatMetrics) RecordTokens(endpoint Endpoint, count int) {
	m.tokensTotal.WithLabelValues(string(endpoint)).Add(float64(count))
}

func (m *ChatMetrics) RecordTimeToFirstToken(endpoint Endpoint, seconds float64) {
	m.timeToFirstToken.WithLabelValues(string(endpoint)).Observe(seconds)
}

func (m *ChatMetrics) RecordStreamDuration(endpoint Endpoint, seconds float64, success bool) {
	m.streamDuration.WithLabelValues(string(endpoint), strconv.FormatBool(success)).Observe(seconds)
}

func (m *ChatMetrics) StreamStarted(endpoint Endpoint) {
	m.activeStreams.WithLabelValues(string(endpoint)).Inc()
}

func (m *ChatMetrics) StreamEnded(endpoint Endpoint) {
	m.activeStreams.WithLabelValues(string(endpoint)).Dec()
}

func (m *ChatMetrics) RecordError(endpoint Endpoint, code ErrorCode) {
	m.errorsTotal.WithLabelValues(string(endpoint), string(code)).Inc()
}

func (m *ChatMetrics) RecordKeepAlive(endpoint Endpoint) {
	m.keepalivesTotal.WithLabelValues(string(endpoint)).Inc()
}

func (m *ChatMetrics) RecordClientDisconnect(endpoint Endpoint) {
	m.clientDisconnects.WithLabelValues(string(endpoint)).Inc()
}

func (m *ChatMetrics) RecordRetrievalDegraded(endpoint Endpoint) {
	m.retrievalDegraded.WithLabelValues(string(endpoint)).Inc()
}
