// Copyright (C) 2026 LumenLearn AI (dev@lumenlearn.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the tutor service.
//
// This package contains request-rate middleware. Streaming chat holds a
// model slot for the life of the response, so gating requests per client
// protects the provider from a single misbehaving frontend.
//
// # Rate Limiting Flow
//
//	Request
//	   │
//	   ▼
//	RateLimitMiddleware
//	   │
//	   ├─► Resolve client key (student header, else remote IP)
//	   │
//	   ├─► limiter.Allow()
//	   │
//	   └─► 429 with Retry-After, or c.Next()
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"golang.org/x/time/rate"
)

// studentHeader identifies the calling student when the frontend
// forwards it. Anonymous requests fall back to the client IP, which
// over-groups students behind one NAT but still bounds total load.
const studentHeader = "X-Student-Id"

// clientLimiter pairs a token bucket with its last use so idle entries
// can be evicted.
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter tracks a token bucket per client key.
type RateLimiter struct {
	mu       sync.Mutex
	clients  map[string]*clientLimiter
	rps      rate.Limit
	burst    int
	idleTTL  time.Duration
	lastScan time.Time
}

// NewRateLimiter creates a limiter allowing rps sustained requests per
// client with the given burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*clientLimiter),
		rps:     rate.Limit(rps),
		burst:   burst,
		idleTTL: 10 * time.Minute,
	}
}

// Allow reports whether the client identified by key may proceed.
func (l *RateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.evictIdleLocked(now)

	entry, ok := l.clients[key]
	if !ok {
		entry = &clientLimiter{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.Allow()
}

// evictIdleLocked drops buckets unused past idleTTL. Runs at most once
// per minute to keep Allow cheap. Caller holds l.mu.
func (l *RateLimiter) evictIdleLocked(now time.Time) {
	if now.Sub(l.lastScan) < time.Minute {
		return
	}
	l.lastScan = now
	for key, entry := range l.clients {
		if now.Sub(entry.lastSeen) > l.idleTTL {
			delete(l.clients, key)
		}
	}
}

// RateLimitMiddleware gates requests per client with tutor-appropriate
// defaults when limiter is nil.
func RateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	if limiter == nil {
		limiter = NewRateLimiter(2, 5)
	}
	return func(c *gin.Context) {
		key := c.GetHeader(studentHeader)
		if key == "" {
			key = c.ClientIP()
		}
		if !limiter.Allow(key) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
