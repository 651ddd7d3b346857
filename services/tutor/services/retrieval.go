// Copyright (C) 2026 LumenLearn AI (dev@lumenlearn.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package services contains the tutor chat pipeline: document context
// retrieval, prompt assembly, citation extraction, and response quality
// scoring.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/LumenLearnAI/LumenTutor/services/tutor/datatypes"
)

var tracer = otel.Tracer("lumentutor/services")

const (
	// maxRetrievalRetries is the number of retry attempts after the
	// initial search call.
	maxRetrievalRetries = 3

	// initialRetryDelay doubles on each attempt (1s, 2s, 4s).
	initialRetryDelay = 1 * time.Second

	// defaultRetrievalTimeout bounds the retrieval step independently of
	// the streaming step.
	defaultRetrievalTimeout = 15 * time.Second
)

// DocumentSearch is the external vector-search capability. The engine
// consumes chunk-level results and never touches the index itself.
type DocumentSearch interface {
	Search(ctx context.Context, query string, documentIDs []string, maxResults int, minSimilarity float64) ([]datatypes.ChunkHit, error)
}

// RetrievalError represents a failure from the search backend.
//
// # Description
//
// Carries the backend status code and whether the failure is worth
// retrying. Transient backend errors (502, 503, 504) are retryable;
// everything else fails fast.
type RetrievalError struct {
	StatusCode int
	Message    string
	Retryable  bool
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed (status %d): %s", e.StatusCode, e.Message)
}

// IsRetrievalError reports whether err is a RetrievalError, returning it
// when so.
func IsRetrievalError(err error) (*RetrievalError, bool) {
	var re *RetrievalError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// IsRetryableStatusCode reports whether an HTTP status from the search
// backend indicates a transient failure.
func IsRetryableStatusCode(code int) bool {
	switch code {
	case 502, 503, 504:
		return true
	default:
		return false
	}
}

// Retriever queries the document search capability and ranks results per
// document.
//
// # Description
//
// Retriever delegates nearest-neighbor search to a DocumentSearch
// implementation, groups the flat chunk hits by document, sums chunk
// similarities into a per-document relevance total, and returns documents
// sorted by that total descending. The ordering is load-bearing: prompt
// assembly places the most relevant document's chunks first.
//
// Failures degrade, they do not propagate: any backend error after
// retries yields an empty context list and a logged warning, so a chat
// turn always proceeds (context-free when necessary).
//
// # Assumptions
//
//   - Scope enforcement (which documents the student may see) happens
//     upstream; allowedDocumentIDs is already permission-filtered.
type Retriever struct {
	search  DocumentSearch
	timeout time.Duration
	group   singleflight.Group
}

// NewRetriever constructs a Retriever. Panics if search is nil, matching
// the fail-fast constructor convention used across the service.
func NewRetriever(search DocumentSearch) *Retriever {
	if search == nil {
		panic("NewRetriever: search capability is required")
	}
	return &Retriever{
		search:  search,
		timeout: defaultRetrievalTimeout,
	}
}

// WithTimeout overrides the per-retrieval timeout. Zero or negative
// values keep the default.
func (r *Retriever) WithTimeout(d time.Duration) *Retriever {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Retrieve fetches and ranks document context for a query.
//
// # Description
//
// Runs the search with retry (exponential backoff, retryable status codes
// only), groups hits by document and sorts descending by summed
// relevance. Returns an empty slice on zero hits AND on backend failure;
// the error return is diagnostic only and callers that stream answers
// should treat it as a degradation signal, not a failure.
//
// Concurrent identical queries are deduplicated via singleflight so a
// burst of students asking the same question costs one backend call.
//
// # Outputs
//
//   - []datatypes.DocumentContext: ranked groups, possibly empty.
//   - error: the underlying failure when degradation occurred, nil otherwise.
func (r *Retriever) Retrieve(
	ctx context.Context,
	query string,
	allowedDocumentIDs []string,
	maxResults int,
	minSimilarity float64,
) ([]datatypes.DocumentContext, error) {
	ctx, span := tracer.Start(ctx, "Retriever.Retrieve")
	defer span.End()

	span.SetAttributes(
		attribute.Int("retrieval.scope_size", len(allowedDocumentIDs)),
		attribute.Int("retrieval.max_results", maxResults),
		attribute.Float64("retrieval.min_similarity", minSimilarity),
	)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	key := flightKey(query, allowedDocumentIDs, maxResults, minSimilarity)
	v, err, shared := r.group.Do(key, func() (any, error) {
		return r.searchWithRetry(ctx, query, allowedDocumentIDs, maxResults, minSimilarity)
	})
	span.SetAttributes(attribute.Bool("retrieval.deduplicated", shared))

	if err != nil {
		span.RecordError(err)
		slog.Warn("document retrieval degraded to empty context",
			"error", err,
			"scope_size", len(allowedDocumentIDs),
		)
		return []datatypes.DocumentContext{}, err
	}

	hits := v.([]datatypes.ChunkHit)
	contexts := GroupByDocument(hits)

	span.SetAttributes(
		attribute.Int("retrieval.hits", len(hits)),
		attribute.Int("retrieval.documents", len(contexts)),
	)
	return contexts, nil
}

// searchWithRetry calls the backend with exponential backoff on
// retryable failures.
func (r *Retriever) searchWithRetry(
	ctx context.Context,
	query string,
	documentIDs []string,
	maxResults int,
	minSimilarity float64,
) ([]datatypes.ChunkHit, error) {
	retryDelay := initialRetryDelay
	var lastErr error

	for attempt := 0; attempt <= maxRetrievalRetries; attempt++ {
		if attempt > 0 {
			slog.Info("retrying document search",
				"attempt", attempt,
				"max_retries", maxRetrievalRetries,
				"delay", retryDelay,
			)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("retrieval cancelled during retry wait: %w", ctx.Err())
			case <-time.After(retryDelay):
			}
			retryDelay *= 2
		}

		hits, err := r.search.Search(ctx, query, documentIDs, maxResults, minSimilarity)
		if err == nil {
			return hits, nil
		}
		lastErr = err

		if re, ok := IsRetrievalError(err); ok && !re.Retryable {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("retrieval context done: %w", ctx.Err())
		}
	}

	return nil, fmt.Errorf("document search failed after %d retries: %w", maxRetrievalRetries, lastErr)
}

// GroupByDocument groups flat chunk hits by document ID.
//
// # Description
//
// Every chunk is preserved (no intra-document truncation), chunk order
// within a document follows search order, and per-document relevance is
// the sum of chunk similarities. Output is sorted by that sum descending;
// ties keep first-appearance order so the result is deterministic.
func GroupByDocument(hits []datatypes.ChunkHit) []datatypes.DocumentContext {
	contexts := make([]datatypes.DocumentContext, 0)
	index := make(map[string]int)

	for _, hit := range hits {
		i, ok := index[hit.DocumentID]
		if !ok {
			i = len(contexts)
			index[hit.DocumentID] = i
			contexts = append(contexts, datatypes.DocumentContext{
				DocumentID:    hit.DocumentID,
				DocumentTitle: hit.DocumentTitle,
			})
		}
		contexts[i].Chunks = append(contexts[i].Chunks, hit)
		contexts[i].TotalRelevanceScore += hit.Similarity
	}

	sort.SliceStable(contexts, func(a, b int) bool {
		return contexts[a].TotalRelevanceScore > contexts[b].TotalRelevanceScore
	})
	return contexts
}

// References flattens ranked contexts into the read-only projections
// attached to assistant messages and streamed as sources.
func References(contexts []datatypes.DocumentContext) []datatypes.DocumentReference {
	refs := make([]datatypes.DocumentReference, 0)
	for _, dc := range contexts {
		for _, chunk := range dc.Chunks {
			refs = append(refs, datatypes.DocumentReference{
				DocumentID:     chunk.DocumentID,
				DocumentTitle:  chunk.DocumentTitle,
				ChunkID:        chunk.ChunkID,
				PageNumber:     chunk.PageNumber,
				RelevanceScore: chunk.Similarity,
				Excerpt:        excerptOf(chunk.Content),
			})
		}
	}
	return refs
}

// maxExcerptLen bounds the excerpt carried on a DocumentReference.
const maxExcerptLen = 200

func excerptOf(content string) string {
	runes := []rune(content)
	if len(runes) <= maxExcerptLen {
		return content
	}
	return string(runes[:maxExcerptLen])
}

func flightKey(query string, documentIDs []string, maxResults int, minSimilarity float64) string {
	var b strings.Builder
	b.WriteString(query)
	b.WriteByte('|')
	b.WriteString(strings.Join(documentIDs, ","))
	fmt.Fprintf(&b, "|%d|%.4f", maxResults, minSimilarity)
	return b.String()
}
