// Copyright (C) 2026 LumenLearn AI (dev@lumenlearn.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"

	"github.com/LumenLearnAI/LumenTutor/services/tutor/datatypes"
)

// WeaviateSearch implements DocumentSearch against the CourseChunk class
// using nearText vector search.
type WeaviateSearch struct {
	client *weaviate.Client
}

// NewWeaviateSearch constructs the search backend. Panics if client is
// nil.
func NewWeaviateSearch(client *weaviate.Client) *WeaviateSearch {
	if client == nil {
		panic("NewWeaviateSearch: weaviate client is required")
	}
	return &WeaviateSearch{client: client}
}

// weaviateChunkResponse mirrors the GraphQL Get shape for CourseChunk.
type weaviateChunkResponse struct {
	Get struct {
		CourseChunk []struct {
			Content       string `json:"content"`
			DocumentID    string `json:"document_id"`
			DocumentTitle string `json:"document_title"`
			PageNumber    *int   `json:"page_number"`
			Additional    struct {
				ID        string  `json:"id"`
				Certainty float64 `json:"certainty"`
			} `json:"_additional"`
		} `json:"CourseChunk"`
	} `json:"Get"`
}

// Search runs nearText retrieval scoped to the allowed documents.
//
// # Description
//
// Queries CourseChunk with the student's question as the nearText
// concept, filtered to the permitted document IDs (no filter when the
// scope is empty), bounded by maxResults and minSimilarity (mapped to
// Weaviate certainty). GraphQL-level errors surface as retryable
// RetrievalErrors so the retriever's backoff applies.
func (s *WeaviateSearch) Search(
	ctx context.Context,
	query string,
	documentIDs []string,
	maxResults int,
	minSimilarity float64,
) ([]datatypes.ChunkHit, error) {
	nearText := s.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})
	if minSimilarity > 0 {
		nearText = nearText.WithCertainty(float32(minSimilarity))
	}

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "document_id"},
		{Name: "document_title"},
		{Name: "page_number"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "certainty"},
		}},
	}

	builder := s.client.GraphQL().Get().
		WithClassName(datatypes.ClassCourseChunk).
		WithNearText(nearText).
		WithLimit(maxResults).
		WithFields(fields...)

	if len(documentIDs) > 0 {
		builder = builder.WithWhere(filters.Where().
			WithPath([]string{"document_id"}).
			WithOperator(filters.ContainsAny).
			WithValueText(documentIDs...))
	}

	result, err := builder.Do(ctx)
	if err != nil {
		return nil, &RetrievalError{
			StatusCode: http.StatusBadGateway,
			Message:    err.Error(),
			Retryable:  true,
		}
	}
	if len(result.Errors) > 0 {
		return nil, &RetrievalError{
			StatusCode: http.StatusBadGateway,
			Message:    fmt.Sprintf("graphql error: %v", result.Errors[0].Message),
			Retryable:  true,
		}
	}

	// Marshal and unmarshal for type safety over the untyped GraphQL map.
	jsonBytes, err := json.Marshal(result.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal search response: %w", err)
	}
	var typed weaviateChunkResponse
	if err := json.Unmarshal(jsonBytes, &typed); err != nil {
		return nil, fmt.Errorf("unmarshal search response: %w", err)
	}

	hits := make([]datatypes.ChunkHit, 0, len(typed.Get.CourseChunk))
	for _, obj := range typed.Get.CourseChunk {
		hits = append(hits, datatypes.ChunkHit{
			ChunkID:       obj.Additional.ID,
			DocumentID:    obj.DocumentID,
			DocumentTitle: obj.DocumentTitle,
			Content:       obj.Content,
			PageNumber:    obj.PageNumber,
			Similarity:    obj.Additional.Certainty,
		})
	}
	return hits, nil
}

var _ DocumentSearch = (*WeaviateSearch)(nil)
