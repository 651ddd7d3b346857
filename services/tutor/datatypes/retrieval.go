// Copyright (C) 2026 LumenLearn AI (dev@lumenlearn.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// ChunkHit is a single chunk-level result from the document search backend.
type ChunkHit struct {
	ChunkID       string  `json:"chunk_id"`
	DocumentID    string  `json:"document_id"`
	DocumentTitle string  `json:"document_title"`
	Content       string  `json:"content"`
	PageNumber    *int    `json:"page_number,omitempty"`
	Similarity    float64 `json:"similarity"`
}

// DocumentReference is a read-only projection of a retrieved chunk,
// attached to assistant messages and streamed to the client as a source.
type DocumentReference struct {
	DocumentID     string   `json:"documentId"`
	DocumentTitle  string   `json:"documentTitle"`
	ChunkID        string   `json:"chunkId"`
	PageNumber     *int     `json:"pageNumber,omitempty"`
	RelevanceScore float64  `json:"relevanceScore"`
	Excerpt        string   `json:"excerpt"`
	Confidence     *float64 `json:"confidence,omitempty"`
}

// DocumentContext aggregates all chunks retrieved for one document within
// a single request. TotalRelevanceScore is the sum of chunk similarities
// and is used only for ranking; the aggregate is discarded after the
// request completes.
type DocumentContext struct {
	DocumentID          string
	DocumentTitle       string
	Chunks              []ChunkHit
	TotalRelevanceScore float64
}

// Citation links a span of response text [Start,End) to the source
// reference that supports it. Citations are derived on demand and never
// persisted on their own.
type Citation struct {
	Start  int               `json:"start"`
	End    int               `json:"end"`
	Source DocumentReference `json:"source"`
}

// ResponseQuality holds the four per-turn quality sub-scores plus their
// arithmetic mean. Every field is in [0,1].
type ResponseQuality struct {
	Confidence      float64 `json:"confidence"`
	SourceRelevance float64 `json:"sourceRelevance"`
	Completeness    float64 `json:"completeness"`
	Clarity         float64 `json:"clarity"`
	Overall         float64 `json:"overall"`
}
