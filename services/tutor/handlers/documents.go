// Copyright (C) 2026 LumenLearn AI (dev@lumenlearn.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/LumenLearnAI/LumenTutor/services/tutor/datatypes"
)

var (
	chunkSize    = 1000
	chunkOverlap = chunkSize / 10

	defaultSeparators  = []string{"\n\n", "\n", " ", ""}
	markdownSeparators = []string{
		"\n# ", "\n## ", "\n### ", "\n#### ", "\n##### ", "\n###### ",
		"\n\n", "\n", " ", "",
	}
)

// DocumentPage is one page of an uploaded course document. Page-level
// uploads preserve page numbers on the stored chunks so answers can
// cite them.
type DocumentPage struct {
	Number  int    `json:"number"`
	Content string `json:"content"`
}

// IngestDocumentRequest is the body for POST /v1/documents. Either
// Content (a flat document, no page numbers) or Pages must be set.
type IngestDocumentRequest struct {
	DocumentID string         `json:"document_id"`
	Title      string         `json:"title"`
	Content    string         `json:"content,omitempty"`
	Pages      []DocumentPage `json:"pages,omitempty"`
}

// IngestDocument receives course material and chunks it into the
// retrieval index. Vectorization happens inside Weaviate via its
// configured text2vec module.
func IngestDocument(client *weaviate.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req IngestDocumentRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if req.Title == "" || (req.Content == "" && len(req.Pages) == 0) {
			c.JSON(http.StatusBadRequest,
				gin.H{"error": "title and content (or pages) are required"})
			return
		}
		if req.DocumentID == "" {
			req.DocumentID = uuid.New().String()
		}

		chunksCreated, err := RunIngestion(c.Request.Context(), client, req)
		if err != nil {
			slog.Error("Ingestion failed", "document_id", req.DocumentID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ingestion failed"})
			return
		}

		slog.Info("Successfully processed document via API",
			"document_id", req.DocumentID,
			"title", req.Title,
			"chunks_processed", chunksCreated,
		)
		c.JSON(http.StatusCreated, gin.H{
			"status":           "success",
			"document_id":      req.DocumentID,
			"chunks_processed": chunksCreated,
		})
	}
}

// ListDocuments returns the distinct documents present in the retrieval
// index, one entry per document_id.
func ListDocuments(client *weaviate.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		slog.Info("Received request to list ingested documents")

		agg, err := client.GraphQL().Aggregate().
			WithClassName(datatypes.ClassCourseChunk).
			WithGroupBy("document_id").
			Do(context.Background())
		if err != nil {
			slog.Error("Failed to aggregate documents from Weaviate", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query documents"})
			return
		}

		var docList []string
		if agg.Data["Aggregate"] != nil {
			aggMap, ok := agg.Data["Aggregate"].(map[string]interface{})
			if ok && aggMap[datatypes.ClassCourseChunk] != nil {
				groups, ok := aggMap[datatypes.ClassCourseChunk].([]interface{})
				if ok {
					for _, groupItem := range groups {
						groupMap, ok := groupItem.(map[string]interface{})
						if ok && groupMap["groupedBy"] != nil {
							groupedByMap, ok := groupMap["groupedBy"].(map[string]interface{})
							if ok && groupedByMap["value"] != nil {
								if id, ok := groupedByMap["value"].(string); ok {
									docList = append(docList, id)
								}
							}
						}
					}
				}
			}
		}

		c.JSON(http.StatusOK, gin.H{"documents": docList})
	}
}

// DeleteDocument removes every chunk belonging to a document from the
// retrieval index.
func DeleteDocument(client *weaviate.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		documentID := c.Param("documentId")
		slog.Info("Received a request to delete a document", "document_id", documentID)

		_, err := client.Batch().ObjectsBatchDeleter().
			WithClassName(datatypes.ClassCourseChunk).
			WithOutput("minimal").
			WithWhere(filters.Where().
				WithPath([]string{"document_id"}).
				WithOperator(filters.Equal).
				WithValueString(documentID)).
			Do(context.Background())
		if err != nil {
			slog.Error("failed to delete document chunks", "document_id", documentID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete document"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":              "success",
			"deleted_document_id": documentID,
		})
	}
}

// RunIngestion splits a document into chunks and batch-imports them.
// Returns the number of chunks accepted by the store. Re-ingesting the
// same content is idempotent because chunk IDs derive from a content
// hash.
func RunIngestion(ctx context.Context, client *weaviate.Client, req IngestDocumentRequest) (int, error) {
	splitter := getSplitterForFile(req.Title)

	type pieceWithPage struct {
		text string
		page *int
	}
	var pieces []pieceWithPage

	if len(req.Pages) > 0 {
		// Split each page separately so every chunk keeps its page
		// number for citation.
		for _, page := range req.Pages {
			chunks, err := splitter.SplitText(page.Content)
			if err != nil {
				return 0, fmt.Errorf("failed to split page %d: %w", page.Number, err)
			}
			n := page.Number
			for _, chunk := range chunks {
				pieces = append(pieces, pieceWithPage{text: chunk, page: &n})
			}
		}
	} else {
		chunks, err := splitter.SplitText(req.Content)
		if err != nil {
			return 0, fmt.Errorf("failed to split content: %w", err)
		}
		for _, chunk := range chunks {
			pieces = append(pieces, pieceWithPage{text: chunk})
		}
	}

	if len(pieces) == 0 {
		slog.Warn("No chunks produced after splitting", "document_id", req.DocumentID)
		return 0, nil
	}
	slog.Info("Split document into chunks",
		"document_id", req.DocumentID, "chunk_count", len(pieces))

	objects := make([]*models.Object, len(pieces))
	for i, piece := range pieces {
		hash := sha256.Sum256([]byte(req.DocumentID + "|" + piece.text))
		chunkUUID, _ := uuid.FromBytes(hash[:16])

		props := map[string]interface{}{
			"content":        piece.text,
			"document_id":    req.DocumentID,
			"document_title": req.Title,
			"ingested_at":    time.Now().UnixMilli(),
		}
		if piece.page != nil {
			props["page_number"] = *piece.page
		}

		objects[i] = &models.Object{
			Class:      datatypes.ClassCourseChunk,
			ID:         strfmt.UUID(chunkUUID.String()),
			Properties: props,
		}
	}

	resp, err := client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to save chunks to Weaviate: %w", err)
	}

	chunksCreated := 0
	hasErrors := false
	for _, item := range resp {
		if item.Result != nil && item.Result.Status != nil && *item.Result.Status == "SUCCESS" {
			chunksCreated++
			continue
		}
		hasErrors = true
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			for _, errItem := range item.Result.Errors.Error {
				slog.Warn("Error in Weaviate batch item",
					"document_id", req.DocumentID, "error", errItem.Message)
			}
		}
	}
	if hasErrors {
		slog.Warn("Errors encountered during chunk import",
			"document_id", req.DocumentID, "successful_chunks", chunksCreated)
	}

	return chunksCreated, nil
}

func getSplitterForFile(filename string) textsplitter.TextSplitter {
	separators := defaultSeparators
	if filepath.Ext(filename) == ".md" {
		separators = markdownSeparators
	}
	return textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
		textsplitter.WithSeparators(separators),
	)
}
