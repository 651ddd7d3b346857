// Copyright (C) 2026 LumenLearn AI (dev@lumenlearn.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"context"
	"log"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// GetTutorSessionSchema returns the class definition for chat sessions.
// Sessions are metadata only, so no vectorizer.
func GetTutorSessionSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       ClassTutorSession,
		Description: "One tutoring conversation between a student and the assistant.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "session_id",
				DataType:        []string{"text"},
				Description:     "Stable session identifier, also the object UUID",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "student_id",
				DataType:        []string{"text"},
				Description:     "Owning student",
				IndexFilterable: indexFilterable,
			},
			{
				Name:        "title",
				DataType:    []string{"text"},
				Description: "Display title, date-stamped until summarized",
			},
			{
				Name:        "document_ids",
				DataType:    []string{"text[]"},
				Description: "Retrieval scope for subsequent turns",
			},
			{
				Name:     "message_count",
				DataType: []string{"int"},
			},
			{
				Name:     "last_activity",
				DataType: []string{"date"},
			},
		},
	}
}

// GetTutorMessageSchema returns the class definition for persisted chat
// messages. References are stored as a JSON string to keep the schema
// flat.
func GetTutorMessageSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       ClassTutorMessage,
		Description: "One persisted chat message within a tutoring session.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "message_id",
				DataType:        []string{"text"},
				Description:     "Content-derived identifier, also the object UUID",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "session_id",
				DataType:        []string{"text"},
				Description:     "Parent session",
				IndexFilterable: indexFilterable,
			},
			{
				Name:     "role",
				DataType: []string{"text"},
			},
			{
				Name:     "content",
				DataType: []string{"text"},
			},
			{
				Name:        "references",
				DataType:    []string{"text"},
				Description: "JSON-encoded document references backing the answer",
			},
			{
				Name:     "confidence",
				DataType: []string{"number"},
			},
			{
				Name:     "processing_time_ms",
				DataType: []string{"number"},
			},
			{
				Name:     "timestamp",
				DataType: []string{"number"},
			},
		},
	}
}

// GetCourseChunkSchema returns the class definition for retrievable
// course material chunks. The vectorizer is left to the server default
// so the deployment's configured text2vec module embeds chunk content.
func GetCourseChunkSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       ClassCourseChunk,
		Description: "One chunk of ingested course material, embedded for retrieval.",
		Properties: []*models.Property{
			{
				Name:        "content",
				DataType:    []string{"text"},
				Description: "Chunk text, the only vectorized property",
			},
			{
				Name:            "document_id",
				DataType:        []string{"text"},
				Description:     "Parent document",
				IndexFilterable: indexFilterable,
			},
			{
				Name:     "document_title",
				DataType: []string{"text"},
			},
			{
				Name:        "page_number",
				DataType:    []string{"int"},
				Description: "Absent for documents ingested without page structure",
			},
			{
				Name:     "ingested_at",
				DataType: []string{"number"},
			},
		},
	}
}

// EnsureWeaviateSchema creates any missing classes at startup. Existing
// classes are left untouched.
func EnsureWeaviateSchema(client *weaviate.Client) {
	schemaGetters := []func() *models.Class{
		GetTutorSessionSchema,
		GetTutorMessageSchema,
		GetCourseChunkSchema,
	}

	for _, getSchema := range schemaGetters {
		class := getSchema()
		slog.Info("Checking schema", "class", class.Class)

		_, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(context.Background())
		if err != nil {
			slog.Info("Schema not found, creating it...", "class", class.Class)
			err := client.Schema().ClassCreator().WithClass(class).Do(context.Background())
			if err != nil {
				log.Fatalf("Failed to create schema for class %s: %v", class.Class, err)
			}
			slog.Info("Successfully created schema", "class", class.Class)
		} else {
			slog.Info("Schema already exists", "class", class.Class)
		}
	}
}
