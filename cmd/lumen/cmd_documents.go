// Copyright (C) 2026 LumenLearn AI (dev@lumenlearn.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/LumenLearnAI/LumenTutor/pkg/ux"
)

type ingestResponse struct {
	DocumentID      string `json:"document_id"`
	ChunksProcessed int    `json:"chunks_processed"`
}

type documentListResponse struct {
	Documents []string `json:"documents"`
}

func runIngestDocuments(cmd *cobra.Command, args []string) {
	titleFlag, _ := cmd.Flags().GetString("title")

	for _, path := range args {
		content, err := os.ReadFile(path)
		if err != nil {
			ux.Error(fmt.Sprintf("failed to read %s: %v", path, err))
			continue
		}

		title := titleFlag
		if title == "" {
			title = filepath.Base(path)
		}

		payload := map[string]any{
			"title":   title,
			"content": string(content),
		}
		var resp ingestResponse
		err = ux.WithSpinner(fmt.Sprintf("ingesting %s", title), func() error {
			return httpJSON("POST", "/v1/documents", payload, &resp)
		})
		if err != nil {
			continue
		}
		ux.Info(fmt.Sprintf("%s -> %s (%d chunks)", title, resp.DocumentID, resp.ChunksProcessed))
	}
}

func runListDocuments(cmd *cobra.Command, args []string) {
	var resp documentListResponse
	if err := httpJSON("GET", "/v1/documents", nil, &resp); err != nil {
		log.Fatalf("Error: %v", err)
	}

	if len(resp.Documents) == 0 {
		ux.Info("no documents ingested")
		return
	}
	for _, id := range resp.Documents {
		fmt.Printf("%s %s\n", ux.IconBook.Render(), id)
	}
}

func runDeleteDocument(cmd *cobra.Command, args []string) {
	documentID := args[0]
	if err := httpJSON("DELETE", "/v1/documents/"+url.PathEscape(documentID), nil, nil); err != nil {
		log.Fatalf("Error: %v", err)
	}
	ux.Success("deleted document " + documentID)
}
