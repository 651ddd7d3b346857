// Copyright (C) 2026 LumenLearn AI (dev@lumenlearn.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/LumenLearnAI/LumenTutor/pkg/ux"
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	studentID        string
	personaName      string
	documentScope    []string
	maxResults       int
	minSimilarity    float64
	personalityLevel string // UX personality level (full/standard/minimal/machine)

	rootCmd = &cobra.Command{
		Use:   "lumen",
		Short: "A cli for the LumenTutor retrieval-augmented tutoring service",
		Long: `Lumen talks to a LumenTutor service: ask one-shot questions,
hold streaming tutoring conversations grounded in your course material,
and manage sessions and documents.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if personalityLevel != "" {
				ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
			} else {
				ux.InitPersonality()
			}
		},
	}

	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question grounded in the ingested course material",
		Args:  cobra.MinimumNArgs(1),
		Run:   runAskCommand, // Defined in cmd_chat.go
	}

	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive tutoring conversation",
		Run:   runChatCommand, // Defined in cmd_chat.go
	}

	// --- Sessions ---
	sessionCmd = &cobra.Command{
		Use:   "session",
		Short: "Manage tutoring sessions",
	}
	listSessionsCmd = &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recently active first",
		Run:   runListSessions, // Defined in cmd_sessions.go
	}
	sessionHistoryCmd = &cobra.Command{
		Use:   "history [session_id]",
		Short: "Print a session's messages in order",
		Args:  cobra.ExactArgs(1),
		Run:   runSessionHistory, // Defined in cmd_sessions.go
	}
	deleteSessionCmd = &cobra.Command{
		Use:   "delete [session_id]",
		Short: "Delete a session and all of its messages",
		Args:  cobra.ExactArgs(1),
		Run:   runDeleteSession, // Defined in cmd_sessions.go
	}

	// --- Documents ---
	documentCmd = &cobra.Command{
		Use:   "document",
		Short: "Manage ingested course material",
	}
	ingestDocumentCmd = &cobra.Command{
		Use:   "ingest [path...]",
		Short: "Ingest local files into the retrieval index",
		Args:  cobra.MinimumNArgs(1),
		Run:   runIngestDocuments, // Defined in cmd_documents.go
	}
	listDocumentsCmd = &cobra.Command{
		Use:   "list",
		Short: "List ingested documents",
		Run:   runListDocuments, // Defined in cmd_documents.go
	}
	deleteDocumentCmd = &cobra.Command{
		Use:   "delete [document_id]",
		Short: "Remove a document's chunks from the retrieval index",
		Args:  cobra.ExactArgs(1),
		Run:   runDeleteDocument, // Defined in cmd_documents.go
	}
)

// init runs when the Go program starts
func init() {
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"Output style: full (default), standard, minimal, or machine (scripting)")
	rootCmd.PersistentFlags().StringVar(&studentID, "student", "",
		"Student identifier attached to sessions")

	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringSliceVar(&documentScope, "docs", nil,
		"Restrict retrieval to these document IDs")
	askCmd.Flags().IntVar(&maxResults, "max-results", 0,
		"Retrieval result cap (0 uses the server default)")
	askCmd.Flags().Float64Var(&minSimilarity, "min-similarity", 0,
		"Minimum similarity for retrieved chunks (0.0-1.0)")
	askCmd.Flags().StringVar(&personaName, "persona", "",
		"Tutor persona to answer with")

	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().String("resume", "", "Resume a conversation using a specific session ID.")
	chatCmd.Flags().StringSliceVar(&documentScope, "docs", nil,
		"Restrict retrieval to these document IDs")
	chatCmd.Flags().StringVar(&personaName, "persona", "",
		"Tutor persona to answer with")

	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(listSessionsCmd)
	sessionCmd.AddCommand(sessionHistoryCmd)
	sessionCmd.AddCommand(deleteSessionCmd)

	rootCmd.AddCommand(documentCmd)
	documentCmd.AddCommand(ingestDocumentCmd)
	ingestDocumentCmd.Flags().String("title", "", "Document title (defaults to the file name)")
	documentCmd.AddCommand(listDocumentsCmd)
	documentCmd.AddCommand(deleteDocumentCmd)
}
