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
	"time"

	"github.com/spf13/cobra"

	"github.com/LumenLearnAI/LumenTutor/pkg/ux"
)

type sessionListResponse struct {
	Sessions []struct {
		SessionID    string    `json:"session_id"`
		Title        string    `json:"title"`
		MessageCount int       `json:"message_count"`
		LastActivity time.Time `json:"last_activity"`
	} `json:"sessions"`
}

type sessionMessagesResponse struct {
	SessionID string `json:"session_id"`
	Messages  []struct {
		Role      string `json:"role"`
		Content   string `json:"content"`
		Timestamp int64  `json:"timestamp"`
	} `json:"messages"`
}

func runListSessions(cmd *cobra.Command, args []string) {
	path := "/v1/sessions"
	if studentID != "" {
		path += "?student_id=" + url.QueryEscape(studentID)
	}

	var resp sessionListResponse
	if err := httpJSON("GET", path, nil, &resp); err != nil {
		log.Fatalf("Error: %v", err)
	}

	if len(resp.Sessions) == 0 {
		ux.Info("no sessions found")
		return
	}
	for _, s := range resp.Sessions {
		fmt.Printf("%s  %s  %s\n",
			ux.Styles.Bold.Render(s.SessionID),
			s.Title,
			ux.Styles.Muted.Render(fmt.Sprintf("%d messages, last active %s",
				s.MessageCount, s.LastActivity.Format("2006-01-02 15:04"))),
		)
	}
}

func runSessionHistory(cmd *cobra.Command, args []string) {
	sessionID := args[0]

	var resp sessionMessagesResponse
	if err := httpJSON("GET", "/v1/sessions/"+url.PathEscape(sessionID)+"/messages", nil, &resp); err != nil {
		log.Fatalf("Error: %v", err)
	}

	for _, msg := range resp.Messages {
		label := "you"
		style := ux.Styles.Highlight
		if msg.Role == "assistant" {
			label = "tutor"
			style = ux.Styles.Subtitle
		}
		fmt.Printf("%s %s\n\n", style.Render(label+">"), msg.Content)
	}
}

func runDeleteSession(cmd *cobra.Command, args []string) {
	sessionID := args[0]
	if err := httpJSON("DELETE", "/v1/sessions/"+url.PathEscape(sessionID), nil, nil); err != nil {
		log.Fatalf("Error: %v", err)
	}
	ux.Success("deleted session " + sessionID)
}
