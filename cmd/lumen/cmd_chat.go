// Copyright (C) 2026 LumenLearn AI (dev@lumenlearn.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/LumenLearnAI/LumenTutor/pkg/ux"
)

// chatStreamRequest is the POST /v1/chat/stream body. Request ID and
// timestamp are filled server-side when omitted.
type chatStreamRequest struct {
	Message       string   `json:"message"`
	SessionID     string   `json:"session_id,omitempty"`
	StudentID     string   `json:"student_id,omitempty"`
	DocumentIDs   []string `json:"document_ids,omitempty"`
	MaxResults    int      `json:"max_results,omitempty"`
	MinSimilarity float64  `json:"min_similarity,omitempty"`
	Persona       string   `json:"persona,omitempty"`
}

func runAskCommand(cmd *cobra.Command, args []string) {
	question := strings.Join(args, " ")

	result, err := streamChatTurn(context.Background(), question, "")
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	printTurnFooter(result)
}

func runChatCommand(cmd *cobra.Command, args []string) {
	resumeID, _ := cmd.Flags().GetString("resume")
	sessionID := resumeID

	// Graceful shutdown on Ctrl-C
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	ux.Title("Lumen tutoring session")
	if sessionID != "" {
		ux.Muted("resuming session " + sessionID)
	}
	ux.Muted("type your question, 'exit' to quit")

	stdin := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(ux.Styles.Highlight.Render("you> "))
		if !stdin.Scan() {
			return
		}
		question := strings.TrimSpace(stdin.Text())
		if question == "" {
			continue
		}
		if question == "exit" || question == "quit" {
			if sessionID != "" {
				ux.Muted("session " + sessionID)
			}
			return
		}

		result, err := streamChatTurn(ctx, question, sessionID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			ux.Error(err.Error())
			continue
		}
		if result.SessionID != "" {
			sessionID = result.SessionID
		}
		printTurnFooter(result)
	}
}

// streamChatTurn sends one turn and renders the token stream as it
// arrives. Returns the aggregated terminal chunk.
func streamChatTurn(ctx context.Context, question, sessionID string) (*ux.StreamResult, error) {
	payload := chatStreamRequest{
		Message:       question,
		SessionID:     sessionID,
		StudentID:     studentID,
		DocumentIDs:   documentScope,
		MaxResults:    maxResults,
		MinSimilarity: minSimilarity,
		Persona:       personaName,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to create request body: %w", err)
	}

	url := getTutorBaseURL() + "/v1/chat/stream"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	// No client timeout: the stream lives as long as the answer takes.
	// Cancellation comes from ctx.
	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach the tutor service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("tutor service returned status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(errBody)))
	}

	return ux.NewStreamProcessor().Process(resp.Body)
}

// printTurnFooter renders sources and confidence under a finished answer.
func printTurnFooter(result *ux.StreamResult) {
	p := ux.GetPersonality()

	if p.ShowSources && len(result.Sources) > 0 {
		ux.Muted("\nsources:")
		for _, src := range result.Sources {
			page := ""
			if src.PageNumber != nil {
				page = strconv.Itoa(*src.PageNumber)
			}
			ux.Source(src.DocumentTitle, page, src.RelevanceScore)
		}
	}
	if p.ShowConfidence && result.Confidence != nil {
		ux.Confidence(*result.Confidence)
	}
}

// httpJSON issues a request against the tutor service and decodes the
// JSON body into out. Shared by the session and document commands.
func httpJSON(method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, getTutorBaseURL()+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 2 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach the tutor service: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("tutor service returned status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
