// Copyright (C) 2026 LumenLearn AI (dev@lumenlearn.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"fmt"
	"strings"

	"github.com/LumenLearnAI/LumenTutor/services/tutor/datatypes"
)

// maxHistoryTurns bounds how many previous turns are replayed into the
// prompt. Oldest turns are dropped first so prompt size stays bounded
// regardless of session age.
const maxHistoryTurns = 10

// contextInstruction is appended after the material block when context
// exists. The model must ground its answer and admit when the material
// is insufficient.
const contextInstruction = "Answer the question using the course material above. " +
	"If the material does not contain enough information to answer, say so explicitly."

// FormatChunkLine renders one retrieved chunk as a context line.
// Chunks without a page number render as "Page N/A".
func FormatChunkLine(chunk datatypes.ChunkHit) string {
	page := "N/A"
	if chunk.PageNumber != nil {
		page = fmt.Sprintf("%d", *chunk.PageNumber)
	}
	return fmt.Sprintf("%s (Page %s)", chunk.Content, page)
}

// BuildContextBlock flattens ranked document contexts into the material
// block placed ahead of the question. Chunk lines appear in retriever
// order (most relevant document first) separated by blank lines.
func BuildContextBlock(contexts []datatypes.DocumentContext) string {
	lines := make([]string, 0)
	for _, dc := range contexts {
		for _, chunk := range dc.Chunks {
			lines = append(lines, FormatChunkLine(chunk))
		}
	}
	return strings.Join(lines, "\n\n")
}

// WrapWithContext wraps the student's message with retrieved material.
//
// # Description
//
// When context exists the result is: the material block, the grounding
// instruction, then the original question. With no context the message
// passes through unmodified. Pure function: identical inputs produce an
// identical string.
func WrapWithContext(userMessage string, contexts []datatypes.DocumentContext) string {
	block := BuildContextBlock(contexts)
	if block == "" {
		return userMessage
	}

	var b strings.Builder
	b.WriteString("Course material:\n\n")
	b.WriteString(block)
	b.WriteString("\n\n")
	b.WriteString(contextInstruction)
	b.WriteString("\n\nQuestion: ")
	b.WriteString(userMessage)
	return b.String()
}

// TrimHistory returns the most recent maxHistoryTurns turns, oldest
// first. The input is assumed chronological.
func TrimHistory(history []datatypes.ConversationTurn) []datatypes.ConversationTurn {
	if len(history) <= maxHistoryTurns {
		return history
	}
	return history[len(history)-maxHistoryTurns:]
}

// AssembleMessages builds the full model request for one chat turn.
//
// # Description
//
// Produces, in order: the system prompt, the trimmed conversation
// history as alternating user/assistant messages, and the (possibly
// context-wrapped) current question. Pure function with no I/O; all
// retrieval and history loading happens before assembly.
//
// # Examples
//
//	messages := AssembleMessages(
//	    persona.SystemPrompt,
//	    "What is the boiling point of water?",
//	    contexts,
//	    history,
//	)
func AssembleMessages(
	systemPrompt string,
	userMessage string,
	contexts []datatypes.DocumentContext,
	history []datatypes.ConversationTurn,
) []datatypes.Message {
	trimmed := TrimHistory(history)

	messages := make([]datatypes.Message, 0, 2+len(trimmed)*2)
	messages = append(messages, datatypes.Message{Role: "system", Content: systemPrompt})

	for _, turn := range trimmed {
		messages = append(messages,
			datatypes.Message{Role: "user", Content: turn.Question},
			datatypes.Message{Role: "assistant", Content: turn.Answer},
		)
	}

	messages = append(messages, datatypes.Message{
		Role:    "user",
		Content: WrapWithContext(userMessage, contexts),
	})
	return messages
}
