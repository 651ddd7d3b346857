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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LumenLearnAI/LumenTutor/services/tutor/datatypes"
)

func TestFormatChunkLine_WithPageNumber(t *testing.T) {
	chunk := datatypes.ChunkHit{Content: "Water boils at 100C at sea level.", PageNumber: pageOf(42)}
	assert.Equal(t, "Water boils at 100C at sea level. (Page 42)", FormatChunkLine(chunk))
}

func TestFormatChunkLine_WithoutPageNumber(t *testing.T) {
	chunk := datatypes.ChunkHit{Content: "Untracked passage."}
	assert.Equal(t, "Untracked passage. (Page N/A)", FormatChunkLine(chunk))
}

func TestBuildContextBlock_JoinsChunksWithBlankLines(t *testing.T) {
	contexts := []datatypes.DocumentContext{
		{Chunks: []datatypes.ChunkHit{
			{Content: "First chunk.", PageNumber: pageOf(1)},
			{Content: "Second chunk.", PageNumber: pageOf(2)},
		}},
		{Chunks: []datatypes.ChunkHit{
			{Content: "Third chunk."},
		}},
	}

	block := BuildContextBlock(contexts)
	expected := "First chunk. (Page 1)\n\nSecond chunk. (Page 2)\n\nThird chunk. (Page N/A)"
	assert.Equal(t, expected, block)
}

func TestBuildContextBlock_EmptyContexts(t *testing.T) {
	assert.Equal(t, "", BuildContextBlock(nil))
	assert.Equal(t, "", BuildContextBlock([]datatypes.DocumentContext{}))
}

// TestWrapWithContext_OrdersMaterialBeforeQuestion checks the wrapped
// prompt layout: material block, grounding instruction, then question.
func TestWrapWithContext_OrdersMaterialBeforeQuestion(t *testing.T) {
	contexts := []datatypes.DocumentContext{
		{Chunks: []datatypes.ChunkHit{{Content: "Photosynthesis converts light to energy.", PageNumber: pageOf(7)}}},
	}

	wrapped := WrapWithContext("How do plants make energy?", contexts)

	materialIdx := strings.Index(wrapped, "Photosynthesis converts light to energy. (Page 7)")
	instructionIdx := strings.Index(wrapped, contextInstruction)
	questionIdx := strings.Index(wrapped, "Question: How do plants make energy?")

	require.GreaterOrEqual(t, materialIdx, 0)
	require.GreaterOrEqual(t, instructionIdx, 0)
	require.GreaterOrEqual(t, questionIdx, 0)
	assert.Less(t, materialIdx, instructionIdx)
	assert.Less(t, instructionIdx, questionIdx)
}

// TestWrapWithContext_NoContextPassthrough verifies the degraded path:
// with nothing retrieved the student's message goes to the model
// verbatim, with no wrapper boilerplate at all.
func TestWrapWithContext_NoContextPassthrough(t *testing.T) {
	message := "What is entropy?"
	assert.Equal(t, message, WrapWithContext(message, nil))
}

func TestWrapWithContext_Deterministic(t *testing.T) {
	contexts := []datatypes.DocumentContext{
		{Chunks: []datatypes.ChunkHit{{Content: "Stable content.", PageNumber: pageOf(1)}}},
	}
	first := WrapWithContext("Same question?", contexts)
	second := WrapWithContext("Same question?", contexts)
	assert.Equal(t, first, second)
}

func TestTrimHistory_KeepsMostRecentTurns(t *testing.T) {
	history := make([]datatypes.ConversationTurn, 0, maxHistoryTurns+5)
	for i := 0; i < maxHistoryTurns+5; i++ {
		history = append(history, datatypes.ConversationTurn{
			Question: fmt.Sprintf("q%d", i),
			Answer:   fmt.Sprintf("a%d", i),
		})
	}

	trimmed := TrimHistory(history)
	require.Len(t, trimmed, maxHistoryTurns)
	assert.Equal(t, "q5", trimmed[0].Question, "oldest turns drop first")
	assert.Equal(t, fmt.Sprintf("q%d", maxHistoryTurns+4), trimmed[len(trimmed)-1].Question)
}

func TestTrimHistory_ShortHistoryUntouched(t *testing.T) {
	history := []datatypes.ConversationTurn{{Question: "q", Answer: "a"}}
	assert.Equal(t, history, TrimHistory(history))
}

func TestAssembleMessages_Layout(t *testing.T) {
	contexts := []datatypes.DocumentContext{
		{Chunks: []datatypes.ChunkHit{{Content: "Material.", PageNumber: pageOf(9)}}},
	}
	history := []datatypes.ConversationTurn{
		{Question: "first question", Answer: "first answer"},
	}

	messages := AssembleMessages("You are a patient tutor.", "next question", contexts, history)
	require.Len(t, messages, 4)

	assert.Equal(t, "system", messages[0].Role)
	assert.Equal(t, "You are a patient tutor.", messages[0].Content)

	assert.Equal(t, "user", messages[1].Role)
	assert.Equal(t, "first question", messages[1].Content)
	assert.Equal(t, "assistant", messages[2].Role)
	assert.Equal(t, "first answer", messages[2].Content)

	assert.Equal(t, "user", messages[3].Role)
	assert.Contains(t, messages[3].Content, "Material. (Page 9)")
	assert.Contains(t, messages[3].Content, "Question: next question")
}

func TestAssembleMessages_TrimsLongHistory(t *testing.T) {
	history := make([]datatypes.ConversationTurn, 0, 30)
	for i := 0; i < 30; i++ {
		history = append(history, datatypes.ConversationTurn{
			Question: fmt.Sprintf("q%d", i),
			Answer:   fmt.Sprintf("a%d", i),
		})
	}

	messages := AssembleMessages("system prompt", "current", nil, history)
	// system + 10 turns * 2 + current question
	require.Len(t, messages, 1+maxHistoryTurns*2+1)
	assert.Equal(t, "q20", messages[1].Content, "history replay starts at the trim boundary")
}

func TestAssembleMessages_NoContextSendsRawQuestion(t *testing.T) {
	messages := AssembleMessages("system prompt", "raw question", nil, nil)
	require.Len(t, messages, 2)
	assert.Equal(t, "raw question", messages[1].Content)
}
