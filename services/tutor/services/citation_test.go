// Copyright (C) 2026 LumenLearn AI (dev@lumenlearn.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LumenLearnAI/LumenTutor/services/tutor/datatypes"
)

func sourceRef(title string, page *int, excerpt string) datatypes.DocumentReference {
	return datatypes.DocumentReference{
		DocumentID:    "doc-1",
		DocumentTitle: title,
		ChunkID:       "chunk-1",
		PageNumber:    page,
		Excerpt:       excerpt,
	}
}

func TestExtractCitations_TitleMatchCaseInsensitive(t *testing.T) {
	text := "As INTRODUCTION TO CHEMISTRY explains, atoms bond."
	sources := []datatypes.DocumentReference{sourceRef("Introduction to Chemistry", nil, "")}

	citations := ExtractCitations(text, sources)
	require.Len(t, citations, 1)

	lower := strings.ToLower(text)
	assert.Equal(t, "introduction to chemistry", lower[citations[0].Start:citations[0].End])
	assert.Equal(t, "doc-1", citations[0].Source.DocumentID)
}

func TestExtractCitations_PageMarkerMatch(t *testing.T) {
	text := "See page 12 for the derivation."
	sources := []datatypes.DocumentReference{sourceRef("Calculus", pageOf(12), "")}

	citations := ExtractCitations(text, sources)
	// "Calculus" does not appear; "page 12" does.
	require.Len(t, citations, 1)
	assert.Equal(t, strings.Index(text, "page 12"), citations[0].Start)
	assert.Equal(t, citations[0].Start+len("page 12"), citations[0].End)
}

func TestExtractCitations_ExcerptPrefixMatch(t *testing.T) {
	excerpt := "The mitochondria is the powerhouse of the cell and produces ATP."
	text := "Recall that the mitochondria is the powerhouse of the cell."
	sources := []datatypes.DocumentReference{sourceRef("Unmentioned Title", nil, excerpt)}

	citations := ExtractCitations(text, sources)
	require.Len(t, citations, 1)

	// First 20 characters of the excerpt, trailing space trimmed,
	// matched case-insensitively.
	lower := strings.ToLower(text)
	assert.Equal(t, "the mitochondria is", lower[citations[0].Start:citations[0].End])
}

func TestExtractCitations_AllOccurrencesReported(t *testing.T) {
	text := "Physics Basics opens the topic; Physics Basics closes it too."
	sources := []datatypes.DocumentReference{sourceRef("Physics Basics", nil, "")}

	citations := ExtractCitations(text, sources)
	require.Len(t, citations, 2)
	assert.Less(t, citations[0].Start, citations[1].Start)
}

func TestExtractCitations_MultipleSourcesMultiplePatterns(t *testing.T) {
	text := "Algebra Notes covers this on page 3."
	sources := []datatypes.DocumentReference{
		sourceRef("Algebra Notes", pageOf(3), ""),
		sourceRef("Geometry Notes", pageOf(8), ""),
	}

	citations := ExtractCitations(text, sources)
	// Title and page marker from the first source; nothing from the second.
	require.Len(t, citations, 2)
	assert.Equal(t, "Algebra Notes", citations[0].Source.DocumentTitle)
	assert.Equal(t, "Algebra Notes", citations[1].Source.DocumentTitle)
}

// TestExtractCitations_WhitespaceOnlyExcerptSkipped covers the edge where
// a chunk begins with a page break or indentation run: a pattern of pure
// whitespace would match everywhere, so it must produce no pattern.
func TestExtractCitations_WhitespaceOnlyExcerptSkipped(t *testing.T) {
	sources := []datatypes.DocumentReference{sourceRef("", nil, "   \n\t   \n          padding")}
	citations := ExtractCitations("Any answer text at all.", sources)
	assert.Empty(t, citations)
}

func TestExtractCitations_EmptyResponseText(t *testing.T) {
	sources := []datatypes.DocumentReference{sourceRef("Title", pageOf(1), "excerpt")}
	citations := ExtractCitations("", sources)
	require.NotNil(t, citations)
	assert.Empty(t, citations)
}

func TestExtractCitations_NoSources(t *testing.T) {
	citations := ExtractCitations("Some answer.", nil)
	require.NotNil(t, citations)
	assert.Empty(t, citations)
}

func TestExtractCitations_Deterministic(t *testing.T) {
	text := "Biology Primer says so on page 2. See Biology Primer again."
	sources := []datatypes.DocumentReference{
		sourceRef("Biology Primer", pageOf(2), "Cells are the basic unit of life."),
	}

	first := ExtractCitations(text, sources)
	second := ExtractCitations(text, sources)
	assert.Equal(t, first, second)
}

func TestExcerptPrefix_ShorterThanLimit(t *testing.T) {
	assert.Equal(t, "short", excerptPrefix("short"))
}

func TestExcerptPrefix_TrimsSurroundingWhitespace(t *testing.T) {
	// Leading whitespace counts toward the 20-character window, then the
	// window is trimmed.
	got := excerptPrefix("  padded start of a long excerpt body")
	assert.Equal(t, "padded start of a", got)
}

func TestFindAll_NonOverlapping(t *testing.T) {
	spans := findAll("aaaa", "aa")
	require.Len(t, spans, 2)
	assert.Equal(t, [2]int{0, 2}, spans[0])
	assert.Equal(t, [2]int{2, 4}, spans[1])
}
