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

// excerptPatternLen is how many leading characters of a source excerpt
// form the excerpt match pattern.
const excerptPatternLen = 20

// ExtractCitations maps spans of the response text back to the sources
// that support them.
//
// # Description
//
// For each source, up to three literal patterns are built: the document
// title, the substring "page <N>" for the source's page number, and the
// first ~20 characters of the excerpt. The response is scanned for every
// case-insensitive occurrence of each pattern; each match yields one
// Citation with [start,end) byte offsets and a copy of the source.
//
// Matching is literal substring only - no regex - so arbitrary document
// titles can never trigger pathological backtracking. Sources are
// processed in slice order and within a source patterns run in a fixed
// order, so re-extraction over the same inputs is byte-identical.
//
// # Limitations
//
//   - Case folding is done with strings.ToLower; for non-ASCII text whose
//     lowercase form changes byte length, offsets refer to the folded
//     text. Course material is overwhelmingly ASCII in practice.
func ExtractCitations(responseText string, sources []datatypes.DocumentReference) []datatypes.Citation {
	citations := make([]datatypes.Citation, 0)
	if responseText == "" {
		return citations
	}

	lowerText := strings.ToLower(responseText)

	for _, source := range sources {
		for _, pattern := range patternsFor(source) {
			for _, span := range findAll(lowerText, pattern) {
				citations = append(citations, datatypes.Citation{
					Start:  span[0],
					End:    span[1],
					Source: source,
				})
			}
		}
	}
	return citations
}

// patternsFor returns the non-empty lowercase match patterns for a
// source, in fixed order: title, page marker, excerpt prefix.
func patternsFor(source datatypes.DocumentReference) []string {
	patterns := make([]string, 0, 3)

	if title := strings.TrimSpace(source.DocumentTitle); title != "" {
		patterns = append(patterns, strings.ToLower(title))
	}

	if source.PageNumber != nil {
		patterns = append(patterns, fmt.Sprintf("page %d", *source.PageNumber))
	}

	if prefix := excerptPrefix(source.Excerpt); prefix != "" {
		patterns = append(patterns, strings.ToLower(prefix))
	}
	return patterns
}

// excerptPrefix returns the first excerptPatternLen characters of the
// excerpt, or "" when the prefix is empty or whitespace only.
func excerptPrefix(excerpt string) string {
	runes := []rune(excerpt)
	if len(runes) > excerptPatternLen {
		runes = runes[:excerptPatternLen]
	}
	prefix := strings.TrimSpace(string(runes))
	return prefix
}

// findAll returns the [start,end) spans of every non-overlapping
// occurrence of pattern in text. Scanning is left to right, so output
// order is deterministic.
func findAll(text, pattern string) [][2]int {
	spans := make([][2]int, 0)
	if pattern == "" {
		return spans
	}

	offset := 0
	for {
		i := strings.Index(text[offset:], pattern)
		if i < 0 {
			return spans
		}
		start := offset + i
		end := start + len(pattern)
		spans = append(spans, [2]int{start, end})
		offset = end
	}
}
