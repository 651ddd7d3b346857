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

func scoredSources(scores ...float64) []datatypes.DocumentReference {
	refs := make([]datatypes.DocumentReference, 0, len(scores))
	for _, s := range scores {
		refs = append(refs, datatypes.DocumentReference{RelevanceScore: s})
	}
	return refs
}

func TestScoreResponse_TypicalGroundedAnswer(t *testing.T) {
	answer := strings.Repeat("a", 250) // half the completeness target
	quality := ScoreResponse(answer, scoredSources(0.9, 0.75))

	assert.InDelta(t, 0.825, quality.SourceRelevance, 1e-9)
	assert.InDelta(t, 0.5, quality.Completeness, 1e-9)
	assert.InDelta(t, 1.0, quality.Clarity, 1e-9)
	assert.InDelta(t, 0.825, quality.Confidence, 1e-9, "confidence tracks source relevance")
	assert.InDelta(t, (0.825+0.825+0.5+1.0)/4, quality.Overall, 1e-9)
}

func TestScoreResponse_NoSources(t *testing.T) {
	quality := ScoreResponse("A short answer.", nil)

	assert.Zero(t, quality.SourceRelevance)
	assert.InDelta(t, neutralConfidence, quality.Confidence, 1e-9, "no evidence means neutral confidence, not zero")
	assert.InDelta(t, (0.5+0.0+float64(len("A short answer."))/500+1.0)/4, quality.Overall, 1e-9)
}

func TestScoreResponse_CompletenessSaturatesAtTarget(t *testing.T) {
	long := strings.Repeat("b", completenessTargetLen*3)
	quality := ScoreResponse(long, scoredSources(1.0))
	assert.InDelta(t, 1.0, quality.Completeness, 1e-9)
}

func TestScoreResponse_QuestionMarkLowersClarity(t *testing.T) {
	quality := ScoreResponse("Did you mean thermal equilibrium?", scoredSources(0.8))
	assert.InDelta(t, hedgedClarity, quality.Clarity, 1e-9)

	plain := ScoreResponse("Thermal equilibrium is reached when heat flow stops.", scoredSources(0.8))
	assert.InDelta(t, 1.0, plain.Clarity, 1e-9)
}

func TestScoreResponse_EmptyAnswer(t *testing.T) {
	quality := ScoreResponse("", nil)
	assert.Zero(t, quality.Completeness)
	assert.InDelta(t, 1.0, quality.Clarity, 1e-9)
	assert.InDelta(t, neutralConfidence, quality.Confidence, 1e-9)
}

// TestScoreResponse_AllScoresBounded sweeps a few shapes of input and
// checks the [0,1] invariant on every field.
func TestScoreResponse_AllScoresBounded(t *testing.T) {
	cases := []struct {
		name    string
		text    string
		sources []datatypes.DocumentReference
	}{
		{"empty", "", nil},
		{"long hedged", strings.Repeat("x? ", 400), scoredSources(0.1, 0.9, 0.5)},
		{"single perfect source", strings.Repeat("y", 600), scoredSources(1.0)},
		{"many weak sources", "short", scoredSources(0.01, 0.02, 0.03, 0.04)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := ScoreResponse(tc.text, tc.sources)
			for name, v := range map[string]float64{
				"confidence":      q.Confidence,
				"sourceRelevance": q.SourceRelevance,
				"completeness":    q.Completeness,
				"clarity":         q.Clarity,
				"overall":         q.Overall,
			} {
				require.GreaterOrEqual(t, v, 0.0, name)
				require.LessOrEqual(t, v, 1.0, name)
			}
		})
	}
}
