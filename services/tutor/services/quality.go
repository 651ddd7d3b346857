// Copyright (C) 2026 LumenLearn AI (dev@lumenlearn.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"strings"

	"github.com/LumenLearnAI/LumenTutor/services/tutor/datatypes"
)

const (
	// completenessTargetLen is the response length at which the
	// completeness heuristic saturates at 1.0.
	completenessTargetLen = 500

	// neutralConfidence is assigned when no sources informed the answer.
	neutralConfidence = 0.5

	// hedgedClarity is assigned when the answer contains a question mark,
	// a weak signal that the model is hedging or asking back.
	hedgedClarity = 0.8
)

// ScoreResponse computes the per-turn quality report for an assistant
// answer.
//
// # Description
//
// Heuristic, not semantic:
//
//   - sourceRelevance: mean of source relevance scores, 0 without sources.
//   - completeness: min(len(answer)/500, 1) - length as a proxy.
//   - clarity: 0.8 when the answer contains '?', else 1.
//   - confidence: sourceRelevance when sources exist, else 0.5 neutral.
//   - overall: arithmetic mean of the four.
//
// Every input factor is already bounded, so all outputs are in [0,1] by
// construction.
func ScoreResponse(responseText string, sources []datatypes.DocumentReference) datatypes.ResponseQuality {
	sourceRelevance := 0.0
	if len(sources) > 0 {
		total := 0.0
		for _, s := range sources {
			total += s.RelevanceScore
		}
		sourceRelevance = total / float64(len(sources))
	}

	completeness := float64(len(responseText)) / completenessTargetLen
	if completeness > 1 {
		completeness = 1
	}

	clarity := 1.0
	if strings.Contains(responseText, "?") {
		clarity = hedgedClarity
	}

	confidence := neutralConfidence
	if len(sources) > 0 {
		confidence = sourceRelevance
	}

	return datatypes.ResponseQuality{
		Confidence:      confidence,
		SourceRelevance: sourceRelevance,
		Completeness:    completeness,
		Clarity:         clarity,
		Overall:         (confidence + sourceRelevance + completeness + clarity) / 4,
	}
}
