// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package classifier

import (
	"strings"

	"github.com/AleutianAI/kodiak/services/orchestrator/datatypes"
)

// keywordAcceptThreshold is the minimum cumulative score for the keyword
// tier to claim a query instead of escalating to the model.
const keywordAcceptThreshold = 1.5

// keywordTables maps each intent to weighted indicator phrases. Scores for
// one intent accumulate across phrase hits; the highest-scoring intent wins
// if it clears the threshold.
var keywordTables = map[datatypes.Intent]map[string]float64{
	datatypes.IntentFactual: {
		"what is":    1.0,
		"what are":   1.0,
		"who is":     1.2,
		"where is":   1.0,
		"define":     1.5,
		"definition": 1.2,
		"meaning of": 1.2,
	},
	datatypes.IntentComparison: {
		"difference":  1.2,
		"trade-off":   1.5,
		"tradeoff":    1.5,
		"better than": 1.5,
		"worse than":  1.5,
		"alternative": 1.0,
		"similar to":  1.0,
	},
	datatypes.IntentExplanation: {
		"explain":      1.5,
		"why does":     2.0,
		"why is":       1.8,
		"how does":     1.5,
		"reason":       1.0,
		"mechanism":    1.2,
		"under the hood": 1.5,
	},
	datatypes.IntentAggregation: {
		"overview":   1.2,
		"summary":    1.2,
		"summarize":  1.5,
		"across all": 1.8,
		"in total":   1.5,
		"breakdown":  1.2,
	},
	datatypes.IntentProcedural: {
		"how to":    1.5,
		"set up":    1.2,
		"setup":     1.0,
		"configure": 1.2,
		"install":   1.2,
		"migrate":   1.0,
		"tutorial":  1.5,
	},
	datatypes.IntentOpinion: {
		"should i":        1.5,
		"should we":       1.5,
		"do you recommend": 2.0,
		"recommendation":  1.5,
		"best way":        1.2,
		"worth it":        1.5,
		"your thoughts":   1.8,
	},
	datatypes.IntentTemporal: {
		"recently": 1.2,
		"timeline": 1.5,
		"history of": 1.2,
		"changelog":  1.5,
		"roadmap":    1.2,
		"upcoming":   1.2,
	},
	datatypes.IntentOutOfScope: {
		"weather":        2.0,
		"tell me a joke": 2.5,
		"joke":           1.5,
		"lottery":        2.0,
		"horoscope":      2.0,
		"sports score":   2.0,
	},
}

// matchKeywords runs the weighted phrase tier.
//
// Confidence scales with the winning score: min(0.85, 0.65 + score*0.05),
// so a bare threshold hit lands at ~0.72 and a pile-up of indicators tops
// out just below the pattern tier's floor.
func matchKeywords(query string) *datatypes.ClassificationResult {
	q := strings.ToLower(query)

	var bestIntent datatypes.Intent
	var bestScore float64
	for intent, phrases := range keywordTables {
		var score float64
		for phrase, weight := range phrases {
			if strings.Contains(q, phrase) {
				score += weight
			}
		}
		if score > bestScore || (score == bestScore && score > 0 && intent < bestIntent) {
			bestIntent = intent
			bestScore = score
		}
	}

	if bestScore < keywordAcceptThreshold {
		return nil
	}
	confidence := 0.65 + bestScore*0.05
	if confidence > 0.85 {
		confidence = 0.85
	}
	return &datatypes.ClassificationResult{
		Intent:     bestIntent,
		Confidence: confidence,
		Reasoning:  "keyword indicators",
		QuickMatch: true,
	}
}
