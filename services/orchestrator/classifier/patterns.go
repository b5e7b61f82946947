// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package classifier

import (
	"regexp"

	"github.com/AleutianAI/kodiak/services/orchestrator/datatypes"
)

// patternRule is one regex in the zero-cost tier. Rules are checked in
// order; the first match wins.
type patternRule struct {
	intent     datatypes.Intent
	confidence float64
	reasoning  string
	re         *regexp.Regexp
}

// === Pattern tables ===
//
// These cover query shapes unambiguous enough to skip the model entirely.
// Confidence is fixed per rule in the 0.85-0.95 band: high because the
// shapes are unmistakable, never 1.0 because regexes are still heuristics.

// greetingPattern and farewellPattern anchor on the whole message so that
// "hello, how do I configure TLS?" does not short-circuit to chitchat.
var (
	greetingPattern = regexp.MustCompile(`(?i)^\s*(hi|hello|hey|yo|howdy|good\s+(morning|afternoon|evening)|how\s+are\s+you|what'?s\s+up|thanks|thank\s+you)\s*[!.?]*\s*$`)
	farewellPattern = regexp.MustCompile(`(?i)^\s*(bye|goodbye|good\s+night|see\s+you|see\s+ya|farewell|later|take\s+care)\s*[!.?]*\s*$`)

	// shortAffirmationPattern is context-sensitive: with prior turns it is
	// a clarification ("yes" answering a question we asked), with no prior
	// turns it is chitchat.
	shortAffirmationPattern = regexp.MustCompile(`(?i)^\s*(ok|okay|yes|yeah|yep|yup|sure|no|nope|nah|right|correct|exactly|got\s+it|sounds\s+good|makes\s+sense|i\s+see)\s*[!.?]*\s*$`)
)

var patternRules = []patternRule{
	{
		intent:     datatypes.IntentComparison,
		confidence: 0.90,
		reasoning:  "explicit comparison phrasing",
		re:         regexp.MustCompile(`(?i)\b(vs\.?|versus)\b|\bdifferences?\s+between\b|\bcompared?\s+(to|with)\b|\bpros\s+and\s+cons\b|\bwhich\s+is\s+(better|faster|cheaper|safer)\b`),
	},
	{
		intent:     datatypes.IntentProcedural,
		confidence: 0.88,
		reasoning:  "how-to / instructional opener",
		re:         regexp.MustCompile(`(?i)^\s*how\s+(do|can|should|would)\s+(i|we|you)\b|\bstep[\s-]by[\s-]step\b|\bwalk\s+me\s+through\b|\binstructions?\s+for\b|\bguide\s+(to|for)\b`),
	},
	{
		intent:     datatypes.IntentAggregation,
		confidence: 0.87,
		reasoning:  "corpus-wide aggregation phrasing",
		re:         regexp.MustCompile(`(?i)\bhow\s+many\b|\btotal\s+number\s+of\b|\bcount\s+of\b|\blist\s+(all|every)\b|\ball\s+(the\s+)?(documents?|pages?|sections?|entries|mentions)\b|\bsummar(y|ize|ise)\s+(of\s+)?(all|everything|the\s+whole)\b`),
	},
	{
		intent:     datatypes.IntentTemporal,
		confidence: 0.86,
		reasoning:  "time-anchored phrasing",
		re:         regexp.MustCompile(`(?i)\b(latest|most\s+recent|newest)\b|\blast\s+(week|month|year|quarter)\b|\b(today|yesterday)\b|\bwhen\s+(was|did|will|does)\b|\bsince\s+(19|20)\d{2}\b`),
	},
	{
		intent:     datatypes.IntentExplanation,
		confidence: 0.85,
		reasoning:  "causal / mechanism opener",
		re:         regexp.MustCompile(`(?i)^\s*(why|how\s+come)\b|\bexplain\s+(why|how|what)\b|\bwhat\s+causes?\b|\bwhat\s+is\s+the\s+reason\b`),
	},
}

// matchPatterns runs the pattern tier.
//
// Outputs:
//
//	*datatypes.ClassificationResult - Non-nil on a match, nil otherwise.
func matchPatterns(query string, hasHistory bool) *datatypes.ClassificationResult {
	if greetingPattern.MatchString(query) {
		return &datatypes.ClassificationResult{
			Intent:     datatypes.IntentChitchat,
			Confidence: 0.95,
			Reasoning:  "greeting or social nicety",
			QuickMatch: true,
		}
	}
	if farewellPattern.MatchString(query) {
		return &datatypes.ClassificationResult{
			Intent:     datatypes.IntentChitchat,
			Confidence: 0.95,
			Reasoning:  "farewell",
			QuickMatch: true,
		}
	}
	if shortAffirmationPattern.MatchString(query) {
		if hasHistory {
			return &datatypes.ClassificationResult{
				Intent:     datatypes.IntentClarification,
				Confidence: 0.90,
				Reasoning:  "short affirmation continuing a conversation",
				IsFollowUp: true,
				QuickMatch: true,
			}
		}
		return &datatypes.ClassificationResult{
			Intent:     datatypes.IntentChitchat,
			Confidence: 0.90,
			Reasoning:  "short affirmation with no prior context",
			QuickMatch: true,
		}
	}

	for _, rule := range patternRules {
		if rule.re.MatchString(query) {
			return &datatypes.ClassificationResult{
				Intent:     rule.intent,
				Confidence: rule.confidence,
				Reasoning:  rule.reasoning,
				QuickMatch: true,
			}
		}
	}
	return nil
}
