// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package judge

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/AleutianAI/kodiak/services/orchestrator/datatypes"
)

// rawEvaluation accepts the judge's loosely-typed output. Models drift:
// booleans arrive as strings, confidence as "0.8", source numbers mixed
// with prose. Every field is coerced during normalization.
type rawEvaluation struct {
	IsGrounded         any    `json:"is_grounded"`
	IsRelevant         any    `json:"is_relevant"`
	IsComplete         any    `json:"is_complete"`
	Confidence         any    `json:"confidence"`
	HasHallucinations  any    `json:"has_hallucinations"`
	Issues             []any  `json:"issues"`
	Reasoning          string `json:"reasoning"`
	CitedSourceNumbers []any  `json:"cited_source_numbers"`
}

// parseEvaluation runs the fallback chain: direct JSON, then the
// outermost {...} block. The returned evaluation is always normalized;
// an error means the caller must use the safe default.
func parseEvaluation(raw string) (datatypes.JudgeEvaluation, error) {
	trimmed := strings.TrimSpace(raw)

	var re rawEvaluation
	if err := json.Unmarshal([]byte(trimmed), &re); err == nil {
		return normalize(re), nil
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return datatypes.JudgeEvaluation{}, fmt.Errorf("%w: no JSON object found", datatypes.ErrJudgeParse)
	}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &re); err != nil {
		return datatypes.JudgeEvaluation{}, fmt.Errorf("%w: %v", datatypes.ErrJudgeParse, err)
	}
	return normalize(re), nil
}

// normalize coerces the loose types into the canonical evaluation shape:
// booleans coerced, confidence clamped to [0,1], cited source numbers
// filtered to numeric entries.
func normalize(re rawEvaluation) datatypes.JudgeEvaluation {
	eval := datatypes.JudgeEvaluation{
		IsGrounded:        asBool(re.IsGrounded),
		IsRelevant:        asBool(re.IsRelevant),
		IsComplete:        asBool(re.IsComplete),
		Confidence:        clampConfidence(asFloat(re.Confidence)),
		HasHallucinations: asBool(re.HasHallucinations),
		Reasoning:         strings.TrimSpace(re.Reasoning),
	}
	for _, issue := range re.Issues {
		if s, ok := issue.(string); ok && strings.TrimSpace(s) != "" {
			eval.Issues = append(eval.Issues, strings.TrimSpace(s))
		}
	}
	for _, n := range re.CitedSourceNumbers {
		switch v := n.(type) {
		case float64:
			eval.CitedSourceNumbers = append(eval.CitedSourceNumbers, int(v))
		case int:
			eval.CitedSourceNumbers = append(eval.CitedSourceNumbers, v)
		}
	}
	return eval
}

func asBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(b)))
		return err == nil && parsed
	case float64:
		return b != 0
	default:
		return false
	}
}

func asFloat(v any) float64 {
	switch f := v.(type) {
	case float64:
		return f
	case int:
		return float64(f)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}

func clampConfidence(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
