// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package classifier

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/AleutianAI/kodiak/services/orchestrator/datatypes"
)

// modelClassification is the wire shape we ask the classification model to
// emit. Fields mirror what local models reliably produce in JSON mode.
type modelClassification struct {
	Intent     string   `json:"intent"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
	Entities   []string `json:"entities"`
	IsFollowUp bool     `json:"is_follow_up"`
}

var errNoJSONObject = errors.New("no JSON object in model response")

// parseModelResponse turns raw model output into a ClassificationResult.
//
// # Description
//
// Parsing is a fallback chain: direct JSON unmarshal, then extraction of
// the outermost {...} block (models in non-JSON mode love to wrap their
// answer in prose or code fences). An unknown intent name is coerced to
// factual with the model's confidence discounted by 0.8, since the model
// was sure of *something*, just not one of our categories. Callers that
// receive an error fall back to the safe default themselves.
func parseModelResponse(raw string) (*datatypes.ClassificationResult, error) {
	mc, err := decodeClassification(raw)
	if err != nil {
		return nil, err
	}

	intent, known := datatypes.ParseIntent(mc.Intent)
	confidence := clamp01(mc.Confidence)
	reasoning := mc.Reasoning
	if !known {
		confidence *= 0.8
		reasoning = "model returned unknown intent " + strings.TrimSpace(mc.Intent) + ", coerced to factual"
	}

	return &datatypes.ClassificationResult{
		Intent:     intent,
		Confidence: confidence,
		Reasoning:  reasoning,
		Entities:   cleanEntities(mc.Entities),
		IsFollowUp: mc.IsFollowUp,
	}, nil
}

func decodeClassification(raw string) (*modelClassification, error) {
	trimmed := strings.TrimSpace(raw)

	var mc modelClassification
	if err := json.Unmarshal([]byte(trimmed), &mc); err == nil && mc.Intent != "" {
		return &mc, nil
	}

	// Second chance: extract the outermost JSON object.
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return nil, errNoJSONObject
	}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &mc); err != nil {
		return nil, err
	}
	if mc.Intent == "" {
		return nil, errNoJSONObject
	}
	return &mc, nil
}

func cleanEntities(in []string) []string {
	var out []string
	for _, e := range in {
		e = strings.TrimSpace(e)
		if e != "" {
			out = append(out, e)
		}
	}
	return out
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
