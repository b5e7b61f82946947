// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package safety neutralizes prompt-injection and harmful content in
// retrieved documents before they reach the generator.
//
// Retrieved text is untrusted input: a document in the corpus can carry
// instructions aimed at the model. Sanitization replaces matches with
// visible placeholders instead of deleting them silently, and records
// what fired in the chunk metadata so blocked content is observable.
package safety

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/kodiak/pkg/extensions"
	"github.com/AleutianAI/kodiak/services/orchestrator/datatypes"
)

// Context boundary markers. Every prompt sent to the generator wraps
// retrieved text in these; the generator's system prompt tells it to treat
// everything between them as data, never as instructions.
const (
	BeginContextMarker = "[BEGIN RETRIEVED CONTEXT]"
	EndContextMarker   = "[END RETRIEVED CONTEXT]"
)

var sanitizationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "kodiak",
	Subsystem: "safety",
	Name:      "sanitizations_total",
	Help:      "Pattern matches replaced during context sanitization, by category.",
}, []string{"category"})

// sanitizeRule is one pattern family member. Category names appear inside
// the placeholder text, so they are short and lowercase.
type sanitizeRule struct {
	category string
	re       *regexp.Regexp
}

// === Injection patterns ===
//
// Phrasing that tries to redirect the model rather than inform it.
var injectionRules = []sanitizeRule{
	{"instruction_override", regexp.MustCompile(`(?i)(ignore|disregard|forget)\s+(all\s+|any\s+)?(previous|prior|above|earlier)\s+(instructions?|prompts?|rules?|context)`)},
	{"instruction_override", regexp.MustCompile(`(?i)\bnew\s+instructions?\s*:\s*`)},
	{"role_manipulation", regexp.MustCompile(`(?i)\byou\s+are\s+(now|no\s+longer)\s+(a|an|the)?\s*\w+`)},
	{"role_manipulation", regexp.MustCompile(`(?i)\b(act|pretend|roleplay)\s+as\s+(if\s+you\s+are\s+)?(a|an|the)?\s*\w+`)},
	{"prompt_extraction", regexp.MustCompile(`(?i)(reveal|show|print|repeat|output)\s+(your|the)\s+(system\s+)?(prompt|instructions?)`)},
	{"jailbreak", regexp.MustCompile(`(?i)\b(DAN\s+mode|developer\s+mode|jailbreak|do\s+anything\s+now)\b`)},
	{"embedded_code", regexp.MustCompile(`(?is)<script\b.*?(</script>|$)`)},
	{"embedded_code", regexp.MustCompile("(?i)```\\s*(system|assistant)\\b")},
}

// === Harmful-content patterns ===
//
// Payloads that abuse the prompt channel or the downstream renderer.
var harmfulRules = []sanitizeRule{
	{"base64_blob", regexp.MustCompile(`[A-Za-z0-9+/]{200,}={0,2}`)},
	{"unbroken_run", regexp.MustCompile(`\S{500,}`)},
	{"dangerous_html", regexp.MustCompile(`(?i)<(iframe|object|embed|form|meta|link)\b[^>]*>`)},
	{"malicious_link", regexp.MustCompile(`(?i)\[[^\]]*\]\(\s*(javascript|data|vbscript):[^)]*\)`)},
}

// Sanitize neutralizes hostile patterns in one document.
//
// # Description
//
// Runs both pattern families over the chunk text, replacing each match
// with an inert "[FILTERED:category]" placeholder. The categories that
// fired are appended to metadata SanitizationFlags. Never fails; a clean
// document passes through with only a copy.
func Sanitize(doc datatypes.Document) datatypes.Document {
	doc.Text, doc.Metadata.SanitizationFlags = sanitizeText(doc.Text, doc.Metadata.SanitizationFlags)
	if doc.CompressedText != "" {
		doc.CompressedText, doc.Metadata.SanitizationFlags = sanitizeText(doc.CompressedText, doc.Metadata.SanitizationFlags)
	}
	return doc
}

// SanitizeAll sanitizes a slice of documents, returning new values.
func SanitizeAll(docs []datatypes.Document) []datatypes.Document {
	out := make([]datatypes.Document, len(docs))
	for i, doc := range docs {
		out[i] = Sanitize(doc)
	}
	return out
}

// SanitizeAllWith runs built-in sanitization and then the optional
// extension filter over each document. A nil filter is equivalent to
// SanitizeAll.
func SanitizeAllWith(ctx context.Context, filter extensions.ContextFilter, docs []datatypes.Document) []datatypes.Document {
	out := make([]datatypes.Document, len(docs))
	for i, doc := range docs {
		out[i] = sanitizeWith(ctx, filter, doc)
	}
	return out
}

// sanitizeWith applies the extension filter after the built-in pass.
// Filter errors leave the chunk as built-in sanitization produced it;
// the extension can degrade but never fail retrieval.
func sanitizeWith(ctx context.Context, filter extensions.ContextFilter, doc datatypes.Document) datatypes.Document {
	doc = Sanitize(doc)
	if filter == nil {
		return doc
	}

	filtered, flags, err := filter.FilterContext(ctx, doc.Text)
	if err != nil {
		slog.Warn("context filter extension failed, keeping built-in sanitization", "error", err)
		return doc
	}
	doc.Text = filtered
	doc.Metadata.SanitizationFlags = appendNewFlags(doc.Metadata.SanitizationFlags, flags)

	if doc.CompressedText != "" {
		filtered, flags, err = filter.FilterContext(ctx, doc.CompressedText)
		if err != nil {
			slog.Warn("context filter extension failed on compressed text", "error", err)
			return doc
		}
		doc.CompressedText = filtered
		doc.Metadata.SanitizationFlags = appendNewFlags(doc.Metadata.SanitizationFlags, flags)
	}
	return doc
}

func appendNewFlags(flags, extra []string) []string {
	seen := make(map[string]bool, len(flags))
	for _, f := range flags {
		seen[f] = true
	}
	for _, f := range extra {
		if f != "" && !seen[f] {
			seen[f] = true
			flags = append(flags, f)
		}
	}
	return flags
}

func sanitizeText(text string, flags []string) (string, []string) {
	seen := make(map[string]bool, len(flags))
	for _, f := range flags {
		seen[f] = true
	}

	for _, rule := range append(append([]sanitizeRule{}, injectionRules...), harmfulRules...) {
		if !rule.re.MatchString(text) {
			continue
		}
		text = rule.re.ReplaceAllString(text, fmt.Sprintf("[FILTERED:%s]", rule.category))
		sanitizationsTotal.WithLabelValues(rule.category).Inc()
		if !seen[rule.category] {
			seen[rule.category] = true
			flags = append(flags, rule.category)
		}
	}
	return text, flags
}

// WrapContext wraps the assembled context block in explicit boundary
// markers. Every prompt sent to the generator carries these.
func WrapContext(context string) string {
	var b strings.Builder
	b.Grow(len(context) + len(BeginContextMarker) + len(EndContextMarker) + 2)
	b.WriteString(BeginContextMarker)
	b.WriteString("\n")
	b.WriteString(context)
	b.WriteString("\n")
	b.WriteString(EndContextMarker)
	return b.String()
}
