// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"time"
)

// IntentOverride is a pre-tier classification verdict supplied by an
// enterprise classifier. Intent must name one of the orchestrator's
// fixed intents; unknown names are ignored and the built-in tiers run.
type IntentOverride struct {
	Intent     string
	Confidence float64
	Reasoning  string
}

// ClassifierExtension is consulted before the built-in classification
// tiers, letting deployments hard-route known query shapes (ticket ids,
// product SKUs, compliance phrasings) without a model call.
//
// Returning (nil, nil) means no opinion: the built-in tiers proceed.
// Errors are logged and treated as no opinion; the extension can never
// fail a request.
type ClassifierExtension interface {
	ClassifyIntent(ctx context.Context, query string) (*IntentOverride, error)
}

// ContextFilter is an extra pass over retrieved document text, applied
// after the built-in injection/harmful-content sanitization. Enterprise
// deployments use it for PII redaction and tenant content policy.
//
// The returned text replaces the chunk text; flags name the categories
// that fired and are recorded in the chunk's sanitization metadata. An
// error leaves the chunk as built-in sanitization produced it.
type ContextFilter interface {
	FilterContext(ctx context.Context, text string) (filtered string, flags []string, err error)
}

// RequestRecord describes one authenticated API request for the audit
// trail.
type RequestRecord struct {
	UserID      string
	WorkspaceID string
	Method      string
	Path        string
	Status      int
	Duration    time.Duration
	At          time.Time
}

// RequestAuditor receives a record after each authenticated request
// completes. Implementations must not block the request path; buffer
// and ship asynchronously.
type RequestAuditor interface {
	AuditRequest(ctx context.Context, record RequestRecord)
}
