// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval implements tenant-scoped document retrieval: filter
// compilation, multi-variant search fan-out, deduplication, reranking,
// and contextual compression.
package retrieval

import (
	"regexp"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"

	"github.com/AleutianAI/kodiak/services/orchestrator/datatypes"
)

// Index property names for document chunks.
const (
	propWorkspaceId         = "workspaceId"
	propPage                = "page"
	propHeadingPath         = "headingPath"
	propAuthor              = "author"
	propDocumentType        = "documentType"
	propClassificationLevel = "classificationLevel"
	propTags                = "tags"
	propCreatedAt           = "createdAt"
)

const (
	maxPage           = 10000
	maxPageRangeSpan  = 100
	maxDateRangeYears = 5
	maxStringFilter   = 256
	maxTags           = 10
)

// safeStringPattern is deny-by-default: letters, digits, and a small set
// of path/punctuation characters. Anything else (quotes, braces, GraphQL
// syntax) is rejected before it can reach the index query.
var safeStringPattern = regexp.MustCompile(`^[\p{L}\p{N} ._\-/:,()']+$`)

// workspaceIdPattern bounds the tenant id before it is interpolated into
// the mandatory tenant operand.
var workspaceIdPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// classificationLadder orders levels least to most restricted. A filter on
// a level expands to that level and everything below it: asking for
// "internal" documents also returns "public" ones.
var classificationLadder = []string{"public", "internal", "confidential", "restricted"}

// documentTypeAllowList enumerates the ingestable source formats.
var documentTypeAllowList = map[string]bool{
	"pdf":          true,
	"markdown":     true,
	"html":         true,
	"docx":         true,
	"text":         true,
	"spreadsheet":  true,
	"presentation": true,
}

// RetrievalFilter is a validated, tenant-scoped set of index predicates.
//
// # Description
//
// The only way to obtain one is BuildFilter, which injects the tenant
// predicate server-side; a filter without a tenant boundary is not
// constructible. Zero-valued optional fields mean "not filtered".
type RetrievalFilter struct {
	workspaceId string

	page                 int
	pageRangeStart       int
	pageRangeEnd         int
	section              string
	author               string
	documentType         string
	classificationLevels []string
	tags                 []string
	dateStart            time.Time
	dateEnd              time.Time
}

// WorkspaceId returns the tenant boundary this filter enforces.
func (f *RetrievalFilter) WorkspaceId() string { return f.workspaceId }

// BuildFilter validates caller-supplied filters and compiles them into a
// tenant-scoped RetrievalFilter.
//
// # Description
//
// The tenant id is checked first and is the only unconditional failure.
// Every optional field runs its own validator; problems are collected and
// returned together as one ValidationError instead of failing on the
// first, so the caller can fix their request in a single round trip.
//
// Inputs:
//
//	input - Caller-supplied filter fields. Unknown keys are rejected.
//	workspaceId - Tenant boundary, server-injected. Never client-settable.
func BuildFilter(input map[string]any, workspaceId string) (*RetrievalFilter, error) {
	if workspaceId == "" {
		return nil, &datatypes.ValidationError{Problems: []string{"workspace id is required"}}
	}
	if !workspaceIdPattern.MatchString(workspaceId) {
		return nil, &datatypes.ValidationError{Problems: []string{
			"workspace id must be 1-64 characters of letters, digits, underscore, or hyphen",
		}}
	}

	f := &RetrievalFilter{workspaceId: workspaceId}
	verr := &datatypes.ValidationError{}

	for key, value := range input {
		switch key {
		case "page":
			f.page = validatePage(value, verr)
		case "pageRange":
			f.pageRangeStart, f.pageRangeEnd = validatePageRange(value, verr)
		case "section":
			f.section = validateString("section", value, verr)
		case "author":
			f.author = validateString("author", value, verr)
		case "documentType":
			f.documentType = validateDocumentType(value, verr)
		case "classificationLevel":
			f.classificationLevels = validateClassificationLevel(value, verr)
		case "tags":
			f.tags = validateTags(value, verr)
		case "dateRange":
			f.dateStart, f.dateEnd = validateDateRange(value, verr)
		case "workspaceId", "tenant", "tenantId":
			verr.Add("workspace id cannot be set via filters")
		default:
			verr.Add("unknown filter field %q", key)
		}
	}

	if verr.HasProblems() {
		return nil, verr
	}
	return f, nil
}

// === Field validators ===

func validatePage(value any, verr *datatypes.ValidationError) int {
	page, ok := asInt(value)
	if !ok || page < 1 || page > maxPage {
		verr.Add("Page must be between 1 and %d", maxPage)
		return 0
	}
	return page
}

func validatePageRange(value any, verr *datatypes.ValidationError) (int, int) {
	m, ok := value.(map[string]any)
	if !ok {
		verr.Add("pageRange must be an object with start and end")
		return 0, 0
	}
	start, okS := asInt(m["start"])
	end, okE := asInt(m["end"])
	if !okS || !okE {
		verr.Add("pageRange must be an object with start and end")
		return 0, 0
	}
	if start < 1 || end > maxPage || start > end {
		verr.Add("Page range must lie within 1 to %d with start <= end", maxPage)
		return 0, 0
	}
	if end-start > maxPageRangeSpan {
		verr.Add("Page range span must not exceed %d pages", maxPageRangeSpan)
		return 0, 0
	}
	return start, end
}

func validateString(field string, value any, verr *datatypes.ValidationError) string {
	s, ok := value.(string)
	if !ok || s == "" || len(s) > maxStringFilter || !safeStringPattern.MatchString(s) {
		verr.Add("%s must be a non-empty string of at most %d allowed characters", field, maxStringFilter)
		return ""
	}
	return s
}

func validateDocumentType(value any, verr *datatypes.ValidationError) string {
	s, ok := value.(string)
	if !ok || !documentTypeAllowList[s] {
		verr.Add("documentType must be one of the supported types, got %v", value)
		return ""
	}
	return s
}

// validateClassificationLevel expands the requested level to the OR-set of
// all levels at or below it on the ladder.
func validateClassificationLevel(value any, verr *datatypes.ValidationError) []string {
	s, ok := value.(string)
	if !ok {
		verr.Add("classificationLevel must be a string")
		return nil
	}
	for i, level := range classificationLadder {
		if level == s {
			out := make([]string, i+1)
			copy(out, classificationLadder[:i+1])
			return out
		}
	}
	verr.Add("classificationLevel must be one of %v", classificationLadder)
	return nil
}

func validateTags(value any, verr *datatypes.ValidationError) []string {
	raw, ok := value.([]any)
	if !ok {
		if typed, okT := value.([]string); okT {
			raw = make([]any, len(typed))
			for i, t := range typed {
				raw[i] = t
			}
		} else {
			verr.Add("tags must be an array of strings")
			return nil
		}
	}
	if len(raw) > maxTags {
		verr.Add("at most %d tags may be supplied", maxTags)
		return nil
	}
	var tags []string
	for _, item := range raw {
		s, okS := item.(string)
		if !okS || s == "" || len(s) > maxStringFilter || !safeStringPattern.MatchString(s) {
			verr.Add("invalid tag %v", item)
			continue
		}
		tags = append(tags, s)
	}
	return tags
}

func validateDateRange(value any, verr *datatypes.ValidationError) (time.Time, time.Time) {
	m, ok := value.(map[string]any)
	if !ok {
		verr.Add("dateRange must be an object with start and end dates")
		return time.Time{}, time.Time{}
	}
	start, okS := asTime(m["start"])
	end, okE := asTime(m["end"])
	if !okS || !okE {
		verr.Add("dateRange start and end must be RFC 3339 timestamps")
		return time.Time{}, time.Time{}
	}
	if end.Before(start) {
		verr.Add("dateRange end must not precede start")
		return time.Time{}, time.Time{}
	}
	if end.Sub(start) > maxDateRangeYears*365*24*time.Hour {
		verr.Add("Date range span must not exceed %d years", maxDateRangeYears)
		return time.Time{}, time.Time{}
	}
	return start, end
}

func asInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != float64(int(v)) {
			return 0, false
		}
		return int(v), true
	default:
		return 0, false
	}
}

func asTime(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t, true
		}
		if t, err := time.Parse("2006-01-02", v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Where compiles the filter into a Weaviate where clause. The tenant
// predicate is always the first AND operand.
func (f *RetrievalFilter) Where() *filters.WhereBuilder {
	operands := []*filters.WhereBuilder{
		filters.Where().
			WithPath([]string{propWorkspaceId}).
			WithOperator(filters.Equal).
			WithValueText(f.workspaceId),
	}

	if f.page > 0 {
		operands = append(operands, filters.Where().
			WithPath([]string{propPage}).
			WithOperator(filters.Equal).
			WithValueInt(int64(f.page)))
	}
	if f.pageRangeStart > 0 {
		operands = append(operands,
			filters.Where().
				WithPath([]string{propPage}).
				WithOperator(filters.GreaterThanEqual).
				WithValueInt(int64(f.pageRangeStart)),
			filters.Where().
				WithPath([]string{propPage}).
				WithOperator(filters.LessThanEqual).
				WithValueInt(int64(f.pageRangeEnd)))
	}
	if f.section != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{propHeadingPath}).
			WithOperator(filters.Like).
			WithValueText("*"+f.section+"*"))
	}
	if f.author != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{propAuthor}).
			WithOperator(filters.Equal).
			WithValueText(f.author))
	}
	if f.documentType != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{propDocumentType}).
			WithOperator(filters.Equal).
			WithValueText(f.documentType))
	}
	if len(f.classificationLevels) > 0 {
		operands = append(operands, filters.Where().
			WithPath([]string{propClassificationLevel}).
			WithOperator(filters.ContainsAny).
			WithValueText(f.classificationLevels...))
	}
	if len(f.tags) > 0 {
		operands = append(operands, filters.Where().
			WithPath([]string{propTags}).
			WithOperator(filters.ContainsAny).
			WithValueText(f.tags...))
	}
	if !f.dateStart.IsZero() {
		operands = append(operands,
			filters.Where().
				WithPath([]string{propCreatedAt}).
				WithOperator(filters.GreaterThanEqual).
				WithValueDate(f.dateStart),
			filters.Where().
				WithPath([]string{propCreatedAt}).
				WithOperator(filters.LessThanEqual).
				WithValueDate(f.dateEnd))
	}

	if len(operands) == 1 {
		return operands[0]
	}
	return filters.Where().WithOperator(filters.And).WithOperands(operands)
}
