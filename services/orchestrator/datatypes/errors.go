// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError reports one or more field-level validation failures.
//
// The filter builder collects every failure before returning, so callers see
// all problems in a single round trip. Maps to HTTP 400.
type ValidationError struct {
	// Problems holds one human-readable message per failed field.
	Problems []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Problems, "; ")
}

// Add appends a field-level problem.
func (e *ValidationError) Add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// HasProblems reports whether any failure was recorded.
func (e *ValidationError) HasProblems() bool { return len(e.Problems) > 0 }

// IsValidationError checks if an error is a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// NotFoundError indicates a referenced conversation or workspace is missing.
// Maps to HTTP 404.
type NotFoundError struct {
	Resource string
	Id       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.Id)
}

// IsNotFound checks if an error is a *NotFoundError.
func IsNotFound(err error) bool {
	var nfe *NotFoundError
	return errors.As(err, &nfe)
}

// TimeoutError indicates the generator or judge exceeded its budget.
//
// When Partial is non-empty the caller already received usable text and the
// orchestrator returns it with an interruption suffix instead of failing.
type TimeoutError struct {
	Stage   string
	Partial string
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out: %v", e.Stage, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// IsTimeout checks if an error is a *TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// BackingStoreUnavailableError indicates the cache or stats store is
// unreachable. Never propagated to the request path; callers log it and
// degrade to no-cache/no-stats mode.
type BackingStoreUnavailableError struct {
	Store string
	Err   error
}

func (e *BackingStoreUnavailableError) Error() string {
	return fmt.Sprintf("backing store %s unavailable: %v", e.Store, e.Err)
}

func (e *BackingStoreUnavailableError) Unwrap() error { return e.Err }

// IsBackingStoreUnavailable checks if an error is a
// *BackingStoreUnavailableError.
func IsBackingStoreUnavailable(err error) bool {
	var be *BackingStoreUnavailableError
	return errors.As(err, &be)
}

// ErrJudgeParse is internal to the judge package. It is always converted to
// the safe-default JudgeEvaluation before crossing the judge boundary and is
// exported only so tests can assert the conversion happened.
var ErrJudgeParse = errors.New("judge response parse failed")
