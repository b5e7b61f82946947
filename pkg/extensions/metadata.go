// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

// Metadata carries provider-specific claims on an AuthInfo. Keys are
// provider-defined; the typed getters tolerate absent keys and wrong
// types so callers never need a two-step check.
type Metadata map[string]any

// NewMetadata returns an empty claim set, for fluent construction:
//
//	NewMetadata().Set("workspace_id", "ws1").Set("mfa", true)
func NewMetadata() Metadata {
	return Metadata{}
}

// Set stores a claim and returns the map for chaining.
func (m Metadata) Set(key string, value any) Metadata {
	m[key] = value
	return m
}

// GetString returns the claim as a string. The bool is false when the
// key is absent or holds a non-string.
func (m Metadata) GetString(key string) (string, bool) {
	if m == nil {
		return "", false
	}
	s, ok := m[key].(string)
	return s, ok
}

// GetBool returns the claim as a bool, false when absent or mistyped.
func (m Metadata) GetBool(key string) (bool, bool) {
	if m == nil {
		return false, false
	}
	b, ok := m[key].(bool)
	return b, ok
}

// GetStringSlice returns the claim as a []string. Claims decoded from
// JSON arrive as []any, so that shape is converted element-wise.
func (m Metadata) GetStringSlice(key string) ([]string, bool) {
	if m == nil {
		return nil, false
	}
	switch v := m[key].(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}
