// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"errors"
)

// ErrUnauthorized is returned (possibly wrapped) when a token fails
// validation. The middleware maps it to a 401.
var ErrUnauthorized = errors.New("unauthorized")

// AuthInfo is the identity an AuthProvider derives from a valid token.
//
// UserID is the only required field. Enterprise providers put extra
// claims in Metadata; the claim the orchestrator itself reads is
// "workspace_id", which pins the user to one tenant and overrides any
// workspace the client names in a header or request body.
type AuthInfo struct {
	// UserID uniquely identifies the authenticated user. Never empty.
	UserID string

	// Email may be empty when the provider does not supply one.
	Email string

	// Roles drive the admin-surface gate. The only role the
	// orchestrator checks is "admin".
	Roles []string

	// Metadata holds provider-specific claims.
	Metadata Metadata
}

// HasRole reports whether the user carries the given role.
func (a *AuthInfo) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthProvider validates bearer tokens.
//
// Implementations return ErrUnauthorized (or a wrap of it) for invalid
// tokens and must be safe for concurrent use.
type AuthProvider interface {
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// NopAuthProvider is the open source default: every request, with or
// without a token, authenticates as an admin "local-user". A bare
// deployment needs no identity infrastructure, and the workspace comes
// from the X-Workspace-Id header or the request body.
type NopAuthProvider struct{}

// Validate always succeeds with the local admin identity.
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{
		UserID: "local-user",
		Roles:  []string{"admin"},
	}, nil
}

var _ AuthProvider = (*NopAuthProvider)(nil)
