// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions defines the seams where AleutianEnterprise plugs
// into the Kodiak orchestrator without modifying it.
//
// The open source build is a complete, self-contained service: every
// extension point is either a no-op or simply absent. Enterprise builds
// inject concrete implementations through ServiceOptions at assembly
// time:
//
//	opts := extensions.DefaultOptions().
//	    WithAuth(oktaProvider).
//	    WithAuditor(splunkAuditor)
//	svc, err := server.New(cfg, &opts)
//
// # Extension points
//
//   - AuthProvider: token validation and identity claims (auth.go).
//     The claims can pin a user to a workspace, which the request
//     middleware treats as authoritative over anything the client sends.
//   - RequestAuditor: compliance trail of authenticated API requests
//     (hooks.go).
//   - ClassifierExtension: a pre-tier intent verdict, consulted before
//     the built-in pattern/keyword/model tiers (hooks.go).
//   - ContextFilter: an extra sanitization pass over retrieved document
//     text, for PII redaction and tenant-specific content policy
//     (hooks.go).
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; the orchestrator
// calls them from many request goroutines at once.
package extensions

// ServiceOptions carries the injected extension implementations.
//
// AuthProvider defaults to NopAuthProvider. The other fields default to
// nil, which disables the corresponding hook entirely; the orchestrator
// checks for nil at each call site.
type ServiceOptions struct {
	// AuthProvider validates bearer tokens on every /v1 request.
	AuthProvider AuthProvider

	// Auditor receives a record of each authenticated request.
	Auditor RequestAuditor

	// Classifier is consulted before the built-in classification tiers.
	Classifier ClassifierExtension

	// ContextFilter runs after built-in sanitization on each retrieved
	// chunk.
	ContextFilter ContextFilter
}

// DefaultOptions returns the open source configuration: permissive
// local auth, no audit trail, no extra classification or filtering.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuthProvider: &NopAuthProvider{},
	}
}

// WithAuth returns a copy of opts using the given AuthProvider.
func (opts ServiceOptions) WithAuth(provider AuthProvider) ServiceOptions {
	opts.AuthProvider = provider
	return opts
}

// WithAuditor returns a copy of opts using the given RequestAuditor.
func (opts ServiceOptions) WithAuditor(auditor RequestAuditor) ServiceOptions {
	opts.Auditor = auditor
	return opts
}

// WithClassifier returns a copy of opts using the given ClassifierExtension.
func (opts ServiceOptions) WithClassifier(ext ClassifierExtension) ServiceOptions {
	opts.Classifier = ext
	return opts
}

// WithContextFilter returns a copy of opts using the given ContextFilter.
func (opts ServiceOptions) WithContextFilter(filter ContextFilter) ServiceOptions {
	opts.ContextFilter = filter
	return opts
}
