// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package auth provides bearer-token identity verification for chatbridge.
//
// The HTTP chat endpoint authenticates callers through an IdentityVerifier.
// The WebSocket stream endpoint deliberately does not: the one-time session
// id issued by the broker is the sole credential there.
//
// Two implementations ship with the open source build:
//
//   - SupabaseVerifier: validates Supabase-issued HS256 JWTs locally using
//     the project JWT secret.
//   - NopVerifier: accepts every request as "local-user", for development
//     deployments without an identity provider.
package auth

import (
	"context"
	"errors"
)

// ErrUnauthorized is returned when token validation fails. Implementations
// should wrap it so callers can classify with errors.Is.
var ErrUnauthorized = errors.New("unauthorized")

// Identity is the verified caller identity extracted from a bearer token.
type Identity struct {
	// UserID uniquely identifies the user. Never empty on success.
	UserID string

	// Email is the user's email address, when the provider supplies one.
	Email string

	// Claims holds additional provider-specific claims (user metadata).
	Claims map[string]any
}

// IdentityVerifier validates a bearer token and returns the caller identity.
//
// Validate must be safe for concurrent use. A failed validation returns an
// error wrapping ErrUnauthorized; any other error indicates a verifier
// failure (network, misconfiguration) and is also treated as a denial by
// the middleware.
type IdentityVerifier interface {
	Validate(ctx context.Context, token string) (*Identity, error)
}

// NopVerifier authenticates every request as a fixed local user.
//
// Intended for single-user development deployments where no identity
// provider is configured. Do not use in shared environments: every caller
// owns every conversation.
type NopVerifier struct{}

// Validate always succeeds with the "local-user" identity.
func (NopVerifier) Validate(_ context.Context, _ string) (*Identity, error) {
	return &Identity{
		UserID: "local-user",
		Email:  "local@localhost",
	}, nil
}

var _ IdentityVerifier = (*NopVerifier)(nil)
