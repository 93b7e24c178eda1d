// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// supabaseAudience is the audience Supabase sets on end-user access tokens.
const supabaseAudience = "authenticated"

// SupabaseVerifier validates Supabase-issued access tokens locally.
//
// Supabase signs end-user JWTs with the project's shared JWT secret using
// HS256 and audience "authenticated". Validating locally avoids a network
// round trip to the auth service on every request.
type SupabaseVerifier struct {
	secret []byte
}

// NewSupabaseVerifier creates a verifier for the given project JWT secret.
func NewSupabaseVerifier(jwtSecret string) (*SupabaseVerifier, error) {
	if jwtSecret == "" {
		return nil, fmt.Errorf("supabase JWT secret must not be empty")
	}
	return &SupabaseVerifier{secret: []byte(jwtSecret)}, nil
}

// Validate parses and verifies the token, returning the identity carried in
// its claims. The subject claim becomes the user id.
func (v *SupabaseVerifier) Validate(_ context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, fmt.Errorf("missing bearer token: %w", ErrUnauthorized)
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithAudience(supabaseAudience),
	)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", ErrUnauthorized)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("token missing subject: %w", ErrUnauthorized)
	}

	identity := &Identity{UserID: sub}
	if email, ok := claims["email"].(string); ok {
		identity.Email = email
	}
	if meta, ok := claims["user_metadata"].(map[string]any); ok {
		identity.Claims = meta
	}
	return identity, nil
}

var _ IdentityVerifier = (*SupabaseVerifier)(nil)
