// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the chatbridge service.
//
// # Authentication Flow
//
// The auth middleware extracts a bearer token from the Authorization header,
// validates it using the configured IdentityVerifier, and stores the
// resulting Identity in the Gin context for downstream handlers.
//
//	Request
//	   │
//	   ▼
//	AuthMiddleware
//	   │
//	   ├─► Extract token from "Authorization: Bearer <token>"
//	   │
//	   ├─► verifier.Validate(ctx, token)
//	   │
//	   └─► Store Identity in context
//	           │
//	           ▼
//	       Handler (retrieves via GetIdentity)
//
// The WebSocket stream endpoint does not go through this middleware: the
// one-time session id issued by the chat endpoint is its only credential.
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/AleutianAI/chatbridge/pkg/auth"
	"github.com/gin-gonic/gin"
)

// identityKey is the context key for storing the authenticated Identity.
// Using a namespaced key prevents collisions with other context values.
const identityKey = "chatbridge_identity"

// SetIdentity stores the authenticated user identity in the Gin context.
//
// # Description
//
// Called by AuthMiddleware after successful authentication. The stored
// Identity can be retrieved by handlers via GetIdentity.
//
// # Inputs
//
//   - c: Gin context. Must not be nil.
//   - id: Authenticated user identity. May be nil.
//
// # Thread Safety
//
// Safe to call concurrently (Gin context is request-scoped).
func SetIdentity(c *gin.Context, id *auth.Identity) {
	c.Set(identityKey, id)
}

// GetIdentity retrieves the authenticated user identity from the Gin
// context. Returns nil if the request was not authenticated or the stored
// value has the wrong type.
func GetIdentity(c *gin.Context) *auth.Identity {
	if v, exists := c.Get(identityKey); exists {
		if id, ok := v.(*auth.Identity); ok {
			return id
		}
	}
	return nil
}

// AuthMiddleware creates a Gin middleware that authenticates requests.
//
// # Description
//
// Extracts the bearer token from the Authorization header, validates it
// using the provided IdentityVerifier, and stores the resulting Identity
// in the context for downstream handlers.
//
// # Token Extraction
//
// The middleware expects tokens in the Authorization header:
//
//	Authorization: Bearer <token>
//
// If the header is missing or malformed, the token passed to Validate will
// be the empty string. NopVerifier accepts this and returns local-user;
// SupabaseVerifier rejects it.
//
// # Inputs
//
//   - verifier: IdentityVerifier to validate tokens. Must not be nil.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware function ready for use with Gin
//
// # Limitations
//
//   - Only supports Bearer token authentication
//   - Does not cache validation results (validates every request)
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func AuthMiddleware(verifier auth.IdentityVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)

		identity, err := verifier.Validate(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrUnauthorized) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "unauthorized",
				})
				return
			}
			// Verifier failures (misconfiguration, transient errors) also
			// deny access rather than letting requests through.
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication failed",
			})
			return
		}

		SetIdentity(c, identity)
		c.Next()
	}
}

// extractBearerToken extracts the token from the Authorization header.
// The "Bearer" prefix is case-insensitive per RFC 7235. Returns empty
// string if the header is missing or malformed.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	// Expected format: "Bearer <token>"
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
