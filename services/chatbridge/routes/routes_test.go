// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AleutianAI/chatbridge/pkg/auth"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// nopBridge satisfies handlers.ChatBridgeHandler for route-table tests.
type nopBridge struct{}

func (nopBridge) HandleStartChat(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"handler": "chat"})
}

func (nopBridge) HandleStreamSocket(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"handler": "stream"})
}

func setupTestRouter(enableMetrics bool) *gin.Engine {
	router := gin.New()
	SetupRoutes(router, nopBridge{}, auth.NopVerifier{}, enableMetrics)
	return router
}

func TestSetupRoutes_RouteTable(t *testing.T) {
	router := setupTestRouter(true)

	routes := make(map[string]bool)
	for _, r := range router.Routes() {
		routes[r.Method+" "+r.Path] = true
	}

	expected := []string{
		"GET /health",
		"GET /metrics",
		"GET /ws/stream/:sessionID",
		"POST /v1/chat",
		"GET /v1/models",
	}
	for _, route := range expected {
		assert.True(t, routes[route], "missing route: %s", route)
	}
}

func TestSetupRoutes_MetricsDisabled(t *testing.T) {
	router := setupTestRouter(false)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSetupRoutes_HealthIsOpen(t *testing.T) {
	router := setupTestRouter(true)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestSetupRoutes_StreamSocketSkipsAuth(t *testing.T) {
	router := setupTestRouter(true)

	// No Authorization header; the session id in the path is the credential.
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws/stream/some-session", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"handler":"stream"}`, w.Body.String())
}

func TestSetupRoutes_V1RunsAuthMiddleware(t *testing.T) {
	router := setupTestRouter(true)

	// NopVerifier accepts everything, so the request reaches the handler.
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/models", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}
