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
	"github.com/AleutianAI/chatbridge/pkg/auth"
	"github.com/AleutianAI/chatbridge/services/chatbridge/handlers"
	"github.com/AleutianAI/chatbridge/services/chatbridge/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes registers all chatbridge endpoints on the router.
//
// The /v1 group runs behind the auth middleware. The stream socket does
// not: its one-time session id, minted by the authenticated chat
// endpoint, is the only credential a connection presents.
func SetupRoutes(router *gin.Engine, bridge handlers.ChatBridgeHandler,
	verifier auth.IdentityVerifier, enableMetrics bool) {

	router.GET("/health", handlers.HandleHealthCheck)
	if enableMetrics {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	router.GET("/ws/stream/:sessionID", bridge.HandleStreamSocket)

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(verifier))
	{
		v1.POST("/chat", bridge.HandleStartChat)
		v1.GET("/models", handlers.HandleListModels)
	}
}
