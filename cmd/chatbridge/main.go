// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command chatbridge starts the streaming chat bridge HTTP server.
//
// This is the main entry point for the containerized chatbridge service.
// It reads configuration from environment variables and starts the server.
//
// # Environment Variables
//
//   - CHATBRIDGE_PORT: HTTP server port (default: 12220)
//   - CHATBRIDGE_STORE_BACKEND: conversation storage - memory, sqlite, supabase (default: sqlite)
//   - CHATBRIDGE_SQLITE_PATH: SQLite database file (default: ./chatbridge.db)
//   - SUPABASE_URL / SUPABASE_API_KEY: supabase backend settings
//   - SUPABASE_JWT_SECRET: enables Supabase JWT auth (empty = local mode)
//   - CHATBRIDGE_SESSION_BACKEND: session storage - memory, redis (default: memory)
//   - REDIS_ADDR / REDIS_PASSWORD: redis session backend settings
//   - CHATBRIDGE_SESSION_TTL_SECONDS: stream session TTL (default: 300)
//   - OPENAI_API_KEY: upstream provider credential (or /run/secrets/openai_api_key)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: aleutian-otel-collector:4317)
//
// # Usage
//
//	# Build
//	go build -o chatbridge ./cmd/chatbridge
//
//	# Run
//	./chatbridge
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/AleutianAI/chatbridge/services/chatbridge"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Build configuration from environment variables
	cfg := chatbridge.Config{
		Port:                getEnvInt("CHATBRIDGE_PORT", 12220),
		OTelEndpoint:        getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "aleutian-otel-collector:4317"),
		StoreBackend:        getEnvString("CHATBRIDGE_STORE_BACKEND", "sqlite"),
		SQLitePath:          getEnvString("CHATBRIDGE_SQLITE_PATH", "./chatbridge.db"),
		SupabaseURL:         os.Getenv("SUPABASE_URL"),
		SupabaseAPIKey:      os.Getenv("SUPABASE_API_KEY"),
		SupabaseJWTSecret:   os.Getenv("SUPABASE_JWT_SECRET"),
		SessionStoreBackend: getEnvString("CHATBRIDGE_SESSION_BACKEND", "memory"),
		RedisAddr:           getEnvString("REDIS_ADDR", "localhost:6379"),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		SessionTTL:          time.Duration(getEnvInt("CHATBRIDGE_SESSION_TTL_SECONDS", 300)) * time.Second,
	}

	slog.Info("Starting chatbridge",
		"port", cfg.Port,
		"store_backend", cfg.StoreBackend,
		"session_backend", cfg.SessionStoreBackend,
	)

	svc, err := chatbridge.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create chatbridge: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Chatbridge error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
