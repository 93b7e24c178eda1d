// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package chatbridge provides the streaming chat bridge service.
//
// The service accepts chat messages over HTTP, persists them, and
// delivers the model's streamed reply over a one-time WebSocket session.
// This package wires the pieces together: conversation storage, the
// session broker with its background reaper, the upstream completion
// provider, authentication, HTTP routing, and observability.
//
// # Usage
//
//	cfg := chatbridge.Config{Port: 12220}
//	svc, err := chatbridge.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package chatbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AleutianAI/chatbridge/pkg/auth"
	"github.com/AleutianAI/chatbridge/services/chatbridge/broker"
	"github.com/AleutianAI/chatbridge/services/chatbridge/handlers"
	"github.com/AleutianAI/chatbridge/services/chatbridge/observability"
	"github.com/AleutianAI/chatbridge/services/chatbridge/routes"
	"github.com/AleutianAI/chatbridge/services/chatbridge/store"
	"github.com/AleutianAI/chatbridge/services/llm"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Service defines the contract for the chatbridge service.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and
// should only be called once per instance.
type Service interface {
	// Run starts the HTTP server and the session reaper and blocks until
	// a shutdown signal or fatal error.
	Run() error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine
}

// Config holds chatbridge configuration options.
//
// All fields are optional; New() applies defaults for zero values.
type Config struct {
	// Port is the HTTP server port. Default: 12220
	Port int

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "aleutian-otel-collector:4317"
	OTelEndpoint string

	// EnableMetrics enables the Prometheus /metrics endpoint.
	// Default: true
	EnableMetrics bool

	// GinMode sets the Gin framework mode ("debug", "release", "test").
	// Default: uses GIN_MODE env var or "debug"
	GinMode string

	// StoreBackend selects conversation storage.
	// Valid values: "memory", "sqlite", "supabase". Default: "sqlite"
	StoreBackend string

	// SQLitePath is the database file for the sqlite backend.
	// Default: "./chatbridge.db"
	SQLitePath string

	// SupabaseURL and SupabaseAPIKey configure the supabase backend.
	SupabaseURL    string
	SupabaseAPIKey string

	// SupabaseJWTSecret enables Supabase token verification on /v1
	// routes. Empty means local mode: every request runs as "local-user".
	SupabaseJWTSecret string

	// SessionStoreBackend selects stream session storage.
	// Valid values: "memory", "redis". Default: "memory"
	SessionStoreBackend string

	// RedisAddr is the Redis address for the redis session backend.
	// Example: "localhost:6379"
	RedisAddr string

	// RedisPassword is the optional Redis auth password.
	RedisPassword string

	// SessionTTL bounds how long a minted stream session stays
	// redeemable. Default: 5 minutes.
	SessionTTL time.Duration

	// ReapInterval is how often abandoned sessions are swept.
	// Default: 30 seconds.
	ReapInterval time.Duration
}

// service implements Service for production use. All fields are read-only
// after New() returns.
type service struct {
	config        Config
	router        *gin.Engine
	convStore     store.ConversationStore
	sessionStore  broker.SessionStore
	sessions      *broker.Broker
	provider      llm.CompletionProvider
	verifier      auth.IdentityVerifier
	tracerCleanup func(context.Context)
}

// New creates a chatbridge Service with the given configuration.
//
// # Description
//
// New initializes all components:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing
//  3. Initializes Prometheus metrics
//  4. Opens the conversation store
//  5. Creates the session store and broker
//  6. Creates the completion provider
//  7. Builds the identity verifier
//  8. Sets up HTTP routes
//
// # Outputs
//
//   - Service: ready-to-run chatbridge service
//   - error: non-nil if initialization fails
func New(cfg Config) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	if s.config.EnableMetrics {
		observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics for streaming")
	}

	if err := s.initConversationStore(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize conversation store: %w", err)
	}

	if err := s.initSessionBroker(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize session broker: %w", err)
	}

	s.provider, err = llm.NewOpenAIProvider()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize completion provider: %w", err)
	}

	if err := s.initVerifier(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize identity verifier: %w", err)
	}

	s.initRouter()

	return s, nil
}

// Run starts the HTTP server and the session reaper. Blocks until SIGINT,
// SIGTERM or a fatal server error, then shuts down gracefully.
func (s *service) Run() error {
	defer s.cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: s.router,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Starting chatbridge server", "port", s.config.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		if err := s.sessions.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		slog.Info("Shutting down chatbridge server")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Router returns the underlying Gin engine for testing. Callers must not
// modify routes after construction.
func (s *service) Router() *gin.Engine {
	return s.router
}

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12220
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "aleutian-otel-collector:4317"
	}
	cfg.EnableMetrics = true

	if cfg.StoreBackend == "" {
		cfg.StoreBackend = "sqlite"
	}
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = "./chatbridge.db"
	}
	if cfg.SessionStoreBackend == "" {
		cfg.SessionStoreBackend = "memory"
	}
	return cfg
}

// initTracer initializes OpenTelemetry distributed tracing over an
// insecure gRPC connection (appropriate for internal networks).
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("chatbridge-service")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initConversationStore opens the configured conversation store backend.
func (s *service) initConversationStore() error {
	var err error

	switch s.config.StoreBackend {
	case "memory":
		s.convStore = store.NewMemoryStore()
		slog.Info("Using in-memory conversation store")
	case "sqlite":
		s.convStore, err = store.OpenSQLite(s.config.SQLitePath)
		slog.Info("Using SQLite conversation store", "path", s.config.SQLitePath)
	case "supabase":
		s.convStore, err = store.NewSupabaseStore(store.SupabaseConfig{
			URL:    s.config.SupabaseURL,
			APIKey: s.config.SupabaseAPIKey,
		})
		slog.Info("Using Supabase conversation store", "url", s.config.SupabaseURL)
	default:
		return fmt.Errorf("unknown store backend %q", s.config.StoreBackend)
	}

	return err
}

// initSessionBroker creates the stream session store and broker.
func (s *service) initSessionBroker() error {
	var (
		sessionStore broker.SessionStore
		err          error
	)

	switch s.config.SessionStoreBackend {
	case "memory":
		sessionStore, err = broker.NewStore(broker.StoreTypeMemory)
		slog.Info("Using in-memory session store")
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     s.config.RedisAddr,
			Password: s.config.RedisPassword,
		})
		sessionStore, err = broker.NewStore(broker.StoreTypeRedis,
			broker.WithRedisClient(client))
		slog.Info("Using Redis session store", "addr", s.config.RedisAddr)
	default:
		return fmt.Errorf("unknown session store backend %q", s.config.SessionStoreBackend)
	}
	if err != nil {
		return err
	}
	s.sessionStore = sessionStore

	var opts []broker.Option
	if s.config.SessionTTL > 0 {
		opts = append(opts, broker.WithTTL(s.config.SessionTTL))
	}
	if s.config.ReapInterval > 0 {
		opts = append(opts, broker.WithReapInterval(s.config.ReapInterval))
	}
	s.sessions = broker.New(sessionStore, opts...)
	return nil
}

// initVerifier builds the identity verifier. Without a Supabase JWT
// secret the service runs in local mode and authenticates every request
// as "local-user".
func (s *service) initVerifier() error {
	if s.config.SupabaseJWTSecret == "" {
		s.verifier = &auth.NopVerifier{}
		slog.Warn("No JWT secret configured, running with local-user authentication")
		return nil
	}

	verifier, err := auth.NewSupabaseVerifier(s.config.SupabaseJWTSecret)
	if err != nil {
		return err
	}
	s.verifier = verifier
	slog.Info("Using Supabase JWT authentication")
	return nil
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("chatbridge-service"))

	bridge := handlers.NewChatBridgeHandler(s.convStore, s.sessions, s.provider)
	routes.SetupRoutes(s.router, bridge, s.verifier, s.config.EnableMetrics)
}

// cleanup releases all resources held by the service.
func (s *service) cleanup() {
	if s.sessionStore != nil {
		if err := s.sessionStore.Close(); err != nil {
			slog.Warn("Session store close error", "error", err)
		}
	}
	if s.convStore != nil {
		if err := s.convStore.Close(); err != nil {
			slog.Warn("Conversation store close error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
	handlers.PurgeAllSecureMemory()
}

var _ Service = (*service)(nil)
