// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/AleutianAI/chatbridge/services/chatbridge/broker"
	"github.com/AleutianAI/chatbridge/services/chatbridge/datatypes"
	"github.com/AleutianAI/chatbridge/services/chatbridge/middleware"
	"github.com/AleutianAI/chatbridge/services/chatbridge/observability"
	"github.com/AleutianAI/chatbridge/services/chatbridge/store"
	"github.com/AleutianAI/chatbridge/services/llm"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ChatBridgeHandler defines the contract for the streaming chat bridge
// endpoints.
//
// # Description
//
// The bridge splits one logical "send message and stream the reply"
// interaction across two transports: HandleStartChat persists the user
// message over plain HTTP and mints a one-time stream session, and
// HandleStreamSocket redeems that session over a WebSocket to deliver the
// model's reply.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use by multiple goroutines.
type ChatBridgeHandler interface {
	// HandleStartChat processes POST /v1/chat requests.
	HandleStartChat(c *gin.Context)

	// HandleStreamSocket serves GET /ws/stream/:sessionID connections.
	HandleStreamSocket(c *gin.Context)
}

// chatBridgeHandler implements ChatBridgeHandler for production use.
//
// All fields are read-only after construction; there is no shared mutable
// state between requests beyond what the broker and store guard
// themselves.
type chatBridgeHandler struct {
	convStore store.ConversationStore
	sessions  *broker.Broker
	provider  llm.CompletionProvider
	tracer    trace.Tracer
}

// NewChatBridgeHandler creates a ChatBridgeHandler with the provided
// dependencies. Panics on nil dependencies (programming errors).
func NewChatBridgeHandler(
	convStore store.ConversationStore,
	sessions *broker.Broker,
	provider llm.CompletionProvider,
) ChatBridgeHandler {
	if convStore == nil {
		panic("NewChatBridgeHandler: convStore must not be nil")
	}
	if sessions == nil {
		panic("NewChatBridgeHandler: sessions must not be nil")
	}
	if provider == nil {
		panic("NewChatBridgeHandler: provider must not be nil")
	}
	return &chatBridgeHandler{
		convStore: convStore,
		sessions:  sessions,
		provider:  provider,
		tracer:    otel.Tracer("aleutian.chatbridge.handlers"),
	}
}

// HandleStartChat processes POST /v1/chat requests.
//
// # Description
//
// The flow is:
//  1. Resolve the authenticated user (auth middleware ran already)
//  2. Parse and validate the request body
//  3. Load the conversation and check ownership
//  4. Resolve and validate the model
//  5. Persist the user message
//  6. Mint a one-time stream session
//  7. Return the WebSocket URL carrying the session id
//
// The user message is persisted before the session is minted, so a
// session always references a message that exists. If persistence fails
// no session is created and the client may safely resend.
//
// # Outputs
//
// HTTP Status:
//   - 200 OK: {"ws_url": "ws://host/ws/stream/<session-id>"}
//   - 400 Bad Request: invalid body, empty content, or unknown model
//   - 401 Unauthorized: no authenticated user
//   - 403 Forbidden: conversation belongs to another user
//   - 404 Not Found: conversation does not exist
//   - 500 Internal Server Error: store or broker failure
func (h *chatBridgeHandler) HandleStartChat(c *gin.Context) {
	endpoint := observability.EndpointChat

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleStartChat")
	defer span.End()

	success := false
	defer func() {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, success)
		}
	}()

	// Step 1: Resolve the authenticated user.
	identity := middleware.GetIdentity(c)
	if identity == nil {
		span.SetStatus(codes.Error, "no authenticated user")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	span.SetAttributes(attribute.String("user.id", identity.UserID))

	// Step 2: Parse and validate the request body.
	var req datatypes.ChatRequest
	if err := c.BindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		slog.Error("Failed to parse chat request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		slog.Warn("Chat request validation failed",
			"error", err,
			"conversationID", req.ConversationID,
		)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: validation failed"})
		return
	}
	span.SetAttributes(attribute.Int64("conversation.id", req.ConversationID))

	// Step 3: Load the conversation and check ownership.
	conv, err := h.convStore.GetConversation(ctx, req.ConversationID)
	if err != nil {
		if errors.Is(err, store.ErrConversationNotFound) {
			span.SetStatus(codes.Error, "conversation not found")
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "conversation lookup failed")
		slog.Error("Failed to load conversation",
			"error", err,
			"conversationID", req.ConversationID,
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversation"})
		return
	}
	if conv.UserID != identity.UserID {
		// The body deliberately does not confirm the conversation exists.
		span.SetStatus(codes.Error, "conversation owned by another user")
		slog.Warn("Chat request for conversation owned by another user",
			"conversationID", req.ConversationID,
			"userID", identity.UserID,
		)
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
		return
	}

	// Step 4: Resolve and validate the model.
	model := req.Model
	if model == "" {
		model = conv.Model
	}
	if model == "" {
		model = datatypes.DefaultModel
	}
	if !datatypes.IsValidModel(model) {
		span.SetStatus(codes.Error, "invalid model")
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("invalid model %q", model),
		})
		return
	}
	span.SetAttributes(attribute.String("chat.model", model))

	// Step 5: Persist the user message. Failure here means no session is
	// minted: the client can resend without creating an orphaned stream.
	userMsg, err := h.convStore.AppendMessage(ctx, &datatypes.Message{
		ConversationID: conv.ID,
		Role:           datatypes.RoleUser,
		Content:        req.Content,
		Model:          model,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "message persistence failed")
		slog.Error("Failed to persist user message",
			"error", err,
			"conversationID", conv.ID,
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save message"})
		return
	}

	// Step 6: Mint a one-time stream session bound to the saved message.
	sessionID, err := h.sessions.Create(ctx, conv.ID, identity.UserID, userMsg.ID, model)
	if err != nil {
		// The user message stays persisted; the client's retry resends the
		// content and gets a fresh message plus a fresh session.
		span.RecordError(err)
		span.SetStatus(codes.Error, "session creation failed")
		slog.Error("Failed to create stream session",
			"error", err,
			"conversationID", conv.ID,
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create stream session"})
		return
	}

	// Step 7: Return the socket URL. The session id inside it is the sole
	// credential for the stream, so the URL itself is a secret.
	success = true
	span.SetStatus(codes.Ok, "chat started")
	c.JSON(http.StatusOK, datatypes.ChatResponse{
		WSURL: buildWSURL(c, sessionID),
	})
}

// buildWSURL derives the WebSocket URL for a stream session from the
// incoming request, honoring reverse-proxy forwarding headers.
func buildWSURL(c *gin.Context, sessionID string) string {
	scheme := "ws"
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		if strings.EqualFold(proto, "https") {
			scheme = "wss"
		}
	} else if c.Request.TLS != nil {
		scheme = "wss"
	}

	host := c.GetHeader("X-Forwarded-Host")
	if host == "" {
		host = c.Request.Host
	}

	return fmt.Sprintf("%s://%s/ws/stream/%s", scheme, host, sessionID)
}
