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
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/chatbridge/services/chatbridge/broker"
	"github.com/AleutianAI/chatbridge/services/chatbridge/datatypes"
	"github.com/AleutianAI/chatbridge/services/chatbridge/observability"
	"github.com/AleutianAI/chatbridge/services/llm"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
}

// Client-facing error strings for failures internal to the bridge.
// Provider errors are the exception: their text is relayed verbatim so
// the client sees what the upstream actually said.
const (
	errMsgInvalidSession  = "invalid or expired stream session"
	errMsgExpiredSession  = "stream session expired"
	errMsgHistoryLoad     = "failed to load conversation history"
	errMsgProviderFailure = "the model provider returned an error"
	errMsgResponseTooBig  = "response exceeded the maximum size"
	errMsgPersistFailure  = "failed to save the response"
	errMsgInternal        = "internal error"
)

// HandleStreamSocket serves GET /ws/stream/:sessionID connections.
//
// # Description
//
// The gateway redeems a one-time stream session and relays the model's
// reply. The flow is:
//  1. Upgrade the connection
//  2. Atomically consume the session (exactly one connection wins)
//  3. Load the conversation history through the prompt message
//  4. Open the upstream completion stream
//  5. Relay deltas as {"content": ...} frames while accumulating them
//  6. Persist the assembled reply as one assistant message
//  7. Send {"event": "chat_ended"} and close
//
// A client disconnect at any point cancels the upstream stream and
// discards the partial response; nothing is persisted. Upstream failures
// surface as one {"error": ...} frame followed by a normal close.
//
// # Security
//
// The session id in the URL is the sole credential. It was minted for an
// authenticated owner and is consumable exactly once; the bearer token
// that created it is not revalidated here.
func (h *chatBridgeHandler) HandleStreamSocket(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointWSStream
	sessionID := c.Param("sessionID")

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleStreamSocket")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", broker.TruncateID(sessionID)))

	// Step 1: Upgrade. Failures here are plain HTTP errors; the upgrader
	// has already written the response.
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "websocket upgrade failed")
		slog.Error("Failed to upgrade stream socket", "error", err)
		return
	}
	defer ws.Close()

	if m := observability.DefaultMetrics; m != nil {
		m.StreamStarted(endpoint)
		defer m.StreamEnded(endpoint)
	}

	success := false
	defer func() {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, success)
			m.RecordStreamDuration(endpoint, success, time.Since(startTime))
		}
	}()

	// Terminal bookkeeping must survive request-context cancellation,
	// which is exactly what a client disconnect causes.
	bg := context.WithoutCancel(ctx)

	// Step 2: Consume the session. Concurrent connects racing on the same
	// id resolve in the store; every loser takes this branch.
	sess, err := h.sessions.Consume(ctx, sessionID)
	if err != nil {
		msg := errMsgInvalidSession
		if errors.Is(err, broker.ErrSessionExpired) {
			msg = errMsgExpiredSession
		}
		span.SetStatus(codes.Error, "session consume failed")
		slog.Warn("Stream session rejected",
			"sessionID", broker.TruncateID(sessionID),
			"error", err,
		)
		_ = sendJSON(ws, datatypes.ErrorFrame(msg))
		closeNormal(ws)
		return
	}
	span.SetAttributes(
		attribute.Int64("conversation.id", sess.ConversationID),
		attribute.String("chat.model", sess.Model),
	)

	// Step 3: Load history through the prompt message. Messages appended
	// by other sessions after the prompt are excluded so the model sees
	// the conversation as it was when the user hit send.
	msgs, err := h.convStore.ListMessages(ctx, sess.ConversationID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "history load failed")
		slog.Error("Failed to load conversation history",
			"error", err,
			"conversationID", sess.ConversationID,
		)
		h.failStream(bg, ws, sess.ID, "history load failed: "+err.Error(), errMsgHistoryLoad)
		return
	}
	history := historyThrough(msgs, sess.PromptMessageID)

	// Step 4: Open the upstream stream. streamCtx is cancelled on client
	// disconnect so the provider stops generating.
	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()

	completion, err := h.provider.Stream(streamCtx, sess.Model, history)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider stream start failed")
		slog.Error("Failed to start completion stream",
			"error", err,
			"model", sess.Model,
			"conversationID", sess.ConversationID,
		)
		// Provider errors are relayed verbatim.
		h.failStream(bg, ws, sess.ID, "provider start failed: "+err.Error(), err.Error())
		return
	}
	defer completion.Cancel()

	acc, err := NewResponseAccumulator()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "accumulator setup failed")
		slog.Error("Failed to create response accumulator", "error", err)
		h.failStream(bg, ws, sess.ID, "accumulator setup failed: "+err.Error(), errMsgInternal)
		return
	}
	defer acc.Destroy()

	// The read pump exists only to detect disconnects; clients are not
	// expected to send data frames on this socket.
	disconnected := make(chan struct{})
	go watchDisconnect(ws, disconnected)

	// Step 5: Relay deltas until a terminal event.
	var chunkCount int
	firstChunkAt := time.Time{}

relay:
	for {
		select {
		case <-disconnected:
			completion.Cancel()
			span.SetStatus(codes.Error, "client disconnected")
			slog.Info("Stream client disconnected, discarding partial response",
				"sessionID", broker.TruncateID(sess.ID),
				"chunks", chunkCount,
			)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordDisconnect(endpoint)
			}
			h.sessions.MarkFailed(bg, sess.ID, "client disconnected")
			return

		case ev, ok := <-completion.Events():
			if !ok {
				// Provider closed without a terminal event.
				span.SetStatus(codes.Error, "provider stream truncated")
				slog.Error("Completion stream closed without terminal event",
					"sessionID", broker.TruncateID(sess.ID),
				)
				h.failStream(bg, ws, sess.ID, "provider stream truncated", errMsgProviderFailure)
				return
			}

			switch ev.Type {
			case llm.StreamEventDelta:
				if err := acc.Write(ev.Content); err != nil {
					completion.Cancel()
					span.RecordError(err)
					span.SetStatus(codes.Error, "response overflow")
					slog.Error("Response accumulation failed",
						"error", err,
						"sessionID", broker.TruncateID(sess.ID),
					)
					h.failStream(bg, ws, sess.ID, "accumulation failed: "+err.Error(), errMsgResponseTooBig)
					return
				}
				if err := sendJSON(ws, datatypes.ContentFrame(ev.Content)); err != nil {
					// Write failure is a disconnect in disguise.
					completion.Cancel()
					if m := observability.DefaultMetrics; m != nil {
						m.RecordDisconnect(endpoint)
					}
					h.sessions.MarkFailed(bg, sess.ID, "socket write failed")
					return
				}
				if chunkCount == 0 {
					firstChunkAt = time.Now()
					if m := observability.DefaultMetrics; m != nil {
						m.RecordTimeToFirstToken(endpoint, firstChunkAt.Sub(startTime))
					}
				}
				chunkCount++
				if m := observability.DefaultMetrics; m != nil {
					m.RecordToken(sess.Model)
				}

			case llm.StreamEventError:
				span.RecordError(ev.Err)
				span.SetStatus(codes.Error, "provider error")
				slog.Error("Completion stream failed",
					"error", ev.Err,
					"sessionID", broker.TruncateID(sess.ID),
					"chunks", chunkCount,
				)
				// The upstream's own message goes to the client verbatim.
				h.failStream(bg, ws, sess.ID, "provider error: "+ev.Err.Error(), ev.Err.Error())
				return

			case llm.StreamEventDone:
				break relay
			}
		}
	}

	span.SetAttributes(attribute.Int("stream.chunk_count", chunkCount))

	// Step 6: Persist the assembled reply as one assistant message.
	answer, digest, err := acc.Finalize()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "finalize failed")
		slog.Error("Failed to finalize response",
			"error", err,
			"sessionID", broker.TruncateID(sess.ID),
		)
		h.failStream(bg, ws, sess.ID, "finalize failed: "+err.Error(), errMsgInternal)
		return
	}

	if _, err := h.convStore.AppendMessage(bg, &datatypes.Message{
		ConversationID: sess.ConversationID,
		Role:           datatypes.RoleAssistant,
		Content:        answer,
		Model:          sess.Model,
	}); err != nil {
		// The client already holds the streamed content; tell it the copy
		// of record is missing rather than pretending success.
		span.RecordError(err)
		span.SetStatus(codes.Error, "response persistence failed")
		slog.Error("Failed to persist assistant message",
			"error", err,
			"conversationID", sess.ConversationID,
			"sessionID", broker.TruncateID(sess.ID),
		)
		h.failStream(bg, ws, sess.ID, "persist failed: "+err.Error(), errMsgPersistFailure)
		return
	}

	// Step 7: Signal completion and close.
	if err := sendJSON(ws, datatypes.EndedFrame()); err != nil {
		// The response is persisted; the session still completed.
		slog.Warn("Failed to send chat_ended frame",
			"error", err,
			"sessionID", broker.TruncateID(sess.ID),
		)
	}
	h.sessions.MarkCompleted(bg, sess.ID)
	closeNormal(ws)

	success = true
	span.SetAttributes(attribute.String("response.hash", digest[:16]+"..."))
	span.SetStatus(codes.Ok, "stream completed")
	slog.Info("Stream completed",
		"sessionID", broker.TruncateID(sess.ID),
		"conversationID", sess.ConversationID,
		"chunks", chunkCount,
		"answer_length", len(answer),
		"duration_ms", time.Since(startTime).Milliseconds(),
	)
}

// failStream sends one error frame, marks the session failed and closes
// the socket. reason goes to the broker and logs; clientMsg is the only
// text the socket sees.
func (h *chatBridgeHandler) failStream(ctx context.Context, ws *websocket.Conn,
	sessionID, reason, clientMsg string) {

	_ = sendJSON(ws, datatypes.ErrorFrame(clientMsg))
	h.sessions.MarkFailed(ctx, sessionID, reason)
	closeNormal(ws)
}

// watchDisconnect reads from the socket until it errors, then signals.
// Any inbound traffic is drained and ignored.
func watchDisconnect(ws *websocket.Conn, disconnected chan<- struct{}) {
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			close(disconnected)
			return
		}
	}
}

// historyThrough returns the prefix of msgs up to and including the
// message with id promptMessageID. Messages appended by concurrent
// sessions after the prompt are excluded. If the prompt is not present
// the full slice is returned.
func historyThrough(msgs []datatypes.Message, promptMessageID int64) []datatypes.Message {
	for i, msg := range msgs {
		if msg.ID == promptMessageID {
			return msgs[:i+1]
		}
	}
	return msgs
}

func sendJSON(ws *websocket.Conn, v interface{}) error {
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

// closeNormal sends a normal close frame so well-behaved clients tear
// down cleanly instead of reporting an abnormal closure.
func closeNormal(ws *websocket.Conn) {
	deadline := time.Now().Add(time.Second)
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
}
