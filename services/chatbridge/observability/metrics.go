// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the chatbridge
// streaming core.
package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "chatbridge"

const streamingSubsystem = "streaming"

// Endpoint labels a metrics series with its originating endpoint.
type Endpoint string

const (
	EndpointChat     Endpoint = "chat"
	EndpointWSStream Endpoint = "ws_stream"
)

// StreamingMetrics holds all metrics for the streaming chat bridge.
// All record helpers are safe on a nil receiver so callers never have to
// guard against metrics being disabled.
type StreamingMetrics struct {
	// RequestsTotal counts requests by endpoint and status.
	RequestsTotal *prometheus.CounterVec

	// TokensTotal counts streamed output chunks by model.
	TokensTotal *prometheus.CounterVec

	// TimeToFirstTokenSeconds measures latency to first delivered chunk.
	TimeToFirstTokenSeconds *prometheus.HistogramVec

	// StreamDurationSeconds measures total stream duration.
	StreamDurationSeconds *prometheus.HistogramVec

	// ActiveStreams tracks currently open streaming connections.
	ActiveStreams *prometheus.GaugeVec

	// ClientDisconnectsTotal counts client disconnections mid-stream.
	ClientDisconnectsTotal *prometheus.CounterVec

	// SessionsTotal counts stream session transitions.
	// Labels: state (created, consumed, completed, failed, expired)
	SessionsTotal *prometheus.CounterVec
}

// DefaultMetrics is the process-wide metrics instance. Nil until
// InitMetrics runs; all helpers tolerate that.
var DefaultMetrics *StreamingMetrics

var initOnce sync.Once

// InitMetrics initializes and registers the default metrics instance.
// Safe to call more than once; registration happens exactly once.
func InitMetrics() *StreamingMetrics {
	initOnce.Do(func() {
		DefaultMetrics = &StreamingMetrics{
			RequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: streamingSubsystem,
					Name:      "requests_total",
					Help:      "Total number of requests by endpoint and status",
				},
				[]string{"endpoint", "status"},
			),

			TokensTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: streamingSubsystem,
					Name:      "tokens_total",
					Help:      "Total streamed output chunks by model",
				},
				[]string{"model"},
			),

			TimeToFirstTokenSeconds: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: metricsNamespace,
					Subsystem: streamingSubsystem,
					Name:      "time_to_first_token_seconds",
					Help:      "Time from socket accept to first content frame",
					Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
				},
				[]string{"endpoint"},
			),

			StreamDurationSeconds: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: metricsNamespace,
					Subsystem: streamingSubsystem,
					Name:      "stream_duration_seconds",
					Help:      "Total stream duration in seconds",
					Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
				},
				[]string{"endpoint", "status"},
			),

			ActiveStreams: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: metricsNamespace,
					Subsystem: streamingSubsystem,
					Name:      "active_streams",
					Help:      "Number of currently active streaming connections",
				},
				[]string{"endpoint"},
			),

			ClientDisconnectsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: streamingSubsystem,
					Name:      "client_disconnects_total",
					Help:      "Client disconnections during streaming",
				},
				[]string{"endpoint"},
			),

			SessionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: streamingSubsystem,
					Name:      "sessions_total",
					Help:      "Stream session transitions by state",
				},
				[]string{"state"},
			),
		}
	})
	return DefaultMetrics
}

// RecordRequest records a completed request.
func (m *StreamingMetrics) RecordRequest(endpoint Endpoint, success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.RequestsTotal.WithLabelValues(string(endpoint), status).Inc()
}

// RecordToken counts one streamed output chunk.
func (m *StreamingMetrics) RecordToken(model string) {
	if m == nil {
		return
	}
	m.TokensTotal.WithLabelValues(model).Inc()
}

// RecordTimeToFirstToken records latency to the first content frame.
func (m *StreamingMetrics) RecordTimeToFirstToken(endpoint Endpoint, d time.Duration) {
	if m == nil {
		return
	}
	m.TimeToFirstTokenSeconds.WithLabelValues(string(endpoint)).Observe(d.Seconds())
}

// RecordStreamDuration records the total duration of one stream.
func (m *StreamingMetrics) RecordStreamDuration(endpoint Endpoint, success bool, d time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.StreamDurationSeconds.WithLabelValues(string(endpoint), status).Observe(d.Seconds())
}

// StreamStarted increments the active stream gauge.
func (m *StreamingMetrics) StreamStarted(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

// StreamEnded decrements the active stream gauge.
func (m *StreamingMetrics) StreamEnded(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
}

// RecordDisconnect counts one mid-stream client disconnect.
func (m *StreamingMetrics) RecordDisconnect(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ClientDisconnectsTotal.WithLabelValues(string(endpoint)).Inc()
}

// RecordSession counts one session state transition.
func (m *StreamingMetrics) RecordSession(state string) {
	m.RecordSessions(state, 1)
}

// RecordSessions counts n session state transitions at once.
func (m *StreamingMetrics) RecordSessions(state string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsTotal.WithLabelValues(state).Add(float64(n))
}
