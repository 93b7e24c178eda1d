// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitMetrics_Idempotent(t *testing.T) {
	first := InitMetrics()
	require.NotNil(t, first)
	assert.Same(t, first, InitMetrics())
	assert.Same(t, first, DefaultMetrics)
}

func TestNilReceiverIsSafe(t *testing.T) {
	var m *StreamingMetrics

	assert.NotPanics(t, func() {
		m.RecordRequest(EndpointChat, true)
		m.RecordToken("gpt-4o")
		m.RecordTimeToFirstToken(EndpointWSStream, time.Second)
		m.RecordStreamDuration(EndpointWSStream, false, time.Second)
		m.StreamStarted(EndpointWSStream)
		m.StreamEnded(EndpointWSStream)
		m.RecordDisconnect(EndpointWSStream)
		m.RecordSession("created")
		m.RecordSessions("expired", 3)
	})
}

func TestRecordSessions(t *testing.T) {
	m := InitMetrics()

	before := testutil.ToFloat64(m.SessionsTotal.WithLabelValues("expired"))
	m.RecordSessions("expired", 4)
	m.RecordSessions("expired", 0)
	m.RecordSessions("expired", -2)
	after := testutil.ToFloat64(m.SessionsTotal.WithLabelValues("expired"))

	assert.Equal(t, 4.0, after-before, "only positive counts are recorded")
}

func TestRecordRequestStatusLabel(t *testing.T) {
	m := InitMetrics()

	okBefore := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("chat", "success"))
	errBefore := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("chat", "error"))

	m.RecordRequest(EndpointChat, true)
	m.RecordRequest(EndpointChat, false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("chat", "success"))-okBefore)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("chat", "error"))-errBefore)
}

func TestActiveStreamsGauge(t *testing.T) {
	m := InitMetrics()

	base := testutil.ToFloat64(m.ActiveStreams.WithLabelValues("ws_stream"))
	m.StreamStarted(EndpointWSStream)
	m.StreamStarted(EndpointWSStream)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActiveStreams.WithLabelValues("ws_stream"))-base)

	m.StreamEnded(EndpointWSStream)
	m.StreamEnded(EndpointWSStream)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveStreams.WithLabelValues("ws_stream"))-base)
}
