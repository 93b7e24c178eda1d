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
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAccumulator(t *testing.T) ResponseAccumulator {
	t.Helper()
	// Fall back to plain memory when the environment's mlock limit is too
	// low for the secure path; both implementations share the contract.
	t.Setenv("CHATBRIDGE_INSECURE_MEMORY", "true")

	acc, err := NewResponseAccumulator()
	require.NoError(t, err)
	t.Cleanup(acc.Destroy)
	return acc
}

func TestAccumulator_WriteAndFinalize(t *testing.T) {
	acc := newTestAccumulator(t)

	require.NoError(t, acc.Write("Hello"))
	require.NoError(t, acc.Write(", "))
	require.NoError(t, acc.Write("world"))

	answer, digest, err := acc.Finalize()
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", answer)

	want := sha256.Sum256([]byte("Hello, world"))
	assert.Equal(t, hex.EncodeToString(want[:]), digest)
}

func TestAccumulator_EmptyResponse(t *testing.T) {
	acc := newTestAccumulator(t)

	answer, digest, err := acc.Finalize()
	require.NoError(t, err)
	assert.Empty(t, answer)

	want := sha256.Sum256(nil)
	assert.Equal(t, hex.EncodeToString(want[:]), digest)
}

func TestAccumulator_UnicodeChunks(t *testing.T) {
	acc := newTestAccumulator(t)

	require.NoError(t, acc.Write("héllo "))
	require.NoError(t, acc.Write("世界"))

	answer, _, err := acc.Finalize()
	require.NoError(t, err)
	assert.Equal(t, "héllo 世界", answer)
}

func TestAccumulator_Overflow(t *testing.T) {
	acc := newTestAccumulator(t)

	big := strings.Repeat("x", AccumulatorBufferSize+1)
	err := acc.Write(big)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overflow")

	// Subsequent writes and finalize stay failed.
	assert.Error(t, acc.Write("more"))
	_, _, err = acc.Finalize()
	assert.Error(t, err)
}

func TestAccumulator_OverflowAcrossWrites(t *testing.T) {
	acc := newTestAccumulator(t)

	half := strings.Repeat("x", AccumulatorBufferSize/2+1)
	require.NoError(t, acc.Write(half))
	assert.Error(t, acc.Write(half))
}

func TestAccumulator_WriteAfterFinalize(t *testing.T) {
	acc := newTestAccumulator(t)

	require.NoError(t, acc.Write("data"))
	_, _, err := acc.Finalize()
	require.NoError(t, err)

	assert.Error(t, acc.Write("late"))
	_, _, err = acc.Finalize()
	assert.Error(t, err)
}

func TestAccumulator_DestroyIdempotent(t *testing.T) {
	acc := newTestAccumulator(t)

	require.NoError(t, acc.Write("data"))
	acc.Destroy()
	acc.Destroy()

	assert.Error(t, acc.Write("after destroy"))
	_, _, err := acc.Finalize()
	assert.Error(t, err)
}
