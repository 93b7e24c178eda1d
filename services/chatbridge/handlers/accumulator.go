// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers provides HTTP and WebSocket request handlers for the
// chatbridge service.
//
// This file implements response accumulation for streaming completions.
// Chunks are stored in mlocked memory to prevent swapping to disk and are
// incrementally hashed for integrity verification.
package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"log/slog"
	"os"
	"sync"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

const (
	// AccumulatorBufferSize is the size of the mlocked buffer for response
	// accumulation. 512 KB covers long completions with room to spare.
	AccumulatorBufferSize = 512 * 1024

	// minMlockLimitKB is the minimum mlock limit required in kilobytes.
	minMlockLimitKB = 512
)

var (
	memguardInitOnce sync.Once

	// mlockSufficient is set during initialization to indicate whether
	// secure memory is available.
	mlockSufficient bool

	currentMlockLimitKB int64
)

// ResponseAccumulator collects streamed completion chunks into a single
// assistant response.
//
// # Description
//
// The accumulator buffers chunks as they arrive from the provider and
// hashes them incrementally. Finalize returns the assembled response and
// its SHA-256 hash, then wipes the buffer; Destroy wipes without
// returning data and is the cleanup for error and disconnect paths.
//
// # Thread Safety
//
// Implementations are safe for concurrent use.
//
// # Limitations
//
//   - Buffer size is fixed; responses larger than AccumulatorBufferSize
//     fail with an overflow error
//   - An accumulator cannot be reused after Finalize or Destroy
type ResponseAccumulator interface {
	// Write appends a chunk. Chunks are hashed immediately as they arrive.
	Write(chunk string) error

	// Finalize returns the assembled response and its hex-encoded SHA-256
	// hash, then wipes the buffer. Can only be called once.
	Finalize() (answer string, digest string, err error)

	// Destroy wipes the buffer without returning data. Idempotent.
	Destroy()
}

// NewResponseAccumulator creates an accumulator backed by mlocked memory.
//
// If the system's mlock limit is insufficient and
// CHATBRIDGE_INSECURE_MEMORY is not set, an error is returned. With
// CHATBRIDGE_INSECURE_MEMORY=true the accumulator falls back to standard
// Go memory with a warning.
func NewResponseAccumulator() (ResponseAccumulator, error) {
	initMemguard()

	if !mlockSufficient {
		if os.Getenv("CHATBRIDGE_INSECURE_MEMORY") == "true" {
			return newPlainAccumulator(), nil
		}
		return nil, fmt.Errorf(
			"mlock limit insufficient: have %d KB, need %d KB. "+
				"Raise the limit or set CHATBRIDGE_INSECURE_MEMORY=true",
			currentMlockLimitKB, minMlockLimitKB,
		)
	}

	buf := memguard.NewBuffer(AccumulatorBufferSize)
	if buf == nil {
		return nil, fmt.Errorf("failed to allocate secure buffer of %d bytes", AccumulatorBufferSize)
	}
	buf.Melt()

	return &secureAccumulator{
		id:     uuid.New().String(),
		buffer: buf,
		hasher: sha256.New(),
	}, nil
}

// secureAccumulator stores chunks in a memguard LockedBuffer: mlocked
// against swapping, guard pages against overruns, zeroed on Destroy.
type secureAccumulator struct {
	id        string
	mu        sync.Mutex
	buffer    *memguard.LockedBuffer
	offset    int
	hasher    hash.Hash
	overflow  bool
	destroyed bool
}

func (a *secureAccumulator) Write(chunk string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		return fmt.Errorf("secure buffer overflow: response too large")
	}

	chunkBytes := []byte(chunk)
	if a.offset+len(chunkBytes) > AccumulatorBufferSize {
		a.overflow = true
		return fmt.Errorf("secure buffer overflow: need %d bytes, have %d remaining",
			len(chunkBytes), AccumulatorBufferSize-a.offset)
	}

	copy(a.buffer.Bytes()[a.offset:], chunkBytes)
	a.offset += len(chunkBytes)
	a.hasher.Write(chunkBytes)
	return nil
}

func (a *secureAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		a.wipe()
		return "", "", fmt.Errorf("buffer overflowed during accumulation")
	}

	answer := string(a.buffer.Bytes()[:a.offset])
	digest := hex.EncodeToString(a.hasher.Sum(nil))
	a.wipe()

	slog.Debug("Finalized response accumulator",
		"accumulator_id", a.id,
		"answer_length", len(answer),
	)
	return answer, digest, nil
}

func (a *secureAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return
	}
	a.wipe()
}

func (a *secureAccumulator) wipe() {
	if a.buffer != nil {
		a.buffer.Destroy()
	}
	a.destroyed = true
}

// plainAccumulator is the fallback for systems without sufficient mlock.
// Data may be swapped to disk; wiping is best-effort under Go's GC.
type plainAccumulator struct {
	id        string
	mu        sync.Mutex
	data      []byte
	hasher    hash.Hash
	overflow  bool
	destroyed bool
}

func newPlainAccumulator() ResponseAccumulator {
	accID := uuid.New().String()
	slog.Warn("Created INSECURE response accumulator - data may be swapped to disk",
		"accumulator_id", accID,
	)
	return &plainAccumulator{
		id:     accID,
		data:   make([]byte, 0, AccumulatorBufferSize),
		hasher: sha256.New(),
	}
}

func (a *plainAccumulator) Write(chunk string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		return fmt.Errorf("buffer overflow: response too large")
	}

	chunkBytes := []byte(chunk)
	if len(a.data)+len(chunkBytes) > AccumulatorBufferSize {
		a.overflow = true
		return fmt.Errorf("buffer overflow: need %d bytes, have %d remaining",
			len(chunkBytes), AccumulatorBufferSize-len(a.data))
	}

	a.data = append(a.data, chunkBytes...)
	a.hasher.Write(chunkBytes)
	return nil
}

func (a *plainAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		a.wipe()
		return "", "", fmt.Errorf("buffer overflowed during accumulation")
	}

	answer := string(a.data)
	digest := hex.EncodeToString(a.hasher.Sum(nil))
	a.wipe()
	return answer, digest, nil
}

func (a *plainAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return
	}
	a.wipe()
}

func (a *plainAccumulator) wipe() {
	for i := range a.data {
		a.data[i] = 0
	}
	a.data = nil
	a.destroyed = true
}

// initMemguard initializes memguard and checks mlock limits once.
func initMemguard() {
	memguardInitOnce.Do(func() {
		memguard.CatchInterrupt()
		mlockSufficient, currentMlockLimitKB = checkMlockLimit()
		if mlockSufficient {
			slog.Info("Secure memory initialized",
				"mlock_limit_kb", currentMlockLimitKB,
				"required_kb", minMlockLimitKB,
			)
		} else {
			slog.Warn("mlock limit insufficient for secure memory",
				"current_limit_kb", currentMlockLimitKB,
				"required_kb", minMlockLimitKB,
				"help", "raise RLIMIT_MEMLOCK or set CHATBRIDGE_INSECURE_MEMORY=true",
			)
		}
	})
}

// checkMlockLimit queries the kernel for the mlock resource limit.
// Returns whether the limit is sufficient and the limit in KB (-1 if
// unlimited).
func checkMlockLimit() (bool, int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		slog.Warn("Could not determine mlock limit", "error", err)
		return true, -1
	}

	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}

	limitKB := int64(rlimit.Cur / 1024)
	return limitKB >= minMlockLimitKB, limitKB
}

// PurgeAllSecureMemory wipes all memguard-allocated memory. Called during
// graceful shutdown.
func PurgeAllSecureMemory() {
	memguard.Purge()
	slog.Info("Purged all secure memory")
}
