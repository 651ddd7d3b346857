// Copyright (C) 2026 LumenLearn AI (dev@lumenlearn.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers provides HTTP request handlers for the tutor service.
//
// This file implements token accumulation for streamed answers. Student
// conversations can contain personal data, so the accumulated answer is
// held in mlocked memory until persistence when the system supports it,
// with a plain-memory fallback otherwise.
package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"log/slog"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

const (
	// secureBufferSize bounds one accumulated answer. 512 KB is roughly
	// 131k tokens at 4 bytes/token, far beyond any tutoring reply.
	secureBufferSize = 512 * 1024

	// minMlockLimitKB is the mlock limit required for secure mode.
	minMlockLimitKB = 512
)

var (
	memguardInitOnce sync.Once
	mlockSufficient  bool
	mlockLimitKB     int64
)

// TokenAccumulator gathers streamed tokens and yields the full answer
// plus its SHA-256 hash exactly once.
//
// Implementations are safe for use from a single stream goroutine; the
// accumulator is not reusable after Finalize or Destroy. Destroy is
// idempotent and safe on every error path.
type TokenAccumulator interface {
	Write(token string) error
	Finalize() (answer string, hash string, err error)
	Destroy()
	ID() string
}

// NewTokenAccumulator returns a secure (mlocked) accumulator when the
// process rlimit allows it, otherwise a plain in-memory fallback with a
// logged downgrade.
func NewTokenAccumulator() (TokenAccumulator, error) {
	memguardInitOnce.Do(func() {
		memguard.CatchInterrupt()
		mlockSufficient, mlockLimitKB = checkMlockLimit()
		if mlockSufficient {
			slog.Info("secure token accumulation enabled", "mlock_limit_kb", mlockLimitKB)
		} else {
			slog.Warn("mlock limit too low, answers accumulate in plain memory",
				"mlock_limit_kb", mlockLimitKB,
				"required_kb", minMlockLimitKB,
			)
		}
	})

	if !mlockSufficient {
		return newPlainAccumulator(), nil
	}

	buf := memguard.NewBuffer(secureBufferSize)
	if buf == nil {
		slog.Warn("secure buffer allocation failed, falling back to plain memory")
		return newPlainAccumulator(), nil
	}
	return &secureAccumulator{
		id:        uuid.New().String(),
		buffer:    buf,
		hasher:    sha256.New(),
		createdAt: time.Now(),
	}, nil
}

func checkMlockLimit() (bool, int64) {
	var limit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &limit); err != nil {
		return false, 0
	}
	limitKB := int64(limit.Cur) / 1024
	return limitKB >= minMlockLimitKB, limitKB
}

// =============================================================================
// Secure (mlocked) accumulator
// =============================================================================

type secureAccumulator struct {
	mu        sync.Mutex
	id        string
	buffer    *memguard.LockedBuffer
	hasher    hash.Hash
	length    int
	finalized bool
	destroyed bool
	createdAt time.Time
}

func (a *secureAccumulator) Write(token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed || a.finalized {
		return fmt.Errorf("accumulator %s is no longer writable", a.id)
	}
	tokenBytes := []byte(token)
	if a.length+len(tokenBytes) > a.buffer.Size() {
		return fmt.Errorf("accumulator %s overflow: %d + %d exceeds %d",
			a.id, a.length, len(tokenBytes), a.buffer.Size())
	}

	copy(a.buffer.Bytes()[a.length:], tokenBytes)
	a.length += len(tokenBytes)
	// Hash incrementally so the full answer is never held unhashed.
	a.hasher.Write(tokenBytes)
	return nil
}

func (a *secureAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator %s already destroyed", a.id)
	}
	if a.finalized {
		return "", "", fmt.Errorf("accumulator %s already finalized", a.id)
	}
	a.finalized = true

	answer := string(a.buffer.Bytes()[:a.length])
	hashStr := hex.EncodeToString(a.hasher.Sum(nil))

	a.buffer.Destroy()
	a.destroyed = true

	slog.Debug("answer accumulation finalized",
		"accumulator_id", a.id,
		"answer_bytes", len(answer),
	)
	return answer, hashStr, nil
}

func (a *secureAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return
	}
	a.buffer.Destroy()
	a.destroyed = true
}

func (a *secureAccumulator) ID() string { return a.id }

// =============================================================================
// Plain-memory fallback
// =============================================================================

type plainAccumulator struct {
	mu        sync.Mutex
	id        string
	data      []byte
	hasher    hash.Hash
	finalized bool
	destroyed bool
}

func newPlainAccumulator() *plainAccumulator {
	return &plainAccumulator{
		id:     uuid.New().String(),
		data:   make([]byte, 0, 4096),
		hasher: sha256.New(),
	}
}

func (a *plainAccumulator) Write(token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed || a.finalized {
		return fmt.Errorf("accumulator %s is no longer writable", a.id)
	}
	if len(a.data)+len(token) > secureBufferSize {
		return fmt.Errorf("accumulator %s overflow", a.id)
	}
	a.data = append(a.data, token...)
	a.hasher.Write([]byte(token))
	return nil
}

func (a *plainAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed || a.finalized {
		return "", "", fmt.Errorf("accumulator %s already finalized or destroyed", a.id)
	}
	a.finalized = true

	answer := string(a.data)
	hashStr := hex.EncodeToString(a.hasher.Sum(nil))
	a.wipe()
	return answer, hashStr, nil
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

func (a *plainAccumulator) ID() string { return a.id }
