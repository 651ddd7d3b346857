// Copyright (C) 2026 LumenLearn AI (dev@lumenlearn.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAccumulator(t *testing.T) TokenAccumulator {
	t.Helper()
	acc, err := NewTokenAccumulator()
	require.NoError(t, err, "accumulator construction should never fail")
	require.NotNil(t, acc)
	return acc
}

func TestTokenAccumulator_WriteAndFinalize(t *testing.T) {
	acc := newTestAccumulator(t)
	defer acc.Destroy()

	tokens := []string{"Heat ", "flows ", "from ", "hot ", "to ", "cold."}
	for _, token := range tokens {
		require.NoError(t, acc.Write(token))
	}

	answer, hashStr, err := acc.Finalize()
	require.NoError(t, err)
	assert.Equal(t, "Heat flows from hot to cold.", answer)

	expected := sha256.Sum256([]byte(answer))
	assert.Equal(t, hex.EncodeToString(expected[:]), hashStr, "hash covers the full answer")
}

func TestTokenAccumulator_EmptyFinalize(t *testing.T) {
	acc := newTestAccumulator(t)
	defer acc.Destroy()

	answer, hashStr, err := acc.Finalize()
	require.NoError(t, err)
	assert.Equal(t, "", answer)

	empty := sha256.Sum256(nil)
	assert.Equal(t, hex.EncodeToString(empty[:]), hashStr)
}

func TestTokenAccumulator_FinalizeTwiceFails(t *testing.T) {
	acc := newTestAccumulator(t)
	defer acc.Destroy()

	require.NoError(t, acc.Write("token"))
	_, _, err := acc.Finalize()
	require.NoError(t, err)

	_, _, err = acc.Finalize()
	require.Error(t, err, "the answer is yielded exactly once")
}

func TestTokenAccumulator_WriteAfterFinalizeFails(t *testing.T) {
	acc := newTestAccumulator(t)
	defer acc.Destroy()

	_, _, err := acc.Finalize()
	require.NoError(t, err)
	assert.Error(t, acc.Write("late token"))
}

func TestTokenAccumulator_DestroyIsIdempotent(t *testing.T) {
	acc := newTestAccumulator(t)
	acc.Destroy()
	acc.Destroy()

	assert.Error(t, acc.Write("token"))
	_, _, err := acc.Finalize()
	assert.Error(t, err)
}

func TestTokenAccumulator_OverflowRejected(t *testing.T) {
	acc := newTestAccumulator(t)
	defer acc.Destroy()

	big := strings.Repeat("x", secureBufferSize/2)
	require.NoError(t, acc.Write(big))
	require.NoError(t, acc.Write(big))
	assert.Error(t, acc.Write("x"), "writes beyond the buffer bound must fail")
}

func TestTokenAccumulator_UniqueIDs(t *testing.T) {
	a := newTestAccumulator(t)
	defer a.Destroy()
	b := newTestAccumulator(t)
	defer b.Destroy()

	assert.NotEqual(t, a.ID(), b.ID())
}

func TestPlainAccumulator_WipesOnDestroy(t *testing.T) {
	acc := newPlainAccumulator()
	require.NoError(t, acc.Write("sensitive student content"))

	acc.Destroy()
	assert.Nil(t, acc.data, "backing slice is zeroed and released")
}
