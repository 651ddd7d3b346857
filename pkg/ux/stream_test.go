// Copyright (C) 2026 LumenLearn AI (dev@lumenlearn.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleStream = `data: {"content":"Heat ","isComplete":false}

data: {"content":"rises.","isComplete":false}

data: {"content":"Heat rises.","isComplete":true,"sessionId":"s-1","sources":[{"documentId":"doc-1","documentTitle":"Thermo","chunkId":"c1","relevanceScore":0.9,"excerpt":"Heat rises in fluids."}],"confidence":0.85}
`

func TestStreamProcessor_DeltasEchoedThenResultReturned(t *testing.T) {
	var out bytes.Buffer
	p := NewStreamProcessorWithWriter(&out, PersonalityFull)

	result, err := p.Process(strings.NewReader(sampleStream))
	require.NoError(t, err)

	assert.Equal(t, "Heat rises.", result.Answer)
	assert.Equal(t, "s-1", result.SessionID)
	require.Len(t, result.Sources, 1)
	assert.Equal(t, "Thermo", result.Sources[0].DocumentTitle)
	require.NotNil(t, result.Confidence)
	assert.InDelta(t, 0.85, *result.Confidence, 1e-9)

	assert.Contains(t, out.String(), "Heat rises.", "deltas are echoed as they arrive")
}

func TestStreamProcessor_MachineModeBuffersUntilDone(t *testing.T) {
	var out bytes.Buffer
	p := NewStreamProcessorWithWriter(&out, PersonalityMachine)

	_, err := p.Process(strings.NewReader(sampleStream))
	require.NoError(t, err)

	assert.Equal(t, "ANSWER: Heat rises.\n", out.String(), "machine mode emits one parseable line")
}

func TestStreamProcessor_ErrorChunk(t *testing.T) {
	stream := `data: {"content":"","isComplete":true,"error":"response generation failed"}` + "\n"

	p := NewStreamProcessorWithWriter(&bytes.Buffer{}, PersonalityMinimal)
	result, err := p.Process(strings.NewReader(stream))

	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "response generation failed")
}

func TestStreamProcessor_TruncatedStreamIsAnError(t *testing.T) {
	stream := `data: {"content":"partial","isComplete":false}` + "\n"

	p := NewStreamProcessorWithWriter(&bytes.Buffer{}, PersonalityMinimal)
	result, err := p.Process(strings.NewReader(stream))

	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "terminal chunk")
}

func TestStreamProcessor_SkipsCommentsAndBlankLines(t *testing.T) {
	stream := ": keepalive\n\n" +
		`data: {"content":"ok","isComplete":false}` + "\n\n" +
		": another\n\n" +
		`data: {"content":"ok","isComplete":true}` + "\n"

	p := NewStreamProcessorWithWriter(&bytes.Buffer{}, PersonalityMinimal)
	result, err := p.Process(strings.NewReader(stream))
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Answer)
}

func TestStreamProcessor_RawLineTreatedAsDelta(t *testing.T) {
	var out bytes.Buffer
	p := NewStreamProcessorWithWriter(&out, PersonalityFull)

	stream := "plain text line\n" +
		`data: {"content":"plain text line","isComplete":true}` + "\n"

	result, err := p.Process(strings.NewReader(stream))
	require.NoError(t, err)
	assert.Equal(t, "plain text line", result.Answer)
	assert.Contains(t, out.String(), "plain text line")
}
