package ipc

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	cmd := Command{
		Envelope: Envelope{
			CommandID:       uuid.New().String(),
			ProtocolVersion: ProtocolVersion,
			Timestamp:       time.Now().UTC(),
			CommandType:     CommandAudit,
		},
	}
	require.NoError(t, enc.Encode(cmd))

	assert.True(t, strings.HasSuffix(buf.String(), "\n"))

	dec := NewDecoder(&buf)
	got, err := dec.DecodeCommand()
	require.NoError(t, err)
	assert.Equal(t, cmd.CommandID, got.CommandID)
	assert.Equal(t, cmd.CommandType, got.CommandType)
}

func TestDecodeCommandEOF(t *testing.T) {
	dec := NewDecoder(strings.NewReader(""))
	_, err := dec.DecodeCommand()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecodeCommandMultipleFrames(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for _, ct := range []CommandType{CommandAudit, CommandGetPolicies} {
		require.NoError(t, enc.Encode(Command{Envelope: Envelope{CommandType: ct}}))
	}

	dec := NewDecoder(&buf)
	first, err := dec.DecodeCommand()
	require.NoError(t, err)
	assert.Equal(t, CommandAudit, first.CommandType)

	second, err := dec.DecodeCommand()
	require.NoError(t, err)
	assert.Equal(t, CommandGetPolicies, second.CommandType)
}

func TestDecodeCommandRejectsOversizedFrame(t *testing.T) {
	oversized := strings.Repeat("a", MaxMessageBytes+1)
	dec := NewDecoder(strings.NewReader(oversized + "\n"))
	_, err := dec.DecodeCommand()
	require.Error(t, err)
}
