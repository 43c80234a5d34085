package ipc

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/froyo-guard/internal/engineerr"
)

func validEnvelope(ct CommandType) *Command {
	return &Command{
		Envelope: Envelope{
			CommandID:       uuid.New().String(),
			ProtocolVersion: ProtocolVersion,
			Timestamp:       time.Now().UTC(),
			CommandType:     ct,
		},
	}
}

func TestValidateEnvelopeAccepted(t *testing.T) {
	for _, ct := range []CommandType{
		CommandAudit, CommandApply, CommandRevert, CommandGetState,
		CommandGetPolicies, CommandDetectDrift, CommandCreateSnapshot,
	} {
		assert.NoError(t, ValidateEnvelope(validEnvelope(ct)), "command_type=%s", ct)
	}
}

func TestValidateEnvelopeRejectsMissingFields(t *testing.T) {
	cmd := &Command{}
	err := ValidateEnvelope(cmd)
	require.Error(t, err)

	var classified *engineerr.Error
	require.ErrorAs(t, err, &classified)
	assert.Equal(t, engineerr.CodeInvalidCommand, classified.Code)
}

func TestValidateEnvelopeRejectsVersionMismatch(t *testing.T) {
	cmd := validEnvelope(CommandAudit)
	cmd.ProtocolVersion = ProtocolVersion + 1

	err := ValidateEnvelope(cmd)
	require.Error(t, err)

	var classified *engineerr.Error
	require.ErrorAs(t, err, &classified)
	assert.Equal(t, engineerr.CodeVersionMismatch, classified.Code)
}

func TestValidateEnvelopeRejectsUnknownCommandType(t *testing.T) {
	cmd := validEnvelope(CommandType("bogus"))
	err := ValidateEnvelope(cmd)
	require.Error(t, err)

	var classified *engineerr.Error
	require.ErrorAs(t, err, &classified)
	assert.Equal(t, engineerr.CodeInvalidCommand, classified.Code)
}

func TestDecodePayload(t *testing.T) {
	cmd := validEnvelope(CommandApply)
	raw, err := json.Marshal(ApplyPayload{PolicyIDs: []string{"dns-001"}, DryRun: true})
	require.NoError(t, err)
	cmd.Payload = raw

	var payload ApplyPayload
	require.NoError(t, DecodePayload(cmd, &payload))
	assert.Equal(t, []string{"dns-001"}, payload.PolicyIDs)
	assert.True(t, payload.DryRun)
}

func TestDecodePayloadEmpty(t *testing.T) {
	cmd := validEnvelope(CommandGetPolicies)
	var payload AuditPayload
	assert.NoError(t, DecodePayload(cmd, &payload))
}

func TestDecodePayloadMalformed(t *testing.T) {
	cmd := validEnvelope(CommandApply)
	cmd.Payload = json.RawMessage(`{not json`)

	var payload ApplyPayload
	err := DecodePayload(cmd, &payload)
	require.Error(t, err)

	var classified *engineerr.Error
	require.ErrorAs(t, err, &classified)
	assert.Equal(t, engineerr.CodeValidationFailed, classified.Code)
}
