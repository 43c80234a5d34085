package ipc

import (
	"encoding/json"
	"fmt"

	"github.com/openfroyo/froyo-guard/internal/engineerr"
)

// ValidateEnvelope checks protocol version and command-type shape before
// any payload is parsed, so a malformed or stale-version command is
// rejected before touching the engine (spec.md §7: "structural errors...
// fail the whole command before any mutation").
func ValidateEnvelope(cmd *Command) error {
	if err := cmd.Validate(); err != nil {
		return engineerr.New(engineerr.ClassPermanent, "invalid command envelope", err).
			WithCode(engineerr.CodeInvalidCommand)
	}
	if cmd.ProtocolVersion != ProtocolVersion {
		return engineerr.New(engineerr.ClassPermanent,
			fmt.Sprintf("protocol version mismatch: got %d, want %d", cmd.ProtocolVersion, ProtocolVersion), nil).
			WithCode(engineerr.CodeVersionMismatch)
	}
	switch cmd.CommandType {
	case CommandAudit, CommandApply, CommandRevert, CommandGetState, CommandGetPolicies, CommandDetectDrift, CommandCreateSnapshot:
		return nil
	default:
		return engineerr.New(engineerr.ClassPermanent,
			fmt.Sprintf("unrecognized command_type %q", cmd.CommandType), nil).
			WithCode(engineerr.CodeInvalidCommand)
	}
}

// DecodePayload unmarshals a command's payload into a specific type,
// returning a ValidationFailed-classed error on shape mismatch.
func DecodePayload(cmd *Command, target interface{}) error {
	if len(cmd.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(cmd.Payload, target); err != nil {
		return engineerr.New(engineerr.ClassPermanent, "failed to parse command payload", err).
			WithCode(engineerr.CodeValidationFailed)
	}
	return nil
}
