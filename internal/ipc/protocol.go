// Package ipc implements the local IPC surface (spec.md §6): command
// envelope, response envelope, newline-delimited JSON framing for Apply's
// progress-then-terminal stream, caller authorization, and the named-pipe
// server. Grounded on the teacher's micro-runner protocol
// (pkg/micro_runner/protocol), generalized from a stdio-framed subprocess
// transport to a named pipe.
package ipc

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
)

// ProtocolVersion is the current protocol version; a mismatched command
// is rejected with CodeVersionMismatch.
const ProtocolVersion = 1

// EndpointName is the fixed local IPC endpoint name (spec.md §6).
const EndpointName = `PrivacyHardeningService_v1`

// CommandType tags the command envelope's command_type field.
type CommandType string

const (
	CommandAudit         CommandType = "audit"
	CommandApply         CommandType = "apply"
	CommandRevert        CommandType = "revert"
	CommandGetState      CommandType = "getState"
	CommandGetPolicies   CommandType = "getPolicies"
	CommandDetectDrift   CommandType = "detectDrift"
	CommandCreateSnapshot CommandType = "createSnapshot"
)

// mutatingCommands lists command types requiring the full caller
// authorization check (administrators group, High/System integrity,
// Authenticode signature); all others are open to any local interactive
// caller (spec.md §6).
var mutatingCommands = map[CommandType]bool{
	CommandApply:          true,
	CommandRevert:         true,
	CommandCreateSnapshot: true,
}

// RequiresPrivilege reports whether t requires the full caller check.
func RequiresPrivilege(t CommandType) bool {
	return mutatingCommands[t]
}

// Envelope is the common header every command carries.
type Envelope struct {
	CommandID       string      `json:"command_id" validate:"required,uuid"`
	ProtocolVersion int         `json:"protocol_version" validate:"required"`
	Timestamp       time.Time   `json:"timestamp" validate:"required"`
	CommandType     CommandType `json:"command_type" validate:"required"`
}

// Command is the full command envelope plus its opaque command-specific
// payload.
type Command struct {
	Envelope
	Payload json.RawMessage `json:"payload,omitempty"`
}

var envelopeValidator = validator.New()

// Validate checks the envelope's struct-tag schema only; the protocol
// version is checked separately by ValidateEnvelope.
func (c *Command) Validate() error {
	if err := envelopeValidator.Struct(c.Envelope); err != nil {
		return err
	}
	return nil
}

// AuditPayload is the payload for CommandAudit.
type AuditPayload struct {
	PolicyIDs []string `json:"policy_ids,omitempty"`
}

// ApplyPayload is the payload for CommandApply.
type ApplyPayload struct {
	PolicyIDs          []string `json:"policy_ids,omitempty"`
	DryRun             bool     `json:"dry_run,omitempty"`
	ContinueOnError    bool     `json:"continue_on_error,omitempty"`
	CreateRestorePoint bool     `json:"create_restore_point,omitempty"`
	Description        string   `json:"description,omitempty"`
}

// RevertPayload is the payload for CommandRevert.
type RevertPayload struct {
	PolicyIDs          []string `json:"policy_ids,omitempty"`
	SnapshotID         string   `json:"snapshot_id,omitempty"`
	AllApplied         bool     `json:"all_applied,omitempty"`
	CreateRestorePoint bool     `json:"create_restore_point,omitempty"`
}

// GetStatePayload is the payload for CommandGetState.
type GetStatePayload struct {
	PolicyIDs      []string `json:"policy_ids,omitempty"`
	IncludeHistory bool     `json:"include_history,omitempty"`
}

// DetectDriftPayload is the payload for CommandDetectDrift.
type DetectDriftPayload struct {
	SnapshotID string `json:"snapshot_id,omitempty"`
}

// CreateSnapshotPayload is the payload for CommandCreateSnapshot.
type CreateSnapshotPayload struct {
	Description        string `json:"description,omitempty"`
	CreateRestorePoint bool   `json:"create_restore_point,omitempty"`
}

// ResponseError is one entry in a Response's errors list.
type ResponseError struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Details  string `json:"details,omitempty"`
	PolicyID string `json:"policy_id,omitempty"`
}

// Response is the envelope every command's reply (or, for Apply, every
// terminal frame) carries.
type Response struct {
	CommandID string          `json:"command_id"`
	Success   bool            `json:"success"`
	Timestamp time.Time       `json:"timestamp"`
	Errors    []ResponseError `json:"errors,omitempty"`
	Warnings  []string        `json:"warnings,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
}

// ProgressFrameMessage is one non-terminal line of Apply's streamed
// response.
type ProgressFrameMessage struct {
	CommandID      string `json:"command_id"`
	Percent        int    `json:"percent"`
	Message        string `json:"message"`
	CurrentPolicyID string `json:"current_policy_id,omitempty"`
}

// MaxMessageBytes bounds a single framed message (spec.md §5: "the IPC
// read is bounded by a 1 MiB per-message ceiling").
const MaxMessageBytes = 1 << 20

// IdleTimeout is the small bound beyond which an idle connection may be
// reaped (spec.md §5).
const IdleTimeout = 30 * time.Second
