// Package engine implements the Policy Engine orchestrator (spec.md §4.5):
// Audit, Apply, Revert, GetState, DetectDrift, CreateSnapshot. Grounded on
// the teacher's PolicyEngine/Scheduler/DriftDetector interfaces
// (pkg/engine/interfaces.go) and DAGBuilder (pkg/engine/dag.go), narrowed
// from a generic multi-resource config-management engine to the fixed
// Audit/Apply/Revert surface this domain exposes.
package engine

import (
	"time"

	"github.com/openfroyo/froyo-guard/internal/changelog"
	"github.com/openfroyo/froyo-guard/internal/policy"
)

// AuditItem is one row of an Audit result (spec.md §4.5).
type AuditItem struct {
	PolicyID            string `json:"policy_id"`
	Applied              bool   `json:"applied"`
	Applicable            bool   `json:"applicable"`
	NotApplicableReason   string `json:"not_applicable_reason,omitempty"`
	CurrentValue          string `json:"current_value,omitempty"`
	ExpectedValue         string `json:"expected_value,omitempty"`
	Matches               bool   `json:"matches"`
	DriftDescription      string `json:"drift_description,omitempty"`
}

// AuditResult is the full output of Audit.
type AuditResult struct {
	Items      []AuditItem `json:"items"`
	SystemInfo string      `json:"system_info"`
	AuditedAt  time.Time   `json:"audited_at"`
}

// ProgressFrame is emitted during Apply (Revert takes no progress
// channel) to report incremental
// progress, grounded on the teacher's channel-based event streaming
// (Executor.StreamEvents, pkg/engine/interfaces.go) and the micro-runner's
// EVENT/DONE newline-delimited framing (pkg/micro_runner/protocol).
type ProgressFrame struct {
	Percent        int    `json:"percent"`
	Message        string `json:"message"`
	CurrentPolicyID string `json:"current_policy_id,omitempty"`
}

// ApplyRequest describes one Apply invocation.
type ApplyRequest struct {
	PolicyIDs         []string
	DryRun            bool
	ContinueOnError   bool
	RequestRestorePoint bool
	Description       string
}

// ApplyResult is the terminal frame of Apply.
type ApplyResult struct {
	Applied                   []string                `json:"applied"`
	Failed                    []string                `json:"failed"`
	Changes                   []changelog.ChangeRecord `json:"changes"`
	SnapshotID                string                  `json:"snapshot_id"`
	RestorePointID            string                  `json:"restore_point_id,omitempty"`
	CompletedAt               time.Time               `json:"completed_at"`
	RestartRecommended        bool                    `json:"restart_recommended"`
	PoliciesRequiringRestart  []string                `json:"policies_requiring_restart,omitempty"`
	Partial                   bool                    `json:"partial"`
	Warnings                  []string                `json:"warnings,omitempty"`
}

// RevertSelector chooses which change records a Revert call should undo;
// exactly one field should be set.
type RevertSelector struct {
	PolicyIDs  []string
	SnapshotID string
	AllApplied bool
}

// RevertRequest describes one Revert invocation.
type RevertRequest struct {
	Selector            RevertSelector
	RequestRestorePoint bool
}

// GetStateRequest controls how much history GetState returns.
type GetStateRequest struct {
	IncludeHistory bool
	PolicyIDs      []string
}

// GetStateResult is the output of GetState.
type GetStateResult struct {
	Applied []string                  `json:"applied"`
	History []changelog.ChangeRecord  `json:"history,omitempty"`
}

// DriftItem describes one policy found to have drifted from its expected
// applied state (spec.md §4.7).
type DriftItem struct {
	PolicyID     string `json:"policy_id"`
	ExpectedValue string `json:"expected_value"`
	CurrentValue  string `json:"current_value"`
	DriftReason   string `json:"drift_reason"`
}

// DriftResult is the output of DetectDrift.
type DriftResult struct {
	SnapshotID string      `json:"snapshot_id"`
	Items      []DriftItem `json:"items"`
	CheckedAt  time.Time   `json:"checked_at"`
}

// CreateSnapshotRequest describes an explicit baseline snapshot.
type CreateSnapshotRequest struct {
	Description         string
	RequestRestorePoint bool
}

// state is the internal Apply state machine position (spec.md §4.5),
// transcribed verbatim: IDLE -> RESOLVING -> GATING -> SNAPSHOTTING ->
// APPLYING(i) -> REPORTING -> IDLE, with a CANCELLING -> PARTIAL_RESULT
// branch reachable from any state.
type state string

const (
	stateIdle           state = "IDLE"
	stateResolving      state = "RESOLVING"
	stateGating         state = "GATING"
	stateSnapshotting   state = "SNAPSHOTTING"
	stateApplying       state = "APPLYING"
	stateReporting      state = "REPORTING"
	stateFailedTerminal state = "FAILED_TERMINAL"
	stateCancelling     state = "CANCELLING"
	statePartialResult  state = "PARTIAL_RESULT"
)

// indexPolicies indexes a policy slice by id, used by Apply/Revert/Audit
// when they need direct field access beyond what the resolver returns.
func indexPolicies(policies []policy.Policy) map[string]*policy.Policy {
	m := make(map[string]*policy.Policy, len(policies))
	for i := range policies {
		m[policies[i].PolicyID] = &policies[i]
	}
	return m
}
