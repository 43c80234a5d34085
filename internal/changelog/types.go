// Package changelog defines the persisted Change Record, Snapshot, and
// Snapshot Policy State records described in spec.md §3-§4.4, and the
// Store interface backing them.
package changelog

import (
	"context"
	"time"

	"github.com/openfroyo/froyo-guard/internal/policy"
)

// AdhocSnapshotID is the sentinel snapshot used for writes that have no
// natural enclosing session, resolving the Open Question in spec.md §9:
// every change is associated with a snapshot, never NULL.
const AdhocSnapshotID = "adhoc"

// ChangeRecord is one row per attempted mutation.
type ChangeRecord struct {
	ChangeID      string           `json:"change_id"`
	PolicyID      string           `json:"policy_id"`
	AppliedAt     time.Time        `json:"applied_at"`
	Mechanism     policy.Mechanism `json:"mechanism"`
	Description   string           `json:"description"`
	PreviousState string           `json:"previous_state"`
	NewState      string           `json:"new_state"`
	Success       bool             `json:"success"`
	ErrorMessage  string           `json:"error_message,omitempty"`
	SnapshotID    string           `json:"snapshot_id"`
	Operation     Operation        `json:"operation"`

	// Code carries an informational engineerr code when Apply performed
	// no mutation, e.g. engineerr.CodeAlreadyApplied for an idempotent
	// re-Apply that found the system already in the target state.
	Code string `json:"code,omitempty"`
}

// Operation distinguishes a forward mutation from a revert.
type Operation string

const (
	OperationApply  Operation = "Apply"
	OperationRevert Operation = "Revert"
)

// Snapshot is a session boundary created at the start of a privileged
// operation, grouping change records for atomic session revert.
type Snapshot struct {
	SnapshotID       string    `json:"snapshot_id"`
	CreatedAt        time.Time `json:"created_at"`
	Description      string    `json:"description,omitempty"`
	SystemInfoJSON   string    `json:"system_info"`
	RestorePointID   string    `json:"restore_point_id,omitempty"`
}

// SnapshotPolicyState is the per-snapshot promised state of one policy,
// captured at snapshot time so drift can later be evaluated against it.
type SnapshotPolicyState struct {
	SnapshotID   string `json:"snapshot_id"`
	PolicyID     string `json:"policy_id"`
	IsApplied    bool   `json:"is_applied"`
	CurrentValue string `json:"current_value"`
}

// Store is the persistence interface backing the change log and snapshot
// store (spec.md §4.4). Implementations must serialize concurrent writers
// through a single write critical section and persist change rows
// transactionally with their enclosing snapshot row.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// CreateSnapshot opens a new snapshot row.
	CreateSnapshot(ctx context.Context, snap *Snapshot) error
	// GetSnapshot retrieves a snapshot by id.
	GetSnapshot(ctx context.Context, id string) (*Snapshot, error)
	// MostRecentSnapshot returns the most recently created snapshot, or
	// nil if none exist.
	MostRecentSnapshot(ctx context.Context) (*Snapshot, error)

	// PutSnapshotPolicyStates persists the per-policy promised state
	// captured at snapshot time.
	PutSnapshotPolicyStates(ctx context.Context, snapshotID string, states []SnapshotPolicyState) error
	// ListSnapshotPolicyStates returns the promised states for a snapshot.
	ListSnapshotPolicyStates(ctx context.Context, snapshotID string) ([]SnapshotPolicyState, error)

	// AppendChange journals one mutation attempt, transactionally
	// associated with its enclosing snapshot.
	AppendChange(ctx context.Context, change *ChangeRecord) error

	// ChangesForPolicy returns change records for one policy,
	// reverse-chronological.
	ChangesForPolicy(ctx context.Context, policyID string, limit, offset int) ([]ChangeRecord, error)
	// ChangesForSnapshot returns change records joined to a snapshot, in
	// the order they were persisted.
	ChangesForSnapshot(ctx context.Context, snapshotID string) ([]ChangeRecord, error)
	// AllChanges returns all change records, reverse-chronological and
	// paged.
	AllChanges(ctx context.Context, limit, offset int) ([]ChangeRecord, error)
	// LatestChangeForPolicy returns the most recent successful change
	// record for a policy, or nil if none exists.
	LatestChangeForPolicy(ctx context.Context, policyID string) (*ChangeRecord, error)

	// RecordAudit appends an operator-trail entry distinct from the
	// change log (see SPEC_FULL.md §4).
	RecordAudit(ctx context.Context, action, actor, targetID, details string) error

	HealthCheck(ctx context.Context) error
}
