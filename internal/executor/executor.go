// Package executor implements the mechanism adapters described in
// spec.md §4.3: one executor per Mechanism variant, each exposing
// probe/get-current-value/apply/revert over an opaque policy record.
package executor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/froyo-guard/internal/changelog"
	"github.com/openfroyo/froyo-guard/internal/policy"
)

// Executor binds to exactly one mechanism variant (spec.md §4.3).
type Executor interface {
	// ProbeApplied reports whether the system is currently in the state
	// this policy would produce.
	ProbeApplied(ctx context.Context, p *policy.Policy) (bool, error)

	// GetCurrentValue returns an opaque, human-readable snapshot of the
	// relevant current state.
	GetCurrentValue(ctx context.Context, p *policy.Policy) (string, error)

	// Apply mutates the system and returns a change record capturing
	// previous and new serialized state. Apply must be idempotent in
	// effect: a second Apply produces no net state change.
	Apply(ctx context.Context, p *policy.Policy) (*changelog.ChangeRecord, error)

	// Revert restores the serialized previous state from a prior change
	// record.
	Revert(ctx context.Context, p *policy.Policy, prior *changelog.ChangeRecord) (*changelog.ChangeRecord, error)
}

// ParamParser validates and parses a mechanism's raw JSON parameter
// payload. Each executor owns its own strongly-typed payload shape
// (spec.md §9 "Opaque mechanism payloads").
type ParamParser interface {
	ParseParams(raw json.RawMessage) error
}

// newChangeRecord builds a ChangeRecord shell with a fresh id and
// timestamp; callers fill in the state blobs, mechanism, and outcome.
func newChangeRecord(p *policy.Policy, description string) *changelog.ChangeRecord {
	return &changelog.ChangeRecord{
		ChangeID:    uuid.New().String(),
		PolicyID:    p.PolicyID,
		AppliedAt:   time.Now().UTC(),
		Mechanism:   p.Mechanism,
		Description: description,
	}
}
