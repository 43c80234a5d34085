// Package restorepoint creates OS restore points ahead of a privileged
// Apply, failing soft when the platform or host configuration does not
// support it (spec.md §4.6). Narrowed from the teacher's BackupManager
// interface (pkg/engine/interfaces.go), which backs up/restores engine
// state generically; here there are two operations, Create and
// ListCheckpoints, and a created restore point is an opaque
// platform-assigned identifier logged alongside the snapshot row rather
// than engine-owned backup bytes.
package restorepoint

import (
	"context"
	"time"
)

// Checkpoint describes one existing restore point/checkpoint, as returned
// by ListCheckpoints.
type Checkpoint struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Manager creates and enumerates system restore points. Implementations
// never return an error that should abort an Apply: Create reports
// availability via its second return value instead, per spec.md §4.6's
// "fails soft" invariant.
type Manager interface {
	// Create attempts to create a restore point described by description.
	// available is false when the platform/host does not support restore
	// points at all (e.g. non-Windows, or System Protection disabled);
	// err is non-nil only for unexpected failures worth logging.
	Create(ctx context.Context, description string) (id string, available bool, err error)

	// ListCheckpoints enumerates existing checkpoints known to the
	// platform restore mechanism, in the order that mechanism reports
	// them; the result is not sorted. Returns an empty, nil
	// slice (not an error) when the platform/host does not support
	// restore points at all.
	ListCheckpoints(ctx context.Context) ([]Checkpoint, error)
}
