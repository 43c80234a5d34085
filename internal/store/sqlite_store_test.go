package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openfroyo/froyo-guard/internal/changelog"
)

// newTestStore opens a fresh in-memory store, grounded on the teacher's
// setupTestStore (pkg/stores/sqlite_store_test.go).
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := New(Config{Path: ":memory:"})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Init(ctx))
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreLifecycle(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.HealthCheck(context.Background()))
}

func TestSnapshotAndChangeRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	snap := &changelog.Snapshot{
		SnapshotID:     "snap-1",
		CreatedAt:      time.Now().UTC(),
		Description:    "pre-apply",
		SystemInfoJSON: `{"build_number":19041}`,
	}
	require.NoError(t, s.CreateSnapshot(ctx, snap))

	got, err := s.GetSnapshot(ctx, "snap-1")
	require.NoError(t, err)
	require.Equal(t, snap.Description, got.Description)

	recent, err := s.MostRecentSnapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, "snap-1", recent.SnapshotID)

	change := &changelog.ChangeRecord{
		ChangeID:      "chg-1",
		PolicyID:      "dns-001",
		AppliedAt:     time.Now().UTC(),
		Mechanism:     "Registry",
		PreviousState: "1",
		NewState:      "0",
		Success:       true,
		SnapshotID:    "snap-1",
		Operation:     changelog.OperationApply,
	}
	require.NoError(t, s.AppendChange(ctx, change))

	changes, err := s.ChangesForSnapshot(ctx, "snap-1")
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, "dns-001", changes[0].PolicyID)

	latest, err := s.LatestChangeForPolicy(ctx, "dns-001")
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, "chg-1", latest.ChangeID)
}

func TestAppendChangeWithoutSnapshotUsesAdhocSentinel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// AppendChange against the adhoc sentinel must succeed even though no
	// CreateSnapshot call ever created that row: AppendChange upserts a
	// placeholder snapshot row for whatever snapshot_id it is given.
	change := &changelog.ChangeRecord{
		ChangeID:   "chg-adhoc",
		PolicyID:   "dns-002",
		AppliedAt:  time.Now().UTC(),
		Mechanism:  "Registry",
		Success:    true,
		SnapshotID: changelog.AdhocSnapshotID,
		Operation:  changelog.OperationRevert,
	}
	require.NoError(t, s.AppendChange(ctx, change))

	changes, err := s.ChangesForSnapshot(ctx, changelog.AdhocSnapshotID)
	require.NoError(t, err)
	require.Len(t, changes, 1)
}

func TestSnapshotPolicyStatesRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateSnapshot(ctx, &changelog.Snapshot{
		SnapshotID: "snap-2",
		CreatedAt:  time.Now().UTC(),
	}))

	states := []changelog.SnapshotPolicyState{
		{SnapshotID: "snap-2", PolicyID: "dns-001", IsApplied: true, CurrentValue: "0"},
		{SnapshotID: "snap-2", PolicyID: "dns-002", IsApplied: false, CurrentValue: "1"},
	}
	require.NoError(t, s.PutSnapshotPolicyStates(ctx, "snap-2", states))

	got, err := s.ListSnapshotPolicyStates(ctx, "snap-2")
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestRecordAudit(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.RecordAudit(context.Background(), "apply", "SYSTEM", "dns-001", "applied via serve"))
}
