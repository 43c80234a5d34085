package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/froyo-guard/internal/changelog"
	"github.com/openfroyo/froyo-guard/internal/executor"
	"github.com/openfroyo/froyo-guard/internal/policy"
	"github.com/openfroyo/froyo-guard/internal/restorepoint"
	"github.com/openfroyo/froyo-guard/internal/store"
	"github.com/openfroyo/froyo-guard/internal/sysinfo"
)

// fakeExecutor is an in-memory stand-in for a mechanism adapter, letting
// Apply/Revert/Audit/DetectDrift be exercised without touching the OS.
type fakeExecutor struct {
	mu        sync.Mutex
	applied   map[string]bool
	value     map[string]string
	applyErr  error
	probeErr  error
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{applied: map[string]bool{}, value: map[string]string{}}
}

func (f *fakeExecutor) ProbeApplied(_ context.Context, p *policy.Policy) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.probeErr != nil {
		return false, f.probeErr
	}
	return f.applied[p.PolicyID], nil
}

func (f *fakeExecutor) GetCurrentValue(_ context.Context, p *policy.Policy) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value[p.PolicyID], nil
}

func (f *fakeExecutor) Apply(_ context.Context, p *policy.Policy) (*changelog.ChangeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := &changelog.ChangeRecord{
		PolicyID:      p.PolicyID,
		Mechanism:     p.Mechanism,
		PreviousState: f.value[p.PolicyID],
		NewState:      p.ExpectedValue,
		Success:       f.applyErr == nil,
		Operation:     changelog.OperationApply,
	}
	if f.applyErr != nil {
		rec.ErrorMessage = f.applyErr.Error()
		return rec, f.applyErr
	}
	f.applied[p.PolicyID] = true
	f.value[p.PolicyID] = p.ExpectedValue
	return rec, nil
}

func (f *fakeExecutor) Revert(_ context.Context, p *policy.Policy, prior *changelog.ChangeRecord) (*changelog.ChangeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied[p.PolicyID] = false
	f.value[p.PolicyID] = prior.PreviousState
	return &changelog.ChangeRecord{
		PolicyID:      p.PolicyID,
		Mechanism:     p.Mechanism,
		PreviousState: prior.NewState,
		NewState:      prior.PreviousState,
		Success:       true,
		Operation:     changelog.OperationRevert,
	}, nil
}

type fakeProber struct{ info sysinfo.Info }

func (f *fakeProber) Probe(_ context.Context) (*sysinfo.Info, error) {
	info := f.info
	return &info, nil
}

func testPolicy(id string) policy.Policy {
	return policy.Policy{
		PolicyID:      id,
		Mechanism:     policy.MechanismRegistry,
		ExpectedValue: "0",
		Applicability: policy.Applicability{MinBuild: 19041, SupportedSKUs: []string{"*"}},
	}
}

func newTestEngine(t *testing.T, policies []policy.Policy) (*Engine, *fakeExecutor) {
	t.Helper()

	st, err := store.New(store.Config{Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, st.Init(context.Background()))
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	reg := executor.NewRegistry()
	fake := newFakeExecutor()
	reg.Register(policy.MechanismRegistry, fake)

	eng := New(zerolog.Nop(), st, reg, restorepoint.New(), &fakeProber{info: sysinfo.Info{BuildNumber: 19041, SKU: "Professional"}}, nil, nil)
	eng.SetCatalog(policies)
	return eng, fake
}

func TestApplyThenAuditMatches(t *testing.T) {
	eng, _ := newTestEngine(t, []policy.Policy{testPolicy("dns-001")})
	ctx := context.Background()

	result, err := eng.Apply(ctx, ApplyRequest{PolicyIDs: []string{"dns-001"}}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"dns-001"}, result.Applied)
	require.Empty(t, result.Failed)

	audit, err := eng.Audit(ctx, []string{"dns-001"})
	require.NoError(t, err)
	require.Len(t, audit.Items, 1)
	require.True(t, audit.Items[0].Matches)
}

func TestApplyIsIdempotent(t *testing.T) {
	eng, _ := newTestEngine(t, []policy.Policy{testPolicy("dns-001")})
	ctx := context.Background()

	first, err := eng.Apply(ctx, ApplyRequest{PolicyIDs: []string{"dns-001"}}, nil)
	require.NoError(t, err)
	second, err := eng.Apply(ctx, ApplyRequest{PolicyIDs: []string{"dns-001"}}, nil)
	require.NoError(t, err)

	require.Equal(t, first.Applied, second.Applied)
	require.Empty(t, second.Failed)
}

func TestApplyDryRunDoesNotMutate(t *testing.T) {
	eng, fake := newTestEngine(t, []policy.Policy{testPolicy("dns-001")})
	ctx := context.Background()

	result, err := eng.Apply(ctx, ApplyRequest{PolicyIDs: []string{"dns-001"}, DryRun: true}, nil)
	require.NoError(t, err)
	require.Equal(t, changelog.AdhocSnapshotID, result.SnapshotID)

	applied, probeErr := fake.ProbeApplied(ctx, &policy.Policy{PolicyID: "dns-001"})
	require.NoError(t, probeErr)
	require.False(t, applied)
}

func TestApplyProgressIsMonotonic(t *testing.T) {
	eng, _ := newTestEngine(t, []policy.Policy{testPolicy("dns-001"), testPolicy("dns-002")})
	ctx := context.Background()

	progress := make(chan ProgressFrame, 8)
	result, err := eng.Apply(ctx, ApplyRequest{PolicyIDs: []string{"dns-001", "dns-002"}}, progress)
	require.NoError(t, err)
	close(progress)

	last := -1
	for frame := range progress {
		require.GreaterOrEqual(t, frame.Percent, last)
		last = frame.Percent
	}
	require.Equal(t, 100, last)
	require.ElementsMatch(t, []string{"dns-001", "dns-002"}, result.Applied)
}

func TestRevertRestoresPreviousState(t *testing.T) {
	eng, fake := newTestEngine(t, []policy.Policy{testPolicy("dns-001")})
	ctx := context.Background()

	_, err := eng.Apply(ctx, ApplyRequest{PolicyIDs: []string{"dns-001"}}, nil)
	require.NoError(t, err)

	result, err := eng.Revert(ctx, RevertRequest{Selector: RevertSelector{PolicyIDs: []string{"dns-001"}}})
	require.NoError(t, err)
	require.Equal(t, []string{"dns-001"}, result.Applied)

	applied, _ := fake.ProbeApplied(ctx, &policy.Policy{PolicyID: "dns-001"})
	require.False(t, applied)
}

func TestDetectDriftFindsReappliedPolicyMissing(t *testing.T) {
	eng, fake := newTestEngine(t, []policy.Policy{testPolicy("dns-001")})
	ctx := context.Background()

	_, err := eng.CreateSnapshot(ctx, CreateSnapshotRequest{Description: "baseline"})
	require.NoError(t, err)

	// No policy applied yet, so the baseline snapshot should show nothing
	// drifted (nothing was promised as applied).
	drift, err := eng.DetectDrift(ctx, "")
	require.NoError(t, err)
	require.Empty(t, drift.Items)

	_, err = eng.Apply(ctx, ApplyRequest{PolicyIDs: []string{"dns-001"}}, nil)
	require.NoError(t, err)

	snap2, err := eng.CreateSnapshot(ctx, CreateSnapshotRequest{Description: "post-apply"})
	require.NoError(t, err)

	// Simulate an external reversal of the applied change.
	fake.mu.Lock()
	fake.applied["dns-001"] = false
	fake.mu.Unlock()

	drift, err = eng.DetectDrift(ctx, snap2.SnapshotID)
	require.NoError(t, err)
	require.Len(t, drift.Items, 1)
	require.Equal(t, "dns-001", drift.Items[0].PolicyID)
}

func TestApplyRejectsConflictingSelection(t *testing.T) {
	p1 := testPolicy("dns-001")
	p1.Dependencies = []policy.DependencyEdge{{OtherPolicyID: "dns-002", Kind: policy.DependencyConflict}}
	p2 := testPolicy("dns-002")

	eng, _ := newTestEngine(t, []policy.Policy{p1, p2})
	_, err := eng.Apply(context.Background(), ApplyRequest{PolicyIDs: []string{"dns-001", "dns-002"}}, nil)
	require.Error(t, err)
}

func TestApplyContinueOnErrorSkipsFailedPolicy(t *testing.T) {
	eng, fake := newTestEngine(t, []policy.Policy{testPolicy("dns-001"), testPolicy("dns-002")})
	fake.applyErr = context.DeadlineExceeded

	result, err := eng.Apply(context.Background(), ApplyRequest{
		PolicyIDs:       []string{"dns-001", "dns-002"},
		ContinueOnError: true,
	}, nil)
	require.NoError(t, err)
	require.Empty(t, result.Applied)
	require.ElementsMatch(t, []string{"dns-001", "dns-002"}, result.Failed)
}

func TestApplyNotApplicablePolicyIsSkippedWithWarning(t *testing.T) {
	p := testPolicy("dns-001")
	p.Applicability.MinBuild = 99999
	eng, _ := newTestEngine(t, []policy.Policy{p})

	result, err := eng.Apply(context.Background(), ApplyRequest{PolicyIDs: []string{"dns-001"}}, nil)
	require.NoError(t, err)
	require.Empty(t, result.Applied)
	require.NotEmpty(t, result.Warnings)
}

func TestGetStateReportsAppliedPolicies(t *testing.T) {
	eng, _ := newTestEngine(t, []policy.Policy{testPolicy("dns-001")})
	ctx := context.Background()

	_, err := eng.Apply(ctx, ApplyRequest{PolicyIDs: []string{"dns-001"}}, nil)
	require.NoError(t, err)

	state, err := eng.GetState(ctx, GetStateRequest{})
	require.NoError(t, err)
	require.Equal(t, []string{"dns-001"}, state.Applied)
}
