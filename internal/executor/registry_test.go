package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/froyo-guard/internal/changelog"
	"github.com/openfroyo/froyo-guard/internal/policy"
)

type stubExecutor struct{}

func (stubExecutor) ProbeApplied(context.Context, *policy.Policy) (bool, error)   { return true, nil }
func (stubExecutor) GetCurrentValue(context.Context, *policy.Policy) (string, error) { return "", nil }
func (stubExecutor) Apply(context.Context, *policy.Policy) (*changelog.ChangeRecord, error) {
	return nil, nil
}
func (stubExecutor) Revert(context.Context, *policy.Policy, *changelog.ChangeRecord) (*changelog.ChangeRecord, error) {
	return nil, nil
}

func TestNewRegistryCoversEveryMechanism(t *testing.T) {
	r := NewRegistry()
	for _, m := range []policy.Mechanism{
		policy.MechanismRegistry, policy.MechanismService, policy.MechanismScheduledTask,
		policy.MechanismFirewall, policy.MechanismScript, policy.MechanismGroupPolicy,
		policy.MechanismMDM, policy.MechanismHostsFile, policy.MechanismWFPDriver,
	} {
		ex, err := r.For(&policy.Policy{Mechanism: m})
		require.NoError(t, err, "mechanism=%s", m)
		assert.NotNil(t, ex)
	}
}

func TestRegistryForUnknownMechanism(t *testing.T) {
	r := NewRegistry()
	_, err := r.For(&policy.Policy{Mechanism: policy.Mechanism("Teleport")})
	assert.Error(t, err)
}

func TestRegistryRegisterOverridesExecutor(t *testing.T) {
	r := NewRegistry()
	r.Register(policy.MechanismRegistry, stubExecutor{})

	ex, err := r.For(&policy.Policy{Mechanism: policy.MechanismRegistry})
	require.NoError(t, err)
	applied, err := ex.ProbeApplied(context.Background(), &policy.Policy{})
	require.NoError(t, err)
	assert.True(t, applied)
}
