package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/froyo-guard/internal/engineerr"
	"github.com/openfroyo/froyo-guard/internal/policy"
)

func policyWithDeps(id string, deps ...policy.DependencyEdge) policy.Policy {
	return policy.Policy{PolicyID: id, Dependencies: deps}
}

func TestResolveExpandsRequiredDependencies(t *testing.T) {
	policies := []policy.Policy{
		policyWithDeps("dns-001", policy.DependencyEdge{OtherPolicyID: "net-001", Kind: policy.DependencyRequired}),
		policyWithDeps("net-001"),
	}
	r := NewResolver(policies)

	res, err := r.Resolve([]string{"dns-001"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"dns-001", "net-001"}, res.PolicyIDs)
	require.Len(t, res.Levels, 2)
	assert.Equal(t, []string{"net-001"}, res.Levels[0])
	assert.Equal(t, []string{"dns-001"}, res.Levels[1])
}

func TestResolveNonOverridableRecommendedGates(t *testing.T) {
	policies := []policy.Policy{
		policyWithDeps("dns-001", policy.DependencyEdge{OtherPolicyID: "net-001", Kind: policy.DependencyRecommended, UserOverridable: false}),
		policyWithDeps("net-001"),
	}
	r := NewResolver(policies)

	res, err := r.Resolve([]string{"dns-001"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"dns-001", "net-001"}, res.PolicyIDs)
}

func TestResolveOverridableRecommendedDoesNotGate(t *testing.T) {
	policies := []policy.Policy{
		policyWithDeps("dns-001", policy.DependencyEdge{OtherPolicyID: "net-001", Kind: policy.DependencyRecommended, UserOverridable: true}),
		policyWithDeps("net-001"),
	}
	r := NewResolver(policies)

	res, err := r.Resolve([]string{"dns-001"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"dns-001"}, res.PolicyIDs)
	require.Len(t, res.Recommended, 1)
	assert.Equal(t, "net-001", res.Recommended[0].OtherPolicyID)
}

func TestResolveConflictSurfacedNotGating(t *testing.T) {
	policies := []policy.Policy{
		policyWithDeps("dns-001", policy.DependencyEdge{OtherPolicyID: "dns-002", Kind: policy.DependencyConflict, Reason: "mutually exclusive resolvers"}),
		policyWithDeps("dns-002"),
	}
	r := NewResolver(policies)

	res, err := r.Resolve([]string{"dns-001"})
	require.NoError(t, err)
	assert.Equal(t, []string{"dns-001"}, res.PolicyIDs)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, "dns-002", res.Conflicts[0].OtherPolicyID)
}

func TestResolveUnknownPolicyID(t *testing.T) {
	r := NewResolver([]policy.Policy{policyWithDeps("dns-001")})
	_, err := r.Resolve([]string{"ghost-001"})
	require.Error(t, err)

	var classified *engineerr.Error
	require.ErrorAs(t, err, &classified)
	assert.Equal(t, engineerr.CodeUnknownPolicy, classified.Code)
}

func TestResolveRequiredCycleRejected(t *testing.T) {
	policies := []policy.Policy{
		policyWithDeps("a-001", policy.DependencyEdge{OtherPolicyID: "b-001", Kind: policy.DependencyRequired}),
		policyWithDeps("b-001", policy.DependencyEdge{OtherPolicyID: "a-001", Kind: policy.DependencyRequired}),
	}
	r := NewResolver(policies)

	_, err := r.Resolve([]string{"a-001"})
	require.Error(t, err)

	var classified *engineerr.Error
	require.ErrorAs(t, err, &classified)
	assert.Equal(t, engineerr.CodeCircularDependency, classified.Code)
}

func TestResolveOverridableRecommendedCycleLoadsClean(t *testing.T) {
	policies := []policy.Policy{
		policyWithDeps("a-001", policy.DependencyEdge{OtherPolicyID: "b-001", Kind: policy.DependencyRecommended, UserOverridable: true}),
		policyWithDeps("b-001", policy.DependencyEdge{OtherPolicyID: "a-001", Kind: policy.DependencyRecommended, UserOverridable: true}),
	}
	r := NewResolver(policies)

	res, err := r.Resolve([]string{"a-001"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a-001"}, res.PolicyIDs)
	assert.Len(t, res.Recommended, 1)
}

func TestResolveMultiLevelOrdering(t *testing.T) {
	policies := []policy.Policy{
		policyWithDeps("top-001",
			policy.DependencyEdge{OtherPolicyID: "mid-001", Kind: policy.DependencyRequired},
		),
		policyWithDeps("mid-001",
			policy.DependencyEdge{OtherPolicyID: "base-001", Kind: policy.DependencyRequired},
		),
		policyWithDeps("base-001"),
	}
	r := NewResolver(policies)

	res, err := r.Resolve([]string{"top-001"})
	require.NoError(t, err)
	require.Len(t, res.Levels, 3)
	assert.Equal(t, []string{"base-001"}, res.Levels[0])
	assert.Equal(t, []string{"mid-001"}, res.Levels[1])
	assert.Equal(t, []string{"top-001"}, res.Levels[2])
}
