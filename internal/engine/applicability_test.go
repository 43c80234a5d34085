package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openfroyo/froyo-guard/internal/policy"
	"github.com/openfroyo/froyo-guard/internal/sysinfo"
)

func basePolicy() *policy.Policy {
	return &policy.Policy{
		PolicyID: "dns-001",
		Applicability: policy.Applicability{
			MinBuild:      19041,
			SupportedSKUs: []string{"Professional", "Enterprise"},
		},
	}
}

func TestCheckApplicabilityMinBuildBoundary(t *testing.T) {
	p := basePolicy()
	info := &sysinfo.Info{BuildNumber: 19041, SKU: "Professional"}
	ok, reason := checkApplicability(p, info)
	assert.True(t, ok)
	assert.Empty(t, reason)

	info.BuildNumber = 19040
	ok, reason = checkApplicability(p, info)
	assert.False(t, ok)
	assert.Equal(t, "host build below minimum required build", reason)
}

func TestCheckApplicabilityMaxBuildBoundary(t *testing.T) {
	p := basePolicy()
	p.Applicability.MaxBuild = 22621
	info := &sysinfo.Info{BuildNumber: 22621, SKU: "Professional"}
	ok, _ := checkApplicability(p, info)
	assert.True(t, ok)

	info.BuildNumber = 22622
	ok, reason := checkApplicability(p, info)
	assert.False(t, ok)
	assert.Equal(t, "host build above maximum supported build", reason)
}

func TestCheckApplicabilityDeprecated(t *testing.T) {
	p := basePolicy()
	p.Applicability.DeprecatedAsOf = 26100
	info := &sysinfo.Info{BuildNumber: 26100, SKU: "Professional"}
	ok, reason := checkApplicability(p, info)
	assert.False(t, ok)
	assert.Equal(t, "policy is deprecated as of this build", reason)

	info.BuildNumber = 26099
	ok, _ = checkApplicability(p, info)
	assert.True(t, ok)
}

func TestCheckApplicabilitySKUs(t *testing.T) {
	p := basePolicy()
	info := &sysinfo.Info{BuildNumber: 19041, SKU: "Home"}
	ok, reason := checkApplicability(p, info)
	assert.False(t, ok)
	assert.Equal(t, "host SKU not in supported_skus", reason)

	p.Applicability.SupportedSKUs = []string{"*"}
	ok, _ = checkApplicability(p, info)
	assert.True(t, ok)

	p.Applicability.ExcludedSKUs = []string{"Home"}
	ok, reason = checkApplicability(p, info)
	assert.False(t, ok)
	assert.Equal(t, "host SKU is in excluded_skus", reason)
}

func TestCheckApplicabilityRequiresDevice(t *testing.T) {
	p := basePolicy()
	p.Applicability.RequiresDevice = true
	info := &sysinfo.Info{BuildNumber: 19041, SKU: "Professional", IsDomainJoined: true}
	ok, reason := checkApplicability(p, info)
	assert.False(t, ok)
	assert.Equal(t, "policy requires a non-domain-joined device", reason)

	info.IsDomainJoined = false
	ok, _ = checkApplicability(p, info)
	assert.True(t, ok)
}

func TestCheckApplicabilityZeroBuildNumberSkipsBuildChecks(t *testing.T) {
	p := basePolicy()
	info := &sysinfo.Info{BuildNumber: 0, SKU: "Professional"}
	ok, _ := checkApplicability(p, info)
	assert.True(t, ok)
}
