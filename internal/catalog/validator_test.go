package catalog

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/froyo-guard/internal/engineerr"
	"github.com/openfroyo/froyo-guard/internal/executor"
	"github.com/openfroyo/froyo-guard/internal/policy"
)

func validRegistryPolicy(id string) policy.Policy {
	params, _ := json.Marshal(executor.RegistryParams{
		Hive:         "HKLM",
		KeyPath:      `SOFTWARE\Policies\Microsoft\Windows\DataCollection`,
		ValueName:    "AllowTelemetry",
		ValueType:    "REG_DWORD",
		ExpectedData: "0",
	})
	return policy.Policy{
		PolicyID:        id,
		Version:         "1.0.0",
		Name:            "Disable telemetry",
		Description:     "Sets AllowTelemetry to 0.",
		Mechanism:       policy.MechanismRegistry,
		MechanismParams: params,
		RiskLevel:       policy.RiskLow,
		SupportStatus:   policy.SupportSupported,
		Applicability: policy.Applicability{
			MinBuild:      19041,
			SupportedSKUs: []string{"*"},
		},
		Reversibility: policy.Reversibility{Reversible: true, Description: "restores prior value"},
		Control: policy.ControlFlags{
			AutoApply:            false,
			RequiresConfirmation: true,
			ShowInUI:             true,
			EnabledByDefault:     false,
		},
	}
}

func TestValidatePolicyAccepted(t *testing.T) {
	p := validRegistryPolicy("tel-001")
	assert.NoError(t, ValidatePolicy(&p))
}

func TestValidatePolicyRejectsBadIDFormat(t *testing.T) {
	p := validRegistryPolicy("Telemetry1")
	err := ValidatePolicy(&p)
	require.Error(t, err)
	var classified *engineerr.Error
	require.ErrorAs(t, err, &classified)
	assert.Equal(t, "policy_id_format", classified.Details["invariant"])
}

func TestValidatePolicyRejectsBadVersion(t *testing.T) {
	p := validRegistryPolicy("tel-001")
	p.Version = "v1"
	err := ValidatePolicy(&p)
	require.Error(t, err)
	var classified *engineerr.Error
	require.ErrorAs(t, err, &classified)
	assert.Equal(t, "version_format", classified.Details["invariant"])
}

func TestValidatePolicyGranularControlInvariants(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(p *policy.Policy)
		invariant string
	}{
		{"auto_apply must be false", func(p *policy.Policy) { p.Control.AutoApply = true }, "auto_apply"},
		{"requires_confirmation must be true", func(p *policy.Policy) { p.Control.RequiresConfirmation = false }, "requires_confirmation"},
		{"show_in_ui must be true", func(p *policy.Policy) { p.Control.ShowInUI = false }, "show_in_ui"},
		{"enabled_by_default must be false", func(p *policy.Policy) { p.Control.EnabledByDefault = true }, "enabled_by_default"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validRegistryPolicy("tel-001")
			tt.mutate(&p)
			err := ValidatePolicy(&p)
			require.Error(t, err)
			var classified *engineerr.Error
			require.ErrorAs(t, err, &classified)
			assert.Equal(t, tt.invariant, classified.Details["invariant"])
		})
	}
}

func TestValidatePolicyCriticalRiskRequiresHelpTextAndChoice(t *testing.T) {
	p := validRegistryPolicy("tel-001")
	p.RiskLevel = policy.RiskCritical

	err := ValidatePolicy(&p)
	require.Error(t, err)
	var classified *engineerr.Error
	require.ErrorAs(t, err, &classified)
	assert.Equal(t, "critical_help_text", classified.Details["invariant"])

	p.HelpText = "disabling this may break telemetry-dependent diagnostics"
	err = ValidatePolicy(&p)
	require.Error(t, err)
	require.ErrorAs(t, err, &classified)
	assert.Equal(t, "critical_user_must_choose", classified.Details["invariant"])

	p.Control.UserMustChoose = true
	assert.NoError(t, ValidatePolicy(&p))
}

func TestValidatePolicyParameterizationRequiresTwoDistinctValues(t *testing.T) {
	p := validRegistryPolicy("tel-001")
	p.AllowedValues = []policy.AllowedValue{
		{Value: "0", Label: "Off", Description: "telemetry disabled"},
	}
	err := ValidatePolicy(&p)
	require.Error(t, err)
	var classified *engineerr.Error
	require.ErrorAs(t, err, &classified)
	assert.Equal(t, "allowed_values_count", classified.Details["invariant"])

	p.AllowedValues = append(p.AllowedValues, policy.AllowedValue{Value: "0", Label: "Off again", Description: "dup"})
	err = ValidatePolicy(&p)
	require.Error(t, err)
	require.ErrorAs(t, err, &classified)
	assert.Equal(t, "allowed_values_distinct", classified.Details["invariant"])

	p.AllowedValues[1] = policy.AllowedValue{Value: "1", Label: "Basic", Description: "basic telemetry"}
	assert.NoError(t, ValidatePolicy(&p))
}

func TestValidateCatalogRejectsDuplicateIDs(t *testing.T) {
	policies := []policy.Policy{validRegistryPolicy("tel-001"), validRegistryPolicy("tel-001")}
	err := ValidateCatalog(policies)
	require.Error(t, err)
	var classified *engineerr.Error
	require.ErrorAs(t, err, &classified)
	assert.Equal(t, engineerr.CodeDuplicatePolicyID, classified.Code)
}

func TestValidateCatalogAcceptsDistinctPolicies(t *testing.T) {
	policies := []policy.Policy{validRegistryPolicy("tel-001"), validRegistryPolicy("tel-002")}
	assert.NoError(t, ValidateCatalog(policies))
}
