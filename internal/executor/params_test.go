package executor

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openfroyo/froyo-guard/internal/policy"
)

func TestValidateParamsAllMechanismsAccepted(t *testing.T) {
	tests := []struct {
		mechanism policy.Mechanism
		params    interface{}
	}{
		{policy.MechanismRegistry, RegistryParams{Hive: "HKLM", KeyPath: `SOFTWARE\X`, ValueName: "V", ValueType: "REG_DWORD"}},
		{policy.MechanismService, ServiceParams{ServiceName: "DiagTrack", StartType: "Disabled"}},
		{policy.MechanismScheduledTask, ScheduledTaskParams{TaskPath: `\Microsoft\Windows\X`, Facet: TaskFacetDisable}},
		{policy.MechanismFirewall, FirewallParams{RuleName: "Block-X", Direction: "Outbound", Action: "Block"}},
		{policy.MechanismScript, ScriptParams{ApplyScript: "apply.ps1", TimeoutSec: 30}},
		{policy.MechanismGroupPolicy, GroupPolicyParams{GPOPath: `Computer\X`, SettingName: "Setting"}},
		{policy.MechanismMDM, MDMParams{CSPURI: "./Vendor/MSFT/Policy/Config/X"}},
		{policy.MechanismHostsFile, HostsFileParams{Hostnames: []string{"telemetry.example.com"}}},
		{policy.MechanismWFPDriver, WFPDriverParams{FilterName: "block-x", Layer: "FWPM_LAYER_ALE_AUTH_CONNECT_V4"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.mechanism), func(t *testing.T) {
			raw, err := json.Marshal(tt.params)
			assert.NoError(t, err)
			assert.NoError(t, ValidateParams(tt.mechanism, raw))
		})
	}
}

func TestValidateParamsRejectsMissingRequiredFields(t *testing.T) {
	tests := []struct {
		mechanism policy.Mechanism
		params    interface{}
	}{
		{policy.MechanismRegistry, RegistryParams{Hive: "HKLM"}},
		{policy.MechanismService, ServiceParams{}},
		{policy.MechanismScheduledTask, ScheduledTaskParams{TaskPath: `\X`}},
		{policy.MechanismFirewall, FirewallParams{RuleName: "X", Direction: "Sideways", Action: "Block"}},
		{policy.MechanismScript, ScriptParams{}},
		{policy.MechanismGroupPolicy, GroupPolicyParams{GPOPath: "X"}},
		{policy.MechanismMDM, MDMParams{}},
		{policy.MechanismHostsFile, HostsFileParams{}},
		{policy.MechanismWFPDriver, WFPDriverParams{FilterName: "X"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.mechanism), func(t *testing.T) {
			raw, err := json.Marshal(tt.params)
			assert.NoError(t, err)
			assert.Error(t, ValidateParams(tt.mechanism, raw))
		})
	}
}

func TestValidateParamsRejectsUnrecognizedMechanism(t *testing.T) {
	assert.Error(t, ValidateParams(policy.Mechanism("Teleport"), json.RawMessage(`{}`)))
}

func TestServiceParamsAllowsEmptyStartType(t *testing.T) {
	raw, _ := json.Marshal(ServiceParams{ServiceName: "DiagTrack"})
	assert.NoError(t, ValidateParams(policy.MechanismService, raw))
}

func TestScriptParamsRejectsNegativeTimeout(t *testing.T) {
	raw, _ := json.Marshal(ScriptParams{ApplyScript: "apply.ps1", TimeoutSec: -1})
	assert.Error(t, ValidateParams(policy.MechanismScript, raw))
}
