package executor

import (
	"encoding/json"
	"fmt"

	"github.com/openfroyo/froyo-guard/internal/policy"
)

// RegistryParams is the mechanism_params payload for Mechanism=Registry.
type RegistryParams struct {
	Hive         string `json:"hive"`
	KeyPath      string `json:"key_path"`
	ValueName    string `json:"value_name"`
	ValueType    string `json:"value_type"`
	ExpectedData string `json:"expected_data"`
}

func (p *RegistryParams) ParseParams(raw json.RawMessage) error {
	if err := json.Unmarshal(raw, p); err != nil {
		return fmt.Errorf("registry params: %w", err)
	}
	if p.Hive == "" || p.KeyPath == "" || p.ValueName == "" || p.ValueType == "" {
		return fmt.Errorf("registry params: hive, key_path, value_name, and value_type are required")
	}
	return nil
}

// ServiceParams is the mechanism_params payload for Mechanism=Service.
type ServiceParams struct {
	ServiceName string `json:"service_name"`
	StartType   string `json:"start_type"`
}

func (p *ServiceParams) ParseParams(raw json.RawMessage) error {
	if err := json.Unmarshal(raw, p); err != nil {
		return fmt.Errorf("service params: %w", err)
	}
	if p.ServiceName == "" {
		return fmt.Errorf("service params: service_name is required")
	}
	switch p.StartType {
	case "Automatic", "Manual", "Disabled", "":
	default:
		return fmt.Errorf("service params: unrecognized start_type %q", p.StartType)
	}
	return nil
}

// ScheduledTaskFacet is the selected_value domain for Mechanism=ScheduledTask
// (spec.md §4.3).
type ScheduledTaskFacet string

const (
	TaskFacetDisable       ScheduledTaskFacet = "Disable"
	TaskFacetDelete        ScheduledTaskFacet = "Delete"
	TaskFacetModifyTrigger ScheduledTaskFacet = "ModifyTriggers"
	TaskFacetExportOnly    ScheduledTaskFacet = "ExportOnly"
)

// ScheduledTaskParams is the mechanism_params payload for
// Mechanism=ScheduledTask.
type ScheduledTaskParams struct {
	TaskPath string             `json:"task_path"`
	Facet    ScheduledTaskFacet `json:"facet"`
}

func (p *ScheduledTaskParams) ParseParams(raw json.RawMessage) error {
	if err := json.Unmarshal(raw, p); err != nil {
		return fmt.Errorf("scheduled task params: %w", err)
	}
	if p.TaskPath == "" {
		return fmt.Errorf("scheduled task params: task_path is required")
	}
	switch p.Facet {
	case TaskFacetDisable, TaskFacetDelete, TaskFacetModifyTrigger, TaskFacetExportOnly:
	default:
		return fmt.Errorf("scheduled task params: unrecognized facet %q", p.Facet)
	}
	return nil
}

// FirewallParams is the mechanism_params payload for Mechanism=Firewall.
type FirewallParams struct {
	RuleName  string `json:"rule_name"`
	Direction string `json:"direction"`
	Action    string `json:"action"`
	Profile   string `json:"profile"`
}

func (p *FirewallParams) ParseParams(raw json.RawMessage) error {
	if err := json.Unmarshal(raw, p); err != nil {
		return fmt.Errorf("firewall params: %w", err)
	}
	if p.RuleName == "" {
		return fmt.Errorf("firewall params: rule_name is required")
	}
	switch p.Direction {
	case "Inbound", "Outbound":
	default:
		return fmt.Errorf("firewall params: direction must be Inbound or Outbound")
	}
	switch p.Action {
	case "Allow", "Block":
	default:
		return fmt.Errorf("firewall params: action must be Allow or Block")
	}
	return nil
}

// ScriptParams is the mechanism_params payload for Mechanism=Script.
type ScriptParams struct {
	ApplyScript  string   `json:"apply_script"`
	RevertScript string   `json:"revert_script"`
	ProbeScript  string   `json:"probe_script"`
	Args         []string `json:"args,omitempty"`
	TimeoutSec   int      `json:"timeout_seconds"`
}

func (p *ScriptParams) ParseParams(raw json.RawMessage) error {
	if err := json.Unmarshal(raw, p); err != nil {
		return fmt.Errorf("script params: %w", err)
	}
	if p.ApplyScript == "" {
		return fmt.Errorf("script params: apply_script is required")
	}
	if p.TimeoutSec < 0 {
		return fmt.Errorf("script params: timeout_seconds must not be negative")
	}
	return nil
}

// GroupPolicyParams is the mechanism_params payload for
// Mechanism=GroupPolicy.
type GroupPolicyParams struct {
	GPOPath     string `json:"gpo_path"`
	SettingName string `json:"setting_name"`
	Value       string `json:"value"`
}

func (p *GroupPolicyParams) ParseParams(raw json.RawMessage) error {
	if err := json.Unmarshal(raw, p); err != nil {
		return fmt.Errorf("group policy params: %w", err)
	}
	if p.GPOPath == "" || p.SettingName == "" {
		return fmt.Errorf("group policy params: gpo_path and setting_name are required")
	}
	return nil
}

// MDMParams is the mechanism_params payload for Mechanism=MDM.
type MDMParams struct {
	CSPURI string `json:"csp_uri"`
	Value  string `json:"value"`
}

func (p *MDMParams) ParseParams(raw json.RawMessage) error {
	if err := json.Unmarshal(raw, p); err != nil {
		return fmt.Errorf("mdm params: %w", err)
	}
	if p.CSPURI == "" {
		return fmt.Errorf("mdm params: csp_uri is required")
	}
	return nil
}

// HostsFileParams is the mechanism_params payload for Mechanism=HostsFile.
type HostsFileParams struct {
	Hostnames []string `json:"hostnames"`
	IPAddress string   `json:"ip_address"`
}

func (p *HostsFileParams) ParseParams(raw json.RawMessage) error {
	if err := json.Unmarshal(raw, p); err != nil {
		return fmt.Errorf("hosts file params: %w", err)
	}
	if len(p.Hostnames) == 0 {
		return fmt.Errorf("hosts file params: at least one hostname is required")
	}
	return nil
}

// WFPDriverParams is the mechanism_params payload for Mechanism=WFPDriver.
type WFPDriverParams struct {
	FilterName string `json:"filter_name"`
	Layer      string `json:"layer"`
	Action     string `json:"action"`
	Weight     int    `json:"weight"`
}

func (p *WFPDriverParams) ParseParams(raw json.RawMessage) error {
	if err := json.Unmarshal(raw, p); err != nil {
		return fmt.Errorf("wfp driver params: %w", err)
	}
	if p.FilterName == "" || p.Layer == "" {
		return fmt.Errorf("wfp driver params: filter_name and layer are required")
	}
	return nil
}

// ValidateParams parses and validates a raw mechanism_params payload
// against the schema for the given mechanism. The catalog validator calls
// it, so a policy whose params fail to validate is rejected at load time,
// before any executor sees it.
func ValidateParams(mechanism policy.Mechanism, raw json.RawMessage) error {
	parser, err := newParamParser(mechanism)
	if err != nil {
		return err
	}
	return parser.ParseParams(raw)
}

func newParamParser(mechanism policy.Mechanism) (ParamParser, error) {
	switch mechanism {
	case policy.MechanismRegistry:
		return &RegistryParams{}, nil
	case policy.MechanismService:
		return &ServiceParams{}, nil
	case policy.MechanismScheduledTask:
		return &ScheduledTaskParams{}, nil
	case policy.MechanismFirewall:
		return &FirewallParams{}, nil
	case policy.MechanismScript:
		return &ScriptParams{}, nil
	case policy.MechanismGroupPolicy:
		return &GroupPolicyParams{}, nil
	case policy.MechanismMDM:
		return &MDMParams{}, nil
	case policy.MechanismHostsFile:
		return &HostsFileParams{}, nil
	case policy.MechanismWFPDriver:
		return &WFPDriverParams{}, nil
	default:
		return nil, fmt.Errorf("unrecognized mechanism %q", mechanism)
	}
}
