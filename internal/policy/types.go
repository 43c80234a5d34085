// Package policy defines the declarative policy record loaded from the
// catalog: the mechanism-agnostic metadata plus the mechanism-specific
// parameter payload described in spec.md §3.
package policy

import (
	"encoding/json"
	"regexp"
)

// RiskLevel is the declared risk of applying a policy.
type RiskLevel string

const (
	RiskLow      RiskLevel = "Low"
	RiskMedium   RiskLevel = "Medium"
	RiskHigh     RiskLevel = "High"
	RiskCritical RiskLevel = "Critical"
)

// SupportStatus is the lifecycle status of a policy within the catalog.
type SupportStatus string

const (
	SupportSupported  SupportStatus = "Supported"
	SupportExperimental SupportStatus = "Experimental"
	SupportDeprecated SupportStatus = "Deprecated"
)

// Mechanism identifies the OS surface a policy mutates.
type Mechanism string

const (
	MechanismRegistry      Mechanism = "Registry"
	MechanismService       Mechanism = "Service"
	MechanismScheduledTask Mechanism = "ScheduledTask"
	MechanismFirewall      Mechanism = "Firewall"
	MechanismScript        Mechanism = "Script"
	MechanismGroupPolicy   Mechanism = "GroupPolicy"
	MechanismMDM           Mechanism = "MDM"
	MechanismHostsFile     Mechanism = "HostsFile"
	MechanismWFPDriver     Mechanism = "WFPDriver"
)

// DependencyKind classifies an edge between two policies.
type DependencyKind string

const (
	DependencyRequired    DependencyKind = "Required"
	DependencyRecommended DependencyKind = "Recommended"
	DependencyConflict    DependencyKind = "Conflict"
)

// DependencyEdge is one declared relationship from a policy to another.
type DependencyEdge struct {
	OtherPolicyID   string         `yaml:"other_policy_id" json:"other_policy_id" validate:"required"`
	Kind            DependencyKind `yaml:"kind" json:"kind" validate:"required,oneof=Required Recommended Conflict"`
	UserOverridable bool           `yaml:"user_overridable" json:"user_overridable"`
	Optional        bool           `yaml:"optional" json:"optional"`
	AutoSelect      bool           `yaml:"auto_select" json:"auto_select"`
	Reason          string         `yaml:"reason" json:"reason"`
}

// Gates returns true if this edge participates in the gating dependency
// graph walked by the resolver: Required edges always gate, Recommended
// edges gate only when not user-overridable. Conflict edges never gate.
func (e DependencyEdge) Gates() bool {
	if e.Kind == DependencyRequired {
		return true
	}
	if e.Kind == DependencyRecommended && !e.UserOverridable {
		return true
	}
	return false
}

// AllowedValue is one selectable value of a parameterized policy.
type AllowedValue struct {
	Value       string `yaml:"value" json:"value" validate:"required"`
	Label       string `yaml:"label" json:"label" validate:"required"`
	Description string `yaml:"description" json:"description" validate:"required"`
}

// KnownBreakage describes a scenario where applying the policy is known to
// break something.
type KnownBreakage struct {
	Severity    string `yaml:"severity" json:"severity"`
	Description string `yaml:"description" json:"description"`
}

// Applicability gates whether a policy is meaningful on the current system.
type Applicability struct {
	MinBuild         int      `yaml:"min_build" json:"min_build" validate:"required,gt=0"`
	MaxBuild         int      `yaml:"max_build,omitempty" json:"max_build,omitempty"`
	SupportedSKUs    []string `yaml:"supported_skus" json:"supported_skus" validate:"required,min=1"`
	ExcludedSKUs     []string `yaml:"excluded_skus,omitempty" json:"excluded_skus,omitempty"`
	RequiresDevice   bool     `yaml:"requires_device,omitempty" json:"requires_device,omitempty"`
	DeprecatedAsOf   int      `yaml:"deprecated_as_of,omitempty" json:"deprecated_as_of,omitempty"`
}

// Reversibility describes whether and how a policy can be reverted.
type Reversibility struct {
	Reversible      bool   `yaml:"reversible" json:"reversible"`
	Description     string `yaml:"description" json:"description"`
	RequiresRestart bool   `yaml:"requires_restart,omitempty" json:"requires_restart,omitempty"`
}

// ControlFlags are the granular-control invariants enforced at load time
// (spec.md §4.1, §9 Glossary).
type ControlFlags struct {
	AutoApply           bool `yaml:"auto_apply" json:"auto_apply"`
	RequiresConfirmation bool `yaml:"requires_confirmation" json:"requires_confirmation"`
	ShowInUI            bool `yaml:"show_in_ui" json:"show_in_ui"`
	EnabledByDefault    bool `yaml:"enabled_by_default" json:"enabled_by_default"`
	UserMustChoose      bool `yaml:"user_must_choose,omitempty" json:"user_must_choose,omitempty"`
}

// ServiceFacetOption is a per-facet selectable option for Service/Task
// mechanism payloads (spec.md §3 "Optional parameterization").
type ServiceFacetOption struct {
	Facet        string   `yaml:"facet" json:"facet"`
	Options      []string `yaml:"options" json:"options"`
	SelectedValue string  `yaml:"selected_value" json:"selected_value"`
}

// Policy is the declarative record for one OS-level change, keyed by a
// stable identifier of the form "<category>-<nnn>".
type Policy struct {
	PolicyID    string `yaml:"policy_id" json:"policy_id" validate:"required"`
	Version     string `yaml:"version" json:"version" validate:"required"`
	Name        string `yaml:"name" json:"name" validate:"required"`
	Description string `yaml:"description" json:"description" validate:"required"`
	Category    string `yaml:"category" json:"category"`
	Tags        []string `yaml:"tags,omitempty" json:"tags,omitempty"`

	Mechanism        Mechanism       `yaml:"mechanism" json:"mechanism" validate:"required"`
	MechanismParams  json.RawMessage `yaml:"mechanism_params" json:"mechanism_params"`

	RiskLevel      RiskLevel     `yaml:"risk_level" json:"risk_level" validate:"required,oneof=Low Medium High Critical"`
	SupportStatus  SupportStatus `yaml:"support_status" json:"support_status" validate:"required,oneof=Supported Experimental Deprecated"`

	Applicability Applicability `yaml:"applicability" json:"applicability"`

	Reversibility Reversibility   `yaml:"reversibility" json:"reversibility"`
	KnownBreakage []KnownBreakage `yaml:"known_breakage,omitempty" json:"known_breakage,omitempty"`

	Dependencies []DependencyEdge `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`

	Control  ControlFlags `yaml:"control" json:"control"`
	HelpText string       `yaml:"help_text,omitempty" json:"help_text,omitempty"`

	AllowedValues []AllowedValue       `yaml:"allowed_values,omitempty" json:"allowed_values,omitempty"`
	FacetOptions  []ServiceFacetOption `yaml:"facet_options,omitempty" json:"facet_options,omitempty"`

	ExpectedValue string `yaml:"expected_value,omitempty" json:"expected_value,omitempty"`
}

// policyIDPattern matches "<category>-<nnn>" per spec.md §4.1/§8.
var policyIDPattern = regexp.MustCompile(`^[a-z]+-\d{3}$`)

// semverPattern matches MAJOR.MINOR.PATCH.
var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// ValidIDFormat reports whether the policy id matches the required shape.
func ValidIDFormat(id string) bool {
	return policyIDPattern.MatchString(id)
}

// ValidVersionFormat reports whether the version string is semantic.
func ValidVersionFormat(v string) bool {
	return semverPattern.MatchString(v)
}
