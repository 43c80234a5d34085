package catalog

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/froyo-guard/internal/engineerr"
	"github.com/openfroyo/froyo-guard/internal/executor"
	"github.com/openfroyo/froyo-guard/internal/policy"
)

// structValidator runs struct-tag validation; it has no cross-record
// context so it only covers the schema checks that are local to one
// policy (spec.md §4.1).
var structValidator = validator.New()

// ValidatePolicy enforces the schema and granular-control invariants of
// spec.md §4.1 against a single policy. It does not check catalog-wide
// uniqueness; call ValidateCatalog for that.
func ValidatePolicy(p *policy.Policy) error {
	if err := structValidator.Struct(p); err != nil {
		return engineerr.New(engineerr.ClassPermanent, "schema violation", err).
			WithCode(engineerr.CodeSchemaViolation).
			WithPolicy(p.PolicyID).
			WithDetail("invariant", "struct-tags")
	}

	if !policy.ValidIDFormat(p.PolicyID) {
		return engineerr.New(engineerr.ClassPermanent,
			fmt.Sprintf("policy_id %q does not match ^[a-z]+-\\d{3}$", p.PolicyID), nil).
			WithCode(engineerr.CodeSchemaViolation).
			WithPolicy(p.PolicyID).
			WithDetail("invariant", "policy_id_format")
	}

	if !policy.ValidVersionFormat(p.Version) {
		return engineerr.New(engineerr.ClassPermanent,
			fmt.Sprintf("version %q is not MAJOR.MINOR.PATCH", p.Version), nil).
			WithCode(engineerr.CodeSchemaViolation).
			WithPolicy(p.PolicyID).
			WithDetail("invariant", "version_format")
	}

	if err := validateMechanismParams(p); err != nil {
		return engineerr.New(engineerr.ClassPermanent, err.Error(), err).
			WithCode(engineerr.CodeSchemaViolation).
			WithPolicy(p.PolicyID).
			WithDetail("invariant", "mechanism_params")
	}

	if err := validateGranularControl(p); err != nil {
		return err
	}

	if err := validateParameterization(p); err != nil {
		return err
	}

	return nil
}

// validateGranularControl enforces the invariant set named in the
// Glossary: ¬auto_apply, requires_confirmation, show_in_ui,
// ¬enabled_by_default, plus the Critical-risk help-text/user-must-choose
// requirement.
func validateGranularControl(p *policy.Policy) error {
	fail := func(invariant, msg string) error {
		return engineerr.New(engineerr.ClassPermanent, msg, nil).
			WithCode(engineerr.CodeSchemaViolation).
			WithPolicy(p.PolicyID).
			WithDetail("invariant", invariant)
	}

	if p.Control.AutoApply {
		return fail("auto_apply", "auto_apply must be false")
	}
	if !p.Control.RequiresConfirmation {
		return fail("requires_confirmation", "requires_confirmation must be true")
	}
	if !p.Control.ShowInUI {
		return fail("show_in_ui", "show_in_ui must be true")
	}
	if p.Control.EnabledByDefault {
		return fail("enabled_by_default", "enabled_by_default must be false")
	}

	if p.RiskLevel == policy.RiskCritical {
		if p.HelpText == "" {
			return fail("critical_help_text", "Critical risk_level requires non-empty help_text")
		}
		if !p.Control.UserMustChoose {
			return fail("critical_user_must_choose", "Critical risk_level requires user_must_choose=true")
		}
	}

	return nil
}

// validateParameterization enforces that a parameterized policy exposes at
// least two distinct allowed values with non-empty label and description.
func validateParameterization(p *policy.Policy) error {
	if len(p.AllowedValues) == 0 {
		return nil
	}
	if len(p.AllowedValues) < 2 {
		return engineerr.New(engineerr.ClassPermanent,
			"parameterized policy must expose at least two allowed values", nil).
			WithCode(engineerr.CodeSchemaViolation).
			WithPolicy(p.PolicyID).
			WithDetail("invariant", "allowed_values_count")
	}

	seen := make(map[string]bool, len(p.AllowedValues))
	for _, av := range p.AllowedValues {
		if av.Label == "" || av.Description == "" {
			return engineerr.New(engineerr.ClassPermanent,
				"allowed value must have non-empty label and description", nil).
				WithCode(engineerr.CodeSchemaViolation).
				WithPolicy(p.PolicyID).
				WithDetail("invariant", "allowed_value_fields")
		}
		if seen[av.Value] {
			return engineerr.New(engineerr.ClassPermanent,
				fmt.Sprintf("duplicate allowed value %q", av.Value), nil).
				WithCode(engineerr.CodeSchemaViolation).
				WithPolicy(p.PolicyID).
				WithDetail("invariant", "allowed_values_distinct")
		}
		seen[av.Value] = true
	}

	return nil
}

// validateMechanismParams delegates into the executor package so that a
// malformed or incomplete mechanism_params payload is rejected at catalog
// load time rather than surfacing as a mechanism failure mid-Apply.
func validateMechanismParams(p *policy.Policy) error {
	return executor.ValidateParams(p.Mechanism, p.MechanismParams)
}

// ValidateCatalog runs ValidatePolicy over every policy and additionally
// enforces global policy_id uniqueness (spec.md §4.1, §3 invariant).
func ValidateCatalog(policies []policy.Policy) error {
	seen := make(map[string]bool, len(policies))
	for i := range policies {
		p := &policies[i]
		if err := ValidatePolicy(p); err != nil {
			return err
		}
		if seen[p.PolicyID] {
			return engineerr.New(engineerr.ClassPermanent,
				fmt.Sprintf("duplicate policy_id %q", p.PolicyID), nil).
				WithCode(engineerr.CodeDuplicatePolicyID).
				WithPolicy(p.PolicyID)
		}
		seen[p.PolicyID] = true
	}
	return nil
}
