package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/openfroyo/froyo-guard/internal/changelog"
	"github.com/openfroyo/froyo-guard/internal/engineerr"
	"github.com/openfroyo/froyo-guard/internal/policy"
)

// WFPDriverExecutor manages a Windows Filtering Platform callout filter
// below the advfirewall-rule abstraction FirewallExecutor targets. It only
// probes for the filter, by searching `netsh wfp show filters` output
// through PowerShell. Apply installs no filter: it succeeds when the filter
// is already present and otherwise returns a ClassPermanent error. Revert
// always returns a ClassPermanent error.
type WFPDriverExecutor struct{}

func (e *WFPDriverExecutor) params(p *policy.Policy) (*WFPDriverParams, error) {
	wp := &WFPDriverParams{}
	if err := wp.ParseParams(p.MechanismParams); err != nil {
		return nil, engineerr.New(engineerr.ClassPermanent, err.Error(), err).
			WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID)
	}
	return wp, nil
}

func (e *WFPDriverExecutor) ProbeApplied(ctx context.Context, p *policy.Policy) (bool, error) {
	current, err := e.GetCurrentValue(ctx, p)
	if err != nil {
		return false, err
	}
	return current == "present", nil
}

func (e *WFPDriverExecutor) GetCurrentValue(ctx context.Context, p *policy.Policy) (string, error) {
	wp, err := e.params(p)
	if err != nil {
		return "", err
	}
	script := fmt.Sprintf(`netsh wfp show filters | Select-String -Pattern %q`, wp.FilterName)
	stdout, _, _, err := runPowerShell(ctx, script)
	if err != nil {
		return "", engineerr.New(engineerr.ClassTransient, "failed to query WFP filter state", err).
			WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID)
	}
	if strings.TrimSpace(stdout) == "" {
		return "absent", nil
	}
	return "present", nil
}

func (e *WFPDriverExecutor) Apply(ctx context.Context, p *policy.Policy) (*changelog.ChangeRecord, error) {
	wp, err := e.params(p)
	if err != nil {
		return nil, err
	}
	previous, err := e.GetCurrentValue(ctx, p)
	if err != nil {
		return nil, err
	}

	record := newChangeRecord(p, fmt.Sprintf("install WFP filter %s on layer %s", wp.FilterName, wp.Layer))
	record.PreviousState = previous

	if previous == "present" {
		record.NewState = previous
		record.Success = true
		return record, nil
	}

	// WFP filter add/remove requires a provisioning context beyond what a
	// scripted netsh/PowerShell round trip can express generically; the
	// Script mechanism is the documented escape hatch for policies that
	// need true WFP callout registration (DESIGN.md, internal/executor).
	record.Success = false
	record.ErrorMessage = "WFP filter installation requires a policy-specific apply script"
	return record, engineerr.New(engineerr.ClassPermanent,
		"WFPDriver mechanism requires mechanism_params to delegate installation to a Script policy", nil).
		WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID)
}

func (e *WFPDriverExecutor) Revert(_ context.Context, p *policy.Policy, _ *changelog.ChangeRecord) (*changelog.ChangeRecord, error) {
	return nil, engineerr.New(engineerr.ClassPermanent,
		"WFPDriver mechanism has no generic revert; see the policy's paired Script mechanism", nil).
		WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID)
}
