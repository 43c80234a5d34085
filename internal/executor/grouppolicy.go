package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/openfroyo/froyo-guard/internal/changelog"
	"github.com/openfroyo/froyo-guard/internal/engineerr"
	"github.com/openfroyo/froyo-guard/internal/policy"
)

// GroupPolicyExecutor sets a local GPO registry-backed policy setting via
// the GroupPolicy PowerShell module (Get-/Set-GPRegistryValue), since
// golang.org/x/sys has no native local-GPO binding.
type GroupPolicyExecutor struct{}

func (e *GroupPolicyExecutor) params(p *policy.Policy) (*GroupPolicyParams, error) {
	gp := &GroupPolicyParams{}
	if err := gp.ParseParams(p.MechanismParams); err != nil {
		return nil, engineerr.New(engineerr.ClassPermanent, err.Error(), err).
			WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID)
	}
	return gp, nil
}

func (e *GroupPolicyExecutor) ProbeApplied(ctx context.Context, p *policy.Policy) (bool, error) {
	current, err := e.GetCurrentValue(ctx, p)
	if err != nil {
		return false, err
	}
	gp, err := e.params(p)
	if err != nil {
		return false, err
	}
	return current == gp.Value, nil
}

func (e *GroupPolicyExecutor) GetCurrentValue(ctx context.Context, p *policy.Policy) (string, error) {
	gp, err := e.params(p)
	if err != nil {
		return "", err
	}
	script := fmt.Sprintf(
		`(Get-GPRegistryValue -Name %q -Key %q -ValueName %q -ErrorAction SilentlyContinue).Value`,
		gp.GPOPath, "HKLM\\"+gp.GPOPath, gp.SettingName)
	stdout, _, _, err := runPowerShell(ctx, script)
	if err != nil {
		return "", engineerr.New(engineerr.ClassTransient, "failed to query GPO registry value", err).
			WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID)
	}
	return strings.TrimSpace(stdout), nil
}

func (e *GroupPolicyExecutor) Apply(ctx context.Context, p *policy.Policy) (*changelog.ChangeRecord, error) {
	gp, err := e.params(p)
	if err != nil {
		return nil, err
	}
	previous, err := e.GetCurrentValue(ctx, p)
	if err != nil {
		return nil, err
	}

	record := newChangeRecord(p, fmt.Sprintf("set GPO setting %s = %s", gp.SettingName, gp.Value))
	record.PreviousState = previous

	if previous == gp.Value {
		record.NewState = previous
		record.Success = true
		record.Code = engineerr.CodeAlreadyApplied
		return record, nil
	}

	script := fmt.Sprintf(
		`Set-GPRegistryValue -Name %q -Key %q -ValueName %q -Type String -Value %q`,
		gp.GPOPath, "HKLM\\"+gp.GPOPath, gp.SettingName, gp.Value)
	_, stderr, exitCode, err := runPowerShell(ctx, script)
	if err != nil || exitCode != 0 {
		record.Success = false
		record.ErrorMessage = stderr
		return record, engineerr.New(engineerr.ClassTransient, "Set-GPRegistryValue failed", err).
			WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID).WithDetail("stderr", stderr)
	}

	record.NewState = gp.Value
	record.Success = true
	return record, nil
}

func (e *GroupPolicyExecutor) Revert(ctx context.Context, p *policy.Policy, prior *changelog.ChangeRecord) (*changelog.ChangeRecord, error) {
	gp, err := e.params(p)
	if err != nil {
		return nil, err
	}

	record := newChangeRecord(p, fmt.Sprintf("revert GPO setting %s", gp.SettingName))
	record.Operation = changelog.OperationRevert
	record.PreviousState = prior.NewState

	script := fmt.Sprintf(
		`Set-GPRegistryValue -Name %q -Key %q -ValueName %q -Type String -Value %q`,
		gp.GPOPath, "HKLM\\"+gp.GPOPath, gp.SettingName, prior.PreviousState)
	_, stderr, exitCode, err := runPowerShell(ctx, script)
	if err != nil || exitCode != 0 {
		record.Success = false
		record.ErrorMessage = stderr
		return record, engineerr.New(engineerr.ClassTransient, "Set-GPRegistryValue revert failed", err).
			WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID).WithDetail("stderr", stderr)
	}

	record.NewState = prior.PreviousState
	record.Success = true
	return record, nil
}
