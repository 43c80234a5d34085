package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/openfroyo/froyo-guard/internal/changelog"
	"github.com/openfroyo/froyo-guard/internal/engineerr"
	"github.com/openfroyo/froyo-guard/internal/policy"
)

// MDMExecutor reads and writes an MDM Configuration Service Provider
// node through the MDM CIM bridge, via PowerShell's CimInstance cmdlets
// (no native MDM binding exists in golang.org/x/sys).
type MDMExecutor struct{}

func (e *MDMExecutor) params(p *policy.Policy) (*MDMParams, error) {
	mp := &MDMParams{}
	if err := mp.ParseParams(p.MechanismParams); err != nil {
		return nil, engineerr.New(engineerr.ClassPermanent, err.Error(), err).
			WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID)
	}
	return mp, nil
}

func (e *MDMExecutor) ProbeApplied(ctx context.Context, p *policy.Policy) (bool, error) {
	current, err := e.GetCurrentValue(ctx, p)
	if err != nil {
		return false, err
	}
	mp, err := e.params(p)
	if err != nil {
		return false, err
	}
	return current == mp.Value, nil
}

func (e *MDMExecutor) GetCurrentValue(ctx context.Context, p *policy.Policy) (string, error) {
	mp, err := e.params(p)
	if err != nil {
		return "", err
	}
	script := fmt.Sprintf(
		`(Get-CimInstance -Namespace "root\cimv2\mdm\dmmap" -ClassName MDM_Policy_Result01 -Filter "ParentID=%q" -ErrorAction SilentlyContinue)`,
		mp.CSPURI)
	stdout, _, _, err := runPowerShell(ctx, script)
	if err != nil {
		return "", engineerr.New(engineerr.ClassTransient, "failed to query MDM CSP node", err).
			WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID)
	}
	return strings.TrimSpace(stdout), nil
}

func (e *MDMExecutor) Apply(ctx context.Context, p *policy.Policy) (*changelog.ChangeRecord, error) {
	mp, err := e.params(p)
	if err != nil {
		return nil, err
	}
	previous, err := e.GetCurrentValue(ctx, p)
	if err != nil {
		return nil, err
	}

	record := newChangeRecord(p, fmt.Sprintf("set MDM CSP %s = %s", mp.CSPURI, mp.Value))
	record.PreviousState = previous

	if previous == mp.Value {
		record.NewState = previous
		record.Success = true
		record.Code = engineerr.CodeAlreadyApplied
		return record, nil
	}

	script := fmt.Sprintf(
		`Set-CimInstance -Namespace "root\cimv2\mdm\dmmap" -Query "SELECT * FROM MDM_Policy_Config01 WHERE ParentID=%q" -Property @{Value=%q}`,
		mp.CSPURI, mp.Value)
	_, stderr, exitCode, err := runPowerShell(ctx, script)
	if err != nil || exitCode != 0 {
		record.Success = false
		record.ErrorMessage = stderr
		return record, engineerr.New(engineerr.ClassTransient, "MDM CSP write failed", err).
			WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID).WithDetail("stderr", stderr)
	}

	record.NewState = mp.Value
	record.Success = true
	return record, nil
}

func (e *MDMExecutor) Revert(ctx context.Context, p *policy.Policy, prior *changelog.ChangeRecord) (*changelog.ChangeRecord, error) {
	mp, err := e.params(p)
	if err != nil {
		return nil, err
	}

	record := newChangeRecord(p, fmt.Sprintf("revert MDM CSP %s", mp.CSPURI))
	record.Operation = changelog.OperationRevert
	record.PreviousState = prior.NewState

	script := fmt.Sprintf(
		`Set-CimInstance -Namespace "root\cimv2\mdm\dmmap" -Query "SELECT * FROM MDM_Policy_Config01 WHERE ParentID=%q" -Property @{Value=%q}`,
		mp.CSPURI, prior.PreviousState)
	_, stderr, exitCode, err := runPowerShell(ctx, script)
	if err != nil || exitCode != 0 {
		record.Success = false
		record.ErrorMessage = stderr
		return record, engineerr.New(engineerr.ClassTransient, "MDM CSP revert failed", err).
			WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID).WithDetail("stderr", stderr)
	}

	record.NewState = prior.PreviousState
	record.Success = true
	return record, nil
}
