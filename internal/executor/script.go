package executor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/openfroyo/froyo-guard/internal/changelog"
	"github.com/openfroyo/froyo-guard/internal/engineerr"
	"github.com/openfroyo/froyo-guard/internal/policy"
)

// ScriptExecutor runs operator-supplied apply/revert/probe scripts,
// grounded directly on the teacher's ExecHandler
// (pkg/micro_runner/handlers/exec.go): CommandContext, captured
// stdout/stderr, exit-code interpretation, elapsed duration.
type ScriptExecutor struct{}

func (e *ScriptExecutor) params(p *policy.Policy) (*ScriptParams, error) {
	sp := &ScriptParams{}
	if err := sp.ParseParams(p.MechanismParams); err != nil {
		return nil, engineerr.New(engineerr.ClassPermanent, err.Error(), err).
			WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID)
	}
	return sp, nil
}

func (e *ScriptExecutor) run(ctx context.Context, p *policy.Policy, script string, args []string, timeoutSec int) (string, string, int, error) {
	if timeoutSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, script, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return "", "", -1, engineerr.New(engineerr.ClassTransient, "failed to execute script", err).
				WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID).
				WithDetail("script", script)
		}
	}
	return stdout.String(), stderr.String(), exitCode, nil
}

func (e *ScriptExecutor) ProbeApplied(ctx context.Context, p *policy.Policy) (bool, error) {
	current, err := e.GetCurrentValue(ctx, p)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(current) == "applied", nil
}

func (e *ScriptExecutor) GetCurrentValue(ctx context.Context, p *policy.Policy) (string, error) {
	sp, err := e.params(p)
	if err != nil {
		return "", err
	}
	if sp.ProbeScript == "" {
		return "unknown", nil
	}
	stdout, _, exitCode, err := e.run(ctx, p, sp.ProbeScript, sp.Args, sp.TimeoutSec)
	if err != nil {
		return "", err
	}
	if exitCode == 0 {
		return "applied", nil
	}
	return strings.TrimSpace(stdout), nil
}

func (e *ScriptExecutor) Apply(ctx context.Context, p *policy.Policy) (*changelog.ChangeRecord, error) {
	sp, err := e.params(p)
	if err != nil {
		return nil, err
	}

	previous, err := e.GetCurrentValue(ctx, p)
	if err != nil {
		return nil, err
	}

	record := newChangeRecord(p, fmt.Sprintf("run apply script %s", sp.ApplyScript))
	record.PreviousState = previous

	if previous == "applied" {
		record.NewState = previous
		record.Success = true
		return record, nil
	}

	stdout, stderr, exitCode, err := e.run(ctx, p, sp.ApplyScript, sp.Args, sp.TimeoutSec)
	if err != nil {
		record.Success = false
		record.ErrorMessage = err.Error()
		return record, err
	}
	if exitCode != 0 {
		record.Success = false
		record.ErrorMessage = fmt.Sprintf("exit code %d: %s", exitCode, stderr)
		return record, engineerr.New(engineerr.ClassTransient,
			fmt.Sprintf("apply script exited with code %d", exitCode), nil).
			WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID).
			WithDetail("stdout", stdout).WithDetail("stderr", stderr)
	}

	record.NewState = "applied"
	record.Success = true
	return record, nil
}

func (e *ScriptExecutor) Revert(ctx context.Context, p *policy.Policy, prior *changelog.ChangeRecord) (*changelog.ChangeRecord, error) {
	sp, err := e.params(p)
	if err != nil {
		return nil, err
	}
	if sp.RevertScript == "" {
		return nil, engineerr.New(engineerr.ClassPermanent, "policy has no revert_script configured", nil).
			WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID)
	}

	record := newChangeRecord(p, fmt.Sprintf("run revert script %s", sp.RevertScript))
	record.Operation = changelog.OperationRevert
	record.PreviousState = prior.NewState

	stdout, stderr, exitCode, err := e.run(ctx, p, sp.RevertScript, sp.Args, sp.TimeoutSec)
	if err != nil {
		record.Success = false
		record.ErrorMessage = err.Error()
		return record, err
	}
	if exitCode != 0 {
		record.Success = false
		record.ErrorMessage = fmt.Sprintf("exit code %d: %s", exitCode, stderr)
		return record, engineerr.New(engineerr.ClassTransient,
			fmt.Sprintf("revert script exited with code %d", exitCode), nil).
			WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID).
			WithDetail("stdout", stdout).WithDetail("stderr", stderr)
	}

	record.NewState = prior.PreviousState
	record.Success = true
	return record, nil
}
