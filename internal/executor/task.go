package executor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/openfroyo/froyo-guard/internal/changelog"
	"github.com/openfroyo/froyo-guard/internal/engineerr"
	"github.com/openfroyo/froyo-guard/internal/policy"
)

// TaskExecutor manages a Windows scheduled task through schtasks.exe,
// shelled out the same way the teacher's ExecHandler drives external
// commands (pkg/micro_runner/handlers/exec.go): CommandContext, captured
// output, exit-code interpretation.
type TaskExecutor struct{}

func (e *TaskExecutor) params(p *policy.Policy) (*ScheduledTaskParams, error) {
	tp := &ScheduledTaskParams{}
	if err := tp.ParseParams(p.MechanismParams); err != nil {
		return nil, engineerr.New(engineerr.ClassPermanent, err.Error(), err).
			WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID)
	}
	return tp, nil
}

func (e *TaskExecutor) queryEnabled(ctx context.Context, taskPath string) (bool, bool, error) {
	cmd := exec.CommandContext(ctx, "schtasks", "/Query", "/TN", taskPath, "/FO", "LIST")
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	if err := cmd.Run(); err != nil {
		if strings.Contains(errOut.String(), "cannot find") {
			return false, false, nil
		}
		return false, false, fmt.Errorf("query task %s: %w: %s", taskPath, err, errOut.String())
	}
	exists := true
	enabled := strings.Contains(out.String(), "Ready") || strings.Contains(out.String(), "Running")
	return exists, enabled, nil
}

func (e *TaskExecutor) ProbeApplied(ctx context.Context, p *policy.Policy) (bool, error) {
	tp, err := e.params(p)
	if err != nil {
		return false, err
	}
	exists, enabled, err := e.queryEnabled(ctx, tp.TaskPath)
	if err != nil {
		return false, engineerr.New(engineerr.ClassTransient, err.Error(), err).
			WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID)
	}
	switch tp.Facet {
	case TaskFacetDelete:
		return !exists, nil
	case TaskFacetDisable:
		return exists && !enabled, nil
	default:
		return exists, nil
	}
}

func (e *TaskExecutor) GetCurrentValue(ctx context.Context, p *policy.Policy) (string, error) {
	tp, err := e.params(p)
	if err != nil {
		return "", err
	}
	exists, enabled, err := e.queryEnabled(ctx, tp.TaskPath)
	if err != nil {
		return "", engineerr.New(engineerr.ClassTransient, err.Error(), err).
			WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID)
	}
	if !exists {
		return "absent", nil
	}
	if enabled {
		return "enabled", nil
	}
	return "disabled", nil
}

func (e *TaskExecutor) Apply(ctx context.Context, p *policy.Policy) (*changelog.ChangeRecord, error) {
	tp, err := e.params(p)
	if err != nil {
		return nil, err
	}

	previous, err := e.GetCurrentValue(ctx, p)
	if err != nil {
		return nil, err
	}

	record := newChangeRecord(p, fmt.Sprintf("apply %s to task %s", tp.Facet, tp.TaskPath))
	record.PreviousState = previous

	if tp.Facet == TaskFacetExportOnly {
		record.NewState = previous
		record.Success = true
		return record, nil
	}

	var args []string
	switch tp.Facet {
	case TaskFacetDisable:
		if previous == "disabled" || previous == "absent" {
			record.NewState = previous
			record.Success = true
			return record, nil
		}
		args = []string{"/Change", "/TN", tp.TaskPath, "/Disable"}
	case TaskFacetDelete:
		if previous == "absent" {
			record.NewState = previous
			record.Success = true
			return record, nil
		}
		args = []string{"/Delete", "/TN", tp.TaskPath, "/F"}
	case TaskFacetModifyTrigger:
		args = []string{"/Change", "/TN", tp.TaskPath, "/Disable"}
	}

	cmd := exec.CommandContext(ctx, "schtasks", args...)
	var errOut bytes.Buffer
	cmd.Stderr = &errOut
	if err := cmd.Run(); err != nil {
		record.Success = false
		record.ErrorMessage = errOut.String()
		return record, engineerr.New(engineerr.ClassTransient, "schtasks command failed", err).
			WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID).
			WithDetail("stderr", errOut.String())
	}

	newValue, err := e.GetCurrentValue(ctx, p)
	if err != nil {
		return nil, err
	}
	record.NewState = newValue
	record.Success = true
	return record, nil
}

func (e *TaskExecutor) Revert(ctx context.Context, p *policy.Policy, prior *changelog.ChangeRecord) (*changelog.ChangeRecord, error) {
	tp, err := e.params(p)
	if err != nil {
		return nil, err
	}

	record := newChangeRecord(p, fmt.Sprintf("revert task %s to %s", tp.TaskPath, prior.PreviousState))
	record.Operation = changelog.OperationRevert
	record.PreviousState = prior.NewState

	if tp.Facet == TaskFacetDelete {
		return nil, engineerr.New(engineerr.ClassPermanent,
			"scheduled task deletion cannot be reverted: original task definition was not preserved", nil).
			WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID)
	}

	if prior.PreviousState == "enabled" {
		cmd := exec.CommandContext(ctx, "schtasks", "/Change", "/TN", tp.TaskPath, "/Enable")
		var errOut bytes.Buffer
		cmd.Stderr = &errOut
		if err := cmd.Run(); err != nil {
			record.Success = false
			record.ErrorMessage = errOut.String()
			return record, engineerr.New(engineerr.ClassTransient, "schtasks revert failed", err).
				WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID)
		}
	}

	record.NewState = prior.PreviousState
	record.Success = true
	return record, nil
}
