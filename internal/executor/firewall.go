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

// FirewallExecutor manages a named Windows Firewall rule through
// netsh advfirewall, shelled out in the same style as TaskExecutor.
type FirewallExecutor struct{}

func (e *FirewallExecutor) params(p *policy.Policy) (*FirewallParams, error) {
	fp := &FirewallParams{}
	if err := fp.ParseParams(p.MechanismParams); err != nil {
		return nil, engineerr.New(engineerr.ClassPermanent, err.Error(), err).
			WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID)
	}
	return fp, nil
}

func (e *FirewallExecutor) queryRule(ctx context.Context, name string) (exists bool, enabled bool, action string, err error) {
	cmd := exec.CommandContext(ctx, "netsh", "advfirewall", "firewall", "show", "rule", "name="+name)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		if strings.Contains(out.String(), "No rules match") {
			return false, false, "", nil
		}
		return false, false, "", fmt.Errorf("query firewall rule %s: %w", name, err)
	}
	text := out.String()
	if strings.Contains(text, "No rules match") {
		return false, false, "", nil
	}
	exists = true
	enabled = strings.Contains(text, "Enabled:") && strings.Contains(text, "Yes")
	switch {
	case strings.Contains(text, "Action:") && strings.Contains(text, "Block"):
		action = "Block"
	case strings.Contains(text, "Action:") && strings.Contains(text, "Allow"):
		action = "Allow"
	}
	return exists, enabled, action, nil
}

func (e *FirewallExecutor) ProbeApplied(ctx context.Context, p *policy.Policy) (bool, error) {
	fp, err := e.params(p)
	if err != nil {
		return false, err
	}
	exists, enabled, action, err := e.queryRule(ctx, fp.RuleName)
	if err != nil {
		return false, engineerr.New(engineerr.ClassTransient, err.Error(), err).
			WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID)
	}
	return exists && enabled && action == fp.Action, nil
}

func (e *FirewallExecutor) GetCurrentValue(ctx context.Context, p *policy.Policy) (string, error) {
	fp, err := e.params(p)
	if err != nil {
		return "", err
	}
	exists, enabled, action, err := e.queryRule(ctx, fp.RuleName)
	if err != nil {
		return "", engineerr.New(engineerr.ClassTransient, err.Error(), err).
			WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID)
	}
	if !exists {
		return "absent", nil
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	return fmt.Sprintf("%s/%s", state, action), nil
}

func (e *FirewallExecutor) Apply(ctx context.Context, p *policy.Policy) (*changelog.ChangeRecord, error) {
	fp, err := e.params(p)
	if err != nil {
		return nil, err
	}

	previous, err := e.GetCurrentValue(ctx, p)
	if err != nil {
		return nil, err
	}

	record := newChangeRecord(p, fmt.Sprintf("set firewall rule %s to %s/%s", fp.RuleName, fp.Direction, fp.Action))
	record.PreviousState = previous

	target := fmt.Sprintf("enabled/%s", fp.Action)
	if previous == target {
		record.NewState = previous
		record.Success = true
		record.Code = engineerr.CodeAlreadyApplied
		return record, nil
	}

	exists, _, _, err := e.queryRule(ctx, fp.RuleName)
	if err != nil {
		return nil, engineerr.New(engineerr.ClassTransient, err.Error(), err).
			WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID)
	}

	var cmd *exec.Cmd
	if !exists {
		profile := fp.Profile
		if profile == "" {
			profile = "any"
		}
		cmd = exec.CommandContext(ctx, "netsh", "advfirewall", "firewall", "add", "rule",
			"name="+fp.RuleName, "dir="+strings.ToLower(fp.Direction), "action="+strings.ToLower(fp.Action),
			"enable=yes", "profile="+profile)
	} else {
		cmd = exec.CommandContext(ctx, "netsh", "advfirewall", "firewall", "set", "rule",
			"name="+fp.RuleName, "new", "enable=yes", "action="+strings.ToLower(fp.Action))
	}

	var errOut bytes.Buffer
	cmd.Stderr = &errOut
	if err := cmd.Run(); err != nil {
		record.Success = false
		record.ErrorMessage = errOut.String()
		return record, engineerr.New(engineerr.ClassTransient, "netsh command failed", err).
			WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID).
			WithDetail("stderr", errOut.String())
	}

	record.NewState = target
	record.Success = true
	return record, nil
}

func (e *FirewallExecutor) Revert(ctx context.Context, p *policy.Policy, prior *changelog.ChangeRecord) (*changelog.ChangeRecord, error) {
	fp, err := e.params(p)
	if err != nil {
		return nil, err
	}

	record := newChangeRecord(p, fmt.Sprintf("revert firewall rule %s", fp.RuleName))
	record.Operation = changelog.OperationRevert
	record.PreviousState = prior.NewState

	if prior.PreviousState == "absent" {
		cmd := exec.CommandContext(ctx, "netsh", "advfirewall", "firewall", "delete", "rule", "name="+fp.RuleName)
		var errOut bytes.Buffer
		cmd.Stderr = &errOut
		if err := cmd.Run(); err != nil {
			record.Success = false
			record.ErrorMessage = errOut.String()
			return record, engineerr.New(engineerr.ClassTransient, "netsh revert failed", err).
				WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID)
		}
		record.NewState = "absent"
		record.Success = true
		return record, nil
	}

	parts := strings.SplitN(prior.PreviousState, "/", 2)
	enable := "no"
	action := fp.Action
	if len(parts) == 2 {
		if parts[0] == "enabled" {
			enable = "yes"
		}
		action = parts[1]
	}

	cmd := exec.CommandContext(ctx, "netsh", "advfirewall", "firewall", "set", "rule",
		"name="+fp.RuleName, "new", "enable="+enable, "action="+strings.ToLower(action))
	var errOut bytes.Buffer
	cmd.Stderr = &errOut
	if err := cmd.Run(); err != nil {
		record.Success = false
		record.ErrorMessage = errOut.String()
		return record, engineerr.New(engineerr.ClassTransient, "netsh revert failed", err).
			WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID)
	}

	record.NewState = prior.PreviousState
	record.Success = true
	return record, nil
}
