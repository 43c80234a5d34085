package executor

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openfroyo/froyo-guard/internal/changelog"
	"github.com/openfroyo/froyo-guard/internal/engineerr"
	"github.com/openfroyo/froyo-guard/internal/policy"
)

// HostsFileExecutor appends or removes redirect/blackhole entries in the
// system hosts file. Pure file I/O, no external process needed.
type HostsFileExecutor struct {
	// PathOverride lets tests point at a scratch file instead of the real
	// system hosts file.
	PathOverride string
}

func (e *HostsFileExecutor) path() string {
	if e.PathOverride != "" {
		return e.PathOverride
	}
	return filepath.Join(os.Getenv("SystemRoot"), "System32", "drivers", "etc", "hosts")
}

func (e *HostsFileExecutor) params(p *policy.Policy) (*HostsFileParams, error) {
	hp := &HostsFileParams{}
	if err := hp.ParseParams(p.MechanismParams); err != nil {
		return nil, engineerr.New(engineerr.ClassPermanent, err.Error(), err).
			WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID)
	}
	return hp, nil
}

func (e *HostsFileExecutor) readLines(p *policy.Policy) ([]string, error) {
	data, err := os.ReadFile(e.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, engineerr.New(engineerr.ClassTransient, "failed to read hosts file", err).
			WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID)
	}
	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, nil
}

func (e *HostsFileExecutor) managedLine(ip, hostname string) string {
	return fmt.Sprintf("%s %s # managed", ip, hostname)
}

func (e *HostsFileExecutor) ProbeApplied(ctx context.Context, p *policy.Policy) (bool, error) {
	hp, err := e.params(p)
	if err != nil {
		return false, err
	}
	lines, err := e.readLines(p)
	if err != nil {
		return false, err
	}
	present := make(map[string]bool)
	for _, line := range lines {
		for _, h := range hp.Hostnames {
			if strings.Contains(line, h) && strings.HasSuffix(strings.TrimSpace(line), "# managed") {
				present[h] = true
			}
		}
	}
	for _, h := range hp.Hostnames {
		if !present[h] {
			return false, nil
		}
	}
	return true, nil
}

func (e *HostsFileExecutor) GetCurrentValue(ctx context.Context, p *policy.Policy) (string, error) {
	applied, err := e.ProbeApplied(ctx, p)
	if err != nil {
		return "", err
	}
	if applied {
		return "applied", nil
	}
	return "absent", nil
}

func (e *HostsFileExecutor) Apply(ctx context.Context, p *policy.Policy) (*changelog.ChangeRecord, error) {
	hp, err := e.params(p)
	if err != nil {
		return nil, err
	}

	previous, err := e.GetCurrentValue(ctx, p)
	if err != nil {
		return nil, err
	}

	record := newChangeRecord(p, fmt.Sprintf("add hosts entries for %s", strings.Join(hp.Hostnames, ", ")))
	record.PreviousState = previous

	if previous == "applied" {
		record.NewState = previous
		record.Success = true
		record.Code = engineerr.CodeAlreadyApplied
		return record, nil
	}

	lines, err := e.readLines(p)
	if err != nil {
		return nil, err
	}
	original := strings.Join(lines, "\n")

	for _, h := range hp.Hostnames {
		lines = append(lines, e.managedLine(hp.IPAddress, h))
	}

	if err := os.WriteFile(e.path(), []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		record.Success = false
		record.ErrorMessage = err.Error()
		return record, engineerr.New(engineerr.ClassTransient, "failed to write hosts file", err).
			WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID)
	}

	record.PreviousState = original
	record.NewState = strings.Join(lines, "\n")
	record.Success = true
	return record, nil
}

func (e *HostsFileExecutor) Revert(_ context.Context, p *policy.Policy, prior *changelog.ChangeRecord) (*changelog.ChangeRecord, error) {
	record := newChangeRecord(p, "restore hosts file to prior contents")
	record.Operation = changelog.OperationRevert
	record.PreviousState = prior.NewState

	if err := os.WriteFile(e.path(), []byte(prior.PreviousState+"\n"), 0644); err != nil {
		record.Success = false
		record.ErrorMessage = err.Error()
		return record, engineerr.New(engineerr.ClassTransient, "failed to restore hosts file", err).
			WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID)
	}

	record.NewState = prior.PreviousState
	record.Success = true
	return record, nil
}
