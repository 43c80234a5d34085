//go:build windows

package executor

import (
	"context"
	"fmt"

	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/mgr"

	"github.com/openfroyo/froyo-guard/internal/changelog"
	"github.com/openfroyo/froyo-guard/internal/engineerr"
	"github.com/openfroyo/froyo-guard/internal/policy"
)

// ServiceExecutor stops and disables (or restores) a Windows service via
// the Service Control Manager. The action dispatch below mirrors the
// teacher's ServiceReloadHandler: check current state, no-op if already
// there, otherwise mutate and report what changed.
type ServiceExecutor struct{}

func (e *ServiceExecutor) params(p *policy.Policy) (*ServiceParams, error) {
	sp := &ServiceParams{}
	if err := sp.ParseParams(p.MechanismParams); err != nil {
		return nil, engineerr.New(engineerr.ClassPermanent, err.Error(), err).
			WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID)
	}
	return sp, nil
}

func (e *ServiceExecutor) query(name string) (startType string, running bool, err error) {
	m, err := mgr.Connect()
	if err != nil {
		return "", false, fmt.Errorf("connect to service manager: %w", err)
	}
	defer m.Disconnect()

	s, err := m.OpenService(name)
	if err != nil {
		return "", false, fmt.Errorf("open service %s: %w", name, err)
	}
	defer s.Close()

	cfg, err := s.Config()
	if err != nil {
		return "", false, fmt.Errorf("query service config: %w", err)
	}

	status, err := s.Query()
	if err != nil {
		return "", false, fmt.Errorf("query service status: %w", err)
	}

	return startTypeString(cfg.StartType), status.State == svc.Running, nil
}

func startTypeString(t uint32) string {
	switch t {
	case mgr.StartAutomatic:
		return "Automatic"
	case mgr.StartManual:
		return "Manual"
	case mgr.StartDisabled:
		return "Disabled"
	default:
		return "Unknown"
	}
}

func startTypeValue(s string) uint32 {
	switch s {
	case "Automatic":
		return mgr.StartAutomatic
	case "Manual":
		return mgr.StartManual
	case "Disabled":
		return mgr.StartDisabled
	default:
		return mgr.StartManual
	}
}

func (e *ServiceExecutor) ProbeApplied(_ context.Context, p *policy.Policy) (bool, error) {
	sp, err := e.params(p)
	if err != nil {
		return false, err
	}
	startType, _, err := e.query(sp.ServiceName)
	if err != nil {
		return false, engineerr.New(engineerr.ClassTransient, err.Error(), err).
			WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID)
	}
	return startType == sp.StartType, nil
}

func (e *ServiceExecutor) GetCurrentValue(_ context.Context, p *policy.Policy) (string, error) {
	sp, err := e.params(p)
	if err != nil {
		return "", err
	}
	startType, _, err := e.query(sp.ServiceName)
	if err != nil {
		return "", engineerr.New(engineerr.ClassTransient, err.Error(), err).
			WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID)
	}
	return startType, nil
}

func (e *ServiceExecutor) setStartType(name, startType string) error {
	m, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("connect to service manager: %w", err)
	}
	defer m.Disconnect()

	s, err := m.OpenService(name)
	if err != nil {
		return fmt.Errorf("open service %s: %w", name, err)
	}
	defer s.Close()

	cfg, err := s.Config()
	if err != nil {
		return fmt.Errorf("query service config: %w", err)
	}
	cfg.StartType = startTypeValue(startType)
	if err := s.UpdateConfig(cfg); err != nil {
		return fmt.Errorf("update service config: %w", err)
	}

	if startType == "Disabled" {
		if status, qerr := s.Query(); qerr == nil && status.State != svc.Stopped {
			_, _ = s.Control(svc.Stop)
		}
	}
	return nil
}

func (e *ServiceExecutor) Apply(ctx context.Context, p *policy.Policy) (*changelog.ChangeRecord, error) {
	sp, err := e.params(p)
	if err != nil {
		return nil, err
	}

	previous, err := e.GetCurrentValue(ctx, p)
	if err != nil {
		return nil, err
	}

	record := newChangeRecord(p, fmt.Sprintf("set service %s start type to %s", sp.ServiceName, sp.StartType))
	record.PreviousState = previous

	if previous == sp.StartType {
		record.NewState = previous
		record.Success = true
		record.Code = engineerr.CodeAlreadyApplied
		return record, nil
	}

	if err := e.setStartType(sp.ServiceName, sp.StartType); err != nil {
		record.Success = false
		record.ErrorMessage = err.Error()
		return record, engineerr.New(engineerr.ClassTransient, "failed to set service start type", err).
			WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID)
	}

	record.NewState = sp.StartType
	record.Success = true
	return record, nil
}

func (e *ServiceExecutor) Revert(_ context.Context, p *policy.Policy, prior *changelog.ChangeRecord) (*changelog.ChangeRecord, error) {
	sp, err := e.params(p)
	if err != nil {
		return nil, err
	}

	record := newChangeRecord(p, fmt.Sprintf("revert service %s start type", sp.ServiceName))
	record.Operation = changelog.OperationRevert
	record.PreviousState = prior.NewState

	if err := e.setStartType(sp.ServiceName, prior.PreviousState); err != nil {
		record.Success = false
		record.ErrorMessage = err.Error()
		return record, engineerr.New(engineerr.ClassTransient, "failed to revert service start type", err).
			WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID)
	}

	record.NewState = prior.PreviousState
	record.Success = true
	return record, nil
}
