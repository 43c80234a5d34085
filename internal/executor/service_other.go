//go:build !windows

package executor

import (
	"context"

	"github.com/openfroyo/froyo-guard/internal/changelog"
	"github.com/openfroyo/froyo-guard/internal/policy"
)

// ServiceExecutor is a non-Windows stub; the Service Control Manager this
// mechanism targets has no cross-platform equivalent.
type ServiceExecutor struct{}

func (e *ServiceExecutor) ProbeApplied(_ context.Context, p *policy.Policy) (bool, error) {
	return false, notApplicable(p)
}

func (e *ServiceExecutor) GetCurrentValue(_ context.Context, p *policy.Policy) (string, error) {
	return "", notApplicable(p)
}

func (e *ServiceExecutor) Apply(_ context.Context, p *policy.Policy) (*changelog.ChangeRecord, error) {
	return nil, notApplicable(p)
}

func (e *ServiceExecutor) Revert(_ context.Context, p *policy.Policy, _ *changelog.ChangeRecord) (*changelog.ChangeRecord, error) {
	return nil, notApplicable(p)
}
