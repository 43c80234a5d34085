//go:build !windows

package executor

import (
	"context"

	"github.com/openfroyo/froyo-guard/internal/changelog"
	"github.com/openfroyo/froyo-guard/internal/engineerr"
	"github.com/openfroyo/froyo-guard/internal/policy"
)

// RegistryExecutor is a non-Windows stub: the Windows registry has no
// equivalent on other platforms, so every operation reports
// ClassNotApplicable rather than pretending to succeed.
type RegistryExecutor struct{}

func (e *RegistryExecutor) ProbeApplied(_ context.Context, p *policy.Policy) (bool, error) {
	return false, notApplicable(p)
}

func (e *RegistryExecutor) GetCurrentValue(_ context.Context, p *policy.Policy) (string, error) {
	return "", notApplicable(p)
}

func (e *RegistryExecutor) Apply(_ context.Context, p *policy.Policy) (*changelog.ChangeRecord, error) {
	return nil, notApplicable(p)
}

func (e *RegistryExecutor) Revert(_ context.Context, p *policy.Policy, _ *changelog.ChangeRecord) (*changelog.ChangeRecord, error) {
	return nil, notApplicable(p)
}
