//go:build !windows

package executor

import (
	"github.com/openfroyo/froyo-guard/internal/engineerr"
	"github.com/openfroyo/froyo-guard/internal/policy"
)

// notApplicable is the shared stub error for mechanisms whose adapter has
// no meaning outside Windows, so the non-Windows build can still link and
// be exercised in tests (spec.md §4.3's Applicability narrowing).
func notApplicable(p *policy.Policy) error {
	return engineerr.New(engineerr.ClassNotApplicable, "mechanism is only available on Windows", nil).
		WithCode(engineerr.CodeNotApplicable).WithPolicy(p.PolicyID)
}
