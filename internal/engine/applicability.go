package engine

import (
	"github.com/openfroyo/froyo-guard/internal/policy"
	"github.com/openfroyo/froyo-guard/internal/sysinfo"
)

// checkApplicability reports whether p is applicable to the given host
// fact set, and a human reason when it is not (spec.md §4.1/§4.5).
func checkApplicability(p *policy.Policy, info *sysinfo.Info) (bool, string) {
	a := p.Applicability

	if info.BuildNumber > 0 {
		if a.MinBuild > 0 && info.BuildNumber < a.MinBuild {
			return false, "host build below minimum required build"
		}
		if a.MaxBuild > 0 && info.BuildNumber > a.MaxBuild {
			return false, "host build above maximum supported build"
		}
		if a.DeprecatedAsOf > 0 && info.BuildNumber >= a.DeprecatedAsOf {
			return false, "policy is deprecated as of this build"
		}
	}

	if len(a.SupportedSKUs) > 0 && info.SKU != "" {
		matched := false
		for _, sku := range a.SupportedSKUs {
			if sku == info.SKU || sku == "*" {
				matched = true
				break
			}
		}
		if !matched {
			return false, "host SKU not in supported_skus"
		}
	}

	for _, sku := range a.ExcludedSKUs {
		if sku == info.SKU {
			return false, "host SKU is in excluded_skus"
		}
	}

	if a.RequiresDevice && info.IsDomainJoined {
		return false, "policy requires a non-domain-joined device"
	}

	return true, ""
}
