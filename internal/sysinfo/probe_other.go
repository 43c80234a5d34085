//go:build !windows

package sysinfo

import (
	"context"
	"os"
	"runtime"
)

// New returns the platform prober.
func New() Prober { return &OtherProber{} }

// OtherProber returns a best-effort Info on non-Windows hosts, used only
// by tests and local development since the agent's policy mechanisms are
// themselves Windows-only.
type OtherProber struct{}

func (p *OtherProber) Probe(_ context.Context) (*Info, error) {
	hostname, _ := os.Hostname()
	return &Info{
		OSName:                  runtime.GOOS,
		VersionString:           "",
		Arch:                    runtime.GOARCH,
		Hostname:                hostname,
		BuildNumber:             0,
		SKU:                     "",
		IsDomainJoined:          false,
		IsMDMManaged:            false,
		DefenderTamperProtected: false,
	}, nil
}
