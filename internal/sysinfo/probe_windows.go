//go:build windows

package sysinfo

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"unsafe"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
)

// New returns the platform prober.
func New() Prober { return &WindowsProber{} }

// WindowsProber reads build number and SKU from
// HKLM\SOFTWARE\Microsoft\Windows NT\CurrentVersion and domain-join status
// from NetGetJoinInformation.
type WindowsProber struct{}

func (p *WindowsProber) Probe(_ context.Context) (*Info, error) {
	info := &Info{Arch: runtime.GOARCH}

	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("read hostname: %w", err)
	}
	info.Hostname = hostname

	key, err := registry.OpenKey(registry.LOCAL_MACHINE, `SOFTWARE\Microsoft\Windows NT\CurrentVersion`, registry.QUERY_VALUE)
	if err != nil {
		return nil, fmt.Errorf("open CurrentVersion key: %w", err)
	}
	defer key.Close()

	if v, _, err := key.GetStringValue("ProductName"); err == nil {
		info.OSName = v
	}
	if v, _, err := key.GetStringValue("CurrentBuildNumber"); err == nil {
		fmt.Sscanf(v, "%d", &info.BuildNumber)
	}
	if v, _, err := key.GetStringValue("EditionID"); err == nil {
		info.SKU = v
	}
	info.VersionString = versionString(key)

	joined, err := domainJoined()
	if err == nil {
		info.IsDomainJoined = joined
	}

	info.IsMDMManaged = mdmManaged()
	info.DefenderTamperProtected = defenderTamperProtected()

	return info, nil
}

// versionString prefers the marketing "DisplayVersion" (e.g. "23H2") and
// falls back to the legacy "ReleaseId" value, both under the already-open
// CurrentVersion key.
func versionString(key registry.Key) string {
	if v, _, err := key.GetStringValue("DisplayVersion"); err == nil && v != "" {
		return v
	}
	if v, _, err := key.GetStringValue("ReleaseId"); err == nil && v != "" {
		return v
	}
	return ""
}

// mdmManaged reports whether the host has at least one active MDM
// enrollment under the Enrollments key, the same location Windows itself
// consults for MDMLocalManagement state.
func mdmManaged() bool {
	key, err := registry.OpenKey(registry.LOCAL_MACHINE, `SOFTWARE\Microsoft\Enrollments`, registry.ENUMERATE_SUB_KEYS)
	if err != nil {
		return false
	}
	defer key.Close()

	names, err := key.ReadSubKeyNames(-1)
	if err != nil {
		return false
	}
	return len(names) > 0
}

// defenderTamperProtected reads the Defender Features\TamperProtection
// DWORD; Windows writes 5 when tamper protection is enabled via Windows
// Security, 0/absent otherwise.
func defenderTamperProtected() bool {
	key, err := registry.OpenKey(registry.LOCAL_MACHINE, `SOFTWARE\Microsoft\Windows Defender\Features`, registry.QUERY_VALUE)
	if err != nil {
		return false
	}
	defer key.Close()

	v, _, err := key.GetIntegerValue("TamperProtection")
	if err != nil {
		return false
	}
	return v != 0
}

func domainJoined() (bool, error) {
	var domain *uint16
	var status uint32
	if err := windows.NetGetJoinInformation("", &domain, &status); err != nil {
		return false, err
	}
	defer windows.NetApiBufferFree((*byte)(unsafe.Pointer(domain)))
	// NetSetupDomainName == 3 per the NETSETUP_JOIN_STATUS enumeration.
	return status == 3, nil
}
