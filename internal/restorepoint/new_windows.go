//go:build windows

package restorepoint

// New returns the platform restore-point manager: WMI-backed
// Checkpoint-Computer primary, vssadmin-style shadow copy fallback.
func New() Manager {
	return &WMIManager{Fallback: &PowerShellManager{}}
}
