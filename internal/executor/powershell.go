package executor

import (
	"bytes"
	"context"
	"os/exec"
)

// runPowerShell invokes a PowerShell snippet non-interactively, the shared
// transport for the GroupPolicy, MDM, and WFPDriver executors below: none
// of them have a convenient Win32 API wrapped by golang.org/x/sys, so they
// shell out the way the registry/service executors would if x/sys didn't
// cover their surface, mirroring the teacher's ExecHandler transport.
func runPowerShell(ctx context.Context, script string) (stdout, stderr string, exitCode int, err error) {
	cmd := exec.CommandContext(ctx, "powershell.exe", "-NoProfile", "-NonInteractive", "-Command", script)
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	runErr := cmd.Run()
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			return out.String(), errOut.String(), exitErr.ExitCode(), nil
		}
		return "", "", -1, runErr
	}
	return out.String(), errOut.String(), 0, nil
}
