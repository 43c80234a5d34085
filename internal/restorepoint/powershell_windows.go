//go:build windows

package restorepoint

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strings"
)

// PowerShellManager is the fallback restore-point mechanism: a volume
// shadow copy of C:\ created through WMI's Win32_ShadowCopy.Create rather
// than a true System Restore checkpoint, used when Checkpoint-Computer is
// unavailable (e.g. System Protection has never been enabled on the
// volume). The description passed to Create is not recorded.
type PowerShellManager struct{}

func (m *PowerShellManager) Create(ctx context.Context, description string) (string, bool, error) {
	const script = `$r = (Get-WmiObject -List Win32_ShadowCopy).Create("C:\", "ClientAccessible"); if ($r.ReturnValue -eq 0) { $r.ShadowID } else { "" }`
	_ = description
	cmd := exec.CommandContext(ctx, "powershell.exe", "-NoProfile", "-NonInteractive", "-Command", script)
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut

	if err := cmd.Run(); err != nil {
		return "", false, nil
	}

	id := strings.TrimSpace(out.String())
	if id == "" {
		return "", false, nil
	}
	return id, true, nil
}

// shadowCopy mirrors the fields of Win32_ShadowCopy projected below.
type shadowCopy struct {
	ID          string `json:"ID"`
	InstallDate string `json:"InstallDate"`
}

// ListCheckpoints enumerates existing VSS shadow copies. These are not
// true System Restore checkpoints, so Description is a fixed label rather
// than anything the caller supplied at creation time.
func (m *PowerShellManager) ListCheckpoints(ctx context.Context) ([]Checkpoint, error) {
	const script = `Get-WmiObject Win32_ShadowCopy | Select-Object ID, InstallDate | ConvertTo-Json -Compress`
	cmd := exec.CommandContext(ctx, "powershell.exe", "-NoProfile", "-NonInteractive", "-Command", script)
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut

	if err := cmd.Run(); err != nil {
		return nil, nil
	}

	data := bytes.TrimSpace(out.Bytes())
	if len(data) == 0 {
		return nil, nil
	}

	var copies []shadowCopy
	if data[0] == '[' {
		if err := json.Unmarshal(data, &copies); err != nil {
			return nil, err
		}
	} else {
		var single shadowCopy
		if err := json.Unmarshal(data, &single); err != nil {
			return nil, err
		}
		copies = []shadowCopy{single}
	}

	checkpoints := make([]Checkpoint, 0, len(copies))
	for _, c := range copies {
		checkpoints = append(checkpoints, Checkpoint{
			ID:          c.ID,
			Description: "vss-shadow-copy",
			CreatedAt:   parseWMIDate(c.InstallDate),
		})
	}
	return checkpoints, nil
}
