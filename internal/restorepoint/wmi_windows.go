//go:build windows

package restorepoint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// WMIManager creates a restore point via the SystemRestore WMI class,
// invoked through PowerShell's Checkpoint-Computer cmdlet since no WMI
// binding is present in the example pack. This is the primary mechanism
// on Windows (SPEC_FULL.md §9 Open Question resolution); PowerShellManager
// is the fallback when the WMI provider is unavailable.
type WMIManager struct {
	// Fallback is tried when the WMI-backed checkpoint call fails outright
	// (e.g. System Protection is disabled).
	Fallback Manager
}

func (m *WMIManager) Create(ctx context.Context, description string) (string, bool, error) {
	script := fmt.Sprintf(
		`Checkpoint-Computer -Description %q -RestorePointType "MODIFY_SETTINGS"; (Get-ComputerRestorePoint | Select-Object -Last 1).SequenceNumber`,
		description)
	cmd := exec.CommandContext(ctx, "powershell.exe", "-NoProfile", "-NonInteractive", "-Command", script)
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut

	if err := cmd.Run(); err != nil {
		if m.Fallback != nil {
			return m.Fallback.Create(ctx, description)
		}
		return "", false, nil
	}

	seq := strings.TrimSpace(out.String())
	if seq == "" {
		if m.Fallback != nil {
			return m.Fallback.Create(ctx, description)
		}
		return "", false, nil
	}
	if _, err := strconv.Atoi(seq); err != nil {
		return "", false, nil
	}

	return seq, true, nil
}

// wmiRestorePoint mirrors the fields of SystemRestore's restore-point
// WMI class as projected by Get-ComputerRestorePoint.
type wmiRestorePoint struct {
	SequenceNumber int    `json:"SequenceNumber"`
	Description    string `json:"Description"`
	CreationTime   string `json:"CreationTime"`
}

// ListCheckpoints enumerates existing System Restore checkpoints via the
// SystemRestore WMI class, invoked through Get-ComputerRestorePoint (the
// same cmdlet family Create uses).
func (m *WMIManager) ListCheckpoints(ctx context.Context) ([]Checkpoint, error) {
	script := `Get-ComputerRestorePoint | Select-Object SequenceNumber, Description, CreationTime | ConvertTo-Json -Compress`
	cmd := exec.CommandContext(ctx, "powershell.exe", "-NoProfile", "-NonInteractive", "-Command", script)
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut

	if err := cmd.Run(); err != nil {
		if m.Fallback != nil {
			return m.Fallback.ListCheckpoints(ctx)
		}
		return nil, fmt.Errorf("list restore points: %w: %s", err, errOut.String())
	}

	points, err := parseWMIRestorePoints(out.Bytes())
	if err != nil {
		return nil, fmt.Errorf("parse restore point list: %w", err)
	}

	checkpoints := make([]Checkpoint, 0, len(points))
	for _, p := range points {
		checkpoints = append(checkpoints, Checkpoint{
			ID:          strconv.Itoa(p.SequenceNumber),
			Description: p.Description,
			CreatedAt:   parseWMIDate(p.CreationTime),
		})
	}
	return checkpoints, nil
}

// parseWMIRestorePoints decodes ConvertTo-Json output that may be a single
// object (one restore point), an array, or empty (none).
func parseWMIRestorePoints(data []byte) ([]wmiRestorePoint, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] == '[' {
		var points []wmiRestorePoint
		if err := json.Unmarshal(data, &points); err != nil {
			return nil, err
		}
		return points, nil
	}
	var single wmiRestorePoint
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, err
	}
	return []wmiRestorePoint{single}, nil
}

// parseWMIDate accepts either the legacy WMI "/Date(ms)/" wrapper or a
// plain RFC3339 timestamp, returning the zero time if neither parses.
func parseWMIDate(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "/Date(") && strings.HasSuffix(raw, ")/") {
		msStr := strings.TrimSuffix(strings.TrimPrefix(raw, "/Date("), ")/")
		msStr = strings.TrimSuffix(msStr, "+0000")
		if ms, err := strconv.ParseInt(msStr, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC()
		}
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	return time.Time{}
}
