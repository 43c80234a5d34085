//go:build !windows

package restorepoint

import "context"

// NoopManager reports restore points as unavailable on non-Windows hosts.
type NoopManager struct{}

func (m *NoopManager) Create(_ context.Context, _ string) (string, bool, error) {
	return "", false, nil
}

func (m *NoopManager) ListCheckpoints(_ context.Context) ([]Checkpoint, error) {
	return nil, nil
}

// New returns the platform restore-point manager.
func New() Manager { return &NoopManager{} }
