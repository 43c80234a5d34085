package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const samplePolicyYAML = `
policy_id: dns-001
version: 1.0.0
name: Disable telemetry endpoint resolution
description: Blocks the vortex telemetry hostname via the hosts file.
mechanism: HostsFile
mechanism_params:
  hostnames: ["telemetry.example.com"]
  ip_address: "0.0.0.0"
risk_level: Low
support_status: Supported
applicability:
  min_build: 19041
  supported_skus: ["*"]
reversibility:
  reversible: true
  description: removes the hosts file entry
control:
  auto_apply: false
  requires_confirmation: true
  show_in_ui: true
  enabled_by_default: false
`

func TestLoadDirectoryParsesYAMLFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dns-001.yaml"), []byte(samplePolicyYAML), 0o644))

	loader := NewLoader(zerolog.Nop())
	policies, err := loader.LoadDirectory(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, policies, 1)
	require.Equal(t, "dns-001", policies[0].PolicyID)
	require.Equal(t, "1.0.0", policies[0].Version)
}

func TestLoadDirectoryIgnoresNonYAMLFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dns-001.yaml"), []byte(samplePolicyYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("not a policy"), 0o644))

	loader := NewLoader(zerolog.Nop())
	policies, err := loader.LoadDirectory(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, policies, 1)
}

func TestLoadDirectoryRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("not: [valid"), 0o644))

	loader := NewLoader(zerolog.Nop())
	_, err := loader.LoadDirectory(context.Background(), dir)
	require.Error(t, err)
}

func TestLoadDirectoryThenValidateEndToEnd(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dns-001.yaml"), []byte(samplePolicyYAML), 0o644))

	loader := NewLoader(zerolog.Nop())
	policies, err := loader.LoadDirectory(context.Background(), dir)
	require.NoError(t, err)
	require.NoError(t, ValidateCatalog(policies))
}
