package sysinfo

import "context"

// Prober collects the current host's Info.
type Prober interface {
	Probe(ctx context.Context) (*Info, error)
}
