// Package drift implements the background Drift Monitor (spec.md §4.7): a
// ticking goroutine that periodically re-runs drift detection against the
// most recent snapshot and, when enabled, auto-remediates through the
// engine's own Apply path. Grounded on the teacher's
// DriftDetector/ShouldReconcile shape (pkg/engine/interfaces.go), adapted
// from a per-resource reconciliation loop to a single periodic sweep.
package drift

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyo-guard/internal/engine"
	"github.com/openfroyo/froyo-guard/internal/telemetry"
)

// Detector is the subset of Engine the monitor needs.
type Detector interface {
	DetectDrift(ctx context.Context, snapshotID string) (*engine.DriftResult, error)
}

// Remediator is the subset of Engine needed for auto-remediation.
type Remediator interface {
	Apply(ctx context.Context, req engine.ApplyRequest, progress chan<- engine.ProgressFrame) (*engine.ApplyResult, error)
}

// Monitor runs DetectDrift on a ticking interval and, when AutoRemediate
// is set, dispatches drifted policy IDs back through Apply.
type Monitor struct {
	log           zerolog.Logger
	detector      Detector
	remediator    Remediator
	metrics       *telemetry.Metrics
	intervalNanos atomic.Int64 // time.Duration stored as int64; 0 disables the monitor
	autoRemediate atomic.Bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewMonitor constructs a Monitor with the monitor initially disabled
// (interval 0); call SetInterval to enable it. metrics is optional (nil
// disables instrumentation).
func NewMonitor(log zerolog.Logger, detector Detector, remediator Remediator, metrics *telemetry.Metrics) *Monitor {
	return &Monitor{
		log:        log,
		detector:   detector,
		remediator: remediator,
		metrics:    metrics,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// SetInterval reconfigures the tick interval. The change takes effect on
// the next tick boundary; a running tick is allowed to complete
// (spec.md §4.7). Zero disables the monitor.
func (m *Monitor) SetInterval(d time.Duration) {
	m.intervalNanos.Store(int64(d))
}

// SetAutoRemediate toggles whether detected drift is auto-applied.
func (m *Monitor) SetAutoRemediate(enabled bool) {
	m.autoRemediate.Store(enabled)
}

// Run blocks, ticking until ctx is cancelled or Stop is called.
func (m *Monitor) Run(ctx context.Context) {
	defer close(m.doneCh)

	for {
		interval := time.Duration(m.intervalNanos.Load())
		if interval <= 0 {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-time.After(time.Second):
				continue
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-time.After(interval):
			m.tick(ctx)
		}
	}
}

// Stop signals Run to return.
func (m *Monitor) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

func (m *Monitor) tick(ctx context.Context) {
	result, err := m.detector.DetectDrift(ctx, "")
	if err != nil {
		m.log.Warn().Err(err).Msg("drift detection tick failed")
		return
	}
	if len(result.Items) == 0 {
		return
	}

	m.log.Info().Int("drifted_count", len(result.Items)).Msg("drift detected")

	if m.metrics != nil {
		for _, item := range result.Items {
			m.metrics.RecordDriftDetection(item.PolicyID)
		}
	}

	if !m.autoRemediate.Load() {
		return
	}

	ids := make([]string, 0, len(result.Items))
	for _, item := range result.Items {
		ids = append(ids, item.PolicyID)
	}

	// continue_on_error=true and no restore-point request, per spec.md
	// §4.7's "avoid spamming checkpoints on background ticks".
	_, err = m.remediator.Apply(ctx, engine.ApplyRequest{
		PolicyIDs:           ids,
		ContinueOnError:     true,
		RequestRestorePoint: false,
		Description:         "drift auto-remediation",
	}, nil)
	if err != nil {
		m.log.Error().Err(err).Msg("drift auto-remediation failed")
	}
}
