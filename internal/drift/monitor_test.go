package drift

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/froyo-guard/internal/engine"
)

type fakeDetector struct {
	result *engine.DriftResult
	err    error
	calls  atomic.Int32
}

func (f *fakeDetector) DetectDrift(_ context.Context, _ string) (*engine.DriftResult, error) {
	f.calls.Add(1)
	return f.result, f.err
}

type fakeRemediator struct {
	applyCalls atomic.Int32
	lastReq    engine.ApplyRequest
}

func (f *fakeRemediator) Apply(_ context.Context, req engine.ApplyRequest, _ chan<- engine.ProgressFrame) (*engine.ApplyResult, error) {
	f.applyCalls.Add(1)
	f.lastReq = req
	return &engine.ApplyResult{}, nil
}

func TestMonitorDisabledByDefault(t *testing.T) {
	det := &fakeDetector{result: &engine.DriftResult{}}
	rem := &fakeRemediator{}
	m := NewMonitor(zerolog.Nop(), det, rem, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	m.Run(ctx)

	assert.Equal(t, int32(0), det.calls.Load())
}

func TestMonitorTicksAndSkipsRemediationWhenDisabled(t *testing.T) {
	det := &fakeDetector{result: &engine.DriftResult{Items: []engine.DriftItem{{PolicyID: "dns-001"}}}}
	rem := &fakeRemediator{}
	m := NewMonitor(zerolog.Nop(), det, rem, nil)
	m.SetInterval(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	m.Run(ctx)

	assert.Greater(t, det.calls.Load(), int32(0))
	assert.Equal(t, int32(0), rem.applyCalls.Load())
}

func TestMonitorAutoRemediates(t *testing.T) {
	det := &fakeDetector{result: &engine.DriftResult{Items: []engine.DriftItem{{PolicyID: "dns-001"}}}}
	rem := &fakeRemediator{}
	m := NewMonitor(zerolog.Nop(), det, rem, nil)
	m.SetInterval(20 * time.Millisecond)
	m.SetAutoRemediate(true)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	m.Run(ctx)

	require.Greater(t, rem.applyCalls.Load(), int32(0))
	assert.Equal(t, []string{"dns-001"}, rem.lastReq.PolicyIDs)
	assert.True(t, rem.lastReq.ContinueOnError)
	assert.False(t, rem.lastReq.RequestRestorePoint)
}

func TestMonitorStop(t *testing.T) {
	det := &fakeDetector{result: &engine.DriftResult{}}
	rem := &fakeRemediator{}
	m := NewMonitor(zerolog.Nop(), det, rem, nil)
	m.SetInterval(10 * time.Millisecond)

	go m.Run(context.Background())
	time.Sleep(30 * time.Millisecond)
	m.Stop()

	assert.Greater(t, det.calls.Load(), int32(0))
}
