package perf

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camera-viewer-go/internal/config"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestMonitorReadsProcAndSys(t *testing.T) {
	proc, sys := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(proc, "loadavg"), "2.50 1.00 0.50 1/100 1234\n")
	writeFile(t, filepath.Join(proc, "meminfo"), "MemTotal:       1000 kB\nMemFree:         100 kB\nMemAvailable:    250 kB\n")
	writeFile(t, filepath.Join(sys, "class/thermal/thermal_zone0/temp"), "60000\n")
	writeFile(t, filepath.Join(sys, "class/thermal/thermal_zone1/temp"), "70000\n")

	m := newMonitorAt(proc, sys)
	s, err := m.Update()
	require.NoError(t, err)

	assert.Equal(t, 2.5, s.Load)
	assert.True(t, s.HasTemp)
	assert.Equal(t, 65.0, s.TempC)
	assert.Equal(t, 75.0, s.MemoryPercent)
	assert.Equal(t, s, m.Last())
}

func TestMonitorWithoutThermalZones(t *testing.T) {
	proc := t.TempDir()
	writeFile(t, filepath.Join(proc, "loadavg"), "0.10 0.20 0.30 1/1 1\n")

	s, err := newMonitorAt(proc, t.TempDir()).Update()
	require.NoError(t, err)
	assert.False(t, s.HasTemp)
	assert.Zero(t, s.MemoryPercent)
}

func TestMonitorBadLoadAverage(t *testing.T) {
	proc := t.TempDir()
	writeFile(t, filepath.Join(proc, "loadavg"), "\n")
	_, err := newMonitorAt(proc, t.TempDir()).Update()
	assert.ErrorIs(t, err, ErrInvalidLoadAverage)

	writeFile(t, filepath.Join(proc, "loadavg"), "busy\n")
	_, err = newMonitorAt(proc, t.TempDir()).Update()
	assert.ErrorIs(t, err, ErrInvalidLoadAverage)

	_, err = newMonitorAt(t.TempDir(), t.TempDir()).Update()
	assert.Error(t, err)
}

type fakeTarget struct {
	mu  sync.Mutex
	fps int
}

func (f *fakeTarget) SetFPS(fps int) {
	f.mu.Lock()
	f.fps = fps
	f.mu.Unlock()
}

func (f *fakeTarget) FPS() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fps
}

func perfConfig() config.PerformanceConfig {
	return config.PerformanceConfig{
		CheckIntervalMS:   10,
		MinDynamicFPS:     10,
		FPSStep:           2,
		CPULoadThreshold:  3.0,
		CPUTempThresholdC: 75,
		StressHoldCount:   3,
		RecoverHoldCount:  2,
	}
}

var (
	busy = Sample{Load: 4.0}
	hot  = Sample{Load: 0.5, TempC: 80, HasTemp: true}
	calm = Sample{Load: 0.5, TempC: 40, HasTemp: true}
)

func TestAdaptiveStepsDownAfterHold(t *testing.T) {
	target := &fakeTarget{fps: 15}
	ac := NewAdaptiveController(target, nil, perfConfig(), 15, nil)

	assert.Equal(t, 15, ac.Evaluate(busy))
	assert.Equal(t, 15, ac.Evaluate(hot))
	assert.Equal(t, 13, ac.Evaluate(busy))
	assert.True(t, ac.Stressed())

	for i := 0; i < 3; i++ {
		ac.Evaluate(busy)
	}
	assert.Equal(t, 11, target.FPS())

	for i := 0; i < 6; i++ {
		ac.Evaluate(busy)
	}
	assert.Equal(t, 10, target.FPS(), "clamped at the minimum")
}

func TestAdaptiveRecoversAfterHold(t *testing.T) {
	target := &fakeTarget{fps: 10}
	ac := NewAdaptiveController(target, nil, perfConfig(), 15, nil)

	assert.Equal(t, 10, ac.Evaluate(calm))
	assert.Equal(t, 12, ac.Evaluate(calm))

	// A stressed sample resets the calm run.
	ac.Evaluate(calm)
	ac.Evaluate(busy)
	assert.Equal(t, 12, ac.Evaluate(calm))
	assert.Equal(t, 14, ac.Evaluate(calm))

	ac.Evaluate(calm)
	assert.Equal(t, 15, ac.Evaluate(calm), "clamped at the capture rate")
	assert.Equal(t, 15, ac.Evaluate(calm))
}

func TestAdaptiveIgnoresMissingTemperature(t *testing.T) {
	target := &fakeTarget{fps: 15}
	ac := NewAdaptiveController(target, nil, perfConfig(), 15, nil)

	for i := 0; i < 5; i++ {
		ac.Evaluate(Sample{Load: 0.5, TempC: 99})
	}
	assert.Equal(t, 15, target.FPS())
	assert.False(t, ac.Stressed())
}

type scriptedSampler struct {
	mu      sync.Mutex
	samples []Sample
}

func (s *scriptedSampler) Update() (Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.samples) == 0 {
		return calm, nil
	}
	next := s.samples[0]
	s.samples = s.samples[1:]
	return next, nil
}

func TestAdaptiveRunAppliesToTarget(t *testing.T) {
	target := &fakeTarget{fps: 15}
	cfg := perfConfig()
	cfg.RecoverHoldCount = 1000
	sampler := &scriptedSampler{samples: []Sample{busy, busy, busy}}
	ac := NewAdaptiveController(target, sampler, cfg, 15, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ac.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return target.FPS() == 13 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
