// Package perf lowers the capture frame rate while the machine is under
// load or running hot, and raises it again once it has recovered.
package perf

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"camera-viewer-go/internal/config"
)

// FPSSetter is the capture side being throttled. *pipeline.Pipeline
// satisfies it.
type FPSSetter interface {
	SetFPS(fps int)
	FPS() int
}

// Sampler produces system samples. *Monitor satisfies it.
type Sampler interface {
	Update() (Sample, error)
}

// AdaptiveController manages dynamic performance adjustments
type AdaptiveController struct {
	target  FPSSetter
	sampler Sampler
	logger  *zap.Logger

	interval      time.Duration
	minFPS        int
	maxFPS        int
	step          int
	loadThreshold float64
	tempThreshold float64
	stressHold    int
	recoverHold   int

	mu            sync.Mutex
	stressed      bool
	stressCount   int
	recoveryCount int
}

// NewAdaptiveController steps target's FPS within [cfg.MinDynamicFPS,
// maxFPS]. maxFPS is the configured capture rate.
func NewAdaptiveController(target FPSSetter, sampler Sampler, cfg config.PerformanceConfig, maxFPS int, logger *zap.Logger) *AdaptiveController {
	if logger == nil {
		logger = zap.NewNop()
	}
	ac := &AdaptiveController{
		target:        target,
		sampler:       sampler,
		logger:        logger.Named("perf"),
		interval:      time.Duration(cfg.CheckIntervalMS) * time.Millisecond,
		minFPS:        min(cfg.MinDynamicFPS, maxFPS),
		maxFPS:        maxFPS,
		step:          max(cfg.FPSStep, 1),
		loadThreshold: cfg.CPULoadThreshold,
		tempThreshold: cfg.CPUTempThresholdC,
		stressHold:    max(cfg.StressHoldCount, 1),
		recoverHold:   max(cfg.RecoverHoldCount, 1),
	}
	if ac.interval <= 0 {
		ac.interval = 2 * time.Second
	}
	ac.minFPS = max(ac.minFPS, 1)
	return ac
}

// Run samples every interval until ctx ends.
func (ac *AdaptiveController) Run(ctx context.Context) {
	ac.logger.Info("adaptive fps enabled",
		zap.Int("min_fps", ac.minFPS),
		zap.Int("max_fps", ac.maxFPS),
		zap.Duration("interval", ac.interval))

	ticker := time.NewTicker(ac.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		s, err := ac.sampler.Update()
		if err != nil {
			ac.logger.Debug("performance sample failed", zap.Error(err))
			continue
		}
		ac.Evaluate(s)
	}
}

// Evaluate feeds one sample and returns the capture FPS after it.
// stressHold consecutive stressed samples lower the rate by one step;
// recoverHold consecutive calm samples raise it by one step.
func (ac *AdaptiveController) Evaluate(s Sample) int {
	ac.mu.Lock()
	defer ac.mu.Unlock()

	stressed := s.Load > ac.loadThreshold || (s.HasTemp && s.TempC > ac.tempThreshold)
	fps := ac.target.FPS()
	if fps <= 0 {
		// unpaced capture
		fps = ac.maxFPS
	}

	if stressed {
		ac.recoveryCount = 0
		ac.stressCount++
		if !ac.stressed {
			ac.stressed = true
			ac.logger.Warn("system under stress",
				zap.Float64("load", s.Load),
				zap.Float64("temp_c", s.TempC))
		}
		if ac.stressCount >= ac.stressHold {
			ac.stressCount = 0
			return ac.apply(fps, max(fps-ac.step, ac.minFPS), s)
		}
		return fps
	}

	ac.stressCount = 0
	if fps >= ac.maxFPS {
		if ac.stressed {
			ac.stressed = false
			ac.logger.Info("system recovered", zap.Float64("load", s.Load))
		}
		ac.recoveryCount = 0
		return fps
	}
	ac.recoveryCount++
	if ac.recoveryCount >= ac.recoverHold {
		ac.recoveryCount = 0
		return ac.apply(fps, min(fps+ac.step, ac.maxFPS), s)
	}
	return fps
}

func (ac *AdaptiveController) apply(from, to int, s Sample) int {
	if to == from {
		return from
	}
	ac.target.SetFPS(to)
	ac.logger.Info("capture fps adjusted",
		zap.Int("from", from),
		zap.Int("to", to),
		zap.Float64("load", s.Load),
		zap.Float64("temp_c", s.TempC),
		zap.Float64("mem_pct", s.MemoryPercent))
	return to
}

// Stressed reports whether the last samples were over a threshold.
func (ac *AdaptiveController) Stressed() bool {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	return ac.stressed
}
