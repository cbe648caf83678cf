package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"camera-viewer-go/internal/metrics"
)

// =============================================================================
// Restart budget
// =============================================================================
// Bounded auto-restart:
//   - Cooldown: minimum time between two restarts
//   - MaxPerWindow restarts allowed within Window
//   - Extended cooldown (2x Window) once the limit is reached
// =============================================================================

// RestartPolicy decides whether a restart may happen now.
type RestartPolicy struct {
	Cooldown     time.Duration
	Window       time.Duration
	MaxPerWindow int

	now      func() time.Time
	events   []time.Time
	last     time.Time
	limitHit bool
}

// NewRestartPolicy returns a policy using the wall clock.
func NewRestartPolicy(cooldown, window time.Duration, maxPerWindow int) *RestartPolicy {
	return &RestartPolicy{
		Cooldown:     cooldown,
		Window:       window,
		MaxPerWindow: maxPerWindow,
		now:          time.Now,
	}
}

// RestartDecision is the outcome of RestartPolicy.Allow.
type RestartDecision int

const (
	RestartAllowed RestartDecision = iota
	// RestartCoolingDown: the previous restart was too recent.
	RestartCoolingDown
	// RestartLimited: the window budget is spent and the extended cooldown
	// has not passed.
	RestartLimited
	// RestartRecovered: the extended cooldown passed, the budget was reset
	// and the restart is allowed.
	RestartRecovered
)

// Allow reports whether a restart may happen now and records it when it
// may. The second result is true the first time the limit is hit, so the
// caller can log it once.
func (r *RestartPolicy) Allow() (RestartDecision, bool) {
	now := r.now()
	extendedCooldown := r.Window * 2

	if !r.last.IsZero() && now.Sub(r.last) < r.Cooldown {
		return RestartCoolingDown, false
	}

	recent := 0
	for _, t := range r.events {
		if now.Sub(t) <= r.Window {
			recent++
		}
	}

	decision := RestartAllowed
	// Once hit, the limit holds for the extended cooldown even after the
	// window has emptied.
	if r.limitHit || recent >= r.MaxPerWindow {
		if !r.last.IsZero() && now.Sub(r.last) < extendedCooldown {
			first := !r.limitHit
			r.limitHit = true
			return RestartLimited, first
		}
		r.events = nil
		r.limitHit = false
		decision = RestartRecovered
	}

	r.events = append(r.events, now)
	r.last = now

	// Keep slightly more history than the window.
	filtered := r.events[:0]
	for _, t := range r.events {
		if now.Sub(t) <= extendedCooldown {
			filtered = append(filtered, t)
		}
	}
	r.events = filtered
	return decision, false
}

// =============================================================================
// Supervisor
// =============================================================================

// Controller is the part of a Pipeline the supervisor drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop() error
	State() State
	Stats() Stats
	Events() <-chan Event
}

// SupervisorConfig holds the recovery settings.
type SupervisorConfig struct {
	// StaleTimeout is how long a running pipeline may go without a
	// delivered frame before it is restarted.
	StaleTimeout         time.Duration
	RestartCooldown      time.Duration
	RestartWindow        time.Duration
	MaxRestartsPerWindow int
	// HealthInterval <= 0 disables the periodic health summary.
	HealthInterval time.Duration
	// CheckInterval is the stale detection period. Defaults to 500ms.
	CheckInterval time.Duration
	// BeforeRestart runs before each restart, e.g. to free the device.
	BeforeRestart func()
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithListener forwards every pipeline event to fn, on the supervisor
// goroutine.
func WithListener(fn func(Event)) SupervisorOption {
	return func(s *Supervisor) { s.listener = fn }
}

func WithSupervisorLogger(l *zap.Logger) SupervisorOption {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithSupervisorMetrics(m *metrics.Metrics) SupervisorOption {
	return func(s *Supervisor) { s.metrics = m }
}

// Supervisor watches a pipeline and restarts it after a disconnect or when
// frames go stale, within a restart budget.
type Supervisor struct {
	p        Controller
	cfg      SupervisorConfig
	policy   *RestartPolicy
	logger   *zap.Logger
	metrics  *metrics.Metrics
	listener func(Event)

	mu       sync.Mutex
	pending  bool // a restart is owed after a disconnect
	restarts atomic.Uint64
}

func NewSupervisor(p Controller, cfg SupervisorConfig, opts ...SupervisorOption) *Supervisor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 500 * time.Millisecond
	}
	if cfg.MaxRestartsPerWindow <= 0 {
		cfg.MaxRestartsPerWindow = 3
	}
	s := &Supervisor{
		p:      p,
		cfg:    cfg,
		policy: NewRestartPolicy(cfg.RestartCooldown, cfg.RestartWindow, cfg.MaxRestartsPerWindow),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("supervisor")
	return s
}

// Restarts returns how many restarts succeeded.
func (s *Supervisor) Restarts() uint64 { return s.restarts.Load() }

// Run supervises until ctx is done. It does not stop the pipeline on
// return.
func (s *Supervisor) Run(ctx context.Context) {
	s.logger.Info("supervising pipeline",
		zap.Duration("stale_timeout", s.cfg.StaleTimeout),
		zap.Duration("cooldown", s.cfg.RestartCooldown),
		zap.Int("max_restarts", s.cfg.MaxRestartsPerWindow),
		zap.Duration("window", s.cfg.RestartWindow))

	check := time.NewTicker(s.cfg.CheckInterval)
	defer check.Stop()

	var health <-chan time.Time
	if s.cfg.HealthInterval > 0 {
		t := time.NewTicker(s.cfg.HealthInterval)
		defer t.Stop()
		health = t.C
	} else {
		s.logger.Info("health logging disabled (interval <= 0)")
	}

	events := s.p.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-events:
			s.handle(ctx, e)
		case <-check.C:
			s.check(ctx)
		case <-health:
			s.logHealth()
		}
	}
}

func (s *Supervisor) handle(ctx context.Context, e Event) {
	if s.listener != nil {
		s.listener(e)
	}
	if e.Kind != EventDisconnected {
		return
	}
	s.mu.Lock()
	s.pending = true
	s.mu.Unlock()
	s.tryRestart(ctx, "disconnected")
}

// check restarts a pipeline that owes a restart or whose frames went
// stale.
func (s *Supervisor) check(ctx context.Context) {
	s.mu.Lock()
	pending := s.pending
	s.mu.Unlock()

	st := s.p.Stats()
	switch {
	case pending && st.State == StateStopped:
		s.tryRestart(ctx, "disconnected")
	case st.State == StateRunning && s.cfg.StaleTimeout > 0:
		ref := st.LastFrame
		if ref.IsZero() {
			ref = st.StartedAt
		}
		if ref.IsZero() {
			return
		}
		if age := time.Since(ref); age > s.cfg.StaleTimeout {
			s.logger.Warn("stale frames detected", zap.Duration("age", age))
			s.tryRestart(ctx, "stale")
		}
	}
}

func (s *Supervisor) tryRestart(ctx context.Context, reason string) {
	decision, limitJustHit := s.policy.Allow()
	switch decision {
	case RestartCoolingDown:
		return
	case RestartLimited:
		if limitJustHit {
			s.logger.Warn("restart limit reached",
				zap.Int("max", s.cfg.MaxRestartsPerWindow),
				zap.Duration("window", s.cfg.RestartWindow),
				zap.Duration("retry_in", s.cfg.RestartWindow*2))
		}
		return
	case RestartRecovered:
		s.logger.Info("extended cooldown passed, attempting recovery")
	}

	if err := s.restart(ctx, reason); err != nil {
		s.mu.Lock()
		s.pending = true
		s.mu.Unlock()
	}
}

// Restart stops and starts the pipeline now, outside the restart budget.
// It backs the renderer's restart control.
func (s *Supervisor) Restart(ctx context.Context) error {
	return s.restart(ctx, "manual")
}

func (s *Supervisor) restart(ctx context.Context, reason string) error {
	s.logger.Info("restarting pipeline", zap.String("reason", reason))
	if s.cfg.BeforeRestart != nil {
		s.cfg.BeforeRestart()
	}

	if err := s.p.Stop(); err != nil {
		s.logger.Warn("stop before restart", zap.Error(err))
	}
	if err := s.p.Start(ctx); err != nil {
		s.logger.Error("restart failed", zap.String("reason", reason), zap.Error(err))
		return err
	}

	s.mu.Lock()
	s.pending = false
	s.mu.Unlock()
	s.restarts.Add(1)
	s.metrics.IncRestarts()
	s.logger.Info("pipeline restarted", zap.String("reason", reason))
	return nil
}

// logHealth logs one summary line of pipeline health.
func (s *Supervisor) logHealth() {
	st := s.p.Stats()

	status := "online"
	var age time.Duration
	switch {
	case st.State != StateRunning:
		status = st.State.String()
	case st.LastFrame.IsZero():
		status = "stale"
		s.logger.Warn("pipeline has never produced a frame")
	default:
		age = time.Since(st.LastFrame)
		if s.cfg.StaleTimeout > 0 && age > s.cfg.StaleTimeout {
			status = "stale"
		}
	}

	s.logger.Info("health",
		zap.String("status", status),
		zap.String("session", st.Session),
		zap.Duration("frame_age", age),
		zap.Int("fps", st.FPS),
		zap.Uint64("delivered", st.Delivered),
		zap.Uint64("replaced", st.Replaced),
		zap.Uint64("dropped", st.Dropped),
		zap.Uint64("timeouts", st.Timeouts),
		zap.Int("pool_in_use", st.PoolInUse),
		zap.Uint64("restarts", s.restarts.Load()))
}
