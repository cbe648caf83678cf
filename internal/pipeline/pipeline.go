// Package pipeline runs the capture side of the viewer: one goroutine reads
// frames from a Source, converts them into pooled buffers and hands them to
// a drop-oldest delivery channel that the renderer polls.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"camera-viewer-go/internal/camera"
	"camera-viewer-go/internal/convert"
	"camera-viewer-go/internal/delivery"
	"camera-viewer-go/internal/frame"
	"camera-viewer-go/internal/metrics"
)

// State is the pipeline lifecycle position.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var ErrAlreadyRunning = errors.New("pipeline: already running")

const (
	summaryEvery = 150
	drainTimeout = time.Second
)

// Config holds the pipeline settings.
type Config struct {
	DeviceIndex int
	// Target is the layout delivered to the renderer.
	Target   frame.Layout
	PoolSize int
	// FPS caps the capture rate; 0 reads as fast as the source allows.
	FPS int
	// AcquireTimeout > 0 waits that long for a free slot instead of
	// dropping the frame immediately.
	AcquireTimeout time.Duration
	// MaxConsecutiveErrors unclassified read errors in a row are treated
	// as a disconnect. Defaults to 10.
	MaxConsecutiveErrors int
	// EventBuffer sizes the status event queue. Defaults to 16.
	EventBuffer int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// Stats is a snapshot of the pipeline counters. Counters accumulate over
// restarts.
type Stats struct {
	State     State
	Session   string
	FPS       int
	Captured  uint64
	Delivered uint64
	Replaced  uint64
	Dropped   uint64
	Timeouts  uint64
	Errors    uint64
	PoolInUse int
	StartedAt time.Time
	LastFrame time.Time
}

// Pipeline owns the capture goroutine. Start and Stop may be called from
// any goroutine; Receive is meant for the render loop.
type Pipeline struct {
	cfg     Config
	src     camera.Source
	pool    *frame.Pool
	limiter *rate.Limiter
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex // serializes Start and Stop
	cancel  context.CancelFunc
	done    chan struct{}
	stopErr error // written by the capture goroutine before done closes

	state   atomic.Int32
	ch      atomic.Pointer[delivery.Channel]
	session atomic.Pointer[string]
	fps     atomic.Int32
	started atomic.Int64
	last    atomic.Int64

	events        chan Event
	eventsDropped atomic.Uint64

	captured  atomic.Uint64
	delivered atomic.Uint64
	replaced  atomic.Uint64
	dropped   atomic.Uint64
	timeouts  atomic.Uint64
	readErrs  atomic.Uint64
}

// New validates cfg and builds a stopped pipeline around src.
func New(cfg Config, src camera.Source, opts ...Option) (*Pipeline, error) {
	if src == nil {
		return nil, errors.New("pipeline: nil source")
	}
	if !convert.IsTarget(cfg.Target) {
		return nil, fmt.Errorf("pipeline: %w: %s is not a renderer layout", convert.ErrUnsupportedLayout, cfg.Target)
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = 10
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 16
	}

	pool, err := frame.NewPool(cfg.PoolSize, 0)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	p := &Pipeline{
		cfg:     cfg,
		src:     src,
		pool:    pool,
		limiter: rate.NewLimiter(rate.Inf, 1),
		logger:  zap.NewNop(),
		events:  make(chan Event, cfg.EventBuffer),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("capture")
	p.SetFPS(cfg.FPS)
	return p, nil
}

// Start opens the source and launches the capture goroutine. A source that
// cannot be opened leaves the pipeline Stopped and the error wraps
// camera.ErrDeviceUnavailable. ctx bounds the run; cancelling it has the
// same effect as Stop.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return ErrAlreadyRunning
	}
	p.metrics.SetState(int(StateStarting))
	if p.cancel != nil {
		// Previous run ended on its own.
		p.cancel()
		p.cancel, p.done = nil, nil
	}

	if err := p.src.Open(p.cfg.DeviceIndex); err != nil {
		p.setState(StateStopped)
		p.logger.Error("failed to open source",
			zap.String("source", p.src.Name()),
			zap.Int("device", p.cfg.DeviceIndex),
			zap.Error(err))
		return fmt.Errorf("pipeline: start: %w", err)
	}

	session := uuid.NewString()
	p.session.Store(&session)
	logger := p.logger.With(zap.String("session", session))

	ch := delivery.New()
	p.ch.Store(ch)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel, p.done, p.stopErr = cancel, done, nil
	p.started.Store(time.Now().UnixNano())
	p.last.Store(0)

	p.setState(StateRunning)
	p.emit(Event{Kind: EventStarted, Session: session})
	logger.Info("pipeline started",
		zap.String("source", p.src.Name()),
		zap.Int("device", p.cfg.DeviceIndex),
		zap.Stringer("target", p.cfg.Target),
		zap.Int("pool", p.pool.Size()),
		zap.Int("fps", p.FPS()))

	go p.run(runCtx, ch, session, done, logger)
	return nil
}

// Stop ends the run and waits for teardown. It returns once the state is
// Stopped; the wait is bounded by the source's read timeout. Stopping a
// stopped pipeline is a no-op.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel == nil {
		return nil
	}
	p.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
	p.cancel()
	<-p.done
	err := p.stopErr
	p.cancel, p.done = nil, nil
	return err
}

// Receive returns the newest undelivered frame, or false when there is
// none. The caller owns the frame and must Release it. Before the first
// Start and after Stop it always returns false.
func (p *Pipeline) Receive() (*frame.Frame, bool) {
	ch := p.ch.Load()
	if ch == nil {
		return nil, false
	}
	return ch.Receive()
}

// Events returns the status event stream. It is never closed.
func (p *Pipeline) Events() <-chan Event { return p.events }

func (p *Pipeline) State() State { return State(p.state.Load()) }

// SessionID identifies the current or last run.
func (p *Pipeline) SessionID() string {
	if s := p.session.Load(); s != nil {
		return *s
	}
	return ""
}

// SetFPS changes the capture rate limit while running. fps <= 0 removes
// the limit.
func (p *Pipeline) SetFPS(fps int) {
	if fps <= 0 {
		fps = 0
		p.limiter.SetLimit(rate.Inf)
	} else {
		p.limiter.SetLimit(rate.Limit(fps))
	}
	p.fps.Store(int32(fps))
	p.metrics.SetCaptureFPS(fps)
}

func (p *Pipeline) FPS() int { return int(p.fps.Load()) }

func (p *Pipeline) Stats() Stats {
	return Stats{
		State:     p.State(),
		Session:   p.SessionID(),
		FPS:       p.FPS(),
		Captured:  p.captured.Load(),
		Delivered: p.delivered.Load(),
		Replaced:  p.replaced.Load(),
		Dropped:   p.dropped.Load(),
		Timeouts:  p.timeouts.Load(),
		Errors:    p.readErrs.Load(),
		PoolInUse: p.pool.InUse(),
		StartedAt: unixNano(p.started.Load()),
		LastFrame: unixNano(p.last.Load()),
	}
}

// PoolStats exposes the buffer pool counters.
func (p *Pipeline) PoolStats() frame.PoolStats { return p.pool.Stats() }

func unixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (p *Pipeline) setState(s State) {
	p.state.Store(int32(s))
	p.metrics.SetState(int(s))
}

// =============================================================================
// Capture loop
// =============================================================================

func (p *Pipeline) run(ctx context.Context, ch *delivery.Channel, session string, done chan struct{}, logger *zap.Logger) {
	var cause error
	defer func() {
		p.teardown(ch, session, cause, logger)
		close(done)
	}()

	consecutive := 0
	for {
		if err := p.limiter.Wait(ctx); err != nil {
			return
		}

		raw, err := p.src.ReadFrame()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			switch {
			case errors.Is(err, camera.ErrCaptureTimeout):
				p.timeouts.Add(1)
				p.metrics.IncCaptureError(metrics.ErrKindTimeout)
				logger.Debug("capture timeout", zap.Error(err))
				continue
			case errors.Is(err, camera.ErrDeviceDisconnected):
				p.metrics.IncCaptureError(metrics.ErrKindDisconnected)
				cause = err
				return
			default:
				p.readErrs.Add(1)
				p.metrics.IncCaptureError(metrics.ErrKindOther)
				consecutive++
				if consecutive >= p.cfg.MaxConsecutiveErrors {
					cause = fmt.Errorf("%w: %d consecutive read errors, last: %v",
						camera.ErrDeviceDisconnected, consecutive, err)
					return
				}
				logger.Warn("capture error", zap.Error(err), zap.Int("consecutive", consecutive))
				continue
			}
		}
		consecutive = 0
		p.captured.Add(1)
		p.metrics.IncCaptured()

		if err := p.deliver(ctx, ch, raw, logger); err != nil {
			cause = err
			return
		}
	}
}

// deliver converts raw into a pool slot and sends it. Only fatal errors
// are returned; dropped frames are counted.
func (p *Pipeline) deliver(ctx context.Context, ch *delivery.Channel, raw *frame.Frame, logger *zap.Logger) error {
	slot, err := p.acquire(ctx)
	if err != nil {
		p.dropped.Add(1)
		p.metrics.IncDropped(metrics.DropPoolExhausted)
		logger.Debug("frame dropped", zap.Uint64("seq", raw.Seq), zap.Error(err))
		return nil
	}

	target := p.cfg.Target
	begin := time.Now()
	_, err = convert.Into(slot.Bytes(convert.Size(raw.Width, raw.Height, target)), raw, target)
	p.metrics.ObserveConvert(time.Since(begin))
	if err != nil {
		slot.Release()
		if errors.Is(err, convert.ErrUnsupportedLayout) {
			return err
		}
		p.dropped.Add(1)
		p.metrics.IncDropped(metrics.DropConvert)
		logger.Warn("conversion failed", zap.Uint64("seq", raw.Seq), zap.Error(err))
		return nil
	}

	f := slot.Frame(raw.Width, raw.Height, target.MinStride(raw.Width), target)
	f.Seq = raw.Seq
	f.CapturedAt = raw.CapturedAt

	replaced, err := ch.Send(f)
	if err != nil {
		return nil
	}

	n := p.delivered.Add(1)
	if replaced {
		p.replaced.Add(1)
	}
	p.last.Store(time.Now().UnixNano())
	p.metrics.IncDelivered(replaced)
	p.metrics.SetPoolInUse(p.pool.InUse())

	if n%summaryEvery == 0 {
		logger.Info("capture summary",
			zap.Uint64("delivered", n),
			zap.Uint64("replaced", p.replaced.Load()),
			zap.Uint64("dropped", p.dropped.Load()),
			zap.Uint64("timeouts", p.timeouts.Load()),
			zap.Int("fps", p.FPS()))
	}
	return nil
}

func (p *Pipeline) acquire(ctx context.Context) (*frame.Slot, error) {
	if p.cfg.AcquireTimeout <= 0 {
		return p.pool.TryAcquire()
	}
	actx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()
	return p.pool.Acquire(actx)
}

// teardown runs on the capture goroutine after the loop exits: the device
// is closed, the channel releases its frame and the pool drains before
// the state becomes Stopped.
func (p *Pipeline) teardown(ch *delivery.Channel, session string, cause error, logger *zap.Logger) {
	p.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
	p.metrics.SetState(int(StateStopping))

	switch {
	case cause == nil:
	case errors.Is(cause, camera.ErrDeviceDisconnected):
		logger.Warn("device disconnected, stopping", zap.Error(cause))
		p.emit(Event{Kind: EventDisconnected, Err: cause, Session: session})
	default:
		logger.Error("pipeline failed, stopping", zap.Error(cause))
		p.emit(Event{Kind: EventError, Err: cause, Session: session})
	}

	var err error
	if cerr := p.src.Close(); cerr != nil {
		err = multierr.Append(err, fmt.Errorf("close source: %w", cerr))
	}
	ch.Close()

	dctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	err = multierr.Append(err, p.pool.Drain(dctx))
	cancel()
	p.metrics.SetPoolInUse(p.pool.InUse())

	if err != nil {
		logger.Error("teardown incomplete", zap.Error(err))
	}
	p.stopErr = err

	p.setState(StateStopped)
	p.emit(Event{Kind: EventStopped, Err: err, Session: session})

	st := ch.Stats()
	logger.Info("pipeline stopped",
		zap.Uint64("sent", st.Sent),
		zap.Uint64("received", st.Received),
		zap.Uint64("replaced", st.Replaced),
		zap.Uint64("dropped", p.dropped.Load()),
		zap.Uint64("timeouts", p.timeouts.Load()))
}
