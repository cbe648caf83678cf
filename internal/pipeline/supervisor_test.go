package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camera-viewer-go/internal/camera"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestRestartPolicy(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	r := NewRestartPolicy(5*time.Second, 30*time.Second, 3)
	r.now = clock.now

	d, _ := r.Allow()
	assert.Equal(t, RestartAllowed, d)

	clock.advance(time.Second)
	d, _ = r.Allow()
	assert.Equal(t, RestartCoolingDown, d)

	clock.advance(4 * time.Second)
	d, _ = r.Allow()
	assert.Equal(t, RestartAllowed, d)

	clock.advance(5 * time.Second)
	d, _ = r.Allow()
	assert.Equal(t, RestartAllowed, d)

	// Three restarts inside the window: limited until 2x window after the
	// last one.
	clock.advance(5 * time.Second)
	d, first := r.Allow()
	assert.Equal(t, RestartLimited, d)
	assert.True(t, first)

	clock.advance(10 * time.Second)
	d, first = r.Allow()
	assert.Equal(t, RestartLimited, d)
	assert.False(t, first)

	// The window has emptied but the extended cooldown still holds.
	clock.advance(16 * time.Second)
	d, _ = r.Allow()
	assert.Equal(t, RestartLimited, d)

	clock.advance(30 * time.Second)
	d, _ = r.Allow()
	assert.Equal(t, RestartRecovered, d)

	clock.advance(5 * time.Second)
	d, _ = r.Allow()
	assert.Equal(t, RestartAllowed, d)
}

func TestRestartPolicyWindowSlides(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	r := NewRestartPolicy(time.Second, 10*time.Second, 2)
	r.now = clock.now

	for i := 0; i < 5; i++ {
		d, _ := r.Allow()
		assert.Equal(t, RestartAllowed, d, "restart %d", i)
		clock.advance(11 * time.Second)
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []EventKind
}

func (l *eventLog) add(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e.Kind)
}

func (l *eventLog) has(kind EventKind) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, k := range l.events {
		if k == kind {
			return true
		}
	}
	return false
}

func runSupervisor(t *testing.T, s *Supervisor) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestSupervisorRestartsAfterDisconnect(t *testing.T) {
	src := newFeedSource()
	p := newTestPipeline(t, src, nil)
	require.NoError(t, p.Start(context.Background()))

	var hooks atomic.Int32
	log := &eventLog{}
	s := NewSupervisor(p, SupervisorConfig{
		RestartCooldown:      10 * time.Millisecond,
		RestartWindow:        time.Second,
		MaxRestartsPerWindow: 3,
		CheckInterval:        5 * time.Millisecond,
		BeforeRestart:        func() { hooks.Add(1) },
	}, WithListener(log.add))
	runSupervisor(t, s)

	src.feed <- step{err: camera.ErrDeviceDisconnected}

	require.Eventually(t, func() bool { return s.Restarts() == 1 }, waitFor, tick)
	assert.Eventually(t, func() bool { return p.State() == StateRunning }, waitFor, tick)
	assert.Equal(t, int32(2), src.opens.Load())
	assert.Equal(t, int32(1), hooks.Load())
	assert.True(t, log.has(EventDisconnected))

	src.push(1)
	assert.Eventually(t, func() bool { return p.Stats().Delivered >= 1 }, waitFor, tick)
}

func TestSupervisorRetriesFailedRestart(t *testing.T) {
	src := newFeedSource()
	p := newTestPipeline(t, src, nil)
	require.NoError(t, p.Start(context.Background()))

	s := NewSupervisor(p, SupervisorConfig{
		RestartCooldown:      10 * time.Millisecond,
		RestartWindow:        time.Second,
		MaxRestartsPerWindow: 10,
		CheckInterval:        5 * time.Millisecond,
	})

	// The device stays away for the first reopen attempt.
	var attempts atomic.Int32
	s.cfg.BeforeRestart = func() {
		if attempts.Add(1) == 1 {
			src.openErr = camera.ErrDeviceUnavailable
		} else {
			src.openErr = nil
		}
	}
	runSupervisor(t, s)

	src.feed <- step{err: camera.ErrDeviceDisconnected}
	require.Eventually(t, func() bool { return s.Restarts() == 1 }, waitFor, tick)
	assert.GreaterOrEqual(t, attempts.Load(), int32(2))
	assert.Equal(t, StateRunning, p.State())
}

func TestSupervisorRestartsStalePipeline(t *testing.T) {
	src := newFeedSource()
	p := newTestPipeline(t, src, nil)
	require.NoError(t, p.Start(context.Background()))

	s := NewSupervisor(p, SupervisorConfig{
		StaleTimeout:         40 * time.Millisecond,
		RestartCooldown:      time.Hour,
		RestartWindow:        time.Hour,
		MaxRestartsPerWindow: 3,
		CheckInterval:        5 * time.Millisecond,
		HealthInterval:       10 * time.Millisecond,
	})
	runSupervisor(t, s)

	require.Eventually(t, func() bool { return s.Restarts() == 1 }, waitFor, tick)
	// The cooldown holds off a second restart.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, uint64(1), s.Restarts())
	assert.Equal(t, StateRunning, p.State())
}

func TestSupervisorIgnoresManualStop(t *testing.T) {
	src := newFeedSource()
	p := newTestPipeline(t, src, nil)
	require.NoError(t, p.Start(context.Background()))

	s := NewSupervisor(p, SupervisorConfig{
		RestartCooldown: 10 * time.Millisecond,
		RestartWindow:   time.Second,
		CheckInterval:   5 * time.Millisecond,
	})
	runSupervisor(t, s)

	require.NoError(t, p.Stop())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateStopped, p.State())
	assert.Zero(t, s.Restarts())
}

func TestSupervisorManualRestartSkipsBudget(t *testing.T) {
	src := newFeedSource()
	p := newTestPipeline(t, src, nil)
	require.NoError(t, p.Start(context.Background()))
	first := p.SessionID()

	s := NewSupervisor(p, SupervisorConfig{
		RestartCooldown:      time.Hour,
		RestartWindow:        time.Hour,
		MaxRestartsPerWindow: 1,
	})

	require.NoError(t, s.Restart(context.Background()))
	require.NoError(t, s.Restart(context.Background()))
	assert.Equal(t, uint64(2), s.Restarts())
	assert.Equal(t, StateRunning, p.State())
	assert.NotEqual(t, first, p.SessionID())
}
