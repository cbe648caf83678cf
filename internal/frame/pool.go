package frame

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrPoolExhausted   = errors.New("frame: pool exhausted")
	ErrInvalidPoolSize = errors.New("frame: pool needs at least 2 slots")
)

// MinPoolSize is one slot being filled plus one in flight to the renderer.
const MinPoolSize = 2

// Slot is a reusable byte region checked out of a Pool.
type Slot struct {
	pool  *Pool
	index int
	buf   []byte
	gen   uint64
	busy  bool
}

// Index returns the slot's position in its pool.
func (s *Slot) Index() int { return s.index }

// Bytes returns a buffer of length n backed by the slot, growing the
// slot's capacity when the frame geometry outgrows it.
func (s *Slot) Bytes(n int) []byte {
	if cap(s.buf) < n {
		s.buf = make([]byte, n)
	}
	return s.buf[:n]
}

// Frame wraps the first stride*height bytes of the slot as a Frame that
// releases the slot when done.
func (s *Slot) Frame(width, height, stride int, layout Layout) *Frame {
	s.pool.mu.Lock()
	gen := s.gen
	s.pool.mu.Unlock()
	return &Frame{
		Width:  width,
		Height: height,
		Stride: stride,
		Layout: layout,
		Pix:    s.Bytes(stride * height),
		slot:   s,
		gen:    gen,
	}
}

// Release returns the slot to its pool. Releasing a free slot is a no-op.
func (s *Slot) Release() bool {
	s.pool.mu.Lock()
	gen := s.gen
	s.pool.mu.Unlock()
	return s.pool.release(s, gen)
}

// PoolStats is a snapshot of pool counters.
type PoolStats struct {
	Size      int
	InUse     int
	Acquired  uint64
	Released  uint64
	Exhausted uint64
}

// Pool is a fixed set of slots. Acquisition never creates new slots.
type Pool struct {
	mu    sync.Mutex
	slots []*Slot
	free  chan *Slot

	inUse     atomic.Int32
	acquired  atomic.Uint64
	released  atomic.Uint64
	exhausted atomic.Uint64
}

// NewPool creates size slots, each preallocated with slotBytes bytes.
func NewPool(size, slotBytes int) (*Pool, error) {
	if size < MinPoolSize {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidPoolSize, size)
	}
	if slotBytes < 0 {
		slotBytes = 0
	}
	p := &Pool{
		slots: make([]*Slot, size),
		free:  make(chan *Slot, size),
	}
	for i := range p.slots {
		s := &Slot{pool: p, index: i, buf: make([]byte, slotBytes)}
		p.slots[i] = s
		p.free <- s
	}
	return p, nil
}

// Size returns the fixed slot count.
func (p *Pool) Size() int { return len(p.slots) }

// InUse returns the number of slots currently checked out.
func (p *Pool) InUse() int { return int(p.inUse.Load()) }

// TryAcquire returns a free slot or ErrPoolExhausted without blocking.
func (p *Pool) TryAcquire() (*Slot, error) {
	select {
	case s := <-p.free:
		p.checkout(s)
		return s, nil
	default:
		p.exhausted.Add(1)
		return nil, ErrPoolExhausted
	}
}

// Acquire waits for a free slot until ctx is done, then fails with
// ErrPoolExhausted.
func (p *Pool) Acquire(ctx context.Context) (*Slot, error) {
	select {
	case s := <-p.free:
		p.checkout(s)
		return s, nil
	default:
	}

	select {
	case s := <-p.free:
		p.checkout(s)
		return s, nil
	case <-ctx.Done():
		p.exhausted.Add(1)
		return nil, fmt.Errorf("%w: %v", ErrPoolExhausted, ctx.Err())
	}
}

// AcquireTimeout is Acquire bounded by d.
func (p *Pool) AcquireTimeout(d time.Duration) (*Slot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return p.Acquire(ctx)
}

func (p *Pool) checkout(s *Slot) {
	p.mu.Lock()
	s.busy = true
	p.mu.Unlock()
	p.inUse.Add(1)
	p.acquired.Add(1)
}

// Release returns s to the pool. It reports false when s was already free.
func (p *Pool) Release(s *Slot) bool {
	if s == nil || s.pool != p {
		return false
	}
	return s.Release()
}

// release frees s if it is still checked out under generation gen.
func (p *Pool) release(s *Slot, gen uint64) bool {
	p.mu.Lock()
	if !s.busy || s.gen != gen {
		p.mu.Unlock()
		return false
	}
	s.busy = false
	s.gen++
	p.mu.Unlock()

	p.inUse.Add(-1)
	p.released.Add(1)
	// free has room for every slot, so this never blocks.
	p.free <- s
	return true
}

// Drain waits until every slot is back in the pool or ctx is done.
func (p *Pool) Drain(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if p.InUse() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("frame: drain: %d of %d slots still in use: %w",
				p.InUse(), p.Size(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Size:      p.Size(),
		InUse:     p.InUse(),
		Acquired:  p.acquired.Load(),
		Released:  p.released.Load(),
		Exhausted: p.exhausted.Load(),
	}
}
