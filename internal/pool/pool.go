// Package pool hands out reusable fixed-size message buffers so the send and
// receive paths do not allocate per message.
//
// A Pool is owned by exactly one writer and does no locking. Calls from two
// goroutines at once are a programming error and panic with
// ErrConcurrentAccess instead of corrupting the free list.
package pool

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dray-io/svcbridge/internal/metrics"
)

// Common errors returned by Pool operations.
var (
	// ErrExhausted is returned by Reserve when no slot is free and the pool
	// may not grow. The caller should drop the message or retry later.
	ErrExhausted = errors.New("pool: exhausted")

	// ErrInvalidRelease is returned by Release for buffers that are not
	// reserved from this pool (foreign buffers or double releases).
	ErrInvalidRelease = errors.New("pool: invalid release")

	// ErrInvalidConfig is returned by New for inconsistent configurations.
	ErrInvalidConfig = errors.New("pool: invalid config")

	// ErrConcurrentAccess is the panic value raised when two goroutines use
	// one pool at the same time.
	ErrConcurrentAccess = errors.New("pool: concurrent access from more than one goroutine")
)

// Policy is the growth behaviour derived from a Config.
type Policy int

const (
	// PolicyFixed never allocates after construction.
	PolicyFixed Policy = iota
	// PolicyGrow allocates BatchSize slots at a time up to MaxSize.
	PolicyGrow
)

func (p Policy) String() string {
	if p == PolicyFixed {
		return "fixed"
	}
	return "grow"
}

// Config sizes a Pool.
type Config struct {
	// InitialSize is the number of slots allocated by New.
	InitialSize int `yaml:"initialSize"`

	// MaxSize caps the number of slots. Equal to InitialSize for a fixed
	// pool; 0 means the pool may grow without bound.
	MaxSize int `yaml:"maxSize"`

	// BatchSize is how many slots a growing pool allocates at once.
	// Default: 1.
	BatchSize int `yaml:"batchSize"`

	// BufferSize is the initial capacity in bytes of every slot.
	BufferSize int `yaml:"bufferSize"`
}

// FixedConfig returns a config for a pool of exactly n slots. It panics if
// n is not positive: a MaxSize of 0 would mean unbounded growth.
func FixedConfig(n, bufferSize int) Config {
	if n <= 0 {
		panic(fmt.Sprintf("pool: fixed pool needs at least one slot, got %d", n))
	}
	return Config{InitialSize: n, MaxSize: n, BufferSize: bufferSize}
}

// Policy reports the growth policy described by c.
func (c Config) Policy() Policy {
	if c.MaxSize != 0 && c.MaxSize == c.InitialSize {
		return PolicyFixed
	}
	return PolicyGrow
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	switch {
	case c.InitialSize < 0, c.MaxSize < 0, c.BatchSize < 0:
		return fmt.Errorf("%w: negative size", ErrInvalidConfig)
	case c.BufferSize <= 0:
		return fmt.Errorf("%w: buffer size must be positive", ErrInvalidConfig)
	case c.MaxSize != 0 && c.MaxSize < c.InitialSize:
		return fmt.Errorf("%w: max size %d below initial size %d", ErrInvalidConfig, c.MaxSize, c.InitialSize)
	}
	return nil
}

// Option configures a Pool.
type Option func(*Pool)

// WithMetrics publishes pool state under the given label.
func WithMetrics(m *metrics.PoolMetrics, label string) Option {
	return func(p *Pool) {
		p.metrics = m
		p.label = label
	}
}

// Pool is a free list of Buffers.
type Pool struct {
	cfg      Config
	free     []*Buffer
	capacity int
	reserved int
	busy     atomic.Bool

	metrics *metrics.PoolMetrics
	label   string
}

// New creates a pool and allocates cfg.InitialSize slots.
func New(cfg Config, opts ...Option) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 1
	}

	p := &Pool{cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}

	limit := cfg.MaxSize
	if limit == 0 {
		limit = cfg.InitialSize
	}
	p.free = make([]*Buffer, 0, limit)
	p.allocate(cfg.InitialSize)
	p.publish()
	return p, nil
}

// Reserve transfers ownership of a free slot to the caller. It runs in
// constant time, apart from allocating a new batch on a growing pool.
func (p *Pool) Reserve() (*Buffer, error) {
	p.enter()
	defer p.exit()

	if len(p.free) == 0 && !p.grow() {
		p.metrics.RecordExhausted(p.label)
		return nil, ErrExhausted
	}

	last := len(p.free) - 1
	b := p.free[last]
	p.free[last] = nil
	p.free = p.free[:last]

	b.reserved = true
	p.reserved++
	p.publish()
	return b, nil
}

// Release returns a reserved slot to the pool. Buffers that are not
// currently reserved from this pool are rejected and the pool is unchanged.
func (p *Pool) Release(b *Buffer) error {
	p.enter()
	defer p.exit()

	if b == nil || b.owner != p || !b.reserved {
		return ErrInvalidRelease
	}

	b.Reset()
	b.reserved = false
	p.free = append(p.free, b)
	p.reserved--
	p.publish()
	return nil
}

// Capacity returns the number of slots allocated so far.
func (p *Pool) Capacity() int { return p.capacity }

// Reserved returns the number of slots owned by callers.
func (p *Pool) Reserved() int { return p.reserved }

// Free returns the number of slots available without growing.
func (p *Pool) Free() int { return len(p.free) }

// Config returns the configuration the pool was built with.
func (p *Pool) Config() Config { return p.cfg }

func (p *Pool) grow() bool {
	n := p.cfg.BatchSize
	if p.cfg.MaxSize != 0 {
		if room := p.cfg.MaxSize - p.capacity; room < n {
			n = room
		}
	}
	if n <= 0 {
		return false
	}
	p.allocate(n)
	return true
}

func (p *Pool) allocate(n int) {
	for i := 0; i < n; i++ {
		p.free = append(p.free, &Buffer{
			owner: p,
			data:  make([]byte, 0, p.cfg.BufferSize),
		})
	}
	p.capacity += n
}

func (p *Pool) publish() {
	p.metrics.RecordState(p.label, p.reserved, p.capacity)
}

func (p *Pool) enter() {
	if !p.busy.CompareAndSwap(false, true) {
		panic(ErrConcurrentAccess)
	}
}

func (p *Pool) exit() {
	p.busy.Store(false)
}
