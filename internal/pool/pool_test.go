package pool

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dray-io/svcbridge/internal/metrics"
)

func mustNew(t *testing.T, cfg Config, opts ...Option) *Pool {
	t.Helper()
	p, err := New(cfg, opts...)
	require.NoError(t, err)
	return p
}

func assertAccounting(t *testing.T, p *Pool) {
	t.Helper()
	assert.Equal(t, p.Capacity(), p.Reserved()+p.Free(), "reserved + free must equal capacity")
}

func TestCapacityTwo(t *testing.T) {
	p := mustNew(t, FixedConfig(2, 64))

	first, err := p.Reserve()
	require.NoError(t, err)
	_, err = p.Reserve()
	require.NoError(t, err)
	assertAccounting(t, p)

	_, err = p.Reserve()
	require.ErrorIs(t, err, ErrExhausted)
	assertAccounting(t, p)

	require.NoError(t, p.Release(first))
	again, err := p.Reserve()
	require.NoError(t, err)
	assert.Same(t, first, again)
	assertAccounting(t, p)
}

func TestFixedPoolReserveN(t *testing.T) {
	for _, n := range []int{1, 3, 16} {
		p := mustNew(t, FixedConfig(n, 8))

		held := make([]*Buffer, 0, n)
		for i := 0; i < n; i++ {
			b, err := p.Reserve()
			require.NoError(t, err, "reserve %d of %d", i+1, n)
			held = append(held, b)
		}
		_, err := p.Reserve()
		require.ErrorIs(t, err, ErrExhausted)

		require.NoError(t, p.Release(held[n/2]))
		_, err = p.Reserve()
		require.NoError(t, err)
		_, err = p.Reserve()
		require.ErrorIs(t, err, ErrExhausted, "only one reservation may follow one release")
		assertAccounting(t, p)
	}
}

func TestGrowUpToCeiling(t *testing.T) {
	p := mustNew(t, Config{InitialSize: 1, MaxSize: 4, BatchSize: 2, BufferSize: 8})
	assert.Equal(t, PolicyGrow, p.Config().Policy())
	assert.Equal(t, 1, p.Capacity())

	for i := 0; i < 4; i++ {
		_, err := p.Reserve()
		require.NoError(t, err)
		assertAccounting(t, p)
	}
	assert.Equal(t, 4, p.Capacity())

	_, err := p.Reserve()
	require.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 4, p.Capacity())
}

func TestGrowPartialBatchAtCeiling(t *testing.T) {
	p := mustNew(t, Config{InitialSize: 0, MaxSize: 3, BatchSize: 2, BufferSize: 8})

	for i := 0; i < 3; i++ {
		_, err := p.Reserve()
		require.NoError(t, err)
	}
	assert.Equal(t, 3, p.Capacity())
	_, err := p.Reserve()
	require.ErrorIs(t, err, ErrExhausted)
}

func TestUnboundedGrowth(t *testing.T) {
	p := mustNew(t, Config{InitialSize: 0, MaxSize: 0, BufferSize: 8})
	for i := 0; i < 100; i++ {
		_, err := p.Reserve()
		require.NoError(t, err)
	}
	assert.Equal(t, 100, p.Capacity())
	assert.Equal(t, 100, p.Reserved())
}

func TestInvalidRelease(t *testing.T) {
	p := mustNew(t, FixedConfig(2, 8))
	other := mustNew(t, FixedConfig(1, 8))

	b, err := p.Reserve()
	require.NoError(t, err)
	foreign, err := other.Reserve()
	require.NoError(t, err)

	assert.ErrorIs(t, p.Release(nil), ErrInvalidRelease)
	assert.ErrorIs(t, p.Release(foreign), ErrInvalidRelease)
	assert.ErrorIs(t, p.Release(&Buffer{}), ErrInvalidRelease)
	assertAccounting(t, p)
	assert.Equal(t, 1, p.Reserved())

	require.NoError(t, p.Release(b))
	assert.ErrorIs(t, p.Release(b), ErrInvalidRelease, "double release")
	assert.Equal(t, 0, p.Reserved())
	assert.Equal(t, 2, p.Free())
	assertAccounting(t, p)
}

func TestBufferLifecycle(t *testing.T) {
	p := mustNew(t, FixedConfig(1, 4))

	b, err := p.Reserve()
	require.NoError(t, err)
	assert.True(t, b.Reserved())
	assert.Equal(t, 4, b.Cap())

	b.Load([]byte("hello world"))
	assert.Equal(t, "hello world", string(b.Bytes()))
	assert.Equal(t, 11, b.Len())

	require.NoError(t, p.Release(b))
	assert.False(t, b.Reserved())
	assert.Equal(t, 0, b.Len())

	again, err := p.Reserve()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, again.Cap(), 11, "grown slot keeps its capacity")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"fixed", FixedConfig(4, 64), false},
		{"unbounded", Config{BufferSize: 64}, false},
		{"grow", Config{InitialSize: 1, MaxSize: 8, BatchSize: 2, BufferSize: 64}, false},
		{"zero buffer size", Config{InitialSize: 1, MaxSize: 1}, true},
		{"negative", Config{InitialSize: -1, BufferSize: 1}, true},
		{"max below initial", Config{InitialSize: 4, MaxSize: 2, BufferSize: 1}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				_, err = New(tc.cfg)
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFixedConfigNeedsSlots(t *testing.T) {
	for _, n := range []int{0, -1} {
		assert.Panics(t, func() { FixedConfig(n, 16) }, "n=%d", n)
	}
	assert.Equal(t, PolicyFixed, FixedConfig(1, 16).Policy())
}

func TestPolicy(t *testing.T) {
	assert.Equal(t, PolicyFixed, FixedConfig(2, 1).Policy())
	assert.Equal(t, PolicyGrow, Config{InitialSize: 2}.Policy())
	assert.Equal(t, "fixed", PolicyFixed.String())
	assert.Equal(t, "grow", PolicyGrow.String())
}

func TestPoolMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewPoolMetricsWithRegistry(reg)
	p := mustNew(t, FixedConfig(1, 8), WithMetrics(m, "local/request"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Capacity.WithLabelValues("local/request")))

	b, err := p.Reserve()
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reserved.WithLabelValues("local/request")))

	_, err = p.Reserve()
	require.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExhaustedTotal.WithLabelValues("local/request")))

	require.NoError(t, p.Release(b))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Reserved.WithLabelValues("local/request")))
}

func TestConcurrentAccessPanics(t *testing.T) {
	p := mustNew(t, FixedConfig(1, 8))

	// Simulate a second goroutine being inside the pool.
	p.enter()
	defer p.exit()

	var wg sync.WaitGroup
	wg.Add(1)
	var recovered any
	go func() {
		defer wg.Done()
		defer func() { recovered = recover() }()
		_, _ = p.Reserve()
	}()
	wg.Wait()

	assert.Equal(t, ErrConcurrentAccess, recovered)
}
