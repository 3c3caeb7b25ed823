package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/trading-engine/internal/engine"
)

type fakeEngine struct {
	instruments []string
	delay       time.Duration
	err         error

	mu     sync.Mutex
	calls  map[string]int
	active map[string]int
	peak   int
	ctxErr []error
}

func newFakeEngine(instruments ...string) *fakeEngine {
	return &fakeEngine{
		instruments: instruments,
		calls:       make(map[string]int),
		active:      make(map[string]int),
	}
}

func (f *fakeEngine) Instruments() []string { return f.instruments }

func (f *fakeEngine) run(ctx context.Context, loop, inst string) error {
	key := loop + "/" + inst
	f.mu.Lock()
	f.calls[key]++
	f.active[key]++
	if f.active[key] > f.peak {
		f.peak = f.active[key]
	}
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.active[key]--
	f.ctxErr = append(f.ctxErr, ctx.Err())
	f.mu.Unlock()
	return f.err
}

func (f *fakeEngine) GridTick(ctx context.Context, inst string) error {
	return f.run(ctx, LoopGrid, inst)
}

func (f *fakeEngine) MomentumTick(ctx context.Context, inst string) error {
	return f.run(ctx, LoopMomentum, inst)
}

func (f *fakeEngine) SweepTick(ctx context.Context, inst string) error {
	return f.run(ctx, LoopSweep, inst)
}

func (f *fakeEngine) count(loop, inst string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[loop+"/"+inst]
}

func fastConfig() Config {
	return Config{
		GridInterval:     5 * time.Millisecond,
		MomentumInterval: 5 * time.Millisecond,
		SweepInterval:    20 * time.Millisecond,
		TickTimeout:      time.Second,
	}
}

func TestRun_DrivesEveryLoopForEveryInstrument(t *testing.T) {
	eng := newFakeEngine("BTC-USD", "XRP-USD")
	s := New(fastConfig(), eng, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	for _, inst := range eng.instruments {
		assert.Positive(t, eng.count(LoopGrid, inst), "grid %s", inst)
		assert.Positive(t, eng.count(LoopMomentum, inst), "momentum %s", inst)
		assert.Positive(t, eng.count(LoopSweep, inst), "sweep %s", inst)
	}
	assert.Greater(t, eng.count(LoopGrid, "BTC-USD"), eng.count(LoopSweep, "BTC-USD"))
}

func TestRun_PassesDoNotOverlapPerInstrument(t *testing.T) {
	eng := newFakeEngine("BTC-USD")
	eng.delay = 25 * time.Millisecond
	s := New(fastConfig(), eng, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	eng.mu.Lock()
	defer eng.mu.Unlock()
	assert.Equal(t, 1, eng.peak)
}

func TestRun_InFlightPassesFinishAfterShutdown(t *testing.T) {
	eng := newFakeEngine("BTC-USD")
	eng.delay = 40 * time.Millisecond
	s := New(fastConfig(), eng, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()

	time.Sleep(15 * time.Millisecond)
	cancel()
	<-done

	eng.mu.Lock()
	defer eng.mu.Unlock()
	require.NotEmpty(t, eng.ctxErr)
	for _, err := range eng.ctxErr {
		assert.NoError(t, err, "pass context must survive shutdown")
	}
	for key, n := range eng.active {
		assert.Zero(t, n, "%s still running after Run returned", key)
	}
}

func TestPass_ErrorHandling(t *testing.T) {
	eng := newFakeEngine("BTC-USD")
	s := New(DefaultConfig(), eng, zerolog.Nop())
	ctx := context.Background()

	eng.err = engine.ErrNotActive
	assert.NoError(t, s.Pass(ctx, LoopGrid, "BTC-USD"))

	eng.err = errors.Join(engine.ErrPriceUnavailable, context.DeadlineExceeded)
	assert.ErrorIs(t, s.Pass(ctx, LoopMomentum, "BTC-USD"), engine.ErrPriceUnavailable)

	eng.err = nil
	assert.NoError(t, s.Pass(ctx, LoopSweep, "BTC-USD"))
	assert.Error(t, s.Pass(ctx, "hourly", "BTC-USD"))

	assert.Equal(t, 1, eng.count(LoopSweep, "BTC-USD"))
}
