// Package scheduler drives the engine's grid, momentum and profit-sweep
// passes on fixed intervals for every active instrument.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/atmx/trading-engine/internal/engine"
	"github.com/atmx/trading-engine/internal/metrics"
)

// Loop names, also used as metric labels.
const (
	LoopGrid     = "grid"
	LoopMomentum = "momentum"
	LoopSweep    = "sweep"
)

// Config holds the loop intervals.
type Config struct {
	GridInterval     time.Duration `yaml:"grid_interval" validate:"gt=0"`
	MomentumInterval time.Duration `yaml:"momentum_interval" validate:"gt=0"`
	SweepInterval    time.Duration `yaml:"sweep_interval" validate:"gte=30s,lte=120s"`
	// TickTimeout bounds one pass on one instrument.
	TickTimeout time.Duration `yaml:"tick_timeout" validate:"gt=0"`
}

// DefaultConfig returns 12s grid, 10s momentum and 60s sweep intervals.
func DefaultConfig() Config {
	return Config{
		GridInterval:     12 * time.Second,
		MomentumInterval: 10 * time.Second,
		SweepInterval:    60 * time.Second,
		TickTimeout:      5 * time.Second,
	}
}

// Engine is the subset of *engine.Engine the scheduler drives.
type Engine interface {
	Instruments() []string
	GridTick(ctx context.Context, instrument string) error
	MomentumTick(ctx context.Context, instrument string) error
	SweepTick(ctx context.Context, instrument string) error
}

var _ Engine = (*engine.Engine)(nil)

type tickFunc func(ctx context.Context, instrument string) error

type loop struct {
	name     string
	interval time.Duration
	tick     tickFunc
}

// Scheduler runs one periodic loop per pass kind. On every interval each
// active instrument gets its own pass, in parallel across instruments. A
// pass still running for an instrument when the next interval fires is not
// doubled up; that instrument simply skips the interval.
type Scheduler struct {
	cfg Config
	eng Engine
	log zerolog.Logger

	mu       sync.Mutex
	inflight map[string]bool
}

// New creates a scheduler.
func New(cfg Config, eng Engine, log zerolog.Logger) *Scheduler {
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = DefaultConfig().TickTimeout
	}
	return &Scheduler{
		cfg:      cfg,
		eng:      eng,
		log:      log.With().Str("component", "scheduler").Logger(),
		inflight: make(map[string]bool),
	}
}

// Run blocks until ctx is done. No new passes start after that; passes
// already running finish under their own timeout before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	loops := []loop{
		{name: LoopGrid, interval: s.cfg.GridInterval, tick: s.eng.GridTick},
		{name: LoopMomentum, interval: s.cfg.MomentumInterval, tick: s.eng.MomentumTick},
		{name: LoopSweep, interval: s.cfg.SweepInterval, tick: s.eng.SweepTick},
	}

	s.log.Info().
		Dur("grid", s.cfg.GridInterval).
		Dur("momentum", s.cfg.MomentumInterval).
		Dur("sweep", s.cfg.SweepInterval).
		Msg("scheduler started")

	// Passes are tracked separately from the loops so that shutdown waits
	// for them without cancelling them.
	var passes sync.WaitGroup
	g, gctx := errgroup.WithContext(ctx)
	for _, l := range loops {
		if l.interval <= 0 {
			continue
		}
		g.Go(func() error {
			s.runLoop(gctx, l, &passes)
			return nil
		})
	}
	err := g.Wait()
	passes.Wait()
	s.log.Info().Msg("scheduler stopped")
	return err
}

func (s *Scheduler) runLoop(ctx context.Context, l loop, passes *sync.WaitGroup) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(ctx, l, passes)
		}
	}
}

// fire starts one pass per active instrument.
func (s *Scheduler) fire(ctx context.Context, l loop, passes *sync.WaitGroup) {
	for _, inst := range s.eng.Instruments() {
		key := l.name + "/" + inst
		if !s.claim(key) {
			s.log.Debug().Str("loop", l.name).Str("instrument", inst).Msg("previous pass still running")
			continue
		}
		passes.Add(1)
		go func() {
			defer passes.Done()
			defer s.release(key)
			s.pass(ctx, l, inst)
		}()
	}
}

// Pass runs a single pass synchronously. It is exported for callers that
// want to trigger a loop outside its interval.
func (s *Scheduler) Pass(ctx context.Context, loopName, instrument string) error {
	var fn tickFunc
	switch loopName {
	case LoopGrid:
		fn = s.eng.GridTick
	case LoopMomentum:
		fn = s.eng.MomentumTick
	case LoopSweep:
		fn = s.eng.SweepTick
	default:
		return errors.New("scheduler: unknown loop " + loopName)
	}
	return s.pass(ctx, loop{name: loopName, tick: fn}, instrument)
}

func (s *Scheduler) pass(ctx context.Context, l loop, inst string) error {
	// In-flight passes run to completion even after shutdown starts.
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.TickTimeout)
	defer cancel()

	start := time.Now()
	err := l.tick(tctx, inst)
	metrics.ObserveTick(inst, l.name, start, err)

	switch {
	case err == nil:
	case errors.Is(err, engine.ErrNotActive):
		// Deactivated between listing and running.
		err = nil
	case errors.Is(err, engine.ErrPriceUnavailable):
		s.log.Warn().Err(err).Str("loop", l.name).Str("instrument", inst).Msg("price unavailable, pass skipped")
	default:
		s.log.Error().Err(err).Str("loop", l.name).Str("instrument", inst).Msg("pass failed")
	}
	return err
}

func (s *Scheduler) claim(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[key] {
		return false
	}
	s.inflight[key] = true
	return true
}

func (s *Scheduler) release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, key)
}
