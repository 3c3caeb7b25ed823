package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/atmx/trading-engine/internal/api"
	"github.com/atmx/trading-engine/internal/config"
	"github.com/atmx/trading-engine/internal/engine"
	"github.com/atmx/trading-engine/internal/feed"
	"github.com/atmx/trading-engine/internal/grid"
	"github.com/atmx/trading-engine/internal/lifecycle"
	"github.com/atmx/trading-engine/internal/logging"
	"github.com/atmx/trading-engine/internal/payout"
	"github.com/atmx/trading-engine/internal/risk"
	"github.com/atmx/trading-engine/internal/scheduler"
	scoring "github.com/atmx/trading-engine/internal/signal"
	"github.com/atmx/trading-engine/internal/store"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to the YAML configuration `FILE`",
		Sources: cli.EnvVars("ENGINE_CONFIG"),
	}

	cmd := &cli.Command{
		Name:  "engine",
		Usage: "Grid and momentum trading engine",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Run the scheduler and the HTTP API",
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{
						Name:  "addr",
						Usage: "HTTP listen address, overrides app.http_addr",
					},
					&cli.BoolFlag{
						Name:  "dev",
						Usage: "Panic on invariant violations",
					},
				},
				Action: serveAction,
			},
			{
				Name:   "migrate",
				Usage:  "Create the Postgres schema",
				Flags:  []cli.Flag{configFlag},
				Action: migrateAction,
			},
			{
				Name:   "config",
				Usage:  "Validate and print the effective configuration",
				Flags:  []cli.Flag{configFlag},
				Action: configAction,
			},
		},
		DefaultCommand: "serve",
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}
	if addr := cmd.String("addr"); addr != "" {
		cfg.App.HTTPAddr = addr
	}
	if cmd.Bool("dev") {
		cfg.App.DevMode = true
		cfg.Engine.DevMode = true
	}

	log := logging.New(cfg.App.LogLevel, cfg.App.LogFormat).With().Str("service", cfg.App.Name).Logger()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Store ---
	st, rdb, cleanup, err := openStore(ctx, cfg.Store, log)
	if err != nil {
		return err
	}
	defer cleanup()

	// --- Payouts ---
	var withdrawer payout.Withdrawer = payout.NewLogWithdrawer(log)
	if rdb != nil {
		withdrawer = payout.NewRedisQueue(rdb, cfg.Payout.QueueKey)
		log.Info().Str("key", cfg.Payout.QueueKey).Msg("withdrawals queued to Redis")
	}

	// --- Feed and paper sink ---
	prices, err := newPriceSource(cfg.Feed)
	if err != nil {
		return err
	}
	sink := feed.NewPaperSink(cfg.Feed.RejectRate, cfg.Feed.Seed)

	// --- Engine ---
	eng := engine.New(cfg.Engine, engine.Deps{
		Prices:    prices,
		Orders:    sink,
		Payouts:   payout.NewTrigger(cfg.Payout, withdrawer, log),
		Store:     st,
		Grid:      grid.NewManager(cfg.Grid, grid.NewProbabilisticFill(cfg.Feed.FillProbability, cfg.Feed.Seed)),
		Signals:   scoring.NewEngine(cfg.Signal),
		Lifecycle: lifecycle.NewManager(cfg.Lifecycle),
		Risk:      risk.NewLimiter(cfg.Risk),
		Log:       log,
	})

	hub := api.NewHub(log)
	eng.OnEvent(hub.Publish)

	for _, inst := range cfg.Instruments {
		if _, err := eng.Activate(ctx, inst); err != nil {
			return fmt.Errorf("activate %s: %w", inst, err)
		}
	}

	sched := scheduler.New(cfg.Scheduler, eng, log)
	svc := api.NewService(eng, sched, log)

	srv := &http.Server{
		Addr:         cfg.App.HTTPAddr,
		Handler:      newRouter(cfg.App.Name, eng, svc, hub, log),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return sched.Run(gctx)
	})
	g.Go(func() error {
		log.Info().Str("addr", cfg.App.HTTPAddr).
			Strs("instruments", eng.Instruments()).
			Str("feed", cfg.Feed.Kind).
			Bool("dev_mode", cfg.App.DevMode).
			Msg("engine listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down engine...")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	err = g.Wait()
	log.Info().Msg("engine stopped")
	return err
}

func migrateAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}
	if cfg.Store.DatabaseURL == "" {
		return errors.New("migrate: DATABASE_URL is not set")
	}
	log := logging.New(cfg.App.LogLevel, cfg.App.LogFormat)

	pool, err := pgxpool.New(ctx, cfg.Store.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer pool.Close()

	if err := store.NewPostgresStore(pool).Migrate(ctx); err != nil {
		return err
	}
	log.Info().Msg("schema migrated")
	return nil
}

func configAction(_ context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(cfg)
}

// openStore picks the persistence layer: Postgres when a database URL is
// set, with a Redis read-through cache in front when a Redis URL is also
// set, and memory otherwise. The Redis client is returned for reuse.
func openStore(ctx context.Context, cfg config.Store, log zerolog.Logger) (store.Store, *redis.Client, func(), error) {
	var cleanup []func()
	closeAll := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	if cfg.DatabaseURL == "" {
		log.Warn().Msg("DATABASE_URL not set, using in-memory store (data will not persist)")
		return store.NewMemoryStore(), nil, closeAll, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, closeAll, fmt.Errorf("database connection failed: %w", err)
	}
	cleanup = append(cleanup, pool.Close)

	pg := store.NewPostgresStore(pool)
	if err := pg.Migrate(ctx); err != nil {
		closeAll()
		return nil, nil, func() {}, err
	}
	log.Info().Msg("connected to PostgreSQL")

	if cfg.RedisURL == "" {
		return pg, nil, closeAll, nil
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		closeAll()
		return nil, nil, func() {}, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opt)
	cleanup = append(cleanup, func() { rdb.Close() })
	log.Info().Dur("ttl", cfg.CacheTTL).Msg("Redis cache enabled")
	return store.NewCachedStore(pg, rdb, cfg.CacheTTL), rdb, closeAll, nil
}

func newPriceSource(cfg config.Feed) (engine.PriceSource, error) {
	switch cfg.Kind {
	case config.FeedBinance:
		return feed.NewBinance(cfg.BaseURL), nil
	case config.FeedSimulated:
		return feed.NewSimulated(cfg.StartPrices, cfg.Volatility, cfg.Seed).WithFailRate(cfg.FailRate), nil
	default:
		return nil, fmt.Errorf("unknown feed kind %q", cfg.Kind)
	}
}
