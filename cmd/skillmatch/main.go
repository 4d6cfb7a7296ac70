package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/nidhogg/skillmatch/internal/api"
	"github.com/nidhogg/skillmatch/internal/authz"
	"github.com/nidhogg/skillmatch/internal/config"
	"github.com/nidhogg/skillmatch/internal/endorse"
	"github.com/nidhogg/skillmatch/internal/ledger"
	"github.com/nidhogg/skillmatch/internal/metrics"
	"github.com/nidhogg/skillmatch/internal/notify"
	"github.com/nidhogg/skillmatch/internal/profile"
	"github.com/nidhogg/skillmatch/internal/repo"
	"github.com/nidhogg/skillmatch/internal/scoring"
	"github.com/nidhogg/skillmatch/internal/selector"
	"github.com/nidhogg/skillmatch/internal/stats"
	pgstore "github.com/nidhogg/skillmatch/internal/store"
	"github.com/nidhogg/skillmatch/internal/sweep"
	"github.com/nidhogg/skillmatch/internal/workitem"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/skillmatch.json"
	}
	cfg, err := config.Load(cfgPath)
	missing := errors.Is(err, fs.ErrNotExist)
	if missing {
		cfg = config.Default()
	} else if err != nil {
		fmt.Fprintf(os.Stderr, "load config %s: %v\n", cfgPath, err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Server.LogLevel)
	defer logger.Sync()

	if missing {
		logger.Warn("config file not found, using defaults", zap.String("path", cfgPath))
	} else {
		logger.Info("Config loaded", zap.String("path", cfgPath))
	}
	logger.Info("Starting skillmatch...")

	ctx := context.Background()

	// Profiles, assignments and feedback live in PostgreSQL when configured.
	var (
		st      repo.Store
		items   workitem.Source
		writer  workitem.Writer
		pgStore *pgstore.Store
	)
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(ctx, cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running in memory", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(ctx, cfg.Server.MigrationsDir); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			pgStore = ps
			wi := ps.WorkItems()
			st, items, writer = ps, wi, wi
		}
	}
	if st == nil {
		mem := workitem.NewMemorySource()
		st, items, writer = repo.NewMemoryStore(), mem, mem
	}

	// Notification sinks
	sinks := []notify.Sink{notify.NewLogSink(logger)}
	if cfg.Database.Redis.URL != "" {
		rs, rErr := notify.NewRedisSink(cfg.Database.Redis.URL, cfg.Notify.RedisStreamPrefix, logger)
		if rErr != nil {
			logger.Warn("Redis unavailable, running without event streams", zap.Error(rErr))
		} else {
			sinks = append(sinks, rs)
		}
	}
	if sc := cfg.Notify.Slack; sc.Enabled && sc.BotToken != "" {
		sinks = append(sinks, notify.NewSlackSink(sc.BotToken, sc.ChannelID, logger))
	}
	if dc := cfg.Notify.Discord; dc.Enabled && dc.BotToken != "" {
		ds, dErr := notify.NewDiscordSink(dc.BotToken, dc.ChannelID, logger)
		if dErr != nil {
			logger.Warn("Discord sink disabled", zap.Error(dErr))
		} else {
			sinks = append(sinks, ds)
		}
	}
	dispatcher := notify.NewDispatcher(cfg.Notify.Buffer, logger, sinks...)

	// Endorsements go to Neo4j when selected, otherwise to the main store.
	var (
		endorsements repo.EndorsementStore = st
		graph        *endorse.GraphStore
	)
	if cfg.Endorsements.Enabled && cfg.Endorsements.Backend == "neo4j" {
		g, gErr := endorse.NewGraphStore(cfg.Database.Neo4j.URI, cfg.Database.Neo4j.User, cfg.Database.Neo4j.Password, logger)
		if gErr == nil {
			gErr = g.Ping(ctx)
		}
		if gErr == nil {
			gErr = g.Init(ctx)
		}
		if gErr != nil {
			logger.Warn("Neo4j unavailable, storing endorsements in the main store", zap.Error(gErr))
		} else {
			graph = g
			endorsements = g
		}
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	retry := cfg.Retry.Policy()

	strategy, err := selector.ParseStrategy(cfg.Assignment.DefaultStrategy)
	if err != nil {
		logger.Fatal("invalid default strategy", zap.Error(err))
	}

	agg := stats.NewAggregator(st, items, retry, cfg.Stats, logger)
	agg.SetMetrics(m)

	l := ledger.New(st, items, selector.New(scoring.NewEngine(cfg.Scoring)), retry, logger)
	l.SetNotifier(dispatcher)
	l.SetMetrics(m)
	l.SetObserver(agg)
	l.SetDefaultStrategy(strategy)
	l.SetTopN(cfg.Assignment.DefaultTopN, cfg.Assignment.MaxTopN)

	sw := sweep.New(l, items, st, cfg.Sweep.Workers, logger)
	sw.SetMetrics(m)

	var policy authz.Policy = authz.AllowAll{}
	if len(cfg.Authz.Roles) > 0 {
		policy = authz.NewRolePolicy(cfg.Authz.Roles)
		logger.Info("role policy enabled", zap.Int("roles", len(cfg.Authz.Roles)))
	}

	handler := api.NewHandler(api.Deps{
		Profiles:       profile.NewService(st, retry, logger),
		Ledger:         l,
		Stats:          agg,
		Endorsements:   endorse.NewRegistry(cfg.Endorsements.Enabled, endorsements, st, logger),
		Sweeper:        sw,
		Items:          items,
		ItemWriter:     writer,
		Policy:         policy,
		Gatherer:       prometheus.DefaultGatherer,
		RequestTimeout: time.Duration(cfg.Server.RequestTimeoutMS) * time.Millisecond,
	}, logger)

	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("skillmatch listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down skillmatch...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	dispatcher.Close()
	if graph != nil {
		graph.Close(shutdownCtx)
	}
	if pgStore != nil {
		pgStore.Close()
	}
}

func newLogger(level string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if level == "debug" {
		logger, err = zap.NewDevelopment()
	} else {
		cfg := zap.NewProductionConfig()
		if lvl, lErr := zap.ParseAtomicLevel(level); lErr == nil {
			cfg.Level = lvl
		}
		logger, err = cfg.Build()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
