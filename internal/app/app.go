// Package app wires one match's components together: config, log sink,
// optional history persistence, the Game FSM, and the Server that drives
// it. It supervises their lifetime with an errgroup running the main work
// alongside a shutdown watcher.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"example.com/curling-match-server/internal/config"
	"example.com/curling-match-server/internal/history"
	"example.com/curling-match-server/internal/logsink"
	"example.com/curling-match-server/internal/match"
	"example.com/curling-match-server/internal/server"
)

// Options configures the optional persistence stores. An empty DSN/addr
// disables that store and its no-op implementation is used instead.
type Options struct {
	LogDir      string
	Verbose     bool
	Debug       bool
	HistoryDSN  string
	RedisAddr   string
	RedisDB     int
	RegistryTTL time.Duration
}

// App owns one match's worth of state: the match id, the log sink, the
// optional storage handles, and the Server that drives the protocol.
type App struct {
	cfg *config.Config
	log *slog.Logger

	db  *pgxpool.Pool
	rdb *redis.Client

	sink    *logsink.Sink
	srv     *server.Server
	matchID string
}

// New constructs everything a match needs but does not start accepting
// connections; call Run for that.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, opts Options) (*App, error) {
	if log == nil {
		log = slog.Default()
	}

	matchID := uuid.NewString()
	launchTime := time.Now()

	logDir := opts.LogDir
	if logDir == "" {
		logDir = "log"
	}
	matchDir := fmt.Sprintf("%s/%s_%s", logDir, launchTime.Format("20060102T150405Z0700"), matchID)

	sink, err := logsink.New(logDir, matchDir, opts.Verbose, opts.Debug)
	if err != nil {
		return nil, fmt.Errorf("app: build log sink: %w", err)
	}

	a := &App{cfg: cfg, log: log, sink: sink, matchID: matchID}

	var recorder history.Recorder = history.NoopRecorder{}
	var registry history.Registry = history.NoopRegistry{}

	if opts.HistoryDSN != "" {
		db, err := pgxpool.New(ctx, opts.HistoryDSN)
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("app: postgres pool: %w", err)
		}

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		pingErr := db.Ping(pingCtx)
		cancel()
		if pingErr != nil {
			db.Close()
			a.Close(ctx)
			return nil, fmt.Errorf("app: postgres ping: %w", pingErr)
		}

		if err := history.Migrate(opts.HistoryDSN, log); err != nil {
			db.Close()
			a.Close(ctx)
			return nil, fmt.Errorf("app: run migrations: %w", err)
		}

		a.db = db
		recorder = history.NewPostgresRecorder(db)
	}

	if opts.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: opts.RedisAddr, DB: opts.RedisDB})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		pingErr := rdb.Ping(pingCtx).Err()
		cancel()
		if pingErr != nil {
			rdb.Close()
			a.Close(ctx)
			return nil, fmt.Errorf("app: redis ping (%s db=%d): %w", opts.RedisAddr, opts.RedisDB, pingErr)
		}

		ttl := opts.RegistryTTL
		if ttl <= 0 {
			ttl = time.Minute
		}
		a.rdb = rdb
		registry = history.NewRedisRegistry(rdb, ttl)
	}

	game := match.New(cfg, matchID, launchTime, sink)

	srv, err := server.New(cfg, game, sink, server.Options{Recorder: recorder, Registry: registry})
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("app: build server: %w", err)
	}
	a.srv = srv

	return a, nil
}

// MatchID returns the generated identifier for this run, used to name the
// match log directory.
func (a *App) MatchID() string {
	return a.matchID
}

// Run starts accepting connections and blocks until the match ends or ctx
// is canceled, whichever comes first.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	a.log.Info("match server starting", "match_id", a.matchID, "port0", a.cfg.Server.Port[0], "port1", a.cfg.Server.Port[1])
	a.srv.Start()

	g.Go(func() error {
		a.srv.Wait()
		cancel()
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("match server shutting down")
		a.srv.Stop()
		return nil
	})

	err := g.Wait()
	_ = a.Close(context.Background())
	return err
}

// Close releases every resource App opened: the log sink and, if
// configured, the Postgres pool and Redis client. Best-effort.
func (a *App) Close(ctx context.Context) error {
	if a.sink != nil {
		_ = a.sink.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	return nil
}
