package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dmitrymomot/jobqueue/pkg/config"
	"github.com/dmitrymomot/jobqueue/pkg/jobqueue"
	"github.com/dmitrymomot/jobqueue/pkg/jobqueue/filestore"
	"github.com/dmitrymomot/jobqueue/pkg/jobqueue/mongostore"
	"github.com/dmitrymomot/jobqueue/pkg/jobqueue/pgstore"
	"github.com/dmitrymomot/jobqueue/pkg/jobqueue/redisstore"
	"github.com/dmitrymomot/jobqueue/pkg/logger"
)

const (
	storeFile     = "file"
	storeRedis    = "redis"
	storePostgres = "postgres"
	storeMongo    = "mongo"

	defaultEnvFile = ".env"
)

var errUnknownStore = errors.New("unknown store backend")

// Globals holds the flags shared by every command.
type Globals struct {
	Store   string `name:"store" help:"Store backend: file, redis, postgres or mongo. Overrides JOBQUEUE_STORE."`
	EnvFile string `name:"env-file" default:".env" help:"Dotenv file applied before reading the environment."`
	Debug   bool   `name:"debug" help:"Enable debug logging."`

	ctx      context.Context
	out      io.Writer
	logOut   io.Writer
	executor jobqueue.Executor
}

// session is an opened store plus the manager working on it.
type session struct {
	cfg     jobqueue.Config
	log     *slog.Logger
	manager *jobqueue.Manager
	checks  []func(context.Context) error
	close   func()
}

func (g *Globals) baseContext() context.Context {
	if g.ctx == nil {
		return context.Background()
	}
	return g.ctx
}

func (g *Globals) stdout() io.Writer {
	if g.out == nil {
		return os.Stdout
	}
	return g.out
}

// open loads the configuration, connects the selected backend and builds a manager.
// The caller must call session.close.
func (g *Globals) open() (*session, error) {
	if err := config.LoadEnvFile(g.EnvFile, g.EnvFile == defaultEnvFile); err != nil {
		return nil, err
	}

	var cfg jobqueue.Config
	if err := config.Load(&cfg); err != nil {
		return nil, err
	}
	if g.Store != "" {
		cfg.Store = g.Store
	}

	s := &session{cfg: cfg, log: g.newLogger(cfg), close: func() {}}
	store, err := g.openStore(s)
	if err != nil {
		return nil, err
	}

	executor := g.executor
	if executor == nil {
		executor = newRegistry(cfg)
	}

	s.manager, err = jobqueue.NewManager(store, executor, jobqueue.WithLogger(s.log))
	if err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func (g *Globals) newLogger(cfg jobqueue.Config) *slog.Logger {
	out := g.logOut
	if out == nil {
		out = os.Stderr
	}
	opts := []logger.Option{
		logger.WithEnvironment(cfg.Environment, "jobqueue"),
		logger.WithOutput(out),
	}
	if g.Debug {
		opts = append(opts, logger.WithLevel(slog.LevelDebug))
	}
	return logger.New(opts...)
}

func (g *Globals) openStore(s *session) (jobqueue.Store, error) {
	ctx := g.baseContext()

	switch strings.ToLower(s.cfg.Store) {
	case storeFile:
		var cfg filestore.Config
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		return filestore.NewFromConfig(cfg, filestore.WithLogger(s.log)), nil

	case storeRedis:
		var cfg redisstore.Config
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		client, err := redisstore.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s.checks = append(s.checks, redisstore.Healthcheck(client))
		s.close = func() { _ = client.Close() }
		return redisstore.NewFromConfig(client, cfg, redisstore.WithLogger(s.log)), nil

	case storePostgres:
		var cfg pgstore.Config
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		pool, err := pgstore.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if cfg.Migrate {
			if err := pgstore.Migrate(ctx, pool, s.log); err != nil {
				pool.Close()
				return nil, err
			}
		}
		s.checks = append(s.checks, pgstore.Healthcheck(pool))
		s.close = pool.Close
		return pgstore.NewFromConfig(pool, cfg, pgstore.WithLogger(s.log)), nil

	case storeMongo:
		var cfg mongostore.Config
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		client, err := mongostore.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s.checks = append(s.checks, mongostore.Healthcheck(client))
		s.close = func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(ctx)
		}
		return mongostore.NewFromConfig(client, cfg, mongostore.WithLogger(s.log)), nil
	}

	return nil, fmt.Errorf("%w: %q", errUnknownStore, s.cfg.Store)
}

// newRegistry builds the executor used by the CLI. Only script jobs can be
// resolved here; procedures and types need a program that registers them.
func newRegistry(cfg jobqueue.Config) *jobqueue.Registry {
	opts := []jobqueue.CommandRunnerOption{jobqueue.WithBaseDir(cfg.ScriptDir)}
	for ext, interp := range cfg.ScriptInterpreters {
		opts = append(opts, jobqueue.WithInterpreter(ext, strings.Fields(interp)...))
	}
	return jobqueue.NewRegistry(jobqueue.WithScriptRunner(jobqueue.NewCommandRunner(opts...)))
}

func (g *Globals) printJSON(v any) error {
	enc := json.NewEncoder(g.stdout())
	enc.SetIndent("", "    ")
	return enc.Encode(v)
}
