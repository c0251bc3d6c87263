package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/jobqueue/pkg/jobqueue"
	"github.com/dmitrymomot/jobqueue/pkg/jobqueue/httphandler"
	"github.com/dmitrymomot/jobqueue/pkg/logger"
)

var (
	errInvalidSchedule = errors.New("invalid run schedule")
	errServe           = errors.New("http server failed")
	errShutdown        = errors.New("http server shutdown failed")
)

// ServeCommand runs every queue on a schedule until interrupted.
type ServeCommand struct {
	Schedule   string `name:"schedule" help:"Cron expression or @every interval. Defaults to JOBQUEUE_RUN_SCHEDULE."`
	HTTPAddr   string `name:"http-addr" help:"Listen address of the HTTP interface. Defaults to JOBQUEUE_HTTP_ADDR; empty disables it."`
	RunOnStart bool   `name:"run-on-start" help:"Run one pass immediately instead of waiting for the first tick."`
}

func (cmd *ServeCommand) Run(g *Globals) error {
	s, err := g.open()
	if err != nil {
		return err
	}
	defer s.close()

	spec := cmd.Schedule
	if spec == "" {
		spec = s.cfg.RunSchedule
	}
	addr := cmd.HTTPAddr
	if addr == "" {
		addr = s.cfg.HTTPAddr
	}

	sched, err := newScheduler(s.manager, spec, s.log)
	if err != nil {
		return err
	}

	var ln net.Listener
	if addr != "" {
		if ln, err = net.Listen("tcp", addr); err != nil {
			return errors.Join(errServe, err)
		}
	}

	eg, ctx := errgroup.WithContext(g.baseContext())
	eg.Go(func() error {
		if cmd.RunOnStart {
			sched.pass(ctx)
		}
		return sched.run(ctx, s.cfg.ShutdownTimeout)
	})
	if ln != nil {
		router := httphandler.NewRouter(s.manager, s.log, httphandler.WithHealthchecks(s.checks...))
		eg.Go(func() error {
			return serveHTTP(ctx, ln, router, s.cfg.ShutdownTimeout, s.log)
		})
	}

	return eg.Wait()
}

// passRunner is the part of *jobqueue.Manager the scheduler drives.
type passRunner interface {
	RunAll(ctx context.Context) (jobqueue.RunReport, error)
}

type scheduler struct {
	cron   *cron.Cron
	runner passRunner
	log    *slog.Logger
	ctx    context.Context
}

func newScheduler(runner passRunner, spec string, log *slog.Logger) (*scheduler, error) {
	log = log.With(logger.Component("scheduler"))
	cl := cronLogger{log: log}

	s := &scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		runner: runner,
		log:    log,
	}
	if _, err := s.cron.AddFunc(spec, func() { s.pass(s.ctx) }); err != nil {
		return nil, errors.Join(errInvalidSchedule, fmt.Errorf("%q: %w", spec, err))
	}
	return s, nil
}

// run starts the cron loop and blocks until ctx is done. On shutdown it waits
// up to timeout for a pass in progress.
func (s *scheduler) run(ctx context.Context, timeout time.Duration) error {
	s.ctx = ctx
	s.cron.Start()
	s.log.InfoContext(ctx, "scheduler started")

	<-ctx.Done()

	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(timeout):
		s.log.Warn("scheduler stopped before the running pass finished")
	}
	s.log.Info("scheduler stopped")
	return nil
}

func (s *scheduler) pass(ctx context.Context) {
	start := time.Now()
	report, err := s.runner.RunAll(ctx)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.log.InfoContext(ctx, "pass interrupted", logger.Duration(time.Since(start)))
	case err != nil:
		s.log.ErrorContext(ctx, "pass failed", logger.Error(err), logger.Duration(time.Since(start)))
	default:
		s.log.DebugContext(ctx, "pass completed",
			slog.Int("succeeded", len(report.Succeeded)),
			slog.Int("failed", len(report.Failed)),
			logger.Duration(time.Since(start)))
	}
}

// cronLogger routes cron's key/value logging to slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append([]any{logger.Error(err)}, keysAndValues...)...)
}

// serveHTTP serves handler on ln until ctx is done, then shuts down gracefully
// within timeout.
func serveHTTP(ctx context.Context, ln net.Listener, handler http.Handler, timeout time.Duration, log *slog.Logger) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	log.InfoContext(ctx, "http server started", slog.String("addr", ln.Addr().String()))

	var err error
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			return errors.Join(errShutdown, serr)
		}
		err = <-errCh
	case err = <-errCh:
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Join(errServe, err)
	}
	log.Info("http server stopped")
	return nil
}
