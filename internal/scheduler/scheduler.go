// Package scheduler triggers ingestion runs on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/jobhunter/internal/pipeline"
	"github.com/kiranshivaraju/jobhunter/pkg/models"
	"github.com/robfig/cron/v3"
)

// Runner executes one ingestion run synchronously.
type Runner interface {
	Run(ctx context.Context, rc pipeline.RunConfig) (*models.IngestionRun, error)
}

// Scheduler wraps robfig/cron and fires a full ingestion run on every tick.
type Scheduler struct {
	cron     *cron.Cron
	runner   Runner
	spec     string
	location *time.Location
	entry    cron.EntryID

	ctx    context.Context
	cancel context.CancelFunc
}

// New parses a standard five-field cron spec (or a descriptor such as
// "@daily") evaluated in the named time zone.
func New(runner Runner, spec, timezone string) (*Scheduler, error) {
	if runner == nil {
		return nil, errors.New("scheduler: runner must not be nil")
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	logger := slogLogger{}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		runner:   runner,
		spec:     spec,
		location: loc,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.entry, err = s.cron.AddFunc(spec, func() { s.runOnce(s.ctx) })
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins firing runs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("scheduler started", "spec", s.spec, "timezone", s.location.String(), "next_run", s.Next())
}

// Stop prevents further ticks, cancels an in-flight run and waits for it to
// return or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		slog.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// Next returns the next scheduled fire time, or the zero time when the
// scheduler has not been started.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

func (s *Scheduler) runOnce(ctx context.Context) {
	slog.Info("scheduled ingestion run starting")
	_, err := s.runner.Run(ctx, pipeline.RunConfig{})
	switch {
	case err == nil:
	case errors.Is(err, pipeline.ErrRunInProgress):
		slog.Info("scheduled run skipped, another run is in progress")
	default:
		slog.Error("scheduled ingestion run failed", "error", err)
	}
}

// slogLogger routes cron's internal logging through slog.
type slogLogger struct{}

func (slogLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
