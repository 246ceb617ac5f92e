package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const DefaultCompletionSchedule = "*/5 * * * *"

// Completer ages ended bookings. Implemented by the booking scheduler.
type Completer interface {
	CompleteEnded(ctx context.Context) (int64, error)
}

// CompletionSweeper runs Completer on a cron schedule. Runs never overlap.
type CompletionSweeper struct {
	completer Completer
	cron      *cron.Cron
	timeout   time.Duration
	log       *slog.Logger
}

func NewCompletionSweeper(completer Completer, schedule string, log *slog.Logger) (*CompletionSweeper, error) {
	if schedule == "" {
		schedule = DefaultCompletionSchedule
	}
	if log == nil {
		log = slog.Default()
	}
	s := &CompletionSweeper{
		completer: completer,
		timeout:   time.Minute,
		log:       log.With(slog.String("component", "jobs.completion")),
	}
	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := s.cron.AddFunc(schedule, func() { s.RunOnce(context.Background()) }); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *CompletionSweeper) Start() {
	s.cron.Start()
	s.log.Info("completion sweep scheduled")
}

// Stop prevents new runs and waits for a running sweep or ctx, whichever comes first.
func (s *CompletionSweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn("completion sweep still running at shutdown")
	}
}

// RunOnce performs a single sweep. Errors are logged, not returned.
func (s *CompletionSweeper) RunOnce(ctx context.Context) int64 {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	n, err := s.completer.CompleteEnded(ctx)
	if err != nil {
		s.log.Error("completion sweep failed", slog.Any("err", err))
		return 0
	}
	if n > 0 {
		s.log.Info("bookings completed", slog.Int64("count", n), slog.Duration("took", time.Since(start)))
	}
	return n
}
