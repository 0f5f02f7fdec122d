package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/amanthanvi/wardkeeper/internal/log"
	"github.com/amanthanvi/wardkeeper/internal/metrics"
	"github.com/go-co-op/gocron"
	"github.com/jonboulle/clockwork"
)

const sweepJobTag = "no-show-sweep"

// NoShowMarker is satisfied by *app.AppointmentService.
type NoShowMarker interface {
	MarkNoShows(ctx context.Context, grace time.Duration) (int, error)
}

type Options struct {
	Interval time.Duration
	Grace    time.Duration
	Logger   *slog.Logger
	Clock    clockwork.Clock
}

// Sweeper periodically moves stale scheduled appointments to no_show.
type Sweeper struct {
	marker NoShowMarker
	opts   Options

	mu        sync.Mutex
	scheduler *gocron.Scheduler
	cancel    context.CancelFunc
}

func NewSweeper(marker NoShowMarker, opts Options) (*Sweeper, error) {
	if marker == nil {
		return nil, errors.New("jobs: no-show marker is nil")
	}
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("jobs: sweep interval must be positive, got %s", opts.Interval)
	}
	if opts.Grace < 0 {
		return nil, fmt.Errorf("jobs: no-show grace must not be negative, got %s", opts.Grace)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Sweeper{marker: marker, opts: opts}, nil
}

// Start schedules the sweep every Interval, beginning immediately. Runs never
// overlap. The sweep stops when ctx is done or Stop is called.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scheduler != nil {
		return errors.New("jobs: sweeper already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	scheduler := gocron.NewScheduler(time.UTC)
	_, err := scheduler.Every(s.opts.Interval).
		Tag(sweepJobTag).
		SingletonMode().
		Do(func() {
			_, _ = s.RunOnce(log.WithCorrelationID(runCtx, log.NewCorrelationID()))
		})
	if err != nil {
		cancel()
		return fmt.Errorf("jobs: schedule sweep: %w", err)
	}
	scheduler.StartAsync()

	s.scheduler = scheduler
	s.cancel = cancel
	s.opts.Logger.InfoContext(ctx, "no-show sweeper started",
		"interval", s.opts.Interval.String(),
		"grace", s.opts.Grace.String(),
	)

	go func() {
		<-runCtx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts the scheduler. It is safe to call more than once.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	scheduler, cancel := s.scheduler, s.cancel
	s.scheduler, s.cancel = nil, nil
	s.mu.Unlock()

	if scheduler == nil {
		return
	}
	cancel()
	scheduler.Stop()
	s.opts.Logger.Info("no-show sweeper stopped")
}

// RunOnce performs a single sweep and records its outcome.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	started := s.opts.Clock.Now()
	marked, err := s.marker.MarkNoShows(ctx, s.opts.Grace)
	metrics.SweepDuration.Observe(s.opts.Clock.Since(started).Seconds())

	if err != nil {
		metrics.SweepRuns.WithLabelValues("error").Inc()
		s.opts.Logger.ErrorContext(ctx, "no-show sweep failed", "error", err.Error(), "marked", marked)
		return marked, err
	}
	metrics.SweepRuns.WithLabelValues("ok").Inc()
	if marked > 0 {
		s.opts.Logger.InfoContext(ctx, "no-show sweep marked appointments", "marked", marked)
	} else {
		s.opts.Logger.DebugContext(ctx, "no-show sweep found nothing")
	}
	return marked, nil
}
