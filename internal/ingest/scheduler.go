package ingest

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Runner executes one refresh.
type Runner interface {
	Run(ctx context.Context) (*Report, error)
}

// Scheduler runs refreshes on a fixed interval inside a long-lived process.
// At most one refresh runs at a time; a tick that arrives while a refresh is
// still going is dropped.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	onStart  bool
	mu       sync.Mutex
	log      *zap.Logger
}

// NewScheduler builds a Scheduler. An interval of zero disables ticking, so
// only the optional start-up run happens.
func NewScheduler(r Runner, interval time.Duration, onStart bool) *Scheduler {
	return &Scheduler{
		runner:   r,
		interval: interval,
		onStart:  onStart,
		log:      zap.L().With(zap.String("component", "scheduler")),
	}
}

// TryRun starts a refresh unless one is already running. It reports whether
// a refresh was started.
func (s *Scheduler) TryRun(ctx context.Context) (bool, *Report, error) {
	if !s.mu.TryLock() {
		s.log.Warn("refresh already in progress, skipping")
		return false, nil, nil
	}
	defer s.mu.Unlock()

	report, err := s.runner.Run(ctx)
	return true, report, err
}

// Run blocks until ctx is done. Refresh failures are logged and do not stop
// the schedule.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.onStart {
		s.runOnce(ctx)
	}
	if s.interval <= 0 {
		<-ctx.Done()
		return nil
	}

	s.log.Info("refresh schedule started", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	started, _, err := s.TryRun(ctx)
	if started && err != nil && ctx.Err() == nil {
		s.log.Error("scheduled refresh failed", zap.Error(err))
	}
}
