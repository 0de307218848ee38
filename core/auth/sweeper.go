package auth

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"serima/core/utils"
)

const defaultSweepInterval = 5 * time.Minute

type expiredSessions interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SessionSweeper removes expired sessions together with their flash
// messages and wizard state.
type SessionSweeper struct {
	sessions expiredSessions
	interval time.Duration
	logger   *utils.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

func NewSessionSweeper(sessions expiredSessions, interval time.Duration, logger *utils.Logger) *SessionSweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &SessionSweeper{sessions: sessions, interval: interval, logger: logger}
}

// StartWithContext schedules the sweep every interval. Starting twice is a
// no-op.
func (s *SessionSweeper) StartWithContext(ctx context.Context) error {
	if s == nil || s.sessions == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(cron.Every(s.interval), cron.FuncJob(func() {
		if _, err := s.RunOnce(runCtx, time.Now().UTC()); err != nil {
			s.logger.Errorf("SESSION sweep failed: %v", err)
		}
	}))
	c.Start()
	s.cron, s.cancel = c, cancel
	return nil
}

func (s *SessionSweeper) StopWithContext(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	cancel()
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce deletes the sessions expired at now and returns how many went.
func (s *SessionSweeper) RunOnce(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.sessions.DeleteExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Infow("sessions swept", "count", n)
	}
	return n, nil
}
