package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/classmeet-api/internal/models"
)

type ticker interface {
	Tick(ctx context.Context, now time.Time) []models.ClassSession
}

// Sweeper drives the lifecycle engine on a fixed interval.
type Sweeper struct {
	engine   ticker
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewSweeper builds a sweeper. A non-positive interval falls back to one minute.
func NewSweeper(engine ticker, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		engine:   engine,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
}

// Run sweeps once immediately and then on every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("session sweeper started", zap.Duration("interval", s.interval))
	t := time.NewTicker(s.interval)
	defer t.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("session sweeper stopped")
			return
		case <-t.C:
			s.sweep(ctx)
		}
	}
}

// Start runs the sweeper in the background. The returned stop cancels it and
// blocks until an in-flight pass has returned.
func (s *Sweeper) Start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	moved := s.engine.Tick(ctx, s.now())
	if len(moved) > 0 {
		s.logger.Debug("sweep moved sessions", zap.Int("count", len(moved)))
	}
}
