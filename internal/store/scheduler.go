package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RefreshScheduler drives a periodic background refresh of the review list.
// At most one scheduler-driven refresh is in flight at a time: each tick
// cancels the previous task before launching the next, trading a
// possibly-incomplete fetch for freshness. Stop must be called on teardown;
// an orphaned polling loop outliving its owner is the worst leak this
// component can produce.
type RefreshScheduler struct {
	interval time.Duration
	refresh  func(ctx context.Context)
	logger   *zap.Logger

	mu         sync.Mutex
	cancelLoop context.CancelFunc
	cancelTask context.CancelFunc
}

func NewRefreshScheduler(interval time.Duration, refresh func(ctx context.Context), logger *zap.Logger) *RefreshScheduler {
	return &RefreshScheduler{
		interval: interval,
		refresh:  refresh,
		logger:   logger,
	}
}

// Start arms the repeating timer. Idempotent: calling it while armed
// disarms the previous loop first, so two Starts never leave two timers.
func (s *RefreshScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelLoop != nil {
		s.cancelLoop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelLoop = cancel

	s.logger.Info("Starting refresh scheduler", zap.Duration("interval", s.interval))
	go s.run(ctx)
}

// Stop disarms the timer and cancels any in-flight refresh it owns.
func (s *RefreshScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelLoop != nil {
		s.cancelLoop()
		s.cancelLoop = nil
	}
	if s.cancelTask != nil {
		s.cancelTask()
		s.cancelTask = nil
	}
	s.logger.Info("Refresh scheduler stopped")
}

func (s *RefreshScheduler) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Prime once on start; the store's debounce decides whether this
	// actually hits the network.
	s.launch(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.launch(ctx)
		}
	}
}

// launch swaps in a fresh task context, cancelling the previous refresh if
// it is still running.
func (s *RefreshScheduler) launch(parent context.Context) {
	taskCtx, cancel := context.WithCancel(parent)

	s.mu.Lock()
	if s.cancelTask != nil {
		s.cancelTask()
	}
	s.cancelTask = cancel
	s.mu.Unlock()

	go func() {
		defer cancel()
		s.refresh(taskCtx)
	}()
}
