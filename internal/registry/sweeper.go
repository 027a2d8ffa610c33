package registry

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Sweeper periodically removes expired tickets from the registry. Sweep
// failures are logged and retried on the next cycle; the issuing and
// validation paths never depend on the sweeper having run, since every
// read re-derives expiration from the policy.
type Sweeper struct {
	registry *Registry
	interval time.Duration
	logger   *logrus.Logger
	observe  func(removed int)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepObserver installs a callback invoked with the removal count
// after each cycle that removed tickets. Used for instrumentation.
func WithSweepObserver(observe func(removed int)) SweeperOption {
	return func(s *Sweeper) { s.observe = observe }
}

// NewSweeper builds a sweeper over the registry.
func NewSweeper(registry *Registry, interval time.Duration, logger *logrus.Logger, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		registry: registry,
		interval: interval,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the background sweep loop. Calling Start on a running
// sweeper is a no-op.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(ctx, s.done)
	s.logger.WithField("interval", s.interval).Info("Ticket sweeper started")
}

// Stop terminates the sweep loop and waits for the current cycle to
// finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("Ticket sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.registry.SweepExpired(ctx)
			if err != nil {
				s.logger.WithError(err).WithField("tickets_removed", removed).
					Warn("Ticket sweep completed with errors")
			}
			if removed > 0 && s.observe != nil {
				s.observe(removed)
			}
		}
	}
}
