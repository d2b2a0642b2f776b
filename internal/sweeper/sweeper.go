// Package sweeper runs registry maintenance on a fixed interval: it
// reports aggregate connection counts and evicts entries whose
// transport closed without a teardown event being observed.
package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/studiowire/relay/internal/registry"
)

// Store is the registry view the sweeper needs.
type Store interface {
	Counts() (broadcasters, viewers int)
	SweepDead() registry.SweepResult
}

// Notifier receives non-empty sweep results for peer notification.
type Notifier interface {
	NotifySwept(registry.SweepResult)
}

// NotifierFunc is a function adapter for Notifier.
type NotifierFunc func(registry.SweepResult)

func (f NotifierFunc) NotifySwept(res registry.SweepResult) {
	f(res)
}

// Config holds sweeper configuration.
type Config struct {
	Interval time.Duration // Sweep interval (default: 30s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
	}
}

// Sweeper periodically evicts dead connections from the registry.
type Sweeper struct {
	cfg      Config
	store    Store
	notifier Notifier
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Sweeper. notifier may be nil.
func New(cfg Config, store Store, notifier Notifier, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}

	return &Sweeper{
		cfg:      cfg,
		store:    store,
		notifier: notifier,
		logger:   logger,
	}
}

// Start begins the sweep loop.
func (s *Sweeper) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run()

	s.logger.Info("sweeper started", "interval", s.cfg.Interval)
	return nil
}

// Stop gracefully shuts down the sweeper.
func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("sweeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main sweep loop.
func (s *Sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep reports counts, evicts dead entries, and forwards the result.
func (s *Sweeper) sweep() {
	broadcasters, viewers := s.store.Counts()
	s.logger.Info("sweep cycle", "broadcasters", broadcasters, "viewers", viewers)

	res := s.store.SweepDead()
	if res.Empty() {
		return
	}

	s.logger.Info("swept dead connections",
		"broadcasters_removed", len(res.BroadcasterIDs),
		"viewers_removed", res.Viewers,
		"photographer_released", res.PhotographerReleased,
	)

	if s.notifier != nil {
		s.notifier.NotifySwept(res)
	}
}
