package export

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sweeper is the periodic task that marks ready exports past their TTL
// as expired (spec §4.7 step 8, §9). It is the only component that
// performs the ready→expired transition.
type Sweeper struct {
	store    Store
	logger   *slog.Logger
	interval time.Duration

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewSweeper returns a Sweeper that runs ExpireReadyJobs every interval.
func NewSweeper(store Store, logger *slog.Logger, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:    store,
		logger:   logger,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run blocks, sweeping on a ticker until Stop is called.
func (s *Sweeper) Run() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

// Stop signals the sweeper to exit and waits for it to do so. Safe to
// call more than once.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})

	<-s.done
}

func (s *Sweeper) sweepOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := s.store.ExpireReadyJobs(ctx, time.Now())
	if err != nil {
		s.logger.Error("expire ready exports failed", slog.String("error", err.Error()))

		return
	}

	if n > 0 {
		s.logger.Info("expired ready exports", slog.Int("count", n))
	}
}
