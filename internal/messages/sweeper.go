package messages

import (
	"context"
	"log/slog"
	"time"

	"github.com/prompted/mqs/internal/metrics"
)

// Sweeper periodically deletes messages whose retention has expired.
// It deletes in bounded batches so a large backlog never holds row locks
// long enough to stall receive traffic.
type Sweeper struct {
	store    *Store
	metrics  *metrics.Metrics
	interval time.Duration
	batch    int
	stopCh   chan struct{}
}

// NewSweeper creates a Sweeper. Start it by calling Run in a goroutine.
func NewSweeper(store *Store, m *metrics.Metrics, interval time.Duration, batch int) *Sweeper {
	return &Sweeper{
		store:    store,
		metrics:  m,
		interval: interval,
		batch:    batch,
		stopCh:   make(chan struct{}),
	}
}

// Run is the sweeper's main loop. It blocks until Close is called.
func (s *Sweeper) Run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// Close signals the sweeper to stop after the current batch.
func (s *Sweeper) Close() {
	close(s.stopCh)
}

// sweep drains expired messages batch by batch until a batch comes back
// short or an error occurs.
func (s *Sweeper) sweep() {
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		n, err := s.store.Sweep(ctx, s.batch)
		cancel()
		if err != nil {
			slog.Error("retention sweep failed", "error", err)
			return
		}
		if n > 0 {
			s.metrics.MessagesSwept(n)
			slog.Info("retention sweep", "deleted", n)
		}
		if n < int64(s.batch) {
			return
		}

		select {
		case <-s.stopCh:
			return
		default:
		}
	}
}
