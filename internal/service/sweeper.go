package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	fgotel "github.com/Strob0t/flowgate/internal/adapter/otel"
	"github.com/Strob0t/flowgate/internal/domain"
	"github.com/Strob0t/flowgate/internal/port/approvalstore"
)

const sweepBatch = 100

// Sweeper times out pending requests past their expiry.
type Sweeper struct {
	lifecycle
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex // held while a sweep runs
	cron   *cron.Cron
	cancel context.CancelFunc
}

// NewSweeper creates a sweeper running every interval once started.
func NewSweeper(store approvalstore.Store, notify *NotificationService, events *EventPublisher, interval time.Duration) *Sweeper {
	return &Sweeper{
		lifecycle: lifecycle{store: store, notify: notify, events: events},
		interval:  interval,
		now:       time.Now,
	}
}

// SetMetrics sets the metric instruments.
func (s *Sweeper) SetMetrics(m *fgotel.Metrics) { s.metrics = m }

// Sweep transitions every expired pending request to timed_out and returns
// how many it moved. Requests decided concurrently are skipped.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweep(ctx)
}

func (s *Sweeper) sweep(ctx context.Context) (int, error) {
	now := s.now()
	count := 0
	for {
		batch, err := s.store.ListExpiredPending(ctx, now, sweepBatch)
		if err != nil {
			return count, fmt.Errorf("list expired requests: %w", err)
		}
		var errs []error
		for i := range batch {
			_, err := s.expire(ctx, &batch[i], now)
			switch {
			case err == nil:
				count++
			case errors.Is(err, domain.ErrConflict):
				slog.Debug("expiry skipped: request decided concurrently", "request_id", batch[i].ID)
			default:
				errs = append(errs, fmt.Errorf("expire %s: %w", batch[i].ID, err))
			}
		}
		if len(errs) > 0 {
			return count, errors.Join(errs...)
		}
		if len(batch) < sweepBatch {
			return count, nil
		}
	}
}

// Start schedules Sweep every interval. A tick is skipped while the
// previous sweep still runs.
func (s *Sweeper) Start(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("sweeper: interval must be positive, got %s", s.interval)
	}
	ctx, cancel := context.WithCancel(ctx)
	c := cron.New()
	_, err := c.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		if !s.mu.TryLock() {
			slog.Warn("sweep still running, skipping tick")
			return
		}
		defer s.mu.Unlock()
		n, err := s.sweep(ctx)
		if err != nil {
			slog.Error("sweep failed", "expired", n, "error", err)
			return
		}
		if n > 0 {
			slog.Info("sweep completed", "expired", n)
		}
	})
	if err != nil {
		cancel()
		return fmt.Errorf("sweeper: schedule: %w", err)
	}
	s.cron = c
	s.cancel = cancel
	c.Start()
	slog.Info("expiry sweeper started", "interval", s.interval)
	return nil
}

// Stop halts the schedule and waits for a running sweep.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	s.cancel()
	<-s.cron.Stop().Done()
	slog.Info("expiry sweeper stopped")
}
