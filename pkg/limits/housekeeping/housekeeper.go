package housekeeping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"leadlove-hq/meter/pkg/limits/storage"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs a sweep at the top of every hour.
const DefaultSchedule = "@hourly"

// DefaultRetention matches the default escalation lookback.
const DefaultRetention = 24 * time.Hour

// Config configures the Housekeeper.
type Config struct {
	// Schedule is a cron expression (standard five fields or a descriptor
	// such as "@hourly"). Empty disables scheduled sweeps.
	Schedule string

	// Retention is how long a finished window is kept.
	// Default: 24 hours
	Retention time.Duration
}

// Observer receives sweep results.
type Observer interface {
	ObserveSweep(deleted int64, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveSweep(int64, error) {}

// Housekeeper purges expired rate windows on a schedule.
type Housekeeper struct {
	store     storage.WindowStore
	retention time.Duration
	schedule  string
	observer  Observer
	logger    *slog.Logger
	now       func() time.Time

	cron    *cron.Cron
	mu      sync.Mutex
	sweepMu sync.Mutex
	running bool
}

// New creates a Housekeeper. observer may be nil.
func New(store storage.WindowStore, cfg Config, observer Observer) (*Housekeeper, error) {
	if store == nil {
		return nil, errors.New("window store cannot be nil")
	}
	if cfg.Retention < 0 {
		return nil, fmt.Errorf("retention cannot be negative: %s", cfg.Retention)
	}
	if cfg.Retention == 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
			return nil, fmt.Errorf("invalid cron schedule %q: %w", cfg.Schedule, err)
		}
	}
	if observer == nil {
		observer = nopObserver{}
	}

	return &Housekeeper{
		store:     store,
		retention: cfg.Retention,
		schedule:  cfg.Schedule,
		observer:  observer,
		logger:    slog.Default().With("component", "limits.housekeeping"),
		now:       time.Now,
		cron:      cron.New(),
	}, nil
}

// Sweep purges windows that ended before now minus the retention.
// Concurrent sweeps are serialized.
func (h *Housekeeper) Sweep(ctx context.Context) (int64, error) {
	h.sweepMu.Lock()
	defer h.sweepMu.Unlock()

	cutoff := h.now().Add(-h.retention)
	deleted, err := h.store.PurgeExpired(ctx, cutoff)
	h.observer.ObserveSweep(deleted, err)
	if err != nil {
		return 0, fmt.Errorf("purge expired windows: %w", err)
	}
	return deleted, nil
}

// Start schedules sweeps. With an empty schedule it does nothing. The
// scheduler stops when ctx is cancelled.
func (h *Housekeeper) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.schedule == "" {
		h.logger.Info("housekeeping schedule not configured, skipping scheduler")
		return nil
	}
	if h.running {
		return nil
	}

	if _, err := h.cron.AddFunc(h.schedule, func() { h.run(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	h.cron.Start()
	h.running = true

	h.logger.Info("housekeeper started",
		"schedule", h.schedule,
		"retention", h.retention,
	)

	go func() {
		<-ctx.Done()
		h.Stop()
	}()

	return nil
}

func (h *Housekeeper) run(ctx context.Context) {
	deleted, err := h.Sweep(ctx)
	if err != nil {
		// Sweeps are retried on the next tick; request paths are unaffected.
		h.logger.Warn("scheduled sweep failed", "error", err)
		return
	}

	if deleted > 0 {
		h.logger.Info("scheduled sweep completed", "deleted_count", deleted)
	} else {
		h.logger.Debug("scheduled sweep completed, no windows deleted")
	}
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (h *Housekeeper) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return
	}
	<-h.cron.Stop().Done()
	h.running = false
	h.logger.Info("housekeeper stopped")
}

// IsRunning reports whether sweeps are scheduled.
func (h *Housekeeper) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.running
}

// NextRun returns the next scheduled sweep, or nil when not scheduled.
func (h *Housekeeper) NextRun() *time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries := h.cron.Entries()
	if len(entries) == 0 {
		return nil
	}

	next := entries[0].Next
	return &next
}

// Retention returns the configured retention.
func (h *Housekeeper) Retention() time.Duration {
	return h.retention
}
