package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultPruneSchedule runs retention once an hour.
const DefaultPruneSchedule = "@hourly"

var scheduleParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// ParseSchedule parses a five-field cron expression or a descriptor such as
// @hourly. Schedules are evaluated in UTC; timezone prefixes are rejected.
func ParseSchedule(expr string) (cron.Schedule, error) {
	clean := strings.TrimSpace(expr)
	if clean == "" {
		return nil, fmt.Errorf("cron expression is required")
	}
	upper := strings.ToUpper(clean)
	if strings.Contains(upper, "CRON_TZ=") || strings.Contains(upper, "TZ=") {
		return nil, fmt.Errorf("cron expression must be UTC-only (timezone prefixes are not allowed)")
	}
	schedule, err := scheduleParser.Parse(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

// PrunerConfig configures retention pruning.
type PrunerConfig struct {
	Store Store
	// Retention is how long an idle thread is kept.
	Retention time.Duration
	Schedule  string
	Now       func() time.Time
	Logger    *slog.Logger
}

// Pruner removes idle threads on a cron schedule.
type Pruner struct {
	store     Store
	retention time.Duration
	schedule  cron.Schedule
	now       func() time.Time
	logger    *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPruner validates cfg and returns a stopped pruner.
func NewPruner(cfg PrunerConfig) (*Pruner, error) {
	if cfg.Store == nil {
		return nil, errors.New("memory pruner store is nil")
	}
	if cfg.Retention <= 0 {
		return nil, errors.New("memory pruner retention must be positive")
	}
	if strings.TrimSpace(cfg.Schedule) == "" {
		cfg.Schedule = DefaultPruneSchedule
	}
	schedule, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pruner{
		store:     cfg.Store,
		retention: cfg.Retention,
		schedule:  schedule,
		now:       cfg.Now,
		logger:    cfg.Logger,
	}, nil
}

// Start runs pruning in the background until Stop is called. Starting a
// running pruner is a no-op.
func (p *Pruner) Start() {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	go func() {
		defer close(done)
		for {
			now := p.now()
			wait := p.schedule.Next(now).Sub(now)
			timer := time.NewTimer(wait)
			select {
			case <-loopCtx.Done():
				timer.Stop()
				return
			case <-timer.C:
				_, _ = p.RunOnce(loopCtx)
			}
		}
	}()
}

// Stop halts background pruning and waits for an in-flight pass.
func (p *Pruner) Stop(ctx context.Context) error {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce prunes threads idle for longer than the retention window.
func (p *Pruner) RunOnce(ctx context.Context) (int, error) {
	cutoff := p.now().Add(-p.retention)
	removed, err := p.store.Prune(ctx, cutoff)
	if err != nil {
		p.logger.Error("memory prune failed", "error", err)
		return 0, err
	}
	if removed > 0 {
		p.logger.Info("memory pruned", "messages", removed, "cutoff", cutoff.Format(time.RFC3339))
	}
	return removed, nil
}
