package history

import (
	"context"
	"sync"
	"time"
)

// DefaultPruneInterval is how often a Pruner deletes expired entries.
const DefaultPruneInterval = time.Hour

// pruneTimeout bounds one delete.
const pruneTimeout = 30 * time.Second

// PrunerConfig holds Pruner settings.
type PrunerConfig struct {
	// Retention is how long entries are kept. Must be positive.
	Retention time.Duration

	// Interval between prunes. Default: DefaultPruneInterval.
	Interval time.Duration
}

// Pruner deletes entries older than the retention period, once at Start and
// then on every interval tick.
type Pruner struct {
	repo      Repository
	retention time.Duration
	interval  time.Duration
	logger    Logger

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewPruner creates a pruner. Returns ErrInvalidRetention if
// cfg.Retention is not positive.
func NewPruner(repo Repository, cfg PrunerConfig, logger Logger) (*Pruner, error) {
	if cfg.Retention <= 0 {
		return nil, ErrInvalidRetention
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultPruneInterval
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Pruner{
		repo:      repo,
		retention: cfg.Retention,
		interval:  interval,
		logger:    logger,
		done:      make(chan struct{}),
	}, nil
}

// Start runs the prune loop until ctx is cancelled or Stop is called.
func (p *Pruner) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.loop(ctx)
}

// Stop ends the loop and waits for an in-flight prune. Safe to call
// multiple times.
func (p *Pruner) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
	})
}

// PruneNow deletes expired entries and returns how many were removed.
func (p *Pruner) PruneNow(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, pruneTimeout)
	defer cancel()

	n, err := p.repo.Prune(ctx, p.retention)
	if err != nil {
		p.logger.Warn("failed to prune transmission history", "error", err)
		return 0, err
	}
	if n > 0 {
		p.logger.Info("pruned transmission history", "deleted", n, "retention", p.retention)
	}
	return n, nil
}

func (p *Pruner) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	//nolint:errcheck // logged by PruneNow
	p.PruneNow(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-ticker.C:
			//nolint:errcheck // logged by PruneNow
			p.PruneNow(ctx)
		}
	}
}
