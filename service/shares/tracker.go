package shares

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/brojonat/homepass/service/catalog"
	"github.com/brojonat/homepass/service/metrics"
)

// SnapshotNotifier is told about every snapshot the tracker publishes.
type SnapshotNotifier interface {
	SnapshotPublished(ctx context.Context, snap Snapshot) error
}

// Tracker runs refresh passes over a fixed catalog and publishes their
// results into a Store.
type Tracker struct {
	reader   *Reader
	store    *Store
	configs  []catalog.PropertyConfig
	metrics  *metrics.Metrics
	notifier SnapshotNotifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewTracker creates a tracker. m may be nil.
func NewTracker(reader *Reader, configs []catalog.PropertyConfig, m *metrics.Metrics, logger *slog.Logger) *Tracker {
	return &Tracker{
		reader:  reader,
		store:   NewStore(),
		configs: configs,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// WithNotifier sets the snapshot notifier.
func (t *Tracker) WithNotifier(n SnapshotNotifier) *Tracker {
	t.notifier = n
	return t
}

// Configs returns the catalog the tracker reads.
func (t *Tracker) Configs() []catalog.PropertyConfig {
	return t.configs
}

// Current returns the latest published snapshot.
func (t *Tracker) Current() Snapshot {
	return t.store.Current()
}

// Refresh runs one pass for owner and publishes its views unless a later
// pass has already settled. Failures are wrapped with ErrConnectivity and
// leave the previous views in place.
func (t *Tracker) Refresh(ctx context.Context, owner *solana.PublicKey) (Snapshot, error) {
	gen := t.store.Begin()
	start := t.now()
	t.logger.DebugContext(ctx, "refresh started", "generation", gen, "properties", len(t.configs))

	views, err := t.reader.Read(ctx, t.configs, owner)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrConnectivity, err)
		stale := !t.store.Fail(gen, err)
		t.recordRefresh("error", start)
		t.logger.ErrorContext(ctx, "refresh failed", "generation", gen, "stale", stale, "error", err)
		return t.store.Current(), err
	}

	if !t.store.Publish(gen, owner, views, t.now()) {
		t.recordRefresh("superseded", start)
		t.logger.InfoContext(ctx, "refresh superseded by a later pass", "generation", gen)
		return t.store.Current(), nil
	}
	t.recordRefresh("success", start)

	snap := t.store.Current()
	initialized := 0
	for _, v := range snap.Views {
		if v.IsInitialized {
			initialized++
		}
	}
	if t.metrics != nil {
		t.metrics.RecordSnapshotPublished(gen, initialized)
	}
	t.logger.InfoContext(ctx, "refresh completed",
		"generation", gen,
		"properties", len(snap.Views),
		"initialized", initialized,
		"duration", time.Since(start),
	)

	if t.notifier != nil {
		if err := t.notifier.SnapshotPublished(ctx, snap); err != nil {
			t.logger.WarnContext(ctx, "failed to publish snapshot event", "generation", gen, "error", err)
		}
	}
	return snap, nil
}

// Run refreshes every interval until ctx is done. owner is consulted on
// each tick so the connected identity may change between passes.
func (t *Tracker) Run(ctx context.Context, interval time.Duration, owner func() *solana.PublicKey) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Errors are already logged and kept in the store.
			_, _ = t.Refresh(ctx, owner())
		}
	}
}

func (t *Tracker) recordRefresh(status string, start time.Time) {
	if t.metrics != nil {
		t.metrics.RecordRefresh(status, time.Since(start).Seconds())
	}
}
