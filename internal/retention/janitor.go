// Package retention implements the retention janitor (§4.14): a
// wall-clock background sweep, independent of the tick service, that
// archives events and audit-log entries older than a configured window
// and then prunes them from the hot store. Archiving is fail-safe: a
// batch is only pruned after its archive write succeeds.
package retention

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/agentoven/conductor/internal/store"
	"github.com/agentoven/conductor/pkg/models"
)

// DefaultRetentionWindow is how long events and audit entries stay in
// the hot store before a sweep archives and prunes them.
const DefaultRetentionWindow = 7 * 24 * time.Hour

// DefaultSweepInterval is how often the janitor runs.
const DefaultSweepInterval = 6 * time.Hour

// ArchiveDriver persists a batch of records somewhere durable and
// returns a URI identifying where they landed.
type ArchiveDriver interface {
	Kind() string
	ArchiveEvents(ctx context.Context, events []models.EventEnvelope) (uri string, err error)
	ArchiveAuditLog(ctx context.Context, entries []models.AuditLogEntry) (uri string, err error)
}

// CycleStats summarizes one sweep.
type CycleStats struct {
	EventsArchived   int
	EventsPruned     int
	AuditArchived    int
	AuditPruned      int
	Manifests        []models.ArchiveManifest
	Errors           []error
}

// Janitor periodically archives and prunes data older than Window. A
// single project has no tenancy to iterate — every sweep covers the
// whole store.
type Janitor struct {
	store    store.Store
	driver   ArchiveDriver
	interval time.Duration
	window   time.Duration

	mu      sync.Mutex
	running bool
}

// NewJanitor creates a janitor. driver may be nil, in which case every
// sweep purges without archiving (data is simply dropped once past the
// window) — callers should prefer wiring a LocalFileArchiver in
// production.
func NewJanitor(s store.Store, driver ArchiveDriver, interval, window time.Duration) *Janitor {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if window <= 0 {
		window = DefaultRetentionWindow
	}
	return &Janitor{store: s, driver: driver, interval: interval, window: window}
}

// Start runs the janitor in a background goroutine until ctx is
// canceled. It sweeps once immediately, then on every tick of interval.
func (j *Janitor) Start(ctx context.Context) {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return
	}
	j.running = true
	j.mu.Unlock()

	backend := "none"
	if j.driver != nil {
		backend = j.driver.Kind()
	}
	log.Info().Dur("interval", j.interval).Dur("window", j.window).Str("backend", backend).Msg("retention janitor started")

	go func() {
		j.runCycle(ctx)
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("retention janitor stopped")
				return
			case <-ticker.C:
				j.runCycle(ctx)
			}
		}
	}()
}

func (j *Janitor) runCycle(ctx context.Context) CycleStats {
	start := time.Now()
	cutoff := time.Now().UTC().Add(-j.window)
	stats := CycleStats{}

	if err := j.sweepEvents(ctx, cutoff, &stats); err != nil {
		stats.Errors = append(stats.Errors, err)
		log.Warn().Err(err).Msg("retention: event sweep failed")
	}
	if err := j.sweepAuditLog(ctx, cutoff, &stats); err != nil {
		stats.Errors = append(stats.Errors, err)
		log.Warn().Err(err).Msg("retention: audit log sweep failed")
	}

	if stats.EventsPruned > 0 || stats.AuditPruned > 0 {
		log.Info().
			Int("eventsArchived", stats.EventsArchived).
			Int("eventsPruned", stats.EventsPruned).
			Int("auditArchived", stats.AuditArchived).
			Int("auditPruned", stats.AuditPruned).
			Dur("elapsed", time.Since(start)).
			Msg("retention cycle complete")
	}
	return stats
}

func (j *Janitor) sweepEvents(ctx context.Context, cutoff time.Time, stats *CycleStats) error {
	expired, err := j.store.ArchiveEventsBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if len(expired) == 0 {
		return nil
	}

	uri := ""
	if j.driver != nil {
		uri, err = j.driver.ArchiveEvents(ctx, expired)
		if err != nil {
			return err
		}
	}
	stats.EventsArchived = len(expired)

	pruned, err := j.store.PruneEventsBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	stats.EventsPruned = pruned

	manifest := models.ArchiveManifest{
		ID:         uuid.NewString(),
		Kind:       models.ArchiveKindEvents,
		URI:        uri,
		Count:      len(expired),
		ArchivedAt: time.Now().UTC(),
	}
	if err := j.store.RecordArchiveManifest(ctx, manifest); err != nil {
		log.Warn().Err(err).Msg("retention: failed to record event archive manifest")
	}
	stats.Manifests = append(stats.Manifests, manifest)
	return nil
}

func (j *Janitor) sweepAuditLog(ctx context.Context, cutoff time.Time, stats *CycleStats) error {
	expired, err := j.store.ArchiveAuditLogBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if len(expired) == 0 {
		return nil
	}

	uri := ""
	if j.driver != nil {
		uri, err = j.driver.ArchiveAuditLog(ctx, expired)
		if err != nil {
			return err
		}
	}
	stats.AuditArchived = len(expired)

	pruned, err := j.store.PruneAuditLogBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	stats.AuditPruned = pruned

	manifest := models.ArchiveManifest{
		ID:         uuid.NewString(),
		Kind:       models.ArchiveKindAuditLog,
		URI:        uri,
		Count:      len(expired),
		ArchivedAt: time.Now().UTC(),
	}
	if err := j.store.RecordArchiveManifest(ctx, manifest); err != nil {
		log.Warn().Err(err).Msg("retention: failed to record audit archive manifest")
	}
	stats.Manifests = append(stats.Manifests, manifest)
	return nil
}

// Manifests returns every recorded manifest, newest first.
func (j *Janitor) Manifests(ctx context.Context) ([]models.ArchiveManifest, error) {
	all, err := j.store.ListArchiveManifests(ctx)
	if err != nil {
		return nil, err
	}
	for i := 1; i < len(all); i++ {
		for k := i; k > 0 && all[k].ArchivedAt.After(all[k-1].ArchivedAt); k-- {
			all[k], all[k-1] = all[k-1], all[k]
		}
	}
	return all, nil
}
