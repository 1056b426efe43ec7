package lib

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Petergatsby/GleepostViews/lib/gp"
	"github.com/Petergatsby/GleepostViews/lib/logging"
	"github.com/Petergatsby/GleepostViews/lib/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

//ViewSyncer periodically walks every cached view set and makes the database agree with it.
//Views only reach the database through the persister on a best-effort basis, so this is what guarantees they get there eventually.
//It also drops the sets of posts which no longer exist, and copies durable viewers the cache has lost back into their set.
type ViewSyncer struct {
	cache    ViewCache
	store    ViewStore
	interval time.Duration
	timeout  time.Duration
	sweeping atomic.Bool
	log      zerolog.Logger

	mu   sync.Mutex
	last gp.SyncReport
}

//NewViewSyncer returns a syncer which sweeps every interval once served, giving each post timeout to sync.
func NewViewSyncer(cache ViewCache, store ViewStore, interval, timeout time.Duration) *ViewSyncer {
	return &ViewSyncer{
		cache:    cache,
		store:    store,
		interval: interval,
		timeout:  timeout,
		log:      logging.With().Str("component", "views.sync").Logger(),
	}
}

//Serve sweeps on every tick until ctx is cancelled.
func (s *ViewSyncer) Serve(ctx context.Context) error {
	tick := time.NewTicker(s.interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			s.sweep(ctx, "scheduled")
		}
	}
}

func (s *ViewSyncer) String() string {
	return "view-syncer"
}

//Sweep runs one pass now. If one is already running it doesn't wait for it, and the report just has InProgress set.
func (s *ViewSyncer) Sweep(ctx context.Context) gp.SyncReport {
	return s.sweep(ctx, "manual")
}

//LastReport is the report of the most recent completed pass.
func (s *ViewSyncer) LastReport() gp.SyncReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *ViewSyncer) sweep(ctx context.Context, trigger string) (report gp.SyncReport) {
	if !s.sweeping.CompareAndSwap(false, true) {
		metrics.Sweeps.WithLabelValues("skipped").Inc()
		s.log.Debug().Str("trigger", trigger).Msg("View sync already running")
		return gp.SyncReport{InProgress: true}
	}
	defer s.sweeping.Store(false)
	metrics.Sweeps.WithLabelValues(trigger).Inc()

	report.ID = uuid.NewString()
	report.Started = time.Now().UTC()
	log := s.log.With().Str("sweep", report.ID).Str("trigger", trigger).Logger()
	defer func() {
		report.Duration = time.Since(report.Started)
		metrics.SweepDuration.Observe(report.Duration.Seconds())
		s.mu.Lock()
		s.last = report
		s.mu.Unlock()
	}()

	posts, err := s.cache.ViewKeys(ctx)
	if err != nil {
		report.Error = err.Error()
		log.Error().Err(err).Msg("Couldn't list cached view sets")
		return
	}
	report.Keys = len(posts)
	for _, post := range posts {
		if ctx.Err() != nil {
			report.Error = ctx.Err().Error()
			log.Warn().Int("remaining", report.Keys-report.Synced-report.Failed-report.Orphans).Msg("View sync cut short")
			break
		}
		pctx, cancel := context.WithTimeout(ctx, s.timeout)
		result, err := s.syncPost(pctx, post, &report)
		cancel()
		switch {
		case err != nil:
			report.Failed++
			log.Error().Err(err).Str("post", string(post)).Msg("Couldn't sync post views")
		case result == metrics.ResultOrphan:
			report.Orphans++
		default:
			report.Synced++
		}
		metrics.SweepKeys.WithLabelValues(result).Inc()
	}
	metrics.SweepAppended.Add(float64(report.Appended))
	log.Info().
		Int("keys", report.Keys).
		Int("synced", report.Synced).
		Int("failed", report.Failed).
		Int("orphans", report.Orphans).
		Int("appended", report.Appended).
		Int("seeded", report.Seeded).
		Dur("took", time.Since(report.Started)).
		Msg("View sync done")
	return
}

//syncPost makes post's durable viewers a superset of its cached ones, and the cached ones a superset of the durable ones.
func (s *ViewSyncer) syncPost(ctx context.Context, post gp.PostID, report *gp.SyncReport) (result string, err error) {
	cached, err := s.cache.Viewers(ctx, post)
	if err != nil {
		return metrics.ResultFailed, err
	}
	if len(cached) == 0 {
		//Expired since the scan.
		return metrics.ResultOK, nil
	}
	durable, err := s.store.PostViewers(ctx, post)
	if errors.Is(err, gp.ENOSUCHPOST) {
		return s.dropOrphan(ctx, post)
	}
	if err != nil {
		return metrics.ResultFailed, err
	}
	missing, extra := diffViewers(cached, durable)
	if len(missing) > 0 {
		added, err := s.store.AppendViews(ctx, post, missing...)
		if errors.Is(err, gp.ENOSUCHPOST) {
			return s.dropOrphan(ctx, post)
		}
		if err != nil {
			return metrics.ResultFailed, err
		}
		report.Appended += added
	}
	if len(extra) > 0 {
		if err = s.cache.SeedViewers(ctx, post, extra...); err != nil {
			return metrics.ResultFailed, err
		}
		report.Seeded += len(extra)
	}
	return metrics.ResultOK, nil
}

func (s *ViewSyncer) dropOrphan(ctx context.Context, post gp.PostID) (string, error) {
	if err := s.cache.DeleteViews(ctx, post); err != nil {
		return metrics.ResultFailed, err
	}
	s.log.Debug().Str("post", string(post)).Msg("Dropped views of a deleted post")
	return metrics.ResultOrphan, nil
}

//diffViewers returns the cached viewers missing from durable, and the durable viewers missing from cached.
func diffViewers(cached, durable []gp.UserID) (missing, extra []gp.UserID) {
	inDurable := make(map[gp.UserID]bool, len(durable))
	for _, u := range durable {
		inDurable[u] = true
	}
	inCache := make(map[gp.UserID]bool, len(cached))
	for _, u := range cached {
		inCache[u] = true
		if !inDurable[u] {
			missing = append(missing, u)
		}
	}
	for _, u := range durable {
		if !inCache[u] {
			extra = append(extra, u)
		}
	}
	return
}
