package lib

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Petergatsby/GleepostViews/lib/gp"
	"github.com/Petergatsby/GleepostViews/lib/logging"
	"github.com/Petergatsby/GleepostViews/lib/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

//persistJob is a set of freshly counted views waiting to be written to the database, grouped by post so each post gets one write.
type persistJob struct {
	posts []gp.PostID
	users map[gp.PostID][]gp.UserID
}

func newPersistJob(views ...gp.PostView) (job persistJob) {
	job.users = make(map[gp.PostID][]gp.UserID)
	for _, v := range views {
		if _, ok := job.users[v.Post]; !ok {
			job.posts = append(job.posts, v.Post)
		}
		job.users[v.Post] = append(job.users[v.Post], v.User)
	}
	return
}

//persister writes counted views through to the database off the request path.
//Jobs it can't take or can't write are only logged: the view syncer picks them up from the cache on its next pass.
type persister struct {
	cache   ViewCache
	store   ViewStore
	jobs    chan persistJob
	workers int
	timeout time.Duration
	log     zerolog.Logger
}

//postsPerJob caps how many posts of one job are written at once.
const postsPerJob = 4

func newPersister(cache ViewCache, store ViewStore, workers, queue int, timeout time.Duration) *persister {
	return &persister{
		cache:   cache,
		store:   store,
		jobs:    make(chan persistJob, queue),
		workers: workers,
		timeout: timeout,
		log:     logging.With().Str("component", "views.persist").Logger(),
	}
}

//submit queues job without ever blocking. It reports false if the queue was full and the job was dropped.
func (p *persister) submit(job persistJob) bool {
	select {
	case p.jobs <- job:
		metrics.PersistQueueDepth.Inc()
		return true
	default:
		metrics.PersistJobs.WithLabelValues(metrics.ResultDropped).Inc()
		p.log.Warn().Int("posts", len(job.posts)).Msg("View persistence queue full, leaving views to the syncer")
		return false
	}
}

//Serve runs the workers until ctx is cancelled.
func (p *persister) Serve(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-p.jobs:
					metrics.PersistQueueDepth.Dec()
					p.persist(ctx, job)
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (p *persister) String() string {
	return "view-persister"
}

//drain writes out everything still queued, without waiting for more. It returns how many jobs it handled.
func (p *persister) drain(ctx context.Context) (n int) {
	for {
		select {
		case job := <-p.jobs:
			metrics.PersistQueueDepth.Dec()
			p.persist(ctx, job)
			n++
		default:
			return
		}
	}
}

//persist writes each post of job, a few at once, then announces the new counts of those that were written.
//A post that fails doesn't stop the others; the failures are logged together once they're all done.
func (p *persister) persist(ctx context.Context, job persistJob) {
	var g errgroup.Group
	g.SetLimit(postsPerJob)
	var mu sync.Mutex
	var failed int
	counts := make([]gp.PostViewCount, 0, len(job.posts))
	for _, post := range job.posts {
		post, users := post, job.users[post]
		g.Go(func() error {
			ok, err := p.write(ctx, post, users)
			if err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
				return err
			}
			if !ok {
				return nil
			}
			//Announce the cached total, which is what clients are shown.
			cctx, cancel := context.WithTimeout(ctx, p.timeout)
			defer cancel()
			count, err := p.cache.ViewCount(cctx, post)
			if err != nil {
				return nil
			}
			mu.Lock()
			counts = append(counts, gp.PostViewCount{Post: post, Count: count})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		p.log.Error().Err(err).Int("failed", failed).Int("posts", len(job.posts)).Msg("Failed to persist views, leaving them to the syncer")
	}
	if len(counts) == 0 {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.cache.PublishViewCounts(cctx, counts...); err != nil {
		p.log.Debug().Err(err).Msg("Couldn't publish view counts")
	}
}

//write appends users to post's durable views. ok is false if nothing was written, either because the post is gone or because of err.
func (p *persister) write(ctx context.Context, post gp.PostID, users []gp.UserID) (ok bool, err error) {
	wctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	added, err := p.store.AppendViews(wctx, post, users...)
	switch {
	case errors.Is(err, gp.ENOSUCHPOST):
		//Deleted since the view was counted; the syncer will drop its cache set.
		metrics.PersistJobs.WithLabelValues(metrics.ResultOrphan).Inc()
		p.log.Debug().Str("post", string(post)).Msg("Post gone before its views were persisted")
		return false, nil
	case err != nil:
		metrics.PersistJobs.WithLabelValues(metrics.ResultFailed).Inc()
		return false, fmt.Errorf("post %s: %w", post, err)
	}
	metrics.PersistJobs.WithLabelValues(metrics.ResultOK).Inc()
	p.log.Debug().Str("post", string(post)).Int("added", added).Msg("Persisted views")
	return true, nil
}
