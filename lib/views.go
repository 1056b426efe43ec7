package lib

import (
	"context"
	"errors"
	"time"

	"github.com/Petergatsby/GleepostViews/lib/gp"
	"github.com/Petergatsby/GleepostViews/lib/metrics"
)

//RegisterView records that user has seen post.
//A view counts once per user per post, and never when the user wrote the post. Counted says whether this call was the one that counted;
//Views is the best current total either way. If the cache can't be reached the error wraps gp.ErrCacheUnavailable and nothing was recorded.
func (api *API) RegisterView(ctx context.Context, post gp.PostID, user gp.UserID) (result gp.ViewResult, err error) {
	defer api.Statter.Time(time.Now(), "gleepost.views.register")
	dctx, cancel := api.durable(ctx)
	owner, err := api.db.PostOwner(dctx, post)
	cancel()
	if err != nil {
		api.countOutcome(err)
		return
	}
	if owner == user {
		metrics.ViewsRegistered.WithLabelValues(metrics.OutcomeSelf).Inc()
		result.Views = api.bestViewCount(ctx, post)
		return result, nil
	}
	if err = api.warmViews(ctx, post); err != nil {
		api.countOutcome(err)
		return
	}
	added, err := api.cache.AddViewer(ctx, post, user)
	if err != nil {
		api.countOutcome(err)
		return
	}
	result.Counted = added
	if added {
		metrics.ViewsRegistered.WithLabelValues(metrics.OutcomeCounted).Inc()
		api.persister.submit(newPersistJob(gp.PostView{Post: post, User: user}))
	} else {
		metrics.ViewsRegistered.WithLabelValues(metrics.OutcomeRepeat).Inc()
	}
	result.Views, err = api.cache.ViewCount(ctx, post)
	if err != nil {
		//The view is already recorded; report a total rather than an error the client would retry.
		api.log.Warn().Err(err).Str("post", string(post)).Msg("Couldn't count cached views")
		result.Views = api.bestViewCount(ctx, post)
	}
	return result, nil
}

//RegisterViewsBatch records many views in one go, eg everything on screen in a feed.
//Views of missing posts and of the viewer's own posts are skipped. The rest are added to the cache in a single round trip;
//Processed counts the ones that were new and Posts lists the posts they belong to.
func (api *API) RegisterViewsBatch(ctx context.Context, views []gp.PostView) (result gp.BatchResult, err error) {
	defer api.Statter.Time(time.Now(), "gleepost.views.register_batch")
	result.Posts = make([]gp.PostID, 0)
	if len(views) > api.Config.BatchLimit {
		return result, gp.EBATCHTOOLARGE
	}
	if len(views) == 0 {
		return
	}
	posts := distinctPosts(views)
	dctx, cancel := api.durable(ctx)
	owners, err := api.db.PostOwners(dctx, posts...)
	cancel()
	if err != nil {
		return
	}
	eligible := make([]gp.PostView, 0, len(views))
	for _, v := range views {
		owner, ok := owners[v.Post]
		switch {
		case !ok:
			metrics.ViewsRegistered.WithLabelValues(metrics.OutcomeNotFound).Inc()
		case owner == v.User:
			metrics.ViewsRegistered.WithLabelValues(metrics.OutcomeSelf).Inc()
		default:
			eligible = append(eligible, v)
		}
	}
	if len(eligible) == 0 {
		return
	}
	if err = api.warmViews(ctx, distinctPosts(eligible)...); err != nil {
		api.countOutcome(err)
		return
	}
	added, err := api.cache.AddViewersBatch(ctx, eligible)
	if err != nil {
		api.countOutcome(err)
		return
	}
	accepted := make([]gp.PostView, 0, len(eligible))
	for i, ok := range added {
		if ok {
			accepted = append(accepted, eligible[i])
		}
	}
	result.Processed = len(accepted)
	result.Posts = distinctPosts(accepted)
	metrics.ViewsRegistered.WithLabelValues(metrics.OutcomeCounted).Add(float64(len(accepted)))
	metrics.ViewsRegistered.WithLabelValues(metrics.OutcomeRepeat).Add(float64(len(eligible) - len(accepted)))
	api.Statter.Count(len(accepted), "gleepost.views.counted")
	if len(accepted) > 0 {
		api.persister.submit(newPersistJob(accepted...))
	}
	return result, nil
}

//warmViews makes sure each post has a cache set before views are added to it, loading viewers from the database for posts whose set has expired.
//Without this, someone who viewed a post before its set expired would count again.
//Only cache failures are returned; a database failure just leaves that set cold and the store's own uniqueness keeps the durable count right.
//Callers have already checked the posts exist.
func (api *API) warmViews(ctx context.Context, posts ...gp.PostID) error {
	cached, err := api.cache.ViewsCached(ctx, posts...)
	if err != nil {
		return err
	}
	for _, post := range posts {
		if cached[post] {
			continue
		}
		dctx, cancel := api.durable(ctx)
		viewers, err := api.db.Viewers(dctx, post)
		cancel()
		if err != nil {
			api.log.Warn().Err(err).Str("post", string(post)).Msg("Couldn't load viewers to warm the cache")
			continue
		}
		if err = api.cache.SeedViewers(ctx, post, viewers...); err != nil {
			return err
		}
	}
	return nil
}

//bestViewCount is the cached total, or the durable one when the cache has nothing (or can't be reached).
func (api *API) bestViewCount(ctx context.Context, post gp.PostID) int {
	count, err := api.cache.ViewCount(ctx, post)
	if err == nil && count > 0 {
		return count
	}
	dctx, cancel := api.durable(ctx)
	defer cancel()
	durable, derr := api.db.PostViewCount(dctx, post)
	if derr != nil {
		api.log.Warn().Err(derr).Str("post", string(post)).Msg("Couldn't count durable views")
		return count
	}
	return durable
}

func (api *API) countOutcome(err error) {
	if errors.Is(err, gp.ENOSUCHPOST) {
		metrics.ViewsRegistered.WithLabelValues(metrics.OutcomeNotFound).Inc()
		return
	}
	metrics.ViewsRegistered.WithLabelValues(metrics.OutcomeError).Inc()
}

//distinctPosts lists the posts in views, in order of first appearance.
func distinctPosts(views []gp.PostView) (posts []gp.PostID) {
	posts = make([]gp.PostID, 0, len(views))
	seen := make(map[gp.PostID]bool, len(views))
	for _, v := range views {
		if !seen[v.Post] {
			seen[v.Post] = true
			posts = append(posts, v.Post)
		}
	}
	return
}
