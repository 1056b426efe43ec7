//Package lib is the view-tracking API: it decides whether a view counts, keeps the cache and the database in step, and owns the background workers that do so.
package lib

import (
	"context"

	"github.com/Petergatsby/GleepostViews/lib/conf"
	"github.com/Petergatsby/GleepostViews/lib/gp"
	"github.com/Petergatsby/GleepostViews/lib/logging"
	"github.com/rs/zerolog"
)

//ViewCache is the fast, expiring record of who has seen each post. *cache.Cache satisfies it.
type ViewCache interface {
	AddViewer(ctx context.Context, post gp.PostID, user gp.UserID) (bool, error)
	HasViewer(ctx context.Context, post gp.PostID, user gp.UserID) (bool, error)
	ViewCount(ctx context.Context, post gp.PostID) (int, error)
	Viewers(ctx context.Context, post gp.PostID) ([]gp.UserID, error)
	SeedViewers(ctx context.Context, post gp.PostID, users ...gp.UserID) error
	DeleteViews(ctx context.Context, post gp.PostID) error
	ViewKeys(ctx context.Context) ([]gp.PostID, error)
	ViewsCached(ctx context.Context, posts ...gp.PostID) (map[gp.PostID]bool, error)
	AddViewersBatch(ctx context.Context, views []gp.PostView) ([]bool, error)
	PublishViewCounts(ctx context.Context, counts ...gp.PostViewCount) error
}

//ViewStore is the durable record of posts and their viewers. *db.DB satisfies it.
type ViewStore interface {
	PostOwner(ctx context.Context, post gp.PostID) (gp.UserID, error)
	PostOwners(ctx context.Context, posts ...gp.PostID) (map[gp.PostID]gp.UserID, error)
	PostViewers(ctx context.Context, post gp.PostID) ([]gp.UserID, error)
	Viewers(ctx context.Context, post gp.PostID) ([]gp.UserID, error)
	PostViewCount(ctx context.Context, post gp.PostID) (int, error)
	AppendViews(ctx context.Context, post gp.PostID, users ...gp.UserID) (int, error)
}

//API is the view-tracking service.
type API struct {
	cache     ViewCache
	db        ViewStore
	Config    conf.ViewsConfig
	Statter   PrefixStatter
	persister *persister
	syncer    *ViewSyncer
	log       zerolog.Logger
}

//New wires an API around an already-connected cache and store. Nothing runs in the background until Services are started.
func New(config conf.ViewsConfig, cache ViewCache, store ViewStore) (api *API) {
	api = new(API)
	api.Config = config
	api.cache = cache
	api.db = store
	api.log = logging.With().Str("component", "views").Logger()
	api.persister = newPersister(cache, store, config.PersistWorkers, config.PersistQueue, config.OpTimeout)
	api.syncer = NewViewSyncer(cache, store, config.SyncInterval, config.OpTimeout)
	return
}

//Syncer returns the background view syncer.
func (api *API) Syncer() *ViewSyncer {
	return api.syncer
}

//TriggerViewSync runs one sync pass now and reports what it did. If a pass is already running, it returns straight away with InProgress set.
func (api *API) TriggerViewSync(ctx context.Context) gp.SyncReport {
	return api.syncer.sweep(ctx, "manual")
}

//Shutdown persists whatever is still queued and then, if configured, runs a final sync pass.
func (api *API) Shutdown(ctx context.Context) {
	n := api.persister.drain(ctx)
	api.log.Info().Int("jobs", n).Msg("Drained view persistence queue")
	if api.Config.SyncOnShutdown {
		report := api.syncer.sweep(ctx, "shutdown")
		api.log.Info().Int("keys", report.Keys).Int("failed", report.Failed).Msg("Final view sync done")
	}
}

//durable bounds a call to the store.
func (api *API) durable(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, api.Config.OpTimeout)
}
