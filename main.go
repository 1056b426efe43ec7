//GleepostViews counts who has seen each post: fast deduplication in redis, durable history in MySQL.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Petergatsby/GleepostViews/lib"
	"github.com/Petergatsby/GleepostViews/lib/cache"
	"github.com/Petergatsby/GleepostViews/lib/conf"
	"github.com/Petergatsby/GleepostViews/lib/db"
	"github.com/Petergatsby/GleepostViews/lib/logging"
	"github.com/gorilla/mux"
)

var (
	r    = mux.NewRouter()
	base = r.PathPrefix("/api/{version}").Subrouter()
)

func main() {
	confPath := flag.String("conf", os.Getenv("GP_CONF"), "path to a yaml config file")
	flag.Parse()

	var err error
	config, err = conf.Load(*confPath)
	if err != nil {
		logging.Fatal().Err(err).Msg("Couldn't load config")
	}
	logging.Init(logging.Config{Level: config.Logging.Level, Format: config.Logging.Format})
	ascii()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	statter, err := lib.NewPrefixStatter(config.Statsd, config.DevelopmentMode)
	if err != nil {
		logging.Warn().Err(err).Str("statsd", config.Statsd).Msg("Couldn't reach statsd, not reporting stats")
	}
	views := cache.New(config.Redis, config.Views.TTL)
	defer views.Close()
	if err = views.Ping(ctx); err != nil {
		//Views will fail as unavailable until redis is back; the process stays up.
		logging.Warn().Err(err).Str("redis", config.Redis.Address).Msg("Redis isn't reachable")
	}
	dctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	store, err := db.New(dctx, config.Mysql)
	cancel()
	if err != nil {
		logging.Fatal().Err(err).Str("driver", config.Mysql.Driver).Msg("Couldn't open the database")
	}
	defer store.Close()

	api = lib.New(config.Views, views, store)
	api.Statter = statter

	server := &http.Server{
		Addr:         ":" + config.Port,
		Handler:      r,
		ReadTimeout:  70 * time.Second,
		WriteTimeout: 70 * time.Second,
	}
	sup := lib.NewSupervisor("gleepost-views", 10*time.Second)
	for _, svc := range api.Services() {
		sup.Add(svc)
	}
	sup.Add(&httpService{server: server})

	logging.Info().Str("port", config.Port).Dur("sync_interval", config.Views.SyncInterval).Msg("Serving views")
	if err = sup.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Error().Err(err).Msg("Supervisor stopped")
	}

	sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	api.Shutdown(sctx)
	logging.Info().Msg("Stopped")
}
