//viewsync runs a single view sync pass against the configured redis and database and prints the report.
//Use it to reconcile after an outage without waiting for the service's next scheduled pass.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"time"

	"github.com/Petergatsby/GleepostViews/lib"
	"github.com/Petergatsby/GleepostViews/lib/cache"
	"github.com/Petergatsby/GleepostViews/lib/conf"
	"github.com/Petergatsby/GleepostViews/lib/db"
	"github.com/Petergatsby/GleepostViews/lib/logging"
)

func main() {
	confPath := flag.String("conf", os.Getenv("GP_CONF"), "path to a yaml config file")
	timeout := flag.Duration("timeout", 10*time.Minute, "give up on the pass after this long")
	flag.Parse()

	config, err := conf.Load(*confPath)
	if err != nil {
		logging.Fatal().Err(err).Msg("Couldn't load config")
	}
	logging.Init(logging.Config{Level: config.Logging.Level, Format: config.Logging.Format, Output: os.Stderr})

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	views := cache.New(config.Redis, config.Views.TTL)
	defer views.Close()
	store, err := db.New(ctx, config.Mysql)
	if err != nil {
		logging.Fatal().Err(err).Msg("Couldn't open the database")
	}
	defer store.Close()

	report := lib.New(config.Views, views, store).TriggerViewSync(ctx)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(report)
	if report.Error != "" || report.Failed > 0 {
		os.Exit(1)
	}
}
