package lib

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Petergatsby/GleepostViews/lib/gp"
	"github.com/Petergatsby/GleepostViews/lib/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSyncConvergence(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addPost(t, "P1", "U1")
	//Views that made it into the cache but whose persistence was lost.
	for i := 0; i < 5; i++ {
		if _, err := env.cache.AddViewer(ctx, "P1", gp.UserID(fmt.Sprintf("V%d", i))); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := env.db.AppendViews(ctx, "P1", "V0"); err != nil {
		t.Fatal(err)
	}

	report := env.api.TriggerViewSync(ctx)
	if report.InProgress || report.ID == "" {
		t.Fatalf("Expected a completed sweep, got %+v", report)
	}
	if report.Keys != 1 || report.Synced != 1 || report.Failed != 0 || report.Appended != 4 {
		t.Errorf("Unexpected report %+v", report)
	}
	if viewers := env.durableViewers(t, "P1"); len(viewers) != 5 {
		t.Errorf("Expected all 5 viewers in the database, got %v", viewers)
	}

	report = env.api.TriggerViewSync(ctx)
	if report.Appended != 0 || report.Synced != 1 {
		t.Errorf("A second sweep should have nothing to do, got %+v", report)
	}
	if last := env.api.Syncer().LastReport(); last.ID != report.ID {
		t.Errorf("Expected LastReport to be the latest sweep, got %s want %s", last.ID, report.ID)
	}
}

func TestSyncDropsOrphans(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addPost(t, "P1", "U1")
	env.addPost(t, "P2", "U1")
	for _, post := range []gp.PostID{"P1", "P2", "P404"} {
		if _, err := env.cache.AddViewer(ctx, post, "U2"); err != nil {
			t.Fatal(err)
		}
	}
	if err := env.db.DeletePost(ctx, "P2"); err != nil {
		t.Fatal(err)
	}

	report := env.api.Syncer().Sweep(ctx)
	if report.Keys != 3 || report.Orphans != 2 || report.Synced != 1 || report.Failed != 0 {
		t.Errorf("Unexpected report %+v", report)
	}
	for _, key := range []string{"post:P2:views", "post:P404:views"} {
		if env.redis.Exists(key) {
			t.Errorf("Expected %s to be deleted", key)
		}
	}
	if !env.redis.Exists("post:P1:views") {
		t.Error("The live post's set should be kept")
	}
	if count, err := env.db.PostViewCount(ctx, "P2"); err != nil || count != 0 {
		t.Errorf("Nothing should be written for a deleted post, got %d (%v)", count, err)
	}
}

func TestSyncSeedsDurableViewers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addPost(t, "P1", "U1")
	if _, err := env.db.AppendViews(ctx, "P1", "U2", "U3"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.cache.AddViewer(ctx, "P1", "U4"); err != nil {
		t.Fatal(err)
	}

	report := env.api.TriggerViewSync(ctx)
	if report.Seeded != 2 || report.Appended != 1 {
		t.Errorf("Expected 2 seeded and 1 appended, got %+v", report)
	}
	count, err := env.cache.ViewCount(ctx, "P1")
	if err != nil || count != 3 {
		t.Errorf("Expected the cache to hold all 3 viewers, got %d (%v)", count, err)
	}
	if viewers := env.durableViewers(t, "P1"); len(viewers) != 3 {
		t.Errorf("Expected 3 durable viewers, got %v", viewers)
	}
}

func TestSyncCountsPerKeyFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addPost(t, "P1", "U1")
	env.addPost(t, "P2", "U1")
	if _, err := env.cache.AddViewer(ctx, "P1", "U2"); err != nil {
		t.Fatal(err)
	}
	env.redis.Set("post:P2:views", "not a set")

	report := env.api.TriggerViewSync(ctx)
	if report.Keys != 2 || report.Synced != 1 || report.Failed != 1 {
		t.Errorf("Expected one synced and one failed key, got %+v", report)
	}
	if viewers := env.durableViewers(t, "P1"); len(viewers) != 1 {
		t.Errorf("A failing key shouldn't stop the others syncing, got %v", viewers)
	}
}

func TestSyncCountsStoreFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for _, post := range []gp.PostID{"P1", "P2", "P3"} {
		env.addPost(t, post, "U1")
		if _, err := env.cache.AddViewer(ctx, post, "U2"); err != nil {
			t.Fatal(err)
		}
	}
	store := env.flaky()
	store.failViewers["P2"] = true
	store.failAppend["P3"] = true
	before := testutil.ToFloat64(metrics.SweepKeys.WithLabelValues(metrics.ResultFailed))

	report := env.api.TriggerViewSync(ctx)
	if report.Keys != 3 || report.Synced != 1 || report.Failed != 2 || report.Appended != 1 {
		t.Errorf("Expected one synced and two failed keys, got %+v", report)
	}
	if after := testutil.ToFloat64(metrics.SweepKeys.WithLabelValues(metrics.ResultFailed)); after != before+2 {
		t.Errorf("Expected two failed keys counted, %v -> %v", before, after)
	}
	if viewers := env.durableViewers(t, "P1"); len(viewers) != 1 {
		t.Errorf("Failing keys shouldn't stop the others syncing, got %v", viewers)
	}

	store.heal()
	report = env.api.TriggerViewSync(ctx)
	if report.Synced != 3 || report.Failed != 0 || report.Appended != 2 {
		t.Errorf("Expected the next sweep to converge, got %+v", report)
	}
	for _, post := range []gp.PostID{"P2", "P3"} {
		if viewers := env.durableViewers(t, post); len(viewers) != 1 {
			t.Errorf("Expected U2 persisted for %s, got %v", post, viewers)
		}
	}
}

func TestSyncCacheUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.redis.Close()
	report := env.api.TriggerViewSync(context.Background())
	if report.Error == "" || report.Keys != 0 {
		t.Errorf("Expected a report carrying the error, got %+v", report)
	}
}

func TestSyncCoalesces(t *testing.T) {
	env := newTestEnv(t)
	syncer := env.api.Syncer()
	syncer.sweeping.Store(true)
	report := env.api.TriggerViewSync(context.Background())
	if !report.InProgress || report.ID != "" {
		t.Errorf("A trigger during a sweep should be coalesced, got %+v", report)
	}
	syncer.sweeping.Store(false)
	report = env.api.TriggerViewSync(context.Background())
	if report.InProgress {
		t.Error("Expected a sweep once the previous one finished")
	}
}

func TestSyncServe(t *testing.T) {
	env := newTestEnv(t)
	env.addPost(t, "P1", "U1")
	if _, err := env.cache.AddViewer(context.Background(), "P1", "U2"); err != nil {
		t.Fatal(err)
	}
	syncer := NewViewSyncer(env.cache, env.db, 10*time.Millisecond, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- syncer.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for syncer.LastReport().ID == "" {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for a scheduled sweep")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Expected Serve to return context.Canceled, got %v", err)
	}
	if viewers := env.durableViewers(t, "P1"); len(viewers) != 1 {
		t.Errorf("Expected the scheduled sweep to persist U2, got %v", viewers)
	}
}

func TestShutdownDrainsThenSyncs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addPost(t, "P1", "U1")
	if _, err := env.api.RegisterView(ctx, "P1", "U2"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.cache.AddViewer(ctx, "P1", "U3"); err != nil {
		t.Fatal(err)
	}
	env.api.Shutdown(ctx)
	if viewers := env.durableViewers(t, "P1"); len(viewers) != 2 {
		t.Errorf("Expected queued and unqueued views to be persisted on shutdown, got %v", viewers)
	}
}

func TestDiffViewers(t *testing.T) {
	missing, extra := diffViewers([]gp.UserID{"U1", "U2", "U3"}, []gp.UserID{"U2", "U4"})
	if len(missing) != 2 || missing[0] != "U1" || missing[1] != "U3" {
		t.Errorf("Expected missing [U1 U3], got %v", missing)
	}
	if len(extra) != 1 || extra[0] != "U4" {
		t.Errorf("Expected extra [U4], got %v", extra)
	}
}
