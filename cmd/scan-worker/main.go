package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tweetwatch/scan-worker/api/types"
	"github.com/tweetwatch/scan-worker/internal/api"
	"github.com/tweetwatch/scan-worker/internal/archive"
	"github.com/tweetwatch/scan-worker/internal/config"
	"github.com/tweetwatch/scan-worker/internal/scan"
	"github.com/tweetwatch/scan-worker/internal/store"
	"github.com/tweetwatch/scan-worker/internal/taskqueue"
	"github.com/tweetwatch/scan-worker/internal/twitter"
)

func main() {
	cfg := config.ReadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DataDir())
	if err != nil {
		logrus.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	var audit taskqueue.Audit
	if cfg.GetBool("save_task_audit", false) {
		audit = st
	}
	queue, err := taskqueue.New(st.DB, taskqueue.Options{
		PollInterval:  cfg.GetDuration("queue_poll_interval", 2),
		LeaseDuration: cfg.GetDuration("queue_lease_duration", 300),
		MaxAttempts:   cfg.GetInt("queue_max_attempts", 0),
	}, audit)
	if err != nil {
		logrus.Fatalf("Failed to set up task queue: %v", err)
	}

	source, err := twitter.NewNitterSource(twitter.NitterConfig{
		Instances:         cfg.GetStringSlice("nitter_instances", nil),
		RequestTimeout:    cfg.GetDuration("nitter_timeout", 30),
		RequestsPerSecond: cfg.GetInt("nitter_requests_per_second", 2),
	})
	if err != nil {
		logrus.Fatalf("Failed to set up tweet source: %v", err)
	}

	archiver := archive.NewWaybackClient(2 * time.Minute)
	reconciler := scan.NewReconciler(source, cfg.GetInt("verify_concurrency", 4))
	archival := scan.NewArchivalScheduler(st, queue)
	scheduler := scan.NewScheduler(st, queue, source,
		cfg.GetInt("defer_concurrency", 5),
		cfg.GetBool("archive_enabled_default", true))

	initialScan := scan.NewInitialScanProcessor(st, source, archival)
	rescan := scan.NewRescanProcessor(st, source, reconciler, archival)
	archiveTweets := scan.NewArchiveProcessor(st, archiver)

	scanWorkers := cfg.GetInt("scan_workers", 4)
	archiveWorkers := cfg.GetInt("archive_workers", 2)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return queue.Consume(gctx, types.TaskTypeInitialScan, initialScan.Execute, scanWorkers, 0)
	})
	g.Go(func() error {
		return queue.Consume(gctx, types.TaskTypeRescan, rescan.Execute, scanWorkers, 0)
	})
	g.Go(func() error {
		return queue.Consume(gctx, types.TaskTypeArchiveTweet, archiveTweets.Execute, archiveWorkers, 0)
	})
	g.Go(func() error {
		return runRescanLoop(gctx, scheduler, cfg.GetDuration("rescan_period", 24*60*60))
	})
	g.Go(func() error {
		return api.Start(gctx, cfg, st, queue, scheduler)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logrus.Fatalf("Worker stopped: %v", err)
	}
	logrus.Info("Worker shut down")
}

// runRescanLoop periodically refreshes profile metadata and schedules the
// incremental rescans. The first sweep runs right away so a restart does not
// wait a full period.
func runRescanLoop(ctx context.Context, scheduler *scan.Scheduler, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		if err := scheduler.SyncProfiles(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logrus.WithError(err).Error("Profile sync sweep failed")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
