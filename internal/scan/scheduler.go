package scan

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/tweetwatch/scan-worker/api/types"
	"github.com/tweetwatch/scan-worker/internal/daterange"
	"github.com/tweetwatch/scan-worker/internal/store"
	"github.com/tweetwatch/scan-worker/internal/taskqueue"
	"github.com/tweetwatch/scan-worker/internal/twitter"
)

// Scheduler turns profiles into scan tasks. Scan work is split into one task
// per calendar month so a single flaky window retries in isolation and the
// queue depth mirrors the remaining work.
type Scheduler struct {
	store  *store.Store
	queue  *taskqueue.Queue
	source twitter.Source

	deferConcurrency      int
	archiveEnabledDefault bool
}

func NewScheduler(store *store.Store, queue *taskqueue.Queue, source twitter.Source, deferConcurrency int, archiveEnabledDefault bool) *Scheduler {
	if deferConcurrency <= 0 {
		deferConcurrency = 5
	}
	return &Scheduler{
		store:                 store,
		queue:                 queue,
		source:                source,
		deferConcurrency:      deferConcurrency,
		archiveEnabledDefault: archiveEnabledDefault,
	}
}

// TrackProfile starts tracking a username: resolve it into a profile, persist
// it and schedule the initial scan from the join date until today. Tracking an
// already known profile re-defers nothing thanks to the task fingerprints.
func (s *Scheduler) TrackProfile(ctx context.Context, username string) (types.Profile, int, error) {
	profile, err := s.source.LookupProfile(ctx, username)
	if err != nil {
		return types.Profile{}, 0, err
	}
	profile.Enabled = true
	profile.ArchiveEnabled = s.archiveEnabledDefault

	if err := s.store.CreateProfile(ctx, profile); err != nil {
		return types.Profile{}, 0, err
	}

	// Prefer the stored row from here on: on re-track it carries the real
	// checkpoint and archive flag instead of the fresh lookup defaults.
	stored, err := s.store.GetProfile(ctx, profile.UserID)
	if err != nil {
		return types.Profile{}, 0, err
	}

	created, err := s.ScheduleInitialScan(ctx, stored)
	if err != nil {
		return types.Profile{}, 0, err
	}
	return stored, created, nil
}

// ScheduleInitialScan defers one initial scan task per month between the join
// date and today, then advances the checkpoint to today. The tasks are durable
// before the checkpoint moves, so a crash in between cannot lose a window.
func (s *Scheduler) ScheduleInitialScan(ctx context.Context, profile types.Profile) (int, error) {
	today := types.Today()
	buckets := daterange.MonthBuckets(profile.JoinedDate, today)
	logrus.Infof("Scheduling initial scan of @%s: %d monthly windows from %s", profile.Username, len(buckets), profile.JoinedDate)

	if err := s.deferWindows(ctx, buckets, func(w types.ScanWindow) types.Task {
		return types.InitialScanTask{ScanWindow: w}
	}, profile.UserID); err != nil {
		return 0, err
	}

	if err := s.store.UpdateCheckpoint(ctx, profile.UserID, today); err != nil {
		return 0, err
	}
	return len(buckets), nil
}

// ScheduleRescan defers one rescan task per month from the profile's
// checkpoint (or its join date when sinceBeginning is set) until today.
func (s *Scheduler) ScheduleRescan(ctx context.Context, profile types.Profile, sinceBeginning bool) (int, error) {
	start := profile.ScanStart()
	if sinceBeginning {
		start = profile.JoinedDate
	}

	today := types.Today()
	buckets := daterange.MonthBuckets(start, today)
	logrus.Infof("Scheduling rescan of @%s: %d monthly windows from %s", profile.Username, len(buckets), start)

	if err := s.deferWindows(ctx, buckets, func(w types.ScanWindow) types.Task {
		return types.RescanTask{ScanWindow: w}
	}, profile.UserID); err != nil {
		return 0, err
	}

	if err := s.store.UpdateCheckpoint(ctx, profile.UserID, today); err != nil {
		return 0, err
	}
	return len(buckets), nil
}

// deferWindows enqueues one task per bucket with a fixed-size semaphore
// bounding concurrent defers.
func (s *Scheduler) deferWindows(ctx context.Context, buckets []daterange.Range, build func(types.ScanWindow) types.Task, profileID int64) error {
	sem := semaphore.NewWeighted(int64(s.deferConcurrency))
	g, gctx := errgroup.WithContext(ctx)
	for _, bucket := range buckets {
		bucket := bucket
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			_, err := s.queue.Defer(gctx, build(bucket.Window(profileID)))
			return err
		})
	}
	return g.Wait()
}

// SyncProfiles walks every enabled profile, refreshes its metadata and
// schedules the periodic rescan. A profile that no longer resolves is disabled
// instead of failing the sweep; other per-profile errors are logged and
// skipped so one dead mirror cannot starve the rest.
func (s *Scheduler) SyncProfiles(ctx context.Context) error {
	profiles, err := s.store.ListEnabledProfiles(ctx)
	if err != nil {
		return fmt.Errorf("failed to list enabled profiles: %w", err)
	}
	logrus.Infof("Syncing %d enabled profiles", len(profiles))

	for _, profile := range profiles {
		if err := ctx.Err(); err != nil {
			return err
		}

		current, err := s.source.LookupProfile(ctx, profile.Username)
		switch {
		case errors.Is(err, twitter.ErrProfileNotFound):
			logrus.Warnf("Profile @%s no longer resolves, disabling it", profile.Username)
			if err := s.store.SetProfileEnabled(ctx, profile.UserID, false); err != nil {
				logrus.WithError(err).Errorf("Failed to disable profile %d", profile.UserID)
			}
			continue
		case err != nil:
			logrus.WithError(err).Warnf("Skipping profile @%s this sweep", profile.Username)
			continue
		}

		if current.Username != profile.Username {
			if err := s.store.UpdateUsername(ctx, profile.UserID, current.Username); err != nil {
				logrus.WithError(err).Errorf("Failed to update username of profile %d", profile.UserID)
			} else {
				profile.Username = current.Username
			}
		}

		if _, err := s.ScheduleRescan(ctx, profile, false); err != nil {
			logrus.WithError(err).Errorf("Failed to schedule rescan of @%s", profile.Username)
		}
	}
	return nil
}
