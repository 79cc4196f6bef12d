package scan

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/tweetwatch/scan-worker/api/types"
	"github.com/tweetwatch/scan-worker/internal/archive"
	"github.com/tweetwatch/scan-worker/internal/store"
	"github.com/tweetwatch/scan-worker/internal/taskqueue"
)

// ArchivalScheduler fans tweets out into one archive task each, exactly once
// per tweet. Scheduling is tracked per tweet in storage, so a retried scan
// task re-offering the same ids enqueues nothing new.
type ArchivalScheduler struct {
	store *store.Store
	queue *taskqueue.Queue
}

func NewArchivalScheduler(store *store.Store, queue *taskqueue.Queue) *ArchivalScheduler {
	return &ArchivalScheduler{store: store, queue: queue}
}

// Schedule defers an archive task for every tweet id not yet scheduled and
// returns the number of tasks created.
func (a *ArchivalScheduler) Schedule(ctx context.Context, profile types.Profile, tweetIDs []int64) (int, error) {
	ids, err := a.store.FilterArchiveUnscheduled(ctx, profile.UserID, tweetIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to filter archive candidates for profile %d: %w", profile.UserID, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	for _, id := range ids {
		task := types.ArchiveTweetTask{
			ProfileID: profile.UserID,
			Username:  profile.Username,
			TweetID:   id,
		}
		if _, err := a.queue.Defer(ctx, task); err != nil {
			return 0, fmt.Errorf("failed to defer archive task for tweet %d: %w", id, err)
		}
	}

	// Flag after deferring: a crash in between re-offers the ids next run and
	// the fingerprint dedupe absorbs the duplicates.
	if err := a.store.MarkArchiveScheduled(ctx, profile.UserID, ids); err != nil {
		return 0, fmt.Errorf("failed to flag %d tweets as archive-scheduled: %w", len(ids), err)
	}

	logrus.Infof("Scheduled archival of %d tweets for @%s", len(ids), profile.Username)
	return len(ids), nil
}

// ArchiveProcessor handles archive tasks: snapshot the canonical tweet URL and
// record where the snapshot lives.
type ArchiveProcessor struct {
	store    *store.Store
	archiver archive.Archiver
}

func NewArchiveProcessor(store *store.Store, archiver archive.Archiver) *ArchiveProcessor {
	return &ArchiveProcessor{store: store, archiver: archiver}
}

func (p *ArchiveProcessor) Execute(ctx context.Context, payload []byte) error {
	var task types.ArchiveTweetTask
	if err := json.Unmarshal(payload, &task); err != nil {
		return fmt.Errorf("invalid archive task payload: %w", err)
	}

	target := types.TweetURL(task.Username, task.TweetID)
	snapshot, err := p.archiver.LatestOrCreateSnapshot(ctx, target)
	if err != nil {
		return fmt.Errorf("failed to snapshot %s: %w", target, err)
	}

	if err := p.store.SetArchiveURL(ctx, task.ProfileID, task.TweetID, snapshot); err != nil {
		return fmt.Errorf("failed to record snapshot of tweet %d: %w", task.TweetID, err)
	}

	logrus.Infof("Archived tweet %d of @%s at %s", task.TweetID, task.Username, snapshot)
	return nil
}
