package scan

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/tweetwatch/scan-worker/api/types"
	"github.com/tweetwatch/scan-worker/internal/store"
	"github.com/tweetwatch/scan-worker/internal/twitter"
)

// InitialScanProcessor handles the first pass over a scan window: fetch every
// visible tweet and persist it. There is nothing to reconcile yet, so a
// redelivered task simply re-fetches and re-offers the same rows, which the
// conflict-ignoring upsert absorbs.
type InitialScanProcessor struct {
	store    *store.Store
	source   twitter.Source
	archival *ArchivalScheduler
}

func NewInitialScanProcessor(store *store.Store, source twitter.Source, archival *ArchivalScheduler) *InitialScanProcessor {
	return &InitialScanProcessor{store: store, source: source, archival: archival}
}

func (p *InitialScanProcessor) Execute(ctx context.Context, payload []byte) error {
	var task types.InitialScanTask
	if err := json.Unmarshal(payload, &task); err != nil {
		return fmt.Errorf("invalid initial scan payload: %w", err)
	}

	profile, err := p.store.GetProfile(ctx, task.ProfileID)
	if err != nil {
		return err
	}

	tweets, err := p.source.FetchRange(ctx, profile.Username, task.DateFrom, task.DateToExclusive())
	if err != nil {
		return fmt.Errorf("initial scan of @%s [%s, %s] failed: %w", profile.Username, task.DateFrom, task.DateToInc, err)
	}
	logrus.Infof("Initial scan of @%s [%s, %s]: %d tweets", profile.Username, task.DateFrom, task.DateToInc, len(tweets))

	if err := p.store.UpsertTweets(ctx, profile.UserID, tweets); err != nil {
		return err
	}

	if profile.ArchiveEnabled {
		if _, err := p.archival.Schedule(ctx, profile, types.TweetIDs(tweets)); err != nil {
			return err
		}
	}
	return nil
}
