package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tweetwatch/scan-worker/api/types"
	"github.com/tweetwatch/scan-worker/internal/store"
	"github.com/tweetwatch/scan-worker/internal/twitter"
)

// RescanProcessor re-scans a window that was covered before: it fetches the
// live state, reconciles it against storage, persists new tweets and marks the
// confirmed deletions. Every write is idempotent, so a redelivery after a
// partial failure converges to the same end state.
type RescanProcessor struct {
	store      *store.Store
	source     twitter.Source
	reconciler *Reconciler
	archival   *ArchivalScheduler
}

func NewRescanProcessor(store *store.Store, source twitter.Source, reconciler *Reconciler, archival *ArchivalScheduler) *RescanProcessor {
	return &RescanProcessor{store: store, source: source, reconciler: reconciler, archival: archival}
}

func (p *RescanProcessor) Execute(ctx context.Context, payload []byte) error {
	var task types.RescanTask
	if err := json.Unmarshal(payload, &task); err != nil {
		return fmt.Errorf("invalid rescan payload: %w", err)
	}

	profile, err := p.store.GetProfile(ctx, task.ProfileID)
	if err != nil {
		return err
	}

	var current, persisted []types.Tweet
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		current, err = p.source.FetchRange(gctx, profile.Username, task.DateFrom, task.DateToExclusive())
		if err != nil {
			return fmt.Errorf("rescan of @%s [%s, %s] failed: %w", profile.Username, task.DateFrom, task.DateToInc, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		// Tweets already marked deleted stay out of the diff; their state is
		// settled and must not flap if a mirror briefly shows them again.
		persisted, err = p.store.GetTweets(gctx, profile.UserID, task.DateFrom, task.DateToExclusive(), true)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	result, err := p.reconciler.Reconcile(ctx, current, persisted)
	if err != nil {
		return err
	}
	logrus.Infof("Rescan of @%s [%s, %s]: %d live, %d persisted, %d new, %d deleted",
		profile.Username, task.DateFrom, task.DateToInc,
		len(current), len(persisted), len(result.New), len(result.ConfirmedDeleted))

	if err := p.store.UpsertTweets(ctx, profile.UserID, result.New); err != nil {
		return err
	}
	if err := p.store.MarkDeleted(ctx, profile.UserID, result.ConfirmedDeleted, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to mark %d tweets deleted for @%s: %w", len(result.ConfirmedDeleted), profile.Username, err)
	}

	if profile.ArchiveEnabled {
		if _, err := p.archival.Schedule(ctx, profile, types.TweetIDs(result.New)); err != nil {
			return err
		}
	}
	return nil
}
