// Package scan contains the task processors and the reconciliation logic that
// turns fetched timelines into persisted scan results.
package scan

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tweetwatch/scan-worker/api/types"
	"github.com/tweetwatch/scan-worker/internal/twitter"
)

// ReconcileResult classifies every tweet of a window. Each persisted tweet
// ends up in exactly one of ConfirmedDeleted or Remaining; New never overlaps
// ConfirmedDeleted.
type ReconcileResult struct {
	// New holds tweets visible now but not yet persisted.
	New []types.Tweet
	// ConfirmedDeleted holds persisted tweet ids missing from the live fetch
	// and confirmed gone on every configured mirror.
	ConfirmedDeleted []int64
	// Remaining holds every other persisted tweet id.
	Remaining []int64
}

// Reconciler diffs a live fetch against storage and double-checks deletion
// candidates. Mirrors randomly report existing tweets as missing (quota or
// regional issues), and the search timeline omits some tweets that still
// exist, so a candidate is only confirmed deleted when every mirror agrees.
type Reconciler struct {
	source            twitter.Source
	verifyConcurrency int
}

func NewReconciler(source twitter.Source, verifyConcurrency int) *Reconciler {
	if verifyConcurrency <= 0 {
		verifyConcurrency = 4
	}
	return &Reconciler{source: source, verifyConcurrency: verifyConcurrency}
}

// Reconcile compares current (live) and persisted tweets of the same window.
func (r *Reconciler) Reconcile(ctx context.Context, current, persisted []types.Tweet) (ReconcileResult, error) {
	persistedIDs := make(map[int64]struct{}, len(persisted))
	for _, t := range persisted {
		persistedIDs[t.TweetID] = struct{}{}
	}
	currentIDs := make(map[int64]struct{}, len(current))
	for _, t := range current {
		currentIDs[t.TweetID] = struct{}{}
	}

	var result ReconcileResult
	for _, t := range current {
		if _, ok := persistedIDs[t.TweetID]; !ok {
			result.New = append(result.New, t)
		}
	}

	var candidates []int64
	for id := range persistedIDs {
		if _, ok := currentIDs[id]; !ok {
			candidates = append(candidates, id)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })

	if len(candidates) > 0 {
		logrus.Infof("Found %d deletion candidates, double-checking against %d mirrors: %v",
			len(candidates), len(r.source.Instances()), candidates)
		deleted, err := r.verifyDeleted(ctx, candidates)
		if err != nil {
			return ReconcileResult{}, err
		}
		result.ConfirmedDeleted = deleted
	}

	deletedSet := make(map[int64]struct{}, len(result.ConfirmedDeleted))
	for _, id := range result.ConfirmedDeleted {
		deletedSet[id] = struct{}{}
	}
	for id := range persistedIDs {
		if _, ok := deletedSet[id]; !ok {
			result.Remaining = append(result.Remaining, id)
		}
	}
	sort.Slice(result.Remaining, func(i, j int) bool { return result.Remaining[i] < result.Remaining[j] })

	return result, nil
}

// verifyDeleted re-checks each candidate individually with bounded
// concurrency and returns the confirmed subset, sorted.
func (r *Reconciler) verifyDeleted(ctx context.Context, candidates []int64) ([]int64, error) {
	confirmed := make([]bool, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.verifyConcurrency)
	for i, id := range candidates {
		i, id := i, id
		g.Go(func() error {
			gone, err := r.goneEverywhere(gctx, id)
			if err != nil {
				return err
			}
			confirmed[i] = gone
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var deleted []int64
	for i, id := range candidates {
		if confirmed[i] {
			deleted = append(deleted, id)
		}
	}
	return deleted, nil
}

// goneEverywhere queries every configured instance. One "exists" answer
// overrides any number of "not found" answers; a failed check counts as
// "exists" so that an unreachable mirror can never confirm a deletion.
func (r *Reconciler) goneEverywhere(ctx context.Context, tweetID int64) (bool, error) {
	for _, instance := range r.source.Instances() {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		exists, err := r.source.Exists(ctx, tweetID, instance)
		if err != nil {
			logrus.WithError(err).Warnf("Existence check for tweet %d on %s failed, keeping the tweet", tweetID, instance)
			return false, nil
		}
		if exists {
			logrus.Debugf("Tweet %d still exists on %s", tweetID, instance)
			return false, nil
		}
	}
	logrus.Infof("Tweet %d confirmed deleted on all %d mirrors", tweetID, len(r.source.Instances()))
	return true, nil
}
