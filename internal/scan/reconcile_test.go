package scan_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tweetwatch/scan-worker/api/types"
	"github.com/tweetwatch/scan-worker/internal/scan"
)

func tweet(id int64, published time.Time) types.Tweet {
	return types.Tweet{TweetID: id, Text: "tweet", PublishedOn: published}
}

var _ = Describe("Reconciler", func() {
	var (
		ctx    context.Context
		source *fakeSource
		when   time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		source = newFakeSource()
		when = time.Date(2022, 3, 5, 12, 0, 0, 0, time.UTC)
	})

	It("classifies new, deleted and remaining tweets", func() {
		persisted := []types.Tweet{tweet(1, when), tweet(2, when), tweet(3, when)}
		current := []types.Tweet{tweet(2, when), tweet(3, when), tweet(4, when)}
		// Tweet 1 is gone on every mirror.

		r := scan.NewReconciler(source, 2)
		result, err := r.Reconcile(ctx, current, persisted)
		Expect(err).NotTo(HaveOccurred())

		Expect(types.TweetIDs(result.New)).To(Equal([]int64{4}))
		Expect(result.ConfirmedDeleted).To(Equal([]int64{1}))
		Expect(result.Remaining).To(Equal([]int64{2, 3}))
	})

	It("keeps a candidate when any single mirror still serves it", func() {
		persisted := []types.Tweet{tweet(1, when)}
		source.setExists("https://mirror-b.test", 1, true)

		r := scan.NewReconciler(source, 2)
		result, err := r.Reconcile(ctx, nil, persisted)
		Expect(err).NotTo(HaveOccurred())

		Expect(result.ConfirmedDeleted).To(BeEmpty())
		Expect(result.Remaining).To(Equal([]int64{1}))
	})

	It("keeps a candidate when a mirror check fails", func() {
		persisted := []types.Tweet{tweet(1, when)}
		source.existsErr["https://mirror-a.test"] = errors.New("connection refused")

		r := scan.NewReconciler(source, 2)
		result, err := r.Reconcile(ctx, nil, persisted)
		Expect(err).NotTo(HaveOccurred())

		Expect(result.ConfirmedDeleted).To(BeEmpty())
		Expect(result.Remaining).To(Equal([]int64{1}))
	})

	It("never confirms a deletion for a tweet the live fetch returned", func() {
		persisted := []types.Tweet{tweet(1, when), tweet(2, when)}
		current := []types.Tweet{tweet(1, when), tweet(2, when)}

		r := scan.NewReconciler(source, 2)
		result, err := r.Reconcile(ctx, current, persisted)
		Expect(err).NotTo(HaveOccurred())

		Expect(result.New).To(BeEmpty())
		Expect(result.ConfirmedDeleted).To(BeEmpty())
		Expect(result.Remaining).To(Equal([]int64{1, 2}))
		Expect(source.existsCalls).To(BeZero())
	})

	It("does not let new and deleted overlap", func() {
		persisted := []types.Tweet{tweet(1, when), tweet(2, when)}
		current := []types.Tweet{tweet(2, when), tweet(3, when)}

		r := scan.NewReconciler(source, 2)
		result, err := r.Reconcile(ctx, current, persisted)
		Expect(err).NotTo(HaveOccurred())

		for _, n := range result.New {
			Expect(result.ConfirmedDeleted).NotTo(ContainElement(n.TweetID))
		}
	})
})
