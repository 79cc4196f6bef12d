package taskqueue_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tweetwatch/scan-worker/api/types"
	"github.com/tweetwatch/scan-worker/internal/store"
	"github.com/tweetwatch/scan-worker/internal/taskqueue"
)

var _ = Describe("Queue", func() {
	var (
		ctx   context.Context
		st    *store.Store
		queue *taskqueue.Queue
	)

	newQueue := func(opts taskqueue.Options, audit taskqueue.Audit) *taskqueue.Queue {
		q, err := taskqueue.New(st.DB, opts, audit)
		Expect(err).NotTo(HaveOccurred())
		return q
	}

	fastOpts := taskqueue.Options{
		PollInterval:         10 * time.Millisecond,
		InitialRetryInterval: time.Millisecond,
		MaxRetryInterval:     5 * time.Millisecond,
	}

	window := types.ScanWindow{
		ProfileID: 1,
		DateFrom:  types.NewDate(2024, 1, 1),
		DateToInc: types.NewDate(2024, 1, 31),
	}

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		st, err = store.Open(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())

		queue = newQueue(fastOpts, nil)
	})

	AfterEach(func() {
		Expect(st.Close()).To(Succeed())
	})

	It("delivers a deferred task and removes it on success", func() {
		_, err := queue.Defer(ctx, types.RescanTask{ScanWindow: window})
		Expect(err).NotTo(HaveOccurred())

		var delivered types.RescanTask
		err = queue.Consume(ctx, types.TaskTypeRescan, func(_ context.Context, payload []byte) error {
			return json.Unmarshal(payload, &delivered)
		}, 1, 1)
		Expect(err).NotTo(HaveOccurred())

		Expect(delivered.ProfileID).To(Equal(int64(1)))
		Expect(delivered.DateFrom).To(Equal(window.DateFrom))

		count, err := queue.CountPending(ctx, types.TaskTypeRescan)
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(BeZero())
	})

	It("deduplicates tasks by fingerprint", func() {
		id1, err := queue.Defer(ctx, types.RescanTask{ScanWindow: window})
		Expect(err).NotTo(HaveOccurred())
		id2, err := queue.Defer(ctx, types.RescanTask{ScanWindow: window})
		Expect(err).NotTo(HaveOccurred())
		Expect(id2).To(Equal(id1))

		count, err := queue.CountPending(ctx, types.TaskTypeRescan)
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(Equal(int64(1)))
	})

	It("keeps distinct windows as distinct tasks", func() {
		_, err := queue.Defer(ctx, types.RescanTask{ScanWindow: window})
		Expect(err).NotTo(HaveOccurred())

		other := window
		other.DateFrom = types.NewDate(2024, 2, 1)
		other.DateToInc = types.NewDate(2024, 2, 29)
		_, err = queue.Defer(ctx, types.RescanTask{ScanWindow: other})
		Expect(err).NotTo(HaveOccurred())

		count, err := queue.CountPending(ctx, types.TaskTypeRescan)
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(Equal(int64(2)))
	})

	It("redelivers a failed task until it succeeds", func() {
		_, err := queue.Defer(ctx, types.RescanTask{ScanWindow: window})
		Expect(err).NotTo(HaveOccurred())

		var attempts int32
		err = queue.Consume(ctx, types.TaskTypeRescan, func(context.Context, []byte) error {
			if atomic.AddInt32(&attempts, 1) < 3 {
				return errors.New("transient failure")
			}
			return nil
		}, 1, 3)
		Expect(err).NotTo(HaveOccurred())

		Expect(atomic.LoadInt32(&attempts)).To(Equal(int32(3)))

		count, err := queue.CountPending(ctx, types.TaskTypeRescan)
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(BeZero())
	})

	It("recovers from a panicking handler", func() {
		_, err := queue.Defer(ctx, types.RescanTask{ScanWindow: window})
		Expect(err).NotTo(HaveOccurred())

		var attempts int32
		err = queue.Consume(ctx, types.TaskTypeRescan, func(context.Context, []byte) error {
			if atomic.AddInt32(&attempts, 1) == 1 {
				panic("broken payload")
			}
			return nil
		}, 1, 2)
		Expect(err).NotTo(HaveOccurred())

		count, err := queue.CountPending(ctx, types.TaskTypeRescan)
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(BeZero())
	})

	It("moves a task to the dead status after exhausting its attempts", func() {
		opts := fastOpts
		opts.MaxAttempts = 2
		deadQueue := newQueue(opts, nil)

		_, err := deadQueue.Defer(ctx, types.RescanTask{ScanWindow: window})
		Expect(err).NotTo(HaveOccurred())

		err = deadQueue.Consume(ctx, types.TaskTypeRescan, func(context.Context, []byte) error {
			return errors.New("permanent failure")
		}, 1, 2)
		Expect(err).NotTo(HaveOccurred())

		count, err := deadQueue.CountPending(ctx, types.TaskTypeRescan)
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(BeZero())
	})

	It("stops consuming when the context is cancelled", func() {
		cancelCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = queue.Consume(cancelCtx, types.TaskTypeRescan, func(context.Context, []byte) error {
				return nil
			}, 2, 0)
		}()

		cancel()
		Eventually(done, time.Second).Should(BeClosed())
	})

	It("records task lifecycle in the audit log when enabled", func() {
		auditQueue := newQueue(fastOpts, st)

		id, err := auditQueue.Defer(ctx, types.ArchiveTweetTask{ProfileID: 1, Username: "alice", TweetID: 7})
		Expect(err).NotTo(HaveOccurred())

		var created int64
		Expect(st.DB.Table("tasks_historic").Where("task_id = ?", id).Count(&created).Error).To(Succeed())
		Expect(created).To(Equal(int64(1)))

		err = auditQueue.Consume(ctx, types.TaskTypeArchiveTweet, func(context.Context, []byte) error {
			return nil
		}, 1, 1)
		Expect(err).NotTo(HaveOccurred())

		var finalized int64
		Expect(st.DB.Table("tasks_historic").
			Where("task_id = ? AND finalized_at IS NOT NULL", id).
			Count(&finalized).Error).To(Succeed())
		Expect(finalized).To(Equal(int64(1)))
	})
})
