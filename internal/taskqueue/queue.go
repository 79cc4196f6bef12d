// Package taskqueue is a durable, at-least-once task queue backed by the same
// database that holds the scan results. Tasks survive process crashes; a
// handler failure makes the task eligible for redelivery after an exponential
// backoff delay.
package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tweetwatch/scan-worker/api/types"
)

// Handler processes one delivered task payload. A non-nil error (or a panic)
// negatively acknowledges the delivery and triggers redelivery.
type Handler func(ctx context.Context, payload []byte) error

// Audit receives task lifecycle notifications, independent of queue state.
// Implemented by the store's task audit table; optional.
type Audit interface {
	RecordTaskCreated(ctx context.Context, taskID, taskType string, payload []byte) error
	RecordTaskFinalized(ctx context.Context, taskID string) error
}

type Options struct {
	// PollInterval is how long a consumer sleeps when no task is due.
	PollInterval time.Duration
	// LeaseDuration bounds a single execution. A task whose lease expired is
	// redelivered, so handlers must tolerate running twice.
	LeaseDuration time.Duration
	// MaxAttempts moves a task to the dead status after that many failed
	// deliveries. Zero means retry forever.
	MaxAttempts int

	InitialRetryInterval time.Duration
	MaxRetryInterval     time.Duration
}

func (o *Options) applyDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.LeaseDuration <= 0 {
		o.LeaseDuration = 5 * time.Minute
	}
	if o.InitialRetryInterval <= 0 {
		o.InitialRetryInterval = 5 * time.Second
	}
	if o.MaxRetryInterval <= 0 {
		o.MaxRetryInterval = 10 * time.Minute
	}
}

type Queue struct {
	db    *gorm.DB
	opts  Options
	audit Audit
}

// New migrates the queue table and returns a queue over the given database.
// audit may be nil.
func New(db *gorm.DB, opts Options, audit Audit) (*Queue, error) {
	opts.applyDefaults()
	if err := db.AutoMigrate(&QueuedTask{}); err != nil {
		return nil, fmt.Errorf("failed to migrate task queue schema: %w", err)
	}
	return &Queue{db: db, opts: opts, audit: audit}, nil
}

// Defer durably persists a task for later consumption and returns its handle.
// Deferring a task whose fingerprint is already queued is a no-op and returns
// the handle of the queued task.
func (q *Queue) Defer(ctx context.Context, task types.Task) (string, error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("failed to marshal task %s: %w", task.Type(), err)
	}

	row := QueuedTask{
		ID:          uuid.New().String(),
		Type:        task.Type(),
		Fingerprint: task.Fingerprint(),
		Payload:     payload,
		Status:      StatusPending,
		AvailableAt: time.Now().UTC(),
	}

	res := q.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		return "", fmt.Errorf("failed to defer task %s: %w", task.Type(), res.Error)
	}

	if res.RowsAffected == 0 {
		// Same unit of work already queued; hand back its id.
		var existing QueuedTask
		if err := q.db.WithContext(ctx).First(&existing, "fingerprint = ?", task.Fingerprint()).Error; err == nil {
			logrus.Debugf("Task %s already queued as %s", task.Fingerprint(), existing.ID)
			return existing.ID, nil
		}
		return row.ID, nil
	}

	if q.audit != nil {
		if err := q.audit.RecordTaskCreated(ctx, row.ID, row.Type, payload); err != nil {
			logrus.WithError(err).Warnf("Failed to record audit row for task %s", row.ID)
		}
	}

	logrus.Debugf("Deferred task %s (%s)", row.ID, row.Type)
	return row.ID, nil
}

// Consume pulls tasks of taskType and invokes handler with at most
// concurrency parallel executions. Successful handlers acknowledge the task
// (removing it); failing handlers negatively acknowledge it and the task is
// redelivered after a backoff delay. With limit > 0 the call returns once that
// many deliveries finished, successfully or not; with limit == 0 it runs until
// the context is cancelled.
func (q *Queue) Consume(ctx context.Context, taskType string, handler Handler, concurrency, limit int) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	logrus.Infof("Consuming %s tasks (concurrency=%d)", taskType, concurrency)

	sem := semaphore.NewWeighted(int64(concurrency))
	var wg sync.WaitGroup
	started := 0

	for {
		if limit > 0 && started >= limit {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}

		task, err := q.claim(ctx, taskType)
		if err != nil {
			sem.Release(1)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				break
			}
			logrus.WithError(err).Errorf("Failed to claim %s task", taskType)
			if !sleepCtx(ctx, q.opts.PollInterval) {
				break
			}
			continue
		}
		if task == nil {
			sem.Release(1)
			if !sleepCtx(ctx, q.opts.PollInterval) {
				break
			}
			continue
		}

		started++
		wg.Add(1)
		go func(t QueuedTask) {
			defer wg.Done()
			defer sem.Release(1)
			q.process(ctx, t, handler)
		}(*task)
	}

	wg.Wait()
	logrus.Infof("Stopped consuming %s tasks after %d deliveries", taskType, started)
	return nil
}

// claim leases the next due task of taskType, or returns nil when none is due.
func (q *Queue) claim(ctx context.Context, taskType string) (*QueuedTask, error) {
	now := time.Now().UTC()
	leasedUntil := now.Add(q.opts.LeaseDuration)

	var claimed *QueuedTask
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row QueuedTask
		err := tx.
			Where("type = ? AND status = ? AND available_at <= ?", taskType, StatusPending, now).
			Where("leased_until IS NULL OR leased_until < ?", now).
			Order("available_at").
			First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		res := tx.Model(&QueuedTask{}).
			Where("id = ? AND (leased_until IS NULL OR leased_until < ?)", row.ID, now).
			Update("leased_until", leasedUntil)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Another consumer got there first; the next poll retries.
			return nil
		}

		row.LeasedUntil = &leasedUntil
		claimed = &row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (q *Queue) process(ctx context.Context, t QueuedTask, handler Handler) {
	logrus.Debugf("Task %s (%s) delivery attempt %d", t.ID, t.Type, t.Attempts+1)

	err := invoke(ctx, t, handler)

	// State updates must survive a cancelled consumer context; otherwise the
	// task would only come back after the lease expires.
	persistCtx := context.WithoutCancel(ctx)
	if err != nil {
		logrus.WithError(err).Warnf("Task %s (%s) failed, scheduling retry", t.ID, t.Type)
		q.nack(persistCtx, t)
		return
	}
	q.ack(persistCtx, t)
}

// invoke runs the handler, converting panics into errors so a broken payload
// can never take the consumer loop down.
func invoke(ctx context.Context, t QueuedTask, handler Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task handler panicked: %v", r)
		}
	}()
	return handler(ctx, t.Payload)
}

func (q *Queue) ack(ctx context.Context, t QueuedTask) {
	if err := q.db.WithContext(ctx).Delete(&QueuedTask{}, "id = ?", t.ID).Error; err != nil {
		logrus.WithError(err).Errorf("Failed to acknowledge task %s", t.ID)
		return
	}
	if q.audit != nil {
		if err := q.audit.RecordTaskFinalized(ctx, t.ID); err != nil {
			logrus.WithError(err).Warnf("Failed to finalize audit row for task %s", t.ID)
		}
	}
	logrus.Debugf("Task %s (%s) acknowledged", t.ID, t.Type)
}

func (q *Queue) nack(ctx context.Context, t QueuedTask) {
	attempts := t.Attempts + 1

	updates := map[string]any{
		"attempts":     attempts,
		"leased_until": nil,
	}
	if q.opts.MaxAttempts > 0 && attempts >= q.opts.MaxAttempts {
		updates["status"] = StatusDead
		logrus.Errorf("Task %s (%s) exhausted %d attempts, moving to dead status", t.ID, t.Type, attempts)
	} else {
		delay := q.retryDelay(attempts)
		updates["available_at"] = time.Now().UTC().Add(delay)
		logrus.Debugf("Task %s (%s) retry %d in %v", t.ID, t.Type, attempts, delay)
	}

	if err := q.db.WithContext(ctx).Model(&QueuedTask{}).Where("id = ?", t.ID).Updates(updates).Error; err != nil {
		logrus.WithError(err).Errorf("Failed to release task %s; lease expiry will redeliver it", t.ID)
	}
}

// retryDelay computes the delay before the attempt-th redelivery.
func (q *Queue) retryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.opts.InitialRetryInterval
	b.MaxInterval = q.opts.MaxRetryInterval
	b.MaxElapsedTime = 0

	delay := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

// CountPending returns the number of queued (not dead) tasks of taskType.
func (q *Queue) CountPending(ctx context.Context, taskType string) (int64, error) {
	var count int64
	err := q.db.WithContext(ctx).Model(&QueuedTask{}).
		Where("type = ? AND status = ?", taskType, StatusPending).
		Count(&count).Error
	return count, err
}

// PendingTasks returns the queued tasks of taskType ordered by availability.
func (q *Queue) PendingTasks(ctx context.Context, taskType string) ([]QueuedTask, error) {
	var rows []QueuedTask
	err := q.db.WithContext(ctx).
		Where("type = ? AND status = ?", taskType, StatusPending).
		Order("available_at").Find(&rows).Error
	return rows, err
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
