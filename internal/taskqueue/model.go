package taskqueue

import "time"

const (
	// StatusPending marks a task waiting for (re)delivery.
	StatusPending = "pending"
	// StatusDead marks a task that exhausted its attempts. Dead tasks are kept
	// for inspection and never delivered again.
	StatusDead = "dead"
)

// QueuedTask is the durable queue row. A row exists from defer until ack;
// acknowledged tasks are deleted, failed ones stay with a future AvailableAt.
type QueuedTask struct {
	ID          string `gorm:"primaryKey;size:36"`
	Type        string `gorm:"size:64;not null;index"`
	Fingerprint string `gorm:"uniqueIndex;size:160;not null"`
	Payload     []byte `gorm:"not null"`
	Status      string `gorm:"size:16;not null;default:pending"`
	Attempts    int    `gorm:"not null;default:0"`
	AvailableAt time.Time `gorm:"index;not null"`
	LeasedUntil *time.Time
	CreatedAt   time.Time
}

func (QueuedTask) TableName() string {
	return "queued_tasks"
}
