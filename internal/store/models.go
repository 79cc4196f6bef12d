package store

import "time"

// Profile is the storage row for a tracked account.
type Profile struct {
	UserID         int64  `gorm:"column:userid;primaryKey;autoIncrement:false"`
	Username       string `gorm:"uniqueIndex;size:64;not null"`
	Enabled        bool   `gorm:"not null;default:true"`
	ArchiveEnabled bool   `gorm:"not null;default:true"`
	JoinedDate     time.Time
	LastScanDate   *time.Time
	CreatedAt      time.Time
}

func (Profile) TableName() string {
	return "profiles"
}

// Tweet is the storage row for a single post. The composite primary key keeps
// each profile's tweets in their own key range; rows are never deleted, only
// marked via DeletionDetectedOn.
type Tweet struct {
	TweetID     int64  `gorm:"column:tweetid;primaryKey;autoIncrement:false"`
	UserID      int64  `gorm:"column:userid;primaryKey;autoIncrement:false;index"`
	Text        string `gorm:"not null"`
	IsReply     bool   `gorm:"not null;default:false"`
	PublishedOn time.Time `gorm:"index;not null"`

	DeletionDetectedOn *time.Time
	ArchiveURL         *string `gorm:"size:512"`
	ArchiveScheduled   bool    `gorm:"not null;default:false"`
	ScrapedOn          time.Time
}

func (Tweet) TableName() string {
	return "tweets"
}

// TaskAudit is an optional per-task audit row, independent of queue state.
// FinalizedAt stays nil while the task is in flight.
type TaskAudit struct {
	TaskID      string `gorm:"primaryKey;size:36"`
	TaskType    string `gorm:"size:64;not null"`
	Payload     []byte `gorm:"not null"`
	CreatedAt   time.Time
	FinalizedAt *time.Time
}

func (TaskAudit) TableName() string {
	return "tasks_historic"
}
