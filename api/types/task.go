package types

import "fmt"

// Task type names are the stable routing keys used by the task queue. They are
// versioned so that a payload change can coexist with in-flight tasks of the
// previous shape.
const (
	TaskTypeInitialScan  = "initial-scan-profile-tweets.v1"
	TaskTypeRescan       = "rescan-profile-tweets.v1"
	TaskTypeArchiveTweet = "archive-tweet.v1"
)

// Task is implemented by every queueable payload. The set of implementations
// is closed: each task type is bound to exactly one processor at startup.
type Task interface {
	// Type returns the routing key for the task.
	Type() string
	// Fingerprint identifies the task's unit of work. Re-deferring a task
	// with the same fingerprint while one is still queued is a no-op.
	Fingerprint() string
}

// ScanWindow is the (profile, bounded date window) unit shared by the scan
// task types. DateToInc is inclusive.
type ScanWindow struct {
	ProfileID int64 `json:"profile_id"`
	DateFrom  Date  `json:"date_from"`
	DateToInc Date  `json:"date_to_inc"`
}

// DateToExclusive returns the exclusive upper bound of the window, which is
// what fetch and storage range queries operate on.
func (w ScanWindow) DateToExclusive() Date {
	return w.DateToInc.AddDays(1)
}

// InitialScanTask fetches all tweets of a profile within the window and
// persists them. It is the first pass over a window, with nothing to reconcile.
type InitialScanTask struct {
	ScanWindow
}

func (t InitialScanTask) Type() string { return TaskTypeInitialScan }

func (t InitialScanTask) Fingerprint() string {
	return scanFingerprint(t.Type(), t.ScanWindow)
}

// RescanTask re-fetches a window already covered by a previous scan and
// reconciles the result against storage to detect deletions.
type RescanTask struct {
	ScanWindow
}

func (t RescanTask) Type() string { return TaskTypeRescan }

func (t RescanTask) Fingerprint() string {
	return scanFingerprint(t.Type(), t.ScanWindow)
}

// ArchiveTweetTask requests a one-time external snapshot of a single tweet.
// The username travels in the payload so the canonical URL survives a later
// profile rename.
type ArchiveTweetTask struct {
	ProfileID int64  `json:"profile_id"`
	Username  string `json:"username"`
	TweetID   int64  `json:"tweet_id"`
}

func (t ArchiveTweetTask) Type() string { return TaskTypeArchiveTweet }

func (t ArchiveTweetTask) Fingerprint() string {
	return fmt.Sprintf("%s|%d|%d", t.Type(), t.ProfileID, t.TweetID)
}

func scanFingerprint(taskType string, w ScanWindow) string {
	return fmt.Sprintf("%s|%d|%s|%s", taskType, w.ProfileID, w.DateFrom, w.DateToInc)
}
