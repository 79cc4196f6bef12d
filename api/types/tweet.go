package types

import (
	"fmt"
	"time"
)

// Tweet is a single post belonging to a profile, identified by the
// (UserID, TweetID) composite key. Tweets are never removed from storage:
// a detected deletion only sets DeletionDetectedOn.
type Tweet struct {
	TweetID     int64     `json:"tweet_id"`
	UserID      int64     `json:"user_id"`
	Text        string    `json:"text"`
	IsReply     bool      `json:"is_reply"`
	PublishedOn time.Time `json:"published_on"`

	// One-way lifecycle fields. Each transitions from its zero value exactly once.
	DeletionDetectedOn *time.Time `json:"deletion_detected_on,omitempty"`
	ArchiveURL         *string    `json:"archive_url,omitempty"`
	ArchiveScheduled   bool       `json:"archive_scheduled"`
}

func (t Tweet) IsDeleted() bool {
	return t.DeletionDetectedOn != nil
}

// TweetURL returns the canonical public URL for a tweet, which is also the
// URL submitted for archival snapshots.
func TweetURL(username string, tweetID int64) string {
	return fmt.Sprintf("https://twitter.com/%s/status/%d", username, tweetID)
}

// TweetIDs extracts the ids of a tweet list, preserving order.
func TweetIDs(tweets []Tweet) []int64 {
	ids := make([]int64, 0, len(tweets))
	for _, t := range tweets {
		ids = append(ids, t.TweetID)
	}
	return ids
}
