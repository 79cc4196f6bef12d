package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tweetwatch/scan-worker/api/types"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

const bulkInsertBatchSize = 500

// CreateProfile inserts a profile, silently ignoring a duplicate. Re-tracking
// an already tracked profile is a no-op.
func (s *Store) CreateProfile(ctx context.Context, p types.Profile) error {
	row := profileToRow(p)
	res := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		return fmt.Errorf("failed to create profile %d: %w", p.UserID, res.Error)
	}
	return nil
}

func (s *Store) GetProfile(ctx context.Context, userID int64) (types.Profile, error) {
	var row Profile
	err := s.DB.WithContext(ctx).First(&row, "userid = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.Profile{}, fmt.Errorf("profile %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return types.Profile{}, err
	}
	return rowToProfile(row), nil
}

func (s *Store) GetProfileByUsername(ctx context.Context, username string) (types.Profile, error) {
	var row Profile
	err := s.DB.WithContext(ctx).First(&row, "username = ? COLLATE NOCASE", username).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.Profile{}, fmt.Errorf("profile %q: %w", username, ErrNotFound)
	}
	if err != nil {
		return types.Profile{}, err
	}
	return rowToProfile(row), nil
}

func (s *Store) ListEnabledProfiles(ctx context.Context) ([]types.Profile, error) {
	var rows []Profile
	if err := s.DB.WithContext(ctx).Where("enabled = ?", true).Order("userid").Find(&rows).Error; err != nil {
		return nil, err
	}
	profiles := make([]types.Profile, 0, len(rows))
	for _, row := range rows {
		profiles = append(profiles, rowToProfile(row))
	}
	return profiles, nil
}

func (s *Store) UpdateUsername(ctx context.Context, userID int64, username string) error {
	return s.DB.WithContext(ctx).Model(&Profile{}).
		Where("userid = ?", userID).
		Update("username", username).Error
}

func (s *Store) SetProfileEnabled(ctx context.Context, userID int64, enabled bool) error {
	return s.DB.WithContext(ctx).Model(&Profile{}).
		Where("userid = ?", userID).
		Update("enabled", enabled).Error
}

// UpdateCheckpoint advances a profile's last-scan date. The checkpoint only
// ever moves forward; a stale update from a retried task is ignored.
func (s *Store) UpdateCheckpoint(ctx context.Context, userID int64, date types.Date) error {
	return s.DB.WithContext(ctx).Model(&Profile{}).
		Where("userid = ? AND (last_scan_date IS NULL OR last_scan_date < ?)", userID, date.Time()).
		Update("last_scan_date", date.Time()).Error
}

// UpsertTweets persists tweets in bulk, ignoring rows whose composite key
// already exists. Existing rows are never overwritten, which makes re-running
// a scan task harmless.
func (s *Store) UpsertTweets(ctx context.Context, userID int64, tweets []types.Tweet) error {
	if len(tweets) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([]Tweet, 0, len(tweets))
	for _, t := range tweets {
		rows = append(rows, tweetToRow(userID, t, now))
	}

	err := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(rows, bulkInsertBatchSize).Error
	if err != nil {
		return fmt.Errorf("failed to upsert %d tweets for profile %d: %w", len(tweets), userID, err)
	}
	return nil
}

// GetTweets returns the tweets of a profile published within [fromInc, toExc).
// When activeOnly is set, tweets already marked as deleted are excluded.
func (s *Store) GetTweets(ctx context.Context, userID int64, fromInc, toExc types.Date, activeOnly bool) ([]types.Tweet, error) {
	query := s.DB.WithContext(ctx).
		Where("userid = ? AND published_on >= ? AND published_on < ?", userID, fromInc.Time(), toExc.Time())
	if activeOnly {
		query = query.Where("deletion_detected_on IS NULL")
	}

	var rows []Tweet
	if err := query.Order("published_on").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rowsToTweets(rows), nil
}

// GetDeletedTweets returns every tweet of a profile with a confirmed deletion.
func (s *Store) GetDeletedTweets(ctx context.Context, userID int64) ([]types.Tweet, error) {
	var rows []Tweet
	err := s.DB.WithContext(ctx).
		Where("userid = ? AND deletion_detected_on IS NOT NULL", userID).
		Order("published_on").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rowsToTweets(rows), nil
}

// MarkDeleted stamps deletion_detected_on for the given tweets. The timestamp
// is set once: tweets already marked keep their original detection time.
func (s *Store) MarkDeleted(ctx context.Context, userID int64, tweetIDs []int64, detectedAt time.Time) error {
	if len(tweetIDs) == 0 {
		return nil
	}
	return s.DB.WithContext(ctx).Model(&Tweet{}).
		Where("userid = ? AND tweetid IN ? AND deletion_detected_on IS NULL", userID, tweetIDs).
		Update("deletion_detected_on", detectedAt.UTC()).Error
}

// FilterArchiveUnscheduled returns the subset of ids not yet flagged for
// archival.
func (s *Store) FilterArchiveUnscheduled(ctx context.Context, userID int64, tweetIDs []int64) ([]int64, error) {
	if len(tweetIDs) == 0 {
		return nil, nil
	}
	var ids []int64
	err := s.DB.WithContext(ctx).Model(&Tweet{}).
		Where("userid = ? AND tweetid IN ? AND archive_scheduled = ?", userID, tweetIDs, false).
		Order("tweetid").
		Pluck("tweetid", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) MarkArchiveScheduled(ctx context.Context, userID int64, tweetIDs []int64) error {
	if len(tweetIDs) == 0 {
		return nil
	}
	return s.DB.WithContext(ctx).Model(&Tweet{}).
		Where("userid = ? AND tweetid IN ?", userID, tweetIDs).
		Update("archive_scheduled", true).Error
}

// SetArchiveURL records the snapshot URL for a tweet. The first write wins; a
// retried archive task cannot clobber an earlier snapshot.
func (s *Store) SetArchiveURL(ctx context.Context, userID, tweetID int64, url string) error {
	return s.DB.WithContext(ctx).Model(&Tweet{}).
		Where("userid = ? AND tweetid = ? AND archive_url IS NULL", userID, tweetID).
		Update("archive_url", url).Error
}

// RecordTaskCreated persists a task audit row. Duplicate task ids (redelivered
// defers) are ignored.
func (s *Store) RecordTaskCreated(ctx context.Context, taskID, taskType string, payload []byte) error {
	row := TaskAudit{
		TaskID:   taskID,
		TaskType: taskType,
		Payload:  payload,
	}
	return s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
}

// RecordTaskFinalized stamps the audit row of an acknowledged task.
func (s *Store) RecordTaskFinalized(ctx context.Context, taskID string) error {
	now := time.Now().UTC()
	return s.DB.WithContext(ctx).Model(&TaskAudit{}).
		Where("task_id = ? AND finalized_at IS NULL", taskID).
		Update("finalized_at", now).Error
}
