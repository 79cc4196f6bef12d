package store

import (
	"time"

	"github.com/tweetwatch/scan-worker/api/types"
)

func profileToRow(p types.Profile) Profile {
	return Profile{
		UserID:         p.UserID,
		Username:       p.Username,
		Enabled:        p.Enabled,
		ArchiveEnabled: p.ArchiveEnabled,
		JoinedDate:     p.JoinedDate.Time(),
		LastScanDate:   dateToTimePtr(p.LastScanDate),
	}
}

func rowToProfile(row Profile) types.Profile {
	return types.Profile{
		UserID:         row.UserID,
		Username:       row.Username,
		Enabled:        row.Enabled,
		ArchiveEnabled: row.ArchiveEnabled,
		JoinedDate:     types.DateOf(row.JoinedDate),
		LastScanDate:   timeToDatePtr(row.LastScanDate),
	}
}

func tweetToRow(userID int64, t types.Tweet, scrapedOn time.Time) Tweet {
	return Tweet{
		TweetID:            t.TweetID,
		UserID:             userID,
		Text:               t.Text,
		IsReply:            t.IsReply,
		PublishedOn:        t.PublishedOn.UTC(),
		DeletionDetectedOn: t.DeletionDetectedOn,
		ArchiveURL:         t.ArchiveURL,
		ArchiveScheduled:   t.ArchiveScheduled,
		ScrapedOn:          scrapedOn,
	}
}

func rowToTweet(row Tweet) types.Tweet {
	return types.Tweet{
		TweetID:            row.TweetID,
		UserID:             row.UserID,
		Text:               row.Text,
		IsReply:            row.IsReply,
		PublishedOn:        row.PublishedOn.UTC(),
		DeletionDetectedOn: row.DeletionDetectedOn,
		ArchiveURL:         row.ArchiveURL,
		ArchiveScheduled:   row.ArchiveScheduled,
	}
}

func rowsToTweets(rows []Tweet) []types.Tweet {
	tweets := make([]types.Tweet, 0, len(rows))
	for _, row := range rows {
		tweets = append(tweets, rowToTweet(row))
	}
	return tweets
}

func dateToTimePtr(d *types.Date) *time.Time {
	if d == nil {
		return nil
	}
	t := d.Time()
	return &t
}

func timeToDatePtr(t *time.Time) *types.Date {
	if t == nil {
		return nil
	}
	d := types.DateOf(*t)
	return &d
}
