// Package twitter provides the tweet source used by the scan pipeline. The
// production implementation scrapes nitter mirrors; tests substitute fakes.
package twitter

import (
	"context"
	"errors"

	"github.com/tweetwatch/scan-worker/api/types"
)

// ErrProfileNotFound reports that the requested profile does not exist on the
// queried mirror (deleted, suspended or renamed).
var ErrProfileNotFound = errors.New("twitter: profile not found")

// Source is the read-only view of Twitter the scan pipeline depends on.
type Source interface {
	// LookupProfile resolves a username into profile metadata.
	LookupProfile(ctx context.Context, username string) (types.Profile, error)

	// FetchRange returns the tweets of username published within
	// [fromInc, toExc) that are currently visible.
	FetchRange(ctx context.Context, username string, fromInc, toExc types.Date) ([]types.Tweet, error)

	// Exists reports whether a tweet is visible on one specific mirror
	// instance. Used for cross-checking deletion candidates.
	Exists(ctx context.Context, tweetID int64, instance string) (bool, error)

	// Instances lists the configured mirror instances.
	Instances() []string
}
