package scan_test

import (
	"context"
	"fmt"
	"sync"

	"github.com/tweetwatch/scan-worker/api/types"
	"github.com/tweetwatch/scan-worker/internal/twitter"
)

// fakeSource is an in-memory twitter.Source. Timelines are keyed by username;
// existence answers are keyed by instance and tweet id, defaulting to "not
// found" for unknown ids.
type fakeSource struct {
	mu        sync.Mutex
	instances []string
	profiles  map[string]types.Profile
	timelines map[string][]types.Tweet
	exists    map[string]map[int64]bool
	existsErr map[string]error

	existsCalls int
}

func newFakeSource(instances ...string) *fakeSource {
	if len(instances) == 0 {
		instances = []string{"https://mirror-a.test", "https://mirror-b.test"}
	}
	return &fakeSource{
		instances: instances,
		profiles:  make(map[string]types.Profile),
		timelines: make(map[string][]types.Tweet),
		exists:    make(map[string]map[int64]bool),
		existsErr: make(map[string]error),
	}
}

func (f *fakeSource) setExists(instance string, tweetID int64, exists bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.exists[instance] == nil {
		f.exists[instance] = make(map[int64]bool)
	}
	f.exists[instance][tweetID] = exists
}

func (f *fakeSource) LookupProfile(_ context.Context, username string) (types.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[username]
	if !ok {
		return types.Profile{}, fmt.Errorf("%s: %w", username, twitter.ErrProfileNotFound)
	}
	return p, nil
}

func (f *fakeSource) FetchRange(_ context.Context, username string, fromInc, toExc types.Date) ([]types.Tweet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Tweet
	for _, t := range f.timelines[username] {
		if !t.PublishedOn.Before(fromInc.Time()) && t.PublishedOn.Before(toExc.Time()) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeSource) Exists(_ context.Context, tweetID int64, instance string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.existsCalls++
	if err := f.existsErr[instance]; err != nil {
		return false, err
	}
	return f.exists[instance][tweetID], nil
}

func (f *fakeSource) Instances() []string {
	return f.instances
}

// fakeArchiver records snapshot requests and answers with a deterministic URL.
type fakeArchiver struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeArchiver) LatestOrCreateSnapshot(_ context.Context, target string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, target)
	if f.err != nil {
		return "", f.err
	}
	return "https://web.archive.org/web/20240101000000/" + target, nil
}
