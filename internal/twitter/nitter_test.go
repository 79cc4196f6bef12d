package twitter_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tweetwatch/scan-worker/api/types"
	"github.com/tweetwatch/scan-worker/internal/twitter"
)

const profilePage = `<!DOCTYPE html>
<html><body>
<div class="profile-card">
  <a class="profile-card-username" href="/alice" title="@alice">@alice</a>
  <div class="profile-joindate"><span title="2:32 PM - 10 Jun 2021">Joined June 2021</span></div>
  <div class="profile-banner">
    <a href="/pic/https%3A%2F%2Fpbs.twimg.com%2Fprofile_banners%2F42%2F1623334320%2F1500x500"><img src=""/></a>
  </div>
</div>
</body></html>`

const notFoundPage = `<!DOCTYPE html>
<html><body><div class="error-panel"><span>User "ghost" not found</span></div></body></html>`

const searchPageOne = `<!DOCTYPE html>
<html><body>
<div class="timeline">
  <div class="timeline-item">
    <a class="tweet-link" href="/alice/status/100#m"></a>
    <div class="tweet-body">
      <span class="tweet-date"><a href="/alice/status/100#m" title="Mar 2, 2022 · 11:48 AM UTC">Mar 2</a></span>
      <div class="tweet-content media-body">first tweet</div>
    </div>
  </div>
  <div class="timeline-item">
    <a class="tweet-link" href="/alice/status/101#m"></a>
    <div class="tweet-body">
      <span class="tweet-date"><a href="/alice/status/101#m" title="Mar 5, 2022 · 9:15 PM UTC">Mar 5</a></span>
      <div class="replying-to">Replying to <a href="/bob">@bob</a></div>
      <div class="tweet-content media-body">a reply</div>
    </div>
  </div>
  <div class="show-more"><a href="?f=tweets&amp;cursor=page2">Load more</a></div>
</div>
</body></html>`

const searchPageTwo = `<!DOCTYPE html>
<html><body>
<div class="timeline">
  <div class="timeline-item">
    <a class="tweet-link" href="/alice/status/102#m"></a>
    <div class="tweet-body">
      <span class="tweet-date"><a href="/alice/status/102#m" title="Mar 20, 2022 · 8:00 AM UTC">Mar 20</a></span>
      <div class="tweet-content media-body">second page tweet</div>
    </div>
  </div>
  <div class="timeline-item">
    <a class="tweet-link" href="/alice/status/99#m"></a>
    <div class="tweet-body">
      <span class="tweet-date"><a href="/alice/status/99#m" title="Feb 27, 2022 · 8:00 AM UTC">Feb 27</a></span>
      <div class="tweet-content media-body">outside the window</div>
    </div>
  </div>
</div>
</body></html>`

var _ = Describe("NitterSource", func() {
	var (
		ctx    context.Context
		server *httptest.Server
		source *twitter.NitterSource
	)

	BeforeEach(func() {
		ctx = context.Background()

		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.URL.Path == "/alice" && r.URL.Query().Get("f") == "":
				io.WriteString(w, profilePage)
			case r.URL.Path == "/alice/search" && r.URL.Query().Get("cursor") == "page2":
				fmt.Fprint(w, searchPageTwo)
			case r.URL.Path == "/alice/search":
				fmt.Fprint(w, searchPageOne)
			case r.URL.Path == "/i/status/100":
				fmt.Fprint(w, "<html><body>tweet</body></html>")
			case r.URL.Path == "/i/status/666":
				w.WriteHeader(http.StatusNotFound)
				fmt.Fprint(w, "<html><body>Tweet not found</body></html>")
			case r.URL.Path == "/i/status/503":
				w.WriteHeader(http.StatusServiceUnavailable)
			default:
				w.WriteHeader(http.StatusNotFound)
				fmt.Fprint(w, notFoundPage)
			}
		}))

		var err error
		source, err = twitter.NewNitterSource(twitter.NitterConfig{
			Instances:         []string{server.URL},
			RequestTimeout:    5 * time.Second,
			RequestsPerSecond: 100,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("LookupProfile", func() {
		It("parses the profile card", func() {
			profile, err := source.LookupProfile(ctx, "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(profile.UserID).To(Equal(int64(42)))
			Expect(profile.Username).To(Equal("alice"))
			Expect(profile.JoinedDate).To(Equal(types.NewDate(2021, 6, 10)))
		})

		It("reports missing profiles", func() {
			_, err := source.LookupProfile(ctx, "ghost")
			Expect(err).To(MatchError(twitter.ErrProfileNotFound))
		})
	})

	Describe("FetchRange", func() {
		It("collects tweets across pagination and enforces the window", func() {
			tweets, err := source.FetchRange(ctx, "alice", types.NewDate(2022, 3, 1), types.NewDate(2022, 4, 1))
			Expect(err).NotTo(HaveOccurred())

			// Tweet 99 from the second page falls outside [from, to).
			Expect(types.TweetIDs(tweets)).To(ConsistOf(int64(100), int64(101), int64(102)))
		})

		It("parses tweet fields", func() {
			tweets, err := source.FetchRange(ctx, "alice", types.NewDate(2022, 3, 1), types.NewDate(2022, 3, 10))
			Expect(err).NotTo(HaveOccurred())
			Expect(tweets).To(HaveLen(2))

			Expect(tweets[0].TweetID).To(Equal(int64(100)))
			Expect(tweets[0].Text).To(Equal("first tweet"))
			Expect(tweets[0].IsReply).To(BeFalse())
			Expect(tweets[0].PublishedOn).To(Equal(time.Date(2022, 3, 2, 11, 48, 0, 0, time.UTC)))

			Expect(tweets[1].TweetID).To(Equal(int64(101)))
			Expect(tweets[1].IsReply).To(BeTrue())
		})
	})

	Describe("Exists", func() {
		It("reports an existing tweet", func() {
			exists, err := source.Exists(ctx, 100, server.URL)
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeTrue())
		})

		It("reports a deleted tweet", func() {
			exists, err := source.Exists(ctx, 666, server.URL)
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeFalse())
		})

		It("treats server errors as errors, not as deletions", func() {
			_, err := source.Exists(ctx, 503, server.URL)
			Expect(err).To(HaveOccurred())
		})
	})
})
