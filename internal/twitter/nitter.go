package twitter

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gocolly/colly"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/tweetwatch/scan-worker/api/types"
)

const (
	// Date format used inside tweet timestamps on nitter pages,
	// e.g. "Feb 18, 2022 · 11:48 AM UTC".
	nitterTweetDateLayout = "Jan 2, 2006 · 3:04 PM UTC"
	// Date format of the profile join date title, e.g. "2:32 PM - 10 Jun 2021".
	nitterJoinDateLayout = "3:04 PM - 2 Jan 2006"

	tweetNotFoundMarker = "Tweet not found"
)

type NitterConfig struct {
	Instances         []string
	RequestTimeout    time.Duration
	RequestsPerSecond int
}

// NitterSource scrapes nitter mirror instances. Fetches pick a random
// instance; existence checks target a caller-chosen instance so candidates can
// be verified against every mirror.
type NitterSource struct {
	instances []string
	timeout   time.Duration
	rps       int
	client    *http.Client

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewNitterSource(cfg NitterConfig) (*NitterSource, error) {
	if len(cfg.Instances) == 0 {
		return nil, fmt.Errorf("no nitter instances configured")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 2
	}
	return &NitterSource{
		instances: cfg.Instances,
		timeout:   cfg.RequestTimeout,
		rps:       cfg.RequestsPerSecond,
		client:    &http.Client{Timeout: cfg.RequestTimeout},
		limiters:  make(map[string]*rate.Limiter),
	}, nil
}

func (n *NitterSource) Instances() []string {
	return n.instances
}

func (n *NitterSource) pickInstance() string {
	return n.instances[rand.Intn(len(n.instances))]
}

// limiter returns the per-instance rate limiter, creating it on first use.
func (n *NitterSource) limiter(instance string) *rate.Limiter {
	n.mu.Lock()
	defer n.mu.Unlock()
	l, ok := n.limiters[instance]
	if !ok {
		l = rate.NewLimiter(rate.Limit(n.rps), n.rps)
		n.limiters[instance] = l
	}
	return l
}

// LookupProfile scrapes the profile page of username on a random instance.
func (n *NitterSource) LookupProfile(ctx context.Context, username string) (types.Profile, error) {
	instance := n.pickInstance()

	var (
		profile  types.Profile
		notFound bool
		parseErr error
	)

	c := n.newCollector(ctx, instance)

	c.OnHTML(".error-panel", func(e *colly.HTMLElement) {
		notFound = true
	})
	c.OnError(func(r *colly.Response, err error) {
		if r.StatusCode == http.StatusNotFound {
			notFound = true
		}
	})

	c.OnHTML(".profile-card", func(e *colly.HTMLElement) {
		profile.Username = strings.TrimPrefix(strings.TrimSpace(e.ChildText(".profile-card-username")), "@")

		joined := e.ChildAttr(".profile-joindate span", "title")
		t, err := time.Parse(nitterJoinDateLayout, joined)
		if err != nil {
			parseErr = fmt.Errorf("unparseable join date %q on %s: %w", joined, instance, err)
			return
		}
		profile.JoinedDate = types.DateOf(t)

		// The numeric user id only appears in the banner media URL.
		banner := e.ChildAttr(".profile-banner a", "href")
		id, err := userIDFromBannerURL(banner)
		if err != nil {
			parseErr = fmt.Errorf("cannot resolve user id for %s on %s: %w", username, instance, err)
			return
		}
		profile.UserID = id
	})

	err := c.Visit(instance + "/" + url.PathEscape(username))
	c.Wait()
	if notFound {
		return types.Profile{}, fmt.Errorf("%s: %w", username, ErrProfileNotFound)
	}
	if err != nil {
		return types.Profile{}, fmt.Errorf("failed to fetch profile %s from %s: %w", username, instance, err)
	}
	if parseErr != nil {
		return types.Profile{}, parseErr
	}
	if profile.UserID == 0 {
		return types.Profile{}, fmt.Errorf("no profile card found for %s on %s", username, instance)
	}

	profile.Enabled = true
	profile.ArchiveEnabled = true
	return profile, nil
}

// userIDFromBannerURL extracts the numeric user id from a nitter banner link,
// e.g. /pic/https%3A%2F%2Fpbs.twimg.com%2Fprofile_banners%2F123456%2F1538.
func userIDFromBannerURL(href string) (int64, error) {
	decoded, err := url.QueryUnescape(href)
	if err != nil {
		return 0, err
	}
	const marker = "profile_banners/"
	idx := strings.Index(decoded, marker)
	if idx < 0 {
		return 0, fmt.Errorf("no banner URL in %q", href)
	}
	rest := decoded[idx+len(marker):]
	end := strings.IndexByte(rest, '/')
	if end < 0 {
		end = len(rest)
	}
	return strconv.ParseInt(rest[:end], 10, 64)
}

// FetchRange scrapes the search timeline of username for [fromInc, toExc),
// following "Load more" pagination until the timeline is exhausted.
func (n *NitterSource) FetchRange(ctx context.Context, username string, fromInc, toExc types.Date) ([]types.Tweet, error) {
	instance := n.pickInstance()

	var (
		tweets   []types.Tweet
		notFound bool
	)

	c := n.newCollector(ctx, instance)

	c.OnHTML(".error-panel", func(e *colly.HTMLElement) {
		notFound = true
	})
	c.OnError(func(r *colly.Response, err error) {
		if r.StatusCode == http.StatusNotFound {
			notFound = true
		}
	})

	c.OnHTML(".timeline-item", func(e *colly.HTMLElement) {
		tweet, ok := parseTimelineItem(e)
		if !ok {
			return
		}
		// The search filter is date-granular; enforce the window here.
		if tweet.PublishedOn.Before(fromInc.Time()) || !tweet.PublishedOn.Before(toExc.Time()) {
			return
		}
		tweets = append(tweets, tweet)
	})

	// Bottom pagination link. The top one ("Load newest") has a different class.
	c.OnHTML(".show-more a", func(e *colly.HTMLElement) {
		if strings.TrimSpace(e.Text) != "Load more" {
			return
		}
		if err := e.Request.Visit(e.Attr("href")); err != nil {
			logrus.WithError(err).Debugf("Stopping pagination for %s on %s", username, instance)
		}
	})

	searchURL := fmt.Sprintf(
		"%s/%s/search?f=tweets&e-nativeretweets=on&since=%s&until=%s",
		instance, url.PathEscape(username), fromInc, toExc,
	)
	logrus.Debugf("Fetching tweets for %s in [%s, %s) from %s", username, fromInc, toExc, instance)

	err := c.Visit(searchURL)
	c.Wait()
	if notFound {
		return nil, fmt.Errorf("%s: %w", username, ErrProfileNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tweets for %s from %s: %w", username, instance, err)
	}

	logrus.Debugf("Found %d tweets for %s in [%s, %s)", len(tweets), username, fromInc, toExc)
	return tweets, nil
}

// parseTimelineItem extracts a tweet from one timeline div. Items that do not
// carry the expected structure (ads, tombstones) are skipped.
func parseTimelineItem(e *colly.HTMLElement) (types.Tweet, bool) {
	dateTitle := e.ChildAttr(".tweet-date a", "title")
	if dateTitle == "" {
		return types.Tweet{}, false
	}
	publishedOn, err := time.Parse(nitterTweetDateLayout, dateTitle)
	if err != nil {
		return types.Tweet{}, false
	}

	href := e.ChildAttr("a.tweet-link", "href")
	id, err := tweetIDFromLink(href)
	if err != nil {
		return types.Tweet{}, false
	}

	return types.Tweet{
		TweetID:     id,
		Text:        strings.TrimSpace(e.ChildText(".tweet-content")),
		IsReply:     e.ChildText(".replying-to") != "",
		PublishedOn: publishedOn.UTC(),
	}, true
}

// tweetIDFromLink parses hrefs of the form /{user}/status/{id}#m.
func tweetIDFromLink(href string) (int64, error) {
	const marker = "/status/"
	idx := strings.Index(href, marker)
	if idx < 0 {
		return 0, fmt.Errorf("no status link in %q", href)
	}
	idStr := href[idx+len(marker):]
	if cut := strings.IndexByte(idStr, '#'); cut >= 0 {
		idStr = idStr[:cut]
	}
	return strconv.ParseInt(idStr, 10, 64)
}

// Exists checks whether a tweet is visible on one specific instance. A 404
// carrying the nitter "Tweet not found" marker is a definitive miss for that
// instance; anything else non-2xx is an error, never a miss.
func (n *NitterSource) Exists(ctx context.Context, tweetID int64, instance string) (bool, error) {
	if err := n.limiter(instance).Wait(ctx); err != nil {
		return false, err
	}

	statusURL := fmt.Sprintf("%s/i/status/%d", instance, tweetID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return false, err
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to check tweet %d on %s: %w", tweetID, instance, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false, err
	}

	if resp.StatusCode == http.StatusNotFound && strings.Contains(string(body), tweetNotFoundMarker) {
		logrus.Debugf("Tweet %d not found on %s", tweetID, instance)
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("unexpected status %d checking tweet %d on %s", resp.StatusCode, tweetID, instance)
	}
	return true, nil
}

// newCollector builds a collector wired with the per-instance rate limiter and
// rate-limit-aware retries.
func (n *NitterSource) newCollector(ctx context.Context, instance string) *colly.Collector {
	c := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	c.SetRequestTimeout(n.timeout)

	limiter := n.limiter(instance)
	c.OnRequest(func(r *colly.Request) {
		select {
		case <-ctx.Done():
			r.Abort()
			return
		default:
		}
		if err := limiter.Wait(ctx); err != nil {
			r.Abort()
		}
	})

	backoffStrategy := backoff.NewExponentialBackOff()
	c.OnError(func(r *colly.Response, err error) {
		if r.StatusCode == http.StatusTooManyRequests {
			nextDelay := backoffStrategy.NextBackOff()
			if retryAfter, convErr := strconv.Atoi(r.Headers.Get("Retry-After")); convErr == nil && retryAfter > 0 {
				nextDelay = time.Duration(retryAfter) * time.Second
			}
			logrus.Warnf("Rate limited by %s, retrying after %v", instance, nextDelay)
			time.Sleep(nextDelay)
			_ = r.Request.Retry()
		}
	})

	return c
}
