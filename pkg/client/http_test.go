package client_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tweetwatch/scan-worker/api/types"
	. "github.com/tweetwatch/scan-worker/pkg/client"
)

var _ = Describe("Client", func() {
	var (
		mockServer *httptest.Server
		lastAuth   string
	)

	BeforeEach(func() {
		mockServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lastAuth = r.Header.Get("Authorization")

			switch {
			case r.URL.Path == "/profile" && r.Method == http.MethodPost:
				var req types.TrackRequest
				Expect(json.NewDecoder(r.Body).Decode(&req)).To(Succeed())
				json.NewEncoder(w).Encode(types.TrackResponse{
					Profile:      types.Profile{UserID: 42, Username: req.Username},
					TasksCreated: 7,
				})
			case r.URL.Path == "/profile/alice" && r.Method == http.MethodGet:
				json.NewEncoder(w).Encode(types.Profile{UserID: 42, Username: "alice"})
			case r.URL.Path == "/profile/alice/deleted" && r.Method == http.MethodGet:
				json.NewEncoder(w).Encode([]types.Tweet{{TweetID: 100, Text: "gone"}})
			case r.URL.Path == "/profile/alice/rescan" && r.Method == http.MethodPost:
				json.NewEncoder(w).Encode(types.RescanResponse{TasksCreated: 3})
			case r.URL.Path == "/queue/stats" && r.Method == http.MethodGet:
				json.NewEncoder(w).Encode(map[string]int64{types.TaskTypeRescan: 3})
			default:
				w.WriteHeader(http.StatusNotFound)
				json.NewEncoder(w).Encode(types.APIError{Error: "profile not tracked"})
			}
		}))
	})

	AfterEach(func() {
		mockServer.Close()
	})

	It("tracks a profile and sends the API key", func() {
		c, err := NewClient(mockServer.URL, APIKey("secret"))
		Expect(err).NotTo(HaveOccurred())

		resp, err := c.TrackProfile("alice")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Profile.UserID).To(Equal(int64(42)))
		Expect(resp.TasksCreated).To(Equal(7))
		Expect(lastAuth).To(Equal("Bearer secret"))
	})

	It("fetches a profile", func() {
		c, err := NewClient(mockServer.URL)
		Expect(err).NotTo(HaveOccurred())

		profile, err := c.GetProfile("alice")
		Expect(err).NotTo(HaveOccurred())
		Expect(profile.Username).To(Equal("alice"))
	})

	It("fetches deleted tweets", func() {
		c, err := NewClient(mockServer.URL)
		Expect(err).NotTo(HaveOccurred())

		tweets, err := c.GetDeletedTweets("alice")
		Expect(err).NotTo(HaveOccurred())
		Expect(tweets).To(HaveLen(1))
		Expect(tweets[0].TweetID).To(Equal(int64(100)))
	})

	It("queues a rescan", func() {
		c, err := NewClient(mockServer.URL)
		Expect(err).NotTo(HaveOccurred())

		resp, err := c.Rescan("alice", true)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.TasksCreated).To(Equal(3))
	})

	It("reads queue stats", func() {
		c, err := NewClient(mockServer.URL)
		Expect(err).NotTo(HaveOccurred())

		stats, err := c.QueueStats()
		Expect(err).NotTo(HaveOccurred())
		Expect(stats[types.TaskTypeRescan]).To(Equal(int64(3)))
	})

	It("surfaces API errors", func() {
		c, err := NewClient(mockServer.URL)
		Expect(err).NotTo(HaveOccurred())

		_, err = c.GetProfile("ghost")
		Expect(err).To(MatchError(ContainSubstring("profile not tracked")))
	})
})
