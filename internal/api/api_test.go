package api_test

import (
	"context"
	"fmt"
	"net"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tweetwatch/scan-worker/api/types"
	. "github.com/tweetwatch/scan-worker/internal/api"
	"github.com/tweetwatch/scan-worker/internal/config"
	"github.com/tweetwatch/scan-worker/internal/scan"
	"github.com/tweetwatch/scan-worker/internal/store"
	"github.com/tweetwatch/scan-worker/internal/taskqueue"
	"github.com/tweetwatch/scan-worker/internal/twitter"
	"github.com/tweetwatch/scan-worker/pkg/client"
)

// staticSource serves a fixed set of profiles with empty timelines.
type staticSource struct {
	profiles map[string]types.Profile
}

func (s *staticSource) LookupProfile(_ context.Context, username string) (types.Profile, error) {
	p, ok := s.profiles[username]
	if !ok {
		return types.Profile{}, fmt.Errorf("%s: %w", username, twitter.ErrProfileNotFound)
	}
	return p, nil
}

func (s *staticSource) FetchRange(context.Context, string, types.Date, types.Date) ([]types.Tweet, error) {
	return nil, nil
}

func (s *staticSource) Exists(context.Context, int64, string) (bool, error) {
	return false, nil
}

func (s *staticSource) Instances() []string {
	return []string{"https://mirror.test"}
}

var _ = Describe("API", func() {
	var (
		clientInstance *client.Client
		ctx            context.Context
		cancel         context.CancelFunc
		st             *store.Store
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())

		var err error
		st, err = store.Open(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())

		queue, err := taskqueue.New(st.DB, taskqueue.Options{}, nil)
		Expect(err).NotTo(HaveOccurred())

		source := &staticSource{profiles: map[string]types.Profile{
			"alice": {UserID: 42, Username: "alice", JoinedDate: types.NewDate(2025, 1, 10)},
		}}
		scheduler := scan.NewScheduler(st, queue, source, 5, true)

		// Grab a free port so parallel suites do not collide.
		l, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		listenAddress := l.Addr().String()
		Expect(l.Close()).To(Succeed())

		cfg := config.JobConfiguration{"listen_address": listenAddress}
		go Start(ctx, cfg, st, queue, scheduler)

		// Wait for the server to start
		Eventually(func() error {
			conn, err := net.DialTimeout("tcp", listenAddress, 100*time.Millisecond)
			if err == nil {
				conn.Close()
			}
			return err
		}, 5*time.Second, 100*time.Millisecond).Should(Succeed())

		clientInstance, err = client.NewClient("http://" + listenAddress)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		cancel()
		st.Close()
	})

	It("tracks a profile and exposes its state", func() {
		resp, err := clientInstance.TrackProfile("alice")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Profile.UserID).To(Equal(int64(42)))
		Expect(resp.TasksCreated).To(BeNumerically(">", 0))

		profile, err := clientInstance.GetProfile("alice")
		Expect(err).NotTo(HaveOccurred())
		Expect(profile.Enabled).To(BeTrue())
		Expect(profile.LastScanDate).NotTo(BeNil())

		stats, err := clientInstance.QueueStats()
		Expect(err).NotTo(HaveOccurred())
		Expect(stats[types.TaskTypeInitialScan]).To(Equal(int64(resp.TasksCreated)))
	})

	It("rejects unknown usernames", func() {
		_, err := clientInstance.TrackProfile("nobody")
		Expect(err).To(MatchError(ContainSubstring("profile not found")))
	})

	It("returns 404 for untracked profiles", func() {
		_, err := clientInstance.GetProfile("untracked")
		Expect(err).To(MatchError(ContainSubstring("profile not tracked")))
	})

	It("queues a manual rescan for a tracked profile", func() {
		_, err := clientInstance.TrackProfile("alice")
		Expect(err).NotTo(HaveOccurred())

		resp, err := clientInstance.Rescan("alice", true)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.TasksCreated).To(BeNumerically(">", 0))
	})

	It("starts with no deleted tweets", func() {
		_, err := clientInstance.TrackProfile("alice")
		Expect(err).NotTo(HaveOccurred())

		tweets, err := clientInstance.GetDeletedTweets("alice")
		Expect(err).NotTo(HaveOccurred())
		Expect(tweets).To(BeEmpty())
	})
})
