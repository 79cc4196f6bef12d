package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/tweetwatch/scan-worker/api/types"
	"github.com/tweetwatch/scan-worker/internal/scan"
	"github.com/tweetwatch/scan-worker/internal/store"
	"github.com/tweetwatch/scan-worker/internal/taskqueue"
	"github.com/tweetwatch/scan-worker/internal/twitter"
)

// track starts tracking a username and queues its initial scan.
//
// The request body should contain a TrackRequest. On success the response is a
// TrackResponse with the resolved profile and the number of queued tasks.
// Tracking an already tracked profile is harmless and queues nothing new.
func track(scheduler *scan.Scheduler) func(c echo.Context) error {
	return func(c echo.Context) error {
		req := types.TrackRequest{}
		if err := c.Bind(&req); err != nil {
			return err
		}

		username := strings.TrimPrefix(strings.TrimSpace(req.Username), "@")
		if username == "" {
			return c.JSON(http.StatusBadRequest, types.APIError{Error: "username is required"})
		}

		profile, created, err := scheduler.TrackProfile(c.Request().Context(), username)
		if errors.Is(err, twitter.ErrProfileNotFound) {
			return c.JSON(http.StatusNotFound, types.APIError{Error: "profile not found: " + username})
		}
		if err != nil {
			logrus.WithError(err).Errorf("Failed to track @%s", username)
			return c.JSON(http.StatusInternalServerError, types.APIError{Error: err.Error()})
		}

		return c.JSON(http.StatusOK, types.TrackResponse{Profile: profile, TasksCreated: created})
	}
}

// getProfile returns the stored state of a tracked profile.
func getProfile(st *store.Store) func(c echo.Context) error {
	return func(c echo.Context) error {
		profile, err := st.GetProfileByUsername(c.Request().Context(), c.Param("username"))
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, types.APIError{Error: "profile not tracked"})
		}
		if err != nil {
			return c.JSON(http.StatusInternalServerError, types.APIError{Error: err.Error()})
		}
		return c.JSON(http.StatusOK, profile)
	}
}

// deletedTweets returns every tweet of a profile with a confirmed deletion.
func deletedTweets(st *store.Store) func(c echo.Context) error {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		profile, err := st.GetProfileByUsername(ctx, c.Param("username"))
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, types.APIError{Error: "profile not tracked"})
		}
		if err != nil {
			return c.JSON(http.StatusInternalServerError, types.APIError{Error: err.Error()})
		}

		tweets, err := st.GetDeletedTweets(ctx, profile.UserID)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, types.APIError{Error: err.Error()})
		}
		if tweets == nil {
			tweets = []types.Tweet{}
		}
		return c.JSON(http.StatusOK, tweets)
	}
}

// rescan queues a manual rescan of a profile. With ?since_beginning=true the
// rescan covers the whole timeline instead of starting at the checkpoint.
func rescan(st *store.Store, scheduler *scan.Scheduler) func(c echo.Context) error {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		profile, err := st.GetProfileByUsername(ctx, c.Param("username"))
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, types.APIError{Error: "profile not tracked"})
		}
		if err != nil {
			return c.JSON(http.StatusInternalServerError, types.APIError{Error: err.Error()})
		}

		sinceBeginning := c.QueryParam("since_beginning") == "true"
		created, err := scheduler.ScheduleRescan(ctx, profile, sinceBeginning)
		if err != nil {
			logrus.WithError(err).Errorf("Failed to schedule rescan of @%s", profile.Username)
			return c.JSON(http.StatusInternalServerError, types.APIError{Error: err.Error()})
		}

		return c.JSON(http.StatusOK, types.RescanResponse{Profile: profile, TasksCreated: created})
	}
}

// queueStats returns the pending task count per task type.
//
// GET /queue/stats
//
// Useful for monitoring queue depth and verifying that scheduling works.
func queueStats(queue *taskqueue.Queue) func(c echo.Context) error {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		stats := map[string]interface{}{}
		for _, taskType := range []string{
			types.TaskTypeInitialScan,
			types.TaskTypeRescan,
			types.TaskTypeArchiveTweet,
		} {
			count, err := queue.CountPending(ctx, taskType)
			if err != nil {
				return c.JSON(http.StatusInternalServerError, types.APIError{Error: err.Error()})
			}
			stats[taskType] = count
		}

		return c.JSON(http.StatusOK, stats)
	}
}
