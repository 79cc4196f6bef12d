package api

import (
	"context"
	"fmt"
	"net/http"
	"runtime"

	"github.com/labstack/echo-contrib/pprof"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/sirupsen/logrus"

	"github.com/tweetwatch/scan-worker/internal/config"
	"github.com/tweetwatch/scan-worker/internal/scan"
	"github.com/tweetwatch/scan-worker/internal/store"
	"github.com/tweetwatch/scan-worker/internal/taskqueue"
)

// Start runs the HTTP API until ctx is cancelled.
func Start(ctx context.Context, cfg config.JobConfiguration, st *store.Store, queue *taskqueue.Queue, scheduler *scan.Scheduler) error {
	// Echo instance
	e := echo.New()
	e.HideBanner = true

	switch config.ParseLogLevel(cfg.GetString("log_level", "info")) {
	case logrus.DebugLevel:
		e.Logger.SetLevel(log.DEBUG)
	case logrus.WarnLevel:
		e.Logger.SetLevel(log.WARN)
	case logrus.ErrorLevel:
		e.Logger.SetLevel(log.ERROR)
	default:
		e.Logger.SetLevel(log.INFO)
	}

	// Initialize health metrics
	healthMetrics := NewHealthMetrics()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	// API Key Authentication Middleware
	e.Use(APIKeyAuthMiddleware(cfg))

	// Health metrics tracking middleware
	e.Use(HealthMetricsMiddleware(healthMetrics))

	// Health check endpoints (no auth required)
	e.GET(HealthCheckPath, Healthz())
	e.GET(ReadinessCheckPath, Readyz(st, healthMetrics))

	// Set up profiling if allowed
	if cfg.GetBool("profiling_enabled", false) {
		enableProfiling(e)
	}

	debug := e.Group("/debug/pprof")
	debug.POST("/enable", func(c echo.Context) error {
		enableProfiling(e)
		return c.String(http.StatusOK, "pprof enabled")
	})
	debug.POST("/disable", func(c echo.Context) error {
		disableProfiling(e)
		return c.String(http.StatusOK, "pprof disabled")
	})

	/*
		- POST /profile: Start tracking a username and queue its initial scan
		- GET /profile/:username: Get the stored state of a tracked profile
		- GET /profile/:username/deleted: List the confirmed deleted tweets
		- POST /profile/:username/rescan: Queue a manual rescan
		- GET /queue/stats: Pending task count per task type
	*/
	e.POST("/profile", track(scheduler))
	e.GET("/profile/:username", getProfile(st))
	e.GET("/profile/:username/deleted", deletedTweets(st))
	e.POST("/profile/:username/rescan", rescan(st, scheduler))
	e.GET("/queue/stats", queueStats(queue))

	go func() {
		<-ctx.Done()
		if err := e.Close(); err != nil {
			e.Logger.Error("Failed to close Echo server: ", err)
		}
	}()

	listenAddress := cfg.ListenAddress()
	e.Logger.Info(fmt.Sprintf("Starting server on %s", listenAddress))
	if err := e.Start(listenAddress); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// enableProfiling enables pprof profiling
func enableProfiling(e *echo.Echo) {
	e.Logger.Info("Enabling profiling - this may impact performance")

	// Sample time in nanoseconds, see https://github.com/DataDog/go-profiler-notes/blob/main/block.md#usage
	runtime.SetBlockProfileRate(500)
	// Fraction of contention events that are reported https://gist.github.com/andrewhodel/ed7625a14eb87404cafd37493849d1ba
	runtime.SetMutexProfileFraction(1)
	// CPU profiling rate samples per second https://gist.github.com/andrewhodel/ed7625a14eb87404cafd37493849d1ba
	runtime.SetCPUProfileRate(30)

	pprof.Register(e)
}

func disableProfiling(e *echo.Echo) {
	e.Logger.Info("Disabling performance-intensive profiling probes")

	runtime.SetBlockProfileRate(0)
	runtime.SetMutexProfileFraction(0)
	runtime.SetCPUProfileRate(0)

	// TODO: The endpoints remain registered, but the most resource-intensive profiling data collection is disabled. Figure out how to completely unregister (and ideally disable stats gathering)
}
