package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const defaultDataDir = "/var/lib/scan-worker"
const defaultListenAddress = ":8080"

// JobConfiguration carries every runtime setting. Components pull the keys
// they need through the typed getters.
type JobConfiguration map[string]any

// ReadConfig loads the configuration from the environment, optionally layered
// with a .env file in the data directory.
func ReadConfig() JobConfiguration {
	jc := JobConfiguration{}

	level := ParseLogLevel(os.Getenv("LOG_LEVEL"))
	jc["log_level"] = level.String()
	SetLogLevel(level)

	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = defaultDataDir
	}
	jc["data_dir"] = dataDir

	// The env file is optional; plain environment variables are enough.
	if err := godotenv.Load(filepath.Join(dataDir, ".env")); err != nil {
		logrus.Debugf("No env file loaded from %s: %v", dataDir, err)
	}

	listenAddress := os.Getenv("LISTEN_ADDRESS")
	if listenAddress == "" {
		listenAddress = defaultListenAddress
	}
	jc["listen_address"] = listenAddress

	apiKey := os.Getenv("API_KEY")
	if apiKey != "" {
		jc["api_key"] = apiKey
	}

	nitterInstances := os.Getenv("NITTER_INSTANCES")
	if nitterInstances != "" {
		instances := strings.Split(nitterInstances, ",")
		for i, u := range instances {
			instances[i] = strings.TrimRight(strings.TrimSpace(u), "/")
		}
		jc["nitter_instances"] = instances
	} else {
		jc["nitter_instances"] = []string{"https://nitter.net"}
	}

	jc["nitter_timeout"] = envDuration("NITTER_TIMEOUT_SECONDS", 30)
	jc["nitter_requests_per_second"] = envInt("NITTER_REQUESTS_PER_SECOND", 2)

	jc["scan_workers"] = envInt("SCAN_WORKERS", 4)
	jc["archive_workers"] = envInt("ARCHIVE_WORKERS", 2)
	jc["verify_concurrency"] = envInt("VERIFY_CONCURRENCY", 4)
	jc["defer_concurrency"] = envInt("DEFER_CONCURRENCY", 5)

	jc["queue_poll_interval"] = envDuration("QUEUE_POLL_INTERVAL_SECONDS", 2)
	jc["queue_lease_duration"] = envDuration("QUEUE_LEASE_SECONDS", 300)
	jc["queue_max_attempts"] = envInt("QUEUE_MAX_ATTEMPTS", 0)

	jc["rescan_period"] = envDuration("RESCAN_PERIOD_SECONDS", 24*60*60)
	jc["save_task_audit"] = os.Getenv("SAVE_TASK_AUDIT") == "true"
	jc["archive_enabled_default"] = os.Getenv("ARCHIVE_DISABLED_DEFAULT") != "true"

	jc["profiling_enabled"] = os.Getenv("ENABLE_PPROF") == "true"

	return jc
}

func envInt(name string, def int) int {
	s := os.Getenv(name)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		logrus.Errorf("Error parsing %s: %s. Setting to default.", name, err)
		return def
	}
	return v
}

func envDuration(name string, defSecs int) time.Duration {
	return time.Duration(envInt(name, defSecs)) * time.Second
}

func (jc JobConfiguration) DataDir() string {
	return jc.GetString("data_dir", defaultDataDir)
}

func (jc JobConfiguration) ListenAddress() string {
	return jc.GetString("listen_address", defaultListenAddress)
}

// GetInt safely extracts an int from JobConfiguration, with a default fallback
func (jc JobConfiguration) GetInt(key string, def int) int {
	if v, ok := jc[key]; ok {
		switch val := v.(type) {
		case int:
			return val
		case int64:
			return int(val)
		case float64:
			return int(val)
		}
	}
	return def
}

func (jc JobConfiguration) GetDuration(key string, defSecs int) time.Duration {
	if v, ok := jc[key]; ok {
		if val, ok := v.(time.Duration); ok {
			return val
		}
	}
	return time.Duration(defSecs) * time.Second
}

func (jc JobConfiguration) GetString(key string, def string) string {
	if v, ok := jc[key]; ok {
		if val, ok := v.(string); ok {
			return val
		}
	}
	return def
}

// GetStringSlice safely extracts a string slice from JobConfiguration, with a default fallback
func (jc JobConfiguration) GetStringSlice(key string, def []string) []string {
	if v, ok := jc[key]; ok {
		if val, ok := v.([]string); ok {
			return val
		}
	}
	return def
}

// GetBool safely extracts a bool from JobConfiguration, with a default fallback
func (jc JobConfiguration) GetBool(key string, def bool) bool {
	if v, ok := jc[key]; ok {
		if val, ok := v.(bool); ok {
			return val
		}
	}
	return def
}

// ParseLogLevel parses a string and returns the corresponding logrus.Level.
func ParseLogLevel(logLevel string) logrus.Level {
	switch strings.ToLower(logLevel) {
	case "debug":
		return logrus.DebugLevel
	case "info", "":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		logrus.Errorf("Invalid log level %q, setting to %s", logLevel, logrus.InfoLevel)
		return logrus.InfoLevel
	}
}

// SetLogLevel sets the log level for the application.
func SetLogLevel(level logrus.Level) {
	logrus.SetLevel(level)
}
