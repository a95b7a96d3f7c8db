package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the settings shared by the capture CLI and server.
type Config struct {
	// CDP connection settings
	CDPAddress string
	CDPPort    int

	// Capture behavior
	FetchBodies      bool
	PreserveCache    bool
	Screenshot       bool
	MaxBodyBytes     int
	CaptureTimeoutMS int

	// Local browser
	LaunchBrowser     bool
	BrowserProfileDir string
	BrowserHeadless   bool

	// Output
	LogLevel    string
	LogFile     string
	RawLogFile  string
	SnapshotDir string
	NotifyURL   string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:        getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:           getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9222),
		FetchBodies:       getEnvBoolOrDefault("HAR_FETCH_BODIES", false),
		PreserveCache:     getEnvBoolOrDefault("HAR_PRESERVE_CACHE", false),
		Screenshot:        getEnvBoolOrDefault("HAR_SCREENSHOT", false),
		MaxBodyBytes:      getEnvIntOrDefault("HAR_MAX_BODY_BYTES", 0),
		CaptureTimeoutMS:  getEnvIntOrDefault("HAR_CAPTURE_TIMEOUT_MS", 0),
		LaunchBrowser:     getEnvBoolOrDefault("HAR_LAUNCH_BROWSER", false),
		BrowserProfileDir: getEnvOrDefault("HAR_BROWSER_PROFILE_DIR", ""),
		BrowserHeadless:   getEnvBoolOrDefault("HAR_BROWSER_HEADLESS", true),
		LogLevel:          strings.ToLower(getEnvOrDefault("HAR_LOG_LEVEL", "info")),
		LogFile:           getEnvOrDefault("HAR_LOG_FILE", "logs/har_capturer.log"),
		RawLogFile:        getEnvOrDefault("HAR_RAW_LOG_FILE", ""),
		SnapshotDir:       getEnvOrDefault("HAR_SNAPSHOT_DIR", "./snapshots"),
		NotifyURL:         getEnvOrDefault("HAR_NOTIFY_URL", ""),
	}
	if cfg.MaxBodyBytes < 0 {
		cfg.MaxBodyBytes = 0
	}
	if cfg.CaptureTimeoutMS < 0 {
		cfg.CaptureTimeoutMS = 0
	}

	return cfg, nil
}

// GetCDPURL returns the browser's DevTools HTTP endpoint.
func (c *Config) GetCDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}

// CaptureTimeout is zero when no watchdog is configured.
func (c *Config) CaptureTimeout() time.Duration {
	return time.Duration(c.CaptureTimeoutMS) * time.Millisecond
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
