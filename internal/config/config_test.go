package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"CHROMIUM_CDP_ADDRESS", "CHROMIUM_CDP_PORT", "HAR_FETCH_BODIES", "HAR_LOG_LEVEL", "HAR_LOG_FILE", "HAR_CAPTURE_TIMEOUT_MS", "HAR_MAX_BODY_BYTES"} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.GetCDPURL(); got != "http://127.0.0.1:9222" {
		t.Fatalf("GetCDPURL() = %q; want http://127.0.0.1:9222", got)
	}
	if cfg.FetchBodies || cfg.PreserveCache || cfg.Screenshot {
		t.Fatalf("capture flags default on: %+v", cfg)
	}
	if cfg.LogLevel != "info" || cfg.CaptureTimeout() != 0 {
		t.Fatalf("LogLevel = %q CaptureTimeout = %v", cfg.LogLevel, cfg.CaptureTimeout())
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CHROMIUM_CDP_ADDRESS", "10.0.0.2")
	t.Setenv("CHROMIUM_CDP_PORT", "9333")
	t.Setenv("HAR_FETCH_BODIES", "true")
	t.Setenv("HAR_PRESERVE_CACHE", "1")
	t.Setenv("HAR_LOG_LEVEL", "DEBUG")
	t.Setenv("HAR_CAPTURE_TIMEOUT_MS", "1500")
	t.Setenv("HAR_MAX_BODY_BYTES", "-4")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.GetCDPURL(); got != "http://10.0.0.2:9333" {
		t.Fatalf("GetCDPURL() = %q", got)
	}
	if !cfg.FetchBodies || !cfg.PreserveCache {
		t.Fatalf("FetchBodies=%v PreserveCache=%v; want true", cfg.FetchBodies, cfg.PreserveCache)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("LogLevel = %q; want debug", cfg.LogLevel)
	}
	if cfg.CaptureTimeout() != 1500*time.Millisecond {
		t.Fatalf("CaptureTimeout() = %v", cfg.CaptureTimeout())
	}
	if cfg.MaxBodyBytes != 0 {
		t.Fatalf("MaxBodyBytes = %d; want 0 for negative input", cfg.MaxBodyBytes)
	}
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("CHROMIUM_CDP_PORT", "ninety")
	t.Setenv("HAR_SCREENSHOT", "maybe")

	cfg, _ := Load()
	if cfg.CDPPort != 9222 || cfg.Screenshot {
		t.Fatalf("CDPPort=%d Screenshot=%v; want defaults", cfg.CDPPort, cfg.Screenshot)
	}
}

func TestLoadServer(t *testing.T) {
	t.Setenv("HAR_LOG_FILE", "")
	t.Setenv("HAR_SERVER_BIND_ADDR", "0.0.0.0:9000")

	cfg, err := LoadServer()
	if err != nil {
		t.Fatalf("LoadServer() error = %v", err)
	}
	if cfg.BindAddr != "0.0.0.0:9000" || !cfg.PortFallback {
		t.Fatalf("BindAddr=%q PortFallback=%v", cfg.BindAddr, cfg.PortFallback)
	}
	if cfg.LogFile != "logs/har_server.log" {
		t.Fatalf("LogFile = %q", cfg.LogFile)
	}
	if cfg.GetCDPURL() == "" {
		t.Fatalf("embedded Config not populated")
	}
}
