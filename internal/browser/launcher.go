package browser

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/dgnsrekt/har_capturer/internal/cdp"
)

// Config holds browser launch configuration.
type Config struct {
	CDPAddress string
	CDPPort    int
	ProfileDir string
	Headless   bool
	// ExecPath overrides chromedp's browser lookup.
	ExecPath   string
	WindowSize string
}

// Launcher manages the lifecycle of a browser process started through a
// chromedp exec allocator.
type Launcher struct {
	cfg          Config
	cancelAlloc  context.CancelFunc
	cancelBrowse context.CancelFunc
	running      bool
	readyTimeout time.Duration
}

// NewLauncher creates a new browser launcher with the given config.
func NewLauncher(cfg Config) *Launcher {
	if cfg.WindowSize == "" {
		cfg.WindowSize = "1920,1080"
	}
	if cfg.CDPAddress == "" {
		cfg.CDPAddress = "127.0.0.1"
	}
	return &Launcher{cfg: cfg, readyTimeout: 15 * time.Second}
}

// flags are the command line switches passed to the browser. The
// benchmarking extension backs the cache and connection cleanup run before
// every page.
func (l *Launcher) flags() map[string]any {
	f := map[string]any{
		"remote-debugging-port":    strconv.Itoa(l.cfg.CDPPort),
		"remote-debugging-address": l.cfg.CDPAddress,
		"enable-benchmarking":      true,
		"enable-net-benchmarking":  true,
		"headless":                 l.cfg.Headless,
		"no-first-run":             true,
		"disable-dev-shm-usage":    true,
		"disable-breakpad":         true,
		"window-size":              l.cfg.WindowSize,
	}
	if l.cfg.ProfileDir != "" {
		f["user-data-dir"] = l.cfg.ProfileDir
	}
	return f
}

func (l *Launcher) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	for name, value := range l.flags() {
		opts = append(opts, chromedp.Flag(name, value))
	}
	if l.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.cfg.ExecPath))
	}
	return opts
}

// isPortInUse checks whether a TCP port is already listening.
func isPortInUse(address string, port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(address, strconv.Itoa(port)), time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Launch starts the browser unless the CDP port is already in use, then
// waits until the DevTools HTTP endpoint answers.
func (l *Launcher) Launch(ctx context.Context) error {
	if isPortInUse(l.cfg.CDPAddress, l.cfg.CDPPort) {
		slog.Info("browser already running, skipping launch",
			"address", l.cfg.CDPAddress, "port", l.cfg.CDPPort)
		return nil
	}

	if l.cfg.ProfileDir != "" {
		if err := os.MkdirAll(l.cfg.ProfileDir, 0o755); err != nil {
			return fmt.Errorf("create profile dir: %w", err)
		}
	}

	// The browser lives as long as the allocator context, not the caller's.
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), l.allocatorOptions()...)
	browserCtx, cancelBrowse := chromedp.NewContext(allocCtx)
	l.cancelAlloc = cancelAlloc
	l.cancelBrowse = cancelBrowse

	if err := chromedp.Run(browserCtx); err != nil {
		l.Stop()
		return fmt.Errorf("start browser: %w", err)
	}
	l.running = true
	slog.Info("browser process started", "headless", l.cfg.Headless)

	if err := l.waitForCDP(ctx); err != nil {
		l.Stop()
		return fmt.Errorf("waiting for CDP: %w", err)
	}
	slog.Info("CDP endpoint ready",
		"address", l.cfg.CDPAddress, "port", l.cfg.CDPPort)

	return nil
}

// waitForCDP polls /json/version until it responds.
func (l *Launcher) waitForCDP(ctx context.Context) error {
	base := "http://" + net.JoinHostPort(l.cfg.CDPAddress, strconv.Itoa(l.cfg.CDPPort))
	deadline := time.After(l.readyTimeout)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("CDP did not become ready within %s at %s", l.readyTimeout, base)
		case <-ticker.C:
			probe, cancel := context.WithTimeout(ctx, time.Second)
			v, err := cdp.Version(probe, base)
			cancel()
			if err != nil {
				continue
			}
			slog.Debug("browser version", "browser", v.Browser, "protocol", v.ProtocolVersion)
			return nil
		}
	}
}

// Running reports whether this launcher spawned a browser process.
func (l *Launcher) Running() bool {
	return l.running
}

// Stop closes the browser. chromedp waits for the process to exit when the
// allocator context is cancelled.
func (l *Launcher) Stop() {
	if l.cancelBrowse == nil {
		return
	}
	slog.Info("stopping browser")
	l.cancelBrowse()
	l.cancelAlloc()
	l.cancelBrowse = nil
	l.cancelAlloc = nil
	l.running = false
	slog.Info("browser stopped")
}
