package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dgnsrekt/har_capturer/internal/api"
	"github.com/dgnsrekt/har_capturer/internal/browser"
	"github.com/dgnsrekt/har_capturer/internal/config"
	"github.com/dgnsrekt/har_capturer/internal/controller"
	"github.com/dgnsrekt/har_capturer/internal/netutil"
	"github.com/dgnsrekt/har_capturer/internal/relay"
	"github.com/dgnsrekt/har_capturer/internal/snapshot"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		slog.Error("failed to load server config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}

	slog.Info("har_server config loaded",
		"bind_addr", cfg.BindAddr,
		"cdp_url", cfg.GetCDPURL(),
		"fetch_bodies", cfg.FetchBodies,
		"preserve_cache", cfg.PreserveCache,
		"capture_timeout_ms", cfg.CaptureTimeoutMS,
		"port_fallback", cfg.PortFallback,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
		"snapshot_dir", cfg.SnapshotDir,
	)

	candidates, err := netutil.NextPorts(cfg.BindAddr, 10)
	if err != nil {
		slog.Error("invalid bind address", "bind_addr", cfg.BindAddr, "error", err)
		os.Exit(1)
	}
	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, candidates, cfg.PortFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.LaunchBrowser {
		l := browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			ProfileDir: cfg.BrowserProfileDir,
			Headless:   cfg.BrowserHeadless,
		})
		if err := l.Launch(ctx); err != nil {
			slog.Error("failed to launch browser", "error", err)
			os.Exit(1)
		}
		defer l.Stop()
	}

	snapStore, err := snapshot.NewStore(cfg.SnapshotDir)
	if err != nil {
		slog.Error("failed to create snapshot store", "dir", cfg.SnapshotDir, "error", err)
		os.Exit(1)
	}

	broker := relay.NewBroker()
	svc := controller.NewService(cfg.GetCDPURL(), snapStore, broker, controller.Defaults{
		FetchBodies:   cfg.FetchBodies,
		PreserveCache: cfg.PreserveCache,
		Screenshot:    cfg.Screenshot,
		MaxBodyBytes:  cfg.MaxBodyBytes,
		Timeout:       cfg.CaptureTimeout(),
	})
	h := api.NewServer(svc, broker)

	srv := &http.Server{Addr: bindAddr, Handler: h, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("har_server listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("har_server failed", "error", err)
		stop()
		os.Exit(1)
	}
	slog.Info("har_server stopped")
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
