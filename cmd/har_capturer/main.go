package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/dgnsrekt/har_capturer/internal/browser"
	"github.com/dgnsrekt/har_capturer/internal/cdp"
	"github.com/dgnsrekt/har_capturer/internal/config"
	"github.com/dgnsrekt/har_capturer/internal/notify"
	"github.com/dgnsrekt/har_capturer/internal/session"
	"github.com/dgnsrekt/har_capturer/internal/snapshot"
	"github.com/dgnsrekt/har_capturer/internal/storage"
	"github.com/fatih/color"
	"gopkg.in/natefinch/lumberjack.v2"
)

// CLI defines the command line. Defaults come from the environment.
type CLI struct {
	Host       string        `short:"H" default:"${host}" help:"Remote Debugging Protocol host"`
	Port       int           `short:"p" default:"${port}" help:"Remote Debugging Protocol port"`
	Output     string        `short:"o" help:"Dump to file instead of stdout"`
	Verbose    bool          `short:"v" help:"Enable verbose output on stderr"`
	Messages   bool          `short:"m" help:"Dump raw messages instead of the generated HAR"`
	Cache      bool          `short:"c" default:"${cache}" help:"Keep the browser cache between pages"`
	Bodies     bool          `short:"b" default:"${bodies}" help:"Store response bodies in the HAR"`
	Screenshot bool          `short:"s" default:"${screenshot}" help:"Save a screenshot of each page after its load event"`
	Timeout    time.Duration `default:"${timeout}" help:"Give up after this long (0 waits forever)"`
	Launch     bool          `default:"${launch}" help:"Start a local browser when none listens on the port"`
	RawLog     string        `name:"raw-log" default:"${raw_log}" help:"Append every protocol message to this JSONL file"`

	URLs []string `arg:"" name:"url" help:"Pages to load, in order"`
}

func parseCLI(args []string, cfg *config.Config) (*CLI, error) {
	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("har_capturer"),
		kong.Description("Capture HAR files from a remote Chrome instance"),
		kong.UsageOnError(),
		kong.Vars{
			"host":       cfg.CDPAddress,
			"port":       strconv.Itoa(cfg.CDPPort),
			"cache":      strconv.FormatBool(cfg.PreserveCache),
			"bodies":     strconv.FormatBool(cfg.FetchBodies),
			"screenshot": strconv.FormatBool(cfg.Screenshot),
			"timeout":    cfg.CaptureTimeout().String(),
			"launch":     strconv.FormatBool(cfg.LaunchBrowser),
			"raw_log":    cfg.RawLogFile,
		},
	)
	if err != nil {
		return nil, err
	}
	if _, err := parser.Parse(args); err != nil {
		return nil, err
	}
	return &cli, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	cli, err := parseCLI(os.Args[1:], cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "har_capturer: %v\n", err)
		os.Exit(1)
	}
	if err := setupLogger(cfg.LogLevel, cfg.LogFile, cli.Verbose); err != nil {
		fmt.Fprintf(os.Stderr, "logger setup failed: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cli, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		stop()
		os.Exit(1)
	}
}

// statusPrinter reports page outcomes on stderr; color follows stdout's TTY.
type statusPrinter struct {
	w     io.Writer
	ok    *color.Color
	fail  *color.Color
	pages []notify.PageStatus
}

func newStatusPrinter(w io.Writer) *statusPrinter {
	return &statusPrinter{w: w, ok: color.New(color.FgGreen), fail: color.New(color.FgRed)}
}

func (p *statusPrinter) PageStart(string) {}

func (p *statusPrinter) PageEnd(url string) {
	fmt.Fprintln(p.w, p.ok.Sprint("DONE"), url)
	p.pages = append(p.pages, notify.PageStatus{URL: url, OK: true})
}

func (p *statusPrinter) PageError(url string) {
	fmt.Fprintln(p.w, p.fail.Sprint("FAIL"), url)
	p.pages = append(p.pages, notify.PageStatus{URL: url})
}

func run(ctx context.Context, cli *CLI, cfg *config.Config) (err error) {
	if cli.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cli.Timeout)
		defer cancel()
	}

	printer := newStatusPrinter(os.Stderr)
	if cfg.NotifyURL != "" {
		defer func() {
			nctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if nerr := notify.Send(nctx, nil, cfg.NotifyURL, notify.Summary(printer.pages, err)); nerr != nil {
				slog.Warn("notification failed", "url", cfg.NotifyURL, "error", nerr)
			}
		}()
	}

	if cli.Launch {
		l := browser.NewLauncher(browser.Config{
			CDPAddress: cli.Host,
			CDPPort:    cli.Port,
			ProfileDir: cfg.BrowserProfileDir,
			Headless:   cfg.BrowserHeadless,
		})
		if err := l.Launch(ctx); err != nil {
			return fmt.Errorf("cannot launch browser: %w", err)
		}
		defer l.Stop()
	}

	base := "http://" + net.JoinHostPort(cli.Host, strconv.Itoa(cli.Port))
	problem := fmt.Sprintf("Problems with Chrome on %s:%d", cli.Host, cli.Port)

	v, err := cdp.Version(ctx, base)
	if err != nil {
		return fmt.Errorf("%s: %w", problem, err)
	}
	slog.Info("browser found", "browser", v.Browser, "protocol", v.ProtocolVersion)

	conn, err := cdp.Dial(ctx, base)
	if err != nil {
		return fmt.Errorf("%s: %w", problem, err)
	}

	opts := session.Options{
		FetchBodies:   cli.Bodies,
		PreserveCache: cli.Cache,
		Screenshot:    cli.Screenshot,
		MaxBodyBytes:  cfg.MaxBodyBytes,
		Browser:       session.BrowserCreator(v),
	}
	if cli.RawLog != "" {
		raw, err := storage.NewJSONLWriter(cli.RawLog, 4096, 50)
		if err != nil {
			return fmt.Errorf("open raw log: %w", err)
		}
		defer func() {
			if dropped := raw.Dropped(); dropped > 0 {
				slog.Warn("raw log dropped messages", "count", dropped)
			}
			if err := raw.Close(); err != nil {
				slog.Debug("raw log close failed", "error", err)
			}
		}()
		opts.RawSink = func(m cdp.Message) {
			_ = raw.Write(rawRecord{At: time.Now().UTC(), Message: m})
		}
	}

	res, err := session.New(conn, cli.URLs, opts, printer).Run(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", problem, err)
	}

	var out any = res.HAR
	if cli.Messages {
		out = res.Messages
	}
	if cli.Output != "" {
		if err := storage.WriteJSONFile(cli.Output, out); err != nil {
			return fmt.Errorf("write %s: %w", cli.Output, err)
		}
		slog.Info("output written", "file", cli.Output)
	} else if err := storage.WriteJSON(os.Stdout, out); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	if res.Screenshot != "" {
		store, err := snapshot.NewStore(cfg.SnapshotDir)
		if err != nil {
			return err
		}
		meta, err := store.SaveBase64(cli.URLs[len(cli.URLs)-1], "png", res.Screenshot)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "SHOT %s\n", filepath.Join(cfg.SnapshotDir, meta.ID+"."+meta.Format))
	}
	return nil
}

type rawRecord struct {
	At      time.Time   `json:"at"`
	Message cdp.Message `json:"message"`
}

func setupLogger(level, filename string, verbose bool) error {
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

	// stdout carries the JSON document, so console logs go to stderr and
	// only with --verbose.
	var w io.Writer = logWriter
	if verbose {
		slogLevel = slog.LevelDebug
		w = io.MultiWriter(os.Stderr, logWriter)
	}
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
