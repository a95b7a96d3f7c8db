package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgnsrekt/har_capturer/internal/cdp"
	"github.com/dgnsrekt/har_capturer/internal/har"
	"github.com/dgnsrekt/har_capturer/internal/relay"
	"github.com/dgnsrekt/har_capturer/internal/session"
	"github.com/dgnsrekt/har_capturer/internal/snapshot"
	"github.com/google/uuid"
)

// Dialer opens a protocol connection to a page of the browser at httpBase.
type Dialer func(ctx context.Context, httpBase string) (session.Transport, error)

// VersionFunc reports the browser behind httpBase.
type VersionFunc func(ctx context.Context, httpBase string) (*cdp.VersionInfo, error)

// Defaults apply when a request leaves an option unset.
type Defaults struct {
	FetchBodies   bool
	PreserveCache bool
	Screenshot    bool
	MaxBodyBytes  int
	Timeout       time.Duration
}

// CaptureRequest describes one capture run.
type CaptureRequest struct {
	URLs            []string
	FetchBodies     *bool
	PreserveCache   *bool
	Screenshot      *bool
	Timeout         time.Duration
	IncludeMessages bool
}

// CaptureResult is what a finished run produced.
type CaptureResult struct {
	ID       string
	HAR      *har.HAR
	Pages    []session.PageResult
	Snapshot *snapshot.SnapshotMeta
	Messages []cdp.Message
}

// Service runs captures against one browser. The browser has a single
// working tab, so captures are serialized.
type Service struct {
	cdpURL   string
	dial     Dialer
	version  VersionFunc
	snaps    *snapshot.Store
	broker   *relay.Broker
	defaults Defaults

	// one slot: holding it means owning the browser tab
	busy  chan struct{}
	newID func() string
}

func NewService(cdpURL string, snaps *snapshot.Store, broker *relay.Broker, defaults Defaults) *Service {
	return &Service{
		cdpURL: cdpURL,
		dial: func(ctx context.Context, base string) (session.Transport, error) {
			return cdp.Dial(ctx, base)
		},
		version:  cdp.Version,
		snaps:    snaps,
		broker:   broker,
		defaults: defaults,
		busy:     make(chan struct{}, 1),
		newID:    func() string { return uuid.New().String() },
	}
}

func (s *Service) requireNonEmpty(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return &session.CodedError{Code: session.CodeValidation, Message: fieldName + " is required"}
	}
	return nil
}

// acquire waits for the browser tab until ctx is done.
func (s *Service) acquire(ctx context.Context, urls int) error {
	select {
	case s.busy <- struct{}{}:
		return nil
	default:
	}
	slog.Debug("capture waiting for browser", "urls", urls)
	select {
	case s.busy <- struct{}{}:
		return nil
	case <-ctx.Done():
		return &session.CodedError{Code: session.CodeStalled, Message: "gave up waiting for the browser", Cause: ctx.Err()}
	}
}

func pick(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// Capture loads every URL in order and returns the merged archive.
func (s *Service) Capture(ctx context.Context, req CaptureRequest) (*CaptureResult, error) {
	urls := make([]string, 0, len(req.URLs))
	for _, u := range req.URLs {
		if strings.TrimSpace(u) != "" {
			urls = append(urls, strings.TrimSpace(u))
		}
	}
	if len(urls) == 0 {
		return nil, &session.CodedError{Code: session.CodeValidation, Message: "urls is required"}
	}
	if req.Timeout < 0 {
		return nil, &session.CodedError{Code: session.CodeValidation, Message: "timeout must not be negative"}
	}

	if err := s.acquire(ctx, len(urls)); err != nil {
		return nil, err
	}
	defer func() { <-s.busy }()

	timeout := req.Timeout
	if timeout == 0 {
		timeout = s.defaults.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	id := s.newID()
	s.publish(relay.Event{Type: relay.TypeCaptureStart, CaptureID: id})

	res, err := s.run(ctx, id, urls, req)
	end := relay.Event{Type: relay.TypeCaptureEnd, CaptureID: id}
	if err != nil {
		end.Error = err.Error()
	}
	s.publish(end)
	return res, err
}

func (s *Service) run(ctx context.Context, id string, urls []string, req CaptureRequest) (*CaptureResult, error) {
	v, err := s.version(ctx, s.cdpURL)
	if err != nil {
		return nil, &session.CodedError{Code: session.CodeCDPUnavailable, Message: "browser not reachable at " + s.cdpURL, Cause: err}
	}
	t, err := s.dial(ctx, s.cdpURL)
	if err != nil {
		return nil, &session.CodedError{Code: session.CodeCDPUnavailable, Message: "cannot attach to a page target", Cause: err}
	}

	opts := session.Options{
		FetchBodies:   pick(req.FetchBodies, s.defaults.FetchBodies),
		PreserveCache: pick(req.PreserveCache, s.defaults.PreserveCache),
		Screenshot:    pick(req.Screenshot, s.defaults.Screenshot),
		MaxBodyBytes:  s.defaults.MaxBodyBytes,
		Browser:       session.BrowserCreator(v),
	}
	var l session.Listener
	if s.broker != nil {
		l = s.broker.Listener(id)
	}

	slog.Info("capture start", "id", id, "urls", len(urls), "bodies", opts.FetchBodies, "screenshot", opts.Screenshot)
	res, err := session.New(t, urls, opts, l).Run(ctx)
	if err != nil {
		return nil, err
	}

	out := &CaptureResult{ID: id, HAR: res.HAR, Pages: res.Pages}
	if req.IncludeMessages {
		out.Messages = res.Messages
	}
	if res.Screenshot != "" && s.snaps != nil {
		meta, err := s.snaps.SaveBase64(urls[len(urls)-1], "png", res.Screenshot)
		if err != nil {
			slog.Warn("screenshot not saved", "id", id, "error", err)
		} else {
			out.Snapshot = &meta
		}
	}
	slog.Info("capture done", "id", id, "pages", len(res.HAR.Log.Pages), "entries", len(res.HAR.Log.Entries))
	return out, nil
}

func (s *Service) publish(evt relay.Event) {
	if s.broker != nil {
		s.broker.Publish(evt)
	}
}

// --- Snapshot methods ---

func (s *Service) snapshotErr(err error) error {
	if errors.Is(err, snapshot.ErrInvalidID) {
		return &session.CodedError{Code: session.CodeValidation, Message: err.Error()}
	}
	if errors.Is(err, snapshot.ErrNotFound) {
		return &session.CodedError{Code: session.CodeSnapshotNotFound, Message: err.Error()}
	}
	return err
}

func (s *Service) ListSnapshots(ctx context.Context) ([]snapshot.SnapshotMeta, error) {
	return s.snaps.List()
}

func (s *Service) GetSnapshot(ctx context.Context, id string) (snapshot.SnapshotMeta, error) {
	if err := s.requireNonEmpty(id, "snapshot_id"); err != nil {
		return snapshot.SnapshotMeta{}, err
	}
	meta, err := s.snaps.Get(strings.TrimSpace(id))
	if err != nil {
		return snapshot.SnapshotMeta{}, s.snapshotErr(err)
	}
	return meta, nil
}

func (s *Service) ReadSnapshotImage(ctx context.Context, id string) ([]byte, string, error) {
	if err := s.requireNonEmpty(id, "snapshot_id"); err != nil {
		return nil, "", err
	}
	data, format, err := s.snaps.ReadImage(strings.TrimSpace(id))
	if err != nil {
		return nil, "", s.snapshotErr(err)
	}
	return data, format, nil
}

func (s *Service) DeleteSnapshot(ctx context.Context, id string) error {
	if err := s.requireNonEmpty(id, "snapshot_id"); err != nil {
		return err
	}
	if err := s.snaps.Delete(strings.TrimSpace(id)); err != nil {
		return s.snapshotErr(err)
	}
	return nil
}

// Health reports whether the browser answers and its version string.
func (s *Service) Health(ctx context.Context) (string, error) {
	v, err := s.version(ctx, s.cdpURL)
	if err != nil {
		return "", fmt.Errorf("browser not reachable at %s: %w", s.cdpURL, err)
	}
	return v.Browser, nil
}
