package controller

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/har_capturer/internal/cdp"
	"github.com/dgnsrekt/har_capturer/internal/relay"
	"github.com/dgnsrekt/har_capturer/internal/session"
	"github.com/dgnsrekt/har_capturer/internal/snapshot"
)

// pageTransport answers every navigation with a complete page load.
type pageTransport struct {
	mu        sync.Mutex
	msgs      chan cdp.Message
	silent    bool
	shot      string
	seq       int
	closeOnce sync.Once
	closed    chan struct{}
}

func newPageTransport() *pageTransport {
	return &pageTransport{msgs: make(chan cdp.Message, 256), closed: make(chan struct{})}
}

func (p *pageTransport) event(method, params string) {
	p.msgs <- cdp.Message{Method: method, Params: json.RawMessage(params)}
}

func (p *pageTransport) Send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	select {
	case <-p.closed:
		return nil, errors.New("closed")
	default:
	}
	switch method {
	case "Page.navigate":
		if p.silent {
			return json.RawMessage(`{"frameId":"F"}`), nil
		}
		raw, _ := json.Marshal(params)
		var nav struct {
			URL string `json:"url"`
		}
		_ = json.Unmarshal(raw, &nav)

		p.mu.Lock()
		p.seq++
		id := fmt.Sprintf("R%d", p.seq)
		p.mu.Unlock()

		p.event("Network.requestWillBeSent", fmt.Sprintf(`{"requestId":%q,"loaderId":"L","documentURL":%q,"request":{"url":%q,"method":"GET","headers":{}},"timestamp":10,"wallTime":1700000000}`, id, nav.URL, nav.URL))
		p.event("Network.responseReceived", fmt.Sprintf(`{"requestId":%q,"loaderId":"L","timestamp":10.1,"response":{"url":%q,"status":200,"statusText":"OK","headers":{},"mimeType":"text/html","protocol":"h2","timing":{"requestTime":10,"proxyStart":-1,"proxyEnd":-1,"dnsStart":-1,"dnsEnd":-1,"connectStart":-1,"connectEnd":-1,"sslStart":-1,"sslEnd":-1,"sendStart":1,"sendEnd":2,"receiveHeadersEnd":50}}}`, id, nav.URL))
		p.event("Network.loadingFinished", fmt.Sprintf(`{"requestId":%q,"timestamp":10.2,"encodedDataLength":10}`, id))
		p.event("Page.domContentEventFired", `{"timestamp":10.3}`)
		p.event("Page.loadEventFired", `{"timestamp":10.4}`)
		return json.RawMessage(`{"frameId":"F"}`), nil
	case "Page.captureScreenshot":
		return json.RawMessage(fmt.Sprintf(`{"data":%q}`, p.shot)), nil
	}
	return json.RawMessage(`{}`), nil
}

func (p *pageTransport) Messages() <-chan cdp.Message { return p.msgs }

func (p *pageTransport) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

func pngBase64(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 3, 2))); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func newTestService(t *testing.T, tr *pageTransport) (*Service, *relay.Broker) {
	t.Helper()
	store, err := snapshot.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	broker := relay.NewBroker()
	s := NewService("http://127.0.0.1:9222", store, broker, Defaults{Timeout: 5 * time.Second})
	s.version = func(context.Context, string) (*cdp.VersionInfo, error) {
		return &cdp.VersionInfo{Browser: "HeadlessChrome/120.0.6099.109"}, nil
	}
	s.dial = func(context.Context, string) (session.Transport, error) { return tr, nil }
	s.newID = func() string { return "cap-1" }
	return s, broker
}

func codeOf(t *testing.T, err error) string {
	t.Helper()
	var ce *session.CodedError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v (%T); want *session.CodedError", err, err)
	}
	return ce.Code
}

func TestRequireNonEmpty(t *testing.T) {
	s := &Service{}
	if err := s.requireNonEmpty("abc", "snapshot_id"); err != nil {
		t.Fatalf("requireNonEmpty() = %v; want nil", err)
	}

	if err := s.requireNonEmpty("   ", "snapshot_id"); err == nil {
		t.Fatalf("requireNonEmpty() = nil; want validation error")
	} else if got, ok := err.(*session.CodedError); !ok {
		t.Fatalf("requireNonEmpty() = %T; want *session.CodedError", err)
	} else if got.Code != session.CodeValidation {
		t.Fatalf("requireNonEmpty() code = %q; want %q", got.Code, session.CodeValidation)
	} else if got.Message != "snapshot_id is required" {
		t.Fatalf("requireNonEmpty() message = %q; want %q", got.Message, "snapshot_id is required")
	}
}

func TestCaptureRequiresURLs(t *testing.T) {
	s, _ := newTestService(t, newPageTransport())
	_, err := s.Capture(context.Background(), CaptureRequest{URLs: []string{"  ", ""}})
	if got := codeOf(t, err); got != session.CodeValidation {
		t.Fatalf("Capture() code = %q; want %q", got, session.CodeValidation)
	}
}

func TestCaptureSuccess(t *testing.T) {
	tr := newPageTransport()
	tr.shot = pngBase64(t)
	s, broker := newTestService(t, tr)
	_, events := broker.Subscribe()

	shot := true
	res, err := s.Capture(context.Background(), CaptureRequest{
		URLs:            []string{"a.test/", "http://b.test/"},
		Screenshot:      &shot,
		IncludeMessages: true,
	})
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if res.ID != "cap-1" {
		t.Fatalf("ID = %q", res.ID)
	}

	log := res.HAR.Log
	if len(log.Pages) != 2 || len(log.Entries) != 2 {
		t.Fatalf("pages=%d entries=%d; want 2 and 2", len(log.Pages), len(log.Entries))
	}
	if log.Browser == nil || log.Browser.Name != "HeadlessChrome" || log.Browser.Version != "120.0.6099.109" {
		t.Fatalf("Browser = %+v", log.Browser)
	}
	if log.Entries[0].Request.URL != "http://a.test/" || log.Entries[0].Response.HTTPVersion != "HTTP/2" {
		t.Fatalf("entry = %+v", log.Entries[0])
	}
	if len(res.Messages) == 0 {
		t.Fatalf("Messages empty with IncludeMessages")
	}
	if res.Snapshot == nil || res.Snapshot.Width != 3 || res.Snapshot.Height != 2 {
		t.Fatalf("Snapshot = %+v", res.Snapshot)
	}
	if _, err := s.GetSnapshot(context.Background(), res.Snapshot.ID); err != nil {
		t.Fatalf("GetSnapshot() error = %v", err)
	}

	var types []string
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	want := []string{
		relay.TypeCaptureStart,
		relay.TypePageStart, relay.TypePageEnd,
		relay.TypePageStart, relay.TypePageEnd,
		relay.TypeCaptureEnd,
	}
	if fmt.Sprint(types) != fmt.Sprint(want) {
		t.Fatalf("events = %v; want %v", types, want)
	}
}

func TestCaptureOmitsMessagesByDefault(t *testing.T) {
	s, _ := newTestService(t, newPageTransport())
	res, err := s.Capture(context.Background(), CaptureRequest{URLs: []string{"http://a.test/"}})
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if res.Messages != nil || res.Snapshot != nil {
		t.Fatalf("Messages=%d Snapshot=%v; want none", len(res.Messages), res.Snapshot)
	}
}

func TestCaptureBrowserUnavailable(t *testing.T) {
	s, _ := newTestService(t, newPageTransport())
	s.version = func(context.Context, string) (*cdp.VersionInfo, error) {
		return nil, errors.New("connection refused")
	}
	_, err := s.Capture(context.Background(), CaptureRequest{URLs: []string{"http://a.test/"}})
	if got := codeOf(t, err); got != session.CodeCDPUnavailable {
		t.Fatalf("Capture() code = %q; want %q", got, session.CodeCDPUnavailable)
	}

	s, broker := newTestService(t, newPageTransport())
	_, events := broker.Subscribe()
	s.dial = func(context.Context, string) (session.Transport, error) { return nil, errors.New("no targets") }
	_, err = s.Capture(context.Background(), CaptureRequest{URLs: []string{"http://a.test/"}})
	if got := codeOf(t, err); got != session.CodeCDPUnavailable {
		t.Fatalf("Capture() code = %q; want %q", got, session.CodeCDPUnavailable)
	}
	<-events
	if end := <-events; end.Type != relay.TypeCaptureEnd || end.Error == "" {
		t.Fatalf("end event = %+v; want capture_end with error", end)
	}
}

func TestCaptureTimeoutStalls(t *testing.T) {
	tr := newPageTransport()
	tr.silent = true
	s, _ := newTestService(t, tr)

	_, err := s.Capture(context.Background(), CaptureRequest{URLs: []string{"http://a.test/"}, Timeout: 100 * time.Millisecond})
	if got := codeOf(t, err); got != session.CodeStalled {
		t.Fatalf("Capture() code = %q; want %q", got, session.CodeStalled)
	}
}

func TestSnapshotErrors(t *testing.T) {
	s, _ := newTestService(t, newPageTransport())
	ctx := context.Background()

	if _, err := s.GetSnapshot(ctx, " "); codeOf(t, err) != session.CodeValidation {
		t.Fatalf("GetSnapshot(blank) = %v", err)
	}
	if _, err := s.GetSnapshot(ctx, "../etc/passwd"); codeOf(t, err) != session.CodeValidation {
		t.Fatalf("GetSnapshot(traversal) = %v", err)
	}
	missing := "0f8fad5b-d9cb-469f-a165-70867728950e"
	if _, _, err := s.ReadSnapshotImage(ctx, missing); codeOf(t, err) != session.CodeSnapshotNotFound {
		t.Fatalf("ReadSnapshotImage(missing) = %v", err)
	}
	if err := s.DeleteSnapshot(ctx, missing); codeOf(t, err) != session.CodeSnapshotNotFound {
		t.Fatalf("DeleteSnapshot(missing) = %v", err)
	}
	list, err := s.ListSnapshots(ctx)
	if err != nil || len(list) != 0 {
		t.Fatalf("ListSnapshots() = %v, %v", list, err)
	}
}

func TestCaptureStopsWaitingWhenContextEnds(t *testing.T) {
	s, broker := newTestService(t, newPageTransport())
	id, sub := broker.Subscribe()
	defer broker.Unsubscribe(id)
	s.busy <- struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := s.Capture(ctx, CaptureRequest{URLs: []string{"http://a.test/"}})
	if code := codeOf(t, err); code != session.CodeStalled {
		t.Fatalf("Capture() code = %s; want %s", code, session.CodeStalled)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Capture() error = %v; want deadline exceeded", err)
	}
	if d := time.Since(start); d > 2*time.Second {
		t.Fatalf("Capture() waited %s after its context ended", d)
	}
	if len(s.busy) != 1 {
		t.Fatalf("busy slots = %d; want the holder's slot untouched", len(s.busy))
	}
	select {
	case ev := <-sub:
		t.Fatalf("published %+v while waiting for the browser", ev)
	default:
	}
}
