// Package capture tracks the network activity of one page navigation and
// decides when that page has finished loading.
package capture

import (
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
)

// Outcome is the externally visible state of a page capture.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeOK
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeFailed:
		return "failed"
	default:
		return "pending"
	}
}

type originStatus int

const (
	originUnknown originStatus = iota
	originSucceeded
	originFailed
)

// Body is a fetched response body.
type Body struct {
	Text    string
	Base64  bool
	Comment string
}

// BodyFetcher starts fetching the body of a finished request and calls done
// exactly once with the result. done must run on the goroutine that owns the
// Page.
type BodyFetcher func(id network.RequestID, done func(*Body, error))

type Options struct {
	FetchBodies  bool
	MaxBodyBytes int
	// Now defaults to time.Now.
	Now func() time.Time
}

type entry struct {
	request      *network.EventRequestWillBeSent
	response     *network.EventResponseReceived
	rawBytes     int64
	encodedBytes int64
	finished     bool
	finishedAt   float64
	failed       bool
	body         *Body

	// header names in the order the browser sent them
	requestOrder  []string
	responseOrder []string
}

// Page is the capture state of a single navigation. It is not safe for
// concurrent use.
type Page struct {
	index int
	url   string
	opts  Options

	startedAt        time.Time
	domContentLoaded *time.Duration
	load             *time.Duration

	originID   network.RequestID
	haveOrigin bool
	origin     originStatus

	// pending starts at one for the page's own load event.
	pending int

	entries map[network.RequestID]*entry
	order   []network.RequestID
}

// NewPage creates the capture for the index-th page. rawURL is normalized
// with NormalizeURL.
func NewPage(index int, rawURL string, opts Options) *Page {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Page{
		index:   index,
		url:     NormalizeURL(rawURL),
		opts:    opts,
		pending: 1,
		entries: make(map[network.RequestID]*entry),
	}
}

func (p *Page) Index() int { return p.index }

// URL is the normalized page URL.
func (p *Page) URL() string { return p.url }

// Start marks the wall-clock start of the navigation.
func (p *Page) Start() {
	p.startedAt = p.opts.Now()
}

func (p *Page) since() time.Duration {
	return p.opts.Now().Sub(p.startedAt)
}

// Process routes a decoded protocol event to its handler. Unhandled event
// types are ignored and reported as false.
func (p *Page) Process(ev any, fetch BodyFetcher) bool {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		p.OnRequestWillBeSent(e)
	case *network.EventDataReceived:
		p.OnDataReceived(e)
	case *network.EventResponseReceived:
		p.OnResponseReceived(e)
	case *network.EventLoadingFinished:
		p.OnLoadingFinished(e, fetch)
	case *network.EventLoadingFailed:
		p.OnLoadingFailed(e)
	case *page.EventDomContentEventFired:
		p.OnDOMContentEventFired()
	case *page.EventLoadEventFired:
		p.OnLoadEventFired()
	default:
		return false
	}
	return true
}

func (p *Page) OnRequestWillBeSent(ev *network.EventRequestWillBeSent) {
	if ev.Request == nil {
		return
	}
	if !p.haveOrigin && SameURL(p.url, ev.Request.URL) {
		p.originID = ev.RequestID
		p.haveOrigin = true
		slog.Debug("originating request", "page", p.index, "request_id", ev.RequestID, "url", ev.Request.URL)
	}
	if _, ok := p.entries[ev.RequestID]; !ok {
		p.order = append(p.order, ev.RequestID)
	}
	p.entries[ev.RequestID] = &entry{request: ev}
}

func (p *Page) OnDataReceived(ev *network.EventDataReceived) {
	e, ok := p.entries[ev.RequestID]
	if !ok {
		return
	}
	e.rawBytes += ev.DataLength
	e.encodedBytes += ev.EncodedDataLength
}

func (p *Page) OnResponseReceived(ev *network.EventResponseReceived) {
	if e, ok := p.entries[ev.RequestID]; ok {
		e.response = ev
	}
}

func (p *Page) OnLoadingFinished(ev *network.EventLoadingFinished, fetch BodyFetcher) {
	e, known := p.entries[ev.RequestID]

	if p.opts.FetchBodies && known && fetch != nil {
		p.Hold()
		called := false
		fetch(ev.RequestID, func(b *Body, err error) {
			if called {
				return
			}
			called = true
			if err != nil {
				slog.Debug("response body unavailable", "request_id", ev.RequestID, "error", err)
			} else {
				e.body = truncateBody(b, p.opts.MaxBodyBytes)
			}
			p.Release()
		})
	}

	if p.haveOrigin && ev.RequestID == p.originID {
		p.origin = originSucceeded
	}
	if known {
		e.finished = true
		e.finishedAt = monotonicSeconds(ev.Timestamp)
	}
}

func (p *Page) OnLoadingFailed(ev *network.EventLoadingFailed) {
	if p.haveOrigin && ev.RequestID == p.originID {
		p.origin = originFailed
	}
	if e, ok := p.entries[ev.RequestID]; ok {
		e.failed = true
		slog.Debug("request failed", "request_id", ev.RequestID, "error", ev.ErrorText, "canceled", ev.Canceled)
	}
}

func (p *Page) OnDOMContentEventFired() {
	if p.domContentLoaded != nil {
		return
	}
	d := p.since()
	p.domContentLoaded = &d
}

func (p *Page) OnLoadEventFired() {
	if p.load != nil {
		return
	}
	d := p.since()
	p.load = &d
	p.Release()
}

// Loaded reports whether the load event has been seen.
func (p *Page) Loaded() bool { return p.load != nil }

// Hold keeps the page open until a matching Release.
func (p *Page) Hold() {
	p.pending++
}

func (p *Page) Release() {
	if p.pending > 0 {
		p.pending--
	}
}

// Done reports whether every completion condition holds.
func (p *Page) Done() bool {
	return len(p.Missing()) == 0
}

// Missing lists the completion conditions that do not hold yet.
func (p *Page) Missing() []string {
	var out []string
	if p.domContentLoaded == nil {
		out = append(out, "domContentEventFired")
	}
	if p.load == nil {
		out = append(out, "loadEventFired")
	}
	if !p.haveOrigin {
		out = append(out, "originating request")
	} else if p.origin == originUnknown {
		out = append(out, "originating response")
	}
	if p.pending > 0 {
		out = append(out, "pending operations")
	}
	return out
}

func (p *Page) Outcome() Outcome {
	if !p.Done() {
		return OutcomePending
	}
	if p.origin == originSucceeded {
		return OutcomeOK
	}
	return OutcomeFailed
}

func monotonicSeconds(t *cdp.MonotonicTime) float64 {
	if t == nil || cdp.MonotonicTimeEpoch == nil {
		return 0
	}
	return t.Time().Sub(*cdp.MonotonicTimeEpoch).Seconds()
}
