// Package session drives a list of URLs through one browser tab, one page at
// a time, and merges the finished captures into a single HAR document.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/dgnsrekt/har_capturer/internal/capture"
	"github.com/dgnsrekt/har_capturer/internal/cdp"
	"github.com/dgnsrekt/har_capturer/internal/har"
)

// DefaultCreator is written into log.creator when Options.Creator is empty.
var DefaultCreator = har.Creator{Name: "Chrome HAR Capturer", Version: "0.3.3"}

// Transport is the protocol connection a session runs on. Messages must
// carry events and command replies in arrival order, and Close must be safe
// to call more than once.
type Transport interface {
	Send(ctx context.Context, method string, params any) (json.RawMessage, error)
	Messages() <-chan cdp.Message
	Close() error
}

// Listener is told about page boundaries as they happen.
type Listener interface {
	PageStart(url string)
	PageEnd(url string)
	PageError(url string)
}

type nopListener struct{}

func (nopListener) PageStart(string) {}
func (nopListener) PageEnd(string)   {}
func (nopListener) PageError(string) {}

type Options struct {
	FetchBodies   bool
	PreserveCache bool
	Screenshot    bool
	MaxBodyBytes  int
	Creator       har.Creator
	Browser       *har.Creator
	// RawSink, when set, receives every inbound message as it arrives.
	RawSink func(cdp.Message)
	Now     func() time.Time
}

// BrowserCreator turns a /json/version answer such as
// "HeadlessChrome/120.0.6099.109" into the log.browser field.
func BrowserCreator(v *cdp.VersionInfo) *har.Creator {
	if v == nil || v.Browser == "" {
		return nil
	}
	name, version, _ := strings.Cut(v.Browser, "/")
	return &har.Creator{Name: name, Version: version}
}

// PageResult is the outcome of one target URL.
type PageResult struct {
	URL     string          `json:"url"`
	Outcome capture.Outcome `json:"-"`
	Status  string          `json:"status"`
}

type Result struct {
	HAR        *har.HAR
	Messages   []cdp.Message
	Screenshot string
	Pages      []PageResult
}

// Session is single use: call Run once.
type Session struct {
	t    Transport
	urls []string
	opts Options
	l    Listener

	ctx   context.Context
	tasks chan func()
	done  chan struct{}

	pages    []*capture.Page
	reported int
	results  []PageResult
	messages []cdp.Message
	shot     string

	finished bool
	result   *Result
	err      error
}

func New(t Transport, urls []string, opts Options, l Listener) *Session {
	if l == nil {
		l = nopListener{}
	}
	if opts.Creator.Name == "" {
		opts.Creator = DefaultCreator
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Session{
		t:     t,
		urls:  append([]string(nil), urls...),
		opts:  opts,
		l:     l,
		tasks: make(chan func()),
		done:  make(chan struct{}),
	}
}

// Run captures every URL in order and returns the merged archive. It returns
// when the list is exhausted, on a transport or injection failure, or when
// ctx ends; the transport is closed in every case.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	defer close(s.done)
	defer s.t.Close()

	if len(s.urls) == 0 {
		return nil, newError(CodeValidation, "no URLs to capture", nil)
	}

	s.ctx = ctx
	s.setup()

	msgs := s.t.Messages()
	for !s.finished {
		select {
		case msg, ok := <-msgs:
			if !ok {
				s.fail(newError(CodeCDPUnavailable, "protocol stream closed", nil))
				continue
			}
			s.handle(msg)
		case fn := <-s.tasks:
			fn()
		case <-ctx.Done():
			return nil, s.stalled(ctx.Err())
		}
	}
	return s.result, s.err
}

// call issues a command off the loop and runs then back on it.
func (s *Session) call(method string, params any, then func(json.RawMessage, error)) {
	go func() {
		res, err := s.t.Send(s.ctx, method, params)
		select {
		case s.tasks <- func() { then(res, err) }:
		case <-s.done:
		}
	}()
}

type command struct {
	method string
	params any
}

func (s *Session) setup() {
	cmds := []command{
		{page.CommandEnable, page.Enable()},
		{network.CommandEnable, network.Enable()},
	}
	if !s.opts.PreserveCache {
		cmds = append(cmds, command{network.CommandSetCacheDisabled, network.SetCacheDisabled(true)})
	}

	go func() {
		var err error
		for _, c := range cmds {
			if _, err = s.t.Send(s.ctx, c.method, c.params); err != nil {
				err = fmt.Errorf("%s: %w", c.method, err)
				break
			}
		}
		select {
		case s.tasks <- func() {
			if err != nil {
				s.fail(newError(CodeCDPUnavailable, "failed to enable protocol domains", err))
				return
			}
			s.advance()
		}:
		case <-s.done:
		}
	}()
}

// advance starts the next URL or, when none are left, finishes the run.
func (s *Session) advance() {
	cursor := len(s.pages)
	if cursor == len(s.urls) {
		s.finish()
		return
	}

	p := capture.NewPage(cursor, s.urls[cursor], capture.Options{
		FetchBodies:  s.opts.FetchBodies,
		MaxBodyBytes: s.opts.MaxBodyBytes,
		Now:          s.opts.Now,
	})
	s.l.PageStart(p.URL())
	slog.Info("capture page start", "index", cursor, "url", p.URL())
	p.Start()

	s.call(runtime.CommandEvaluate, runtime.Evaluate(cleanupScript(s.opts.PreserveCache)), func(raw json.RawMessage, err error) {
		if err == nil {
			err = evalException(raw)
		}
		if err != nil {
			s.fail(newError(CodeInjectionFailed, "cannot inject cleanup script before "+p.URL(), err))
			return
		}

		s.pages = append(s.pages, p)
		s.call(page.CommandNavigate, page.Navigate(p.URL()), func(raw json.RawMessage, err error) {
			if err != nil {
				s.fail(newError(CodeNavigationFailed, "cannot navigate to "+p.URL(), err))
				return
			}
			var nav struct {
				ErrorText string `json:"errorText"`
			}
			if json.Unmarshal(raw, &nav) == nil && nav.ErrorText != "" {
				slog.Debug("navigation reported error", "url", p.URL(), "error", nav.ErrorText)
			}
		})
	})
}

func (s *Session) active() *capture.Page {
	if len(s.pages) == 0 {
		return nil
	}
	return s.pages[len(s.pages)-1]
}

func (s *Session) handle(msg cdp.Message) {
	s.messages = append(s.messages, msg)
	if s.opts.RawSink != nil {
		s.opts.RawSink(msg)
	}

	if !msg.IsEvent() {
		slog.Debug("<-- reply", "id", msg.ID, "result", string(msg.Result))
		return
	}

	p := s.active()
	if p == nil {
		slog.Debug("event before first page", "method", msg.Method)
		return
	}

	switch {
	case msg.Method == string(cdproto.EventPageDomContentEventFired):
		slog.Debug("<-- "+msg.Method, "url", p.URL())
		p.OnDOMContentEventFired()
	case msg.Method == string(cdproto.EventPageLoadEventFired):
		slog.Debug("<-- "+msg.Method, "url", p.URL())
		if s.opts.Screenshot && !p.Loaded() {
			s.screenshot(p)
		}
		p.OnLoadEventFired()
	case strings.HasPrefix(msg.Method, "Network."):
		handled, err := p.ProcessMessage(msg.Method, msg.Params, s.fetchBody)
		if err != nil {
			slog.Debug("undecodable event", "method", msg.Method, "error", err)
			break
		}
		if !handled {
			slog.Debug("unhandled message", "method", msg.Method)
		}
	default:
		slog.Debug("unhandled message", "method", msg.Method)
	}
	s.check()
}

func (s *Session) screenshot(p *capture.Page) {
	p.Hold()
	s.call(page.CommandCaptureScreenshot, page.CaptureScreenshot(), func(raw json.RawMessage, err error) {
		var res struct {
			Data string `json:"data"`
		}
		if err == nil {
			err = json.Unmarshal(raw, &res)
		}
		if err != nil {
			slog.Warn("screenshot failed", "url", p.URL(), "error", err)
		} else {
			s.shot = res.Data
		}
		p.Release()
		s.check()
	})
}

func (s *Session) fetchBody(id network.RequestID, done func(*capture.Body, error)) {
	s.call(network.CommandGetResponseBody, network.GetResponseBody(id), func(raw json.RawMessage, err error) {
		var res struct {
			Body          string `json:"body"`
			Base64Encoded bool   `json:"base64Encoded"`
		}
		if err == nil {
			err = json.Unmarshal(raw, &res)
		}
		if err != nil {
			done(nil, err)
		} else {
			done(&capture.Body{Text: res.Body, Base64: res.Base64Encoded}, nil)
		}
		s.check()
	})
}

// check reports the active page once it is done and moves on.
func (s *Session) check() {
	if s.finished || s.reported == len(s.pages) {
		return
	}
	p := s.active()
	if !p.Done() {
		return
	}
	s.reported = len(s.pages)

	outcome := p.Outcome()
	s.results = append(s.results, PageResult{URL: p.URL(), Outcome: outcome, Status: outcome.String()})
	slog.Info("capture page done", "index", p.Index(), "url", p.URL(), "outcome", outcome.String())
	if outcome == capture.OutcomeOK {
		s.l.PageEnd(p.URL())
	} else {
		s.l.PageError(p.URL())
	}
	s.advance()
}

func (s *Session) finish() {
	slog.Debug("capture finished", "pages", len(s.pages))
	if err := s.t.Close(); err != nil {
		slog.Debug("transport close", "error", err)
	}

	h := har.New(s.opts.Creator)
	h.Log.Browser = s.opts.Browser
	for i, p := range s.pages {
		if s.results[i].Outcome != capture.OutcomeOK {
			continue
		}
		hp, entries := p.HAR()
		h.Add(hp, entries)
	}

	s.result = &Result{
		HAR:        h,
		Messages:   s.messages,
		Screenshot: s.shot,
		Pages:      s.results,
	}
	s.finished = true
}

func (s *Session) fail(err error) {
	if s.finished {
		return
	}
	slog.Error("capture failed", "error", err)
	s.err = err
	s.finished = true
}

func (s *Session) stalled(cause error) error {
	if s.reported < len(s.pages) {
		p := s.active()
		return newError(CodeStalled, fmt.Sprintf("capture of %s stalled waiting for %s", p.URL(), strings.Join(p.Missing(), ", ")), cause)
	}
	if len(s.pages) < len(s.urls) {
		return newError(CodeStalled, "capture stalled before "+capture.NormalizeURL(s.urls[len(s.pages)])+" started", cause)
	}
	return newError(CodeStalled, "capture stalled", cause)
}

// evalException turns a Runtime.evaluate exception into an error.
func evalException(raw json.RawMessage) error {
	var res struct {
		ExceptionDetails *struct {
			Text      string `json:"text"`
			Exception *struct {
				Description string `json:"description"`
			} `json:"exception"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return fmt.Errorf("decode evaluate result: %w", err)
	}
	if res.ExceptionDetails == nil {
		return nil
	}
	if res.ExceptionDetails.Exception != nil && res.ExceptionDetails.Exception.Description != "" {
		return fmt.Errorf("script threw: %s", res.ExceptionDetails.Exception.Description)
	}
	return fmt.Errorf("script threw: %s", res.ExceptionDetails.Text)
}
