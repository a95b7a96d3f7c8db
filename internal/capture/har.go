package capture

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/chromedp/cdproto/network"
	"github.com/dgnsrekt/har_capturer/internal/har"
)

// HAR renders the page record and every complete entry in the order the
// requests were first seen. Entries without a response, a finish time or
// timing data are skipped, as are data: URLs.
func (p *Page) HAR() (har.Page, []har.Entry) {
	pageID := strconv.Itoa(p.index)
	hp := har.Page{
		StartedDateTime: har.FormatTime(p.startedAt),
		ID:              pageID,
		Title:           p.url,
	}
	if p.domContentLoaded != nil {
		hp.PageTimings.OnContentLoad = har.Millis(*p.domContentLoaded)
	}
	if p.load != nil {
		hp.PageTimings.OnLoad = har.Millis(*p.load)
	}

	entries := make([]har.Entry, 0, len(p.order))
	for _, id := range p.order {
		e := p.entries[id]
		if !e.complete() {
			continue
		}
		entries = append(entries, p.harEntry(pageID, e))
	}
	return hp, entries
}

func (e *entry) complete() bool {
	if e.response == nil || e.response.Response == nil || !e.finished {
		return false
	}
	if e.response.Response.Timing == nil {
		return false
	}
	return !strings.HasPrefix(strings.ToLower(e.request.Request.URL), "data:")
}

func (p *Page) harEntry(pageID string, e *entry) har.Entry {
	req := e.request.Request
	res := e.response.Response

	reqHeaders := headerMapToStringMap(req.Headers)
	resHeaders := headerMapToStringMap(res.Headers)
	reqPairs := har.Pairs(reqHeaders, e.requestOrder)
	resPairs := har.Pairs(resHeaders, e.responseOrder)

	started := p.startedAt
	if e.request.WallTime != nil {
		started = e.request.WallTime.Time()
	}

	timings, total := entryTimings(res.Timing, e.finishedAt)
	version := httpVersion(res.Protocol)

	out := har.Entry{
		PageRef:         pageID,
		StartedDateTime: har.FormatTime(started),
		Time:            total,
		Request: har.Request{
			Method:      req.Method,
			URL:         req.URL,
			HTTPVersion: version,
			Cookies:     requestCookies(reqHeaders),
			Headers:     reqPairs,
			QueryString: har.QueryString(req.URL),
			PostData:    postData(req, reqHeaders),
			HeadersSize: har.HeadersSize(reqPairs, har.RequestLine(req.Method, req.URL)),
			BodySize:    contentLength(reqHeaders),
		},
		Response: har.Response{
			Status:      res.Status,
			StatusText:  res.StatusText,
			HTTPVersion: version,
			Cookies:     responseCookies(resHeaders),
			Headers:     resPairs,
			Content: har.Content{
				Size:        e.rawBytes,
				Compression: e.rawBytes - e.encodedBytes,
				MimeType:    res.MimeType,
			},
			RedirectURL: headerValue(resHeaders, "Location"),
			HeadersSize: har.HeadersSize(resPairs, har.StatusLine(res.Status, res.StatusText)),
			BodySize:    e.encodedBytes,
		},
		Timings:         timings,
		ServerIPAddress: res.RemoteIPAddress,
	}

	if e.body != nil {
		out.Response.Content.Text = e.body.Text
		out.Response.Content.Comment = e.body.Comment
		if e.body.Base64 {
			out.Response.Content.Encoding = "base64"
		}
	}
	return out
}

func headerMapToStringMap(headers network.Headers) map[string]string {
	result := make(map[string]string, len(headers))
	for k, v := range headers {
		switch val := v.(type) {
		case string:
			result[k] = val
		case nil:
			result[k] = ""
		default:
			result[k] = fmt.Sprint(val)
		}
	}
	return result
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// contentLength is the request Content-Length, or -1 when absent or invalid.
func contentLength(headers map[string]string) int64 {
	v := strings.TrimSpace(headerValue(headers, "Content-Length"))
	if v == "" {
		return -1
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return -1
	}
	return n
}

func httpVersion(protocol string) string {
	switch strings.ToLower(protocol) {
	case "http/1.0":
		return "HTTP/1.0"
	case "h2", "http/2", "http/2.0":
		return "HTTP/2"
	case "h3", "http/3", "quic":
		return "HTTP/3"
	default:
		if strings.HasPrefix(strings.ToLower(protocol), "h3-") {
			return "HTTP/3"
		}
		return "HTTP/1.1"
	}
}

func postData(req *network.Request, headers map[string]string) *har.PostData {
	if !req.HasPostData {
		return nil
	}
	var decoded []byte
	for _, pe := range req.PostDataEntries {
		if pe == nil || pe.Bytes == "" {
			continue
		}
		b, err := base64.StdEncoding.DecodeString(pe.Bytes)
		if err != nil {
			decoded = append(decoded, pe.Bytes...)
		} else {
			decoded = append(decoded, b...)
		}
	}
	return &har.PostData{
		MimeType: headerValue(headers, "Content-Type"),
		Params:   []har.NameValuePair{},
		Text:     string(decoded),
	}
}

func requestCookies(headers map[string]string) []har.Cookie {
	out := []har.Cookie{}
	raw := headerValue(headers, "Cookie")
	if raw == "" {
		return out
	}
	cookies, err := http.ParseCookie(raw)
	if err != nil {
		return out
	}
	for _, c := range cookies {
		out = append(out, har.Cookie{Name: c.Name, Value: c.Value})
	}
	return out
}

// responseCookies parses Set-Cookie; the browser joins repeated headers with
// newlines.
func responseCookies(headers map[string]string) []har.Cookie {
	out := []har.Cookie{}
	raw := headerValue(headers, "Set-Cookie")
	if raw == "" {
		return out
	}
	for _, line := range strings.Split(raw, "\n") {
		c, err := http.ParseSetCookie(strings.TrimSpace(line))
		if err != nil {
			continue
		}
		hc := har.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Domain:   c.Domain,
			HTTPOnly: c.HttpOnly,
			Secure:   c.Secure,
		}
		if !c.Expires.IsZero() {
			hc.Expires = har.FormatTime(c.Expires)
		}
		out = append(out, hc)
	}
	return out
}
