package har

import (
	"math"
	"net/url"
	"strconv"
	"strings"
)

// statusLineOverhead covers "HTTP/1.x", two separating spaces and the CRLF.
const statusLineOverhead = 12

// HeadersSize estimates the serialized header block: a trailing CRLF plus
// "name: value\r\n" per header plus the status line. With no headers the size
// is unknown and -1 is returned. Lengths are UTF-8 byte counts, so
// non-ASCII values count more than their UTF-16 length.
func HeadersSize(pairs []NameValuePair, statusLine int) int64 {
	if len(pairs) == 0 {
		return -1
	}
	size := 2
	for _, p := range pairs {
		size += len(p.Name) + len(p.Value) + 4
	}
	return int64(size + statusLine)
}

// RequestLine is the status line length estimate for a request.
func RequestLine(method, rawURL string) int {
	return len(method) + len(rawURL) + statusLineOverhead
}

// StatusLine is the status line length estimate for a response.
func StatusLine(status int64, statusText string) int {
	return len(strconv.FormatInt(status, 10)) + len(statusText) + statusLineOverhead
}

// QueryString returns one pair per occurrence in the URL query, in order.
func QueryString(rawURL string) []NameValuePair {
	out := []NameValuePair{}
	u, err := url.Parse(rawURL)
	if err != nil || u.RawQuery == "" {
		return out
	}
	for _, part := range strings.Split(u.RawQuery, "&") {
		if part == "" {
			continue
		}
		name, value, _ := strings.Cut(part, "=")
		out = append(out, NameValuePair{Name: unescape(name), Value: unescape(value)})
	}
	return out
}

func unescape(s string) string {
	if v, err := url.QueryUnescape(s); err == nil {
		return v
	}
	return s
}

// Delta is end-start when both ends were recorded, else 0.
func Delta(start, end float64) float64 {
	if start == -1 || end == -1 {
		return 0
	}
	return end - start
}

// Round rounds half up, matching the browser's Math.round.
func Round(v float64) float64 {
	return math.Floor(v + 0.5)
}
