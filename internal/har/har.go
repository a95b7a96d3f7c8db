// Package har holds the HTTP Archive 1.2 document model and the helpers used
// to fill it from browser protocol data.
package har

import (
	"sort"
	"time"
)

const (
	// Version is the HAR format version written into every log.
	Version = "1.2"

	// TimeFormat is the ISO 8601 layout used for startedDateTime fields.
	TimeFormat = "2006-01-02T15:04:05.000Z"
)

// HAR is the top-level archive document.
type HAR struct {
	Log *Log `json:"log"`
}

type Log struct {
	Version string   `json:"version"`
	Creator Creator  `json:"creator"`
	Browser *Creator `json:"browser,omitempty"`
	Pages   []Page   `json:"pages"`
	Entries []Entry  `json:"entries"`
	Comment string   `json:"comment,omitempty"`
}

// Creator names the producing application (also used for log.browser).
type Creator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Comment string `json:"comment,omitempty"`
}

type Page struct {
	StartedDateTime string      `json:"startedDateTime"`
	ID              string      `json:"id"`
	Title           string      `json:"title"`
	PageTimings     PageTimings `json:"pageTimings"`
}

// PageTimings are milliseconds since the page started.
type PageTimings struct {
	OnContentLoad float64 `json:"onContentLoad"`
	OnLoad        float64 `json:"onLoad"`
}

type Entry struct {
	PageRef         string   `json:"pageref"`
	StartedDateTime string   `json:"startedDateTime"`
	Time            float64  `json:"time"`
	Request         Request  `json:"request"`
	Response        Response `json:"response"`
	Cache           Cache    `json:"cache"`
	Timings         Timings  `json:"timings"`
	ServerIPAddress string   `json:"serverIPAddress,omitempty"`
	Comment         string   `json:"comment,omitempty"`
}

type Request struct {
	Method      string          `json:"method"`
	URL         string          `json:"url"`
	HTTPVersion string          `json:"httpVersion"`
	Cookies     []Cookie        `json:"cookies"`
	Headers     []NameValuePair `json:"headers"`
	QueryString []NameValuePair `json:"queryString"`
	PostData    *PostData       `json:"postData,omitempty"`
	HeadersSize int64           `json:"headersSize"`
	BodySize    int64           `json:"bodySize"`
}

type Response struct {
	Status      int64           `json:"status"`
	StatusText  string          `json:"statusText"`
	HTTPVersion string          `json:"httpVersion"`
	Cookies     []Cookie        `json:"cookies"`
	Headers     []NameValuePair `json:"headers"`
	Content     Content         `json:"content"`
	RedirectURL string          `json:"redirectURL"`
	HeadersSize int64           `json:"headersSize"`
	BodySize    int64           `json:"bodySize"`
}

// Content describes the response body. Size and Compression are always
// written, zero included.
type Content struct {
	Size        int64  `json:"size"`
	Compression int64  `json:"compression"`
	MimeType    string `json:"mimeType"`
	Text        string `json:"text,omitempty"`
	Encoding    string `json:"encoding,omitempty"`
	Comment     string `json:"comment,omitempty"`
}

// Cache is always emitted empty.
type Cache struct{}

// Timings are milliseconds; -1 marks a phase that does not apply.
type Timings struct {
	Blocked float64 `json:"blocked"`
	DNS     float64 `json:"dns"`
	Connect float64 `json:"connect"`
	Send    float64 `json:"send"`
	Wait    float64 `json:"wait"`
	Receive float64 `json:"receive"`
	SSL     float64 `json:"ssl"`
}

type NameValuePair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Path     string `json:"path,omitempty"`
	Domain   string `json:"domain,omitempty"`
	Expires  string `json:"expires,omitempty"`
	HTTPOnly bool   `json:"httpOnly,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
}

type PostData struct {
	MimeType string          `json:"mimeType"`
	Params   []NameValuePair `json:"params"`
	Text     string          `json:"text"`
}

// New returns an empty archive stamped with the given creator.
func New(creator Creator) *HAR {
	return &HAR{Log: &Log{
		Version: Version,
		Creator: creator,
		Pages:   []Page{},
		Entries: []Entry{},
	}}
}

// Add appends one page and its entries, keeping entry order.
func (h *HAR) Add(p Page, entries []Entry) {
	h.Log.Pages = append(h.Log.Pages, p)
	h.Log.Entries = append(h.Log.Entries, entries...)
}

// FormatTime renders t in UTC with millisecond precision.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// Millis converts a duration to fractional milliseconds.
func Millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Pairs converts a header map into name/value pairs. Names listed in order
// come first in that order; the rest follow sorted by name.
func Pairs(m map[string]string, order []string) []NameValuePair {
	out := make([]NameValuePair, 0, len(m))
	seen := make(map[string]bool, len(m))
	for _, name := range order {
		v, ok := m[name]
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, NameValuePair{Name: name, Value: v})
	}

	rest := make([]string, 0, len(m)-len(seen))
	for name := range m {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		out = append(out, NameValuePair{Name: name, Value: m[name]})
	}
	return out
}
