package capture

import (
	"net"
	"net/url"
	"strings"
)

// NormalizeURL prefixes http:// onto anything that is not already an http or
// https URL.
func NormalizeURL(raw string) string {
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "http:") || strings.HasPrefix(lower, "https:") {
		return raw
	}
	return "http://" + raw
}

// SameURL compares two URLs structurally. The fragment is ignored since the
// browser never sends it, an empty path equals "/", and default ports are
// dropped.
func SameURL(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return canonical(ua) == canonical(ub)
}

func canonical(u *url.URL) string {
	c := *u
	c.Fragment = ""
	c.RawFragment = ""
	c.Scheme = strings.ToLower(c.Scheme)
	host := strings.ToLower(c.Hostname())
	port := c.Port()
	if (c.Scheme == "http" && port == "80") || (c.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	c.Host = host
	if c.Path == "" && c.Opaque == "" {
		c.Path = "/"
		c.RawPath = ""
	}
	return c.String()
}
