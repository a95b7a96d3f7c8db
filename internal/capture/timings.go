package capture

import (
	"github.com/chromedp/cdproto/network"
	"github.com/dgnsrekt/har_capturer/internal/har"
)

// entryTimings converts the browser's resource timing into HAR phases and
// returns the entry total. Phase offsets are milliseconds relative to
// RequestTime (seconds); finishedAt is the loadingFinished timestamp in
// seconds. Phases the browser did not record are reported as -1 but count as
// zero in the total. receive is not clamped and may be negative.
func entryTimings(t *network.ResourceTiming, finishedAt float64) (har.Timings, float64) {
	dns := har.Delta(t.ProxyStart, t.ProxyEnd) + har.Delta(t.DNSStart, t.DNSEnd)
	connect := har.Delta(t.ConnectStart, t.ConnectEnd)
	ssl := har.Delta(t.SslStart, t.SslEnd)
	send := har.Delta(t.SendStart, t.SendEnd)
	wait := t.ReceiveHeadersEnd - t.SendEnd
	receive := har.Round(finishedAt*1000 - t.RequestTime*1000 - t.ReceiveHeadersEnd)

	out := har.Timings{
		Blocked: -1,
		DNS:     dns,
		Connect: connect,
		SSL:     ssl,
		Send:    send,
		Wait:    wait,
		Receive: receive,
	}
	if t.DNSStart == -1 {
		out.DNS = -1
	}
	if t.ConnectStart == -1 {
		out.Connect = -1
	}
	if t.SslStart == -1 {
		out.SSL = -1
	}
	return out, dns + connect + ssl + send + wait + receive
}
