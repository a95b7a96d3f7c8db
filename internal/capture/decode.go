package capture

import (
	"bytes"
	"encoding/json"
	"log/slog"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
)

// Decode turns event parameters into the matching cdproto event. cdproto
// rejects enum values it does not know, so when the typed decode fails the
// parameters are decoded again keeping only the fields a capture reads.
func Decode(method string, params []byte) (any, error) {
	ev, err := cdproto.UnmarshalMessage(&cdproto.Message{
		Method: cdproto.MethodType(method),
		Params: params,
	})
	if err == nil {
		return ev, nil
	}
	loose, lerr := decodeLoose(method, params)
	if lerr != nil || loose == nil {
		return nil, err
	}
	slog.Debug("lenient event decode", "method", method, "error", err)
	return loose, nil
}

// ProcessMessage decodes and processes one event, recording the header
// order the browser sent for requests and responses.
func (p *Page) ProcessMessage(method string, params []byte, fetch BodyFetcher) (bool, error) {
	ev, err := Decode(method, params)
	if err != nil {
		return false, err
	}
	if !p.Process(ev, fetch) {
		return false, nil
	}
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		if en, ok := p.entries[e.RequestID]; ok && en.request == e {
			en.requestOrder = headerNames(params, "request")
		}
	case *network.EventResponseReceived:
		if en, ok := p.entries[e.RequestID]; ok && en.response == e {
			en.responseOrder = headerNames(params, "response")
		}
	}
	return true, nil
}

type looseRequest struct {
	URL             string                   `json:"url"`
	URLFragment     string                   `json:"urlFragment"`
	Method          string                   `json:"method"`
	Headers         network.Headers          `json:"headers"`
	HasPostData     bool                     `json:"hasPostData"`
	PostDataEntries []*network.PostDataEntry `json:"postDataEntries"`
}

type looseResponse struct {
	URL               string                  `json:"url"`
	Status            int64                   `json:"status"`
	StatusText        string                  `json:"statusText"`
	Headers           network.Headers         `json:"headers"`
	MimeType          string                  `json:"mimeType"`
	RemoteIPAddress   string                  `json:"remoteIPAddress"`
	RemotePort        int64                   `json:"remotePort"`
	EncodedDataLength float64                 `json:"encodedDataLength"`
	Timing            *network.ResourceTiming `json:"timing"`
	Protocol          string                  `json:"protocol"`
}

func decodeLoose(method string, params []byte) (any, error) {
	switch cdproto.MethodType(method) {
	case cdproto.EventNetworkRequestWillBeSent:
		var v struct {
			RequestID   network.RequestID   `json:"requestId"`
			LoaderID    cdp.LoaderID        `json:"loaderId"`
			DocumentURL string              `json:"documentURL"`
			Request     *looseRequest       `json:"request"`
			Timestamp   *cdp.MonotonicTime  `json:"timestamp"`
			WallTime    *cdp.TimeSinceEpoch `json:"wallTime"`
		}
		if err := json.Unmarshal(params, &v); err != nil {
			return nil, err
		}
		ev := &network.EventRequestWillBeSent{
			RequestID:   v.RequestID,
			LoaderID:    v.LoaderID,
			DocumentURL: v.DocumentURL,
			Timestamp:   v.Timestamp,
			WallTime:    v.WallTime,
		}
		if r := v.Request; r != nil {
			ev.Request = &network.Request{
				URL:             r.URL,
				URLFragment:     r.URLFragment,
				Method:          r.Method,
				Headers:         r.Headers,
				HasPostData:     r.HasPostData,
				PostDataEntries: r.PostDataEntries,
			}
		}
		return ev, nil

	case cdproto.EventNetworkResponseReceived:
		var v struct {
			RequestID network.RequestID  `json:"requestId"`
			LoaderID  cdp.LoaderID       `json:"loaderId"`
			Timestamp *cdp.MonotonicTime `json:"timestamp"`
			Response  *looseResponse     `json:"response"`
		}
		if err := json.Unmarshal(params, &v); err != nil {
			return nil, err
		}
		ev := &network.EventResponseReceived{
			RequestID: v.RequestID,
			LoaderID:  v.LoaderID,
			Timestamp: v.Timestamp,
		}
		if r := v.Response; r != nil {
			ev.Response = &network.Response{
				URL:               r.URL,
				Status:            r.Status,
				StatusText:        r.StatusText,
				Headers:           r.Headers,
				MimeType:          r.MimeType,
				RemoteIPAddress:   r.RemoteIPAddress,
				RemotePort:        r.RemotePort,
				EncodedDataLength: r.EncodedDataLength,
				Timing:            r.Timing,
				Protocol:          r.Protocol,
			}
		}
		return ev, nil

	case cdproto.EventNetworkLoadingFailed:
		var v struct {
			RequestID network.RequestID  `json:"requestId"`
			Timestamp *cdp.MonotonicTime `json:"timestamp"`
			ErrorText string             `json:"errorText"`
			Canceled  bool               `json:"canceled"`
		}
		if err := json.Unmarshal(params, &v); err != nil {
			return nil, err
		}
		return &network.EventLoadingFailed{
			RequestID: v.RequestID,
			Timestamp: v.Timestamp,
			ErrorText: v.ErrorText,
			Canceled:  v.Canceled,
		}, nil
	}
	return nil, nil
}

// headerNames lists the keys of params[field].headers in wire order.
func headerNames(params []byte, field string) []string {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(params, &top); err != nil {
		return nil
	}
	var obj struct {
		Headers json.RawMessage `json:"headers"`
	}
	if raw, ok := top[field]; !ok || json.Unmarshal(raw, &obj) != nil || len(obj.Headers) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(obj.Headers))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil
	}
	var names []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return names
		}
		name, ok := tok.(string)
		if !ok {
			return names
		}
		names = append(names, name)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return names
		}
	}
	return names
}
