package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/chromedp/cdproto/target"
)

// Target is one entry of the browser's /json/list endpoint.
type Target struct {
	ID                   target.ID `json:"id"`
	Type                 string    `json:"type"`
	Title                string    `json:"title"`
	URL                  string    `json:"url"`
	WebSocketDebuggerURL string    `json:"webSocketDebuggerUrl"`
}

// VersionInfo is the browser's /json/version record.
type VersionInfo struct {
	Browser              string `json:"Browser"`
	ProtocolVersion      string `json:"Protocol-Version"`
	UserAgent            string `json:"User-Agent"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Version queries /json/version.
func Version(ctx context.Context, httpBase string) (*VersionInfo, error) {
	var info VersionInfo
	if err := getJSON(ctx, http.MethodGet, httpBase+"/json/version", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ListTargets fetches the open targets via /json/list.
func ListTargets(ctx context.Context, httpBase string) ([]Target, error) {
	var out []Target
	if err := getJSON(ctx, http.MethodGet, httpBase+"/json/list", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func pageTarget(ctx context.Context, httpBase string) (Target, error) {
	targets, err := ListTargets(ctx, httpBase)
	if err != nil {
		return Target{}, err
	}
	for _, t := range targets {
		if t.Type == "page" && t.WebSocketDebuggerURL != "" {
			return t, nil
		}
	}

	// Recent browsers only accept PUT here.
	var t Target
	if err := getJSON(ctx, http.MethodPut, httpBase+"/json/new", &t); err != nil {
		return Target{}, fmt.Errorf("open tab: %w", err)
	}
	if t.WebSocketDebuggerURL == "" {
		return Target{}, fmt.Errorf("new tab %s has no webSocketDebuggerUrl", t.ID)
	}
	return t, nil
}

func getJSON(ctx context.Context, method, url string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: HTTP %d", req.URL.Path, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}
