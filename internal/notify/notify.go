package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// PageStatus is the per URL line of a run summary.
type PageStatus struct {
	URL string
	OK  bool
}

// Summary formats a plain text report of a capture run.
func Summary(pages []PageStatus, runErr error) string {
	var b strings.Builder
	ok := 0
	for _, p := range pages {
		if p.OK {
			ok++
		}
	}
	if runErr != nil {
		fmt.Fprintf(&b, "HAR capture failed: %v\n", runErr)
	} else {
		fmt.Fprintf(&b, "HAR capture finished: %d/%d pages captured\n", ok, len(pages))
	}
	for _, p := range pages {
		status := "DONE"
		if !p.OK {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "%s %s\n", status, p.URL)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Send posts message as text/plain to endpoint.
func Send(ctx context.Context, client *http.Client, endpoint, message string) error {
	if endpoint == "" {
		return errors.New("notify endpoint is empty")
	}
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Title", "har_capturer")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification failed: status=%d", resp.StatusCode)
	}
	return nil
}
