package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func TestSendPostsSummary(t *testing.T) {
	ctx := context.Background()
	message := Summary([]PageStatus{{URL: "http://a/", OK: true}, {URL: "http://b/"}}, nil)

	var receivedMethod string
	var receivedPath string
	var receivedBody string
	var receivedContentType string

	client := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			receivedMethod = r.Method
			receivedPath = r.URL.Path
			receivedContentType = r.Header.Get("Content-Type")
			rawBody, err := io.ReadAll(r.Body)
			if err != nil {
				t.Fatalf("read body: %v", err)
			}
			receivedBody = string(rawBody)
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader("ok")),
				Header:     make(http.Header),
			}, nil
		}),
	}

	if err := Send(ctx, client, "http://example.com/har", message); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if got, want := receivedMethod, http.MethodPost; got != want {
		t.Fatalf("method = %q; want %q", got, want)
	}
	if got, want := receivedPath, "/har"; got != want {
		t.Fatalf("path = %q; want %q", got, want)
	}
	if got, want := receivedContentType, "text/plain"; got != want {
		t.Fatalf("content-type = %q; want %q", got, want)
	}
	if got, want := receivedBody, message; got != want {
		t.Fatalf("body = %q; want %q", got, want)
	}
}

func TestSummary(t *testing.T) {
	got := Summary([]PageStatus{{URL: "http://a/", OK: true}, {URL: "http://b/"}}, nil)
	want := "HAR capture finished: 1/2 pages captured\nDONE http://a/\nFAIL http://b/"
	if got != want {
		t.Fatalf("Summary() = %q; want %q", got, want)
	}

	got = Summary(nil, errors.New("boom"))
	if got != "HAR capture failed: boom" {
		t.Fatalf("Summary(err) = %q", got)
	}
}

func TestSendReturnsErrorForServerError(t *testing.T) {
	ctx := context.Background()

	client := &http.Client{
		Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusInternalServerError,
				Body:       io.NopCloser(strings.NewReader("server failure")),
				Header:     make(http.Header),
			}, nil
		}),
	}

	err := Send(ctx, client, "http://example.com/har", "x")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "notification failed") {
		t.Fatalf("error = %q; want to contain %q", err, "notification failed")
	}
}

func TestSendDisallowsMissingEndpoint(t *testing.T) {
	ctx := context.Background()
	err := Send(ctx, http.DefaultClient, "", "x")
	if err == nil {
		t.Fatal("expected error for missing endpoint")
	}
}
