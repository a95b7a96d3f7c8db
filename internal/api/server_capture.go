package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/har_capturer/internal/cdp"
	"github.com/dgnsrekt/har_capturer/internal/controller"
	"github.com/dgnsrekt/har_capturer/internal/har"
	"github.com/dgnsrekt/har_capturer/internal/session"
	"github.com/dgnsrekt/har_capturer/internal/snapshot"
)

type captureInput struct {
	Body struct {
		URLs            []string `json:"urls" minItems:"1" doc:"Pages to load, in order. A missing scheme defaults to http://"`
		FetchBodies     *bool    `json:"fetch_bodies,omitempty" doc:"Store response bodies in the archive"`
		PreserveCache   *bool    `json:"preserve_cache,omitempty" doc:"Keep the browser cache between pages"`
		Screenshot      *bool    `json:"screenshot,omitempty" doc:"Save a screenshot after the load event"`
		TimeoutMS       int      `json:"timeout_ms,omitempty" minimum:"0" doc:"Abort the run after this many milliseconds (0 uses the server default)"`
		IncludeMessages bool     `json:"include_messages,omitempty" doc:"Return every protocol message received during the run"`
	}
}

type captureOutput struct {
	Body struct {
		ID          string                 `json:"id"`
		HAR         *har.HAR               `json:"har"`
		Pages       []session.PageResult   `json:"pages"`
		Snapshot    *snapshot.SnapshotMeta `json:"snapshot,omitempty"`
		SnapshotURL string                 `json:"snapshot_url,omitempty"`
		Messages    []cdp.Message          `json:"messages,omitempty"`
	}
}

func registerCaptureHandlers(api huma.API, svc Service) {
	huma.Register(api, huma.Operation{
		OperationID: "create-capture",
		Method:      http.MethodPost,
		Path:        "/api/v1/captures",
		Summary:     "Capture pages into a HAR archive",
		Description: "Loads each URL in the browser tab one after another and returns the merged HAR 1.2 document. Pages whose main request fails are reported in pages but left out of the archive.",
		Tags:        []string{"Capture"},
	}, func(ctx context.Context, input *captureInput) (*captureOutput, error) {
		res, err := svc.Capture(ctx, controller.CaptureRequest{
			URLs:            input.Body.URLs,
			FetchBodies:     input.Body.FetchBodies,
			PreserveCache:   input.Body.PreserveCache,
			Screenshot:      input.Body.Screenshot,
			Timeout:         time.Duration(input.Body.TimeoutMS) * time.Millisecond,
			IncludeMessages: input.Body.IncludeMessages,
		})
		if err != nil {
			return nil, mapErr(err)
		}
		out := &captureOutput{}
		out.Body.ID = res.ID
		out.Body.HAR = res.HAR
		out.Body.Pages = res.Pages
		out.Body.Messages = res.Messages
		if res.Snapshot != nil {
			out.Body.Snapshot = res.Snapshot
			out.Body.SnapshotURL = "/api/v1/snapshots/" + res.Snapshot.ID + "/image"
		}
		return out, nil
	})
}
