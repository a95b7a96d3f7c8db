package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/dgnsrekt/har_capturer/internal/controller"
	"github.com/dgnsrekt/har_capturer/internal/relay"
	"github.com/dgnsrekt/har_capturer/internal/session"
	"github.com/dgnsrekt/har_capturer/internal/snapshot"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Service interface {
	Capture(ctx context.Context, req controller.CaptureRequest) (*controller.CaptureResult, error)
	Health(ctx context.Context) (string, error)
	ListSnapshots(ctx context.Context) ([]snapshot.SnapshotMeta, error)
	GetSnapshot(ctx context.Context, id string) (snapshot.SnapshotMeta, error)
	ReadSnapshotImage(ctx context.Context, id string) ([]byte, string, error)
	DeleteSnapshot(ctx context.Context, id string) error
}

// NewServer builds the HTTP API. broker may be nil, in which case the event
// stream is not mounted.
func NewServer(svc Service, broker *relay.Broker) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("HAR Capturer API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	router.Get("/docs/events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(eventsDocsHTML)); err != nil {
			slog.Debug("events docs response write failed", "error", err)
		}
	})
	if broker != nil {
		router.Get("/api/v1/events", relay.SSEHandler(broker))
	}

	registerCaptureHandlers(api, svc)
	registerMiscHandlers(api, svc)

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *session.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case session.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case session.CodeSnapshotNotFound:
			return huma.Error404NotFound(coded.Message)
		case session.CodeStalled:
			return huma.Error504GatewayTimeout(coded.Error())
		case session.CodeCDPUnavailable, session.CodeInjectionFailed, session.CodeNavigationFailed:
			return huma.Error502BadGateway(coded.Error())
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
