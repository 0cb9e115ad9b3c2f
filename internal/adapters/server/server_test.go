package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/hylla/podtrack/internal/adapters/server/common"
	"github.com/hylla/podtrack/internal/report"
)

// stubDelivery answers only dispatch lookups; every other call reports not found.
type stubDelivery struct{}

func (stubDelivery) CreateDispatch(context.Context, common.CreateDispatchRequest) (common.Dispatch, error) {
	return common.Dispatch{}, common.ErrConflict
}

func (stubDelivery) GetDispatch(_ context.Context, id string) (common.Dispatch, error) {
	if id != "LS-1" {
		return common.Dispatch{}, fmt.Errorf("dispatch %q: %w", id, common.ErrNotFound)
	}
	return common.Dispatch{LoadsheetID: "LS-1"}, nil
}

func (stubDelivery) Dashboard(context.Context) ([]common.DashboardRow, error) {
	return []common.DashboardRow{}, nil
}

func (stubDelivery) ListEvents(context.Context, string) ([]common.Event, error) {
	return []common.Event{}, nil
}

func (stubDelivery) GetEvent(context.Context, string) (common.Event, error) {
	return common.Event{}, common.ErrNotFound
}

func (stubDelivery) RecordEvent(context.Context, common.RecordEventRequest) (common.Event, error) {
	return common.Event{}, common.ErrNotFound
}

func (stubDelivery) UpdateEvent(context.Context, common.UpdateEventRequest) (common.Event, error) {
	return common.Event{}, common.ErrNotFound
}

func (stubDelivery) DeleteEvent(context.Context, common.EventSelector) (common.Event, error) {
	return common.Event{}, common.ErrNotFound
}

func (stubDelivery) AnalyzeLoadsheet(context.Context, string) (common.Analysis, error) {
	return common.Analysis{}, common.ErrNoData
}

func (stubDelivery) ComposeReport(context.Context, string) (report.Model, error) {
	return report.Model{}, common.ErrNotFound
}

func (stubDelivery) RenderReportMarkdown(context.Context, string, io.Writer) error {
	return common.ErrNotFound
}

// recordingLogger captures request log lines.
type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) Info(msg string, keyvals ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprint(append([]any{msg}, keyvals...)...))
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

// TestNewHandlerRoutesAPIAndHealth verifies mounts, readiness, metrics, and request logging.
func TestNewHandlerRoutesAPIAndHealth(t *testing.T) {
	logger := &recordingLogger{}
	ready := errors.New("db closed")
	var readyErr error
	handler, cfg, err := NewHandler(Config{}, Dependencies{
		Delivery: stubDelivery{},
		Logger:   logger,
		Ready:    func(context.Context) error { return readyErr },
	})
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	if cfg.APIEndpoint != "/api/v1" || cfg.MCPEndpoint != "/mcp" || cfg.HTTPBind != defaultBindAddress {
		t.Fatalf("unexpected normalized config %#v", cfg)
	}

	if rec := get(t, handler, "/healthz"); rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
	if rec := get(t, handler, "/readyz"); rec.Code != http.StatusOK {
		t.Fatalf("readyz status = %d", rec.Code)
	}
	readyErr = ready
	if rec := get(t, handler, "/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz status = %d, want 503", rec.Code)
	}

	if rec := get(t, handler, "/api/v1/dispatches/LS-1"); rec.Code != http.StatusOK {
		t.Fatalf("dispatch status = %d, body %s", rec.Code, rec.Body.String())
	}
	if rec := get(t, handler, "/api/v1/dispatches/LS-2"); rec.Code != http.StatusNotFound {
		t.Fatalf("missing dispatch status = %d", rec.Code)
	}

	rec := get(t, handler, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "podtrack_http_request_duration_seconds") {
		t.Fatalf("metrics output missing request histogram")
	}

	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.lines) < 6 {
		t.Fatalf("expected request log lines, got %d", len(logger.lines))
	}
}

// TestNewHandlerRequiresDelivery verifies dependency enforcement.
func TestNewHandlerRequiresDelivery(t *testing.T) {
	if _, _, err := NewHandler(Config{}, Dependencies{}); err == nil {
		t.Fatal("NewHandler() error = nil, want error")
	}
}

// TestNormalizeConfig verifies endpoint defaults and collision checks.
func TestNormalizeConfig(t *testing.T) {
	cases := []struct {
		name    string
		in      Config
		wantErr bool
		wantAPI string
	}{
		{name: "defaults", in: Config{}, wantAPI: "/api/v1"},
		{name: "trim slashes", in: Config{APIEndpoint: "api/"}, wantAPI: "/api"},
		{name: "collision", in: Config{APIEndpoint: "/x", MCPEndpoint: "x"}, wantErr: true},
		{name: "reserved", in: Config{APIEndpoint: "/metrics"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := normalizeConfig(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("normalizeConfig() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("normalizeConfig() error = %v", err)
			}
			if got.APIEndpoint != tc.wantAPI {
				t.Fatalf("api endpoint = %q, want %q", got.APIEndpoint, tc.wantAPI)
			}
		})
	}
}

// TestRouteLabel verifies metric labels stay bounded.
func TestRouteLabel(t *testing.T) {
	cfg := Config{APIEndpoint: "/api/v1", MCPEndpoint: "/mcp"}
	cases := map[string]string{
		"/healthz":                          "healthz",
		"/mcp":                              "mcp",
		"/api/v1/loadsheets/LS-77/analysis": "api/loadsheets/{id}/analysis",
		"/api/v1/nope":                      "api/unknown",
		"/favicon.ico":                      "unknown",
	}
	for path, want := range cases {
		if got := routeLabel(cfg, path); got != want {
			t.Fatalf("routeLabel(%q) = %q, want %q", path, got, want)
		}
	}
}
