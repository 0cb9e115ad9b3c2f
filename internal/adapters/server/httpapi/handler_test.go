package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hylla/podtrack/internal/adapters/server/common"
	"github.com/hylla/podtrack/internal/report"
)

// stubDeliveryService provides deterministic delivery responses for handler tests.
type stubDeliveryService struct {
	dispatch     common.Dispatch
	rows         []common.DashboardRow
	events       []common.Event
	event        common.Event
	analysis     common.Analysis
	model        report.Model
	markdown     string
	err          error
	lastCreate   common.CreateDispatchRequest
	lastRecord   common.RecordEventRequest
	lastUpdate   common.UpdateEventRequest
	lastDelete   common.EventSelector
	lastID       string
	lastMediaKey common.MediaKey
	media        map[string]string
}

func (s *stubDeliveryService) CreateDispatch(_ context.Context, req common.CreateDispatchRequest) (common.Dispatch, error) {
	s.lastCreate = req
	return s.dispatch, s.err
}

func (s *stubDeliveryService) GetDispatch(_ context.Context, id string) (common.Dispatch, error) {
	s.lastID = id
	return s.dispatch, s.err
}

func (s *stubDeliveryService) Dashboard(context.Context) ([]common.DashboardRow, error) {
	return s.rows, s.err
}

func (s *stubDeliveryService) ListEvents(_ context.Context, id string) ([]common.Event, error) {
	s.lastID = id
	return s.events, s.err
}

func (s *stubDeliveryService) GetEvent(_ context.Context, id string) (common.Event, error) {
	s.lastID = id
	return s.event, s.err
}

func (s *stubDeliveryService) RecordEvent(_ context.Context, req common.RecordEventRequest) (common.Event, error) {
	s.lastRecord = req
	return s.event, s.err
}

func (s *stubDeliveryService) UpdateEvent(_ context.Context, req common.UpdateEventRequest) (common.Event, error) {
	s.lastUpdate = req
	return s.event, s.err
}

func (s *stubDeliveryService) DeleteEvent(_ context.Context, sel common.EventSelector) (common.Event, error) {
	s.lastDelete = sel
	return s.event, s.err
}

func (s *stubDeliveryService) AnalyzeLoadsheet(_ context.Context, id string) (common.Analysis, error) {
	s.lastID = id
	return s.analysis, s.err
}

func (s *stubDeliveryService) ComposeReport(_ context.Context, id string) (report.Model, error) {
	s.lastID = id
	return s.model, s.err
}

func (s *stubDeliveryService) RenderReportMarkdown(_ context.Context, id string, w io.Writer) error {
	s.lastID = id
	if s.err != nil {
		return s.err
	}
	_, err := io.WriteString(w, s.markdown)
	return err
}

// stubMediaDeliveryService adds the optional media surface.
type stubMediaDeliveryService struct {
	stubDeliveryService
}

func (s *stubMediaDeliveryService) PutMedia(_ context.Context, key common.MediaKey, body io.Reader) error {
	s.lastMediaKey = key
	if s.err != nil {
		return s.err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if s.media == nil {
		s.media = map[string]string{}
	}
	s.media[key.Filename] = string(data)
	return nil
}

func (s *stubMediaDeliveryService) OpenMedia(_ context.Context, key common.MediaKey) (io.ReadCloser, error) {
	s.lastMediaKey = key
	data, ok := s.media[key.Filename]
	if !ok {
		return nil, fmt.Errorf("media: %w", common.ErrNotFound)
	}
	return io.NopCloser(strings.NewReader(data)), nil
}

// serve runs one request through the handler and returns the recorder.
func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// decodeEnvelope decodes one structured error response.
func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) ErrorEnvelope {
	t.Helper()
	var env ErrorEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	return env
}

// TestHandlerCreateDispatch verifies body decoding and 201 responses.
func TestHandlerCreateDispatch(t *testing.T) {
	svc := &stubDeliveryService{dispatch: common.Dispatch{LoadsheetID: "LS-1", PanelCount: 2}}
	rec := serve(NewHandler(svc), http.MethodPost, "/dispatches", `{"loadsheet_id":"LS-1","job_id":"J-1","panels":"A;B"}`)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	if svc.lastCreate.LoadsheetID != "LS-1" || svc.lastCreate.Panels != "A;B" {
		t.Fatalf("unexpected request %#v", svc.lastCreate)
	}
	var got common.Dispatch
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.PanelCount != 2 {
		t.Fatalf("panel_count = %d, want 2", got.PanelCount)
	}
}

// TestHandlerRejectsUnknownFields verifies strict JSON decoding.
func TestHandlerRejectsUnknownFields(t *testing.T) {
	svc := &stubDeliveryService{}
	rec := serve(NewHandler(svc), http.MethodPost, "/dispatches", `{"loadsheet_id":"LS-1","bogus":true}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if env := decodeEnvelope(t, rec); env.Error.Code != "invalid_request" {
		t.Fatalf("code = %q, want invalid_request", env.Error.Code)
	}
}

// TestHandlerRecordEventUsesPathLoadsheet verifies the path id wins and mismatches fail.
func TestHandlerRecordEventUsesPathLoadsheet(t *testing.T) {
	svc := &stubDeliveryService{event: common.Event{ID: "ev-1"}}
	h := NewHandler(svc)

	rec := serve(h, http.MethodPost, "/loadsheets/LS-1/events", `{"event_type":"arrived_site","staff_name":"Jo"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	if svc.lastRecord.LoadsheetID != "LS-1" || svc.lastRecord.EventType != "arrived_site" {
		t.Fatalf("unexpected record request %#v", svc.lastRecord)
	}

	rec = serve(h, http.MethodPost, "/loadsheets/LS-1/events", `{"loadsheet_id":"LS-2","event_type":"arrived_site"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

// TestHandlerKeyedUpdateAndDelete verifies created_at query selectors.
func TestHandlerKeyedUpdateAndDelete(t *testing.T) {
	svc := &stubDeliveryService{event: common.Event{ID: "ev-1"}}
	h := NewHandler(svc)
	at := time.Date(2026, 3, 2, 7, 0, 0, 5, time.UTC).Format(time.RFC3339Nano)

	rec := serve(h, http.MethodPatch, "/loadsheets/LS-1/events?created_at="+at, `{"outcome":"partial","delivered_panel_ids":["A"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	sel := svc.lastUpdate.Selector
	if sel.LoadsheetID != "LS-1" || sel.CreatedAt != at || sel.EventID != "" {
		t.Fatalf("unexpected selector %#v", sel)
	}
	if svc.lastUpdate.Patch.Outcome == nil || *svc.lastUpdate.Patch.Outcome != "partial" {
		t.Fatalf("unexpected patch %#v", svc.lastUpdate.Patch)
	}
	if svc.lastUpdate.Patch.DeliveredPanelIDs == nil || len(*svc.lastUpdate.Patch.DeliveredPanelIDs) != 1 {
		t.Fatalf("expected delivered panels in patch, got %#v", svc.lastUpdate.Patch)
	}

	rec = serve(h, http.MethodDelete, "/events/ev-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if svc.lastDelete.EventID != "ev-1" {
		t.Fatalf("unexpected delete selector %#v", svc.lastDelete)
	}
}

// TestHandlerErrorMapping verifies structured status mapping for service errors.
func TestHandlerErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", fmt.Errorf("x: %w", common.ErrNotFound), http.StatusNotFound, "not_found"},
		{"conflict", fmt.Errorf("x: %w", common.ErrConflict), http.StatusConflict, "conflict"},
		{"no data", fmt.Errorf("x: %w", common.ErrNoData), http.StatusUnprocessableEntity, "no_data"},
		{"invalid", fmt.Errorf("x: %w", common.ErrInvalidRequest), http.StatusBadRequest, "invalid_request"},
		{"internal", errors.New("disk on fire"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubDeliveryService{err: tc.err}
			rec := serve(NewHandler(svc), http.MethodGet, "/loadsheets/LS-1/analysis", "")
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d", rec.Code, tc.status)
			}
			if env := decodeEnvelope(t, rec); env.Error.Code != tc.code {
				t.Fatalf("code = %q, want %q", env.Error.Code, tc.code)
			}
		})
	}
}

// TestHandlerRoutingFailures verifies unknown paths and methods.
func TestHandlerRoutingFailures(t *testing.T) {
	h := NewHandler(&stubDeliveryService{})

	if rec := serve(h, http.MethodGet, "/loadsheets/LS-1/unknown", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	rec := serve(h, http.MethodPost, "/loadsheets/LS-1/analysis", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
	if got := rec.Header().Get("Allow"); got != http.MethodGet {
		t.Fatalf("Allow = %q, want GET", got)
	}
	if rec := serve(NewHandler(nil), http.MethodGet, "/dispatches", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

// TestHandlerReportMarkdown verifies markdown content type and body.
func TestHandlerReportMarkdown(t *testing.T) {
	svc := &stubDeliveryService{markdown: "# Proof of Delivery\n"}
	rec := serve(NewHandler(svc), http.MethodGet, "/loadsheets/LS-1/report.md", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Fatalf("Content-Type = %q", ct)
	}
	if rec.Body.String() != svc.markdown || svc.lastID != "LS-1" {
		t.Fatalf("unexpected body %q for %q", rec.Body.String(), svc.lastID)
	}
}

// TestHandlerMediaRoutes verifies upload and download when media support is present.
func TestHandlerMediaRoutes(t *testing.T) {
	if rec := serve(NewHandler(&stubDeliveryService{}), http.MethodGet, "/media/LS-1/arrived_site/a.jpg", ""); rec.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotImplemented)
	}

	svc := &stubMediaDeliveryService{}
	h := NewHandler(svc)
	rec := serve(h, http.MethodPut, "/media/LS-1/arrived_site/a.jpg", "jpegdata")
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	if svc.lastMediaKey != (common.MediaKey{LoadsheetID: "LS-1", EventType: "arrived_site", Filename: "a.jpg"}) {
		t.Fatalf("unexpected key %#v", svc.lastMediaKey)
	}

	rec = serve(h, http.MethodGet, "/media/LS-1/arrived_site/a.jpg", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "jpegdata" {
		t.Fatalf("unexpected download %d %q", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Fatalf("Content-Type = %q", ct)
	}
	if rec := serve(h, http.MethodGet, "/media/LS-1/arrived_site/missing.jpg", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

// TestRoutePattern verifies metric route labels stay low-cardinality.
func TestRoutePattern(t *testing.T) {
	cases := map[string]string{
		"/dispatches":                 "dispatches",
		"/dispatches/LS-9/":           "dispatches/{id}",
		"/loadsheets/LS-9/report.md":  "loadsheets/{id}/report.md",
		"/media/LS-9/left_site/x.png": "media/{id}/{type}/{filename}",
		"/loadsheets//events":         "unknown",
	}
	for path, want := range cases {
		if got := RoutePattern(path); got != want {
			t.Fatalf("RoutePattern(%q) = %q, want %q", path, got, want)
		}
	}
}
