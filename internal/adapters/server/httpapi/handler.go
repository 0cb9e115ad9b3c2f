// Package httpapi provides the REST HTTP adapter for the server surfaces.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hylla/podtrack/internal/adapters/server/common"
)

// maxRequestBodyBytes limits decoded JSON payload size for fail-closed request handling.
// Event payloads carry base64 photos, so the limit is generous.
const maxRequestBodyBytes int64 = 32 << 20

// maxMediaBodyBytes limits one raw media upload.
const maxMediaBodyBytes int64 = 20 << 20

// Handler serves the versioned API subrouter mounted under `/api/v1`.
type Handler struct {
	delivery common.DeliveryService
	media    common.MediaService
}

// APIError represents one structured API failure response.
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Hint    string         `json:"hint,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// ErrorEnvelope wraps one structured API error.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// NewHandler constructs one HTTP API adapter. Media routes are enabled when delivery also implements common.MediaService.
func NewHandler(delivery common.DeliveryService) *Handler {
	h := &Handler{delivery: delivery}
	if media, ok := delivery.(common.MediaService); ok {
		h.media = media
	}
	return h
}

// route is one parsed API path.
type route struct {
	pattern  string
	id       string
	extra    string
	filename string
}

// RoutePattern returns the low-cardinality route template for a request path, or "unknown".
func RoutePattern(path string) string {
	rt, ok := matchRoute(normalizePath(path))
	if !ok {
		return "unknown"
	}
	return rt.pattern
}

// ServeHTTP routes one versioned API request to the matching handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.delivery == nil {
		writeJSONError(w, http.StatusServiceUnavailable, APIError{
			Code:    "service_unavailable",
			Message: "delivery service is not configured",
		})
		return
	}
	rt, ok := matchRoute(normalizePath(r.URL.Path))
	if !ok {
		writeJSONError(w, http.StatusNotFound, APIError{
			Code:    "not_found",
			Message: "endpoint not found",
		})
		return
	}

	switch rt.pattern {
	case "dispatches":
		switch r.Method {
		case http.MethodGet:
			h.handleDashboard(w, r)
		case http.MethodPost:
			h.handleCreateDispatch(w, r)
		default:
			writeMethodNotAllowed(w, http.MethodGet, http.MethodPost)
		}
	case "dispatches/{id}":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.handleGetDispatch(w, r, rt.id)
	case "loadsheets/{id}/events":
		switch r.Method {
		case http.MethodGet:
			h.handleListEvents(w, r, rt.id)
		case http.MethodPost:
			h.handleRecordEvent(w, r, rt.id)
		case http.MethodPatch:
			h.handleUpdateEvent(w, r, keySelector(r, rt.id))
		case http.MethodDelete:
			h.handleDeleteEvent(w, r, keySelector(r, rt.id))
		default:
			writeMethodNotAllowed(w, http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete)
		}
	case "events/{id}":
		switch r.Method {
		case http.MethodGet:
			h.handleGetEvent(w, r, rt.id)
		case http.MethodPatch:
			h.handleUpdateEvent(w, r, common.EventSelector{EventID: rt.id})
		case http.MethodDelete:
			h.handleDeleteEvent(w, r, common.EventSelector{EventID: rt.id})
		default:
			writeMethodNotAllowed(w, http.MethodGet, http.MethodPatch, http.MethodDelete)
		}
	case "loadsheets/{id}/analysis":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.handleAnalysis(w, r, rt.id)
	case "loadsheets/{id}/report":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.handleReport(w, r, rt.id)
	case "loadsheets/{id}/report.md":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.handleReportMarkdown(w, r, rt.id)
	case "media/{id}/{type}/{filename}":
		key := common.MediaKey{LoadsheetID: rt.id, EventType: rt.extra, Filename: rt.filename}
		switch r.Method {
		case http.MethodGet:
			h.handleGetMedia(w, r, key)
		case http.MethodPut:
			h.handlePutMedia(w, r, key)
		default:
			writeMethodNotAllowed(w, http.MethodGet, http.MethodPut)
		}
	}
}

// handleDashboard serves GET `/dispatches`.
func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	rows, err := h.delivery.Dashboard(r.Context())
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"dispatches": rows,
	})
}

// handleCreateDispatch serves POST `/dispatches`.
func (h *Handler) handleCreateDispatch(w http.ResponseWriter, r *http.Request) {
	var req common.CreateDispatchRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	d, err := h.delivery.CreateDispatch(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// handleGetDispatch serves GET `/dispatches/{id}`.
func (h *Handler) handleGetDispatch(w http.ResponseWriter, r *http.Request, loadsheetID string) {
	d, err := h.delivery.GetDispatch(r.Context(), loadsheetID)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleListEvents serves GET `/loadsheets/{id}/events`.
func (h *Handler) handleListEvents(w http.ResponseWriter, r *http.Request, loadsheetID string) {
	events, err := h.delivery.ListEvents(r.Context(), loadsheetID)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
	})
}

// handleRecordEvent serves POST `/loadsheets/{id}/events`.
func (h *Handler) handleRecordEvent(w http.ResponseWriter, r *http.Request, loadsheetID string) {
	var req common.RecordEventRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	if body := strings.TrimSpace(req.LoadsheetID); body != "" && body != loadsheetID {
		writeJSONError(w, http.StatusBadRequest, APIError{
			Code:    "invalid_request",
			Message: "loadsheet_id in body does not match path",
			Context: map[string]any{"path": loadsheetID, "body": body},
		})
		return
	}
	req.LoadsheetID = loadsheetID
	e, err := h.delivery.RecordEvent(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

// handleGetEvent serves GET `/events/{id}`.
func (h *Handler) handleGetEvent(w http.ResponseWriter, r *http.Request, eventID string) {
	e, err := h.delivery.GetEvent(r.Context(), eventID)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// handleUpdateEvent serves PATCH on keyed and id event routes.
func (h *Handler) handleUpdateEvent(w http.ResponseWriter, r *http.Request, selector common.EventSelector) {
	var patch common.EventPatch
	if err := decodeJSONBody(r.Context(), w, r, &patch); err != nil {
		writeErrorFrom(w, err)
		return
	}
	e, err := h.delivery.UpdateEvent(r.Context(), common.UpdateEventRequest{Selector: selector, Patch: patch})
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// handleDeleteEvent serves DELETE on keyed and id event routes.
func (h *Handler) handleDeleteEvent(w http.ResponseWriter, r *http.Request, selector common.EventSelector) {
	e, err := h.delivery.DeleteEvent(r.Context(), selector)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deleted": e,
	})
}

// handleAnalysis serves GET `/loadsheets/{id}/analysis`.
func (h *Handler) handleAnalysis(w http.ResponseWriter, r *http.Request, loadsheetID string) {
	analysis, err := h.delivery.AnalyzeLoadsheet(r.Context(), loadsheetID)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

// handleReport serves GET `/loadsheets/{id}/report`.
func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request, loadsheetID string) {
	m, err := h.delivery.ComposeReport(r.Context(), loadsheetID)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// handleReportMarkdown serves GET `/loadsheets/{id}/report.md`.
func (h *Handler) handleReportMarkdown(w http.ResponseWriter, r *http.Request, loadsheetID string) {
	var buf bytes.Buffer
	if err := h.delivery.RenderReportMarkdown(r.Context(), loadsheetID, &buf); err != nil {
		writeErrorFrom(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// handleGetMedia serves GET `/media/{loadsheet}/{event_type}/{filename}`.
func (h *Handler) handleGetMedia(w http.ResponseWriter, r *http.Request, key common.MediaKey) {
	if h.media == nil {
		writeErrorFrom(w, common.ErrMediaUnavailable)
		return
	}
	rc, err := h.media.OpenMedia(r.Context(), key)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", contentTypeFor(key.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}

// handlePutMedia serves PUT `/media/{loadsheet}/{event_type}/{filename}`.
func (h *Handler) handlePutMedia(w http.ResponseWriter, r *http.Request, key common.MediaKey) {
	if h.media == nil {
		writeErrorFrom(w, common.ErrMediaUnavailable)
		return
	}
	body := http.MaxBytesReader(w, r.Body, maxMediaBodyBytes)
	defer body.Close()
	if err := h.media.PutMedia(r.Context(), key, body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, APIError{
				Code:    "too_large",
				Message: err.Error(),
			})
			return
		}
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"loadsheet_id": key.LoadsheetID,
		"event_type":   key.EventType,
		"filename":     key.Filename,
	})
}

// keySelector builds a (loadsheet, created_at) selector from the request query.
func keySelector(r *http.Request, loadsheetID string) common.EventSelector {
	return common.EventSelector{
		LoadsheetID: loadsheetID,
		CreatedAt:   r.URL.Query().Get("created_at"),
	}
}

// matchRoute parses one normalized path into a known route.
func matchRoute(path string) (route, bool) {
	parts := strings.Split(path, "/")
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return route{}, false
		}
	}
	switch {
	case len(parts) == 1 && parts[0] == "dispatches":
		return route{pattern: "dispatches"}, true
	case len(parts) == 2 && parts[0] == "dispatches":
		return route{pattern: "dispatches/{id}", id: parts[1]}, true
	case len(parts) == 2 && parts[0] == "events":
		return route{pattern: "events/{id}", id: parts[1]}, true
	case len(parts) == 3 && parts[0] == "loadsheets":
		switch parts[2] {
		case "events", "analysis", "report", "report.md":
			return route{pattern: "loadsheets/{id}/" + parts[2], id: parts[1]}, true
		}
	case len(parts) == 4 && parts[0] == "media":
		return route{pattern: "media/{id}/{type}/{filename}", id: parts[1], extra: parts[2], filename: parts[3]}, true
	}
	return route{}, false
}

// normalizePath canonicalizes one request path for route matching.
func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	path = strings.Trim(path, "/")
	return path
}

// contentTypeFor guesses an image content type from a stored filename.
func contentTypeFor(filename string) string {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	case strings.HasSuffix(lower, ".jpg"), strings.HasSuffix(lower, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(lower, ".gif"):
		return "image/gif"
	case strings.HasSuffix(lower, ".webp"):
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

// writeErrorFrom maps adapter errors into structured HTTP responses.
func writeErrorFrom(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSONError(w, http.StatusInternalServerError, APIError{
			Code:    "internal_error",
			Message: "unknown error",
		})
	case errors.Is(err, common.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, APIError{
			Code:    "not_found",
			Message: err.Error(),
		})
	case errors.Is(err, common.ErrConflict):
		writeJSONError(w, http.StatusConflict, APIError{
			Code:    "conflict",
			Message: err.Error(),
			Hint:    "Loadsheet and event ids must be unique.",
		})
	case errors.Is(err, common.ErrNoData):
		writeJSONError(w, http.StatusUnprocessableEntity, APIError{
			Code:    "no_data",
			Message: err.Error(),
			Hint:    "Record at least one event before requesting analysis.",
		})
	case errors.Is(err, common.ErrInvalidRequest):
		writeJSONError(w, http.StatusBadRequest, APIError{
			Code:    "invalid_request",
			Message: err.Error(),
		})
	case errors.Is(err, common.ErrMediaUnavailable):
		writeJSONError(w, http.StatusNotImplemented, APIError{
			Code:    "not_implemented",
			Message: err.Error(),
		})
	default:
		writeJSONError(w, http.StatusInternalServerError, APIError{
			Code:    "internal_error",
			Message: err.Error(),
		})
	}
}

// writeMethodNotAllowed writes a structured 405 response with `Allow` headers.
func writeMethodNotAllowed(w http.ResponseWriter, methods ...string) {
	if len(methods) > 0 {
		w.Header().Set("Allow", strings.Join(methods, ", "))
	}
	writeJSONError(w, http.StatusMethodNotAllowed, APIError{
		Code:    "method_not_allowed",
		Message: "method not allowed",
	})
}

// writeJSONError writes one structured error envelope.
func writeJSONError(w http.ResponseWriter, statusCode int, apiErr APIError) {
	writeJSON(w, statusCode, ErrorEnvelope{Error: apiErr})
}

// writeJSON writes one JSON response envelope.
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":{"code":"encode_error","message":"%s"}}`, err.Error()), http.StatusInternalServerError)
	}
}

// decodeJSONBody decodes one required JSON request body with strict shape checks.
func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, out any) error {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer reader.Close()

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode request body: %w", errors.Join(common.ErrInvalidRequest, err))
	}
	// Reject trailing payloads so malformed JSON bodies fail closed.
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode request body: trailing content: %w", common.ErrInvalidRequest)
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("request canceled: %w", ctx.Err())
	default:
		return nil
	}
}
