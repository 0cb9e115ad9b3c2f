package common

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/hylla/podtrack/internal/app"
	"github.com/hylla/podtrack/internal/domain"
	"github.com/hylla/podtrack/internal/report"
)

// AppServiceAdapter maps transport contracts onto app.Service delivery APIs.
type AppServiceAdapter struct {
	service  *app.Service
	renderer report.Renderer
}

// NewAppServiceAdapter builds one common adapter over an app.Service instance.
// The renderer backs RenderReportMarkdown and may be nil when only JSON reports are served.
func NewAppServiceAdapter(service *app.Service, renderer report.Renderer) *AppServiceAdapter {
	return &AppServiceAdapter{service: service, renderer: renderer}
}

// CreateDispatch records one new dispatch.
func (a *AppServiceAdapter) CreateDispatch(ctx context.Context, in CreateDispatchRequest) (Dispatch, error) {
	if err := a.ready(); err != nil {
		return Dispatch{}, err
	}
	panels := append([]string(nil), in.PanelIDs...)
	panels = append(panels, domain.ParsePanelList(in.Panels)...)
	d, err := a.service.CreateDispatch(ctx, app.CreateDispatchInput{
		LoadsheetID: in.LoadsheetID,
		JobID:       in.JobID,
		Description: in.Description,
		Driver:      in.Driver,
		PanelIDs:    panels,
	})
	if err != nil {
		return Dispatch{}, mapAppError("create dispatch", err)
	}
	return mapDispatch(d), nil
}

// GetDispatch returns one dispatch.
func (a *AppServiceAdapter) GetDispatch(ctx context.Context, loadsheetID string) (Dispatch, error) {
	if err := a.ready(); err != nil {
		return Dispatch{}, err
	}
	d, err := a.service.GetDispatch(ctx, loadsheetID)
	if err != nil {
		return Dispatch{}, mapAppError("get dispatch", err)
	}
	return mapDispatch(d), nil
}

// Dashboard lists every loadsheet with its latest event and analysis.
func (a *AppServiceAdapter) Dashboard(ctx context.Context) ([]DashboardRow, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	rows, err := a.service.Dashboard(ctx)
	if err != nil {
		return nil, mapAppError("dashboard", err)
	}
	policy := a.service.ChargePolicy()
	out := make([]DashboardRow, 0, len(rows))
	for _, row := range rows {
		item := DashboardRow{
			Dispatch:   mapDispatch(row.Dispatch),
			Dispatched: row.Dispatched,
			EventCount: len(row.Events),
		}
		if n := len(row.Events); n > 0 {
			last := mapEvent(row.Events[n-1])
			item.LastEvent = &last
		}
		if row.Analysis != nil {
			analysis := mapAnalysis(*row.Analysis, policy)
			item.Analysis = &analysis
		}
		out = append(out, item)
	}
	return out, nil
}

// ListEvents returns one loadsheet's events in storage order.
func (a *AppServiceAdapter) ListEvents(ctx context.Context, loadsheetID string) ([]Event, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	events, err := a.service.ListEvents(ctx, loadsheetID)
	if err != nil {
		return nil, mapAppError("list events", err)
	}
	out := make([]Event, 0, len(events))
	for _, e := range events {
		out = append(out, mapEvent(e))
	}
	return out, nil
}

// GetEvent returns one event by id.
func (a *AppServiceAdapter) GetEvent(ctx context.Context, eventID string) (Event, error) {
	if err := a.ready(); err != nil {
		return Event{}, err
	}
	e, err := a.service.GetEvent(ctx, eventID)
	if err != nil {
		return Event{}, mapAppError("get event", err)
	}
	return mapEvent(e), nil
}

// RecordEvent decodes attachments and appends one lifecycle event.
func (a *AppServiceAdapter) RecordEvent(ctx context.Context, in RecordEventRequest) (Event, error) {
	if err := a.ready(); err != nil {
		return Event{}, err
	}
	typ, err := domain.ParseEventType(in.EventType)
	if err != nil {
		return Event{}, mapAppError("record event", err)
	}
	outcome, err := domain.ParseOutcome(in.Outcome)
	if err != nil {
		return Event{}, mapAppError("record event", err)
	}
	photos := make([]app.Attachment, 0, len(in.Photos))
	for i, raw := range in.Photos {
		body, err := app.DecodeDataURL(raw)
		if err != nil {
			return Event{}, mapAppError(fmt.Sprintf("record event: photo %d", i+1), err)
		}
		photos = append(photos, app.Attachment{Ext: dataURLExt(raw), Body: bytes.NewReader(body)})
	}
	e, err := a.service.RecordEvent(ctx, app.RecordEventInput{
		LoadsheetID:       in.LoadsheetID,
		JobID:             in.JobID,
		Type:              typ,
		StaffName:         in.StaffName,
		ReceiverName:      in.ReceiverName,
		FailureReason:     in.FailureReason,
		Outcome:           outcome,
		DeliveredPanelIDs: in.DeliveredPanelIDs,
		Photos:            photos,
		APSignature:       in.APSignature,
		ReceiverSignature: in.ReceiverSignature,
	})
	if err != nil {
		return Event{}, mapAppError("record event", err)
	}
	return mapEvent(e), nil
}

// UpdateEvent patches one event addressed by id or by (loadsheet, created_at).
func (a *AppServiceAdapter) UpdateEvent(ctx context.Context, in UpdateEventRequest) (Event, error) {
	if err := a.ready(); err != nil {
		return Event{}, err
	}
	patch, err := convertPatch(in.Patch)
	if err != nil {
		return Event{}, mapAppError("update event", err)
	}
	var e domain.Event
	if id := strings.TrimSpace(in.Selector.EventID); id != "" {
		e, err = a.service.UpdateEventByID(ctx, id, patch)
	} else {
		at, parseErr := ParseTimestamp(in.Selector.CreatedAt)
		if parseErr != nil {
			return Event{}, mapAppError("update event", parseErr)
		}
		e, err = a.service.UpdateEvent(ctx, in.Selector.LoadsheetID, at, patch)
	}
	if err != nil {
		return Event{}, mapAppError("update event", err)
	}
	return mapEvent(e), nil
}

// DeleteEvent removes one event addressed by id or by (loadsheet, created_at).
func (a *AppServiceAdapter) DeleteEvent(ctx context.Context, in EventSelector) (Event, error) {
	if err := a.ready(); err != nil {
		return Event{}, err
	}
	var (
		e   domain.Event
		err error
	)
	if id := strings.TrimSpace(in.EventID); id != "" {
		e, err = a.service.DeleteEventByID(ctx, id)
	} else {
		at, parseErr := ParseTimestamp(in.CreatedAt)
		if parseErr != nil {
			return Event{}, mapAppError("delete event", parseErr)
		}
		e, err = a.service.DeleteEvent(ctx, in.LoadsheetID, at)
	}
	if err != nil {
		return Event{}, mapAppError("delete event", err)
	}
	return mapEvent(e), nil
}

// AnalyzeLoadsheet returns the timing analysis for one loadsheet.
func (a *AppServiceAdapter) AnalyzeLoadsheet(ctx context.Context, loadsheetID string) (Analysis, error) {
	if err := a.ready(); err != nil {
		return Analysis{}, err
	}
	analysis, err := a.service.AnalyzeLoadsheet(ctx, loadsheetID)
	if err != nil {
		return Analysis{}, mapAppError("analyze loadsheet", err)
	}
	return mapAnalysis(analysis, a.service.ChargePolicy()), nil
}

// ComposeReport returns the structured proof-of-delivery document.
func (a *AppServiceAdapter) ComposeReport(ctx context.Context, loadsheetID string) (report.Model, error) {
	if err := a.ready(); err != nil {
		return report.Model{}, err
	}
	m, err := a.service.ComposeReport(ctx, loadsheetID)
	if err != nil {
		return report.Model{}, mapAppError("compose report", err)
	}
	return m, nil
}

// RenderReportMarkdown writes the document through the configured renderer.
func (a *AppServiceAdapter) RenderReportMarkdown(ctx context.Context, loadsheetID string, w io.Writer) error {
	if err := a.ready(); err != nil {
		return err
	}
	if a.renderer == nil {
		return fmt.Errorf("render report: renderer is not configured: %w", ErrInvalidRequest)
	}
	if err := a.service.RenderReport(ctx, loadsheetID, w, a.renderer, nil); err != nil {
		return mapAppError("render report", err)
	}
	return nil
}

// PutMedia stores one uploaded photo or signature.
func (a *AppServiceAdapter) PutMedia(ctx context.Context, key MediaKey, body io.Reader) error {
	if err := a.ready(); err != nil {
		return err
	}
	typ, err := domain.ParseEventType(key.EventType)
	if err != nil {
		return mapAppError("put media", err)
	}
	if err := a.service.SaveMedia(ctx, key.LoadsheetID, typ, key.Filename, body); err != nil {
		return mapAppError("put media", err)
	}
	return nil
}

// OpenMedia opens one stored photo or signature.
func (a *AppServiceAdapter) OpenMedia(ctx context.Context, key MediaKey) (io.ReadCloser, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	typ, err := domain.ParseEventType(key.EventType)
	if err != nil {
		return nil, mapAppError("open media", err)
	}
	rc, err := a.service.OpenMedia(ctx, key.LoadsheetID, typ, key.Filename)
	if err != nil {
		return nil, mapAppError("open media", err)
	}
	return rc, nil
}

// ParseTimestamp parses an RFC3339 event key as emitted in event payloads.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("created_at is required: %w", ErrInvalidRequest)
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("created_at %q: %w", raw, errors.Join(ErrInvalidRequest, err))
	}
	return ts.UTC(), nil
}

func (a *AppServiceAdapter) ready() error {
	if a == nil || a.service == nil {
		return fmt.Errorf("app service adapter is not configured: %w", ErrInvalidRequest)
	}
	return nil
}

func convertPatch(in EventPatch) (domain.EventPatch, error) {
	out := domain.EventPatch{
		StaffName:         in.StaffName,
		ReceiverName:      in.ReceiverName,
		FailureReason:     in.FailureReason,
		DeliveredPanelIDs: in.DeliveredPanelIDs,
	}
	if in.Outcome != nil {
		outcome := domain.Outcome(strings.ToLower(strings.TrimSpace(*in.Outcome)))
		out.Outcome = &outcome
	}
	if in.CreatedAt != nil {
		at, err := ParseTimestamp(*in.CreatedAt)
		if err != nil {
			return domain.EventPatch{}, err
		}
		out.CreatedAt = &at
	}
	if out.IsEmpty() {
		return domain.EventPatch{}, fmt.Errorf("patch has no fields: %w", ErrInvalidRequest)
	}
	return out, nil
}

// dataURLExt derives a file extension from a data URL media type.
func dataURLExt(dataURL string) string {
	header, _, _ := strings.Cut(strings.TrimPrefix(strings.TrimSpace(dataURL), "data:"), ",")
	mediaType, _, _ := strings.Cut(header, ";")
	switch mediaType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

func mapDispatch(d domain.Dispatch) Dispatch {
	return Dispatch{
		LoadsheetID: d.LoadsheetID,
		JobID:       d.JobID,
		Description: d.Description,
		Driver:      d.Driver,
		CreatedAt:   d.CreatedAt,
		PanelIDs:    append([]string{}, d.PanelIDs...),
		PanelCount:  d.PanelCount(),
	}
}

func mapEvent(e domain.Event) Event {
	return Event{
		ID:                e.ID,
		LoadsheetID:       e.LoadsheetID,
		JobID:             e.JobID,
		EventType:         string(e.Type),
		CreatedAt:         e.CreatedAt,
		StaffName:         e.StaffName,
		ReceiverName:      e.ReceiverName,
		FailureReason:     e.FailureReason,
		Outcome:           string(e.Outcome),
		DeliveredPanelIDs: append([]string(nil), e.DeliveredPanelIDs...),
		Media:             append([]domain.MediaRef(nil), e.Media...),
	}
}

func mapAnalysis(in domain.Analysis, policy domain.ChargePolicy) Analysis {
	out := Analysis{
		LoadsheetID:          in.LoadsheetID,
		JobID:                in.JobID,
		EventCount:           in.EventCount,
		LeftDepotAt:          in.LeftDepotAt,
		ArrivedAt:            in.ArrivedAt,
		LeftSiteAt:           in.LeftSiteAt,
		BackCharge:           in.BackCharge,
		FreeAllowanceMinutes: policy.FreeAllowance.Minutes(),
		HourlyRate:           policy.HourlyRate,
	}
	if in.Travel != nil {
		secs := in.Travel.Seconds()
		out.TravelSeconds = &secs
		out.Travel = in.Travel.String()
	}
	if in.OnSite != nil {
		secs := in.OnSite.Seconds()
		out.OnSiteSeconds = &secs
		out.OnSite = in.OnSite.String()
	}
	return out
}

// mapAppError maps app/domain errors into transport-layer error sentinels.
func mapAppError(operation string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, app.ErrNotFound):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrNotFound, err))
	case errors.Is(err, app.ErrDuplicateKey):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrConflict, err))
	case errors.Is(err, app.ErrNoData):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrNoData, err))
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, app.ErrMalformedPatch),
		errors.Is(err, app.ErrInvalidMedia),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrInvalidEventType),
		errors.Is(err, domain.ErrInvalidOutcome),
		errors.Is(err, domain.ErrInvalidMediaRole),
		errors.Is(err, domain.ErrInvalidFilename),
		errors.Is(err, domain.ErrInvalidTimestamp):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrInvalidRequest, err))
	default:
		return fmt.Errorf("%s: %w", operation, err)
	}
}
