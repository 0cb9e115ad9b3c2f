// Package common provides transport-agnostic server contracts used by HTTP and MCP adapters.
package common

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/hylla/podtrack/internal/domain"
	"github.com/hylla/podtrack/internal/report"
)

// ErrInvalidRequest reports malformed transport input or failed domain validation.
var ErrInvalidRequest = errors.New("invalid request")

// ErrNotFound reports missing transport-visible resources.
var ErrNotFound = errors.New("not found")

// ErrConflict reports an attempt to create a record that already exists.
var ErrConflict = errors.New("conflict")

// ErrNoData reports an analysis request for a loadsheet without events.
var ErrNoData = errors.New("no data")

// ErrMediaUnavailable reports missing media backing support.
var ErrMediaUnavailable = errors.New("media surface unavailable")

// Dispatch is the transport view of one loadsheet dispatch record.
type Dispatch struct {
	LoadsheetID string    `json:"loadsheet_id"`
	JobID       string    `json:"job_id"`
	Description string    `json:"description"`
	Driver      string    `json:"driver"`
	CreatedAt   time.Time `json:"created_at"`
	PanelIDs    []string  `json:"panel_ids"`
	PanelCount  int       `json:"panel_count"`
}

// Event is the transport view of one lifecycle event.
type Event struct {
	ID                string            `json:"id"`
	LoadsheetID       string            `json:"loadsheet_id"`
	JobID             string            `json:"job_id"`
	EventType         string            `json:"event_type"`
	CreatedAt         time.Time         `json:"created_at"`
	StaffName         string            `json:"staff_name,omitempty"`
	ReceiverName      string            `json:"receiver_name,omitempty"`
	FailureReason     string            `json:"failure_reason,omitempty"`
	Outcome           string            `json:"outcome,omitempty"`
	DeliveredPanelIDs []string          `json:"delivered_panel_ids,omitempty"`
	Media             []domain.MediaRef `json:"media,omitempty"`
}

// Analysis is the transport view of a loadsheet's timing analysis.
type Analysis struct {
	LoadsheetID          string     `json:"loadsheet_id"`
	JobID                string     `json:"job_id"`
	EventCount           int        `json:"event_count"`
	LeftDepotAt          *time.Time `json:"left_depot_at,omitempty"`
	ArrivedAt            *time.Time `json:"arrived_at,omitempty"`
	LeftSiteAt           *time.Time `json:"left_site_at,omitempty"`
	TravelSeconds        *float64   `json:"travel_seconds,omitempty"`
	Travel               string     `json:"travel,omitempty"`
	OnSiteSeconds        *float64   `json:"on_site_seconds,omitempty"`
	OnSite               string     `json:"on_site,omitempty"`
	BackCharge           float64    `json:"back_charge"`
	FreeAllowanceMinutes float64    `json:"free_allowance_minutes"`
	HourlyRate           float64    `json:"hourly_rate"`
}

// DashboardRow summarizes one loadsheet for overview listings.
type DashboardRow struct {
	Dispatch   Dispatch  `json:"dispatch"`
	Dispatched bool      `json:"dispatched"`
	EventCount int       `json:"event_count"`
	LastEvent  *Event    `json:"last_event,omitempty"`
	Analysis   *Analysis `json:"analysis,omitempty"`
}

// CreateDispatchRequest captures input for a new dispatch.
// Panels accepts the free-text manifest form and is merged after PanelIDs.
type CreateDispatchRequest struct {
	LoadsheetID string   `json:"loadsheet_id"`
	JobID       string   `json:"job_id"`
	Description string   `json:"description,omitempty"`
	Driver      string   `json:"driver,omitempty"`
	PanelIDs    []string `json:"panel_ids,omitempty"`
	Panels      string   `json:"panels,omitempty"`
}

// RecordEventRequest captures input for one lifecycle event.
// Photos and signatures are base64 image data URLs.
type RecordEventRequest struct {
	LoadsheetID       string   `json:"loadsheet_id"`
	JobID             string   `json:"job_id,omitempty"`
	EventType         string   `json:"event_type"`
	StaffName         string   `json:"staff_name,omitempty"`
	ReceiverName      string   `json:"receiver_name,omitempty"`
	FailureReason     string   `json:"failure_reason,omitempty"`
	Outcome           string   `json:"outcome,omitempty"`
	DeliveredPanelIDs []string `json:"delivered_panel_ids,omitempty"`
	Photos            []string `json:"photos,omitempty"`
	APSignature       string   `json:"ap_signature,omitempty"`
	ReceiverSignature string   `json:"receiver_signature,omitempty"`
}

// EventSelector addresses one event either by id or by its (loadsheet, created_at) key.
type EventSelector struct {
	EventID     string
	LoadsheetID string
	CreatedAt   string
}

// EventPatch captures the optional field changes of an update.
type EventPatch struct {
	StaffName         *string   `json:"staff_name,omitempty"`
	Outcome           *string   `json:"outcome,omitempty"`
	ReceiverName      *string   `json:"receiver_name,omitempty"`
	FailureReason     *string   `json:"failure_reason,omitempty"`
	DeliveredPanelIDs *[]string `json:"delivered_panel_ids,omitempty"`
	CreatedAt         *string   `json:"created_at,omitempty"`
}

// UpdateEventRequest pairs a selector with the patch to apply.
type UpdateEventRequest struct {
	Selector EventSelector
	Patch    EventPatch
}

// MediaKey addresses one stored photo or signature.
type MediaKey struct {
	LoadsheetID string
	EventType   string
	Filename    string
}

// DeliveryService captures dispatch, event, analysis and report operations exposed by app services.
type DeliveryService interface {
	CreateDispatch(context.Context, CreateDispatchRequest) (Dispatch, error)
	GetDispatch(context.Context, string) (Dispatch, error)
	Dashboard(context.Context) ([]DashboardRow, error)
	ListEvents(context.Context, string) ([]Event, error)
	GetEvent(context.Context, string) (Event, error)
	RecordEvent(context.Context, RecordEventRequest) (Event, error)
	UpdateEvent(context.Context, UpdateEventRequest) (Event, error)
	DeleteEvent(context.Context, EventSelector) (Event, error)
	AnalyzeLoadsheet(context.Context, string) (Analysis, error)
	ComposeReport(context.Context, string) (report.Model, error)
	RenderReportMarkdown(context.Context, string, io.Writer) error
}

// MediaService captures optional media upload and download operations.
type MediaService interface {
	PutMedia(context.Context, MediaKey, io.Reader) error
	OpenMedia(context.Context, MediaKey) (io.ReadCloser, error)
}
