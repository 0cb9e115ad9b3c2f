package report

import (
	"time"

	"github.com/hylla/podtrack/internal/domain"
)

// Placeholder is rendered in place of any missing optional value.
const Placeholder = "—"

// DefaultTitle and DefaultFooter are used when Options leaves them blank.
const (
	DefaultTitle  = "Proof of Delivery"
	DefaultFooter = "Generated by podtrack"
)

// Model is the structured proof-of-delivery document for one loadsheet.
type Model struct {
	Title    string    `json:"title"`
	Header   Header    `json:"header"`
	Sections []Section `json:"sections"`
	Footer   string    `json:"footer"`
}

// Header carries dispatch metadata. Every string is already placeholder-filled.
type Header struct {
	LoadsheetID  string    `json:"loadsheet_id"`
	JobID        string    `json:"job_id"`
	Driver       string    `json:"driver"`
	Description  string    `json:"description"`
	DispatchedAt string    `json:"dispatched_at"`
	Dispatched   bool      `json:"dispatched"`
	PanelIDs     []string  `json:"panel_ids"`
	PanelCount   int       `json:"panel_count"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// Section groups the entries of one lifecycle event type.
type Section struct {
	EventType domain.EventType `json:"event_type"`
	Title     string           `json:"title"`
	Entries   []Entry          `json:"entries"`
}

// Field is one labeled line of an entry.
type Field struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Entry renders one recorded event.
type Entry struct {
	EventID   string      `json:"event_id"`
	Timestamp string      `json:"timestamp"`
	Fields    []Field     `json:"fields"`
	Signature *MediaView  `json:"signature,omitempty"`
	Delivery  *Delivery   `json:"delivery,omitempty"`
	Photos    []MediaView `json:"photos"`
}

// Delivery is the delivered/undelivered split against the manifest. Only left_site entries carry one.
type Delivery struct {
	Outcome     domain.Outcome `json:"outcome"`
	Delivered   []string       `json:"delivered"`
	Undelivered []string       `json:"undelivered"`
}

// MediaView is a media reference resolved against the blob store.
type MediaView struct {
	LoadsheetID string           `json:"loadsheet_id"`
	EventType   domain.EventType `json:"event_type"`
	Filename    string           `json:"filename"`
	Role        domain.MediaRole `json:"role"`
	Label       string           `json:"label"`
	Available   bool             `json:"available"`
}
