package domain

import (
	"strings"
	"time"
)

// Dispatch is the immutable record written when a loadsheet leaves the depot queue.
type Dispatch struct {
	LoadsheetID string
	JobID       string
	Description string
	Driver      string
	CreatedAt   time.Time
	PanelIDs    []string
}

// DispatchInput holds values for NewDispatch.
type DispatchInput struct {
	LoadsheetID string
	JobID       string
	Description string
	Driver      string
	PanelIDs    []string
}

// NewDispatch validates input and builds a dispatch record stamped with now.
func NewDispatch(in DispatchInput, now time.Time) (Dispatch, error) {
	in.LoadsheetID = strings.TrimSpace(in.LoadsheetID)
	if in.LoadsheetID == "" {
		return Dispatch{}, ErrInvalidID
	}
	if strings.ContainsAny(in.LoadsheetID, "/\\") {
		return Dispatch{}, ErrInvalidID
	}
	if now.IsZero() {
		return Dispatch{}, ErrInvalidTimestamp
	}
	return Dispatch{
		LoadsheetID: in.LoadsheetID,
		JobID:       strings.TrimSpace(in.JobID),
		Description: strings.TrimSpace(in.Description),
		Driver:      strings.TrimSpace(in.Driver),
		CreatedAt:   now.UTC(),
		PanelIDs:    NormalizePanelIDs(in.PanelIDs),
	}, nil
}

// PanelCount returns the manifest size.
func (d Dispatch) PanelCount() int {
	return len(d.PanelIDs)
}

// ParsePanelList splits free-form manifest text (one panel per line, or ';' / ',' separated).
func ParsePanelList(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == '\n' || r == '\r' || r == ';' || r == ','
	})
	return NormalizePanelIDs(fields)
}

// NormalizePanelIDs trims ids and drops blanks and repeats while keeping manifest order.
func NormalizePanelIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, raw := range ids {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
