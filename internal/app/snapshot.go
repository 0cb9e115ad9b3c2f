package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/hylla/podtrack/internal/domain"
)

// SnapshotVersion defines a package constant value.
const SnapshotVersion = "podtrack.snapshot.v1"

// Snapshot is a portable copy of both stores.
type Snapshot struct {
	Version    string             `json:"version"`
	ExportedAt time.Time          `json:"exported_at"`
	Dispatches []SnapshotDispatch `json:"dispatches"`
	Events     []SnapshotEvent    `json:"events"`
}

// SnapshotDispatch represents one dispatch row in a snapshot.
type SnapshotDispatch struct {
	LoadsheetID string    `json:"loadsheet_id"`
	JobID       string    `json:"job_id"`
	Description string    `json:"description"`
	Driver      string    `json:"driver"`
	CreatedAt   time.Time `json:"created_at"`
	PanelIDs    []string  `json:"panel_ids"`
}

// SnapshotEvent represents one event row in a snapshot. Events keep storage order.
type SnapshotEvent struct {
	ID                string            `json:"id"`
	LoadsheetID       string            `json:"loadsheet_id"`
	JobID             string            `json:"job_id"`
	Type              domain.EventType  `json:"event_type"`
	CreatedAt         time.Time         `json:"created_at"`
	StaffName         string            `json:"staff_name,omitempty"`
	ReceiverName      string            `json:"receiver_name,omitempty"`
	FailureReason     string            `json:"failure_reason,omitempty"`
	Outcome           domain.Outcome    `json:"outcome,omitempty"`
	DeliveredPanelIDs []string          `json:"delivered_panel_ids,omitempty"`
	Media             []domain.MediaRef `json:"media,omitempty"`
}

// ExportSnapshot copies every dispatch and event.
func (s *Service) ExportSnapshot(ctx context.Context) (Snapshot, error) {
	dispatches, err := s.repo.ListDispatches(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	events, err := s.repo.ListAllEvents(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{
		Version:    SnapshotVersion,
		ExportedAt: s.clock().UTC(),
		Dispatches: make([]SnapshotDispatch, 0, len(dispatches)),
		Events:     make([]SnapshotEvent, 0, len(events)),
	}
	for _, d := range dispatches {
		snap.Dispatches = append(snap.Dispatches, snapshotDispatchFromDomain(d))
	}
	for _, e := range events {
		snap.Events = append(snap.Events, snapshotEventFromDomain(e))
	}
	slices.SortStableFunc(snap.Dispatches, func(a, b SnapshotDispatch) int {
		return strings.Compare(a.LoadsheetID, b.LoadsheetID)
	})
	return snap, nil
}

// ImportSnapshot merges a snapshot into the stores.
// Existing dispatches are kept as-is. Events with a known id are overwritten, the rest are appended in snapshot order.
// A known event id may not change loadsheet.
func (s *Service) ImportSnapshot(ctx context.Context, snap Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	for _, sd := range snap.Dispatches {
		if err := s.repo.CreateDispatch(ctx, sd.toDomain()); err != nil && !errors.Is(err, ErrDuplicateKey) {
			return err
		}
	}
	for _, se := range snap.Events {
		e := se.toDomain()
		unlock := s.locks.Lock(e.LoadsheetID)
		err := s.importEvent(ctx, e)
		unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) importEvent(ctx context.Context, e domain.Event) error {
	if _, err := s.repo.GetEvent(ctx, e.ID); err == nil {
		_, err = s.repo.UpdateEventByID(ctx, e.ID, func(stored *domain.Event) error {
			if stored.LoadsheetID != e.LoadsheetID {
				return fmt.Errorf("event %q belongs to loadsheet %q, snapshot says %q: %w", e.ID, stored.LoadsheetID, e.LoadsheetID, ErrMalformedPatch)
			}
			*stored = e.Clone()
			return nil
		})
		return err
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	return s.repo.AppendEvent(ctx, e)
}

// Validate checks snapshot shape before any write happens.
func (s *Snapshot) Validate() error {
	if strings.TrimSpace(s.Version) != SnapshotVersion {
		return fmt.Errorf("unsupported snapshot version %q", s.Version)
	}
	seen := map[string]struct{}{}
	for i, d := range s.Dispatches {
		id := strings.TrimSpace(d.LoadsheetID)
		if id == "" {
			return fmt.Errorf("dispatches[%d]: %w", i, domain.ErrInvalidID)
		}
		if d.CreatedAt.IsZero() {
			return fmt.Errorf("dispatches[%d]: %w", i, domain.ErrInvalidTimestamp)
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("dispatches[%d] %q: %w", i, id, ErrDuplicateKey)
		}
		seen[id] = struct{}{}
	}
	ids := map[string]struct{}{}
	for i, se := range s.Events {
		e := se.toDomain()
		if _, err := domain.NewEvent(domain.EventInput{
			ID:          e.ID,
			LoadsheetID: e.LoadsheetID,
			Type:        e.Type,
			Outcome:     e.Outcome,
			Media:       e.Media,
		}, e.CreatedAt); err != nil {
			return fmt.Errorf("events[%d]: %w", i, err)
		}
		if _, ok := ids[e.ID]; ok {
			return fmt.Errorf("events[%d] %q: %w", i, e.ID, ErrDuplicateKey)
		}
		ids[e.ID] = struct{}{}
	}
	return nil
}

func snapshotDispatchFromDomain(d domain.Dispatch) SnapshotDispatch {
	return SnapshotDispatch{
		LoadsheetID: d.LoadsheetID,
		JobID:       d.JobID,
		Description: d.Description,
		Driver:      d.Driver,
		CreatedAt:   d.CreatedAt.UTC(),
		PanelIDs:    slices.Clone(d.PanelIDs),
	}
}

func snapshotEventFromDomain(e domain.Event) SnapshotEvent {
	return SnapshotEvent{
		ID:                e.ID,
		LoadsheetID:       e.LoadsheetID,
		JobID:             e.JobID,
		Type:              e.Type,
		CreatedAt:         e.CreatedAt.UTC(),
		StaffName:         e.StaffName,
		ReceiverName:      e.ReceiverName,
		FailureReason:     e.FailureReason,
		Outcome:           e.Outcome,
		DeliveredPanelIDs: slices.Clone(e.DeliveredPanelIDs),
		Media:             slices.Clone(e.Media),
	}
}

func (d SnapshotDispatch) toDomain() domain.Dispatch {
	return domain.Dispatch{
		LoadsheetID: strings.TrimSpace(d.LoadsheetID),
		JobID:       d.JobID,
		Description: d.Description,
		Driver:      d.Driver,
		CreatedAt:   d.CreatedAt.UTC(),
		PanelIDs:    domain.NormalizePanelIDs(d.PanelIDs),
	}
}

func (e SnapshotEvent) toDomain() domain.Event {
	out := domain.Event{
		ID:                strings.TrimSpace(e.ID),
		LoadsheetID:       strings.TrimSpace(e.LoadsheetID),
		JobID:             e.JobID,
		Type:              e.Type,
		CreatedAt:         e.CreatedAt.UTC(),
		StaffName:         e.StaffName,
		ReceiverName:      e.ReceiverName,
		FailureReason:     e.FailureReason,
		Outcome:           e.Outcome,
		DeliveredPanelIDs: slices.Clone(e.DeliveredPanelIDs),
		Media:             slices.Clone(e.Media),
	}
	if len(out.DeliveredPanelIDs) == 0 {
		out.DeliveredPanelIDs = nil
	}
	if len(out.Media) == 0 {
		out.Media = nil
	}
	return out
}
