package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hylla/podtrack/internal/domain"
)

func TestExportImportSnapshotRoundTrip(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.CreateDispatch(ctx, CreateDispatchInput{LoadsheetID: "LS-1", JobID: "J-1", PanelIDs: []string{"A", "B"}}); err != nil {
		t.Fatalf("CreateDispatch() error = %v", err)
	}
	if _, err := svc.RecordEvent(ctx, RecordEventInput{LoadsheetID: "LS-1", Type: domain.EventLeftSite, Outcome: domain.OutcomePartial, DeliveredPanelIDs: []string{"A"}}); err != nil {
		t.Fatalf("RecordEvent() error = %v", err)
	}

	snap, err := svc.ExportSnapshot(ctx)
	if err != nil {
		t.Fatalf("ExportSnapshot() error = %v", err)
	}
	if snap.Version != SnapshotVersion || len(snap.Dispatches) != 1 || len(snap.Events) != 1 {
		t.Fatalf("unexpected snapshot %#v", snap)
	}

	target, repo, _, _ := newTestService(t)
	if err := target.ImportSnapshot(ctx, snap); err != nil {
		t.Fatalf("ImportSnapshot() error = %v", err)
	}
	// a second import overwrites by id instead of duplicating
	if err := target.ImportSnapshot(ctx, snap); err != nil {
		t.Fatalf("ImportSnapshot() second error = %v", err)
	}
	if len(repo.events) != 1 || len(repo.dispatches) != 1 {
		t.Fatalf("unexpected imported sizes d=%d e=%d", len(repo.dispatches), len(repo.events))
	}
	if got := repo.events[0]; got.Outcome != domain.OutcomePartial || len(got.DeliveredPanelIDs) != 1 {
		t.Fatalf("unexpected imported event %#v", got)
	}
}

func TestImportSnapshotRejectsLoadsheetMove(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()
	e, err := svc.RecordEvent(ctx, RecordEventInput{LoadsheetID: "LS-1", Type: domain.EventArrivedSite, StaffName: "Jo"})
	if err != nil {
		t.Fatalf("RecordEvent() error = %v", err)
	}
	snap, err := svc.ExportSnapshot(ctx)
	if err != nil {
		t.Fatalf("ExportSnapshot() error = %v", err)
	}
	snap.Events[0].LoadsheetID = "LS-9"
	snap.Events[0].StaffName = "moved"

	if err := svc.ImportSnapshot(ctx, snap); !errors.Is(err, ErrMalformedPatch) {
		t.Fatalf("expected ErrMalformedPatch, got %v", err)
	}
	stored, _ := repo.GetEvent(ctx, e.ID)
	if stored.LoadsheetID != "LS-1" || stored.StaffName != "Jo" {
		t.Fatalf("expected stored event untouched, got %#v", stored)
	}
	if moved, _ := svc.ListEvents(ctx, "LS-9"); len(moved) != 0 {
		t.Fatalf("expected nothing listed under LS-9, got %#v", moved)
	}
}

func TestSnapshotValidate(t *testing.T) {
	now := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		snap Snapshot
		want error
	}{
		{
			name: "duplicate dispatch",
			snap: Snapshot{Version: SnapshotVersion, Dispatches: []SnapshotDispatch{
				{LoadsheetID: "LS", CreatedAt: now},
				{LoadsheetID: "LS", CreatedAt: now},
			}},
			want: ErrDuplicateKey,
		},
		{
			name: "bad event type",
			snap: Snapshot{Version: SnapshotVersion, Events: []SnapshotEvent{
				{ID: "e1", LoadsheetID: "LS", Type: "lunch", CreatedAt: now},
			}},
			want: domain.ErrInvalidEventType,
		},
		{
			name: "missing dispatch timestamp",
			snap: Snapshot{Version: SnapshotVersion, Dispatches: []SnapshotDispatch{{LoadsheetID: "LS"}}},
			want: domain.ErrInvalidTimestamp,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.snap.Validate(); !errors.Is(err, tc.want) {
				t.Fatalf("Validate() = %v, want %v", err, tc.want)
			}
		})
	}
	bad := Snapshot{Version: "other"}
	if err := bad.Validate(); err == nil || !strings.Contains(err.Error(), "unsupported snapshot version") {
		t.Fatalf("expected version error, got %v", err)
	}
}
