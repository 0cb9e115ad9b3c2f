package report

import (
	"context"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/hylla/podtrack/internal/domain"
)

type fakeLookup map[string]bool

func (f fakeLookup) Has(_ context.Context, loadsheetID string, eventType domain.EventType, filename string) (bool, error) {
	return f[loadsheetID+"/"+string(eventType)+"/"+filename], nil
}

func newTestEvent(t *testing.T, in domain.EventInput, at time.Time) domain.Event {
	t.Helper()
	in.LoadsheetID = "LS-1"
	in.JobID = "J-1"
	e, err := domain.NewEvent(in, at)
	if err != nil {
		t.Fatalf("NewEvent() error = %v", err)
	}
	return e
}

func newTestDispatch(t *testing.T) domain.Dispatch {
	t.Helper()
	d, err := domain.NewDispatch(domain.DispatchInput{
		LoadsheetID: "LS-1",
		JobID:       "J-1",
		Driver:      "Sam",
		PanelIDs:    []string{"A", "B", "C"},
	}, time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("NewDispatch() error = %v", err)
	}
	return d
}

func TestComposePartialReconciliation(t *testing.T) {
	at := time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)
	left := newTestEvent(t, domain.EventInput{
		ID:                "e1",
		Type:              domain.EventLeftSite,
		Outcome:           domain.OutcomePartial,
		DeliveredPanelIDs: []string{"A", "C"},
	}, at)

	m := ComposeReport(context.Background(), newTestDispatch(t), []domain.Event{left}, nil)
	if len(m.Sections) != 1 || m.Sections[0].EventType != domain.EventLeftSite {
		t.Fatalf("unexpected sections %#v", m.Sections)
	}
	d := m.Sections[0].Entries[0].Delivery
	if d == nil {
		t.Fatal("expected delivery split on left_site entry")
	}
	if !slices.Equal(d.Undelivered, []string{"B"}) || !slices.Equal(d.Delivered, []string{"A", "C"}) {
		t.Fatalf("unexpected split %#v", d)
	}
}

func TestComposeFullAndFailedOutcomes(t *testing.T) {
	at := time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)
	dispatch := newTestDispatch(t)
	cases := []struct {
		outcome     domain.Outcome
		delivered   []string
		undelivered []string
	}{
		{outcome: domain.OutcomeFull, delivered: []string{"A", "B", "C"}, undelivered: []string{}},
		{outcome: domain.OutcomeFailed, delivered: []string{}, undelivered: []string{"A", "B", "C"}},
	}
	for _, tc := range cases {
		e := newTestEvent(t, domain.EventInput{ID: "e1", Type: domain.EventLeftSite, Outcome: tc.outcome}, at)
		m := ComposeReport(context.Background(), dispatch, []domain.Event{e}, nil)
		d := m.Sections[0].Entries[0].Delivery
		if !slices.Equal(d.Delivered, tc.delivered) || !slices.Equal(d.Undelivered, tc.undelivered) {
			t.Fatalf("%s: unexpected split %#v", tc.outcome, d)
		}
	}
}

func TestComposeSectionsOrderAndMedia(t *testing.T) {
	base := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	events := []domain.Event{
		newTestEvent(t, domain.EventInput{ID: "late", Type: domain.EventArrivedSite}, base.Add(2*time.Hour)),
		newTestEvent(t, domain.EventInput{
			ID:        "leave",
			Type:      domain.EventLeavingDepot,
			StaffName: "Jo",
			Media: []domain.MediaRef{
				{Filename: "leaving_depot_1_a.jpg"},
				{Filename: "ap_signature_a.png"},
				{Filename: "leaving_depot_2_a.jpg"},
			},
		}, base),
		newTestEvent(t, domain.EventInput{ID: "early", Type: domain.EventArrivedSite}, base.Add(time.Hour)),
	}
	lookup := fakeLookup{
		"LS-1/leaving_depot/leaving_depot_1_a.jpg": true,
		"LS-1/leaving_depot/ap_signature_a.png":    true,
	}

	m := ComposeReport(context.Background(), newTestDispatch(t), events, lookup)
	if len(m.Sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(m.Sections))
	}
	if m.Sections[0].Title != "LEAVING DEPOT" || m.Sections[1].Title != "ARRIVED AT SITE" {
		t.Fatalf("unexpected section order %q, %q", m.Sections[0].Title, m.Sections[1].Title)
	}
	arrived := m.Sections[1].Entries
	if arrived[0].EventID != "early" || arrived[1].EventID != "late" {
		t.Fatalf("expected entries sorted by time, got %q then %q", arrived[0].EventID, arrived[1].EventID)
	}

	leave := m.Sections[0].Entries[0]
	if leave.Signature == nil || leave.Signature.Filename != "ap_signature_a.png" || !leave.Signature.Available {
		t.Fatalf("unexpected signature %#v", leave.Signature)
	}
	if len(leave.Photos) != 2 || leave.Photos[0].Filename != "leaving_depot_1_a.jpg" || leave.Photos[1].Filename != "leaving_depot_2_a.jpg" {
		t.Fatalf("expected gallery without signature in stored order, got %#v", leave.Photos)
	}
	if !leave.Photos[0].Available || leave.Photos[1].Available {
		t.Fatalf("unexpected availability %#v", leave.Photos)
	}

	var placeholder bool
	for _, b := range m.Blocks() {
		if b.Kind == BlockPlaceholder && b.Text == "Could not load leaving_depot_2_a.jpg" {
			placeholder = true
		}
	}
	if !placeholder {
		t.Fatal("expected could-not-load placeholder block for missing photo")
	}
}

func TestComposeWithoutDispatchUsesPlaceholders(t *testing.T) {
	at := time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)
	e := newTestEvent(t, domain.EventInput{ID: "e1", Type: domain.EventLeftSite}, at)
	m := Compose(context.Background(), domain.Dispatch{}, []domain.Event{e}, nil, Options{
		Title:    "Docket",
		Location: time.FixedZone("AEDT", 11*3600),
		Now:      func() time.Time { return at },
	})
	if m.Header.LoadsheetID != "LS-1" || m.Header.Driver != Placeholder || m.Header.DispatchedAt != Placeholder {
		t.Fatalf("unexpected header %#v", m.Header)
	}
	entry := m.Sections[0].Entries[0]
	if entry.Timestamp != "2026-03-02 22:00:00" {
		t.Fatalf("expected timestamp in report zone, got %q", entry.Timestamp)
	}
	if entry.Delivery != nil {
		t.Fatalf("expected no split without outcome, got %#v", entry.Delivery)
	}

	var lines []string
	for _, b := range m.Blocks() {
		lines = append(lines, b.Text)
	}
	joined := strings.Join(lines, "\n")
	for _, want := range []string{"Docket", "Outcome: —", "Receiver Signature: —", "Panels (0): —", DefaultFooter} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected %q in blocks:\n%s", want, joined)
		}
	}
}
