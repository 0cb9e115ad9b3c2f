// Package storagetest holds the behavior every app.Repository implementation must share.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/hylla/podtrack/internal/app"
	"github.com/hylla/podtrack/internal/domain"
)

// Factory returns an empty repository owned by the test.
type Factory func(t *testing.T) app.Repository

// Run exercises the full repository contract against fresh repositories from newRepo.
func Run(t *testing.T, newRepo Factory) {
	t.Helper()
	t.Run("DispatchCreateGetDuplicate", func(t *testing.T) { testDispatch(t, newRepo(t)) })
	t.Run("AppendListRoundTrip", func(t *testing.T) { testRoundTrip(t, newRepo(t)) })
	t.Run("UpdateMissLeavesStoreUnchanged", func(t *testing.T) { testUpdateMiss(t, newRepo(t)) })
	t.Run("FirstMatchOnDuplicateTimestamps", func(t *testing.T) { testFirstMatch(t, newRepo(t)) })
	t.Run("DeleteByIDAndMiss", func(t *testing.T) { testDelete(t, newRepo(t)) })
	t.Run("MutatorErrorAborts", func(t *testing.T) { testMutatorError(t, newRepo(t)) })
	t.Run("DispatchOrderWithShortFractions", func(t *testing.T) { testDispatchFractionOrder(t, newRepo(t)) })
	t.Run("ConcurrentUpdatesAndDeletes", func(t *testing.T) { testConcurrentMutations(t, newRepo(t)) })
}

var base = time.Date(2026, 3, 2, 7, 0, 0, 123456789, time.UTC)

// NewEvent builds a valid event for repository tests.
func NewEvent(t *testing.T, id, loadsheetID string, typ domain.EventType, at time.Time) domain.Event {
	t.Helper()
	in := domain.EventInput{ID: id, LoadsheetID: loadsheetID, JobID: "J-1", Type: typ, StaffName: "Jo"}
	if typ == domain.EventLeftSite {
		in.Outcome = domain.OutcomePartial
		in.ReceiverName = "Kim"
		in.FailureReason = "short crane"
		in.DeliveredPanelIDs = []string{"A", "C"}
		in.Media = []domain.MediaRef{
			{Filename: "left_site_1_x.jpg"},
			{Filename: "receiver_partial_x.png"},
		}
	}
	e, err := domain.NewEvent(in, at)
	if err != nil {
		t.Fatalf("NewEvent() error = %v", err)
	}
	return e
}

func testDispatch(t *testing.T, repo app.Repository) {
	ctx := context.Background()
	d, err := domain.NewDispatch(domain.DispatchInput{LoadsheetID: "LS-1", JobID: "J-1", Driver: "Sam", PanelIDs: []string{"A", "B", "C"}}, base)
	if err != nil {
		t.Fatalf("NewDispatch() error = %v", err)
	}
	if err := repo.CreateDispatch(ctx, d); err != nil {
		t.Fatalf("CreateDispatch() error = %v", err)
	}
	if err := repo.CreateDispatch(ctx, d); !errors.Is(err, app.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
	got, err := repo.GetDispatch(ctx, "LS-1")
	if err != nil {
		t.Fatalf("GetDispatch() error = %v", err)
	}
	if !reflect.DeepEqual(got, d) {
		t.Fatalf("GetDispatch() = %#v, want %#v", got, d)
	}
	if _, err := repo.GetDispatch(ctx, "LS-404"); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	later, _ := domain.NewDispatch(domain.DispatchInput{LoadsheetID: "LS-0"}, base.Add(time.Hour))
	if err := repo.CreateDispatch(ctx, later); err != nil {
		t.Fatalf("CreateDispatch() error = %v", err)
	}
	list, err := repo.ListDispatches(ctx)
	if err != nil {
		t.Fatalf("ListDispatches() error = %v", err)
	}
	if len(list) != 2 || list[0].LoadsheetID != "LS-1" || list[1].LoadsheetID != "LS-0" {
		t.Fatalf("expected dispatches ordered by creation, got %#v", list)
	}
}

func testRoundTrip(t *testing.T, repo app.Repository) {
	ctx := context.Background()
	events, err := repo.ListEventsByLoadsheet(ctx, "LS-1")
	if err != nil {
		t.Fatalf("ListEventsByLoadsheet() error = %v", err)
	}
	if events == nil || len(events) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", events)
	}

	want := []domain.Event{
		NewEvent(t, "e1", "LS-1", domain.EventLeftSite, base.Add(3*time.Hour)),
		NewEvent(t, "e2", "LS-1", domain.EventLeavingDepot, base),
		NewEvent(t, "e3", "LS-2", domain.EventArrivedSite, base),
	}
	for _, e := range want {
		if err := repo.AppendEvent(ctx, e); err != nil {
			t.Fatalf("AppendEvent() error = %v", err)
		}
	}
	if err := repo.AppendEvent(ctx, want[0]); !errors.Is(err, app.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey for repeated id, got %v", err)
	}

	got, err := repo.ListEventsByLoadsheet(ctx, "LS-1")
	if err != nil {
		t.Fatalf("ListEventsByLoadsheet() error = %v", err)
	}
	if !reflect.DeepEqual(got, want[:2]) {
		t.Fatalf("round trip mismatch\n got %#v\nwant %#v", got, want[:2])
	}
	all, err := repo.ListAllEvents(ctx)
	if err != nil {
		t.Fatalf("ListAllEvents() error = %v", err)
	}
	if len(all) != 3 || all[2].ID != "e3" {
		t.Fatalf("unexpected all events %#v", all)
	}
	one, err := repo.GetEvent(ctx, "e1")
	if err != nil {
		t.Fatalf("GetEvent() error = %v", err)
	}
	if !reflect.DeepEqual(one, want[0]) {
		t.Fatalf("GetEvent() = %#v, want %#v", one, want[0])
	}
}

func testUpdateMiss(t *testing.T, repo app.Repository) {
	ctx := context.Background()
	e := NewEvent(t, "e1", "LS-1", domain.EventArrivedSite, base)
	if err := repo.AppendEvent(ctx, e); err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}
	touch := func(ev *domain.Event) error {
		ev.StaffName = "changed"
		return nil
	}
	if _, err := repo.UpdateFirstEvent(ctx, "LS-1", base.Add(time.Nanosecond), touch); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := repo.UpdateFirstEvent(ctx, "LS-2", base, touch); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other loadsheet, got %v", err)
	}
	if _, err := repo.UpdateEventByID(ctx, "missing", touch); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for id, got %v", err)
	}
	got, err := repo.ListEventsByLoadsheet(ctx, "LS-1")
	if err != nil {
		t.Fatalf("ListEventsByLoadsheet() error = %v", err)
	}
	if !reflect.DeepEqual(got, []domain.Event{e}) {
		t.Fatalf("store changed after miss: %#v", got)
	}
}

func testFirstMatch(t *testing.T, repo app.Repository) {
	ctx := context.Background()
	first := NewEvent(t, "e1", "LS-1", domain.EventArrivedSite, base)
	second := NewEvent(t, "e2", "LS-1", domain.EventArrivedSite, base)
	for _, e := range []domain.Event{first, second} {
		if err := repo.AppendEvent(ctx, e); err != nil {
			t.Fatalf("AppendEvent() error = %v", err)
		}
	}

	later := base.Add(time.Minute)
	updated, err := repo.UpdateFirstEvent(ctx, "LS-1", base, func(ev *domain.Event) error {
		ev.StaffName = "Ash"
		ev.CreatedAt = later
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateFirstEvent() error = %v", err)
	}
	if updated.ID != "e1" {
		t.Fatalf("expected e1 updated, got %q", updated.ID)
	}
	got, _ := repo.ListEventsByLoadsheet(ctx, "LS-1")
	if got[0].ID != "e1" || !got[0].CreatedAt.Equal(later) || got[0].StaffName != "Ash" {
		t.Fatalf("expected e1 updated in place, got %#v", got[0])
	}
	if got[1].StaffName != "Jo" {
		t.Fatalf("expected e2 untouched, got %#v", got[1])
	}

	deleted, err := repo.DeleteFirstEvent(ctx, "LS-1", base)
	if err != nil {
		t.Fatalf("DeleteFirstEvent() error = %v", err)
	}
	if deleted.ID != "e2" {
		t.Fatalf("expected e2 deleted, got %q", deleted.ID)
	}
	if _, err := repo.DeleteFirstEvent(ctx, "LS-1", base); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on repeat delete, got %v", err)
	}
	got, _ = repo.ListEventsByLoadsheet(ctx, "LS-1")
	if len(got) != 1 || got[0].ID != "e1" {
		t.Fatalf("unexpected remaining events %#v", got)
	}
}

func testDelete(t *testing.T, repo app.Repository) {
	ctx := context.Background()
	keep := NewEvent(t, "keep", "LS-1", domain.EventLeavingDepot, base)
	drop := NewEvent(t, "drop", "LS-1", domain.EventLeftSite, base.Add(time.Hour))
	for _, e := range []domain.Event{keep, drop} {
		if err := repo.AppendEvent(ctx, e); err != nil {
			t.Fatalf("AppendEvent() error = %v", err)
		}
	}
	if _, err := repo.DeleteEventByID(ctx, "drop"); err != nil {
		t.Fatalf("DeleteEventByID() error = %v", err)
	}
	if _, err := repo.DeleteEventByID(ctx, "drop"); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := repo.GetEvent(ctx, "drop"); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from GetEvent, got %v", err)
	}
	got, _ := repo.ListEventsByLoadsheet(ctx, "LS-1")
	if !reflect.DeepEqual(got, []domain.Event{keep}) {
		t.Fatalf("unexpected remaining events %#v", got)
	}
}

func testMutatorError(t *testing.T, repo app.Repository) {
	ctx := context.Background()
	e := NewEvent(t, "e1", "LS-1", domain.EventLeftSite, base)
	if err := repo.AppendEvent(ctx, e); err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}
	boom := errors.New("boom")
	_, err := repo.UpdateEventByID(ctx, "e1", func(ev *domain.Event) error {
		ev.StaffName = "half-written"
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected mutator error, got %v", err)
	}
	got, _ := repo.GetEvent(ctx, "e1")
	if got.StaffName != "Jo" {
		t.Fatalf("expected aborted write, got %#v", got)
	}
}

func testDispatchFractionOrder(t *testing.T, repo app.Repository) {
	ctx := context.Background()
	second := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	for _, tc := range []struct {
		id string
		at time.Time
	}{
		{"LS-LATE", second.Add(123456780 * time.Nanosecond)},
		{"LS-EARLY", second.Add(123400000 * time.Nanosecond)},
	} {
		d, err := domain.NewDispatch(domain.DispatchInput{LoadsheetID: tc.id}, tc.at)
		if err != nil {
			t.Fatalf("NewDispatch() error = %v", err)
		}
		if err := repo.CreateDispatch(ctx, d); err != nil {
			t.Fatalf("CreateDispatch() error = %v", err)
		}
	}
	list, err := repo.ListDispatches(ctx)
	if err != nil {
		t.Fatalf("ListDispatches() error = %v", err)
	}
	if len(list) != 2 || list[0].LoadsheetID != "LS-EARLY" || list[1].LoadsheetID != "LS-LATE" {
		t.Fatalf("expected chronological order, got %#v", list)
	}
}

func testConcurrentMutations(t *testing.T, repo app.Repository) {
	ctx := context.Background()
	target := NewEvent(t, "target", "LS-1", domain.EventLeftSite, base)
	if err := repo.AppendEvent(ctx, target); err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}
	var doomed []string
	for i := range 6 {
		id := fmt.Sprintf("doomed-%d", i)
		if err := repo.AppendEvent(ctx, NewEvent(t, id, "LS-1", domain.EventArrivedSite, base.Add(time.Hour))); err != nil {
			t.Fatalf("AppendEvent() error = %v", err)
		}
		doomed = append(doomed, id)
	}

	mutators := []app.EventMutator{
		func(e *domain.Event) error {
			e.StaffName = "Ash"
			return nil
		},
		func(e *domain.Event) error {
			e.ReceiverName = "Lee"
			return nil
		},
		func(e *domain.Event) error {
			e.FailureReason = "crane late"
			return nil
		},
		func(e *domain.Event) error {
			e.DeliveredPanelIDs = append(e.DeliveredPanelIDs, "D")
			return nil
		},
	}
	var wg sync.WaitGroup
	errs := make(chan error, len(mutators)+len(doomed))
	for _, mutate := range mutators {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.UpdateFirstEvent(ctx, "LS-1", base, mutate); err != nil {
				errs <- err
			}
		}()
	}
	for _, id := range doomed {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.DeleteEventByID(ctx, id); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent mutation error = %v", err)
	}

	got, err := repo.ListEventsByLoadsheet(ctx, "LS-1")
	if err != nil {
		t.Fatalf("ListEventsByLoadsheet() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "target" {
		t.Fatalf("expected only target left, got %#v", got)
	}
	e := got[0]
	if e.StaffName != "Ash" || e.ReceiverName != "Lee" || e.FailureReason != "crane late" || !slices.Equal(e.DeliveredPanelIDs, []string{"A", "C", "D"}) {
		t.Fatalf("lost a concurrent update: %#v", e)
	}
}
