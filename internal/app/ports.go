package app

import (
	"context"
	"io"
	"time"

	"github.com/hylla/podtrack/internal/domain"
)

// EventMutator rewrites one stored event in place. Returning an error aborts the write.
type EventMutator func(*domain.Event) error

// DispatchRepository persists immutable dispatch records.
type DispatchRepository interface {
	CreateDispatch(context.Context, domain.Dispatch) error
	GetDispatch(context.Context, string) (domain.Dispatch, error)
	ListDispatches(context.Context) ([]domain.Dispatch, error)
}

// EventRepository persists lifecycle events in insertion order.
// The first-match operations address the earliest stored event carrying (loadsheet, created_at).
type EventRepository interface {
	AppendEvent(context.Context, domain.Event) error
	GetEvent(context.Context, string) (domain.Event, error)
	ListEventsByLoadsheet(context.Context, string) ([]domain.Event, error)
	ListAllEvents(context.Context) ([]domain.Event, error)
	UpdateFirstEvent(context.Context, string, time.Time, EventMutator) (domain.Event, error)
	UpdateEventByID(context.Context, string, EventMutator) (domain.Event, error)
	DeleteFirstEvent(context.Context, string, time.Time) (domain.Event, error)
	DeleteEventByID(context.Context, string) (domain.Event, error)
}

// Repository is the full storage port used by Service.
type Repository interface {
	DispatchRepository
	EventRepository
}

// MediaStore holds photo and signature blobs keyed by (loadsheet, event type, filename).
type MediaStore interface {
	Has(context.Context, string, domain.EventType, string) (bool, error)
	Open(context.Context, string, domain.EventType, string) (io.ReadCloser, error)
	Put(context.Context, string, domain.EventType, string, io.Reader) error
	// Delete removes one blob. Missing blobs are not an error.
	Delete(context.Context, string, domain.EventType, string) error
}
