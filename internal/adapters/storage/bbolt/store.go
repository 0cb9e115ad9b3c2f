// Package bbolt implements the dispatch and event stores on an embedded bbolt file.
package bbolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/hylla/podtrack/internal/app"
	"github.com/hylla/podtrack/internal/domain"
)

var (
	bucketDispatches = []byte("dispatches")
	bucketEvents     = []byte("events")
	bucketEventIDs   = []byte("event_ids")
	bucketLoadsheets = []byte("loadsheet_events")
)

// Store implements app.Repository using bbolt.
// Events are keyed by a big-endian sequence so cursor order is insertion order.
type Store struct {
	db *bolt.DB
}

// Open opens or creates a bbolt database at the given path.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create bbolt directory: %w", err)
		}
	}

	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt database: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketDispatches, bucketEvents, bucketEventIDs, bucketLoadsheets} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the bbolt database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping reports whether the database is still open.
func (s *Store) Ping(_ context.Context) error {
	return s.db.View(func(*bolt.Tx) error { return nil })
}

type dispatchRecord struct {
	LoadsheetID string    `json:"loadsheet_id"`
	JobID       string    `json:"job_id"`
	Description string    `json:"description"`
	Driver      string    `json:"driver"`
	CreatedAt   time.Time `json:"created_at"`
	PanelIDs    []string  `json:"panel_ids"`
}

type eventRecord struct {
	ID                string            `json:"id"`
	LoadsheetID       string            `json:"loadsheet_id"`
	JobID             string            `json:"job_id"`
	Type              domain.EventType  `json:"event_type"`
	CreatedAt         time.Time         `json:"created_at"`
	StaffName         string            `json:"staff_name"`
	ReceiverName      string            `json:"receiver_name"`
	FailureReason     string            `json:"failure_reason"`
	Outcome           domain.Outcome    `json:"outcome"`
	DeliveredPanelIDs []string          `json:"delivered_panel_ids"`
	Media             []domain.MediaRef `json:"media"`
}

// CreateDispatch stores a dispatch; an existing loadsheet yields app.ErrDuplicateKey.
func (s *Store) CreateDispatch(_ context.Context, d domain.Dispatch) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDispatches)
		if b.Get([]byte(d.LoadsheetID)) != nil {
			return fmt.Errorf("dispatch %q: %w", d.LoadsheetID, app.ErrDuplicateKey)
		}
		data, err := json.Marshal(dispatchRecord(d))
		if err != nil {
			return fmt.Errorf("marshal dispatch: %w", err)
		}
		return b.Put([]byte(d.LoadsheetID), data)
	})
}

// GetDispatch retrieves a dispatch. Returns app.ErrNotFound if missing.
func (s *Store) GetDispatch(_ context.Context, loadsheetID string) (domain.Dispatch, error) {
	var out domain.Dispatch
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketDispatches).Get([]byte(loadsheetID))
		if data == nil {
			return app.ErrNotFound
		}
		var rec dispatchRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("unmarshal dispatch: %w", err)
		}
		out = domain.Dispatch(rec)
		return nil
	})
	return out, err
}

// ListDispatches returns every dispatch, oldest first.
func (s *Store) ListDispatches(_ context.Context) ([]domain.Dispatch, error) {
	out := make([]domain.Dispatch, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDispatches).ForEach(func(_, v []byte) error {
			var rec dispatchRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal dispatch: %w", err)
			}
			out = append(out, domain.Dispatch(rec))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].LoadsheetID < out[j].LoadsheetID
	})
	return out, nil
}

// AppendEvent stores one event at the end of storage order.
func (s *Store) AppendEvent(_ context.Context, e domain.Event) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		ids := tx.Bucket(bucketEventIDs)
		if ids.Get([]byte(e.ID)) != nil {
			return fmt.Errorf("event %q: %w", e.ID, app.ErrDuplicateKey)
		}
		events := tx.Bucket(bucketEvents)
		seq, err := events.NextSequence()
		if err != nil {
			return fmt.Errorf("next event sequence: %w", err)
		}
		key := seqKey(seq)
		if err := putEvent(events, key, e); err != nil {
			return err
		}
		if err := ids.Put([]byte(e.ID), key); err != nil {
			return fmt.Errorf("index event id: %w", err)
		}
		return tx.Bucket(bucketLoadsheets).Put(loadsheetKey(e.LoadsheetID, key), nil)
	})
}

// GetEvent retrieves one event by synthetic id.
func (s *Store) GetEvent(_ context.Context, id string) (domain.Event, error) {
	var out domain.Event
	err := s.db.View(func(tx *bolt.Tx) error {
		_, e, err := eventByID(tx, id)
		out = e
		return err
	})
	return out, err
}

// ListEventsByLoadsheet returns one loadsheet's events in storage order.
func (s *Store) ListEventsByLoadsheet(_ context.Context, loadsheetID string) ([]domain.Event, error) {
	out := make([]domain.Event, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return forEachLoadsheetEvent(tx, loadsheetID, func(_ []byte, e domain.Event) (bool, error) {
			out = append(out, e)
			return true, nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListAllEvents returns every event in storage order.
func (s *Store) ListAllEvents(_ context.Context) ([]domain.Event, error) {
	out := make([]domain.Event, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEvents).ForEach(func(_, v []byte) error {
			e, err := decodeEvent(v)
			if err != nil {
				return err
			}
			out = append(out, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateFirstEvent rewrites the earliest stored event matching (loadsheet, createdAt).
func (s *Store) UpdateFirstEvent(_ context.Context, loadsheetID string, createdAt time.Time, mutate app.EventMutator) (domain.Event, error) {
	return s.update(mutate, func(tx *bolt.Tx) ([]byte, domain.Event, error) {
		return firstByKey(tx, loadsheetID, createdAt)
	})
}

// UpdateEventByID rewrites one event by synthetic id.
func (s *Store) UpdateEventByID(_ context.Context, id string, mutate app.EventMutator) (domain.Event, error) {
	return s.update(mutate, func(tx *bolt.Tx) ([]byte, domain.Event, error) {
		return eventByID(tx, id)
	})
}

// DeleteFirstEvent removes the earliest stored event matching (loadsheet, createdAt).
func (s *Store) DeleteFirstEvent(_ context.Context, loadsheetID string, createdAt time.Time) (domain.Event, error) {
	return s.delete(func(tx *bolt.Tx) ([]byte, domain.Event, error) {
		return firstByKey(tx, loadsheetID, createdAt)
	})
}

// DeleteEventByID removes one event by synthetic id.
func (s *Store) DeleteEventByID(_ context.Context, id string) (domain.Event, error) {
	return s.delete(func(tx *bolt.Tx) ([]byte, domain.Event, error) {
		return eventByID(tx, id)
	})
}

type locateFunc func(*bolt.Tx) ([]byte, domain.Event, error)

func (s *Store) update(mutate app.EventMutator, locate locateFunc) (domain.Event, error) {
	var out domain.Event
	err := s.db.Update(func(tx *bolt.Tx) error {
		key, e, err := locate(tx)
		if err != nil {
			return err
		}
		if err := mutate(&e); err != nil {
			return err
		}
		if err := putEvent(tx.Bucket(bucketEvents), key, e); err != nil {
			return err
		}
		out = e
		return nil
	})
	return out, err
}

func (s *Store) delete(locate locateFunc) (domain.Event, error) {
	var out domain.Event
	err := s.db.Update(func(tx *bolt.Tx) error {
		key, e, err := locate(tx)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketEvents).Delete(key); err != nil {
			return fmt.Errorf("delete event: %w", err)
		}
		if err := tx.Bucket(bucketEventIDs).Delete([]byte(e.ID)); err != nil {
			return fmt.Errorf("delete event id: %w", err)
		}
		if err := tx.Bucket(bucketLoadsheets).Delete(loadsheetKey(e.LoadsheetID, key)); err != nil {
			return fmt.Errorf("delete loadsheet index: %w", err)
		}
		out = e
		return nil
	})
	return out, err
}

func eventByID(tx *bolt.Tx, id string) ([]byte, domain.Event, error) {
	key := tx.Bucket(bucketEventIDs).Get([]byte(id))
	if key == nil {
		return nil, domain.Event{}, app.ErrNotFound
	}
	key = bytes.Clone(key)
	data := tx.Bucket(bucketEvents).Get(key)
	if data == nil {
		return nil, domain.Event{}, app.ErrNotFound
	}
	e, err := decodeEvent(data)
	return key, e, err
}

func firstByKey(tx *bolt.Tx, loadsheetID string, createdAt time.Time) ([]byte, domain.Event, error) {
	var (
		foundKey []byte
		found    domain.Event
	)
	err := forEachLoadsheetEvent(tx, loadsheetID, func(key []byte, e domain.Event) (bool, error) {
		if !e.CreatedAt.Equal(createdAt) {
			return true, nil
		}
		foundKey = bytes.Clone(key)
		found = e
		return false, nil
	})
	if err != nil {
		return nil, domain.Event{}, err
	}
	if foundKey == nil {
		return nil, domain.Event{}, app.ErrNotFound
	}
	return foundKey, found, nil
}

// forEachLoadsheetEvent walks the loadsheet index in sequence order until fn returns false.
func forEachLoadsheetEvent(tx *bolt.Tx, loadsheetID string, fn func([]byte, domain.Event) (bool, error)) error {
	prefix := loadsheetPrefix(loadsheetID)
	events := tx.Bucket(bucketEvents)
	c := tx.Bucket(bucketLoadsheets).Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		key := k[len(prefix):]
		data := events.Get(key)
		if data == nil {
			continue
		}
		e, err := decodeEvent(data)
		if err != nil {
			return err
		}
		more, err := fn(key, e)
		if err != nil || !more {
			return err
		}
	}
	return nil
}

func putEvent(b *bolt.Bucket, key []byte, e domain.Event) error {
	data, err := json.Marshal(eventRecord(e))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.Put(key, data); err != nil {
		return fmt.Errorf("store event: %w", err)
	}
	return nil
}

func decodeEvent(data []byte) (domain.Event, error) {
	var rec eventRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	e := domain.Event(rec)
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// loadsheetPrefix terminates the id with a NUL so "LS-1" never matches "LS-10".
func loadsheetPrefix(loadsheetID string) []byte {
	return append([]byte(loadsheetID), 0)
}

func loadsheetKey(loadsheetID string, key []byte) []byte {
	return append(loadsheetPrefix(loadsheetID), key...)
}
