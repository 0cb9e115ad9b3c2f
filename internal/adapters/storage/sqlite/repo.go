package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hylla/podtrack/internal/app"
	"github.com/hylla/podtrack/internal/domain"
)

// driverName defines a package constant value.
const driverName = "sqlite"

// pragmas applied to every connection through the DSN.
const pragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

// Repository stores dispatches and events in one sqlite database.
type Repository struct {
	db *sql.DB
}

// Open opens (and migrates) the database at path.
func Open(path string) (*Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	return open("file:" + filepath.ToSlash(path) + "?" + pragmas)
}

// OpenInMemory opens a private in-memory database.
func OpenInMemory() (*Repository, error) {
	return open("file:" + uuid.NewString() + "?mode=memory&cache=shared&_pragma=foreign_keys(1)")
}

func open(dsn string) (*Repository, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection keeps read-modify-write transactions strictly serialized
	db.SetMaxOpenConns(1)
	repo := &Repository{db: db}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// Close closes the requested operation.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping reports whether the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// migrate handles migrate.
func (r *Repository) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS dispatches (
			loadsheet_id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			driver TEXT NOT NULL DEFAULT '',
			panel_ids_json TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL
		);`,
		// seq preserves insertion order; id is the synthetic event key.
		`CREATE TABLE IF NOT EXISTS events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			loadsheet_id TEXT NOT NULL,
			job_id TEXT NOT NULL DEFAULT '',
			event_type TEXT NOT NULL,
			created_at TEXT NOT NULL,
			staff_name TEXT NOT NULL DEFAULT '',
			receiver_name TEXT NOT NULL DEFAULT '',
			failure_reason TEXT NOT NULL DEFAULT '',
			outcome TEXT NOT NULL DEFAULT '',
			delivered_panels_json TEXT NOT NULL DEFAULT 'null',
			media_json TEXT NOT NULL DEFAULT 'null'
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_loadsheet_seq ON events(loadsheet_id, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_events_loadsheet_created_at ON events(loadsheet_id, created_at, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_dispatches_created_at ON dispatches(created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

// CreateDispatch inserts a dispatch; an existing loadsheet yields app.ErrDuplicateKey.
func (r *Repository) CreateDispatch(ctx context.Context, d domain.Dispatch) error {
	panelsJSON, err := json.Marshal(d.PanelIDs)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO dispatches(loadsheet_id, job_id, description, driver, panel_ids_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, d.LoadsheetID, d.JobID, d.Description, d.Driver, string(panelsJSON), ts(d.CreatedAt))
	if isUniqueConstraintErr(err) {
		return fmt.Errorf("dispatch %q: %w", d.LoadsheetID, app.ErrDuplicateKey)
	}
	return err
}

// GetDispatch returns one dispatch by loadsheet id.
func (r *Repository) GetDispatch(ctx context.Context, loadsheetID string) (domain.Dispatch, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT loadsheet_id, job_id, description, driver, panel_ids_json, created_at
		FROM dispatches
		WHERE loadsheet_id = ?
	`, loadsheetID)
	return scanDispatch(row)
}

// ListDispatches returns every dispatch, oldest first.
func (r *Repository) ListDispatches(ctx context.Context) ([]domain.Dispatch, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT loadsheet_id, job_id, description, driver, panel_ids_json, created_at
		FROM dispatches
		ORDER BY created_at ASC, loadsheet_id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Dispatch, 0)
	for rows.Next() {
		d, err := scanDispatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// AppendEvent inserts one event at the end of storage order.
func (r *Repository) AppendEvent(ctx context.Context, e domain.Event) error {
	err := insertEvent(ctx, r.db, e)
	if isUniqueConstraintErr(err) {
		return fmt.Errorf("event %q: %w", e.ID, app.ErrDuplicateKey)
	}
	return err
}

// GetEvent returns one event by synthetic id.
func (r *Repository) GetEvent(ctx context.Context, id string) (domain.Event, error) {
	return getEvent(ctx, r.db, `WHERE id = ?`, id)
}

// ListEventsByLoadsheet returns one loadsheet's events in storage order.
func (r *Repository) ListEventsByLoadsheet(ctx context.Context, loadsheetID string) ([]domain.Event, error) {
	return r.listEvents(ctx, `WHERE loadsheet_id = ? ORDER BY seq ASC`, loadsheetID)
}

// ListAllEvents returns every event in storage order.
func (r *Repository) ListAllEvents(ctx context.Context) ([]domain.Event, error) {
	return r.listEvents(ctx, `ORDER BY seq ASC`)
}

func (r *Repository) listEvents(ctx context.Context, clause string, args ...any) ([]domain.Event, error) {
	rows, err := r.db.QueryContext(ctx, eventSelect+" "+clause, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Event, 0)
	for rows.Next() {
		_, e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateFirstEvent rewrites the earliest stored event matching (loadsheet, createdAt).
func (r *Repository) UpdateFirstEvent(ctx context.Context, loadsheetID string, createdAt time.Time, mutate app.EventMutator) (domain.Event, error) {
	return r.updateWhere(ctx, mutate, `WHERE loadsheet_id = ? AND created_at = ? ORDER BY seq ASC LIMIT 1`, loadsheetID, ts(createdAt))
}

// UpdateEventByID rewrites one event by synthetic id.
func (r *Repository) UpdateEventByID(ctx context.Context, id string, mutate app.EventMutator) (domain.Event, error) {
	return r.updateWhere(ctx, mutate, `WHERE id = ?`, id)
}

// DeleteFirstEvent removes the earliest stored event matching (loadsheet, createdAt).
func (r *Repository) DeleteFirstEvent(ctx context.Context, loadsheetID string, createdAt time.Time) (domain.Event, error) {
	return r.deleteWhere(ctx, `WHERE loadsheet_id = ? AND created_at = ? ORDER BY seq ASC LIMIT 1`, loadsheetID, ts(createdAt))
}

// DeleteEventByID removes one event by synthetic id.
func (r *Repository) DeleteEventByID(ctx context.Context, id string) (domain.Event, error) {
	return r.deleteWhere(ctx, `WHERE id = ?`, id)
}

func (r *Repository) updateWhere(ctx context.Context, mutate app.EventMutator, clause string, args ...any) (out domain.Event, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Event{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	seq, e, err := getEventWithSeq(ctx, tx, clause, args...)
	if err != nil {
		return domain.Event{}, err
	}
	if err = mutate(&e); err != nil {
		return domain.Event{}, err
	}
	deliveredJSON, mediaJSON, err := eventJSON(e)
	if err != nil {
		return domain.Event{}, err
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE events
		SET job_id = ?, event_type = ?, created_at = ?, staff_name = ?, receiver_name = ?, failure_reason = ?,
			outcome = ?, delivered_panels_json = ?, media_json = ?
		WHERE seq = ?
	`,
		e.JobID,
		string(e.Type),
		ts(e.CreatedAt),
		e.StaffName,
		e.ReceiverName,
		e.FailureReason,
		string(e.Outcome),
		deliveredJSON,
		mediaJSON,
		seq,
	)
	if err != nil {
		return domain.Event{}, err
	}
	if err = translateNoRows(res); err != nil {
		return domain.Event{}, err
	}
	if err = tx.Commit(); err != nil {
		return domain.Event{}, err
	}
	return e, nil
}

func (r *Repository) deleteWhere(ctx context.Context, clause string, args ...any) (out domain.Event, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Event{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	seq, e, err := getEventWithSeq(ctx, tx, clause, args...)
	if err != nil {
		return domain.Event{}, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM events WHERE seq = ?`, seq)
	if err != nil {
		return domain.Event{}, err
	}
	if err = translateNoRows(res); err != nil {
		return domain.Event{}, err
	}
	if err = tx.Commit(); err != nil {
		return domain.Event{}, err
	}
	return e, nil
}

// eventSelect lists event columns in scanEvent order.
const eventSelect = `
	SELECT seq, id, loadsheet_id, job_id, event_type, created_at, staff_name, receiver_name, failure_reason,
		outcome, delivered_panels_json, media_json
	FROM events`

// queryRower represents query rower data used by this package.
type queryRower interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

func getEvent(ctx context.Context, q queryRower, clause string, args ...any) (domain.Event, error) {
	_, e, err := getEventWithSeq(ctx, q, clause, args...)
	return e, err
}

func getEventWithSeq(ctx context.Context, q queryRower, clause string, args ...any) (int64, domain.Event, error) {
	return scanEvent(q.QueryRowContext(ctx, eventSelect+" "+clause, args...))
}

// execerContext represents execer context data used by this package.
type execerContext interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}

func insertEvent(ctx context.Context, execer execerContext, e domain.Event) error {
	deliveredJSON, mediaJSON, err := eventJSON(e)
	if err != nil {
		return err
	}
	_, err = execer.ExecContext(ctx, `
		INSERT INTO events(
			id, loadsheet_id, job_id, event_type, created_at, staff_name, receiver_name, failure_reason, outcome,
			delivered_panels_json, media_json
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		e.LoadsheetID,
		e.JobID,
		string(e.Type),
		ts(e.CreatedAt),
		e.StaffName,
		e.ReceiverName,
		e.FailureReason,
		string(e.Outcome),
		deliveredJSON,
		mediaJSON,
	)
	return err
}

func eventJSON(e domain.Event) (string, string, error) {
	delivered, err := json.Marshal(e.DeliveredPanelIDs)
	if err != nil {
		return "", "", fmt.Errorf("encode delivered_panels_json: %w", err)
	}
	media, err := json.Marshal(e.Media)
	if err != nil {
		return "", "", fmt.Errorf("encode media_json: %w", err)
	}
	return string(delivered), string(media), nil
}

// scanner represents scanner data used by this package.
type scanner interface {
	Scan(dest ...any) error
}

func scanDispatch(s scanner) (domain.Dispatch, error) {
	var (
		d          domain.Dispatch
		panelsRaw  string
		createdRaw string
	)
	if err := s.Scan(&d.LoadsheetID, &d.JobID, &d.Description, &d.Driver, &panelsRaw, &createdRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Dispatch{}, app.ErrNotFound
		}
		return domain.Dispatch{}, err
	}
	d.CreatedAt = parseTS(createdRaw)
	if err := json.Unmarshal([]byte(panelsRaw), &d.PanelIDs); err != nil {
		return domain.Dispatch{}, fmt.Errorf("decode panel_ids_json: %w", err)
	}
	return d, nil
}

func scanEvent(s scanner) (int64, domain.Event, error) {
	var (
		seq          int64
		e            domain.Event
		eventType    string
		createdRaw   string
		outcome      string
		deliveredRaw string
		mediaRaw     string
	)
	if err := s.Scan(
		&seq,
		&e.ID,
		&e.LoadsheetID,
		&e.JobID,
		&eventType,
		&createdRaw,
		&e.StaffName,
		&e.ReceiverName,
		&e.FailureReason,
		&outcome,
		&deliveredRaw,
		&mediaRaw,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.Event{}, app.ErrNotFound
		}
		return 0, domain.Event{}, err
	}
	e.Type = domain.EventType(eventType)
	e.Outcome = domain.Outcome(outcome)
	e.CreatedAt = parseTS(createdRaw)
	if err := json.Unmarshal([]byte(deliveredRaw), &e.DeliveredPanelIDs); err != nil {
		return 0, domain.Event{}, fmt.Errorf("decode delivered_panels_json: %w", err)
	}
	if err := json.Unmarshal([]byte(mediaRaw), &e.Media); err != nil {
		return 0, domain.Event{}, fmt.Errorf("decode media_json: %w", err)
	}
	return seq, e, nil
}

// translateNoRows maps a zero-row write to app.ErrNotFound.
func translateNoRows(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return app.ErrNotFound
	}
	return nil
}

// timestampLayout keeps every fraction nine digits wide so text order matches time order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ts handles ts.
func ts(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// parseTS parses input into a normalized form.
func parseTS(v string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

func isUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") || strings.Contains(msg, "constraint failed: primary key")
}
