package app

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/hylla/podtrack/internal/domain"
	"github.com/hylla/podtrack/internal/metrics"
	"github.com/hylla/podtrack/internal/report"
)

// IDGenerator returns unique identifiers for new entities.
type IDGenerator func() string

// Clock returns the current time.
type Clock func() time.Time

// Logger is the subset of the runtime logger the service writes to.
type Logger interface {
	Debug(msg string, keyvals ...any)
}

// ServiceConfig holds configuration for service.
type ServiceConfig struct {
	ChargePolicy domain.ChargePolicy
	Report       report.Options
	Logger       Logger
}

// Service coordinates the dispatch and event stores, analysis, and report composition.
type Service struct {
	repo       Repository
	media      MediaStore
	idGen      IDGenerator
	clock      Clock
	policy     domain.ChargePolicy
	reportOpts report.Options
	logger     Logger
	locks      *keyedMutex
}

// NewService constructs a new value for this package.
func NewService(repo Repository, media MediaStore, idGen IDGenerator, clock Clock, cfg ServiceConfig) *Service {
	if idGen == nil {
		idGen = func() string { return "" }
	}
	if clock == nil {
		clock = time.Now
	}
	if cfg.ChargePolicy == (domain.ChargePolicy{}) || cfg.ChargePolicy.Validate() != nil {
		cfg.ChargePolicy = domain.DefaultChargePolicy()
	}
	if cfg.Report.Now == nil {
		cfg.Report.Now = clock
	}
	if cfg.Logger == nil {
		cfg.Logger = nopLogger{}
	}
	return &Service{
		repo:       repo,
		media:      media,
		idGen:      idGen,
		clock:      clock,
		policy:     cfg.ChargePolicy,
		reportOpts: cfg.Report,
		logger:     cfg.Logger,
		locks:      newKeyedMutex(),
	}
}

// ChargePolicy returns the policy used by AnalyzeLoadsheet.
func (s *Service) ChargePolicy() domain.ChargePolicy {
	return s.policy
}

// CreateDispatchInput holds input values for create dispatch operations.
type CreateDispatchInput struct {
	LoadsheetID string
	JobID       string
	Description string
	Driver      string
	PanelIDs    []string
}

// CreateDispatch records a new loadsheet. It fails with ErrDuplicateKey when the loadsheet exists.
func (s *Service) CreateDispatch(ctx context.Context, in CreateDispatchInput) (domain.Dispatch, error) {
	d, err := domain.NewDispatch(domain.DispatchInput{
		LoadsheetID: in.LoadsheetID,
		JobID:       in.JobID,
		Description: in.Description,
		Driver:      in.Driver,
		PanelIDs:    in.PanelIDs,
	}, s.clock())
	if err != nil {
		return domain.Dispatch{}, err
	}
	if err := s.repo.CreateDispatch(ctx, d); err != nil {
		metrics.MutationFailures.WithLabelValues("create_dispatch").Inc()
		return domain.Dispatch{}, err
	}
	metrics.DispatchesCreated.Inc()
	s.logger.Debug("dispatch created", "loadsheet_id", d.LoadsheetID, "panels", d.PanelCount())
	return d, nil
}

// GetDispatch returns one dispatch record.
func (s *Service) GetDispatch(ctx context.Context, loadsheetID string) (domain.Dispatch, error) {
	loadsheetID = strings.TrimSpace(loadsheetID)
	if loadsheetID == "" {
		return domain.Dispatch{}, domain.ErrInvalidID
	}
	return s.repo.GetDispatch(ctx, loadsheetID)
}

// ListDispatches returns every dispatch ordered by creation time.
func (s *Service) ListDispatches(ctx context.Context) ([]domain.Dispatch, error) {
	return s.repo.ListDispatches(ctx)
}

// DashboardRow summarizes one loadsheet for overview screens.
type DashboardRow struct {
	Dispatch   domain.Dispatch
	Dispatched bool
	Events     []domain.Event
	Analysis   *domain.Analysis
}

// Dashboard returns every known loadsheet, newest dispatch first.
// Loadsheets that only have events (no dispatch record) are listed last.
func (s *Service) Dashboard(ctx context.Context) ([]DashboardRow, error) {
	dispatches, err := s.repo.ListDispatches(ctx)
	if err != nil {
		return nil, err
	}
	events, err := s.repo.ListAllEvents(ctx)
	if err != nil {
		return nil, err
	}
	byLoadsheet := map[string][]domain.Event{}
	orphans := make([]string, 0)
	for _, e := range events {
		if _, ok := byLoadsheet[e.LoadsheetID]; !ok {
			orphans = append(orphans, e.LoadsheetID)
		}
		byLoadsheet[e.LoadsheetID] = append(byLoadsheet[e.LoadsheetID], e)
	}

	rows := make([]DashboardRow, 0, len(dispatches))
	known := make(map[string]struct{}, len(dispatches))
	for i := len(dispatches) - 1; i >= 0; i-- {
		d := dispatches[i]
		known[d.LoadsheetID] = struct{}{}
		rows = append(rows, s.dashboardRow(d, true, byLoadsheet[d.LoadsheetID]))
	}
	for _, id := range orphans {
		if _, ok := known[id]; ok {
			continue
		}
		rows = append(rows, s.dashboardRow(domain.Dispatch{LoadsheetID: id}, false, byLoadsheet[id]))
	}
	return rows, nil
}

func (s *Service) dashboardRow(d domain.Dispatch, dispatched bool, events []domain.Event) DashboardRow {
	row := DashboardRow{Dispatch: d, Dispatched: dispatched, Events: events}
	if row.Events == nil {
		row.Events = []domain.Event{}
	}
	if analysis, err := domain.AnalyzeWithPolicy(events, s.policy); err == nil {
		row.Analysis = &analysis
	}
	return row
}

// Attachment is one uploaded photo.
type Attachment struct {
	Ext  string
	Body io.Reader
}

// RecordEventInput holds input values for record event operations.
type RecordEventInput struct {
	LoadsheetID       string
	JobID             string
	Type              domain.EventType
	StaffName         string
	ReceiverName      string
	FailureReason     string
	Outcome           domain.Outcome
	DeliveredPanelIDs []string
	Photos            []Attachment
	// Data URLs captured from a signature pad.
	APSignature       string
	ReceiverSignature string
	Media             []domain.MediaRef
}

// RecordEvent stores attachments and appends a lifecycle event stamped by the service clock.
// The dispatch record is optional; when present it supplies a missing job id.
func (s *Service) RecordEvent(ctx context.Context, in RecordEventInput) (domain.Event, error) {
	loadsheetID := strings.TrimSpace(in.LoadsheetID)
	if loadsheetID == "" {
		return domain.Event{}, domain.ErrInvalidID
	}
	if _, err := domain.ParseOutcome(string(in.Outcome)); err != nil {
		return domain.Event{}, err
	}
	if !slices.Contains(domain.EventTypes(), in.Type) {
		return domain.Event{}, domain.ErrInvalidEventType
	}
	jobID := strings.TrimSpace(in.JobID)
	if jobID == "" {
		d, err := s.repo.GetDispatch(ctx, loadsheetID)
		switch {
		case err == nil:
			jobID = d.JobID
		case !errors.Is(err, ErrNotFound):
			return domain.Event{}, err
		}
	}

	unlock := s.locks.Lock(loadsheetID)
	defer unlock()

	now := s.clock()
	eventID := s.idGen()
	blobs, err := s.stageMedia(in, eventID, now)
	if err != nil {
		return domain.Event{}, err
	}
	media := slices.Clone(in.Media)
	for _, b := range blobs {
		media = append(media, b.ref)
	}

	e, err := domain.NewEvent(domain.EventInput{
		ID:                eventID,
		LoadsheetID:       loadsheetID,
		JobID:             jobID,
		Type:              in.Type,
		StaffName:         in.StaffName,
		ReceiverName:      in.ReceiverName,
		FailureReason:     in.FailureReason,
		Outcome:           in.Outcome,
		DeliveredPanelIDs: in.DeliveredPanelIDs,
		Media:             media,
	}, now)
	if err != nil {
		return domain.Event{}, err
	}

	written := make([]string, 0, len(blobs))
	for _, b := range blobs {
		if err := s.putMedia(ctx, loadsheetID, in.Type, b.ref.Filename, b.ref.Role, b.body); err != nil {
			s.discardMedia(ctx, loadsheetID, in.Type, written)
			return domain.Event{}, err
		}
		written = append(written, b.ref.Filename)
	}
	if err := s.repo.AppendEvent(ctx, e); err != nil {
		s.discardMedia(ctx, loadsheetID, in.Type, written)
		metrics.MutationFailures.WithLabelValues("append").Inc()
		return domain.Event{}, err
	}
	metrics.EventMutations.WithLabelValues("append", string(e.Type)).Inc()
	s.logger.Debug("event recorded", "loadsheet_id", loadsheetID, "event_id", e.ID, "type", e.Type)
	return e, nil
}

// stagedBlob is one attachment named and decoded but not yet written.
type stagedBlob struct {
	ref  domain.MediaRef
	body io.Reader
}

// stageMedia names every attachment and decodes signatures without touching the blob store.
func (s *Service) stageMedia(in RecordEventInput, eventID string, now time.Time) ([]stagedBlob, error) {
	out := make([]stagedBlob, 0, len(in.Photos)+1)
	for i, photo := range in.Photos {
		if photo.Body == nil {
			return nil, fmt.Errorf("photo %d: %w", i+1, ErrInvalidMedia)
		}
		out = append(out, stagedBlob{
			ref:  domain.MediaRef{Filename: domain.PhotoFilename(in.Type, eventID, i+1, now, photo.Ext), Role: domain.MediaRolePhoto},
			body: photo.Body,
		})
	}
	if in.APSignature != "" && in.Type == domain.EventLeavingDepot {
		raw, err := DecodeDataURL(in.APSignature)
		if err != nil {
			return nil, fmt.Errorf("ap signature: %w", err)
		}
		out = append(out, stagedBlob{
			ref:  domain.MediaRef{Filename: domain.APSignatureFilename(eventID, now), Role: domain.MediaRoleAPSignature},
			body: bytes.NewReader(raw),
		})
	}
	if in.ReceiverSignature != "" && in.Type == domain.EventLeftSite {
		raw, err := DecodeDataURL(in.ReceiverSignature)
		if err != nil {
			return nil, fmt.Errorf("receiver signature: %w", err)
		}
		out = append(out, stagedBlob{
			ref:  domain.MediaRef{Filename: domain.ReceiverSignatureFilename(in.Outcome, eventID, now), Role: domain.MediaRoleReceiverSignature},
			body: bytes.NewReader(raw),
		})
	}
	for _, b := range out {
		if !domain.ValidMediaFilename(b.ref.Filename) {
			return nil, domain.ErrInvalidFilename
		}
	}
	if len(out) > 0 && s.media == nil {
		return nil, fmt.Errorf("store attachments: %w", ErrInvalidMedia)
	}
	return out, nil
}

// discardMedia removes blobs written for an event that was never stored.
func (s *Service) discardMedia(ctx context.Context, loadsheetID string, eventType domain.EventType, filenames []string) {
	for _, name := range filenames {
		if err := s.media.Delete(ctx, loadsheetID, eventType, name); err != nil {
			s.logger.Debug("orphan media cleanup failed", "loadsheet_id", loadsheetID, "filename", name, "err", err)
		}
	}
}

// ListEvents returns a loadsheet's events in storage order. Unknown loadsheets yield an empty slice.
func (s *Service) ListEvents(ctx context.Context, loadsheetID string) ([]domain.Event, error) {
	loadsheetID = strings.TrimSpace(loadsheetID)
	if loadsheetID == "" {
		return nil, domain.ErrInvalidID
	}
	return s.repo.ListEventsByLoadsheet(ctx, loadsheetID)
}

// GetEvent returns one event by synthetic id.
func (s *Service) GetEvent(ctx context.Context, eventID string) (domain.Event, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return domain.Event{}, domain.ErrInvalidID
	}
	return s.repo.GetEvent(ctx, eventID)
}

// UpdateEvent patches the first stored event matching (loadsheet, createdAt).
func (s *Service) UpdateEvent(ctx context.Context, loadsheetID string, createdAt time.Time, patch domain.EventPatch) (domain.Event, error) {
	loadsheetID = strings.TrimSpace(loadsheetID)
	if loadsheetID == "" {
		return domain.Event{}, domain.ErrInvalidID
	}
	unlock := s.locks.Lock(loadsheetID)
	defer unlock()

	e, err := s.repo.UpdateFirstEvent(ctx, loadsheetID, createdAt, patchMutator(patch))
	return s.afterMutation("update", e, err)
}

// UpdateEventByID patches one event addressed by synthetic id.
func (s *Service) UpdateEventByID(ctx context.Context, eventID string, patch domain.EventPatch) (domain.Event, error) {
	current, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return domain.Event{}, err
	}
	unlock := s.locks.Lock(current.LoadsheetID)
	defer unlock()

	e, err := s.repo.UpdateEventByID(ctx, current.ID, patchMutator(patch))
	return s.afterMutation("update", e, err)
}

// DeleteEvent removes the first stored event matching (loadsheet, createdAt).
// A miss returns ErrNotFound and leaves every record untouched.
func (s *Service) DeleteEvent(ctx context.Context, loadsheetID string, createdAt time.Time) (domain.Event, error) {
	loadsheetID = strings.TrimSpace(loadsheetID)
	if loadsheetID == "" {
		return domain.Event{}, domain.ErrInvalidID
	}
	unlock := s.locks.Lock(loadsheetID)
	defer unlock()

	e, err := s.repo.DeleteFirstEvent(ctx, loadsheetID, createdAt)
	return s.afterMutation("delete", e, err)
}

// DeleteEventByID removes one event addressed by synthetic id.
func (s *Service) DeleteEventByID(ctx context.Context, eventID string) (domain.Event, error) {
	current, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return domain.Event{}, err
	}
	unlock := s.locks.Lock(current.LoadsheetID)
	defer unlock()

	e, err := s.repo.DeleteEventByID(ctx, current.ID)
	return s.afterMutation("delete", e, err)
}

func (s *Service) afterMutation(op string, e domain.Event, err error) (domain.Event, error) {
	if err != nil {
		metrics.MutationFailures.WithLabelValues(op).Inc()
		return domain.Event{}, err
	}
	metrics.EventMutations.WithLabelValues(op, string(e.Type)).Inc()
	s.logger.Debug("event "+op+"d", "loadsheet_id", e.LoadsheetID, "event_id", e.ID)
	return e, nil
}

func patchMutator(patch domain.EventPatch) EventMutator {
	return func(e *domain.Event) error {
		return e.ApplyPatch(patch)
	}
}

// AnalyzeLoadsheet derives travel, on-site time, and back-charge for a loadsheet.
func (s *Service) AnalyzeLoadsheet(ctx context.Context, loadsheetID string) (domain.Analysis, error) {
	events, err := s.ListEvents(ctx, loadsheetID)
	if err != nil {
		return domain.Analysis{}, err
	}
	analysis, err := domain.AnalyzeWithPolicy(events, s.policy)
	if err != nil {
		return domain.Analysis{}, fmt.Errorf("analyze loadsheet %q: %w", strings.TrimSpace(loadsheetID), err)
	}
	if analysis.OnSite != nil {
		metrics.OnSiteHours.Observe(analysis.OnSite.Hours())
	}
	return analysis, nil
}

// ComposeReport builds the proof-of-delivery model for a loadsheet.
// It fails with ErrNotFound only when neither a dispatch nor any event exists.
func (s *Service) ComposeReport(ctx context.Context, loadsheetID string) (report.Model, error) {
	loadsheetID = strings.TrimSpace(loadsheetID)
	if loadsheetID == "" {
		return report.Model{}, domain.ErrInvalidID
	}
	d, err := s.repo.GetDispatch(ctx, loadsheetID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return report.Model{}, err
	}
	dispatched := err == nil
	events, err := s.repo.ListEventsByLoadsheet(ctx, loadsheetID)
	if err != nil {
		return report.Model{}, err
	}
	if !dispatched && len(events) == 0 {
		return report.Model{}, fmt.Errorf("loadsheet %q: %w", loadsheetID, ErrNotFound)
	}
	if !dispatched {
		d = domain.Dispatch{LoadsheetID: loadsheetID}
	}
	var lookup report.MediaLookup
	if s.media != nil {
		lookup = s.media
	}
	m := report.Compose(ctx, d, events, lookup, s.reportOpts)
	metrics.ReportsComposed.Inc()
	return m, nil
}

// RenderReport composes a loadsheet report and hands it to a rendering sink.
func (s *Service) RenderReport(ctx context.Context, loadsheetID string, w io.Writer, r report.Renderer, onPageBreak report.PageBreakFunc) error {
	m, err := s.ComposeReport(ctx, loadsheetID)
	if err != nil {
		return err
	}
	return r.Render(ctx, w, m, onPageBreak)
}

// SaveMedia stores one blob under (loadsheet, event type, filename).
func (s *Service) SaveMedia(ctx context.Context, loadsheetID string, eventType domain.EventType, filename string, body io.Reader) error {
	loadsheetID = strings.TrimSpace(loadsheetID)
	if loadsheetID == "" {
		return domain.ErrInvalidID
	}
	return s.putMedia(ctx, loadsheetID, eventType, filename, domain.InferMediaRole(filename), body)
}

// OpenMedia opens one stored blob. The caller closes the reader.
func (s *Service) OpenMedia(ctx context.Context, loadsheetID string, eventType domain.EventType, filename string) (io.ReadCloser, error) {
	if s.media == nil {
		return nil, ErrNotFound
	}
	if !domain.ValidMediaFilename(filename) {
		return nil, domain.ErrInvalidFilename
	}
	return s.media.Open(ctx, strings.TrimSpace(loadsheetID), eventType, filename)
}

// SaveSignatureDataURL decodes a base64 data URL and stores the image.
func (s *Service) SaveSignatureDataURL(ctx context.Context, loadsheetID string, eventType domain.EventType, filename, dataURL string) error {
	return s.putSignature(ctx, strings.TrimSpace(loadsheetID), eventType, filename, domain.InferMediaRole(filename), dataURL)
}

func (s *Service) putSignature(ctx context.Context, loadsheetID string, eventType domain.EventType, filename string, role domain.MediaRole, dataURL string) error {
	raw, err := DecodeDataURL(dataURL)
	if err != nil {
		return err
	}
	return s.putMedia(ctx, loadsheetID, eventType, filename, role, bytes.NewReader(raw))
}

func (s *Service) putMedia(ctx context.Context, loadsheetID string, eventType domain.EventType, filename string, role domain.MediaRole, body io.Reader) error {
	if s.media == nil {
		return fmt.Errorf("store %q: %w", filename, ErrInvalidMedia)
	}
	if !slices.Contains(domain.EventTypes(), eventType) {
		return domain.ErrInvalidEventType
	}
	if !domain.ValidMediaFilename(filename) {
		return domain.ErrInvalidFilename
	}
	if body == nil {
		return fmt.Errorf("store %q: %w", filename, ErrInvalidMedia)
	}
	if err := s.media.Put(ctx, loadsheetID, eventType, filename, body); err != nil {
		return fmt.Errorf("store %q: %w", filename, err)
	}
	metrics.MediaStored.WithLabelValues(string(role)).Inc()
	return nil
}

// DecodeDataURL returns the payload of a base64 "data:image/...;base64," URL.
func DecodeDataURL(dataURL string) ([]byte, error) {
	header, payload, ok := strings.Cut(strings.TrimSpace(dataURL), ",")
	if !ok || !strings.HasPrefix(header, "data:image/") || !strings.HasSuffix(header, ";base64") {
		return nil, ErrInvalidMedia
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode data url: %w", errors.Join(ErrInvalidMedia, err))
	}
	if len(raw) == 0 {
		return nil, ErrInvalidMedia
	}
	return raw, nil
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
