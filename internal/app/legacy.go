package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hylla/podtrack/internal/domain"
)

// LegacyTimestampLayout is the timestamp format written by the CSV logs.
const LegacyTimestampLayout = "2006-01-02 15:04:05"

// legacyNamespace seeds deterministic ids so re-importing a log never duplicates events.
var legacyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("podtrack/legacy-csv"))

// LegacyImportResult counts rows handled by one legacy import.
type LegacyImportResult struct {
	Dispatches int
	Events     int
	Skipped    int
}

// ImportLegacyDispatchLog reads a dispatch_log.csv export. Rows for known loadsheets are skipped.
func (s *Service) ImportLegacyDispatchLog(ctx context.Context, r io.Reader, loc *time.Location) (LegacyImportResult, error) {
	var res LegacyImportResult
	err := readLegacyCSV(r, func(line int, row legacyRow) error {
		createdAt, err := parseLegacyTime(row.get("Timestamp"), loc)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		d, err := domain.NewDispatch(domain.DispatchInput{
			LoadsheetID: row.get("Loadsheet No"),
			JobID:       row.get("Job No"),
			Description: row.get("Description"),
			Driver:      row.get("Driver"),
			PanelIDs:    strings.Split(row.get("Panel IDs"), ";"),
		}, createdAt)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if err := s.repo.CreateDispatch(ctx, d); err != nil {
			if errors.Is(err, ErrDuplicateKey) {
				res.Skipped++
				return nil
			}
			return err
		}
		res.Dispatches++
		return nil
	})
	return res, err
}

// ImportLegacyEventLog reads a <loadsheet>_events.csv export. Signature images listed with the photos
// are tagged by filename prefix.
func (s *Service) ImportLegacyEventLog(ctx context.Context, r io.Reader, loc *time.Location) (LegacyImportResult, error) {
	var res LegacyImportResult
	err := readLegacyCSV(r, func(line int, row legacyRow) error {
		raw := row.get("Timestamp")
		createdAt, err := parseLegacyTime(raw, loc)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		eventType, err := domain.ParseEventType(row.get("Event"))
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		outcome, err := domain.ParseOutcome(row.get("Delivery Outcome"))
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		loadsheetID := row.get("Loadsheet No")
		id := uuid.NewSHA1(legacyNamespace, []byte(loadsheetID+"|"+raw+"|"+string(eventType)+"|"+strconv.Itoa(line))).String()

		var media []domain.MediaRef
		for _, name := range strings.Split(row.get("Photos"), ";") {
			if name = strings.TrimSpace(name); name != "" {
				media = append(media, domain.MediaRef{Filename: name})
			}
		}
		e, err := domain.NewEvent(domain.EventInput{
			ID:                id,
			LoadsheetID:       loadsheetID,
			JobID:             row.get("Job No"),
			Type:              eventType,
			StaffName:         row.get("AP Staff"),
			ReceiverName:      row.get("Receiver Signature"),
			FailureReason:     row.get("Failure Reason"),
			Outcome:           outcome,
			DeliveredPanelIDs: strings.Split(row.get("Delivered Panels"), ";"),
			Media:             media,
		}, createdAt)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}

		unlock := s.locks.Lock(e.LoadsheetID)
		defer unlock()
		if _, err := s.repo.GetEvent(ctx, e.ID); err == nil {
			res.Skipped++
			return nil
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		if err := s.repo.AppendEvent(ctx, e); err != nil {
			return err
		}
		res.Events++
		return nil
	})
	return res, err
}

type legacyRow struct {
	index  map[string]int
	fields []string
}

func (r legacyRow) get(name string) string {
	i, ok := r.index[name]
	if !ok || i >= len(r.fields) {
		return ""
	}
	return strings.TrimSpace(r.fields[i])
}

func readLegacyCSV(r io.Reader, fn func(int, legacyRow) error) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("read csv header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	for line := 2; ; line++ {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read csv line %d: %w", line, err)
		}
		if err := fn(line, legacyRow{index: index, fields: fields}); err != nil {
			return err
		}
	}
}

func parseLegacyTime(raw string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{LegacyTimestampLayout, "2006-01-02T15:04:05.999999999", time.RFC3339Nano} {
		if ts, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, domain.ErrInvalidTimestamp)
}
