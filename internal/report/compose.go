package report

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/hylla/podtrack/internal/domain"
)

// TimestampLayout formats every timestamp printed on a report.
const TimestampLayout = "2006-01-02 15:04:05"

// MediaLookup resolves whether a referenced blob exists.
type MediaLookup interface {
	Has(ctx context.Context, loadsheetID string, eventType domain.EventType, filename string) (bool, error)
}

// Options tunes presentation details of a composed report.
type Options struct {
	Title    string
	Footer   string
	Location *time.Location
	Now      func() time.Time
}

// ComposeReport builds a report with default options.
func ComposeReport(ctx context.Context, d domain.Dispatch, events []domain.Event, lookup MediaLookup) Model {
	return Compose(ctx, d, events, lookup, Options{})
}

// Compose correlates a dispatch, its events, and media availability into a document model.
// It never fails; missing data renders as placeholders.
func Compose(ctx context.Context, d domain.Dispatch, events []domain.Event, lookup MediaLookup, opts Options) Model {
	opts = normalizeOptions(opts)
	c := composer{ctx: ctx, lookup: lookup, loc: opts.Location, manifest: d.PanelIDs}

	m := Model{
		Title:  opts.Title,
		Header: c.header(d, events),
		Footer: opts.Footer,
	}
	m.Header.GeneratedAt = opts.Now().UTC()

	byType := map[domain.EventType][]domain.Event{}
	for _, e := range events {
		byType[e.Type] = append(byType[e.Type], e)
	}
	for _, typ := range domain.EventTypes() {
		group := byType[typ]
		if len(group) == 0 {
			continue
		}
		slices.SortStableFunc(group, func(a, b domain.Event) int {
			return a.CreatedAt.Compare(b.CreatedAt)
		})
		section := Section{EventType: typ, Title: typ.Title(), Entries: make([]Entry, 0, len(group))}
		for _, e := range group {
			section.Entries = append(section.Entries, c.entry(e))
		}
		m.Sections = append(m.Sections, section)
	}
	return m
}

func normalizeOptions(opts Options) Options {
	opts.Title = strings.TrimSpace(opts.Title)
	if opts.Title == "" {
		opts.Title = DefaultTitle
	}
	opts.Footer = strings.TrimSpace(opts.Footer)
	if opts.Footer == "" {
		opts.Footer = DefaultFooter
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return opts
}

type composer struct {
	ctx      context.Context
	lookup   MediaLookup
	loc      *time.Location
	manifest []string
}

func (c composer) header(d domain.Dispatch, events []domain.Event) Header {
	loadsheetID := d.LoadsheetID
	jobID := d.JobID
	if len(events) > 0 {
		if loadsheetID == "" {
			loadsheetID = events[0].LoadsheetID
		}
		if jobID == "" {
			jobID = events[0].JobID
		}
	}
	h := Header{
		LoadsheetID:  orPlaceholder(loadsheetID),
		JobID:        orPlaceholder(jobID),
		Driver:       orPlaceholder(d.Driver),
		Description:  orPlaceholder(d.Description),
		DispatchedAt: Placeholder,
		Dispatched:   !d.CreatedAt.IsZero(),
		PanelIDs:     slices.Clone(d.PanelIDs),
		PanelCount:   len(d.PanelIDs),
	}
	if h.PanelIDs == nil {
		h.PanelIDs = []string{}
	}
	if h.Dispatched {
		h.DispatchedAt = c.format(d.CreatedAt)
	}
	return h
}

func (c composer) entry(e domain.Event) Entry {
	out := Entry{
		EventID:   e.ID,
		Timestamp: c.format(e.CreatedAt),
		Fields:    []Field{},
		Photos:    []MediaView{},
	}
	switch e.Type {
	case domain.EventLeavingDepot:
		out.Fields = append(out.Fields, Field{Label: "Depot Staff", Value: orPlaceholder(e.StaffName)})
		if ref, ok := e.SignatureRef(domain.MediaRoleAPSignature); ok {
			view := c.resolve(e, ref, "Depot Signature")
			out.Signature = &view
		}
	case domain.EventLeftSite:
		out.Fields = append(out.Fields,
			Field{Label: "Outcome", Value: outcomeLabel(e.Outcome)},
			Field{Label: "Receiver", Value: orPlaceholder(e.ReceiverName)},
			Field{Label: "Failure Reason", Value: orPlaceholder(e.FailureReason)},
		)
		if ref, ok := e.SignatureRef(domain.MediaRoleReceiverSignature); ok {
			view := c.resolve(e, ref, "Receiver Signature")
			out.Signature = &view
		}
		out.Delivery = reconcile(c.manifest, e)
	default:
		if e.StaffName != "" {
			out.Fields = append(out.Fields, Field{Label: "Staff", Value: e.StaffName})
		}
	}
	for i, ref := range e.Photos() {
		out.Photos = append(out.Photos, c.resolve(e, ref, photoLabel(e.Type, i+1)))
	}
	return out
}

func (c composer) resolve(e domain.Event, ref domain.MediaRef, label string) MediaView {
	view := MediaView{
		LoadsheetID: e.LoadsheetID,
		EventType:   e.Type,
		Filename:    ref.Filename,
		Role:        ref.Role,
		Label:       label,
	}
	if c.lookup == nil {
		return view
	}
	ok, err := c.lookup.Has(c.ctx, e.LoadsheetID, e.Type, ref.Filename)
	view.Available = err == nil && ok
	return view
}

func (c composer) format(ts time.Time) string {
	if ts.IsZero() {
		return Placeholder
	}
	return ts.In(c.loc).Format(TimestampLayout)
}

// reconcile splits the manifest into delivered and undelivered panels for a left_site event.
func reconcile(manifest []string, e domain.Event) *Delivery {
	d := &Delivery{Outcome: e.Outcome, Delivered: []string{}, Undelivered: []string{}}
	switch e.Outcome {
	case domain.OutcomeFull:
		d.Delivered = append(d.Delivered, manifest...)
	case domain.OutcomeFailed:
		d.Undelivered = append(d.Undelivered, manifest...)
	case domain.OutcomePartial:
		delivered := make(map[string]struct{}, len(e.DeliveredPanelIDs))
		for _, id := range e.DeliveredPanelIDs {
			delivered[id] = struct{}{}
			d.Delivered = append(d.Delivered, id)
		}
		for _, id := range manifest {
			if _, ok := delivered[id]; !ok {
				d.Undelivered = append(d.Undelivered, id)
			}
		}
	default:
		return nil
	}
	return d
}

func outcomeLabel(o domain.Outcome) string {
	switch o {
	case domain.OutcomeFull:
		return "Full delivery"
	case domain.OutcomePartial:
		return "Partial delivery"
	case domain.OutcomeFailed:
		return "Failed delivery"
	default:
		return Placeholder
	}
}

func photoLabel(t domain.EventType, n int) string {
	return strings.ReplaceAll(string(t), "_", " ") + " photo " + strconv.Itoa(n)
}

func orPlaceholder(v string) string {
	if strings.TrimSpace(v) == "" {
		return Placeholder
	}
	return v
}
