package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// EventType identifies one lifecycle milestone of a loadsheet.
type EventType string

const (
	EventLeavingDepot EventType = "leaving_depot"
	EventArrivedSite  EventType = "arrived_site"
	EventLeftSite     EventType = "left_site"
)

// legacyLeavingDepot is the value older event logs used for EventLeavingDepot.
const legacyLeavingDepot = "leaving_ap"

// EventTypes returns every lifecycle type in the order a delivery passes through them.
func EventTypes() []EventType {
	return []EventType{EventLeavingDepot, EventArrivedSite, EventLeftSite}
}

// ParseEventType normalizes raw input into a known event type.
func ParseEventType(raw string) (EventType, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == legacyLeavingDepot {
		return EventLeavingDepot, nil
	}
	t := EventType(v)
	if !slices.Contains(EventTypes(), t) {
		return "", ErrInvalidEventType
	}
	return t, nil
}

// LegacyName returns the value older logs and media folders used for t, or "" when unchanged.
func (t EventType) LegacyName() string {
	if t == EventLeavingDepot {
		return legacyLeavingDepot
	}
	return ""
}

// Title returns the section heading used on delivery documents.
func (t EventType) Title() string {
	switch t {
	case EventLeavingDepot:
		return "LEAVING DEPOT"
	case EventArrivedSite:
		return "ARRIVED AT SITE"
	case EventLeftSite:
		return "LEFT SITE"
	default:
		return strings.ToUpper(string(t))
	}
}

// Outcome records how a left_site event ended.
type Outcome string

const (
	OutcomeNone    Outcome = ""
	OutcomeFull    Outcome = "full"
	OutcomePartial Outcome = "partial"
	OutcomeFailed  Outcome = "failed"
)

// ParseOutcome normalizes raw input; an empty string yields OutcomeNone.
func ParseOutcome(raw string) (Outcome, error) {
	switch o := Outcome(strings.ToLower(strings.TrimSpace(raw))); o {
	case OutcomeNone, OutcomeFull, OutcomePartial, OutcomeFailed:
		return o, nil
	default:
		return "", ErrInvalidOutcome
	}
}

// MediaRole tags a media reference with the part it plays on its event.
type MediaRole string

const (
	MediaRolePhoto             MediaRole = "photo"
	MediaRoleAPSignature       MediaRole = "ap_signature"
	MediaRoleReceiverSignature MediaRole = "receiver_signature"
)

// IsSignature reports whether the role renders inline with a signature line.
func (r MediaRole) IsSignature() bool {
	return r == MediaRoleAPSignature || r == MediaRoleReceiverSignature
}

// MediaRef points at one stored blob for an event.
type MediaRef struct {
	Filename string    `json:"filename"`
	Role     MediaRole `json:"role"`
}

// Event is one recorded lifecycle milestone.
type Event struct {
	ID                string
	LoadsheetID       string
	JobID             string
	Type              EventType
	CreatedAt         time.Time
	StaffName         string
	ReceiverName      string
	FailureReason     string
	Outcome           Outcome
	DeliveredPanelIDs []string
	Media             []MediaRef
}

// EventInput holds values for NewEvent.
type EventInput struct {
	ID                string
	LoadsheetID       string
	JobID             string
	Type              EventType
	StaffName         string
	ReceiverName      string
	FailureReason     string
	Outcome           Outcome
	DeliveredPanelIDs []string
	Media             []MediaRef
}

// NewEvent validates input and builds an event stamped with now.
// Outcome fields are dropped on events that are not left_site, and delivered panels are only
// kept for partial deliveries.
func NewEvent(in EventInput, now time.Time) (Event, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.LoadsheetID = strings.TrimSpace(in.LoadsheetID)
	if in.ID == "" || in.LoadsheetID == "" {
		return Event{}, ErrInvalidID
	}
	if !slices.Contains(EventTypes(), in.Type) {
		return Event{}, ErrInvalidEventType
	}
	if _, err := ParseOutcome(string(in.Outcome)); err != nil {
		return Event{}, err
	}
	if now.IsZero() {
		return Event{}, ErrInvalidTimestamp
	}
	media, err := normalizeMedia(in.Media)
	if err != nil {
		return Event{}, err
	}

	e := Event{
		ID:                in.ID,
		LoadsheetID:       in.LoadsheetID,
		JobID:             strings.TrimSpace(in.JobID),
		Type:              in.Type,
		CreatedAt:         now.UTC(),
		StaffName:         strings.TrimSpace(in.StaffName),
		ReceiverName:      strings.TrimSpace(in.ReceiverName),
		FailureReason:     strings.TrimSpace(in.FailureReason),
		Outcome:           in.Outcome,
		DeliveredPanelIDs: NormalizePanelIDs(in.DeliveredPanelIDs),
		Media:             media,
	}
	if e.Type != EventLeftSite {
		e.Outcome = OutcomeNone
		e.ReceiverName = ""
	}
	if e.Outcome != OutcomePartial {
		e.DeliveredPanelIDs = nil
	}
	return e, nil
}

// MatchesKey reports whether the event carries the legacy natural key.
func (e Event) MatchesKey(loadsheetID string, createdAt time.Time) bool {
	return e.LoadsheetID == loadsheetID && e.CreatedAt.Equal(createdAt)
}

// SignatureRef returns the first media reference with the given signature role.
func (e Event) SignatureRef(role MediaRole) (MediaRef, bool) {
	for _, ref := range e.Media {
		if ref.Role == role {
			return ref, true
		}
	}
	return MediaRef{}, false
}

// Photos returns non-signature media in stored order.
func (e Event) Photos() []MediaRef {
	out := make([]MediaRef, 0, len(e.Media))
	for _, ref := range e.Media {
		if ref.Role.IsSignature() {
			continue
		}
		out = append(out, ref)
	}
	return out
}

// Clone returns a deep copy so snapshots never alias store-owned slices.
func (e Event) Clone() Event {
	e.DeliveredPanelIDs = slices.Clone(e.DeliveredPanelIDs)
	e.Media = slices.Clone(e.Media)
	return e
}

// EventPatch rewrites a subset of event fields. Nil fields are left unchanged.
type EventPatch struct {
	StaffName         *string
	Outcome           *Outcome
	ReceiverName      *string
	FailureReason     *string
	DeliveredPanelIDs *[]string
	CreatedAt         *time.Time
}

// IsEmpty reports whether the patch changes nothing.
func (p EventPatch) IsEmpty() bool {
	return p.StaffName == nil && p.Outcome == nil && p.ReceiverName == nil &&
		p.FailureReason == nil && p.DeliveredPanelIDs == nil && p.CreatedAt == nil
}

// ApplyPatch applies patch fields in place.
// A partial outcome without a delivered list is accepted and leaves the list empty.
func (e *Event) ApplyPatch(p EventPatch) error {
	outcome := e.Outcome
	if p.Outcome != nil {
		parsed, err := ParseOutcome(string(*p.Outcome))
		if err != nil {
			return malformedPatch(err)
		}
		if parsed != OutcomeNone && e.Type != EventLeftSite {
			return malformedPatch(ErrInvalidOutcome)
		}
		outcome = parsed
	}
	if p.CreatedAt != nil {
		if p.CreatedAt.IsZero() {
			return malformedPatch(ErrInvalidTimestamp)
		}
		e.CreatedAt = p.CreatedAt.UTC()
	}
	e.Outcome = outcome
	if p.StaffName != nil {
		e.StaffName = strings.TrimSpace(*p.StaffName)
	}
	if p.ReceiverName != nil {
		e.ReceiverName = strings.TrimSpace(*p.ReceiverName)
	}
	if p.FailureReason != nil {
		e.FailureReason = strings.TrimSpace(*p.FailureReason)
	}
	if p.DeliveredPanelIDs != nil {
		e.DeliveredPanelIDs = NormalizePanelIDs(*p.DeliveredPanelIDs)
	}
	if e.Outcome != OutcomePartial {
		e.DeliveredPanelIDs = nil
	}
	return nil
}

func malformedPatch(err error) error {
	return fmt.Errorf("%w: %w", ErrMalformedPatch, err)
}

// normalizeMedia validates media references and infers missing roles from the filename.
func normalizeMedia(refs []MediaRef) ([]MediaRef, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	out := make([]MediaRef, 0, len(refs))
	for _, ref := range refs {
		ref.Filename = strings.TrimSpace(ref.Filename)
		if !ValidMediaFilename(ref.Filename) {
			return nil, ErrInvalidFilename
		}
		if ref.Role == "" {
			ref.Role = InferMediaRole(ref.Filename)
		}
		switch ref.Role {
		case MediaRolePhoto, MediaRoleAPSignature, MediaRoleReceiverSignature:
		default:
			return nil, ErrInvalidMediaRole
		}
		out = append(out, ref)
	}
	return out, nil
}
