package domain

import (
	"math"
	"time"
)

// Default charge policy values.
const (
	DefaultFreeAllowance = 2 * time.Hour
	DefaultHourlyRate    = 200.0
)

// ChargePolicy prices time spent on site beyond a free allowance.
type ChargePolicy struct {
	FreeAllowance time.Duration
	HourlyRate    float64
}

// DefaultChargePolicy returns the 2 hour / 200 per hour policy.
func DefaultChargePolicy() ChargePolicy {
	return ChargePolicy{FreeAllowance: DefaultFreeAllowance, HourlyRate: DefaultHourlyRate}
}

// Validate checks the policy is usable.
func (p ChargePolicy) Validate() error {
	if p.FreeAllowance < 0 || p.HourlyRate < 0 || math.IsNaN(p.HourlyRate) || math.IsInf(p.HourlyRate, 0) {
		return ErrInvalidChargeRate
	}
	return nil
}

// BackCharge prices onsite time, rounded to cents.
func (p ChargePolicy) BackCharge(onsite time.Duration) float64 {
	excess := onsite - p.FreeAllowance
	if excess <= 0 {
		return 0
	}
	return math.Round(excess.Hours()*p.HourlyRate*100) / 100
}

// Analysis holds timings derived from a loadsheet's events. Nil fields mean the stage was not recorded.
type Analysis struct {
	LoadsheetID string
	JobID       string
	EventCount  int
	LeftDepotAt *time.Time
	ArrivedAt   *time.Time
	LeftSiteAt  *time.Time
	Travel      *time.Duration
	OnSite      *time.Duration
	BackCharge  float64
}

// Analyze derives timings with the default charge policy.
func Analyze(events []Event) (Analysis, error) {
	return AnalyzeWithPolicy(events, DefaultChargePolicy())
}

// AnalyzeWithPolicy derives timings from the earliest event of each type.
// Input order does not matter.
func AnalyzeWithPolicy(events []Event, policy ChargePolicy) (Analysis, error) {
	if len(events) == 0 {
		return Analysis{}, ErrNoData
	}
	earliest := map[EventType]time.Time{}
	out := Analysis{EventCount: len(events)}
	first := events[0]
	for _, e := range events {
		if e.CreatedAt.Before(first.CreatedAt) || (e.CreatedAt.Equal(first.CreatedAt) && e.ID < first.ID) {
			first = e
		}
		cur, ok := earliest[e.Type]
		if !ok || e.CreatedAt.Before(cur) {
			earliest[e.Type] = e.CreatedAt
		}
	}

	out.LoadsheetID = first.LoadsheetID
	out.JobID = first.JobID
	out.LeftDepotAt = timePtr(earliest, EventLeavingDepot)
	out.ArrivedAt = timePtr(earliest, EventArrivedSite)
	out.LeftSiteAt = timePtr(earliest, EventLeftSite)
	if out.LeftDepotAt != nil && out.ArrivedAt != nil {
		d := out.ArrivedAt.Sub(*out.LeftDepotAt)
		out.Travel = &d
	}
	if out.ArrivedAt != nil && out.LeftSiteAt != nil {
		d := out.LeftSiteAt.Sub(*out.ArrivedAt)
		out.OnSite = &d
		out.BackCharge = policy.BackCharge(d)
	}
	return out, nil
}

func timePtr(m map[EventType]time.Time, t EventType) *time.Time {
	ts, ok := m[t]
	if !ok {
		return nil
	}
	return &ts
}
