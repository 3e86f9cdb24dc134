package domain

import (
	"fmt"
	"time"
)

// DefaultIntervalMinutes is used when a case starts monitoring without an
// explicit interval and no configured default is available.
const DefaultIntervalMinutes = 60

// Settings holds the monitoring preferences of one case. All subscribers of
// a case share the same settings.
type Settings struct {
	CaseID          string
	IntervalMinutes int

	EmailEnabled bool
	SMSEnabled   bool

	NotifyStatus          bool
	NotifyProceduralStage bool
	NotifyHearings        bool
	NotifyParties         bool

	LastCheckedAt *time.Time
	NextCheckAt   *time.Time

	// Version is bumped on every write and used for compare-and-swap updates.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DefaultSettings returns the settings a new case starts with.
func DefaultSettings(caseID string, interval int, now time.Time) Settings {
	if interval <= 0 {
		interval = DefaultIntervalMinutes
	}
	s := Settings{
		CaseID:                caseID,
		IntervalMinutes:       interval,
		EmailEnabled:          true,
		SMSEnabled:            false,
		NotifyStatus:          true,
		NotifyProceduralStage: true,
		NotifyHearings:        true,
		NotifyParties:         true,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	s.Reschedule(now)
	return s
}

// Interval returns the check interval as a duration.
func (s Settings) Interval() time.Duration {
	return time.Duration(s.IntervalMinutes) * time.Minute
}

// Reschedule recomputes NextCheckAt from LastCheckedAt, or from now when the
// case was never checked.
func (s *Settings) Reschedule(now time.Time) {
	base := now
	if s.LastCheckedAt != nil {
		base = *s.LastCheckedAt
	}
	next := base.Add(s.Interval())
	s.NextCheckAt = &next
}

// MarkChecked records a completed check at t and schedules the next one.
func (s *Settings) MarkChecked(t time.Time) {
	s.LastCheckedAt = &t
	s.Reschedule(t)
}

// Due reports whether a check should run at now.
func (s Settings) Due(now time.Time) bool {
	return s.NextCheckAt == nil || !now.Before(*s.NextCheckAt)
}

// Validate checks the user-editable fields.
func (s Settings) Validate() error {
	if s.IntervalMinutes < 1 {
		return NewValidationError("interval_minutes", fmt.Sprintf("must be at least 1, got %d", s.IntervalMinutes))
	}
	return nil
}

// Preferences is the user-editable subset of Settings.
type Preferences struct {
	IntervalMinutes       int
	EmailEnabled          bool
	SMSEnabled            bool
	NotifyStatus          bool
	NotifyProceduralStage bool
	NotifyHearings        bool
	NotifyParties         bool
}

// Apply copies p into s. When the interval changes the next check is
// recomputed from the last check.
func (s *Settings) Apply(p Preferences, now time.Time) {
	intervalChanged := s.IntervalMinutes != p.IntervalMinutes
	s.IntervalMinutes = p.IntervalMinutes
	s.EmailEnabled = p.EmailEnabled
	s.SMSEnabled = p.SMSEnabled
	s.NotifyStatus = p.NotifyStatus
	s.NotifyProceduralStage = p.NotifyProceduralStage
	s.NotifyHearings = p.NotifyHearings
	s.NotifyParties = p.NotifyParties
	if intervalChanged {
		s.Reschedule(now)
	}
}

// Preferences returns the user-editable subset of s.
func (s Settings) Preferences() Preferences {
	return Preferences{
		IntervalMinutes:       s.IntervalMinutes,
		EmailEnabled:          s.EmailEnabled,
		SMSEnabled:            s.SMSEnabled,
		NotifyStatus:          s.NotifyStatus,
		NotifyProceduralStage: s.NotifyProceduralStage,
		NotifyHearings:        s.NotifyHearings,
		NotifyParties:         s.NotifyParties,
	}
}
