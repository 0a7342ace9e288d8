package domain

import (
	"strings"
	"time"
)

// ScheduleType describes how an enabled schedule closes.
type ScheduleType string

const (
	ScheduleTypeManual      ScheduleType = "manual"
	ScheduleTypeClosingDate ScheduleType = "closingdate"
)

// IntervalType units accepted for the late-submission window.
const (
	IntervalDays   = "days"
	IntervalWeeks  = "weeks"
	IntervalMonths = "months"
	IntervalYears  = "years"
)

// LateSubmissions configures the grace window after the closing date.
type LateSubmissions struct {
	Enabled      bool   `json:"enabled"`
	Term         int    `json:"term"`
	IntervalType string `json:"intervalType"`
}

// Schedule is a form's submission window configuration.
//
// Date fields are kept as the submitted strings; validation parses them so a
// malformed value is reported instead of silently zeroed.
type Schedule struct {
	Enabled                 bool            `json:"enabled"`
	ScheduleType            ScheduleType    `json:"scheduleType"`
	OpenSubmissionDateTime  string          `json:"openSubmissionDateTime"`
	CloseSubmissionDateTime string          `json:"closeSubmissionDateTime"`
	AllowLateSubmissions    LateSubmissions `json:"allowLateSubmissions"`
	ClosingMessageEnabled   bool            `json:"closingMessageEnabled"`
	ClosingMessage          string          `json:"closingMessage"`
	Timezone                string          `json:"timezone"`
}

// ScheduleValidation is the structural validation outcome for a schedule.
type ScheduleValidation struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

const (
	ScheduleStatusSuccess = "success"
	ScheduleStatusError   = "error"
)

// ValidateSchedule checks a schedule's structural validity.
//
// The three accepted shapes are: disabled, manual close, and date close. Date
// close requires a parseable close date, then a parseable open date, then a
// complete term+interval pair when late submissions are allowed, and non-empty
// message text when a closing message is enabled. The check is pure and runs identically on create and
// update.
func ValidateSchedule(s Schedule) ScheduleValidation {
	if !s.Enabled {
		return ScheduleValidation{Status: ScheduleStatusSuccess}
	}

	switch s.ScheduleType {
	case ScheduleTypeManual:
		return ScheduleValidation{Status: ScheduleStatusSuccess}
	case ScheduleTypeClosingDate:
		// The close date is what makes this schedule type coherent, so it is
		// checked ahead of the open date.
		if _, ok := parseScheduleTime(s.CloseSubmissionDateTime, scheduleLocation(s.Timezone)); !ok {
			return ScheduleValidation{Status: ScheduleStatusError, Message: "Invalid closed submission date."}
		}
		if _, ok := parseScheduleTime(s.OpenSubmissionDateTime, scheduleLocation(s.Timezone)); !ok {
			return ScheduleValidation{Status: ScheduleStatusError, Message: "Invalid open submission date."}
		}
		if s.AllowLateSubmissions.Enabled {
			if s.AllowLateSubmissions.Term <= 0 || !validInterval(s.AllowLateSubmissions.IntervalType) {
				return ScheduleValidation{Status: ScheduleStatusError, Message: "Invalid late submission settings."}
			}
		}
		if s.ClosingMessageEnabled && strings.TrimSpace(s.ClosingMessage) == "" {
			return ScheduleValidation{Status: ScheduleStatusError, Message: "Invalid closing message."}
		}
		return ScheduleValidation{Status: ScheduleStatusSuccess}
	default:
		return ScheduleValidation{Status: ScheduleStatusError, Message: "Invalid schedule type."}
	}
}

// ReminderEligible recomputes the derived reminder flag for a schedule.
//
// Reminders require an enabled, non-manual schedule. Date-close schedules must
// additionally be not-yet-expired (or inside the late-submission window) with
// an open date strictly in the future relative to the form's timezone. Any
// failed precondition collapses the result to false; that is the safety
// default, not an error.
func ReminderEligible(s Schedule, now time.Time) bool {
	if !s.Enabled {
		return false
	}
	switch s.ScheduleType {
	case ScheduleTypeClosingDate:
	default:
		return false
	}

	loc := scheduleLocation(s.Timezone)
	open, ok := parseScheduleTime(s.OpenSubmissionDateTime, loc)
	if !ok {
		return false
	}
	closeAt, ok := parseScheduleTime(s.CloseSubmissionDateTime, loc)
	if !ok {
		return false
	}

	localNow := now.In(loc)
	if !localNow.Before(lateWindowEnd(closeAt, s.AllowLateSubmissions)) {
		return false
	}
	if !open.After(localNow) {
		return false
	}
	return true
}

// Expired reports whether the schedule's submission window has fully closed,
// including any late-submission grace window.
func (s Schedule) Expired(now time.Time) bool {
	if !s.Enabled || s.ScheduleType != ScheduleTypeClosingDate {
		return false
	}
	loc := scheduleLocation(s.Timezone)
	closeAt, ok := parseScheduleTime(s.CloseSubmissionDateTime, loc)
	if !ok {
		return false
	}
	return !now.In(loc).Before(lateWindowEnd(closeAt, s.AllowLateSubmissions))
}

func lateWindowEnd(closeAt time.Time, late LateSubmissions) time.Time {
	if !late.Enabled || late.Term <= 0 {
		return closeAt
	}
	switch late.IntervalType {
	case IntervalDays:
		return closeAt.AddDate(0, 0, late.Term)
	case IntervalWeeks:
		return closeAt.AddDate(0, 0, 7*late.Term)
	case IntervalMonths:
		return closeAt.AddDate(0, late.Term, 0)
	case IntervalYears:
		return closeAt.AddDate(late.Term, 0, 0)
	default:
		return closeAt
	}
}

func validInterval(value string) bool {
	switch value {
	case IntervalDays, IntervalWeeks, IntervalMonths, IntervalYears:
		return true
	default:
		return false
	}
}

// scheduleLocation resolves a configured timezone, defaulting to UTC when the
// name is missing or unknown.
func scheduleLocation(name string) *time.Location {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(trimmed)
	if err != nil {
		return time.UTC
	}
	return loc
}

var scheduleTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseScheduleTime parses a submitted date string in the schedule's location.
// Layouts without an explicit offset are interpreted in loc.
func parseScheduleTime(value string, loc *time.Location) (time.Time, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, false
	}
	if parsed, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return parsed, true
	}
	for _, layout := range scheduleTimeLayouts[1:] {
		if parsed, err := time.ParseInLocation(layout, trimmed, loc); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}
