package domain

import (
	"testing"
	"time"
)

var testNow = time.Date(2026, time.February, 1, 12, 0, 0, 0, time.UTC)

func TestValidateScheduleDisabled(t *testing.T) {
	got := ValidateSchedule(Schedule{Enabled: false, ScheduleType: "nonsense"})
	if got.Status != ScheduleStatusSuccess {
		t.Fatalf("disabled schedule status = %q, want success", got.Status)
	}
}

func TestValidateScheduleManual(t *testing.T) {
	got := ValidateSchedule(Schedule{Enabled: true, ScheduleType: ScheduleTypeManual})
	if got.Status != ScheduleStatusSuccess {
		t.Fatalf("manual schedule status = %q, want success", got.Status)
	}
}

func TestValidateScheduleClosingDate(t *testing.T) {
	base := Schedule{
		Enabled:                 true,
		ScheduleType:            ScheduleTypeClosingDate,
		OpenSubmissionDateTime:  "2026-03-01T09:00:00Z",
		CloseSubmissionDateTime: "2026-03-15T17:00:00Z",
	}

	cases := []struct {
		name        string
		mutate      func(*Schedule)
		wantMessage string
	}{
		{
			name:   "valid",
			mutate: func(*Schedule) {},
		},
		{
			name:        "bad open date",
			mutate:      func(s *Schedule) { s.OpenSubmissionDateTime = "not-a-date" },
			wantMessage: "Invalid open submission date.",
		},
		{
			name: "no dates at all reports the close date first",
			mutate: func(s *Schedule) {
				s.OpenSubmissionDateTime = ""
				s.CloseSubmissionDateTime = ""
			},
			wantMessage: "Invalid closed submission date.",
		},
		{
			name:        "missing close date",
			mutate:      func(s *Schedule) { s.CloseSubmissionDateTime = "" },
			wantMessage: "Invalid closed submission date.",
		},
		{
			name: "late submissions without term",
			mutate: func(s *Schedule) {
				s.AllowLateSubmissions = LateSubmissions{Enabled: true, IntervalType: IntervalDays}
			},
			wantMessage: "Invalid late submission settings.",
		},
		{
			name: "late submissions with unknown interval",
			mutate: func(s *Schedule) {
				s.AllowLateSubmissions = LateSubmissions{Enabled: true, Term: 2, IntervalType: "fortnights"}
			},
			wantMessage: "Invalid late submission settings.",
		},
		{
			name: "closing message enabled but blank",
			mutate: func(s *Schedule) {
				s.ClosingMessageEnabled = true
				s.ClosingMessage = "   "
			},
			wantMessage: "Invalid closing message.",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			schedule := base
			tc.mutate(&schedule)
			got := ValidateSchedule(schedule)
			if tc.wantMessage == "" {
				if got.Status != ScheduleStatusSuccess {
					t.Fatalf("status = %q (%q), want success", got.Status, got.Message)
				}
				return
			}
			if got.Status != ScheduleStatusError {
				t.Fatalf("status = %q, want error", got.Status)
			}
			if got.Message != tc.wantMessage {
				t.Fatalf("message = %q, want %q", got.Message, tc.wantMessage)
			}
		})
	}
}

func TestValidateScheduleUnknownType(t *testing.T) {
	got := ValidateSchedule(Schedule{Enabled: true, ScheduleType: "periodic"})
	if got.Status != ScheduleStatusError || got.Message != "Invalid schedule type." {
		t.Fatalf("got %+v, want schedule type error", got)
	}
}

func TestReminderEligible(t *testing.T) {
	open := testNow.Add(24 * time.Hour).Format(time.RFC3339)
	closeAt := testNow.Add(72 * time.Hour).Format(time.RFC3339)

	eligible := Schedule{
		Enabled:                 true,
		ScheduleType:            ScheduleTypeClosingDate,
		OpenSubmissionDateTime:  open,
		CloseSubmissionDateTime: closeAt,
	}
	if !ReminderEligible(eligible, testNow) {
		t.Fatal("expected a future-dated closing schedule to be eligible")
	}

	cases := []struct {
		name   string
		mutate func(*Schedule)
	}{
		{"disabled", func(s *Schedule) { s.Enabled = false }},
		{"manual close", func(s *Schedule) { s.ScheduleType = ScheduleTypeManual }},
		{"unparseable open", func(s *Schedule) { s.OpenSubmissionDateTime = "garbage" }},
		{"open already passed", func(s *Schedule) {
			s.OpenSubmissionDateTime = testNow.Add(-time.Hour).Format(time.RFC3339)
		}},
		{"window expired", func(s *Schedule) {
			s.OpenSubmissionDateTime = testNow.Add(-72 * time.Hour).Format(time.RFC3339)
			s.CloseSubmissionDateTime = testNow.Add(-24 * time.Hour).Format(time.RFC3339)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			schedule := eligible
			tc.mutate(&schedule)
			if ReminderEligible(schedule, testNow) {
				t.Fatal("expected eligibility to collapse to false")
			}
		})
	}
}

func TestReminderEligibleLateWindowExtendsExpiry(t *testing.T) {
	schedule := Schedule{
		Enabled:                 true,
		ScheduleType:            ScheduleTypeClosingDate,
		OpenSubmissionDateTime:  testNow.Add(time.Hour).Format(time.RFC3339),
		CloseSubmissionDateTime: testNow.Add(-24 * time.Hour).Format(time.RFC3339),
	}
	if ReminderEligible(schedule, testNow) {
		t.Fatal("closed window without grace should be ineligible")
	}

	schedule.AllowLateSubmissions = LateSubmissions{Enabled: true, Term: 3, IntervalType: IntervalDays}
	if !ReminderEligible(schedule, testNow) {
		t.Fatal("late-submission grace window should keep the schedule eligible")
	}
}

func TestScheduleExpired(t *testing.T) {
	schedule := Schedule{
		Enabled:                 true,
		ScheduleType:            ScheduleTypeClosingDate,
		CloseSubmissionDateTime: testNow.Add(-time.Hour).Format(time.RFC3339),
	}
	if !schedule.Expired(testNow) {
		t.Fatal("expected past closing date to be expired")
	}

	schedule.AllowLateSubmissions = LateSubmissions{Enabled: true, Term: 1, IntervalType: IntervalWeeks}
	if schedule.Expired(testNow) {
		t.Fatal("expected late window to keep the schedule open")
	}

	manual := Schedule{Enabled: true, ScheduleType: ScheduleTypeManual}
	if manual.Expired(testNow) {
		t.Fatal("manual schedules never expire on their own")
	}
}

func TestParseScheduleTimeLayouts(t *testing.T) {
	loc, err := time.LoadLocation("America/Vancouver")
	if err != nil {
		t.Fatalf("LoadLocation returned error: %v", err)
	}

	for _, value := range []string{
		"2026-03-01T09:00:00Z",
		"2026-03-01T09:00:00",
		"2026-03-01 09:00:00",
		"2026-03-01",
	} {
		if _, ok := parseScheduleTime(value, loc); !ok {
			t.Fatalf("parseScheduleTime(%q) failed, want parsed", value)
		}
	}
	if _, ok := parseScheduleTime("03/01/2026", loc); ok {
		t.Fatal("expected slash-formatted date to be rejected")
	}

	// Layouts without an offset are interpreted in the schedule's location.
	parsed, ok := parseScheduleTime("2026-03-01 09:00:00", loc)
	if !ok {
		t.Fatal("parse failed")
	}
	if parsed.Location() != loc {
		t.Fatalf("location = %v, want %v", parsed.Location(), loc)
	}
}
