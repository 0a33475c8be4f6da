package schedule

import (
	"testing"
	"time"
)

func daySlots() []Slot {
	return []Slot{
		{StartMinute: 540, DurationMinutes: 90, Subject: "Mathematics", Room: "Room 101"},
		{StartMinute: 630, DurationMinutes: 90, Subject: "Physics", Room: "Lab 201"},
		{StartMinute: 780, DurationMinutes: 90, Subject: "Computer Science", Room: "Room 305"},
		{StartMinute: 870, DurationMinutes: 90, Subject: "English", Room: "Room 102"},
	}
}

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 9, hour, minute, 0, 0, time.UTC)
}

func TestResolveActiveMatchesSingleSlot(t *testing.T) {
	sched, err := New(daySlots())
	if err != nil {
		t.Fatalf("schedule invalid: %v", err)
	}

	session, ok := sched.ResolveActive(at(9, 10))
	if !ok {
		t.Fatalf("expected active session at 09:10")
	}
	if session.Slot.Subject != "Mathematics" {
		t.Fatalf("expected Mathematics, got %s", session.Slot.Subject)
	}
	if session.Date != "2026-03-09" {
		t.Fatalf("expected date 2026-03-09, got %s", session.Date)
	}
	if session.LectureID != "2026-03-09-0540-mathematics" {
		t.Fatalf("unexpected lecture id %s", session.LectureID)
	}
	if !session.StartAt.Equal(at(9, 0)) {
		t.Fatalf("expected start 09:00, got %s", session.StartAt)
	}
}

func TestResolveActiveBoundaries(t *testing.T) {
	sched, err := New(daySlots())
	if err != nil {
		t.Fatalf("schedule invalid: %v", err)
	}

	// Start is inclusive, end is exclusive: 10:30 belongs to Physics, not Math.
	session, ok := sched.ResolveActive(at(10, 30))
	if !ok || session.Slot.Subject != "Physics" {
		t.Fatalf("expected Physics at 10:30, got %+v ok=%v", session, ok)
	}

	// Gap between Physics (ends 12:00) and CS (starts 13:00).
	if _, ok := sched.ResolveActive(at(12, 15)); ok {
		t.Fatalf("expected no active session in gap")
	}

	// Before and after the day's slots.
	if _, ok := sched.ResolveActive(at(7, 0)); ok {
		t.Fatalf("expected none before first slot")
	}
	if _, ok := sched.ResolveActive(at(17, 0)); ok {
		t.Fatalf("expected none after last slot")
	}
}

func TestNewRejectsInvalidSlots(t *testing.T) {
	cases := map[string][]Slot{
		"overlap": {
			{StartMinute: 540, DurationMinutes: 90, Subject: "A"},
			{StartMinute: 600, DurationMinutes: 60, Subject: "B"},
		},
		"negative start": {{StartMinute: -5, DurationMinutes: 60, Subject: "A"}},
		"start past midnight": {{StartMinute: 1440, DurationMinutes: 60, Subject: "A"}},
		"zero duration": {{StartMinute: 540, DurationMinutes: 0, Subject: "A"}},
		"missing subject": {{StartMinute: 540, DurationMinutes: 60}},
	}
	for name, slots := range cases {
		if _, err := New(slots); err == nil {
			t.Fatalf("case %s: expected error", name)
		}
	}
}

func TestNewOrdersSlots(t *testing.T) {
	sched, err := New([]Slot{
		{StartMinute: 780, DurationMinutes: 60, Subject: "B"},
		{StartMinute: 540, DurationMinutes: 60, Subject: "A"},
	})
	if err != nil {
		t.Fatalf("schedule invalid: %v", err)
	}
	slots := sched.Slots()
	if slots[0].Subject != "A" || slots[1].Subject != "B" {
		t.Fatalf("expected slots ordered by start, got %+v", slots)
	}
}

func TestLoadInlineJSON(t *testing.T) {
	sched, err := Load(`[{"start_minute":540,"duration_minutes":90,"subject":"Physics","room":"Lab 201"}]`, "")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(sched.Slots()) != 1 {
		t.Fatalf("expected one slot")
	}
}

func TestLoadRequiresSource(t *testing.T) {
	if _, err := Load("", ""); err == nil {
		t.Fatalf("expected error with no schedule source")
	}
}
