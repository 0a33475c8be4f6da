package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

const minutesPerDay = 24 * 60

// Slot is one recurring time-of-day window in the daily schedule.
// A lecture is active during [StartMinute, StartMinute+DurationMinutes).
type Slot struct {
	StartMinute     int    `json:"start_minute"`
	DurationMinutes int    `json:"duration_minutes"`
	Subject         string `json:"subject"`
	Room            string `json:"room"`
}

// EndMinute returns the exclusive end of the slot window.
func (s Slot) EndMinute() int {
	return s.StartMinute + s.DurationMinutes
}

// Session is one concrete occurrence of a slot on a given date. It is a
// derived view, never persisted.
type Session struct {
	LectureID string
	Slot      Slot
	Date      string
	StartAt   time.Time
	EndAt     time.Time
}

// Schedule is an ordered list of non-overlapping daily slots.
type Schedule struct {
	slots []Slot
}

// New validates the slots and returns a schedule ordered by start time.
func New(slots []Slot) (*Schedule, error) {
	ordered := make([]Slot, len(slots))
	copy(ordered, slots)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].StartMinute < ordered[j].StartMinute
	})
	for i, slot := range ordered {
		if slot.StartMinute < 0 || slot.StartMinute >= minutesPerDay {
			return nil, fmt.Errorf("slot %q: start minute %d out of range", slot.Subject, slot.StartMinute)
		}
		if slot.DurationMinutes <= 0 {
			return nil, fmt.Errorf("slot %q: duration must be positive", slot.Subject)
		}
		if slot.Subject == "" {
			return nil, fmt.Errorf("slot at minute %d: subject required", slot.StartMinute)
		}
		if i > 0 && slot.StartMinute < ordered[i-1].EndMinute() {
			return nil, fmt.Errorf("slot %q overlaps %q", slot.Subject, ordered[i-1].Subject)
		}
	}
	return &Schedule{slots: ordered}, nil
}

// Load reads a schedule from inline JSON or a JSON file, in that order of
// preference. Both empty is a configuration error: a rotator without a
// schedule must not run.
func Load(inline, path string) (*Schedule, error) {
	var raw []byte
	switch {
	case inline != "":
		raw = []byte(inline)
	case path != "":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read schedule: %w", err)
		}
		raw = data
	default:
		return nil, errors.New("no schedule configured (set SCHEDULE_JSON or SCHEDULE_PATH)")
	}
	var slots []Slot
	if err := json.Unmarshal(raw, &slots); err != nil {
		return nil, fmt.Errorf("parse schedule: %w", err)
	}
	return New(slots)
}

// Slots returns the ordered slots.
func (s *Schedule) Slots() []Slot {
	out := make([]Slot, len(s.slots))
	copy(out, s.slots)
	return out
}

// ResolveActive maps a wall-clock instant to the currently active session.
// The second return is false when no slot covers the instant, which is a
// normal state between lectures, not an error.
func (s *Schedule) ResolveActive(now time.Time) (Session, bool) {
	nowMinutes := now.Hour()*60 + now.Minute()
	for _, slot := range s.slots {
		if nowMinutes >= slot.StartMinute && nowMinutes < slot.EndMinute() {
			return s.sessionFor(slot, now), true
		}
	}
	return Session{}, false
}

// ActiveSession adapts ResolveActive for callers that also consume fallible
// session sources. A static schedule never errors once loaded.
func (s *Schedule) ActiveSession(now time.Time) (Session, bool, error) {
	session, ok := s.ResolveActive(now)
	return session, ok, nil
}

func (s *Schedule) sessionFor(slot Slot, now time.Time) Session {
	date := now.Format("2006-01-02")
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return Session{
		LectureID: lectureID(date, slot),
		Slot:      slot,
		Date:      date,
		StartAt:   midnight.Add(time.Duration(slot.StartMinute) * time.Minute),
		EndAt:     midnight.Add(time.Duration(slot.EndMinute()) * time.Minute),
	}
}

// lectureID is unique per slot per calendar day.
func lectureID(date string, slot Slot) string {
	return fmt.Sprintf("%s-%04d-%s", date, slot.StartMinute, slugify(slot.Subject))
}

func slugify(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
