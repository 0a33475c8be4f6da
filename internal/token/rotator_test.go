package token

import (
	"errors"
	"testing"
	"time"

	"rollcall/internal/schedule"
	"rollcall/internal/testutil"
)

type staticSource struct {
	schedule *schedule.Schedule
	err      error
}

func (s staticSource) ActiveSession(now time.Time) (schedule.Session, bool, error) {
	if s.err != nil {
		return schedule.Session{}, false, s.err
	}
	session, ok := s.schedule.ResolveActive(now)
	return session, ok, nil
}

func physicsSchedule(t *testing.T) *schedule.Schedule {
	t.Helper()
	sched, err := schedule.New([]schedule.Slot{
		{StartMinute: 540, DurationMinutes: 90, Subject: "Physics", Room: "Lab 201"},
	})
	if err != nil {
		t.Fatalf("schedule invalid: %v", err)
	}
	return sched
}

func lectureTime(hour, minute, second int) time.Time {
	return time.Date(2026, 3, 9, hour, minute, second, 0, time.UTC)
}

func TestRotateMintsTokenForActiveLecture(t *testing.T) {
	clock := testutil.NewFakeClock(lectureTime(9, 10, 0))
	r := NewRotator(staticSource{schedule: physicsSchedule(t)}, 5*time.Second, 5*time.Second, clock)

	if _, ok := r.Current(); ok {
		t.Fatalf("expected no token before first rotation")
	}
	r.Rotate()
	p, ok := r.Current()
	if !ok {
		t.Fatalf("expected token after rotation")
	}
	if p.LectureID != "2026-03-09-0540-physics" {
		t.Fatalf("unexpected lecture id %s", p.LectureID)
	}
	if p.IssuedAt != clock.Now().UnixMilli() {
		t.Fatalf("expected issuedAt %d, got %d", clock.Now().UnixMilli(), p.IssuedAt)
	}
	if p.Nonce == "" {
		t.Fatalf("expected a nonce")
	}
}

func TestValidateWindow(t *testing.T) {
	clock := testutil.NewFakeClock(lectureTime(9, 10, 0))
	r := NewRotator(staticSource{schedule: physicsSchedule(t)}, 5*time.Second, 5*time.Second, clock)
	r.Rotate()
	p, _ := r.Current()

	// Scan three seconds after mint succeeds.
	if err := r.Validate(p, lectureTime(9, 10, 3)); err != nil {
		t.Fatalf("expected valid scan, got %v", err)
	}
	// The same token fifteen minutes later is long dead.
	if err := r.Validate(p, lectureTime(9, 25, 0)); !errors.Is(err, ErrTokenNotLive) {
		t.Fatalf("expected ErrTokenNotLive, got %v", err)
	}
	// A scan timed before issuance is rejected too.
	if err := r.Validate(p, lectureTime(9, 9, 59)); !errors.Is(err, ErrTokenNotLive) {
		t.Fatalf("expected ErrTokenNotLive for pre-issue scan, got %v", err)
	}
}

func TestGracePredecessorStaysValidForOneWindow(t *testing.T) {
	clock := testutil.NewFakeClock(lectureTime(9, 10, 0))
	r := NewRotator(staticSource{schedule: physicsSchedule(t)}, 5*time.Second, 5*time.Second, clock)
	r.Rotate()
	first, _ := r.Current()

	clock.Advance(5 * time.Second)
	r.Rotate()
	second, _ := r.Current()
	if first == second {
		t.Fatalf("expected a fresh token after rotation")
	}

	// Replaced token is still accepted within its rotation-plus-grace window.
	if err := r.Validate(first, clock.Now().Add(2*time.Second)); err != nil {
		t.Fatalf("expected grace token to validate, got %v", err)
	}
	// But not beyond it.
	if err := r.Validate(first, clock.Now().Add(6*time.Second)); !errors.Is(err, ErrTokenNotLive) {
		t.Fatalf("expected grace token expiry, got %v", err)
	}

	// Two rotations later the first token is unknown regardless of timing.
	clock.Advance(5 * time.Second)
	r.Rotate()
	if err := r.Validate(first, clock.Now()); !errors.Is(err, ErrTokenNotLive) {
		t.Fatalf("expected purged token to be rejected, got %v", err)
	}
	if err := r.Validate(second, clock.Now()); err != nil {
		t.Fatalf("expected new grace token to validate, got %v", err)
	}
}

func TestRotatorClearsOutsideLectures(t *testing.T) {
	clock := testutil.NewFakeClock(lectureTime(9, 10, 0))
	r := NewRotator(staticSource{schedule: physicsSchedule(t)}, 5*time.Second, 5*time.Second, clock)
	r.Rotate()
	p, _ := r.Current()

	// Lecture ends at 10:30; the next tick clears every held token.
	clock.Set(lectureTime(10, 31, 0))
	r.Rotate()
	if _, ok := r.Current(); ok {
		t.Fatalf("expected no token outside lecture hours")
	}
	if err := r.Validate(p, lectureTime(9, 10, 2)); !errors.Is(err, ErrTokenNotLive) {
		t.Fatalf("expected cleared token to be rejected, got %v", err)
	}
}

func TestRotatorFailsClosedOnScheduleError(t *testing.T) {
	clock := testutil.NewFakeClock(lectureTime(9, 10, 0))
	good := staticSource{schedule: physicsSchedule(t)}
	r := NewRotator(good, 5*time.Second, 5*time.Second, clock)
	r.Rotate()
	if _, ok := r.Current(); !ok {
		t.Fatalf("expected token while schedule healthy")
	}

	r.source = staticSource{err: errors.New("schedule store down")}
	r.Rotate()
	if _, ok := r.Current(); ok {
		t.Fatalf("expected tokens cleared when schedule unavailable")
	}
}

func TestInvalidateDropsEverything(t *testing.T) {
	clock := testutil.NewFakeClock(lectureTime(9, 10, 0))
	r := NewRotator(staticSource{schedule: physicsSchedule(t)}, 5*time.Second, 5*time.Second, clock)
	r.Rotate()
	p, _ := r.Current()

	r.Invalidate()
	if _, ok := r.Current(); ok {
		t.Fatalf("expected no current token after invalidate")
	}
	if err := r.Validate(p, clock.Now()); !errors.Is(err, ErrTokenNotLive) {
		t.Fatalf("expected invalidated token to be rejected, got %v", err)
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	p := Payload{LectureID: "2026-03-09-0540-physics", IssuedAt: 1770627000000, Nonce: "abc-123"}
	decoded, err := DecodePayload(Encode(p))
	if err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	if decoded != p {
		t.Fatalf("expected %+v, got %+v", p, decoded)
	}
}

func TestDecodePayloadRejectsGarbage(t *testing.T) {
	cases := []string{
		"",
		"not json",
		`{"lecture_id":"","issued_at":1,"nonce":"n"}`,
		`{"lecture_id":"L","issued_at":0,"nonce":"n"}`,
		`{"lecture_id":"L","issued_at":1,"nonce":""}`,
	}
	for _, text := range cases {
		if _, err := DecodePayload(text); !errors.Is(err, ErrMalformedPayload) {
			t.Fatalf("expected malformed for %q, got %v", text, err)
		}
	}
}
