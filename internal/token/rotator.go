package token

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"rollcall/internal/schedule"
)

var rotationsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "rollcall_token_rotations_total",
	Help: "Number of session tokens minted.",
})

// Clock abstracts wall-clock time so rotation can be tested deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// SessionSource reports the currently active lecture session. An error means
// the schedule is unavailable and the rotator must fail closed.
type SessionSource interface {
	ActiveSession(now time.Time) (schedule.Session, bool, error)
}

// ErrTokenNotLive reports a payload that is well-formed but does not match a
// currently held token, or whose validity window has lapsed.
var ErrTokenNotLive = errors.New("token expired or unknown")

// Rotator mints a fresh session token for the active lecture every period and
// is the only owner of the live token state. At any instant at most two tokens
// are valid for a lecture: the current one and its grace-period predecessor.
type Rotator struct {
	source SessionSource
	clock  Clock
	period time.Duration
	grace  time.Duration

	mu      sync.Mutex
	session schedule.Session
	current *Payload
	prior   *Payload

	tickMu sync.Mutex
}

// NewRotator builds a stopped rotator. Pass nil clock for the system clock.
func NewRotator(source SessionSource, period, grace time.Duration, clock Clock) *Rotator {
	if period <= 0 {
		period = 5 * time.Second
	}
	if grace <= 0 {
		grace = period
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Rotator{source: source, clock: clock, period: period, grace: grace}
}

// Start runs the rotation loop until ctx is cancelled. Cancellation
// invalidates the in-memory token immediately.
func (r *Rotator) Start(ctx context.Context) {
	ticker := time.NewTicker(r.period)
	go func() {
		defer ticker.Stop()
		r.Rotate()
		for {
			select {
			case <-ctx.Done():
				r.Invalidate()
				return
			case <-ticker.C:
				r.Rotate()
			}
		}
	}()
}

// Rotate performs one rotation tick. A tick that overlaps a still-running
// tick is skipped rather than queued.
func (r *Rotator) Rotate() {
	if !r.tickMu.TryLock() {
		return
	}
	defer r.tickMu.Unlock()

	now := r.clock.Now()
	session, ok, err := r.source.ActiveSession(now)
	if err != nil {
		// Fail closed: never publish a token from stale schedule state.
		log.Printf("rotator: schedule unavailable, clearing tokens: %v", err)
		r.Invalidate()
		return
	}
	if !ok {
		r.Invalidate()
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil && r.current.LectureID != session.LectureID {
		// Lecture boundary crossed: no token survives into the next lecture.
		r.current = nil
		r.prior = nil
	}
	if r.current != nil {
		prior := *r.current
		r.prior = &prior
	}
	minted := Payload{
		LectureID: session.LectureID,
		IssuedAt:  now.UnixMilli(),
		Nonce:     uuid.NewString(),
	}
	r.session = session
	r.current = &minted
	rotationsTotal.Inc()
}

// Invalidate drops all held tokens.
func (r *Rotator) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session = schedule.Session{}
	r.current = nil
	r.prior = nil
}

// Current returns the token to display, when a lecture is active.
func (r *Rotator) Current() (Payload, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return Payload{}, false
	}
	return *r.current, true
}

// Session returns the session the current token belongs to.
func (r *Rotator) Session() (schedule.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return schedule.Session{}, false
	}
	return r.session, true
}

// Validate accepts a payload only if it equals the current or grace token for
// its lecture and now falls inside the payload's rotation-plus-grace window.
func (r *Rotator) Validate(p Payload, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	held := r.liveMatch(p)
	if held == nil {
		return ErrTokenNotLive
	}
	issued := time.UnixMilli(held.IssuedAt)
	if now.Before(issued) || !now.Before(issued.Add(r.period+r.grace)) {
		return ErrTokenNotLive
	}
	return nil
}

func (r *Rotator) liveMatch(p Payload) *Payload {
	if r.current != nil && *r.current == p {
		return r.current
	}
	if r.prior != nil && *r.prior == p {
		return r.prior
	}
	return nil
}
