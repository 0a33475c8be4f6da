package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"rollcall/internal/ledger"
	"rollcall/internal/queue"
	"rollcall/internal/schedule"
	"rollcall/internal/token"
)

var (
	scansAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollcall_scans_accepted_total",
		Help: "Accepted scans by resulting status.",
	}, []string{"status"})
	scansRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollcall_scans_rejected_total",
		Help: "Rejected scans by reason.",
	}, []string{"reason"})
)

// Reason classifies why a scan was rejected. Every reason maps to a string
// callers can show directly; the scanning UI branches on the reason to decide
// whether to retry or surface the failure.
type Reason string

const (
	ReasonMalformed        Reason = "malformed"
	ReasonExpiredOrUnknown Reason = "expired_or_unknown"
	ReasonMissingIdentity  Reason = "missing_identity"
)

var reasonMessages = map[Reason]string{
	ReasonMalformed:        "That QR code is not an attendance code. Rescan the one on screen.",
	ReasonExpiredOrUnknown: "That code has expired. Scan the current code on screen.",
	ReasonMissingIdentity:  "No student identity on this scan. Sign in again and retry.",
}

// Message returns the display string for the reason.
func (r Reason) Message() string {
	return reasonMessages[r]
}

// Result is the outcome of one scan submission.
type Result struct {
	Accepted bool
	Record   ledger.Record
	Reason   Reason
}

// Tokens is the slice of the rotator the ingest path needs: payload
// validation plus the session the live token belongs to.
type Tokens interface {
	Validate(p token.Payload, now time.Time) error
	Session() (schedule.Session, bool)
}

// Service validates decoded scans and turns accepted ones into ledger writes.
type Service struct {
	tokens        Tokens
	store         ledger.Store
	q             queue.Queue
	lateThreshold time.Duration
}

// NewService wires the scan pipeline. q may be nil when no verification
// worker is deployed.
func NewService(tokens Tokens, store ledger.Store, q queue.Queue, lateThreshold time.Duration) *Service {
	if lateThreshold <= 0 {
		lateThreshold = 10 * time.Minute
	}
	return &Service{tokens: tokens, store: store, q: q, lateThreshold: lateThreshold}
}

// Submit runs the validation chain on a decoded QR text and, when it passes,
// performs exactly one ledger upsert. Rejections are returned as values, not
// errors; the error return is for ledger/infrastructure failure only.
//
// A valid token is a broadcast secret: submitting it does not consume it, so
// any number of students can scan the same displayed code.
func (s *Service) Submit(ctx context.Context, decodedText, studentID, studentName string, now time.Time) (Result, error) {
	payload, err := token.DecodePayload(decodedText)
	if err != nil {
		return s.reject(ReasonMalformed), nil
	}
	if err := s.tokens.Validate(payload, now); err != nil {
		if errors.Is(err, token.ErrTokenNotLive) {
			return s.reject(ReasonExpiredOrUnknown), nil
		}
		return Result{}, err
	}
	if studentID == "" {
		return s.reject(ReasonMissingIdentity), nil
	}

	session, ok := s.tokens.Session()
	if !ok || session.LectureID != payload.LectureID {
		// The lecture ended between validation and now; treat as expiry.
		return s.reject(ReasonExpiredOrUnknown), nil
	}

	// Lateness is judged on whole minutes: a scan during the threshold's
	// boundary minute (e.g. 09:10:03 with a 10m threshold on a 09:00 start)
	// still counts as present.
	status := ledger.StatusPresent
	if now.Sub(session.StartAt).Truncate(time.Minute) > s.lateThreshold {
		status = ledger.StatusLate
	}
	rec, err := s.store.Upsert(ctx, ledger.Record{
		StudentID:   studentID,
		StudentName: studentName,
		LectureID:   session.LectureID,
		Date:        session.Date,
		MarkedAt:    now.UnixMilli(),
		Status:      status,
	})
	if err != nil {
		return Result{}, err
	}

	scansAccepted.WithLabelValues(string(rec.Status)).Inc()
	s.publish(ctx, rec)
	return Result{Accepted: true, Record: rec}, nil
}

func (s *Service) reject(reason Reason) Result {
	scansRejected.WithLabelValues(string(reason)).Inc()
	return Result{Reason: reason}
}

// publish hands the accepted record to the verification worker. Losing a
// message never loses attendance: the record is already in the ledger.
func (s *Service) publish(ctx context.Context, rec ledger.Record) {
	if s.q == nil {
		return
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := s.q.Publish(ctx, queue.Message{Type: "scan", Body: body}); err != nil {
		log.Printf("queue publish failed: %v", err)
	}
}
