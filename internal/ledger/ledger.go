package ledger

import (
	"context"
	"errors"
)

// ErrInvalidStatus reports an Upsert with a status outside the known set.
var ErrInvalidStatus = errors.New("invalid attendance status")

// Status of a student for one lecture.
type Status string

const (
	StatusPresent Status = "present"
	StatusLate    Status = "late"
	StatusAbsent  Status = "absent"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	return s == StatusPresent || s == StatusLate || s == StatusAbsent
}

// Record is one attendance decision. The ledger holds at most one record per
// (StudentID, LectureID); later scans update the record, never duplicate it.
type Record struct {
	StudentID   string `json:"student_id"`
	StudentName string `json:"student_name,omitempty"`
	LectureID   string `json:"lecture_id"`
	Date        string `json:"date"`
	MarkedAt    int64  `json:"marked_at,omitempty"` // epoch milliseconds, 0 when absent
	Status      Status `json:"status"`
}

// Key identifies a record's uniqueness slot.
func (r Record) Key() string {
	return r.StudentID + "|" + r.LectureID
}

// Counts is the derived per-lecture status breakdown.
type Counts struct {
	Present int `json:"present"`
	Late    int `json:"late"`
	Absent  int `json:"absent"`
}

// Store is the attendance ledger contract. Implementations serialize writes
// per (student, lecture) key; writes for different keys proceed in parallel.
//
// Upsert applies an accepted scan. A scan never downgrades: when a non-absent
// record already exists, only MarkedAt (and a previously empty name) change.
// A scan does upgrade an absent record back to the scanned status.
//
// MarkAbsent is the teacher override and the only downgrade path: it forces
// status absent and clears MarkedAt, creating the record if none exists.
type Store interface {
	Upsert(ctx context.Context, rec Record) (Record, error)
	MarkAbsent(ctx context.Context, studentID, lectureID string) (Record, error)
	ByLecture(ctx context.Context, lectureID string) ([]Record, error)
	Counts(ctx context.Context, lectureID string) (Counts, error)
}
