package ledger

import (
	"context"
	"sync"
)

// Memory is the in-memory ledger backend used in dev and tests. Mutations for
// the same (student, lecture) key are serialized on a per-key mutex so that
// unrelated students never contend.
type Memory struct {
	keys keyLocks

	mu    sync.RWMutex
	byKey map[string]Record
	order map[string][]string // lectureID -> record keys in insertion order
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		keys:  keyLocks{locks: make(map[string]*sync.Mutex)},
		byKey: make(map[string]Record),
		order: make(map[string][]string),
	}
}

// Upsert inserts or updates the record for rec's key. See Store.
func (m *Memory) Upsert(_ context.Context, rec Record) (Record, error) {
	if !rec.Status.Valid() {
		return Record{}, ErrInvalidStatus
	}
	lock := m.keys.forKey(rec.Key())
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	existing, exists := m.byKey[rec.Key()]
	if exists && existing.Status != StatusAbsent {
		// Re-scan: refresh the timestamp, keep the earlier status.
		existing.MarkedAt = rec.MarkedAt
		if existing.StudentName == "" {
			existing.StudentName = rec.StudentName
		}
		m.byKey[rec.Key()] = existing
		return existing, nil
	}
	if exists {
		// Scan after a teacher override: the student is here after all.
		if rec.StudentName == "" {
			rec.StudentName = existing.StudentName
		}
		m.byKey[rec.Key()] = rec
		return rec, nil
	}
	m.byKey[rec.Key()] = rec
	m.order[rec.LectureID] = append(m.order[rec.LectureID], rec.Key())
	return rec, nil
}

// MarkAbsent forces status absent for the key, creating the record if needed.
func (m *Memory) MarkAbsent(_ context.Context, studentID, lectureID string) (Record, error) {
	rec := Record{StudentID: studentID, LectureID: lectureID, Status: StatusAbsent}
	lock := m.keys.forKey(rec.Key())
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, exists := m.byKey[rec.Key()]; exists {
		existing.Status = StatusAbsent
		existing.MarkedAt = 0
		m.byKey[rec.Key()] = existing
		return existing, nil
	}
	rec.Date = dateFromLectureID(lectureID)
	m.byKey[rec.Key()] = rec
	m.order[lectureID] = append(m.order[lectureID], rec.Key())
	return rec, nil
}

// ByLecture returns the lecture's records in insertion order.
func (m *Memory) ByLecture(_ context.Context, lectureID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := m.order[lectureID]
	out := make([]Record, 0, len(keys))
	for _, key := range keys {
		out = append(out, m.byKey[key])
	}
	return out, nil
}

// Counts derives the status breakdown for a lecture.
func (m *Memory) Counts(_ context.Context, lectureID string) (Counts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var counts Counts
	for _, key := range m.order[lectureID] {
		switch m.byKey[key].Status {
		case StatusPresent:
			counts.Present++
		case StatusLate:
			counts.Late++
		case StatusAbsent:
			counts.Absent++
		}
	}
	return counts, nil
}

// keyLocks hands out one mutex per record key.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyLocks) forKey(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	lock, ok := k.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		k.locks[key] = lock
	}
	return lock
}

// dateFromLectureID recovers the calendar date prefix of a lecture id, for
// records created by a teacher override before any scan happened.
func dateFromLectureID(lectureID string) string {
	if len(lectureID) >= 10 {
		return lectureID[:10]
	}
	return ""
}
