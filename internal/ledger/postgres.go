package ledger

import (
	"context"
	"database/sql"
	"time"
)

// Postgres persists the ledger in Postgres. Uniqueness of (student_id,
// lecture_id) is a table constraint; ON CONFLICT upserts give the per-key
// write serialization the contract requires without any table-wide lock.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a Postgres-backed ledger.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates the ledger tables when they do not exist yet.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS attendance_records (
			student_id   TEXT NOT NULL,
			student_name TEXT NOT NULL DEFAULT '',
			lecture_id   TEXT NOT NULL,
			date         TEXT NOT NULL DEFAULT '',
			marked_at_ms BIGINT,
			status       TEXT NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (student_id, lecture_id)
		);
		CREATE TABLE IF NOT EXISTS refresh_tokens (
			user_id    TEXT NOT NULL,
			token      TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			revoked    BOOLEAN NOT NULL DEFAULT FALSE
		)
	`)
	return err
}

// Upsert inserts or updates the record for rec's key. See Store.
func (p *Postgres) Upsert(ctx context.Context, rec Record) (Record, error) {
	if !rec.Status.Valid() {
		return Record{}, ErrInvalidStatus
	}
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (student_id, student_name, lecture_id, date, marked_at_ms, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (student_id, lecture_id) DO UPDATE SET
			marked_at_ms = EXCLUDED.marked_at_ms,
			student_name = CASE WHEN attendance_records.student_name = ''
				THEN EXCLUDED.student_name ELSE attendance_records.student_name END,
			status = CASE WHEN attendance_records.status = 'absent'
				THEN EXCLUDED.status ELSE attendance_records.status END,
			updated_at = NOW()
		RETURNING student_id, student_name, lecture_id, date, marked_at_ms, status
	`, rec.StudentID, rec.StudentName, rec.LectureID, rec.Date, nullMillis(rec.MarkedAt), rec.Status)
	return scanRecord(row)
}

// MarkAbsent forces status absent for the key, creating the record if needed.
func (p *Postgres) MarkAbsent(ctx context.Context, studentID, lectureID string) (Record, error) {
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (student_id, lecture_id, date, status)
		VALUES ($1, $2, $3, 'absent')
		ON CONFLICT (student_id, lecture_id) DO UPDATE SET
			status = 'absent',
			marked_at_ms = NULL,
			updated_at = NOW()
		RETURNING student_id, student_name, lecture_id, date, marked_at_ms, status
	`, studentID, lectureID, dateFromLectureID(lectureID))
	return scanRecord(row)
}

// ByLecture returns the lecture's records in insertion order.
func (p *Postgres) ByLecture(ctx context.Context, lectureID string) ([]Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT student_id, student_name, lecture_id, date, marked_at_ms, status
		FROM attendance_records
		WHERE lecture_id = $1
		ORDER BY created_at, student_id
	`, lectureID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Counts derives the status breakdown for a lecture.
func (p *Postgres) Counts(ctx context.Context, lectureID string) (Counts, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM attendance_records WHERE lecture_id = $1 GROUP BY status
	`, lectureID)
	if err != nil {
		return Counts{}, err
	}
	defer rows.Close()

	var counts Counts
	for rows.Next() {
		var status Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Counts{}, err
		}
		switch status {
		case StatusPresent:
			counts.Present = n
		case StatusLate:
			counts.Late = n
		case StatusAbsent:
			counts.Absent = n
		}
	}
	return counts, rows.Err()
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (p *Postgres) SaveRefreshToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (user_id, token, expires_at)
		VALUES ($1, $2, $3)
	`, userID, token, expiresAt)
	return err
}

// RevokeRefreshToken marks a token revoked.
func (p *Postgres) RevokeRefreshToken(ctx context.Context, token string) error {
	_, err := p.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = TRUE WHERE token = $1`, token)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var markedAt sql.NullInt64
	if err := row.Scan(&rec.StudentID, &rec.StudentName, &rec.LectureID, &rec.Date, &markedAt, &rec.Status); err != nil {
		return Record{}, err
	}
	if markedAt.Valid {
		rec.MarkedAt = markedAt.Int64
	}
	return rec, nil
}

func nullMillis(ms int64) sql.NullInt64 {
	if ms == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: ms, Valid: true}
}
