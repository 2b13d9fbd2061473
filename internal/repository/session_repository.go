package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"

	"github.com/noah-isme/classmeet-api/internal/models"
)

const sessionColumns = `id, subject, topic, section, session_date, start_time, duration_minutes, status, cancel_reason,
attendance_summary, roster, reminder_sent, meeting_link, platform, notes, teacher_id, teacher_name, recording_link,
materials, created_at, updated_at`

// SessionRepository persists class sessions in PostgreSQL. The roster and summary live in JSONB columns.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository creates the repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

type sessionRow struct {
	ID                string             `db:"id"`
	Subject           string             `db:"subject"`
	Topic             string             `db:"topic"`
	Section           string             `db:"section"`
	Date              string             `db:"session_date"`
	StartTime         string             `db:"start_time"`
	DurationMinutes   int                `db:"duration_minutes"`
	Status            string             `db:"status"`
	CancelReason      sql.NullString     `db:"cancel_reason"`
	AttendanceSummary types.NullJSONText `db:"attendance_summary"`
	Roster            types.JSONText     `db:"roster"`
	ReminderSent      bool               `db:"reminder_sent"`
	MeetingLink       string             `db:"meeting_link"`
	Platform          string             `db:"platform"`
	Notes             string             `db:"notes"`
	TeacherID         string             `db:"teacher_id"`
	TeacherName       string             `db:"teacher_name"`
	RecordingLink     string             `db:"recording_link"`
	Materials         pq.StringArray     `db:"materials"`
	CreatedAt         time.Time          `db:"created_at"`
	UpdatedAt         time.Time          `db:"updated_at"`
}

func toSessionRow(s *models.ClassSession) (*sessionRow, error) {
	roster := s.Roster
	if roster == nil {
		roster = []models.StudentAttendance{}
	}
	rosterJSON, err := json.Marshal(roster)
	if err != nil {
		return nil, fmt.Errorf("marshal roster: %w", err)
	}
	row := &sessionRow{
		ID:              s.ID,
		Subject:         s.Subject,
		Topic:           s.Topic,
		Section:         s.Section,
		Date:            s.Date,
		StartTime:       s.StartTime,
		DurationMinutes: s.DurationMinutes,
		Status:          string(s.Status),
		Roster:          types.JSONText(rosterJSON),
		ReminderSent:    s.ReminderSent,
		MeetingLink:     s.MeetingLink,
		Platform:        string(s.Platform),
		Notes:           s.Notes,
		TeacherID:       s.TeacherID,
		TeacherName:     s.TeacherName,
		RecordingLink:   s.RecordingLink,
		Materials:       pq.StringArray(s.Materials),
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
	if s.CancelReason != nil {
		row.CancelReason = sql.NullString{String: *s.CancelReason, Valid: true}
	}
	if s.AttendanceSummary != nil {
		summaryJSON, err := json.Marshal(s.AttendanceSummary)
		if err != nil {
			return nil, fmt.Errorf("marshal attendance summary: %w", err)
		}
		row.AttendanceSummary = types.NullJSONText{JSONText: types.JSONText(summaryJSON), Valid: true}
	}
	return row, nil
}

func (r sessionRow) toModel() (*models.ClassSession, error) {
	s := &models.ClassSession{
		ID:              r.ID,
		Subject:         r.Subject,
		Topic:           r.Topic,
		Section:         r.Section,
		Date:            r.Date,
		StartTime:       r.StartTime,
		DurationMinutes: r.DurationMinutes,
		Status:          models.SessionStatus(r.Status),
		ReminderSent:    r.ReminderSent,
		MeetingLink:     r.MeetingLink,
		Platform:        models.MeetingPlatform(r.Platform),
		Notes:           r.Notes,
		TeacherID:       r.TeacherID,
		TeacherName:     r.TeacherName,
		RecordingLink:   r.RecordingLink,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if len(r.Materials) > 0 {
		s.Materials = []string(r.Materials)
	}
	if r.CancelReason.Valid {
		reason := r.CancelReason.String
		s.CancelReason = &reason
	}
	if len(r.Roster) > 0 {
		if err := r.Roster.Unmarshal(&s.Roster); err != nil {
			return nil, fmt.Errorf("decode roster for session %s: %w", r.ID, err)
		}
	}
	if r.AttendanceSummary.Valid {
		var summary models.AttendanceSummary
		if err := r.AttendanceSummary.Unmarshal(&summary); err != nil {
			return nil, fmt.Errorf("decode attendance summary for session %s: %w", r.ID, err)
		}
		s.AttendanceSummary = &summary
	}
	return s, nil
}

// MalformedRowsError reports sessions whose stored columns could not be decoded.
// List returns it together with every row that did decode.
type MalformedRowsError struct {
	IDs  []string
	Errs []error
}

func (e *MalformedRowsError) Error() string {
	return fmt.Sprintf("%d malformed session rows: %v", len(e.IDs), errors.Join(e.Errs...))
}

// SkippedRows returns the ids of the rows left out of the result.
func (e *MalformedRowsError) SkippedRows() []string {
	return e.IDs
}

// List returns every decodable session, newest first. Undecodable rows are
// reported through *MalformedRowsError alongside the rest.
func (r *SessionRepository) List(ctx context.Context) ([]models.ClassSession, error) {
	query := fmt.Sprintf(`SELECT %s FROM class_sessions ORDER BY created_at DESC`, sessionColumns)
	var rows []sessionRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sessions := make([]models.ClassSession, 0, len(rows))
	var malformed *MalformedRowsError
	for _, row := range rows {
		s, err := row.toModel()
		if err != nil {
			if malformed == nil {
				malformed = &MalformedRowsError{}
			}
			malformed.IDs = append(malformed.IDs, row.ID)
			malformed.Errs = append(malformed.Errs, err)
			continue
		}
		sessions = append(sessions, *s)
	}
	if malformed != nil {
		return sessions, malformed
	}
	return sessions, nil
}

// Get loads a session by id. Missing rows surface as sql.ErrNoRows.
func (r *SessionRepository) Get(ctx context.Context, id string) (*models.ClassSession, error) {
	query := fmt.Sprintf(`SELECT %s FROM class_sessions WHERE id = $1`, sessionColumns)
	var row sessionRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		return nil, err
	}
	return row.toModel()
}

// Create inserts a new session.
func (r *SessionRepository) Create(ctx context.Context, session *models.ClassSession) error {
	row, err := toSessionRow(session)
	if err != nil {
		return err
	}
	query := `INSERT INTO class_sessions (id, subject, topic, section, session_date, start_time, duration_minutes, status, cancel_reason,
attendance_summary, roster, reminder_sent, meeting_link, platform, notes, teacher_id, teacher_name, recording_link, materials, created_at, updated_at)
VALUES (:id, :subject, :topic, :section, :session_date, :start_time, :duration_minutes, :status, :cancel_reason,
:attendance_summary, :roster, :reminder_sent, :meeting_link, :platform, :notes, :teacher_id, :teacher_name, :recording_link, :materials, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// Update overwrites the mutable columns of an existing session.
func (r *SessionRepository) Update(ctx context.Context, session *models.ClassSession) error {
	row, err := toSessionRow(session)
	if err != nil {
		return err
	}
	query := `UPDATE class_sessions SET subject = :subject, topic = :topic, section = :section, session_date = :session_date,
start_time = :start_time, duration_minutes = :duration_minutes, status = :status, cancel_reason = :cancel_reason,
attendance_summary = :attendance_summary, roster = :roster, reminder_sent = :reminder_sent, meeting_link = :meeting_link,
platform = :platform, notes = :notes, recording_link = :recording_link, materials = :materials, updated_at = :updated_at
WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, row)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
