package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS class_sessions (
	id TEXT PRIMARY KEY,
	subject TEXT NOT NULL,
	topic TEXT NOT NULL DEFAULT '',
	section TEXT NOT NULL,
	session_date TEXT NOT NULL,
	start_time TEXT NOT NULL,
	duration_minutes INTEGER NOT NULL CHECK (duration_minutes > 0),
	status TEXT NOT NULL,
	cancel_reason TEXT,
	attendance_summary JSONB,
	roster JSONB NOT NULL DEFAULT '[]'::jsonb,
	reminder_sent BOOLEAN NOT NULL DEFAULT FALSE,
	meeting_link TEXT NOT NULL DEFAULT '',
	platform TEXT NOT NULL DEFAULT '',
	notes TEXT NOT NULL DEFAULT '',
	teacher_id TEXT NOT NULL DEFAULT '',
	teacher_name TEXT NOT NULL DEFAULT '',
	recording_link TEXT NOT NULL DEFAULT '',
	materials TEXT[],
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_class_sessions_status ON class_sessions (status)`,
	`CREATE TABLE IF NOT EXISTS notifications (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	title TEXT NOT NULL,
	message TEXT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	read BOOLEAN NOT NULL DEFAULT FALSE,
	session_id TEXT
)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_session ON notifications (session_id)`,
}

// Migrate creates the tables used by the PostgreSQL stores when missing.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for i, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i+1, err)
		}
	}
	return nil
}
