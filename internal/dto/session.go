package dto

import (
	"time"

	"github.com/noah-isme/classmeet-api/internal/models"
)

// RosterEntry seeds one student onto a session roster at schedule time.
type RosterEntry struct {
	StudentID  string `json:"student_id" validate:"required"`
	Name       string `json:"name" validate:"required"`
	Email      string `json:"email" validate:"omitempty,email"`
	RollNumber string `json:"roll_number"`
}

// ScheduleSessionRequest is the draft used to schedule a new class session.
type ScheduleSessionRequest struct {
	Subject         string                 `json:"subject" validate:"required"`
	Topic           string                 `json:"topic"`
	Section         string                 `json:"section" validate:"required"`
	Date            string                 `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime       string                 `json:"start_time" validate:"required,datetime=15:04"`
	DurationMinutes int                    `json:"duration_minutes" validate:"gt=0"`
	MeetingLink     string                 `json:"meeting_link"`
	Platform        models.MeetingPlatform `json:"platform" validate:"omitempty,oneof=zoom google-meet teams other"`
	Notes           string                 `json:"notes"`
	TeacherID       string                 `json:"teacher_id"`
	TeacherName     string                 `json:"teacher_name"`
	Materials       []string               `json:"materials"`
	Roster          []RosterEntry          `json:"roster" validate:"omitempty,unique=StudentID,dive"`
}

// EditSessionRequest patches the mutable scheduling fields of an upcoming session.
type EditSessionRequest struct {
	Subject         *string                 `json:"subject" validate:"omitempty,min=1"`
	Topic           *string                 `json:"topic"`
	Section         *string                 `json:"section" validate:"omitempty,min=1"`
	Date            *string                 `json:"date" validate:"omitempty,datetime=2006-01-02"`
	StartTime       *string                 `json:"start_time" validate:"omitempty,datetime=15:04"`
	DurationMinutes *int                    `json:"duration_minutes" validate:"omitempty,gt=0"`
	MeetingLink     *string                 `json:"meeting_link"`
	Platform        *models.MeetingPlatform `json:"platform" validate:"omitempty,oneof=zoom google-meet teams other"`
	Notes           *string                 `json:"notes"`
	Materials       []string                `json:"materials"`
}

// CancelSessionRequest carries the operator's cancel reason.
type CancelSessionRequest struct {
	Reason string `json:"reason"`
}

// MarkAttendanceRequest records one student's mark.
type MarkAttendanceRequest struct {
	Attendance models.AttendanceMark `json:"attendance" validate:"required,oneof=NOT_MARKED PRESENT ABSENT LATE"`
}

// AttachRecordingRequest adds post-class material to a completed session.
type AttachRecordingRequest struct {
	RecordingLink string   `json:"recording_link" validate:"required_without=Materials"`
	Materials     []string `json:"materials"`
}

// SweepRequest triggers a manual sweep. A zero At means the server clock.
type SweepRequest struct {
	At time.Time `json:"at"`
}

// SweepResult lists the sessions moved by a sweep pass.
type SweepResult struct {
	At          time.Time             `json:"at"`
	Transitions []models.ClassSession `json:"transitions"`
}

// NotificationQuery filters the notification feed.
type NotificationQuery struct {
	UnreadOnly bool
	SessionID  string
	Limit      int
}
