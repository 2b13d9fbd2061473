package models

import (
	"fmt"
	"time"
)

// SessionStatus is the lifecycle state of a class session.
type SessionStatus string

const (
	SessionStatusUpcoming  SessionStatus = "UPCOMING"
	SessionStatusOngoing   SessionStatus = "ONGOING"
	SessionStatusCancelled SessionStatus = "CANCELLED"
	SessionStatusCompleted SessionStatus = "COMPLETED"
)

// SessionStatuses lists every status in board order.
var SessionStatuses = []SessionStatus{
	SessionStatusUpcoming,
	SessionStatusOngoing,
	SessionStatusCancelled,
	SessionStatusCompleted,
}

// Valid reports whether the status is one of the closed set.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusUpcoming, SessionStatusOngoing, SessionStatusCancelled, SessionStatusCompleted:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCancelled || s == SessionStatusCompleted
}

// MeetingPlatform identifies where the class is hosted. Opaque to the engine.
type MeetingPlatform string

const (
	PlatformZoom       MeetingPlatform = "zoom"
	PlatformGoogleMeet MeetingPlatform = "google-meet"
	PlatformTeams      MeetingPlatform = "teams"
	PlatformOther      MeetingPlatform = "other"
)

const (
	// SessionDateLayout is the calendar date format of ClassSession.Date.
	SessionDateLayout = "2006-01-02"
	// SessionTimeLayout is the wall clock format of ClassSession.StartTime.
	SessionTimeLayout = "15:04"
)

// ClassSession is one scheduled class meeting.
type ClassSession struct {
	ID                string              `json:"id"`
	Subject           string              `json:"subject"`
	Topic             string              `json:"topic"`
	Section           string              `json:"section"`
	Date              string              `json:"date"`
	StartTime         string              `json:"start_time"`
	DurationMinutes   int                 `json:"duration_minutes"`
	Status            SessionStatus       `json:"status"`
	CancelReason      *string             `json:"cancel_reason,omitempty"`
	AttendanceSummary *AttendanceSummary  `json:"attendance_summary,omitempty"`
	Roster            []StudentAttendance `json:"roster"`
	ReminderSent      bool                `json:"reminder_sent"`
	MeetingLink       string              `json:"meeting_link,omitempty"`
	Platform          MeetingPlatform     `json:"platform,omitempty"`
	Notes             string              `json:"notes,omitempty"`
	TeacherID         string              `json:"teacher_id,omitempty"`
	TeacherName       string              `json:"teacher_name,omitempty"`
	RecordingLink     string              `json:"recording_link,omitempty"`
	Materials         []string            `json:"materials,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// StartsAt resolves the scheduled start in loc.
func (s *ClassSession) StartsAt(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	start, err := time.ParseInLocation(SessionDateLayout+" "+SessionTimeLayout, s.Date+" "+s.StartTime, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse session %s start %q %q: %w", s.ID, s.Date, s.StartTime, err)
	}
	return start, nil
}

// Window returns the scheduled [start, end) interval in loc.
func (s *ClassSession) Window(loc *time.Location) (time.Time, time.Time, error) {
	start, err := s.StartsAt(loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if s.DurationMinutes <= 0 {
		return time.Time{}, time.Time{}, fmt.Errorf("session %s has non-positive duration %d", s.ID, s.DurationMinutes)
	}
	return start, start.Add(time.Duration(s.DurationMinutes) * time.Minute), nil
}

// StudentByID returns the roster index of the student or -1.
func (s *ClassSession) StudentByID(studentID string) int {
	for i := range s.Roster {
		if s.Roster[i].StudentID == studentID {
			return i
		}
	}
	return -1
}

// Clone deep-copies the session so callers never share roster slices with the store.
func (s *ClassSession) Clone() *ClassSession {
	if s == nil {
		return nil
	}
	out := *s
	if s.CancelReason != nil {
		reason := *s.CancelReason
		out.CancelReason = &reason
	}
	if s.AttendanceSummary != nil {
		summary := *s.AttendanceSummary
		out.AttendanceSummary = &summary
	}
	if s.Roster != nil {
		out.Roster = make([]StudentAttendance, len(s.Roster))
		for i, st := range s.Roster {
			out.Roster[i] = st.clone()
		}
	}
	if s.Materials != nil {
		out.Materials = append([]string(nil), s.Materials...)
	}
	return &out
}

// SessionFilter narrows session listings. Zero values mean no constraint.
type SessionFilter struct {
	Status SessionStatus
	Search string
	Date   string
	From   string
	To     string
	SortBy string
}

const (
	SortByStart   = "start"
	SortByCreated = "created"
)

// SessionBoard partitions sessions by status.
type SessionBoard struct {
	Upcoming  []ClassSession `json:"upcoming"`
	Ongoing   []ClassSession `json:"ongoing"`
	Cancelled []ClassSession `json:"cancelled"`
	Completed []ClassSession `json:"completed"`
}

// Total counts all sessions on the board.
func (b SessionBoard) Total() int {
	return len(b.Upcoming) + len(b.Ongoing) + len(b.Cancelled) + len(b.Completed)
}

// Pagination contains metadata for paginated responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
