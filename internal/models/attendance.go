package models

import "time"

// AttendanceMark is a student's attendance for one session.
type AttendanceMark string

const (
	AttendanceNotMarked AttendanceMark = "NOT_MARKED"
	AttendancePresent   AttendanceMark = "PRESENT"
	AttendanceAbsent    AttendanceMark = "ABSENT"
	AttendanceLate      AttendanceMark = "LATE"
)

// Valid reports whether the mark belongs to the closed set.
func (m AttendanceMark) Valid() bool {
	switch m {
	case AttendanceNotMarked, AttendancePresent, AttendanceAbsent, AttendanceLate:
		return true
	}
	return false
}

// StudentAttendance is one roster entry owned by a ClassSession.
type StudentAttendance struct {
	StudentID  string         `json:"student_id"`
	Name       string         `json:"name"`
	Email      string         `json:"email,omitempty"`
	RollNumber string         `json:"roll_number,omitempty"`
	Attendance AttendanceMark `json:"attendance"`
	JoinedAt   *time.Time     `json:"joined_at,omitempty"`
	LeftAt     *time.Time     `json:"left_at,omitempty"`
}

func (s StudentAttendance) clone() StudentAttendance {
	out := s
	if s.JoinedAt != nil {
		t := *s.JoinedAt
		out.JoinedAt = &t
	}
	if s.LeftAt != nil {
		t := *s.LeftAt
		out.LeftAt = &t
	}
	return out
}

// AttendanceSummary aggregates roster marks. Present+Absent+Late never exceeds Total.
type AttendanceSummary struct {
	Present int `json:"present"`
	Absent  int `json:"absent"`
	Late    int `json:"late"`
	Total   int `json:"total"`
}

// NotMarked returns the number of roster entries still unmarked.
func (s AttendanceSummary) NotMarked() int {
	return s.Total - s.Present - s.Absent - s.Late
}
