package service

import (
	"fmt"
	"time"

	"github.com/noah-isme/classmeet-api/internal/models"
	"github.com/noah-isme/classmeet-api/pkg/export"
)

// Summarize counts roster marks. NOT_MARKED entries only contribute to Total.
func Summarize(roster []models.StudentAttendance) models.AttendanceSummary {
	summary := models.AttendanceSummary{Total: len(roster)}
	for _, student := range roster {
		switch student.Attendance {
		case models.AttendancePresent:
			summary.Present++
		case models.AttendanceAbsent:
			summary.Absent++
		case models.AttendanceLate:
			summary.Late++
		}
	}
	return summary
}

// applyMark sets a roster mark and stamps joined_at the first time a student shows up.
func applyMark(student *models.StudentAttendance, mark models.AttendanceMark, at time.Time) {
	student.Attendance = mark
	switch mark {
	case models.AttendancePresent, models.AttendanceLate:
		if student.JoinedAt == nil {
			joined := at
			student.JoinedAt = &joined
		}
	case models.AttendanceNotMarked, models.AttendanceAbsent:
		student.JoinedAt = nil
	}
}

// freezeAttendance closes open attendance intervals and records the final summary.
func freezeAttendance(session *models.ClassSession, at time.Time) {
	for i := range session.Roster {
		student := &session.Roster[i]
		if student.JoinedAt != nil && student.LeftAt == nil {
			left := at
			student.LeftAt = &left
		}
	}
	summary := Summarize(session.Roster)
	session.AttendanceSummary = &summary
}

var attendanceSheetHeaders = []string{"No", "Student ID", "Roll Number", "Name", "Email", "Attendance", "Joined At", "Left At"}

// AttendanceSheet renders a session roster as an export dataset.
func AttendanceSheet(session *models.ClassSession) export.Dataset {
	rows := make([]map[string]string, 0, len(session.Roster))
	for i, student := range session.Roster {
		rows = append(rows, map[string]string{
			"No":          fmt.Sprintf("%d", i+1),
			"Student ID":  student.StudentID,
			"Roll Number": student.RollNumber,
			"Name":        student.Name,
			"Email":       student.Email,
			"Attendance":  string(student.Attendance),
			"Joined At":   formatOptionalTime(student.JoinedAt),
			"Left At":     formatOptionalTime(student.LeftAt),
		})
	}
	summary := Summarize(session.Roster)
	if session.AttendanceSummary != nil {
		summary = *session.AttendanceSummary
	}
	return export.Dataset{
		Title: fmt.Sprintf("%s - %s (%s)", session.Subject, session.Section, session.Date),
		Notes: []string{
			fmt.Sprintf("Topic: %s", session.Topic),
			fmt.Sprintf("Status: %s", session.Status),
			fmt.Sprintf("Present %d, Late %d, Absent %d, Not marked %d, Total %d",
				summary.Present, summary.Late, summary.Absent, summary.NotMarked(), summary.Total),
		},
		Headers: attendanceSheetHeaders,
		Rows:    rows,
	}
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
