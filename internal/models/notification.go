package models

import "time"

// NotificationType enumerates the notification kinds the engine emits.
type NotificationType string

const (
	NotificationScheduleCreated   NotificationType = "schedule-created"
	NotificationRescheduled       NotificationType = "rescheduled"
	NotificationCancelled         NotificationType = "cancelled"
	NotificationReminder          NotificationType = "reminder"
	NotificationAttendanceSummary NotificationType = "attendance-summary"
)

// Valid reports whether the type is part of the fixed enumeration.
func (t NotificationType) Valid() bool {
	switch t {
	case NotificationScheduleCreated, NotificationRescheduled, NotificationCancelled,
		NotificationReminder, NotificationAttendanceSummary:
		return true
	}
	return false
}

// Notification is an emitted record. SessionID is a lookup reference only.
type Notification struct {
	ID        string           `db:"id" json:"id"`
	Type      NotificationType `db:"type" json:"type"`
	Title     string           `db:"title" json:"title"`
	Message   string           `db:"message" json:"message"`
	Timestamp time.Time        `db:"timestamp" json:"timestamp"`
	Read      bool             `db:"read" json:"read"`
	SessionID *string          `db:"session_id" json:"session_id,omitempty"`
}

// SystemMetrics is a lightweight snapshot of in-process counters.
type SystemMetrics struct {
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	TransitionsTotal         uint64    `json:"transitions_total"`
	NotificationsTotal       uint64    `json:"notifications_total"`
	NotificationFailures     uint64    `json:"notification_failures"`
	SweepsTotal              uint64    `json:"sweeps_total"`
	SweepSkipped             uint64    `json:"sweep_skipped"`
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
