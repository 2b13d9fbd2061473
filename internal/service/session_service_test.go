package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/classmeet-api/internal/dto"
	"github.com/noah-isme/classmeet-api/internal/models"
	"github.com/noah-isme/classmeet-api/internal/repository"
	appErrors "github.com/noah-isme/classmeet-api/pkg/errors"
)

var scheduleDay = time.Date(2025, 1, 15, 8, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return time.Date(2025, 1, 15, hour, minute, 0, 0, time.UTC)
}

type engineFixture struct {
	engine        *SessionService
	store         *repository.MemorySessionStore
	notifications *NotificationService
	metrics       *MetricsService
}

func newEngineFixture(t *testing.T, seed ...models.ClassSession) engineFixture {
	t.Helper()
	metrics := NewMetricsService()
	store := repository.NewMemorySessionStore(seed...)
	notifications := NewNotificationService(metrics, zap.NewNop())
	engine := NewSessionService(store, notifications, nil, zap.NewNop(),
		WithSessionClock(func() time.Time { return scheduleDay }),
		WithSessionMetrics(metrics),
	)
	return engineFixture{engine: engine, store: store, notifications: notifications, metrics: metrics}
}

func mathDraft() dto.ScheduleSessionRequest {
	return dto.ScheduleSessionRequest{
		Subject:         "Mathematics",
		Topic:           "Quadratic equations",
		Section:         "10-A",
		Date:            "2025-01-15",
		StartTime:       "10:00",
		DurationMinutes: 60,
		Platform:        models.PlatformZoom,
		Roster:          []dto.RosterEntry{
			{StudentID: "s1", Name: "Ana"},
			{StudentID: "s2", Name: "Budi"},
			{StudentID: "s3", Name: "Citra"},
		},
	}
}

func (f engineFixture) schedule(t *testing.T) *models.ClassSession {
	t.Helper()
	session, err := f.engine.Schedule(context.Background(), mathDraft())
	require.NoError(t, err)
	return session
}

func (f engineFixture) countNotifications(kind models.NotificationType, title string) int {
	count := 0
	for _, n := range f.notifications.List(context.Background(), dto.NotificationQuery{}) {
		if n.Type == kind && (title == "" || n.Title == title) {
			count++
		}
	}
	return count
}

func (f engineFixture) status(t *testing.T, id string) models.SessionStatus {
	t.Helper()
	session, err := f.engine.Get(context.Background(), id)
	require.NoError(t, err)
	return session.Status
}

func strPtr(v string) *string { return &v }

func TestScheduleCreatesUpcomingSession(t *testing.T) {
	f := newEngineFixture(t)

	session := f.schedule(t)

	assert.NotEmpty(t, session.ID)
	assert.Equal(t, models.SessionStatusUpcoming, session.Status)
	assert.Nil(t, session.CancelReason)
	assert.Nil(t, session.AttendanceSummary)
	require.Len(t, session.Roster, 3)
	for _, student := range session.Roster {
		assert.Equal(t, models.AttendanceNotMarked, student.Attendance)
	}
	assert.Equal(t, scheduleDay, session.CreatedAt)
	assert.Equal(t, 1, f.countNotifications(models.NotificationScheduleCreated, "Class Scheduled"))
}

func TestScheduleRejectsInvalidDraft(t *testing.T) {
	f := newEngineFixture(t)

	cases := map[string]func(*dto.ScheduleSessionRequest){
		"zero duration":      func(r *dto.ScheduleSessionRequest) { r.DurationMinutes = 0 },
		"negative duration":  func(r *dto.ScheduleSessionRequest) { r.DurationMinutes = -30 },
		"missing subject":    func(r *dto.ScheduleSessionRequest) { r.Subject = "" },
		"bad date":           func(r *dto.ScheduleSessionRequest) { r.Date = "15/01/2025" },
		"bad time":           func(r *dto.ScheduleSessionRequest) { r.StartTime = "25:00" },
		"duplicate students": func(r *dto.ScheduleSessionRequest) { r.Roster[1].StudentID = "s1" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			draft := mathDraft()
			mutate(&draft)
			_, err := f.engine.Schedule(context.Background(), draft)
			require.Error(t, err)
			assert.True(t, errors.Is(err, appErrors.ErrValidation))
		})
	}

	sessions, err := f.store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestTickFollowsScheduledWindow(t *testing.T) {
	f := newEngineFixture(t)
	session := f.schedule(t)
	ctx := context.Background()

	moved := f.engine.Tick(ctx, at(9, 56))
	assert.Empty(t, moved)
	assert.Equal(t, models.SessionStatusUpcoming, f.status(t, session.ID))
	assert.Equal(t, 1, f.countNotifications(models.NotificationReminder, ""))

	moved = f.engine.Tick(ctx, at(9, 58))
	assert.Empty(t, moved)
	assert.Equal(t, 1, f.countNotifications(models.NotificationReminder, ""), "reminder is sent once")

	moved = f.engine.Tick(ctx, at(10, 0))
	require.Len(t, moved, 1)
	assert.Equal(t, models.SessionStatusOngoing, moved[0].Status)
	assert.Equal(t, at(10, 0), moved[0].UpdatedAt)
	assert.Equal(t, 1, f.countNotifications(models.NotificationScheduleCreated, "Class Started"))

	moved = f.engine.Tick(ctx, at(10, 59))
	assert.Empty(t, moved)

	moved = f.engine.Tick(ctx, at(11, 0))
	require.Len(t, moved, 1)
	assert.Equal(t, models.SessionStatusCompleted, moved[0].Status)
	require.NotNil(t, moved[0].AttendanceSummary)
	assert.Equal(t, 3, moved[0].AttendanceSummary.Total)
	assert.Equal(t, 1, f.countNotifications(models.NotificationAttendanceSummary, ""))
}

func TestTickReminderMessage(t *testing.T) {
	f := newEngineFixture(t)
	f.schedule(t)

	f.engine.Tick(context.Background(), at(9, 56))

	items := f.notifications.List(context.Background(), dto.NotificationQuery{Limit: 1})
	require.Len(t, items, 1)
	assert.Equal(t, models.NotificationReminder, items[0].Type)
	assert.Contains(t, items[0].Message, "starts in 4 minutes")
}

func TestTickIsIdempotentForSameInstant(t *testing.T) {
	f := newEngineFixture(t)
	f.schedule(t)
	ctx := context.Background()

	first := f.engine.Tick(ctx, at(10, 0))
	emitted := len(f.notifications.List(ctx, dto.NotificationQuery{}))
	second := f.engine.Tick(ctx, at(10, 0))

	assert.Len(t, first, 1)
	assert.Empty(t, second)
	assert.Len(t, f.notifications.List(ctx, dto.NotificationQuery{}), emitted)
}

func TestTickCatchesUpElapsedWindow(t *testing.T) {
	f := newEngineFixture(t)
	session := f.schedule(t)

	moved := f.engine.Tick(context.Background(), at(13, 0))

	require.Len(t, moved, 1)
	assert.Equal(t, session.ID, moved[0].ID)
	assert.Equal(t, models.SessionStatusCompleted, moved[0].Status)
	require.NotNil(t, moved[0].AttendanceSummary)
	assert.Equal(t, 3, moved[0].AttendanceSummary.Total)
	assert.Equal(t, 1, f.countNotifications(models.NotificationScheduleCreated, "Class Started"))
	assert.Equal(t, 1, f.countNotifications(models.NotificationAttendanceSummary, ""))
	assert.Zero(t, f.countNotifications(models.NotificationReminder, ""))
	assert.Equal(t, uint64(2), f.metrics.Snapshot().TransitionsTotal)
}

func TestTickReplayDoesNotRewindUpdatedAt(t *testing.T) {
	late := models.ClassSession{
		ID:              "late",
		Subject:         "History",
		Section:         "12-A",
		Date:            "2025-01-15",
		StartTime:       "10:00",
		DurationMinutes: 60,
		Status:          models.SessionStatusUpcoming,
		Roster:          []models.StudentAttendance{},
		CreatedAt:       at(12, 0),
		UpdatedAt:       at(12, 0),
	}
	f := newEngineFixture(t, late)

	moved := f.engine.Tick(context.Background(), at(11, 0))

	require.Len(t, moved, 1)
	assert.Equal(t, models.SessionStatusCompleted, moved[0].Status)
	assert.Equal(t, at(12, 0), moved[0].UpdatedAt)
}

func TestTickMovesReadableRowsWhenOthersFailToDecode(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := repository.NewSessionRepository(sqlx.NewDb(db, "postgres"))
	metrics := NewMetricsService()
	engine := NewSessionService(store, NewNotificationService(metrics, nil), nil, zap.NewNop(), WithSessionMetrics(metrics))

	columns := []string{"id", "subject", "topic", "section", "session_date", "start_time", "duration_minutes", "status",
		"cancel_reason", "attendance_summary", "roster", "reminder_sent", "meeting_link", "platform", "notes", "teacher_id",
		"teacher_name", "recording_link", "materials", "created_at", "updated_at"}
	rows := sqlmock.NewRows(columns).
		AddRow("good", "Mathematics", "", "10-A", "2025-01-15", "10:00", 60, "UPCOMING", nil, nil,
			[]byte(`[{"student_id":"s1","name":"Ana","attendance":"NOT_MARKED"}]`),
			false, "", "zoom", "", "", "", "", nil, scheduleDay, scheduleDay).
		AddRow("bad", "Physics", "", "11-B", "2025-01-15", "10:00", 60, "UPCOMING", nil, nil,
			[]byte(`{"not":"an array"}`),
			false, "", "zoom", "", "", "", "", nil, scheduleDay, scheduleDay)
	mock.ExpectQuery(`FROM class_sessions ORDER BY created_at DESC`).WillReturnRows(rows)
	mock.ExpectExec(`UPDATE class_sessions SET`).WillReturnResult(sqlmock.NewResult(0, 1))

	moved := engine.Tick(context.Background(), at(10, 0))

	require.Len(t, moved, 1)
	assert.Equal(t, "good", moved[0].ID)
	assert.Equal(t, models.SessionStatusOngoing, moved[0].Status)
	assert.Equal(t, uint64(1), metrics.Snapshot().SweepSkipped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTickSkipsMalformedSessions(t *testing.T) {
	broken := models.ClassSession{
		ID:              "broken",
		Subject:         "Physics",
		Section:         "11-B",
		Date:            "15/01/2025",
		StartTime:       "10:00",
		DurationMinutes: 60,
		Status:          models.SessionStatusUpcoming,
	}
	zeroLength := broken
	zeroLength.ID = "zero"
	zeroLength.Date = "2025-01-15"
	zeroLength.DurationMinutes = 0

	f := newEngineFixture(t, broken, zeroLength)
	valid := f.schedule(t)

	moved := f.engine.Tick(context.Background(), at(10, 30))

	require.Len(t, moved, 1)
	assert.Equal(t, valid.ID, moved[0].ID)
	assert.Equal(t, models.SessionStatusUpcoming, f.status(t, "broken"))
	assert.Equal(t, models.SessionStatusUpcoming, f.status(t, "zero"))
	assert.Equal(t, uint64(2), f.metrics.Snapshot().SweepSkipped)
}

func TestTickLeavesTerminalSessionsAlone(t *testing.T) {
	f := newEngineFixture(t)
	session := f.schedule(t)
	ctx := context.Background()

	_, err := f.engine.Cancel(ctx, session.ID, "teacher is sick")
	require.NoError(t, err)

	moved := f.engine.Tick(ctx, at(10, 30))
	assert.Empty(t, moved)
	assert.Equal(t, models.SessionStatusCancelled, f.status(t, session.ID))
}

func TestCancelUpcomingSession(t *testing.T) {
	f := newEngineFixture(t)
	session := f.schedule(t)

	cancelled, err := f.engine.Cancel(context.Background(), session.ID, "  holiday  ")

	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelReason)
	assert.Equal(t, "holiday", *cancelled.CancelReason)
	assert.Equal(t, 1, f.countNotifications(models.NotificationCancelled, ""))
}

func TestCancelRequiresReason(t *testing.T) {
	f := newEngineFixture(t)
	session := f.schedule(t)

	_, err := f.engine.Cancel(context.Background(), session.ID, "   ")

	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.Equal(t, models.SessionStatusUpcoming, f.status(t, session.ID))
}

func TestCancelAfterStartFails(t *testing.T) {
	f := newEngineFixture(t)
	session := f.schedule(t)
	ctx := context.Background()

	_, err := f.engine.Start(ctx, session.ID)
	require.NoError(t, err)

	_, err = f.engine.Cancel(ctx, session.ID, "too late")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidState))
	assert.Equal(t, models.SessionStatusOngoing, f.status(t, session.ID))
}

func TestStartAfterCancelFails(t *testing.T) {
	f := newEngineFixture(t)
	session := f.schedule(t)
	ctx := context.Background()

	_, err := f.engine.Cancel(ctx, session.ID, "room unavailable")
	require.NoError(t, err)

	_, err = f.engine.Start(ctx, session.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidState))
}

func TestStartTwiceIsNoop(t *testing.T) {
	f := newEngineFixture(t)
	session := f.schedule(t)
	ctx := context.Background()

	first, err := f.engine.Start(ctx, session.ID)
	require.NoError(t, err)
	second, err := f.engine.Start(ctx, session.ID)
	require.NoError(t, err)

	assert.Equal(t, models.SessionStatusOngoing, first.Status)
	assert.Equal(t, models.SessionStatusOngoing, second.Status)
	assert.Equal(t, 1, f.countNotifications(models.NotificationScheduleCreated, "Class Started"))
	assert.Equal(t, uint64(1), f.metrics.Snapshot().TransitionsTotal)
}

func TestEndRejectedUnlessOngoing(t *testing.T) {
	f := newEngineFixture(t)
	session := f.schedule(t)
	ctx := context.Background()

	_, err := f.engine.End(ctx, session.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidState), "end on upcoming")

	_, err = f.engine.Start(ctx, session.ID)
	require.NoError(t, err)
	ended, err := f.engine.End(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCompleted, ended.Status)

	_, err = f.engine.End(ctx, session.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidState), "end on completed")
}

func TestUnknownSessionIsNotFound(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_, err := f.engine.Start(ctx, "missing")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	_, err = f.engine.Get(ctx, "missing")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	_, err = f.engine.MarkAttendance(ctx, "missing", "s1", models.AttendancePresent)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestMarkAttendanceUpdatesSummary(t *testing.T) {
	f := newEngineFixture(t)
	session := f.schedule(t)
	ctx := context.Background()

	_, err := f.engine.Start(ctx, session.ID)
	require.NoError(t, err)

	_, err = f.engine.MarkAttendance(ctx, session.ID, "s1", models.AttendancePresent)
	require.NoError(t, err)
	updated, err := f.engine.MarkAttendance(ctx, session.ID, "s2", models.AttendanceLate)
	require.NoError(t, err)

	require.NotNil(t, updated.AttendanceSummary)
	assert.Equal(t, models.AttendanceSummary{Present: 1, Late: 1, Total: 3}, *updated.AttendanceSummary)
	assert.NotNil(t, updated.Roster[0].JoinedAt)
	assert.Nil(t, updated.Roster[2].JoinedAt)
}

func TestMarkAttendanceErrors(t *testing.T) {
	f := newEngineFixture(t)
	session := f.schedule(t)
	ctx := context.Background()

	_, err := f.engine.MarkAttendance(ctx, session.ID, "s1", models.AttendancePresent)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidState), "upcoming sessions cannot take attendance")

	_, err = f.engine.Start(ctx, session.ID)
	require.NoError(t, err)

	_, err = f.engine.MarkAttendance(ctx, session.ID, "ghost", models.AttendancePresent)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	_, err = f.engine.MarkAttendance(ctx, session.ID, "s1", models.AttendanceMark("EXCUSED"))
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestMarkAttendanceAfterEndKeepsFrozenSummary(t *testing.T) {
	f := newEngineFixture(t)
	session := f.schedule(t)
	ctx := context.Background()

	_, err := f.engine.Start(ctx, session.ID)
	require.NoError(t, err)
	_, err = f.engine.MarkAttendance(ctx, session.ID, "s1", models.AttendancePresent)
	require.NoError(t, err)
	ended, err := f.engine.End(ctx, session.ID)
	require.NoError(t, err)
	frozen := *ended.AttendanceSummary

	_, err = f.engine.MarkAttendance(ctx, session.ID, "s2", models.AttendancePresent)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidState))

	current, err := f.engine.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, frozen, *current.AttendanceSummary)
	assert.Equal(t, models.AttendanceNotMarked, current.Roster[1].Attendance)
	assert.NotNil(t, current.Roster[0].LeftAt)
}

func TestSummaryCountsStayConsistentThroughLifecycle(t *testing.T) {
	f := newEngineFixture(t)
	session := f.schedule(t)
	ctx := context.Background()

	_, err := f.engine.Start(ctx, session.ID)
	require.NoError(t, err)
	marks := []models.AttendanceMark{models.AttendancePresent, models.AttendanceAbsent, models.AttendanceLate, models.AttendanceNotMarked}
	for i, mark := range marks {
		updated, err := f.engine.MarkAttendance(ctx, session.ID, []string{"s1", "s2", "s3", "s1"}[i], mark)
		require.NoError(t, err)
		summary := updated.AttendanceSummary
		require.NotNil(t, summary)
		assert.Equal(t, len(updated.Roster), summary.Total)
		assert.LessOrEqual(t, summary.Present+summary.Absent+summary.Late, summary.Total)
	}
}

func TestEditReschedulesAndResetsReminder(t *testing.T) {
	f := newEngineFixture(t)
	session := f.schedule(t)
	ctx := context.Background()

	f.engine.Tick(ctx, at(9, 56))
	reminded, err := f.engine.Get(ctx, session.ID)
	require.NoError(t, err)
	require.True(t, reminded.ReminderSent)

	edited, err := f.engine.Edit(ctx, session.ID, dto.EditSessionRequest{StartTime: strPtr("11:00"), Topic: strPtr("Factoring")})
	require.NoError(t, err)
	assert.False(t, edited.ReminderSent)
	assert.Equal(t, "Factoring", edited.Topic)
	assert.Equal(t, 1, f.countNotifications(models.NotificationRescheduled, ""))

	assert.Empty(t, f.engine.Tick(ctx, at(10, 0)))
	f.engine.Tick(ctx, at(10, 57))
	assert.Equal(t, 2, f.countNotifications(models.NotificationReminder, ""))
}

func TestEditRejectedWhenNotUpcoming(t *testing.T) {
	f := newEngineFixture(t)
	session := f.schedule(t)
	ctx := context.Background()

	_, err := f.engine.Start(ctx, session.ID)
	require.NoError(t, err)

	_, err = f.engine.Edit(ctx, session.ID, dto.EditSessionRequest{Topic: strPtr("Late change")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidState))
}

func TestAttachRecordingRequiresCompletedSession(t *testing.T) {
	f := newEngineFixture(t)
	session := f.schedule(t)
	ctx := context.Background()
	req := dto.AttachRecordingRequest{RecordingLink: "https://example.com/rec/1", Materials: []string{"slides.pdf"}}

	_, err := f.engine.AttachRecording(ctx, session.ID, req)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidState))

	f.engine.Tick(ctx, at(12, 0))
	updated, err := f.engine.AttachRecording(ctx, session.ID, req)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/rec/1", updated.RecordingLink)
	assert.Equal(t, []string{"slides.pdf"}, updated.Materials)

	_, err = f.engine.AttachRecording(ctx, session.ID, dto.AttachRecordingRequest{})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

type failingNotifier struct {
	panics bool
	calls  int
}

func (n *failingNotifier) Emit(context.Context, models.NotificationType, string, string, *string) (*models.Notification, error) {
	n.calls++
	if n.panics {
		panic("notification storage full")
	}
	return nil, errors.New("notification storage full")
}

func TestNotifierFailureDoesNotBlockTransitions(t *testing.T) {
	for _, panics := range []bool{false, true} {
		metrics := NewMetricsService()
		store := repository.NewMemorySessionStore()
		notifier := &failingNotifier{panics: panics}
		engine := NewSessionService(store, notifier, nil, zap.NewNop(),
			WithSessionClock(func() time.Time { return scheduleDay }),
			WithSessionMetrics(metrics),
		)
		ctx := context.Background()

		session, err := engine.Schedule(ctx, mathDraft())
		require.NoError(t, err)
		started, err := engine.Start(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SessionStatusOngoing, started.Status)

		moved := engine.Tick(ctx, at(11, 0))
		require.Len(t, moved, 1)
		assert.Equal(t, models.SessionStatusCompleted, moved[0].Status)

		assert.Equal(t, 3, notifier.calls)
		assert.Equal(t, uint64(3), metrics.Snapshot().NotificationFailures)
	}
}

func TestConcurrentStartAndTickTransitionOnce(t *testing.T) {
	f := newEngineFixture(t)
	session := f.schedule(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = f.engine.Start(ctx, session.ID)
		}()
		go func() {
			defer wg.Done()
			f.engine.Tick(ctx, at(10, 15))
		}()
	}
	wg.Wait()

	assert.Equal(t, models.SessionStatusOngoing, f.status(t, session.ID))
	assert.Equal(t, 1, f.countNotifications(models.NotificationScheduleCreated, "Class Started"))
}

func TestTickUsesConfiguredLocation(t *testing.T) {
	jakarta := time.FixedZone("WIB", 7*60*60)
	store := repository.NewMemorySessionStore()
	engine := NewSessionService(store, nil, nil, nil, WithSessionLocation(jakarta), WithReminderLead(10*time.Minute))
	ctx := context.Background()

	session, err := engine.Schedule(ctx, mathDraft())
	require.NoError(t, err)

	assert.Empty(t, engine.Tick(ctx, time.Date(2025, 1, 15, 2, 0, 0, 0, time.UTC)))
	moved := engine.Tick(ctx, time.Date(2025, 1, 15, 3, 0, 0, 0, time.UTC))
	require.Len(t, moved, 1)
	assert.Equal(t, session.ID, moved[0].ID)
	assert.Equal(t, models.SessionStatusOngoing, moved[0].Status)
}
