package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/classmeet-api/internal/dto"
	"github.com/noah-isme/classmeet-api/internal/models"
	appErrors "github.com/noah-isme/classmeet-api/pkg/errors"
)

const (
	defaultReminderLead = 5 * time.Minute
	boardCachePattern   = "board:*"
)

// SessionStore holds the session collection. Get must return sql.ErrNoRows for unknown ids.
type SessionStore interface {
	List(ctx context.Context) ([]models.ClassSession, error)
	Get(ctx context.Context, id string) (*models.ClassSession, error)
	Create(ctx context.Context, session *models.ClassSession) error
	Update(ctx context.Context, session *models.ClassSession) error
}

type notifier interface {
	Emit(ctx context.Context, notificationType models.NotificationType, title, message string, sessionID *string) (*models.Notification, error)
}

// SessionService is the lifecycle engine. It is the only writer of session status,
// roster marks and attendance summaries; every command and sweep pass holds mu.
type SessionService struct {
	mu           sync.Mutex
	store        SessionStore
	notifier     notifier
	cache        *CacheService
	metrics      *MetricsService
	validator    *validator.Validate
	logger       *zap.Logger
	now          func() time.Time
	loc          *time.Location
	reminderLead time.Duration
}

// SessionOption customises the lifecycle engine.
type SessionOption func(*SessionService)

// WithSessionClock overrides the clock used by manual commands.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(s *SessionService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSessionLocation sets the time zone session dates and times are interpreted in.
func WithSessionLocation(loc *time.Location) SessionOption {
	return func(s *SessionService) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithReminderLead sets how long before start the reminder goes out.
func WithReminderLead(lead time.Duration) SessionOption {
	return func(s *SessionService) {
		if lead > 0 {
			s.reminderLead = lead
		}
	}
}

// WithSessionCache invalidates the cached board after every mutation.
func WithSessionCache(cache *CacheService) SessionOption {
	return func(s *SessionService) {
		s.cache = cache
	}
}

// WithSessionMetrics records transitions and sweep timings.
func WithSessionMetrics(metrics *MetricsService) SessionOption {
	return func(s *SessionService) {
		s.metrics = metrics
	}
}

// NewSessionService instantiates the lifecycle engine.
func NewSessionService(store SessionStore, notifier notifier, validate *validator.Validate, logger *zap.Logger, opts ...SessionOption) *SessionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &SessionService{
		store:        store,
		notifier:     notifier,
		validator:    validate,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
		loc:          time.UTC,
		reminderLead: defaultReminderLead,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Get returns a session by id.
func (s *SessionService) Get(ctx context.Context, id string) (*models.ClassSession, error) {
	return s.load(ctx, id)
}

// List returns every session in store order.
func (s *SessionService) List(ctx context.Context) ([]models.ClassSession, error) {
	sessions, _, err := listReadable(ctx, s.store, s.logger)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}
	return sessions, nil
}

// Schedule creates a new UPCOMING session from the draft.
func (s *SessionService) Schedule(ctx context.Context, req dto.ScheduleSessionRequest) (*models.ClassSession, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}

	now := s.now()
	session := &models.ClassSession{
		ID:              uuid.NewString(),
		Subject:         strings.TrimSpace(req.Subject),
		Topic:           strings.TrimSpace(req.Topic),
		Section:         strings.TrimSpace(req.Section),
		Date:            req.Date,
		StartTime:       req.StartTime,
		DurationMinutes: req.DurationMinutes,
		Status:          models.SessionStatusUpcoming,
		Roster:          make([]models.StudentAttendance, 0, len(req.Roster)),
		MeetingLink:     req.MeetingLink,
		Platform:        req.Platform,
		Notes:           req.Notes,
		TeacherID:       req.TeacherID,
		TeacherName:     req.TeacherName,
		Materials:       req.Materials,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if session.Platform == "" {
		session.Platform = models.PlatformOther
	}
	for _, entry := range req.Roster {
		session.Roster = append(session.Roster, models.StudentAttendance{
			StudentID:  entry.StudentID,
			Name:       entry.Name,
			Email:      entry.Email,
			RollNumber: entry.RollNumber,
			Attendance: models.AttendanceNotMarked,
		})
	}
	if _, _, err := session.Window(s.loc); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session schedule")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Create(ctx, session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create session")
	}

	fx := effects{dirty: true}
	fx.notify(models.NotificationScheduleCreated, "Class Scheduled",
		fmt.Sprintf("New %s class scheduled for %s on %s at %s", session.Subject, session.Section, session.Date, session.StartTime))
	s.commit(ctx, session, triggerManual, fx)
	return session.Clone(), nil
}

// Edit patches scheduling fields of an UPCOMING session.
func (s *SessionService) Edit(ctx context.Context, id string, req dto.EditSessionRequest) (*models.ClassSession, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session patch")
	}
	return s.apply(ctx, id, triggerManual, func(session *models.ClassSession, now time.Time, fx *effects) error {
		if session.Status != models.SessionStatusUpcoming {
			return invalidState(session, "edit")
		}
		previousStart := session.Date + " " + session.StartTime
		applyPatch(session, req)
		if _, _, err := session.Window(s.loc); err != nil {
			return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session schedule")
		}
		if session.Date+" "+session.StartTime != previousStart {
			session.ReminderSent = false
		}
		touch(session, now)
		fx.dirty = true
		fx.notify(models.NotificationRescheduled, "Class Rescheduled",
			fmt.Sprintf("Class %s for %s has been rescheduled to %s at %s", session.Subject, session.Section, session.Date, session.StartTime))
		return nil
	})
}

// Cancel moves an UPCOMING session to CANCELLED. The reason is mandatory.
func (s *SessionService) Cancel(ctx context.Context, id, reason string) (*models.ClassSession, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "cancel reason is required")
	}
	return s.apply(ctx, id, triggerManual, func(session *models.ClassSession, now time.Time, fx *effects) error {
		if session.Status != models.SessionStatusUpcoming {
			return invalidState(session, "cancel")
		}
		if err := transition(session, models.SessionStatusCancelled, now, fx); err != nil {
			return err
		}
		session.CancelReason = &reason
		fx.notify(models.NotificationCancelled, "Class Cancelled",
			fmt.Sprintf("Class %s for %s has been cancelled: %s", session.Subject, session.Section, reason))
		return nil
	})
}

// Start moves an UPCOMING session to ONGOING. Starting an ONGOING session is a no-op.
func (s *SessionService) Start(ctx context.Context, id string) (*models.ClassSession, error) {
	return s.apply(ctx, id, triggerManual, func(session *models.ClassSession, now time.Time, fx *effects) error {
		switch session.Status {
		case models.SessionStatusOngoing:
			return nil
		case models.SessionStatusUpcoming:
			return begin(session, now, fx)
		default:
			return invalidState(session, "start")
		}
	})
}

// End completes an ONGOING session and freezes its attendance summary.
func (s *SessionService) End(ctx context.Context, id string) (*models.ClassSession, error) {
	return s.apply(ctx, id, triggerManual, func(session *models.ClassSession, now time.Time, fx *effects) error {
		if session.Status != models.SessionStatusOngoing {
			return invalidState(session, "end")
		}
		return finish(session, now, fx)
	})
}

// MarkAttendance records a student's mark while the session is ONGOING.
func (s *SessionService) MarkAttendance(ctx context.Context, id, studentID string, mark models.AttendanceMark) (*models.ClassSession, error) {
	if !mark.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown attendance mark %q", mark))
	}
	return s.apply(ctx, id, triggerManual, func(session *models.ClassSession, now time.Time, fx *effects) error {
		if session.Status != models.SessionStatusOngoing {
			return invalidState(session, "mark attendance for")
		}
		idx := session.StudentByID(studentID)
		if idx < 0 {
			return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("student %s is not on the roster", studentID))
		}
		applyMark(&session.Roster[idx], mark, now)
		summary := Summarize(session.Roster)
		session.AttendanceSummary = &summary
		touch(session, now)
		fx.dirty = true
		return nil
	})
}

// AttachRecording stores the recording link and materials of a COMPLETED session.
func (s *SessionService) AttachRecording(ctx context.Context, id string, req dto.AttachRecordingRequest) (*models.ClassSession, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid recording payload")
	}
	return s.apply(ctx, id, triggerManual, func(session *models.ClassSession, now time.Time, fx *effects) error {
		if session.Status != models.SessionStatusCompleted {
			return invalidState(session, "attach a recording to")
		}
		if req.RecordingLink != "" {
			session.RecordingLink = req.RecordingLink
		}
		if req.Materials != nil {
			session.Materials = append([]string(nil), req.Materials...)
		}
		touch(session, now)
		fx.dirty = true
		return nil
	})
}

// Tick runs one sweep pass at now and returns the sessions whose status changed.
// It never fails: sessions that cannot be evaluated or saved are left for the next pass.
func (s *SessionService) Tick(ctx context.Context, now time.Time) []models.ClassSession {
	started := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, skipped, err := listReadable(ctx, s.store, s.logger)
	if err != nil {
		s.logger.Error("sweep could not list sessions", zap.Error(err))
		s.metrics.ObserveSweep(time.Since(started), 0)
		return nil
	}

	moved := make([]models.ClassSession, 0)
	for i := range sessions {
		session := &sessions[i]
		if session.Status.Terminal() {
			continue
		}
		var fx effects
		if err := s.sweepSession(session, now, &fx); err != nil {
			skipped++
			s.logger.Warn("sweep skipped session", zap.String("session_id", session.ID), zap.Error(err))
			continue
		}
		if fx.empty() {
			continue
		}
		if err := s.store.Update(ctx, session); err != nil {
			skipped++
			s.logger.Error("sweep could not save session", zap.String("session_id", session.ID), zap.Error(err))
			continue
		}
		s.commit(ctx, session, triggerSweep, fx)
		if len(fx.transitions) > 0 {
			moved = append(moved, *session.Clone())
		}
	}

	s.metrics.ObserveSweep(time.Since(started), skipped)
	if len(moved) > 0 || skipped > 0 {
		s.logger.Info("sweep finished", zap.Time("at", now), zap.Int("transitioned", len(moved)), zap.Int("skipped", skipped))
	}
	return moved
}

// sweepSession evaluates one non-terminal session against now using wall-clock comparison only.
func (s *SessionService) sweepSession(session *models.ClassSession, now time.Time, fx *effects) error {
	startAt, endAt, err := session.Window(s.loc)
	if err != nil {
		return err
	}

	switch session.Status {
	case models.SessionStatusUpcoming:
		if !now.Before(startAt) {
			if err := begin(session, now, fx); err != nil {
				return err
			}
			if !now.Before(endAt) {
				return finish(session, now, fx)
			}
			return nil
		}
		if lead := startAt.Sub(now); !session.ReminderSent && lead <= s.reminderLead {
			session.ReminderSent = true
			fx.dirty = true
			fx.notify(models.NotificationReminder, "Class Starting Soon", reminderMessage(session, lead))
		}
	case models.SessionStatusOngoing:
		if !now.Before(endAt) {
			return finish(session, now, fx)
		}
	}
	return nil
}

// apply loads a session, runs fn under the engine lock and persists the result when fn changed anything.
func (s *SessionService) apply(ctx context.Context, id, trigger string, fn func(*models.ClassSession, time.Time, *effects) error) (*models.ClassSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	var fx effects
	if err := fn(session, s.now(), &fx); err != nil {
		return nil, err
	}
	if fx.empty() {
		return session, nil
	}

	if err := s.store.Update(ctx, session); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save session")
	}
	s.commit(ctx, session, trigger, fx)
	return session.Clone(), nil
}

func (s *SessionService) load(ctx context.Context, id string) (*models.ClassSession, error) {
	session, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	return session, nil
}

// commit publishes the side effects of a persisted mutation. Nothing here can fail the mutation.
func (s *SessionService) commit(ctx context.Context, session *models.ClassSession, trigger string, fx effects) {
	for _, change := range fx.transitions {
		s.metrics.RecordTransition(change.from, change.to, trigger)
		s.logger.Info("session transitioned",
			zap.String("session_id", session.ID),
			zap.String("from", string(change.from)),
			zap.String("to", string(change.to)),
			zap.String("trigger", trigger),
		)
	}
	for _, n := range fx.notices {
		s.emit(ctx, session.ID, n)
	}
	if s.cache != nil {
		_ = s.cache.Invalidate(ctx, boardCachePattern)
	}
}

func (s *SessionService) emit(ctx context.Context, sessionID string, n notice) {
	if s.notifier == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.metrics.RecordNotificationFailure()
			s.logger.Error("notification emit panicked", zap.String("session_id", sessionID), zap.Any("panic", r))
		}
	}()
	if _, err := s.notifier.Emit(ctx, n.kind, n.title, n.message, &sessionID); err != nil {
		s.metrics.RecordNotificationFailure()
		s.logger.Warn("notification emit failed",
			zap.String("session_id", sessionID),
			zap.String("type", string(n.kind)),
			zap.Error(err),
		)
	}
}

func applyPatch(session *models.ClassSession, req dto.EditSessionRequest) {
	if req.Subject != nil {
		session.Subject = strings.TrimSpace(*req.Subject)
	}
	if req.Topic != nil {
		session.Topic = strings.TrimSpace(*req.Topic)
	}
	if req.Section != nil {
		session.Section = strings.TrimSpace(*req.Section)
	}
	if req.Date != nil {
		session.Date = *req.Date
	}
	if req.StartTime != nil {
		session.StartTime = *req.StartTime
	}
	if req.DurationMinutes != nil {
		session.DurationMinutes = *req.DurationMinutes
	}
	if req.MeetingLink != nil {
		session.MeetingLink = *req.MeetingLink
	}
	if req.Platform != nil {
		session.Platform = *req.Platform
	}
	if req.Notes != nil {
		session.Notes = *req.Notes
	}
	if req.Materials != nil {
		session.Materials = append([]string(nil), req.Materials...)
	}
}
