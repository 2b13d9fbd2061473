package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/classmeet-api/internal/models"
	appErrors "github.com/noah-isme/classmeet-api/pkg/errors"
)

const (
	triggerManual = "manual"
	triggerSweep  = "sweep"
)

// transitionTable is the single source of legal status moves for commands and the sweep.
// Terminal statuses have no outgoing edges.
var transitionTable = map[models.SessionStatus]map[models.SessionStatus]bool{
	models.SessionStatusUpcoming: {
		models.SessionStatusOngoing:   true,
		models.SessionStatusCancelled: true,
	},
	models.SessionStatusOngoing: {
		models.SessionStatusCompleted: true,
	},
}

func canTransition(from, to models.SessionStatus) bool {
	return transitionTable[from][to]
}

type notice struct {
	kind    models.NotificationType
	title   string
	message string
}

type statusChange struct {
	from models.SessionStatus
	to   models.SessionStatus
}

// effects collects what a mutation did so it can be committed after the store write.
type effects struct {
	dirty       bool
	notices     []notice
	transitions []statusChange
}

func (fx *effects) empty() bool {
	return !fx.dirty && len(fx.notices) == 0 && len(fx.transitions) == 0
}

func (fx *effects) notify(kind models.NotificationType, title, message string) {
	fx.notices = append(fx.notices, notice{kind: kind, title: title, message: message})
}

// transition moves session to the target status if the table allows it.
func transition(session *models.ClassSession, to models.SessionStatus, at time.Time, fx *effects) error {
	from := session.Status
	if !canTransition(from, to) {
		return appErrors.Clone(appErrors.ErrInvalidState,
			fmt.Sprintf("session %s cannot move from %s to %s", session.ID, from, to))
	}
	session.Status = to
	touch(session, at)
	fx.dirty = true
	fx.transitions = append(fx.transitions, statusChange{from: from, to: to})
	return nil
}

// touch advances updated_at. It never moves backwards, so a replayed sweep instant
// cannot date a session before its creation or its last change.
func touch(session *models.ClassSession, at time.Time) {
	if at.After(session.UpdatedAt) {
		session.UpdatedAt = at
	}
}

func invalidState(session *models.ClassSession, action string) error {
	return appErrors.Clone(appErrors.ErrInvalidState,
		fmt.Sprintf("cannot %s a %s session", action, strings.ToLower(string(session.Status))))
}

// begin is the shared UPCOMING -> ONGOING step.
func begin(session *models.ClassSession, at time.Time, fx *effects) error {
	if err := transition(session, models.SessionStatusOngoing, at, fx); err != nil {
		return err
	}
	fx.notify(models.NotificationScheduleCreated, "Class Started",
		fmt.Sprintf("%s class for %s is now live", session.Subject, session.Section))
	return nil
}

// finish is the shared ONGOING -> COMPLETED step. It freezes the attendance summary.
func finish(session *models.ClassSession, at time.Time, fx *effects) error {
	if err := transition(session, models.SessionStatusCompleted, at, fx); err != nil {
		return err
	}
	freezeAttendance(session, at)
	summary := session.AttendanceSummary
	fx.notify(models.NotificationAttendanceSummary, "Class Ended",
		fmt.Sprintf("%s class attendance: %d/%d students present, %d late, %d absent",
			session.Subject, summary.Present, summary.Total, summary.Late, summary.Absent))
	return nil
}

func reminderMessage(session *models.ClassSession, lead time.Duration) string {
	minutes := int(lead / time.Minute)
	if minutes < 1 {
		return fmt.Sprintf("%s class starts in less than a minute", session.Subject)
	}
	if minutes == 1 {
		return fmt.Sprintf("%s class starts in 1 minute", session.Subject)
	}
	return fmt.Sprintf("%s class starts in %d minutes", session.Subject, minutes)
}
