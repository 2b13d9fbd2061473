package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/classmeet-api/internal/dto"
	"github.com/noah-isme/classmeet-api/internal/models"
	appErrors "github.com/noah-isme/classmeet-api/pkg/errors"
	"github.com/noah-isme/classmeet-api/pkg/jobs"
)

const (
	jobArchiveNotification  = "notification.archive"
	jobMarkNotificationRead = "notification.mark_read"
)

// NotificationArchive is the durable sink behind the in-memory feed. Save upserts the
// full notification and must never clear a read flag already stored, since archive
// jobs for one notification can land out of order after retries.
type NotificationArchive interface {
	Save(ctx context.Context, n *models.Notification) error
}

// NotificationHistory loads archived notifications, most recent first.
type NotificationHistory interface {
	List(ctx context.Context, sessionID string, unreadOnly bool, limit int) ([]models.Notification, error)
}

// jobQueue is the subset of jobs.Queue used for fire-and-forget archiving.
type jobQueue interface {
	TryEnqueue(job jobs.Job) error
}

// NotificationService keeps the most-recent-first notification feed.
type NotificationService struct {
	mu      sync.RWMutex
	feed    []models.Notification
	index   map[string]int
	queue   jobQueue
	metrics *MetricsService
	logger  *zap.Logger
	now     func() time.Time
}

// NotificationOption customises the notification service.
type NotificationOption func(*NotificationService)

// WithNotificationQueue routes archive writes through a background queue.
func WithNotificationQueue(q jobQueue) NotificationOption {
	return func(s *NotificationService) {
		s.queue = q
	}
}

// WithNotificationClock overrides the timestamp source.
func WithNotificationClock(now func() time.Time) NotificationOption {
	return func(s *NotificationService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewNotificationService builds the emitter.
func NewNotificationService(metrics *MetricsService, logger *zap.Logger, opts ...NotificationOption) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &NotificationService{
		index:   make(map[string]int),
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// ArchiveHandler returns the jobs.Handler that writes queued notifications to archive.
func ArchiveHandler(archive NotificationArchive) jobs.Handler {
	return func(ctx context.Context, job jobs.Job) error {
		switch job.Type {
		case jobArchiveNotification, jobMarkNotificationRead:
			n, ok := job.Payload.(models.Notification)
			if !ok {
				return nil
			}
			return archive.Save(ctx, &n)
		}
		return nil
	}
}

// Restore seeds the feed from the archive. It must run before the first Emit.
func (s *NotificationService) Restore(ctx context.Context, history NotificationHistory, limit int) (int, error) {
	archived, err := history.List(ctx, "", false, limit)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	restored := 0
	for i := len(archived) - 1; i >= 0; i-- {
		n := archived[i]
		if _, exists := s.index[n.ID]; exists {
			continue
		}
		s.feed = append(s.feed, n)
		s.index[n.ID] = len(s.feed) - 1
		restored++
	}
	return restored, nil
}

// Emit records a notification at the head of the feed and returns it.
func (s *NotificationService) Emit(ctx context.Context, notificationType models.NotificationType, title, message string, sessionID *string) (*models.Notification, error) {
	if !notificationType.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown notification type")
	}
	n := models.Notification{
		ID:        uuid.NewString(),
		Type:      notificationType,
		Title:     title,
		Message:   message,
		Timestamp: s.now(),
	}
	if sessionID != nil {
		id := *sessionID
		n.SessionID = &id
	}

	s.mu.Lock()
	s.feed = append(s.feed, n)
	s.index[n.ID] = len(s.feed) - 1
	s.mu.Unlock()

	s.metrics.RecordNotification(notificationType)
	s.enqueue(jobs.Job{Type: jobArchiveNotification, Payload: n})

	out := n
	return &out, nil
}

// MarkRead flags a notification as read. Unknown ids and already-read entries are no-ops.
func (s *NotificationService) MarkRead(ctx context.Context, id string) error {
	s.mu.Lock()
	idx, ok := s.index[id]
	changed := ok && !s.feed[idx].Read
	var snapshot models.Notification
	if changed {
		s.feed[idx].Read = true
		snapshot = s.feed[idx]
	}
	s.mu.Unlock()

	if changed {
		s.enqueue(jobs.Job{Type: jobMarkNotificationRead, Payload: snapshot})
	}
	return nil
}

// List returns the feed most recent first.
func (s *NotificationService) List(ctx context.Context, query dto.NotificationQuery) []models.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Notification, 0, len(s.feed))
	for i := len(s.feed) - 1; i >= 0; i-- {
		n := s.feed[i]
		if query.UnreadOnly && n.Read {
			continue
		}
		if query.SessionID != "" && (n.SessionID == nil || *n.SessionID != query.SessionID) {
			continue
		}
		out = append(out, n)
		if query.Limit > 0 && len(out) >= query.Limit {
			break
		}
	}
	return out
}

// UnreadCount returns how many notifications are still unread.
func (s *NotificationService) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, n := range s.feed {
		if !n.Read {
			count++
		}
	}
	return count
}

func (s *NotificationService) enqueue(job jobs.Job) {
	if s.queue == nil {
		return
	}
	if err := s.queue.TryEnqueue(job); err != nil {
		s.metrics.RecordNotificationFailure()
		s.logger.Warn("notification archive enqueue failed", zap.String("type", job.Type), zap.Error(err))
	}
}
