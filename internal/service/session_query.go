package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/classmeet-api/internal/models"
	appErrors "github.com/noah-isme/classmeet-api/pkg/errors"
)

// FilterSessions returns the sessions matching filter, preserving input order unless SortBy is set.
// Search is a case-insensitive substring match on subject, topic or section.
func FilterSessions(sessions []models.ClassSession, filter models.SessionFilter) []models.ClassSession {
	needle := strings.ToLower(strings.TrimSpace(filter.Search))
	out := make([]models.ClassSession, 0, len(sessions))
	for _, session := range sessions {
		if filter.Status != "" && session.Status != filter.Status {
			continue
		}
		if needle != "" && !matchesSearch(session, needle) {
			continue
		}
		if filter.Date != "" && session.Date != filter.Date {
			continue
		}
		if filter.From != "" && session.Date < filter.From {
			continue
		}
		if filter.To != "" && session.Date > filter.To {
			continue
		}
		out = append(out, session)
	}

	switch filter.SortBy {
	case models.SortByStart:
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].Date+" "+out[i].StartTime < out[j].Date+" "+out[j].StartTime
		})
	case models.SortByCreated:
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		})
	}
	return out
}

func matchesSearch(session models.ClassSession, needle string) bool {
	for _, field := range []string{session.Subject, session.Topic, session.Section} {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

// GroupByStatus partitions sessions into one bucket per status. Buckets are never nil.
func GroupByStatus(sessions []models.ClassSession) models.SessionBoard {
	board := models.SessionBoard{
		Upcoming:  []models.ClassSession{},
		Ongoing:   []models.ClassSession{},
		Cancelled: []models.ClassSession{},
		Completed: []models.ClassSession{},
	}
	for _, session := range sessions {
		switch session.Status {
		case models.SessionStatusUpcoming:
			board.Upcoming = append(board.Upcoming, session)
		case models.SessionStatusOngoing:
			board.Ongoing = append(board.Ongoing, session)
		case models.SessionStatusCancelled:
			board.Cancelled = append(board.Cancelled, session)
		case models.SessionStatusCompleted:
			board.Completed = append(board.Completed, session)
		}
	}
	return board
}

// ValidateFilter rejects unknown statuses, sort keys and malformed dates.
func ValidateFilter(filter models.SessionFilter) error {
	if filter.Status != "" && !filter.Status.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", filter.Status))
	}
	switch filter.SortBy {
	case "", models.SortByStart, models.SortByCreated:
	default:
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown sort %q", filter.SortBy))
	}
	for name, value := range map[string]string{"date": filter.Date, "from": filter.From, "to": filter.To} {
		if value == "" {
			continue
		}
		if _, err := time.Parse(models.SessionDateLayout, value); err != nil {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s must be formatted as YYYY-MM-DD", name))
		}
	}
	return nil
}

type sessionLister interface {
	List(ctx context.Context) ([]models.ClassSession, error)
}

// partialList is implemented by store errors that still carry the readable sessions.
type partialList interface {
	SkippedRows() []string
}

// listReadable lists the store and drops sessions it could not decode, returning how many were dropped.
func listReadable(ctx context.Context, sessions sessionLister, logger *zap.Logger) ([]models.ClassSession, int, error) {
	list, err := sessions.List(ctx)
	if err == nil {
		return list, 0, nil
	}
	var partial partialList
	if errors.As(err, &partial) {
		skipped := partial.SkippedRows()
		logger.Warn("skipping undecodable sessions", zap.Strings("session_ids", skipped), zap.Error(err))
		return list, len(skipped), nil
	}
	return nil, 0, err
}

// SessionQueryService serves read-only views over the session store.
type SessionQueryService struct {
	sessions sessionLister
	cache    *CacheService
	logger   *zap.Logger
}

// NewSessionQueryService constructs the query service.
func NewSessionQueryService(sessions sessionLister, cache *CacheService, logger *zap.Logger) *SessionQueryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionQueryService{sessions: sessions, cache: cache, logger: logger}
}

// List returns the filtered session list.
func (s *SessionQueryService) List(ctx context.Context, filter models.SessionFilter) ([]models.ClassSession, error) {
	if err := ValidateFilter(filter); err != nil {
		return nil, err
	}
	sessions, _, err := listReadable(ctx, s.sessions, s.logger)
	if err != nil {
		return nil, appErrors.FromError(err)
	}
	return FilterSessions(sessions, filter), nil
}

// Board groups the filtered sessions by status. The boolean reports a cache hit.
func (s *SessionQueryService) Board(ctx context.Context, filter models.SessionFilter) (models.SessionBoard, bool, error) {
	if err := ValidateFilter(filter); err != nil {
		return models.SessionBoard{}, false, err
	}
	cacheKey := makeBoardCacheKey(filter)
	if s.cache.Enabled() {
		var cached models.SessionBoard
		if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
			return cached, true, nil
		}
	}

	generation := s.cache.Generation()
	sessions, err := s.List(ctx, filter)
	if err != nil {
		return models.SessionBoard{}, false, err
	}
	board := GroupByStatus(sessions)

	if s.cache.Enabled() {
		if s.cache.Generation() != generation {
			s.logger.Debug("session board changed while loading, not caching", zap.String("key", cacheKey))
			return board, false, nil
		}
		if err := s.cache.Set(ctx, cacheKey, board, 0); err != nil {
			s.logger.Warn("cache session board", zap.Error(err))
		}
	}
	return board, false, nil
}

func makeBoardCacheKey(filter models.SessionFilter) string {
	var builder strings.Builder
	builder.WriteString("board")
	for _, part := range []string{string(filter.Status), strings.ToLower(strings.TrimSpace(filter.Search)), filter.Date, filter.From, filter.To, filter.SortBy} {
		builder.WriteByte(':')
		builder.WriteString(strings.ReplaceAll(part, ":", "|"))
	}
	return builder.String()
}
