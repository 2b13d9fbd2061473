package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/classmeet-api/internal/models"
	"github.com/noah-isme/classmeet-api/internal/repository"
	appErrors "github.com/noah-isme/classmeet-api/pkg/errors"
)

func querySessions() []models.ClassSession {
	return []models.ClassSession{
		{ID: "1", Subject: "Mathematics", Topic: "Algebra", Section: "10-A", Date: "2025-01-16", StartTime: "08:00", Status: models.SessionStatusUpcoming, CreatedAt: at(7, 0)},
		{ID: "2", Subject: "Physics", Topic: "Motion", Section: "11-B", Date: "2025-01-15", StartTime: "10:00", Status: models.SessionStatusOngoing, CreatedAt: at(7, 30)},
		{ID: "3", Subject: "Biology", Topic: "Applied math in genetics", Section: "12-C", Date: "2025-01-14", StartTime: "13:00", Status: models.SessionStatusCompleted, CreatedAt: at(6, 0)},
		{ID: "4", Subject: "History", Topic: "Empires", Section: "MATH-club", Date: "2025-01-15", StartTime: "09:00", Status: models.SessionStatusCancelled, CreatedAt: at(8, 0)},
	}
}

func ids(sessions []models.ClassSession) []string {
	out := make([]string, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.ID)
	}
	return out
}

func TestFilterSessionsSearchIsCaseInsensitiveAcrossFields(t *testing.T) {
	got := FilterSessions(querySessions(), models.SessionFilter{Search: "math"})

	assert.Equal(t, []string{"1", "3", "4"}, ids(got))
	assert.NotContains(t, ids(got), "2", "physics/motion must not match")
}

func TestFilterSessionsByStatusAndDate(t *testing.T) {
	sessions := querySessions()

	assert.Equal(t, []string{"2"}, ids(FilterSessions(sessions, models.SessionFilter{Status: models.SessionStatusOngoing})))
	assert.Equal(t, []string{"2", "4"}, ids(FilterSessions(sessions, models.SessionFilter{Date: "2025-01-15"})))
	assert.Equal(t, []string{"2", "3", "4"}, ids(FilterSessions(sessions, models.SessionFilter{To: "2025-01-15"})))
	assert.Equal(t, []string{"1"}, ids(FilterSessions(sessions, models.SessionFilter{From: "2025-01-16"})))
	assert.Empty(t, FilterSessions(sessions, models.SessionFilter{Status: models.SessionStatusOngoing, Search: "math"}))
}

func TestFilterSessionsSorting(t *testing.T) {
	sessions := querySessions()

	assert.Equal(t, []string{"1", "2", "3", "4"}, ids(FilterSessions(sessions, models.SessionFilter{})), "store order by default")
	assert.Equal(t, []string{"3", "4", "2", "1"}, ids(FilterSessions(sessions, models.SessionFilter{SortBy: models.SortByStart})))
	assert.Equal(t, []string{"4", "2", "1", "3"}, ids(FilterSessions(sessions, models.SessionFilter{SortBy: models.SortByCreated})))
}

func TestGroupByStatusPartitions(t *testing.T) {
	sessions := querySessions()

	board := GroupByStatus(sessions)

	assert.Equal(t, len(sessions), board.Total())
	assert.Equal(t, []string{"1"}, ids(board.Upcoming))
	assert.Equal(t, []string{"2"}, ids(board.Ongoing))
	assert.Equal(t, []string{"4"}, ids(board.Cancelled))
	assert.Equal(t, []string{"3"}, ids(board.Completed))

	empty := GroupByStatus(nil)
	assert.NotNil(t, empty.Upcoming)
	assert.Zero(t, empty.Total())
}

func TestValidateFilter(t *testing.T) {
	assert.NoError(t, ValidateFilter(models.SessionFilter{Status: models.SessionStatusUpcoming, Date: "2025-01-15", SortBy: "start"}))

	for _, filter := range []models.SessionFilter{
		{Status: "DONE"},
		{SortBy: "subject"},
		{From: "yesterday"},
	} {
		err := ValidateFilter(filter)
		require.Error(t, err)
		assert.True(t, errors.Is(err, appErrors.ErrValidation))
	}
}

type listerStub struct {
	sessions []models.ClassSession
	err      error
	calls    int
	onList   func()
}

func (l *listerStub) List(ctx context.Context) ([]models.ClassSession, error) {
	l.calls++
	if l.onList != nil {
		l.onList()
	}
	return l.sessions, l.err
}

func TestSessionQueryBoardUsesCache(t *testing.T) {
	lister := &listerStub{sessions: querySessions()}
	cache := NewCacheService(newMemoryCacheRepo(), nil, time.Minute, zap.NewNop(), true)
	svc := NewSessionQueryService(lister, cache, zap.NewNop())
	ctx := context.Background()

	board, hit, err := svc.Board(ctx, models.SessionFilter{Search: "math"})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 3, board.Total())

	cached, hit, err := svc.Board(ctx, models.SessionFilter{Search: "MATH"})
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, ids(board.Upcoming), ids(cached.Upcoming))
	assert.Equal(t, 1, lister.calls)

	require.NoError(t, cache.Invalidate(ctx, boardCachePattern))
	_, hit, err = svc.Board(ctx, models.SessionFilter{Search: "math"})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, lister.calls)
}

func TestSessionQueryBoardSkipsCacheWhenInvalidatedDuringLoad(t *testing.T) {
	lister := &listerStub{sessions: querySessions()}
	cache := NewCacheService(newMemoryCacheRepo(), nil, time.Minute, zap.NewNop(), true)
	svc := NewSessionQueryService(lister, cache, zap.NewNop())
	ctx := context.Background()

	// a mutation commits and invalidates while the board is being read
	lister.onList = func() { require.NoError(t, cache.Invalidate(ctx, boardCachePattern)) }
	_, hit, err := svc.Board(ctx, models.SessionFilter{})
	require.NoError(t, err)
	assert.False(t, hit)

	lister.onList = nil
	_, hit, err = svc.Board(ctx, models.SessionFilter{})
	require.NoError(t, err)
	assert.False(t, hit, "the board read across an invalidation was cached")
	assert.Equal(t, 2, lister.calls)

	_, hit, err = svc.Board(ctx, models.SessionFilter{})
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestSessionQueryListSkipsUndecodableRows(t *testing.T) {
	lister := &listerStub{
		sessions: querySessions(),
		err:      &repository.MalformedRowsError{IDs: []string{"broken"}, Errs: []error{errors.New("decode roster")}},
	}
	svc := NewSessionQueryService(lister, nil, zap.NewNop())

	sessions, err := svc.List(context.Background(), models.SessionFilter{})

	require.NoError(t, err)
	assert.Len(t, sessions, len(querySessions()))
}

func TestSessionQueryListPropagatesErrors(t *testing.T) {
	svc := NewSessionQueryService(&listerStub{err: errors.New("db down")}, nil, nil)

	_, err := svc.List(context.Background(), models.SessionFilter{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInternal))

	_, _, err = svc.Board(context.Background(), models.SessionFilter{Status: "DONE"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}
