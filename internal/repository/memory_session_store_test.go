package repository

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/classmeet-api/internal/models"
)

func TestMemorySessionStoreKeepsNewestFirst(t *testing.T) {
	store := NewMemorySessionStore(models.ClassSession{ID: "seeded"})
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &models.ClassSession{ID: "first"}))
	require.NoError(t, store.Create(ctx, &models.ClassSession{ID: "second"}))
	assert.Error(t, store.Create(ctx, &models.ClassSession{ID: "first"}))

	sessions, err := store.List(ctx)
	require.NoError(t, err)
	got := make([]string, 0, len(sessions))
	for _, s := range sessions {
		got = append(got, s.ID)
	}
	assert.Equal(t, []string{"second", "first", "seeded"}, got)
}

func TestMemorySessionStoreReturnsCopies(t *testing.T) {
	store := NewMemorySessionStore()
	ctx := context.Background()
	session := &models.ClassSession{
		ID:     "s",
		Status: models.SessionStatusOngoing,
		Roster: []models.StudentAttendance{{StudentID: "1", Attendance: models.AttendanceNotMarked}},
	}
	require.NoError(t, store.Create(ctx, session))

	session.Roster[0].Attendance = models.AttendancePresent
	loaded, err := store.Get(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceNotMarked, loaded.Roster[0].Attendance)

	loaded.Roster[0].Attendance = models.AttendanceLate
	again, err := store.Get(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceNotMarked, again.Roster[0].Attendance)
}

func TestMemorySessionStoreUpdate(t *testing.T) {
	store := NewMemorySessionStore(models.ClassSession{ID: "s", Status: models.SessionStatusUpcoming})
	ctx := context.Background()

	require.NoError(t, store.Update(ctx, &models.ClassSession{ID: "s", Status: models.SessionStatusCancelled}))
	loaded, err := store.Get(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCancelled, loaded.Status)

	assert.ErrorIs(t, store.Update(ctx, &models.ClassSession{ID: "ghost"}), sql.ErrNoRows)
	_, err = store.Get(ctx, "ghost")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}
