package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/classmeet-api/internal/dto"
	"github.com/noah-isme/classmeet-api/internal/middleware"
	"github.com/noah-isme/classmeet-api/internal/models"
	appErrors "github.com/noah-isme/classmeet-api/pkg/errors"
)

type fakeEngine struct {
	session     *models.ClassSession
	err         error
	lastReason  string
	lastMark    models.AttendanceMark
	lastStudent string
	tickAt      time.Time
	moved       []models.ClassSession
}

func (f *fakeEngine) Schedule(ctx context.Context, req dto.ScheduleSessionRequest) (*models.ClassSession, error) {
	return f.session, f.err
}

func (f *fakeEngine) Edit(ctx context.Context, id string, req dto.EditSessionRequest) (*models.ClassSession, error) {
	return f.session, f.err
}

func (f *fakeEngine) Cancel(ctx context.Context, id, reason string) (*models.ClassSession, error) {
	f.lastReason = reason
	return f.session, f.err
}

func (f *fakeEngine) Start(ctx context.Context, id string) (*models.ClassSession, error) {
	return f.session, f.err
}

func (f *fakeEngine) End(ctx context.Context, id string) (*models.ClassSession, error) {
	return f.session, f.err
}

func (f *fakeEngine) MarkAttendance(ctx context.Context, id, studentID string, mark models.AttendanceMark) (*models.ClassSession, error) {
	f.lastStudent = studentID
	f.lastMark = mark
	return f.session, f.err
}

func (f *fakeEngine) AttachRecording(ctx context.Context, id string, req dto.AttachRecordingRequest) (*models.ClassSession, error) {
	return f.session, f.err
}

func (f *fakeEngine) Get(ctx context.Context, id string) (*models.ClassSession, error) {
	return f.session, f.err
}

func (f *fakeEngine) Tick(ctx context.Context, now time.Time) []models.ClassSession {
	f.tickAt = now
	return f.moved
}

type fakeQuery struct {
	filter   models.SessionFilter
	sessions []models.ClassSession
	board    models.SessionBoard
	hit      bool
	err      error
}

func (f *fakeQuery) List(ctx context.Context, filter models.SessionFilter) ([]models.ClassSession, error) {
	f.filter = filter
	return f.sessions, f.err
}

func (f *fakeQuery) Board(ctx context.Context, filter models.SessionFilter) (models.SessionBoard, bool, error) {
	f.filter = filter
	return f.board, f.hit, f.err
}

type responseEnvelope struct {
	Data  map[string]interface{} `json:"data"`
	Error *appErrors.Error       `json:"error"`
	Meta  map[string]interface{} `json:"meta"`
}

func sampleSession() *models.ClassSession {
	return &models.ClassSession{
		ID:              "session-1",
		Subject:         "Mathematics",
		Section:         "10-A",
		Date:            "2025-01-15",
		StartTime:       "10:00",
		DurationMinutes: 60,
		Status:          models.SessionStatusOngoing,
		Roster:          []models.StudentAttendance{
			{StudentID: "s1", Name: "Ana", Attendance: models.AttendancePresent},
		},
	}
}

func performRequest(h gin.HandlerFunc, method, route, target string, body interface{}) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.WithResponseMeta())
	r.Handle(method, route, h)

	var reader *bytes.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) responseEnvelope {
	t.Helper()
	var envelope responseEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope
}

func TestSessionHandlerScheduleCreated(t *testing.T) {
	handler := NewSessionHandler(&fakeEngine{session: sampleSession()}, &fakeQuery{})

	rec := performRequest(handler.Schedule, http.MethodPost, "/sessions", "/sessions", dto.ScheduleSessionRequest{Subject: "Mathematics"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	envelope := decodeEnvelope(t, rec)
	assert.Equal(t, "session-1", envelope.Data["id"])
}

func TestSessionHandlerRejectsMalformedJSON(t *testing.T) {
	handler := NewSessionHandler(&fakeEngine{}, &fakeQuery{})
	gin.SetMode(gin.TestMode)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/sessions", strings.NewReader("{"))
	c.Request.Header.Set("Content-Type", "application/json")

	handler.Schedule(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeEnvelope(t, rec).Error.Code)
}

func TestSessionHandlerMapsDomainErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{appErrors.Clone(appErrors.ErrInvalidState, "session is not upcoming"), http.StatusConflict, "INVALID_STATE"},
		{appErrors.Clone(appErrors.ErrNotFound, "session not found"), http.StatusNotFound, "NOT_FOUND"},
		{appErrors.Clone(appErrors.ErrValidation, "cancel reason is required"), http.StatusBadRequest, "VALIDATION_ERROR"},
	}
	for _, tc := range cases {
		engine := &fakeEngine{err: tc.err}
		handler := NewSessionHandler(engine, &fakeQuery{})

		rec := performRequest(handler.Cancel, http.MethodPost, "/sessions/:id/cancel", "/sessions/session-1/cancel", dto.CancelSessionRequest{Reason: "sick"})

		assert.Equal(t, tc.status, rec.Code)
		assert.Equal(t, tc.code, decodeEnvelope(t, rec).Error.Code)
		assert.Equal(t, "sick", engine.lastReason)
	}
}

func TestSessionHandlerMarkAttendance(t *testing.T) {
	engine := &fakeEngine{session: sampleSession()}
	handler := NewSessionHandler(engine, &fakeQuery{})

	rec := performRequest(handler.MarkAttendance, http.MethodPut, "/sessions/:id/attendance/:studentId",
		"/sessions/session-1/attendance/s1", dto.MarkAttendanceRequest{Attendance: models.AttendanceLate})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "s1", engine.lastStudent)
	assert.Equal(t, models.AttendanceLate, engine.lastMark)
}

func TestSessionHandlerListParsesFilter(t *testing.T) {
	query := &fakeQuery{sessions: []models.ClassSession{*sampleSession()}}
	handler := NewSessionHandler(&fakeEngine{}, query)

	rec := performRequest(handler.List, http.MethodGet, "/sessions", "/sessions?status=ongoing&search=Math&date=2025-01-15&sort=START", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.SessionFilter{Status: models.SessionStatusOngoing, Search: "Math", Date: "2025-01-15", SortBy: "start"}, query.filter)
}

func TestSessionHandlerBoardReportsCacheHit(t *testing.T) {
	query := &fakeQuery{board: models.SessionBoard{Ongoing: []models.ClassSession{*sampleSession()}}, hit: true}
	handler := NewSessionHandler(&fakeEngine{}, query)

	rec := performRequest(handler.Board, http.MethodGet, "/sessions/board", "/sessions/board", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	envelope := decodeEnvelope(t, rec)
	assert.Equal(t, true, envelope.Meta["cache_hit"])
	assert.Equal(t, float64(1), envelope.Meta["total"])
}

func TestSessionHandlerExportAttendance(t *testing.T) {
	handler := NewSessionHandler(&fakeEngine{session: sampleSession()}, &fakeQuery{})

	rec := performRequest(handler.ExportAttendance, http.MethodGet, "/sessions/:id/attendance/export", "/sessions/session-1/attendance/export", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attendance-session-1.csv")
	assert.Contains(t, rec.Body.String(), "s1")

	rec = performRequest(handler.ExportAttendance, http.MethodGet, "/sessions/:id/attendance/export", "/sessions/session-1/attendance/export?format=PDF", nil)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))

	rec = performRequest(handler.ExportAttendance, http.MethodGet, "/sessions/:id/attendance/export", "/sessions/session-1/attendance/export?format=docx", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionHandlerSweep(t *testing.T) {
	engine := &fakeEngine{moved: []models.ClassSession{*sampleSession()}}
	handler := NewSessionHandler(engine, &fakeQuery{})
	fixed := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	handler.now = func() time.Time { return fixed }

	rec := performRequest(handler.Sweep, http.MethodPost, "/sweeps", "/sweeps", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, fixed, engine.tickAt)
	transitions, ok := decodeEnvelope(t, rec).Data["transitions"].([]interface{})
	require.True(t, ok)
	assert.Len(t, transitions, 1)

	explicit := time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC)
	rec = performRequest(handler.Sweep, http.MethodPost, "/sweeps", "/sweeps", dto.SweepRequest{At: explicit})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, explicit.Equal(engine.tickAt))
}

func TestSessionHandlerSweepRejectsFutureInstant(t *testing.T) {
	engine := &fakeEngine{}
	handler := NewSessionHandler(engine, &fakeQuery{})
	fixed := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	handler.now = func() time.Time { return fixed }

	rec := performRequest(handler.Sweep, http.MethodPost, "/sweeps", "/sweeps",
		dto.SweepRequest{At: time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeEnvelope(t, rec).Error.Code)
	assert.True(t, engine.tickAt.IsZero(), "engine must not be ticked")
}
