package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/classmeet-api/internal/dto"
	"github.com/noah-isme/classmeet-api/internal/middleware"
	"github.com/noah-isme/classmeet-api/internal/models"
	"github.com/noah-isme/classmeet-api/internal/service"
	appErrors "github.com/noah-isme/classmeet-api/pkg/errors"
	"github.com/noah-isme/classmeet-api/pkg/export"
	"github.com/noah-isme/classmeet-api/pkg/response"
)

type sessionEngine interface {
	Schedule(ctx context.Context, req dto.ScheduleSessionRequest) (*models.ClassSession, error)
	Edit(ctx context.Context, id string, req dto.EditSessionRequest) (*models.ClassSession, error)
	Cancel(ctx context.Context, id, reason string) (*models.ClassSession, error)
	Start(ctx context.Context, id string) (*models.ClassSession, error)
	End(ctx context.Context, id string) (*models.ClassSession, error)
	MarkAttendance(ctx context.Context, id, studentID string, mark models.AttendanceMark) (*models.ClassSession, error)
	AttachRecording(ctx context.Context, id string, req dto.AttachRecordingRequest) (*models.ClassSession, error)
	Get(ctx context.Context, id string) (*models.ClassSession, error)
	Tick(ctx context.Context, now time.Time) []models.ClassSession
}

type sessionQuery interface {
	List(ctx context.Context, filter models.SessionFilter) ([]models.ClassSession, error)
	Board(ctx context.Context, filter models.SessionFilter) (models.SessionBoard, bool, error)
}

// SessionHandler exposes the class session lifecycle over HTTP.
type SessionHandler struct {
	engine    sessionEngine
	query     sessionQuery
	renderers map[string]export.Renderer
	now       func() time.Time
}

// NewSessionHandler constructs the session handler with CSV, PDF and XLSX attendance exports.
func NewSessionHandler(engine sessionEngine, query sessionQuery) *SessionHandler {
	renderers := map[string]export.Renderer{}
	for _, r := range []export.Renderer{export.NewCSVExporter(), export.NewPDFExporter(), export.NewXLSXExporter()} {
		renderers[r.Extension()] = r
	}
	return &SessionHandler{
		engine:    engine,
		query:     query,
		renderers: renderers,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Schedule godoc
// @Summary Schedule a class session
// @Tags Sessions
// @Accept json
// @Produce json
// @Param payload body dto.ScheduleSessionRequest true "Session draft"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /sessions [post]
func (h *SessionHandler) Schedule(c *gin.Context) {
	var req dto.ScheduleSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	session, err := h.engine.Schedule(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, session)
}

// List godoc
// @Summary List class sessions
// @Tags Sessions
// @Produce json
// @Param status query string false "UPCOMING, ONGOING, CANCELLED or COMPLETED"
// @Param search query string false "Case-insensitive match on subject, topic or section"
// @Param date query string false "Exact date (YYYY-MM-DD)"
// @Param from query string false "Earliest date (YYYY-MM-DD)"
// @Param to query string false "Latest date (YYYY-MM-DD)"
// @Param sort query string false "start or created"
// @Success 200 {object} response.Envelope
// @Router /sessions [get]
func (h *SessionHandler) List(c *gin.Context) {
	sessions, err := h.query.List(c.Request.Context(), parseSessionFilter(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sessions, &models.Pagination{Page: 1, PageSize: len(sessions), TotalCount: len(sessions)})
}

// Board godoc
// @Summary Sessions grouped by status
// @Tags Sessions
// @Produce json
// @Param search query string false "Case-insensitive match on subject, topic or section"
// @Param date query string false "Exact date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /sessions/board [get]
func (h *SessionHandler) Board(c *gin.Context) {
	board, cacheHit, err := h.query.Board(c.Request.Context(), parseSessionFilter(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	meta := middleware.ExtractMeta(c)
	meta["total"] = board.Total()
	response.JSON(c, http.StatusOK, board, nil, meta)
}

// Get godoc
// @Summary Get a class session
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sessions/{id} [get]
func (h *SessionHandler) Get(c *gin.Context) {
	session, err := h.engine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, session)
}

// Edit godoc
// @Summary Edit an upcoming session
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body dto.EditSessionRequest true "Fields to change"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sessions/{id} [patch]
func (h *SessionHandler) Edit(c *gin.Context) {
	var req dto.EditSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	session, err := h.engine.Edit(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, session)
}

// Cancel godoc
// @Summary Cancel an upcoming session
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body dto.CancelSessionRequest true "Cancel reason"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sessions/{id}/cancel [post]
func (h *SessionHandler) Cancel(c *gin.Context) {
	var req dto.CancelSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	session, err := h.engine.Cancel(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, session)
}

// Start godoc
// @Summary Start a session
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sessions/{id}/start [post]
func (h *SessionHandler) Start(c *gin.Context) {
	session, err := h.engine.Start(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, session)
}

// End godoc
// @Summary End an ongoing session
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sessions/{id}/end [post]
func (h *SessionHandler) End(c *gin.Context) {
	session, err := h.engine.End(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, session)
}

// MarkAttendance godoc
// @Summary Mark a student's attendance
// @Tags Attendance
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param studentId path string true "Student ID"
// @Param payload body dto.MarkAttendanceRequest true "Attendance mark"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sessions/{id}/attendance/{studentId} [put]
func (h *SessionHandler) MarkAttendance(c *gin.Context) {
	var req dto.MarkAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	session, err := h.engine.MarkAttendance(c.Request.Context(), c.Param("id"), c.Param("studentId"), req.Attendance)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, session)
}

// AttachRecording godoc
// @Summary Attach a recording to a completed session
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body dto.AttachRecordingRequest true "Recording link and materials"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sessions/{id}/recording [post]
func (h *SessionHandler) AttachRecording(c *gin.Context) {
	var req dto.AttachRecordingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	session, err := h.engine.AttachRecording(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, session)
}

// ExportAttendance godoc
// @Summary Download a session attendance sheet
// @Tags Attendance
// @Produce octet-stream
// @Param id path string true "Session ID"
// @Param format query string false "csv, pdf or xlsx" default(csv)
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /sessions/{id}/attendance/export [get]
func (h *SessionHandler) ExportAttendance(c *gin.Context) {
	format := strings.ToLower(c.DefaultQuery("format", "csv"))
	renderer, ok := h.renderers[format]
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format)))
		return
	}
	session, err := h.engine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	body, err := renderer.Render(service.AttendanceSheet(session))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render attendance"))
		return
	}
	filename := fmt.Sprintf("attendance-%s.%s", session.ID, renderer.Extension())
	response.Attachment(c, filename, renderer.ContentType(), body)
}

// Sweep godoc
// @Summary Run one lifecycle sweep
// @Tags Sessions
// @Accept json
// @Produce json
// @Param payload body dto.SweepRequest false "Sweep instant, defaults to now and may not be in the future"
// @Failure 400 {object} response.Envelope
// @Success 200 {object} response.Envelope
// @Router /sweeps [post]
func (h *SessionHandler) Sweep(c *gin.Context) {
	var req dto.SweepRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	now := h.now()
	at := req.At
	if at.IsZero() {
		at = now
	}
	if at.After(now) {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "sweep instant cannot be after server time"))
		return
	}
	moved := h.engine.Tick(c.Request.Context(), at)
	response.OK(c, dto.SweepResult{At: at, Transitions: moved})
}

func parseSessionFilter(c *gin.Context) models.SessionFilter {
	return models.SessionFilter{
		Status: models.SessionStatus(strings.ToUpper(strings.TrimSpace(c.Query("status")))),
		Search: c.Query("search"),
		Date:   c.Query("date"),
		From:   c.Query("from"),
		To:     c.Query("to"),
		SortBy: strings.ToLower(c.Query("sort")),
	}
}
