package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/classmeet-api/internal/dto"
	"github.com/noah-isme/classmeet-api/internal/models"
	"github.com/noah-isme/classmeet-api/pkg/response"
)

type notificationFeed interface {
	List(ctx context.Context, query dto.NotificationQuery) []models.Notification
	MarkRead(ctx context.Context, id string) error
	UnreadCount() int
}

// NotificationHandler serves the in-app notification feed.
type NotificationHandler struct {
	feed notificationFeed
}

// NewNotificationHandler constructs the handler.
func NewNotificationHandler(feed notificationFeed) *NotificationHandler {
	return &NotificationHandler{feed: feed}
}

// List godoc
// @Summary List notifications, most recent first
// @Tags Notifications
// @Produce json
// @Param unread query bool false "Only unread notifications"
// @Param sessionId query string false "Only notifications for this session"
// @Param limit query int false "Maximum number of entries"
// @Success 200 {object} response.Envelope
// @Router /notifications [get]
func (h *NotificationHandler) List(c *gin.Context) {
	query := dto.NotificationQuery{SessionID: c.Query("sessionId")}
	query.UnreadOnly, _ = strconv.ParseBool(c.DefaultQuery("unread", "false"))
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit > 0 {
		query.Limit = limit
	}
	items := h.feed.List(c.Request.Context(), query)
	response.JSON(c, http.StatusOK, items, nil, map[string]interface{}{"unread": h.feed.UnreadCount()})
}

// MarkRead godoc
// @Summary Mark a notification as read
// @Tags Notifications
// @Param id path string true "Notification ID"
// @Success 204
// @Router /notifications/{id}/read [post]
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	if err := h.feed.MarkRead(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
