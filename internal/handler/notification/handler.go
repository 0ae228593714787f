package notification

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/lesson-notifier/internal/model"
	"github.com/jwalitptl/lesson-notifier/internal/service/orchestrator"
	"github.com/jwalitptl/lesson-notifier/pkg/errors"
	"github.com/jwalitptl/lesson-notifier/pkg/httputil"
)

// Runner runs one notification pass.
type Runner interface {
	Run(ctx context.Context, req orchestrator.Request) orchestrator.Result
}

// StatusReader reports queue counts.
type StatusReader interface {
	CountByStatus(ctx context.Context) (map[model.NotificationStatus]int, error)
}

type Handler struct {
	runner   Runner
	status   StatusReader
	location *time.Location
	now      func() time.Time
	guards   []gin.HandlerFunc
}

// NewHandler builds the trigger handler. guards run before the cron and
// manual run routes.
func NewHandler(runner Runner, status StatusReader, location *time.Location, guards ...gin.HandlerFunc) *Handler {
	if location == nil {
		location = time.UTC
	}
	return &Handler{
		runner:   runner,
		status:   status,
		location: location,
		now:      time.Now,
		guards:   guards,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	notifications := r.Group("/notifications")
	{
		triggers := notifications.Group("", h.guards...)
		triggers.GET("/cron", h.Cron)
		triggers.POST("/run", h.Run)

		notifications.GET("/status", h.Status)
	}
}

type runRequest struct {
	Reset      bool   `json:"reset"`
	TemplateID string `json:"templateId" binding:"omitempty,max=64"`
}

type runResponse struct {
	Success bool `json:"success"`
	Manual  bool `json:"manual,omitempty"`
	orchestrator.Result
}

// runContext keeps a run alive after the caller disconnects. The worker's
// execution budget bounds it.
func runContext(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

// Cron is the scheduler entry point. It never resets.
func (h *Handler) Cron(c *gin.Context) {
	result := h.runner.Run(runContext(c), orchestrator.Request{})
	c.JSON(http.StatusOK, runResponse{Success: true, Result: result})
}

// Run is the manual trigger. The body is optional.
func (h *Handler) Run(c *gin.Context) {
	var req runRequest
	if c.Request.Body != nil && c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !stderrors.Is(err, io.EOF) {
			_ = c.Error(err)
			httputil.RespondWithError(c, errors.NewBadRequest("invalid request body", err))
			return
		}
	}

	result := h.runner.Run(runContext(c), orchestrator.Request{
		Reset:      req.Reset,
		TemplateID: req.TemplateID,
	})
	c.JSON(http.StatusOK, runResponse{Success: true, Manual: true, Result: result})
}

type statusResponse struct {
	Timezone    string                           `json:"timezone"`
	CurrentTime string                           `json:"currentTime"`
	Counts      map[model.NotificationStatus]int `json:"counts"`
}

var reportedStatuses = []model.NotificationStatus{
	model.NotificationStatusPending,
	model.NotificationStatusProcessing,
	model.NotificationStatusSent,
	model.NotificationStatusFailed,
}

// Status reports the queue without side effects. Every status is listed, so
// rows left in PROCESSING by a lost status update stay visible.
func (h *Handler) Status(c *gin.Context) {
	counts, err := h.status.CountByStatus(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		httputil.RespondWithError(c, errors.NewInternal(err))
		return
	}
	if counts == nil {
		counts = make(map[model.NotificationStatus]int, len(reportedStatuses))
	}
	for _, st := range reportedStatuses {
		if _, ok := counts[st]; !ok {
			counts[st] = 0
		}
	}
	httputil.RespondWithSuccess(c, statusResponse{
		Timezone:    h.location.String(),
		CurrentTime: h.now().In(h.location).Format(time.RFC3339),
		Counts:      counts,
	})
}
