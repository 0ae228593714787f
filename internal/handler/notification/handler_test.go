package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/lesson-notifier/internal/middleware"
	"github.com/jwalitptl/lesson-notifier/internal/model"
	"github.com/jwalitptl/lesson-notifier/internal/service/orchestrator"
	"github.com/jwalitptl/lesson-notifier/pkg/logger"
)

type mockRunner struct{ mock.Mock }

func (m *mockRunner) Run(ctx context.Context, req orchestrator.Request) orchestrator.Result {
	return m.Called(ctx, req).Get(0).(orchestrator.Result)
}

type mockStatus struct{ mock.Mock }

func (m *mockStatus) CountByStatus(ctx context.Context) (map[model.NotificationStatus]int, error) {
	args := m.Called(ctx)
	counts, _ := args.Get(0).(map[model.NotificationStatus]int)
	return counts, args.Error(1)
}

func setup(runner Runner, status StatusReader, secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.ErrorHandler(logger.Nop()))
	loc, _ := time.LoadLocation("Asia/Tokyo")
	h := NewHandler(runner, status, loc, middleware.CronAuth(secret))
	h.RegisterRoutes(r.Group("/api/v1"))
	return r
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHandler_Cron(t *testing.T) {
	runner := &mockRunner{}
	runner.On("Run", mock.Anything, orchestrator.Request{}).Return(orchestrator.Result{
		Phase:                orchestrator.PhaseCompleted,
		NotificationsCreated: 3,
		NotificationsSent:    2,
		Errors:               []string{"TEACHER T1: boom"},
	})
	r := setup(runner, &mockStatus{}, "s3cret")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications/cron", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "completed", body["phase"])
	assert.Equal(t, float64(3), body["notificationsCreated"])
	assert.Equal(t, float64(2), body["notificationsSent"])
	assert.NotContains(t, body, "manual")
	runner.AssertExpectations(t)
}

func TestHandler_CronRequiresSecret(t *testing.T) {
	runner := &mockRunner{}
	r := setup(runner, &mockStatus{}, "s3cret")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/notifications/cron", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestHandler_ManualRun(t *testing.T) {
	runner := &mockRunner{}
	runner.On("Run", mock.Anything, orchestrator.Request{Reset: true, TemplateID: "tpl-1"}).
		Return(orchestrator.Result{Phase: orchestrator.PhaseCompleted, DeletedNotifications: 4})
	r := setup(runner, &mockStatus{}, "")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/run",
		strings.NewReader(`{"reset":true,"templateId":"tpl-1"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["manual"])
	assert.Equal(t, float64(4), body["deletedNotifications"])
	runner.AssertExpectations(t)
}

func TestHandler_ManualRunWithoutBody(t *testing.T) {
	runner := &mockRunner{}
	runner.On("Run", mock.Anything, orchestrator.Request{}).Return(orchestrator.Result{Phase: orchestrator.PhaseCompleted})
	r := setup(runner, &mockStatus{}, "")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/notifications/run", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	runner.AssertExpectations(t)
}

func TestHandler_ManualRunBadBody(t *testing.T) {
	runner := &mockRunner{}
	r := setup(runner, &mockStatus{}, "")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/run", strings.NewReader(`{"reset":"yes"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestHandler_Status(t *testing.T) {
	status := &mockStatus{}
	status.On("CountByStatus", mock.Anything).Return(map[model.NotificationStatus]int{
		model.NotificationStatusPending: 2,
		model.NotificationStatusSent:    5,
	}, nil)
	r := setup(&mockRunner{}, status, "s3cret")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/notifications/status", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "Asia/Tokyo", data["timezone"])
	counts := data["counts"].(map[string]interface{})
	assert.Equal(t, float64(5), counts["SENT"])
	assert.Equal(t, float64(0), counts["PROCESSING"])
	assert.Equal(t, float64(0), counts["FAILED"])
}

func TestHandler_StatusReportsStuckProcessing(t *testing.T) {
	status := &mockStatus{}
	status.On("CountByStatus", mock.Anything).Return(map[model.NotificationStatus]int{
		model.NotificationStatusProcessing: 1,
	}, nil)
	r := setup(&mockRunner{}, status, "")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/notifications/status", nil))

	require.Equal(t, http.StatusOK, w.Code)
	counts := decode(t, w)["data"].(map[string]interface{})["counts"].(map[string]interface{})
	assert.Equal(t, float64(1), counts["PROCESSING"])
	assert.Equal(t, float64(0), counts["PENDING"])
}

func TestHandler_RunOutlivesCaller(t *testing.T) {
	runner := &mockRunner{}
	var runErr error
	runner.On("Run", mock.Anything, orchestrator.Request{}).
		Run(func(args mock.Arguments) {
			runErr = args.Get(0).(context.Context).Err()
		}).
		Return(orchestrator.Result{Phase: orchestrator.PhaseCompleted})
	r := setup(runner, &mockStatus{}, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications/cron", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, runErr)
	runner.AssertExpectations(t)
}

func TestHandler_StatusError(t *testing.T) {
	status := &mockStatus{}
	status.On("CountByStatus", mock.Anything).Return(nil, errors.New("db down"))
	r := setup(&mockRunner{}, status, "")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/notifications/status", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
