package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) PingContext(ctx context.Context) error { return f(ctx) }

func get(h *Handler, path string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.RegisterRoutes(r.Group("/api/v1"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestReadiness(t *testing.T) {
	up := NewHandler(pingFunc(func(context.Context) error { return nil }))
	w := get(up, "/api/v1/health/ready")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"UP"}`, w.Body.String())

	down := NewHandler(pingFunc(func(context.Context) error { return errors.New("refused") }))
	w = get(down, "/api/v1/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	assert.Equal(t, http.StatusOK, get(NewHandler(nil), "/api/v1/health/ready").Code)
}

func TestLiveness(t *testing.T) {
	assert.Equal(t, http.StatusOK, get(NewHandler(nil), "/api/v1/health/live").Code)
}
