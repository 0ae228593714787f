package router

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/lesson-notifier/internal/handler/health"
	"github.com/jwalitptl/lesson-notifier/internal/handler/notification"
	"github.com/jwalitptl/lesson-notifier/internal/handler/prometheus"
	"github.com/jwalitptl/lesson-notifier/internal/middleware"
	"github.com/jwalitptl/lesson-notifier/pkg/logger"
)

type RouterConfig struct {
	Mode      string
	RateLimit rate.Limit
	RateBurst int
	// MaxBodySize caps trigger request bodies. Zero uses the middleware default.
	MaxBodySize int64
}

type Router struct {
	engine        *gin.Engine
	config        RouterConfig
	notificationH *notification.Handler
	healthH       *health.Handler
	prometheusH   *prometheus.Handler
}

// NewRouter builds the engine and its core middleware. Any handler may be nil,
// in which case its routes are not registered.
func NewRouter(
	config RouterConfig,
	log *logger.Logger,
	notificationH *notification.Handler,
	healthH *health.Handler,
	prometheusH *prometheus.Handler,
) *Router {
	if config.Mode == "" {
		config.Mode = gin.ReleaseMode
	}
	gin.SetMode(config.Mode)

	engine := gin.New()

	r := &Router{
		engine:        engine,
		config:        config,
		notificationH: notificationH,
		healthH:       healthH,
		prometheusH:   prometheusH,
	}

	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(log),
		middleware.Logger(log),
		middleware.ErrorHandler(log),
		middleware.SecurityHeaders(),
	)
	if prometheusH != nil {
		engine.Use(prometheusH.Middleware())
	}

	return r
}

func (r *Router) Setup() {
	if r.prometheusH != nil {
		r.engine.GET("/metrics", r.prometheusH.Handler())
	}

	api := r.engine.Group("/api/v1")

	if r.healthH != nil {
		r.healthH.RegisterRoutes(api)
	}

	if r.notificationH != nil {
		limited := api.Group("", middleware.BodyLimit(r.config.MaxBodySize))
		if r.config.RateLimit > 0 {
			limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
				Rate:  r.config.RateLimit,
				Burst: r.config.RateBurst,
			})
			limited.Use(limiter.RateLimit())
		}
		r.notificationH.RegisterRoutes(limited)
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
