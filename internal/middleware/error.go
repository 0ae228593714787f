package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/lesson-notifier/pkg/httputil"
	"github.com/jwalitptl/lesson-notifier/pkg/logger"
)

// ErrorHandler logs errors attached with c.Error and answers with the last
// one when the handler has not written a response yet.
func ErrorHandler(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		requestID := c.GetString(ContextRequestID)
		for _, e := range c.Errors {
			log.Error(e.Err, "Request error",
				"request_id", requestID,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"client_ip", c.ClientIP(),
			)
		}

		if c.Writer.Written() {
			return
		}
		httputil.RespondWithError(c, c.Errors.Last().Err)
	}
}
