package middleware

import (
	"crypto/subtle"
	stderrors "errors"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/lesson-notifier/pkg/errors"
	"github.com/jwalitptl/lesson-notifier/pkg/httputil"
)

var errInvalidCronSecret = stderrors.New("missing or invalid cron secret")

// CronAuth requires "Authorization: Bearer <secret>". An empty secret
// disables the check.
func CronAuth(secret string) gin.HandlerFunc {
	expected := []byte("Bearer " + secret)
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		got := []byte(c.GetHeader("Authorization"))
		if subtle.ConstantTimeCompare(got, expected) != 1 {
			_ = c.Error(errInvalidCronSecret)
			httputil.RespondWithError(c, errors.Unauthorized(errInvalidCronSecret))
			return
		}
		c.Next()
	}
}
