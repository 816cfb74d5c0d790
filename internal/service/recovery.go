package core

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/gin-gonic/gin"
)

// Recovery returns a gin middleware that turns panics into a 500 envelope.
// A panic in a consumer route is logged with its topic so the pool entry can be found.
func Recovery() gin.HandlerFunc {
	logger := GetLogger("http")

	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}

			event := logger.Error().
				Str("request_id", getRequestID(c)).
				Str("method", c.Request.Method).
				Str("route", c.FullPath()).
				Interface("panic", r).
				Str("stack", stackTrace(3))
			if topic := c.Param("topic"); topic != "" {
				event = event.Str("topic", topic)
			}
			event.Msg("Panic recovered")

			if c.Writer.Written() {
				// a websocket or streamed body is already under way
				c.Abort()
				return
			}
			AbortWithMessage(c, ErrInternalServer, GetErrorMessage(ErrInternalServer))
		}()

		c.Next()
	}
}

// stackTrace formats up to 32 non-runtime frames above skip
func stackTrace(skip int) string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var b strings.Builder
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") {
			fmt.Fprintf(&b, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		}
		if !more {
			break
		}
	}
	return b.String()
}
