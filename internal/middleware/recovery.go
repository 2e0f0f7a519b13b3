package middleware

import (
	"errors"
	"net"
	"net/http"
	"os"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const tagInternalError = "internal_error"

// errorBody matches the error shape of the API handlers so clients parse
// middleware rejections the same way.
type errorBody struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// RecoveryMiddleware turns a handler panic into a logged JSON 500. Panics
// caused by a client that went away are logged at warn level and nothing
// is written back.
func RecoveryMiddleware(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		panic("RecoveryMiddleware requires a non-nil zap.Logger instance")
	}
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			fields := []zap.Field{
				zap.Any("panic", rec),
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.String("request_id", RequestID(c)),
				zap.String("account_id", AccountID(c)),
			}
			if connectionLost(rec) {
				logger.Warn("Client connection lost", fields...)
				c.Abort()
				return
			}
			logger.Error("Panic recovered", append(fields, zap.ByteString("stacktrace", debug.Stack()))...)
			if c.Writer.Written() {
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{
				Error:   tagInternalError,
				Message: "The server encountered an unexpected condition.",
			})
		}()
		c.Next()
	}
}

// connectionLost reports panics from writing to a closed client socket.
func connectionLost(rec any) bool {
	err, ok := rec.(error)
	if !ok {
		return false
	}
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, http.ErrAbortHandler) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		var sysErr *os.SyscallError
		if errors.As(opErr, &sysErr) {
			msg := strings.ToLower(sysErr.Error())
			return strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset by peer")
		}
	}
	return false
}
