package transport

import (
	"errors"
	"net/http"
	"time"

	apperrors "go-medscan/internal/errors"
	"go-medscan/internal/logger"
	"go-medscan/pkg/models"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const sentryHubKey = "sentry"

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.WithFields(logrus.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status_code": c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"ip":          c.ClientIP(),
		}).Debug("Request handled")
	}
}

// recovery attaches a per-request Sentry hub and turns panics into a plain 500.
func recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		hub := sentry.CurrentHub().Clone()
		hub.Scope().SetRequest(c.Request)
		c.Set(sentryHubKey, hub)

		defer func() {
			if r := recover(); r != nil {
				hub.RecoverWithContext(c.Request.Context(), r)
				logger.WithFields(logrus.Fields{
					"panic":  r,
					"path":   c.Request.URL.Path,
					"method": c.Request.Method,
				}).Error("Recovered from panic")
				c.AbortWithStatusJSON(http.StatusInternalServerError, models.ErrorResponse{
					Error: "internal server error",
				})
			}
		}()
		c.Next()
	}
}

func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

func errorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			respondAppError(c, c.Errors.Last().Err)
		}
	}
}

// respondAppError writes err using its AppError status and public message.
func respondAppError(c *gin.Context, err error) {
	respondError(c, apperrors.GetStatusCode(err), apperrors.PublicMessage(err), err)
}

func respondError(c *gin.Context, code int, message string, err error) {
	entry := logger.WithFields(logrus.Fields{
		"status_code": code,
		"message":     message,
		"path":        c.Request.URL.Path,
		"method":      c.Request.Method,
		"ip":          c.ClientIP(),
	})
	if err != nil {
		entry = entry.WithError(err)
	}
	if code >= http.StatusInternalServerError {
		entry.Error("Request failed")
		captureError(c, err)
	} else {
		entry.Warn("Request rejected")
	}

	c.AbortWithStatusJSON(code, models.ErrorResponse{Error: message})
}

func captureError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	hub := sentry.CurrentHub()
	if v, ok := c.Get(sentryHubKey); ok {
		if h, ok := v.(*sentry.Hub); ok {
			hub = h
		}
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		hub.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("error_kind", string(appErr.Type))
			hub.CaptureException(err)
		})
		return
	}
	hub.CaptureException(err)
}
