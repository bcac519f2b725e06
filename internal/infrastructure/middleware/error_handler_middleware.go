package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "lanlink/pkg/errors"
)

const internalErrorMessage = "Internal server error"

// ErrorHandlerMiddleware renders the last error attached with c.Error as
// {"success": false, "error": CODE, "message": ...}. In production the
// message of 5xx errors is replaced with a generic one.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger, production bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		appErr := apperrors.GetAppError(err)
		if appErr == nil {
			appErr = apperrors.NewInternalError(err)
		}

		fields := []interface{}{
			"code", appErr.Code,
			"status", appErr.HTTPStatus,
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		}
		if appErr.Cause != nil {
			fields = append(fields, "error", appErr.Cause.Error())
		}
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			logger.Errorw(appErr.Message, fields...)
		} else {
			logger.Debugw(appErr.Message, fields...)
		}

		body := gin.H{
			"success": false,
			"error":   string(appErr.Code),
			"message": appErr.Message,
		}
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			if production {
				body["message"] = internalErrorMessage
			} else if appErr.Cause != nil {
				body["details"] = appErr.Cause.Error()
			}
		} else if len(appErr.Context) > 0 {
			body["details"] = appErr.Context
		}
		c.JSON(appErr.HTTPStatus, body)
	}
}

// RecoveryMiddleware turns panics into a 500 response.
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Errorw("panic recovered",
					"panic", rec,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"success": false,
					"error":   string(apperrors.ErrCodeInternal),
					"message": internalErrorMessage,
				})
			}
		}()

		c.Next()
	}
}
