package server

import (
	stderrors "errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/devplane/devplane/internal/common/errors"
	"github.com/devplane/devplane/internal/common/logger"
)

// respondErr is the single place service errors become HTTP responses.
// The status code comes from the error kind; the body carries the kind,
// the message, safe details, and the request's correlation id.
func respondErr(c *gin.Context, log *logger.Logger, err error) {
	status := errors.HTTPStatus(err)
	body := gin.H{
		"kind":    string(errors.KindOf(err)),
		"message": err.Error(),
	}
	var e *errors.Error
	if stderrors.As(err, &e) {
		body["message"] = e.Message
		if len(e.Details) > 0 {
			body["details"] = e.Details
		}
	}
	if cid, ok := c.Get(correlationKey); ok {
		body["correlation_id"] = cid
	}
	if status >= 500 {
		log.Error("request failed",
			zap.Int("status", status),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{"error": body})
}
