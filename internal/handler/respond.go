package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tradepost/tradepost-messaging/internal/apperr"
	"github.com/tradepost/tradepost-messaging/pkg/logger"
	"go.uber.org/zap"
)

// respondError translates service errors into the wire format: a
// machine-readable kind plus a human-readable message, with quota errors
// carrying their reset timestamp and upgrade hint.
func respondError(c *gin.Context, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		logger.Log.Error("unhandled error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "something went wrong",
		})
		return
	}

	body := gin.H{
		"error":   appErr.Kind,
		"message": appErr.Message,
	}
	if appErr.Kind == apperr.KindLimitExceeded {
		body["tier"] = appErr.Tier
		body["reset_at"] = appErr.ResetAt.Format(time.RFC3339)
		body["upgrade_hint"] = appErr.UpgradeHint
		c.Header("Retry-After", strconv.Itoa(int(time.Until(appErr.ResetAt).Seconds())))
	}

	c.JSON(appErr.HTTPStatus(), body)
}
