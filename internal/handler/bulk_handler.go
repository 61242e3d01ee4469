package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tradepost/tradepost-messaging/internal/apperr"
	"github.com/tradepost/tradepost-messaging/internal/middleware"
	"github.com/tradepost/tradepost-messaging/internal/service"
)

type BulkHandler struct {
	bulkService *service.BulkService
}

func NewBulkHandler(bulkService *service.BulkService) *BulkHandler {
	return &BulkHandler{bulkService: bulkService}
}

type bulkDeleteRequest struct {
	ThreadID   string   `json:"threadId" binding:"required"`
	MessageIDs []string `json:"messageIds" binding:"required"`
}

type bulkMarkReadRequest struct {
	ThreadID   string   `json:"threadId" binding:"required"`
	MessageIDs []string `json:"messageIds" binding:"required"`
	Read       *bool    `json:"read" binding:"required"`
}

type undoRequest struct {
	UndoToken string `json:"undoToken" binding:"required"`
}

// POST /api/bulk-delete
func (h *BulkHandler) BulkDelete(c *gin.Context) {
	claims, ok := middleware.SessionClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var req bulkDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation("invalid request body"))
		return
	}

	threadID, messageIDs, err := parseBulkIDs(req.ThreadID, req.MessageIDs)
	if err != nil {
		respondError(c, err)
		return
	}

	result, err := h.bulkService.BulkDelete(c.Request.Context(), threadID, messageIDs, claims.UserID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"operationId":   result.OperationID,
		"undoToken":     result.UndoToken,
		"affectedCount": result.AffectedCount,
	})
}

// POST /api/bulk-mark-read
func (h *BulkHandler) BulkMarkRead(c *gin.Context) {
	claims, ok := middleware.SessionClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var req bulkMarkReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation("invalid request body"))
		return
	}

	threadID, messageIDs, err := parseBulkIDs(req.ThreadID, req.MessageIDs)
	if err != nil {
		respondError(c, err)
		return
	}

	result, err := h.bulkService.BulkMarkRead(c.Request.Context(), threadID, messageIDs, claims.UserID, *req.Read)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"operationId":   result.OperationID,
		"undoToken":     result.UndoToken,
		"affectedCount": result.AffectedCount,
	})
}

// POST /api/operations/:id/undo
func (h *BulkHandler) Undo(c *gin.Context) {
	if _, ok := middleware.SessionClaims(c); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	operationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apperr.Validation("invalid operation id"))
		return
	}

	var req undoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation("invalid request body"))
		return
	}

	restored, err := h.bulkService.Undo(c.Request.Context(), operationID, req.UndoToken)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"restoredCount": restored})
}

// parseBulkIDs validates structural id validity before anything touches
// storage. Size bounds are re-checked in the service; rejecting here keeps
// oversized payloads away from the transaction entirely.
func parseBulkIDs(threadIDStr string, messageIDStrs []string) (uuid.UUID, []uuid.UUID, error) {
	threadID, err := uuid.Parse(threadIDStr)
	if err != nil {
		return uuid.Nil, nil, apperr.Validation("invalid thread id")
	}

	if len(messageIDStrs) == 0 {
		return uuid.Nil, nil, apperr.Validation("messageIds must not be empty")
	}
	if len(messageIDStrs) > service.MaxBulkSize {
		return uuid.Nil, nil, apperr.Validation("messageIds exceeds the maximum of %d entries", service.MaxBulkSize)
	}

	messageIDs := make([]uuid.UUID, len(messageIDStrs))
	for i, s := range messageIDStrs {
		id, err := uuid.Parse(s)
		if err != nil {
			return uuid.Nil, nil, apperr.Validation("invalid message id %q", s)
		}
		messageIDs[i] = id
	}

	return threadID, messageIDs, nil
}
