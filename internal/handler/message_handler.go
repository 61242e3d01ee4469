package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tradepost/tradepost-messaging/internal/admission"
	"github.com/tradepost/tradepost-messaging/internal/apperr"
	"github.com/tradepost/tradepost-messaging/internal/middleware"
	"github.com/tradepost/tradepost-messaging/internal/models"
	"github.com/tradepost/tradepost-messaging/internal/qcache"
	"github.com/tradepost/tradepost-messaging/internal/repository"
	"github.com/tradepost/tradepost-messaging/internal/service"
	"github.com/tradepost/tradepost-messaging/internal/utils"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

type MessageHandler struct {
	messageService *service.MessageService
	admission      *admission.Controller
	cache          *qcache.Cache
}

func NewMessageHandler(messageService *service.MessageService, admissionCtrl *admission.Controller, cache *qcache.Cache) *MessageHandler {
	return &MessageHandler{
		messageService: messageService,
		admission:      admissionCtrl,
		cache:          cache,
	}
}

type createThreadRequest struct {
	ParticipantIDs []string `json:"participantIds" binding:"required"`
	FirstMessage   string   `json:"firstMessage"`
}

type sendMessageRequest struct {
	ThreadID string `json:"threadId" binding:"required"`
	Content  string `json:"content" binding:"required"`
}

type editMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

type threadPrefRequest struct {
	Pinned bool `json:"pinned"`
	Muted  bool `json:"muted"`
}

// POST /api/threads
func (h *MessageHandler) CreateThread(c *gin.Context) {
	claims, ok := middleware.SessionClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var req createThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation("invalid request body"))
		return
	}

	participants := make([]uuid.UUID, len(req.ParticipantIDs))
	for i, s := range req.ParticipantIDs {
		id, err := uuid.Parse(s)
		if err != nil {
			respondError(c, apperr.Validation("invalid participant id %q", s))
			return
		}
		participants[i] = id
	}

	thread, err := h.messageService.CreateThread(c.Request.Context(), senderFromClaims(claims), participants)
	if err != nil {
		respondError(c, err)
		return
	}

	// Optional opener: the thread exists even if the first send is rejected,
	// so the client can retry the message without re-creating the thread
	var first *models.Message
	if req.FirstMessage != "" {
		first, err = h.messageService.Send(c.Request.Context(), senderFromClaims(claims), thread.ID, req.FirstMessage)
		if err != nil {
			respondError(c, err)
			return
		}
	}

	c.JSON(http.StatusCreated, gin.H{
		"thread":       thread,
		"firstMessage": first,
	})
}

// GET /api/threads?limit
func (h *MessageHandler) ListThreads(c *gin.Context) {
	claims, ok := middleware.SessionClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	limit := defaultPageSize
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxPageSize {
			respondError(c, apperr.Validation("limit must be between 1 and %d", maxPageSize))
			return
		}
		limit = n
	}

	threads, err := h.messageService.Threads(claims.UserID, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"threads": threads})
}

// POST /api/messages
func (h *MessageHandler) Send(c *gin.Context) {
	claims, ok := middleware.SessionClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation("invalid request body"))
		return
	}

	threadID, err := uuid.Parse(req.ThreadID)
	if err != nil {
		respondError(c, apperr.Validation("invalid thread id"))
		return
	}

	msg, err := h.messageService.Send(c.Request.Context(), senderFromClaims(claims), threadID, req.Content)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, msg)
}

// PUT /api/messages/:id
func (h *MessageHandler) Edit(c *gin.Context) {
	claims, ok := middleware.SessionClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	messageID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apperr.Validation("invalid message id"))
		return
	}

	var req editMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation("invalid request body"))
		return
	}

	msg, err := h.messageService.Edit(c.Request.Context(), senderFromClaims(claims), messageID, req.Content)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, msg)
}

// GET /api/messages?threadId&dateFrom&dateTo&page&pageSize
//
// Authorization runs before the cache lookup so a cached page never leaks to
// a non-participant; the cache only saves the listing query itself.
func (h *MessageHandler) List(c *gin.Context) {
	claims, ok := middleware.SessionClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	filter, err := parseListFilter(c)
	if err != nil {
		respondError(c, err)
		return
	}

	thread, err := h.messageService.Thread(filter.ThreadID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !thread.HasParticipant(claims.UserID) {
		respondError(c, apperr.Authorization("user is not a participant of this thread"))
		return
	}

	key := qcache.Key(c.FullPath(), c.Request.URL.Query(), nil)
	userID := claims.UserID
	ctx := c.Request.Context()

	result, err := h.cache.Fetch(ctx, service.CacheNamespace, key, func() ([]byte, error) {
		page, err := h.messageService.List(ctx, userID, filter)
		if err != nil {
			return nil, err
		}
		return json.Marshal(page)
	})
	if err != nil {
		respondError(c, err)
		return
	}

	if result.Hit {
		c.Header("X-Cache", "HIT")
		c.Header("X-Cache-Age", strconv.Itoa(int(result.Age.Seconds())))
	} else {
		c.Header("X-Cache", "MISS")
	}

	c.Data(http.StatusOK, "application/json", result.Payload)
}

// GET /api/limits
func (h *MessageHandler) Limits(c *gin.Context) {
	claims, ok := middleware.SessionClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	messages, threads, err := h.admission.Usage(c.Request.Context(), claims.UserID, claims.Tier)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"messagesRemaining": messages.Remaining,
		"threadsRemaining":  threads.Remaining,
		"resetAt":           messages.ResetAt.Format(time.RFC3339),
	})
}

// PUT /api/threads/:id/prefs
func (h *MessageHandler) SetThreadPref(c *gin.Context) {
	claims, ok := middleware.SessionClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	threadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apperr.Validation("invalid thread id"))
		return
	}

	var req threadPrefRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation("invalid request body"))
		return
	}

	err = h.messageService.SetThreadPref(claims.UserID, threadID, models.ThreadPref{
		Pinned: req.Pinned,
		Muted:  req.Muted,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func senderFromClaims(claims *utils.Claims) service.Sender {
	return service.Sender{
		UserID:   claims.UserID,
		Username: claims.Username,
		Tier:     claims.Tier,
	}
}

func parseListFilter(c *gin.Context) (repository.ListFilter, error) {
	threadID, err := uuid.Parse(c.Query("threadId"))
	if err != nil {
		return repository.ListFilter{}, apperr.Validation("threadId is required and must be a valid uuid")
	}

	filter := repository.ListFilter{
		ThreadID: threadID,
		Page:     1,
		PageSize: defaultPageSize,
	}

	if s := c.Query("dateFrom"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return repository.ListFilter{}, apperr.Validation("dateFrom must be RFC3339")
		}
		filter.DateFrom = &t
	}
	if s := c.Query("dateTo"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return repository.ListFilter{}, apperr.Validation("dateTo must be RFC3339")
		}
		filter.DateTo = &t
	}

	if s := c.Query("page"); s != "" {
		page, err := strconv.Atoi(s)
		if err != nil || page < 1 {
			return repository.ListFilter{}, apperr.Validation("page must be a positive integer")
		}
		filter.Page = page
	}
	if s := c.Query("pageSize"); s != "" {
		size, err := strconv.Atoi(s)
		if err != nil || size < 1 || size > maxPageSize {
			return repository.ListFilter{}, apperr.Validation("pageSize must be between 1 and %d", maxPageSize)
		}
		filter.PageSize = size
	}

	return filter, nil
}
