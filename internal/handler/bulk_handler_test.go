package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradepost/tradepost-messaging/internal/admission"
	"github.com/tradepost/tradepost-messaging/internal/middleware"
	"github.com/tradepost/tradepost-messaging/internal/models"
	"github.com/tradepost/tradepost-messaging/internal/moderation"
	"github.com/tradepost/tradepost-messaging/internal/notify"
	"github.com/tradepost/tradepost-messaging/internal/qcache"
	"github.com/tradepost/tradepost-messaging/internal/realtime"
	"github.com/tradepost/tradepost-messaging/internal/repository"
	"github.com/tradepost/tradepost-messaging/internal/service"
	"github.com/tradepost/tradepost-messaging/internal/testutil"
	"github.com/tradepost/tradepost-messaging/internal/utils"
	"github.com/tradepost/tradepost-messaging/pkg/logger"
	"go.uber.org/zap"
)

const testJWTSecret = "handler-test-secret"

func TestMain(m *testing.M) {
	logger.Log = zap.NewNop()
	gin.SetMode(gin.TestMode)
	m.Run()
}

type nopPublisher struct{}

func (nopPublisher) Publish(realtime.Event) {}

// testAPI assembles the protected route group over in-memory storage, the way
// the server wires it.
type testAPI struct {
	router *gin.Engine
	db     *testutil.TestDatabase
	redis  *testutil.TestRedis
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	db := testutil.SetupTestDatabase(t)
	t.Cleanup(func() { db.Teardown(t) })
	rd := testutil.SetupTestRedis(t)
	t.Cleanup(func() { rd.Teardown(t) })

	threadRepo := repository.NewThreadRepository(db.DB)
	messageRepo := repository.NewMessageRepository(db.DB)
	opRepo := repository.NewOperationRepository(db.DB)

	admissionCtrl := admission.NewController(rd.Client)
	cache := qcache.New(rd.Client, qcache.TTLTiers{
		Short:  30 * time.Second,
		Medium: 2 * time.Minute,
		Long:   10 * time.Minute,
	})

	messageService := service.NewMessageService(
		threadRepo, messageRepo, admissionCtrl,
		moderation.NewKeywordChecker(nil),
		notify.NewLogSink(),
		nopPublisher{}, cache,
	)
	bulkService := service.NewBulkService(db.DB, threadRepo, messageRepo, opRepo, nopPublisher{}, cache, 30*time.Second)

	messageHandler := NewMessageHandler(messageService, admissionCtrl, cache)
	bulkHandler := NewBulkHandler(bulkService)
	// Only the policy route is exercised here; the hub stays unwired
	wsHandler := NewWebSocketHandler(nil, messageService, realtime.DefaultPolicy())

	router := gin.New()
	api := router.Group("/api")
	api.Use(middleware.AuthMiddleware(testJWTSecret))
	{
		api.POST("/threads", messageHandler.CreateThread)
		api.GET("/threads", messageHandler.ListThreads)
		api.GET("/realtime/policy", wsHandler.Policy)
		api.POST("/messages", messageHandler.Send)
		api.PUT("/messages/:id", messageHandler.Edit)
		api.GET("/messages", messageHandler.List)
		api.GET("/limits", messageHandler.Limits)
		api.POST("/bulk-delete", bulkHandler.BulkDelete)
		api.POST("/bulk-mark-read", bulkHandler.BulkMarkRead)
		api.POST("/operations/:id/undo", bulkHandler.Undo)
	}

	return &testAPI{router: router, db: db, redis: rd}
}

func (a *testAPI) createUser(t *testing.T, username string, tier models.Tier) (*models.User, string) {
	t.Helper()

	user, err := testutil.CreateTestUser(username, username+"@example.com", "Password1", models.RoleCustomer, tier)
	require.NoError(t, err)
	require.NoError(t, a.db.DB.Create(user).Error)

	token, err := utils.GenerateToken(user, testJWTSecret, time.Hour)
	require.NoError(t, err)
	return user, token
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func (a *testAPI) seedConversation(t *testing.T, users ...*models.User) (*models.Thread, []*models.Message) {
	t.Helper()

	ids := make([]uuid.UUID, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	thread := testutil.CreateTestThread(ids...)
	require.NoError(t, a.db.DB.Create(thread).Error)

	messages := make([]*models.Message, 3)
	for i := range messages {
		msg := testutil.CreateTestMessage(thread.ID, users[0].ID, ids[1:], fmt.Sprintf("message %d", i))
		require.NoError(t, a.db.DB.Create(msg).Error)
		messages[i] = msg
	}
	return thread, messages
}

func TestAPI_RequiresAuthentication(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodPost, "/api/bulk-delete", "", gin.H{})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = api.do(t, http.MethodGet, "/api/messages?threadId="+uuid.NewString(), "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPI_BulkDeleteUndoRoundTrip(t *testing.T) {
	api := newTestAPI(t)
	buyer, token := api.createUser(t, "buyer", models.TierFree)
	seller, _ := api.createUser(t, "seller", models.TierStarter)
	thread, messages := api.seedConversation(t, buyer, seller)

	w := api.do(t, http.MethodPost, "/api/bulk-delete", token, gin.H{
		"threadId":   thread.ID.String(),
		"messageIds": []string{messages[0].ID.String(), messages[1].ID.String()},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeBody(t, w)
	assert.Equal(t, float64(2), body["affectedCount"])
	undoToken, _ := body["undoToken"].(string)
	operationID, _ := body["operationId"].(string)
	require.NotEmpty(t, undoToken)
	require.NotEmpty(t, operationID)

	// The listing no longer shows the deleted messages
	w = api.do(t, http.MethodGet, "/api/messages?threadId="+thread.ID.String(), token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decodeBody(t, w)["total"])

	w = api.do(t, http.MethodPost, "/api/operations/"+operationID+"/undo", token, gin.H{
		"undoToken": undoToken,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(2), decodeBody(t, w)["restoredCount"])

	// Replaying the token fails and the restore stands
	w = api.do(t, http.MethodPost, "/api/operations/"+operationID+"/undo", token, gin.H{
		"undoToken": undoToken,
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "undo_expired_or_consumed", decodeBody(t, w)["error"])

	w = api.do(t, http.MethodGet, "/api/messages?threadId="+thread.ID.String(), token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), decodeBody(t, w)["total"])
}

func TestAPI_BulkMarkRead(t *testing.T) {
	api := newTestAPI(t)
	buyer, _ := api.createUser(t, "buyer", models.TierFree)
	seller, token := api.createUser(t, "seller", models.TierStarter)
	thread, messages := api.seedConversation(t, buyer, seller)

	w := api.do(t, http.MethodPost, "/api/bulk-mark-read", token, gin.H{
		"threadId":   thread.ID.String(),
		"messageIds": []string{messages[0].ID.String()},
		"read":       true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var stored models.Message
	require.NoError(t, api.db.DB.First(&stored, "id = ?", messages[0].ID).Error)
	assert.True(t, stored.ReadBy.HasReader(seller.ID))

	// Omitting the read flag is a binding error, not a silent default
	w = api.do(t, http.MethodPost, "/api/bulk-mark-read", token, gin.H{
		"threadId":   thread.ID.String(),
		"messageIds": []string{messages[0].ID.String()},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_BulkDeleteValidation(t *testing.T) {
	api := newTestAPI(t)
	buyer, token := api.createUser(t, "buyer", models.TierFree)
	seller, _ := api.createUser(t, "seller", models.TierStarter)
	thread, _ := api.seedConversation(t, buyer, seller)

	// Malformed message id
	w := api.do(t, http.MethodPost, "/api/bulk-delete", token, gin.H{
		"threadId":   thread.ID.String(),
		"messageIds": []string{"not-a-uuid"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Oversized batch rejected before any storage work
	over := make([]string, service.MaxBulkSize+1)
	for i := range over {
		over[i] = uuid.NewString()
	}
	w = api.do(t, http.MethodPost, "/api/bulk-delete", token, gin.H{
		"threadId":   thread.ID.String(),
		"messageIds": over,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Non-participant gets a 403
	_, outsiderToken := api.createUser(t, "lurker", models.TierFree)
	w = api.do(t, http.MethodPost, "/api/bulk-delete", outsiderToken, gin.H{
		"threadId":   thread.ID.String(),
		"messageIds": []string{uuid.NewString()},
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "authorization_error", decodeBody(t, w)["error"])
}

func TestAPI_QuotaExceededShape(t *testing.T) {
	api := newTestAPI(t)
	buyer, token := api.createUser(t, "buyer", models.TierFree)
	seller, _ := api.createUser(t, "seller", models.TierStarter)
	thread, _ := api.seedConversation(t, buyer, seller)

	for i := 0; i < 10; i++ {
		w := api.do(t, http.MethodPost, "/api/messages", token, gin.H{
			"threadId": thread.ID.String(),
			"content":  "ping",
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	w := api.do(t, http.MethodPost, "/api/messages", token, gin.H{
		"threadId": thread.ID.String(),
		"content":  "one too many",
	})
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	body := decodeBody(t, w)
	assert.Equal(t, "limit_exceeded", body["error"])
	assert.Equal(t, "free", body["tier"])
	assert.NotEmpty(t, body["reset_at"])
	assert.NotEmpty(t, body["upgrade_hint"])
}

func TestAPI_LimitsEndpoint(t *testing.T) {
	api := newTestAPI(t)
	buyer, token := api.createUser(t, "buyer", models.TierFree)
	seller, _ := api.createUser(t, "seller", models.TierStarter)
	thread, _ := api.seedConversation(t, buyer, seller)

	w := api.do(t, http.MethodPost, "/api/messages", token, gin.H{
		"threadId": thread.ID.String(),
		"content":  "hello",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = api.do(t, http.MethodGet, "/api/limits", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, float64(9), body["messagesRemaining"])
	assert.Equal(t, float64(3), body["threadsRemaining"])
	assert.NotEmpty(t, body["resetAt"])
}

func TestAPI_LimitsEndpointAtQuota(t *testing.T) {
	api := newTestAPI(t)
	buyer, token := api.createUser(t, "buyer", models.TierFree)
	seller, _ := api.createUser(t, "seller", models.TierStarter)
	thread, _ := api.seedConversation(t, buyer, seller)

	for i := 0; i < 10; i++ {
		w := api.do(t, http.MethodPost, "/api/messages", token, gin.H{
			"threadId": thread.ID.String(),
			"content":  "ping",
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	// Sends are now rejected, but the limits report still answers with 200
	w := api.do(t, http.MethodPost, "/api/messages", token, gin.H{
		"threadId": thread.ID.String(),
		"content":  "one too many",
	})
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	w = api.do(t, http.MethodGet, "/api/limits", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeBody(t, w)
	assert.Equal(t, float64(0), body["messagesRemaining"])
	assert.Equal(t, float64(3), body["threadsRemaining"])
	assert.NotEmpty(t, body["resetAt"])
}

func TestAPI_ListThreads(t *testing.T) {
	api := newTestAPI(t)
	buyer, buyerToken := api.createUser(t, "buyer", models.TierFree)
	seller, _ := api.createUser(t, "seller", models.TierStarter)
	lurker, lurkerToken := api.createUser(t, "lurker", models.TierFree)

	mine, _ := api.seedConversation(t, buyer, seller)
	api.seedConversation(t, seller, lurker)

	w := api.do(t, http.MethodGet, "/api/threads", buyerToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	threads, ok := decodeBody(t, w)["threads"].([]any)
	require.True(t, ok)
	require.Len(t, threads, 1)
	first, _ := threads[0].(map[string]any)
	assert.Equal(t, mine.ID.String(), first["id"])

	// The lurker only sees their own conversation
	w = api.do(t, http.MethodGet, "/api/threads", lurkerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody(t, w)["threads"], 1)

	w = api.do(t, http.MethodGet, "/api/threads?limit=0", buyerToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_RealtimePolicy(t *testing.T) {
	api := newTestAPI(t)
	_, token := api.createUser(t, "buyer", models.TierFree)

	w := api.do(t, http.MethodGet, "/api/realtime/policy", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, float64(250), body["backoffBaseMs"])
	assert.Equal(t, float64(2), body["backoffMultiplier"])
	assert.Equal(t, float64(5000), body["backoffMaxMs"])
	assert.Equal(t, float64(30), body["maxRetries"])
	assert.Equal(t, float64(10000), body["pollIntervalMs"])
}

func TestAPI_ListCacheHeaders(t *testing.T) {
	api := newTestAPI(t)
	buyer, token := api.createUser(t, "buyer", models.TierFree)
	seller, _ := api.createUser(t, "seller", models.TierStarter)
	thread, _ := api.seedConversation(t, buyer, seller)

	path := "/api/messages?threadId=" + thread.ID.String()

	w := api.do(t, http.MethodGet, path, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))

	w = api.do(t, http.MethodGet, path, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))
	assert.NotEmpty(t, w.Header().Get("X-Cache-Age"))

	// A send invalidates the namespace; the next read refills
	w = api.do(t, http.MethodPost, "/api/messages", token, gin.H{
		"threadId": thread.ID.String(),
		"content":  "new message",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = api.do(t, http.MethodGet, path, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))
	assert.Equal(t, float64(4), decodeBody(t, w)["total"])
}

func TestAPI_CreateThreadWithFirstMessage(t *testing.T) {
	api := newTestAPI(t)
	_, token := api.createUser(t, "buyer", models.TierFree)
	seller, _ := api.createUser(t, "seller", models.TierStarter)

	w := api.do(t, http.MethodPost, "/api/threads", token, gin.H{
		"participantIds": []string{seller.ID.String()},
		"firstMessage":   "is this listing still available?",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	body := decodeBody(t, w)
	thread, ok := body["thread"].(map[string]any)
	require.True(t, ok)
	threadID, _ := thread["id"].(string)
	require.NotEmpty(t, threadID)
	require.NotNil(t, body["firstMessage"])

	w = api.do(t, http.MethodGet, "/api/messages?threadId="+threadID, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decodeBody(t, w)["total"])
}

func TestAPI_EditMessage(t *testing.T) {
	api := newTestAPI(t)
	buyer, buyerToken := api.createUser(t, "buyer", models.TierFree)
	seller, sellerToken := api.createUser(t, "seller", models.TierStarter)
	_, messages := api.seedConversation(t, buyer, seller)

	// seedConversation messages are authored by the first user
	w := api.do(t, http.MethodPut, "/api/messages/"+messages[0].ID.String(), buyerToken, gin.H{
		"content": "corrected wording",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "corrected wording", decodeBody(t, w)["content"])

	// Someone else's message is off limits
	w = api.do(t, http.MethodPut, "/api/messages/"+messages[1].ID.String(), sellerToken, gin.H{
		"content": "hijacked",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAPI_ListFilterValidation(t *testing.T) {
	api := newTestAPI(t)
	_, token := api.createUser(t, "buyer", models.TierFree)

	w := api.do(t, http.MethodGet, "/api/messages", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodGet, "/api/messages?threadId="+uuid.NewString()+"&dateFrom=yesterday", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodGet, "/api/messages?threadId="+uuid.NewString()+"&page=0", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
