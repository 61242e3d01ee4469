package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func csrfRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CSRFMiddleware())
	router.GET("/resource", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.POST("/resource", func(c *gin.Context) { c.Status(http.StatusOK) })
	return router
}

func TestCSRF_GetPassesWithoutToken(t *testing.T) {
	router := csrfRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/resource", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCSRF_PostRequiresMatchingPair(t *testing.T) {
	router := csrfRouter()

	// No cookie, no header
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/resource", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Cookie without the echoing header
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/resource", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookie, Value: "abc123"})
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Mismatched pair
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/resource", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookie, Value: "abc123"})
	req.Header.Set(csrfHeader, "different")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Matching pair
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/resource", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookie, Value: "abc123"})
	req.Header.Set(csrfHeader, "abc123")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
