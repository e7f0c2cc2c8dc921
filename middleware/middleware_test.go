package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestManagerRunsInOrderAndStopsOnAbort(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewManager()
	var seen []string
	m.Add("a", func(c *gin.Context) { seen = append(seen, "a") })
	m.Add("b", func(c *gin.Context) { seen = append(seen, "b") })
	m.Add("a", func(c *gin.Context) { seen = append(seen, "a2") })
	assert.Equal(t, []string{"a", "b"}, m.Names())

	r := gin.New()
	r.Use(m.Use())
	r.GET("/x", func(c *gin.Context) { seen = append(seen, "h"); c.Status(http.StatusOK) })

	serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, []string{"a2", "b", "h"}, seen)

	seen = nil
	m.Add("stop", func(c *gin.Context) { c.AbortWithStatus(http.StatusForbidden) })
	w := serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, []string{"a2", "b"}, seen)

	m.Remove("stop")
	assert.Equal(t, []string{"a", "b"}, m.Names())
}

func TestOriginAllowList(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Origin([]string{"http://localhost:3000/"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := serve(r, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = serve(r, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w = serve(r, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRouteHelpersMountAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	deny := func(c *gin.Context) { c.AbortWithStatus(http.StatusUnauthorized) }
	ok := func(c *gin.Context) { c.Status(http.StatusOK) }

	GET(r, "/open", ok, RouteOpt{})
	GET(r, "/closed", ok, RouteOpt{IsAuth: true, Auth: deny})
	PATCH(r, "/closed", ok, RouteOpt{IsAuth: true, Auth: deny})

	assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/open", nil)).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, httptest.NewRequest(http.MethodGet, "/closed", nil)).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, httptest.NewRequest(http.MethodPatch, "/closed", nil)).Code)
}
