package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	jwtx "PChatGate/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func newRouter(opts *Options) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", Middleware(opts), func(c *gin.Context) {
		c.String(http.StatusOK, UserID(c))
	})
	return r
}

func TestMiddlewareSetsUserID(t *testing.T) {
	jwt := jwtx.DefaultOptions([]byte("k"))
	uid := primitive.NewObjectID().Hex()
	tok, _, err := jwtx.Generate(jwt, uid)
	require.NoError(t, err)

	r := newRouter(DefaultOptions(jwt))
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, uid, w.Body.String())
}

func TestMiddlewareRejects(t *testing.T) {
	jwt := jwtx.DefaultOptions([]byte("k"))
	badID, _, err := jwtx.Generate(jwt, "not-an-object-id")
	require.NoError(t, err)
	otherKey, _, err := jwtx.Generate(jwtx.DefaultOptions([]byte("other")), primitive.NewObjectID().Hex())
	require.NoError(t, err)

	r := newRouter(DefaultOptions(jwt))
	for name, header := range map[string]string{
		"missing":    "",
		"garbage":    "Bearer nope",
		"wrong key":  "Bearer " + otherKey,
		"bad userId": "Bearer " + badID,
	} {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code, name)
		assert.Contains(t, w.Body.String(), `"code":401`, name)
	}
}
