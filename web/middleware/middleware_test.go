package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func okRouter(mw gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.GET("/", mw, func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func get(r http.Handler, remote, auth string) int {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remote
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRateLimiterPerIP(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)
	r := okRouter(rl.Middleware())

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, get(r, "10.0.0.1:1234", ""))
	}
	assert.Equal(t, http.StatusTooManyRequests, get(r, "10.0.0.1:1234", ""))

	// another client has its own budget
	assert.Equal(t, http.StatusOK, get(r, "10.0.0.2:1234", ""))
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	now := time.Now()
	rl.get("10.0.0.1", now.Add(-2*time.Minute))
	rl.get("10.0.0.2", now)

	rl.cleanup(now)
	assert.Len(t, rl.visitors, 1)
	_, ok := rl.visitors["10.0.0.2"]
	assert.True(t, ok)
}

func TestAdminAuth(t *testing.T) {
	const secret = "s3cret"
	r := okRouter(AdminAuth(secret))

	valid, err := NewAdminToken(secret, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, get(r, "10.0.0.1:1", "Bearer "+valid))

	expired, err := NewAdminToken(secret, -time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, get(r, "10.0.0.1:1", "Bearer "+expired))

	forged, err := NewAdminToken("other", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, get(r, "10.0.0.1:1", "Bearer "+forged))

	user := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "someone",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	userToken, err := user.SignedString([]byte(secret))
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, get(r, "10.0.0.1:1", "Bearer "+userToken))

	assert.Equal(t, http.StatusUnauthorized, get(r, "10.0.0.1:1", ""))
	assert.Equal(t, http.StatusUnauthorized, get(r, "10.0.0.1:1", valid))
}

func TestAdminAuthDisabledWithoutSecret(t *testing.T) {
	r := okRouter(AdminAuth(""))
	token, err := NewAdminToken("anything", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, get(r, "10.0.0.1:1", "Bearer "+token))

	_, err = NewAdminToken("", time.Hour)
	assert.Error(t, err)
}
