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

	"github.com/pantypostorganisation/pantypost-sub009/internal/config"
)

func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{
		JWTSecret:   "test-secret",
		JWTIssuer:   "wallet-test",
		AdminAPIKey: "operator-key",
	}
}

func signToken(t *testing.T, cfg config.AuthConfig, username, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.JWTIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(cfg.JWTSecret))
	require.NoError(t, err)
	return signed
}

func authRouter(cfg config.AuthConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/wallet/:userId", JWTAuth(cfg), SelfOrAdmin("userId"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user": c.Param("userId")})
	})
	r.GET("/admin", AdminAuth(cfg), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func get(r *gin.Engine, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuthRejectsMissingAndBadTokens(t *testing.T) {
	cfg := testAuthConfig()
	r := authRouter(cfg)

	assert.Equal(t, http.StatusUnauthorized, get(r, "/wallet/alice", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/wallet/alice", map[string]string{
		"Authorization": "Bearer not-a-token",
	}).Code)

	wrongSecret := signToken(t, config.AuthConfig{JWTSecret: "other", JWTIssuer: cfg.JWTIssuer}, "alice", "buyer")
	assert.Equal(t, http.StatusUnauthorized, get(r, "/wallet/alice", map[string]string{
		"Authorization": "Bearer " + wrongSecret,
	}).Code)

	wrongIssuer := signToken(t, config.AuthConfig{JWTSecret: cfg.JWTSecret, JWTIssuer: "someone-else"}, "alice", "buyer")
	assert.Equal(t, http.StatusUnauthorized, get(r, "/wallet/alice", map[string]string{
		"Authorization": "Bearer " + wrongIssuer,
	}).Code)
}

func TestSelfOrAdmin(t *testing.T) {
	cfg := testAuthConfig()
	r := authRouter(cfg)

	alice := signToken(t, cfg, "alice", "buyer")
	assert.Equal(t, http.StatusOK, get(r, "/wallet/alice", map[string]string{
		"Authorization": "Bearer " + alice,
	}).Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/wallet/bob", map[string]string{
		"Authorization": "Bearer " + alice,
	}).Code)

	admin := signToken(t, cfg, "root", "admin")
	assert.Equal(t, http.StatusOK, get(r, "/wallet/bob", map[string]string{
		"Authorization": "Bearer " + admin,
	}).Code)
}

func TestAdminAuth(t *testing.T) {
	cfg := testAuthConfig()
	r := authRouter(cfg)

	assert.Equal(t, http.StatusOK, get(r, "/admin", map[string]string{
		"X-Admin-API-Key": "operator-key",
	}).Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/admin", map[string]string{
		"X-Admin-API-Key": "wrong-key",
	}).Code)

	admin := signToken(t, cfg, "root", "admin")
	assert.Equal(t, http.StatusOK, get(r, "/admin", map[string]string{
		"Authorization": "Bearer " + admin,
	}).Code)

	buyer := signToken(t, cfg, "alice", "buyer")
	assert.Equal(t, http.StatusUnauthorized, get(r, "/admin", map[string]string{
		"Authorization": "Bearer " + buyer,
	}).Code)
}

func TestAdminAuthStopsNonAdminsBeforeTheHandler(t *testing.T) {
	cfg := testAuthConfig()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handled := 0
	r.GET("/admin", AdminAuth(cfg), func(c *gin.Context) {
		handled++
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	buyer := signToken(t, cfg, "alice", "buyer")
	w := get(r, "/admin", map[string]string{"Authorization": "Bearer " + buyer})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 0, handled, "the admin handler must never run for a non-admin token")

	admin := signToken(t, cfg, "root", "admin")
	assert.Equal(t, http.StatusOK, get(r, "/admin", map[string]string{
		"Authorization": "Bearer " + admin,
	}).Code)
	assert.Equal(t, 1, handled)
}
