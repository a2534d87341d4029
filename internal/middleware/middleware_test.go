package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaqqye/qr_backend_v1/internal/models"
	"github.com/zaqqye/qr_backend_v1/internal/testutil"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func perform(r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	db := testutil.NewDB(t)
	user := testutil.CreateUser(t, db, "ann@example.com")
	admin := testutil.CreateUser(t, db, "boss@example.com")
	inactive := testutil.CreateUser(t, db, "gone@example.com")
	require.NoError(t, db.Model(&models.User{}).Where("id = ?", inactive.ID).Update("active", false).Error)

	r := gin.New()
	cfg := AuthConfig{JWTSecret: testSecret, IsAdmin: func(email string) bool { return email == "boss@example.com" }}
	r.GET("/me", AuthMiddleware(db, cfg), func(c *gin.Context) {
		u, _ := CurrentUser(c)
		c.JSON(http.StatusOK, gin.H{"email": u.Email, "is_admin": IsAdmin(c)})
	})
	r.GET("/admin", AuthMiddleware(db, cfg), RequireAdmin(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	sign := func(u models.User, ttl time.Duration) string {
		tok, _, err := SignAccessToken(testSecret, u, ttl)
		require.NoError(t, err)
		return tok
	}

	t.Run("missing header", func(t *testing.T) {
		w := perform(r, http.MethodGet, "/me", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.JSONEq(t, `{"error":"missing or invalid authorization header"}`, w.Body.String())
	})
	t.Run("garbage token", func(t *testing.T) {
		w := perform(r, http.MethodGet, "/me", "not-a-jwt")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.JSONEq(t, `{"error":"invalid token"}`, w.Body.String())
	})
	t.Run("wrong secret", func(t *testing.T) {
		tok, _, err := SignAccessToken("other", user, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, perform(r, http.MethodGet, "/me", tok).Code)
	})
	t.Run("expired", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, perform(r, http.MethodGet, "/me", sign(user, -time.Minute)).Code)
	})
	t.Run("inactive user", func(t *testing.T) {
		w := perform(r, http.MethodGet, "/me", sign(inactive, time.Minute))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.JSONEq(t, `{"error":"user not found or inactive"}`, w.Body.String())
	})
	t.Run("valid", func(t *testing.T) {
		w := perform(r, http.MethodGet, "/me", sign(user, time.Minute))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"email":"ann@example.com","is_admin":false}`, w.Body.String())
	})
	t.Run("admin flag", func(t *testing.T) {
		w := perform(r, http.MethodGet, "/me", sign(admin, time.Minute))
		assert.JSONEq(t, `{"email":"boss@example.com","is_admin":true}`, w.Body.String())
	})
	t.Run("require admin", func(t *testing.T) {
		assert.Equal(t, http.StatusForbidden, perform(r, http.MethodGet, "/admin", sign(user, time.Minute)).Code)
		assert.Equal(t, http.StatusNoContent, perform(r, http.MethodGet, "/admin", sign(admin, time.Minute)).Code)
	})
}

func TestParseAccessTokenClaims(t *testing.T) {
	u := models.User{ID: "u-1", Email: "a@b.c"}
	tok, exp, err := SignAccessToken(testSecret, u, time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := ParseAccessToken(testSecret, tok)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, "a@b.c", claims.Email)
	assert.NotEmpty(t, claims.ID)
}

func TestRateLimit(t *testing.T) {
	store, err := NewLimiterStore(nil, "test")
	require.NoError(t, err)
	mw, err := RateLimit("2-M", store)
	require.NoError(t, err)

	r := gin.New()
	r.GET("/", mw, func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/", "").Code)
	assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/", "").Code)
	w := perform(r, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"error":"too many requests, try again later"}`, w.Body.String())

	_, err = RateLimit("lots", store)
	assert.Error(t, err)

	off, err := RateLimit("", store)
	require.NoError(t, err)
	assert.NotNil(t, off)
}

func TestRequestIDAndSecureHeaders(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), Secure(SecureOptions(true)))
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString("request_id")) })

	w := perform(r, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
	assert.Equal(t, w.Header().Get(RequestIDHeader), w.Body.String())
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc", w.Header().Get(RequestIDHeader))
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS([]string{"https://app.example.com"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
