package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/consult-api/internal/handler"
	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/pkg/auth"
	apperrors "github.com/jwalitptl/consult-api/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newEngine(jwt auth.JWTService) *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), Recovery(zerolog.Nop()), ErrorHandler(zerolog.Nop()))
	authed := r.Group("", NewAuthMiddleware(jwt).Authenticate())
	authed.GET("/me", func(c *gin.Context) {
		caller, _ := handler.Caller(c)
		handler.OK(c, caller)
	})
	authed.GET("/doctors-only", RequireRole(model.RoleDoctor), func(c *gin.Context) {
		handler.OK(c, nil)
	})
	r.GET("/boom", func(c *gin.Context) { panic("boom") })
	r.GET("/fail", func(c *gin.Context) {
		handler.Fail(c, apperrors.InvalidState("appointment is not active"))
	})
	r.GET("/internal", func(c *gin.Context) {
		handler.Fail(c, assert.AnError)
	})
	return r
}

func decode(t *testing.T, w *httptest.ResponseRecorder) handler.Response {
	t.Helper()
	var resp handler.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func do(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthenticate(t *testing.T) {
	jwt := auth.NewJWTService("test-secret", "test", time.Hour)
	r := newEngine(jwt)

	t.Run("missing header", func(t *testing.T) {
		w := do(r, "/me", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "UNAUTHORIZED", decode(t, w).Code)
	})

	t.Run("bad token", func(t *testing.T) {
		w := do(r, "/me", "not-a-token")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		caller := model.Caller{ID: uuid.New(), Role: model.RolePatient}
		token, err := jwt.Generate(caller)
		require.NoError(t, err)

		w := do(r, "/me", token)
		require.Equal(t, http.StatusOK, w.Code)
		resp := decode(t, w)
		assert.Equal(t, "success", resp.Status)
		data := resp.Data.(map[string]interface{})
		assert.Equal(t, caller.ID.String(), data["id"])
	})
}

func TestRequireRole(t *testing.T) {
	jwt := auth.NewJWTService("test-secret", "test", time.Hour)
	r := newEngine(jwt)

	patient, _ := jwt.Generate(model.Caller{ID: uuid.New(), Role: model.RolePatient})
	doctor, _ := jwt.Generate(model.Caller{ID: uuid.New(), Role: model.RoleDoctor})

	w := do(r, "/doctors-only", patient)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", decode(t, w).Code)

	w = do(r, "/doctors-only", doctor)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestErrorHandler(t *testing.T) {
	r := newEngine(auth.NewJWTService("s", "i", time.Hour))

	w := do(r, "/fail", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "INVALID_STATE", resp.Code)
	assert.Equal(t, "appointment is not active", resp.Message)

	w = do(r, "/internal", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	resp = decode(t, w)
	assert.Equal(t, "INTERNAL", resp.Code)
	assert.NotContains(t, resp.Message, assert.AnError.Error())
}

func TestRecovery(t *testing.T) {
	r := newEngine(auth.NewJWTService("s", "i", time.Hour))

	w := do(r, "/boom", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotEmpty(t, w.Header().Get(HeaderXRequestID))
}

func TestRequestIDPropagates(t *testing.T) {
	r := newEngine(auth.NewJWTService("s", "i", time.Hour))

	req := httptest.NewRequest(http.MethodGet, "/fail", nil)
	req.Header.Set(HeaderXRequestID, "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Header().Get(HeaderXRequestID))
}

func TestRateLimit(t *testing.T) {
	r := gin.New()
	r.Use(ErrorHandler(zerolog.Nop()))
	r.Use(NewRateLimiter(RateLimiterConfig{Rate: 1, Burst: 2}).RateLimit())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, do(r, "/", "").Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)

	// A different client has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.9:1234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS(DefaultCORSConfig("https://app.example.com")))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "86400", w.Header().Get("Access-Control-Max-Age"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
