package middleware

import (
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"syscall"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"promptstudio-backend-go/internal/core"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(handlers...)
	return r
}

func TestOriginPolicy(t *testing.T) {
	p := NewOriginPolicy([]string{"https://studio.example.com/", " http://localhost:3000 "})

	assert.True(t, p.Allowed(""))
	assert.True(t, p.Allowed("https://studio.example.com"))
	assert.True(t, p.Allowed("http://localhost:3000"))
	assert.True(t, p.Allowed("https://preview-123.vercel.app"))
	assert.False(t, p.Allowed("https://evil.example.com"))
	assert.False(t, p.Allowed("https://vercel.app.evil.com"))
}

func TestCORSMiddleware(t *testing.T) {
	r := newEngine(CORSMiddleware(NewOriginPolicy([]string{"https://studio.example.com"})))
	r.GET("/api/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })

	t.Run("allowed origin", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.Header.Set("Origin", "https://studio.example.com")
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "https://studio.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("no origin", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("blocked origin", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), `"error":"cors_blocked"`)
	})

	t.Run("preflight", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodOptions, "/api/health", nil)
		req.Header.Set("Origin", "https://studio.example.com")
		req.Header.Set("Access-Control-Request-Method", "POST")
		req.Header.Set("Access-Control-Request-Headers", "X-Gle-Account-Id")
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-Gle-Account-Id")
	})
}

func TestReturnBase(t *testing.T) {
	p := NewOriginPolicy([]string{"https://studio.example.com"})
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)

	assert.Equal(t, "https://fallback.example.com", p.ReturnBase(c, "https://fallback.example.com/"))

	c.Request.Header.Set("Origin", "https://studio.example.com")
	assert.Equal(t, "https://studio.example.com", p.ReturnBase(c, "https://fallback.example.com"))

	c.Request.Header.Set("Origin", "https://evil.example.com")
	assert.Equal(t, "https://fallback.example.com", p.ReturnBase(c, "https://fallback.example.com"))
}

func TestIdentityMiddleware(t *testing.T) {
	var got [3]string
	r := newEngine(IdentityMiddleware())
	r.GET("/", func(c *gin.Context) {
		got = [3]string{AccountID(c), UserID(c), APIKey(c)}
	})

	t.Run("canonical headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderAccountID, " acc_1 ")
		req.Header.Set(HeaderUserID, "user_1")
		req.Header.Set(HeaderAPIKey, "sk-test")
		r.ServeHTTP(httptest.NewRecorder(), req)

		assert.Equal(t, [3]string{"acc_1", "user_1", "sk-test"}, got)
	})

	t.Run("legacy headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Account-Id", "acc_2")
		req.Header.Set("X-Gle-User", "user_2")
		req.Header.Set("X-Openai-Key", "sk-legacy")
		r.ServeHTTP(httptest.NewRecorder(), req)

		assert.Equal(t, [3]string{"acc_2", "user_2", "sk-legacy"}, got)
	})

	t.Run("account derived from user", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderUserID, "user_3")
		r.ServeHTTP(httptest.NewRecorder(), req)

		assert.Equal(t, core.DeriveAccountID("user_3"), got[0])
		assert.Equal(t, "user_3", got[1])
	})

	t.Run("anonymous", func(t *testing.T) {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, [3]string{"", "", ""}, got)
	})
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	r := newEngine(RequestIDMiddleware())
	r.GET("/", func(c *gin.Context) { seen = RequestID(c) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get(HeaderRequestID))

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "req-42")
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-42", seen)
	assert.Equal(t, "req-42", w.Header().Get(HeaderRequestID))
}

func TestRecoveryMiddleware(t *testing.T) {
	obs, logs := observer.New(zap.ErrorLevel)
	r := newEngine(RecoveryMiddleware(zap.New(obs)))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"error":"internal_error"`)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "Panic recovered", logs.All()[0].Message)
}

func TestRecoveryMiddlewareClientGone(t *testing.T) {
	obs, logs := observer.New(zap.WarnLevel)
	r := newEngine(RecoveryMiddleware(zap.New(obs)))
	r.GET("/stream", func(c *gin.Context) {
		panic(&net.OpError{Op: "write", Net: "tcp", Err: os.NewSyscallError("write", syscall.EPIPE)})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stream", nil))

	assert.Empty(t, w.Body.String())
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "Client connection lost", logs.All()[0].Message)
	assert.Equal(t, zap.WarnLevel, logs.All()[0].Level)
}

func TestRequestLogger(t *testing.T) {
	obs, logs := observer.New(zap.InfoLevel)
	r := newEngine(RequestIDMiddleware(), IdentityMiddleware(), RequestLogger(zap.New(obs)))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/bad", func(c *gin.Context) { c.Status(http.StatusBadRequest) })

	req := httptest.NewRequest(http.MethodGet, "/ok?session_id=cs_secret", nil)
	req.Header.Set(HeaderAccountID, "acc_1")
	r.ServeHTTP(httptest.NewRecorder(), req)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/bad", nil))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zap.InfoLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/ok", fields["path"])
	assert.Equal(t, "acc_1", fields["account_id"])
	assert.NotContains(t, fields, "query")
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
}

func TestMiddlewareRequiresLogger(t *testing.T) {
	assert.Panics(t, func() { RequestLogger(nil) })
	assert.Panics(t, func() { RecoveryMiddleware(nil) })
}
