package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/guttosm/spimexpulse/internal/logger"
)

func TestRequestIDFrom(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if s := RequestIDFrom(c); s != "" {
		t.Fatalf("unset -> %q, want empty", s)
	}
	c.Set(RequestIDKey, "abc")
	if s := RequestIDFrom(c); s != "abc" {
		t.Fatalf("set -> %q, want 'abc'", s)
	}
	c.Set(RequestIDKey, 123)
	if s := RequestIDFrom(c); s != "" {
		t.Fatalf("non-string -> %q, want empty", s)
	}
}

func TestRequestLogger_Basic(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	logger.Init()
	router.Use(RequestID())
	router.Use(RequestLogger())
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", w.Code)
	}
	if rid := w.Header().Get("X-Request-ID"); rid == "" {
		t.Fatalf("missing X-Request-ID header")
	}
}

func TestRequestLogger_ClientIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	logger.Init()
	router.Use(RequestID(), RequestLogger())
	router.POST("/echo", func(c *gin.Context) {
		b, _ := io.ReadAll(c.Request.Body)
		c.String(http.StatusOK, string(b))
	})

	body := bytes.NewBufferString("hello")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", body)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", w.Code)
	}
}

func TestRequestLogger_UnmatchedRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestLogger())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope?x=1", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404", w.Code)
	}
}
