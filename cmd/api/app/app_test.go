package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := NewApp(Config{Env: "test"}, nil, nil, nil)
	a.R.GET("/ping", func(c *gin.Context) {
		id, _ := c.Get("request_id")
		if id == "" {
			t.Errorf("missing request_id in context")
		}
		c.JSON(200, gin.H{"ok": true})
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	a.R.ServeHTTP(rr, req)
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header")
	}
}

func TestRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := NewApp(Config{Env: "test", RateLimitRPS: 1, RateLimitBurst: 1}, nil, nil, nil)
	a.R.GET("/", func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) })

	rr := httptest.NewRecorder()
	a.R.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	a.R.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
}

func TestRateLimitDisabledByDefault(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := NewApp(Config{Env: "test"}, nil, nil, nil)
	a.R.GET("/", func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) })

	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		a.R.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rr.Code)
		}
	}
}

func TestBindErrorEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := NewApp(Config{Env: "test"}, nil, nil, nil)
	a.R.POST("/strict", func(c *gin.Context) {
		var in struct {
			Name string `json:"name" binding:"required"`
		}
		if err := c.ShouldBindJSON(&in); err != nil {
			BindError(c, err)
			return
		}
		c.JSON(200, gin.H{"ok": true})
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/strict", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	a.R.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var env Envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if env.Error == nil || env.Error.Code != "validation" || env.Error.FieldErrors["name"] != "required" {
		t.Fatalf("unexpected envelope: %s", rr.Body.String())
	}
}

func TestAbortErrorEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := NewApp(Config{Env: "test"}, nil, nil, nil)
	a.R.GET("/denied", func(c *gin.Context) {
		AbortError(c, http.StatusConflict, "conflict", "already exists", nil)
	})

	rr := httptest.NewRecorder()
	a.R.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/denied", nil))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	var env Envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if env.Error == nil || env.Error.Code != "conflict" || env.Error.Message != "already exists" {
		t.Fatalf("unexpected envelope: %s", rr.Body.String())
	}
}

func TestNilDBFallsBackToMemoryStore(t *testing.T) {
	a := NewApp(Config{Env: "test"}, nil, nil, nil)
	if a.Store == nil {
		t.Fatal("expected in-memory store with nil db")
	}
}
