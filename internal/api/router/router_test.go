package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuongbtq/analysis-tracker/internal/api/handler"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDeps(health func(context.Context) error) *handler.Dependencies {
	return &handler.Dependencies{
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		HealthCheck: health,
	}
}

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name     string
		health   func(context.Context) error
		wantCode int
		wantBody string
	}{
		{name: "no checker", wantCode: http.StatusOK, wantBody: "healthy"},
		{name: "database up", health: func(context.Context) error { return nil }, wantCode: http.StatusOK, wantBody: "healthy"},
		{name: "database down", health: func(context.Context) error { return errors.New("down") }, wantCode: http.StatusServiceUnavailable, wantBody: "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := SetupRouter(newDeps(tt.health))

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Contains(t, w.Body.String(), `"status":"`+tt.wantBody+`"`)
		})
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := SetupRouter(newDeps(nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := SetupRouter(newDeps(nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/v1/trackings", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestLoggerMiddleware_Levels(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name      string
		health    func(context.Context) error
		wantLevel string
	}{
		{name: "healthy check", wantLevel: "DEBUG"},
		{name: "unhealthy check", health: func(context.Context) error { return errors.New("down") }, wantLevel: "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			deps := newDeps(tt.health)
			deps.Logger = slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
			r := SetupRouter(deps)

			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			req.Header.Set("X-Request-ID", "req-lvl")
			r.ServeHTTP(httptest.NewRecorder(), req)

			var line map[string]any
			for _, raw := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
				var entry map[string]any
				require.NoError(t, json.Unmarshal(raw, &entry))
				if entry["msg"] == "HTTP request" {
					line = entry
				}
			}
			require.NotNil(t, line)
			assert.Equal(t, tt.wantLevel, line["level"])
			assert.Equal(t, "req-lvl", line["request_id"])
			assert.Equal(t, "/health", line["route"])
		})
	}
}
