package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pma2020/pma-api/internal/auth"
)

func newTestRouter(jwtManager *auth.JWTManager) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestLogger("/healthz"), SecurityHeaders())
	router.GET("/open", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	admin := router.Group("/admin")
	admin.Use(Auth(jwtManager))
	admin.GET("/backups", RequireScope(auth.ScopeBackups), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func TestLoggerAndSecurityHeaders(t *testing.T) {
	router := newTestRouter(auth.NewJWTManager("secret", time.Minute))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/open", nil))

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected a generated request id")
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("expected security headers")
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	router := newTestRouter(auth.NewJWTManager("secret", time.Minute))

	req := httptest.NewRequest(http.MethodGet, "/open", nil)
	req.Header.Set("X-Request-ID", "upload-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "upload-42" {
		t.Fatalf("expected caller's request id, got %q", got)
	}
}

func TestAuthAndScopes(t *testing.T) {
	jwtManager := auth.NewJWTManager("secret", time.Minute)
	router := newTestRouter(jwtManager)

	backupsToken, _, err := jwtManager.GenerateToken("ops", []string{auth.ScopeBackups})
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	datasetsToken, _, err := jwtManager.GenerateToken("ops", []string{auth.ScopeDatasets})
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	cases := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"malformed", "Token abc", "", http.StatusUnauthorized},
		{"garbage", "Bearer abc", "", http.StatusUnauthorized},
		{"wrong scope", "Bearer " + datasetsToken, "", http.StatusForbidden},
		{"header", "Bearer " + backupsToken, "", http.StatusOK},
		{"query", "", "?token=" + backupsToken, http.StatusOK},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/admin/backups"+tc.query, nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, w.Code)
		}
	}
}
