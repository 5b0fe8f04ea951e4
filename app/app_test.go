package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/seo-optimizer/seoaudit/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		GinMode:        gin.TestMode,
		DataDir:        dir,
		DBDriver:       "sqlite",
		FetchTimeout:   2 * time.Second,
		ScanCacheTTL:   24 * time.Hour,
		HistoryLimit:   20,
		RateLimitRPS:   2,
		RateLimitBurst: 5,
		FrontendURL:    "http://localhost:3000",
		TokenTTL:       time.Hour,
		GeminiModel:    "gemini-1.5-flash",
		GeminiTimeout:  time.Second,
	}
}

func TestNewServesHealth(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	w := httptest.NewRecorder()
	a.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d (%s)", w.Code, w.Body.String())
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.DataDir, "seoaudit.db")); err != nil {
		t.Errorf("database file missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.DataDir, "traffic.json")); err != nil {
		t.Errorf("traffic statistics not saved: %v", err)
	}
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.DBDriver = "mysql"
	if _, err := New(context.Background(), cfg, zap.NewNop()); err == nil {
		t.Fatal("New() with unknown driver should fail")
	}
}
