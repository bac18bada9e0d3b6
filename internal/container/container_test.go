package container

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go-medscan/internal/config"

	"github.com/gin-gonic/gin"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Host:             "127.0.0.1",
		Port:             "8080",
		RequestTimeout:   5 * time.Second,
		InferenceTimeout: time.Second,
		MaxUploadSize:    1 << 20,
		UploadDir:        filepath.Join(t.TempDir(), "uploads"),
		UploadURLPrefix:  "/static/uploads",
		Backend:          config.BackendStub,
		SaliencyMode:     config.SaliencyAuto,
		OcclusionPatch:   32,
		OcclusionStride:  32,
		LogLevel:         "info",
	}
}

func TestNewContainer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := testConfig(t)

	c, err := NewContainer(cfg)
	if err != nil {
		t.Fatalf("NewContainer() error = %v", err)
	}
	defer c.Close()

	if _, err := os.Stat(cfg.UploadDir); err != nil {
		t.Errorf("upload directory not created: %v", err)
	}
	if c.Config() != cfg {
		t.Error("Config() returned a different config")
	}

	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("/health = %d", w.Code)
	}

	meta, err := c.Service().Model()
	if err != nil || meta.Name != "MedNet CNN" {
		t.Errorf("Model() = %+v, %v", meta, err)
	}
}

func TestContainerWithUnavailableModel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := testConfig(t)
	cfg.Backend = config.BackendONNX
	cfg.ModelPath = filepath.Join(t.TempDir(), "missing.onnx")
	cfg.MetadataPath = filepath.Join(t.TempDir(), "missing.json")

	c, err := NewContainer(cfg)
	if err != nil {
		t.Fatalf("construction must not load the model: %v", err)
	}
	if _, err := c.Service().Predict(context.Background(), "x.png", "png"); err == nil {
		t.Error("expected prediction to fail")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
