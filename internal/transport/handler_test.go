package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go-medscan/internal/config"
	"go-medscan/internal/imaging"
	"go-medscan/internal/inference"
	"go-medscan/internal/observer"
	"go-medscan/internal/saliency"
	"go-medscan/internal/service"
	"go-medscan/internal/storage"
	"go-medscan/pkg/models"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	handler http.Handler
	cfg     *config.Config
	metrics *observer.MetricsObserver
}

func newTestServer(t *testing.T, build func() (inference.Backend, error), sources service.SourceFactory) *testServer {
	t.Helper()
	cfg := &config.Config{
		Backend:          config.BackendStub,
		RequestTimeout:   5 * time.Second,
		InferenceTimeout: time.Second,
		MaxUploadSize:    1 << 20,
		UploadDir:        filepath.Join(t.TempDir(), "uploads"),
		UploadURLPrefix:  "/static/uploads",
	}
	store, err := storage.NewLocalStore(cfg.UploadDir, cfg.UploadURLPrefix)
	if err != nil {
		t.Fatal(err)
	}

	metrics := observer.NewMetricsObserver()
	events := observer.NewEventPublisher()
	events.Subscribe(metrics)

	svc, err := service.NewPredictionService(imaging.NewNormalizer(), inference.NewProvider(build), sources, nil, events, service.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}

	return &testServer{
		handler: NewHandler(Dependencies{Service: svc, Store: store, Metrics: metrics, Config: cfg}),
		cfg:     cfg,
		metrics: metrics,
	}
}

func stubServer(t *testing.T) *testServer {
	return newTestServer(t,
		func() (inference.Backend, error) { return inference.NewDefaultStub(0), nil },
		func(inference.Backend) (saliency.Source, error) { return saliency.NewSynthetic(), nil },
	)
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	for y := 0; y < 30; y++ {
		for x := 0; x < 40; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 6), G: uint8(y * 8), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// multipartBody builds an upload. An empty filename reproduces a form submitted
// without a selected file.
func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return &body, w.FormDataContentType()
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func (s *testServer) upload(t *testing.T, field, filename string, content []byte) *httptest.ResponseRecorder {
	body, contentType := multipartBody(t, field, filename, content)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	return s.do(req)
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp models.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("error body %q is not JSON: %v", w.Body.String(), err)
	}
	return resp.Error
}

func TestUploadSuccess(t *testing.T) {
	s := stubServer(t)
	w := s.upload(t, "file", "brain.png", pngBytes(t))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp models.PredictionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}

	if resp.ClassName != "Tumor" || resp.Confidence != 0.85 {
		t.Errorf("prediction = %s/%v", resp.ClassName, resp.Confidence)
	}
	if resp.AllClasses["Normal"] != 0.15 || resp.AllClasses["Tumor"] != 0.85 {
		t.Errorf("all_classes = %v", resp.AllClasses)
	}
	if !strings.HasSuffix(resp.ProcessingTime, "s") {
		t.Errorf("processing_time = %q", resp.ProcessingTime)
	}
	if resp.Attention.Source != saliency.SourceSynthetic || resp.Attention.Diagnostic {
		t.Errorf("attention = %+v", resp.Attention)
	}

	if !strings.HasPrefix(resp.ImageURL, "/static/uploads/") || !strings.HasSuffix(resp.ImageURL, ".png") {
		t.Errorf("image_url = %q", resp.ImageURL)
	}
	token := strings.TrimSuffix(filepath.Base(resp.ImageURL), ".png")
	if want := "/static/uploads/vis_" + token + ".png"; resp.VisualizationURL != want {
		t.Errorf("visualization_url = %q, want %q", resp.VisualizationURL, want)
	}

	// Both files are served back.
	for _, u := range []string{resp.ImageURL, resp.VisualizationURL} {
		if got := s.do(httptest.NewRequest(http.MethodGet, u, nil)); got.Code != http.StatusOK {
			t.Errorf("GET %s = %d", u, got.Code)
		}
	}
}

func TestUploadMedicalFallback(t *testing.T) {
	s := stubServer(t)
	w := s.upload(t, "file", "scan.nii.gz", []byte("not really a volume"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp models.PredictionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.ClassName != "Tumor" {
		t.Errorf("class_name = %s", resp.ClassName)
	}
	found := false
	for _, warning := range resp.Warnings {
		if warning == imaging.FallbackWarning {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v", resp.Warnings)
	}
	if !strings.HasSuffix(resp.ImageURL, ".nii.gz") || !strings.HasSuffix(resp.VisualizationURL, ".png") {
		t.Errorf("urls = %s, %s", resp.ImageURL, resp.VisualizationURL)
	}
	if _, err := os.Stat(filepath.Join(s.cfg.UploadDir, filepath.Base(resp.VisualizationURL))); err != nil {
		t.Errorf("overlay not stored: %v", err)
	}
}

func TestUploadRejections(t *testing.T) {
	tests := []struct {
		name     string
		field    string
		filename string
		content  []byte
		wantCode int
		wantMsg  string
	}{
		{"missing field", "document", "brain.png", []byte("x"), http.StatusBadRequest, "No file part"},
		{"empty filename", "file", "", nil, http.StatusBadRequest, "No selected file"},
		{"disallowed extension", "file", "notes.txt", []byte("x"), http.StatusBadRequest, "File type not allowed"},
		{"gzip without nifti", "file", "archive.gz", []byte("x"), http.StatusBadRequest, "File type not allowed"},
		{"corrupt raster", "file", "broken.png", []byte("not a png"), http.StatusInternalServerError, "failed to decode image"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := stubServer(t)
			w := s.upload(t, tt.field, tt.filename, tt.content)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantCode, w.Body.String())
			}
			if msg := decodeError(t, w); msg != tt.wantMsg {
				t.Errorf("error = %q, want %q", msg, tt.wantMsg)
			}
		})
	}
}

func TestUploadNotMultipart(t *testing.T) {
	s := stubServer(t)
	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(`{"file": "x"}`))
	req.Header.Set("Content-Type", "application/json")
	w := s.do(req)
	if w.Code != http.StatusBadRequest || decodeError(t, w) != "No file part" {
		t.Errorf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestUploadTooLarge(t *testing.T) {
	s := stubServer(t)
	big := make([]byte, s.cfg.MaxUploadSize+1)

	w := s.upload(t, "file", "huge.png", big)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", w.Code)
	}
	if msg := decodeError(t, w); msg != "File too large" {
		t.Errorf("error = %q", msg)
	}

	// Without a declared length the body limit still applies.
	body, contentType := multipartBody(t, "file", "huge.png", big)
	req := httptest.NewRequest(http.MethodPost, "/upload", io.MultiReader(body))
	req.ContentLength = -1
	req.Header.Set("Content-Type", contentType)
	if w := s.do(req); w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("chunked status = %d, want 413", w.Code)
	}
}

func TestUploadBackendUnavailable(t *testing.T) {
	s := newTestServer(t,
		func() (inference.Backend, error) { return nil, errors.New("model missing") },
		nil,
	)
	w := s.upload(t, "file", "brain.png", pngBytes(t))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	if msg := decodeError(t, w); msg != "inference backend unavailable" {
		t.Errorf("error = %q", msg)
	}

	if w := s.do(httptest.NewRequest(http.MethodGet, "/api/model", nil)); w.Code != http.StatusInternalServerError {
		t.Errorf("/api/model status = %d", w.Code)
	}
	// Pages fall back to the default model description.
	if w := s.do(httptest.NewRequest(http.MethodGet, "/about", nil)); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "MedNet CNN") {
		t.Errorf("/about status = %d", w.Code)
	}
}

func uploadedFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestUploadRetentionOnFailure(t *testing.T) {
	t.Run("undecodable upload is removed", func(t *testing.T) {
		s := stubServer(t)
		w := s.upload(t, "file", "broken.png", []byte("not a png"))
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d", w.Code)
		}
		if files := uploadedFiles(t, s.cfg.UploadDir); len(files) != 0 {
			t.Errorf("expected rejected upload to be removed, found %v", files)
		}
	})

	t.Run("backend failure keeps upload", func(t *testing.T) {
		s := newTestServer(t,
			func() (inference.Backend, error) { return nil, errors.New("model missing") },
			nil,
		)
		w := s.upload(t, "file", "brain.png", pngBytes(t))
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d", w.Code)
		}
		files := uploadedFiles(t, s.cfg.UploadDir)
		if len(files) != 1 || !strings.HasSuffix(files[0], ".png") {
			t.Errorf("expected the original to be kept, found %v", files)
		}
	})
}

func TestModelEndpoint(t *testing.T) {
	s := stubServer(t)
	w := s.do(httptest.NewRequest(http.MethodGet, "/api/model", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var details models.ModelDetails
	if err := json.Unmarshal(w.Body.Bytes(), &details); err != nil {
		t.Fatal(err)
	}
	want := models.ModelDetails{
		Name:        "MedNet CNN",
		Type:        "Convolutional Neural Network",
		Target:      "Brain Tumor Detection",
		Classes:     []string{"Normal", "Tumor"},
		InputSize:   "224x224 pixels",
		Description: "A deep learning model designed to detect abnormalities in brain MRI scans.",
	}
	if details.Name != want.Name || details.Type != want.Type || details.Target != want.Target ||
		details.InputSize != want.InputSize || details.Description != want.Description ||
		len(details.Classes) != 2 || details.Classes[0] != "Normal" {
		t.Errorf("details = %+v, want %+v", details, want)
	}
}

func TestPagesAndHealth(t *testing.T) {
	s := stubServer(t)

	tests := []struct {
		path     string
		contains string
	}{
		{"/", "upload-form"},
		{"/about", "Convolutional Neural Network"},
		{"/health", `"status":"available"`},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := s.do(httptest.NewRequest(http.MethodGet, tt.path, nil))
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d", w.Code)
			}
			if !strings.Contains(w.Body.String(), tt.contains) {
				t.Errorf("body does not contain %q", tt.contains)
			}
		})
	}
}

func TestStatsEndpoint(t *testing.T) {
	s := stubServer(t)
	s.upload(t, "file", "brain.png", pngBytes(t))
	s.upload(t, "file", "broken.png", []byte("junk"))

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Metrics map[string]interface{} `json:"metrics"`
		Backend string                 `json:"backend"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Backend != config.BackendStub {
		t.Errorf("backend = %q", resp.Backend)
	}
	if resp.Metrics["total_predictions"] != 2.0 || resp.Metrics["successful_predictions"] != 1.0 || resp.Metrics["failed_predictions"] != 1.0 {
		t.Errorf("metrics = %v", resp.Metrics)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(recovery())
	r.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	if msg := decodeError(t, w); msg != "internal server error" {
		t.Errorf("error = %q", msg)
	}
}
