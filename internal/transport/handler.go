package transport

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"go-medscan/internal/config"
	apperrors "go-medscan/internal/errors"
	"go-medscan/internal/inference"
	"go-medscan/internal/logger"
	"go-medscan/internal/observer"
	"go-medscan/internal/service"
	"go-medscan/internal/storage"
	"go-medscan/pkg/models"
	"go-medscan/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

//go:embed templates/*.html
var templateFS embed.FS

// Dependencies are the collaborators the HTTP layer needs.
type Dependencies struct {
	Service   service.PredictionService
	Store     storage.UploadStore
	Validator *validation.UploadValidator
	Metrics   *observer.MetricsObserver
	Config    *config.Config
}

func NewHandler(deps Dependencies) http.Handler {
	if deps.Validator == nil {
		deps.Validator = validation.NewUploadValidator()
	}
	cfg := deps.Config

	r := gin.New()
	r.SetHTMLTemplate(template.Must(template.ParseFS(templateFS, "templates/*.html")))

	// Add middleware
	r.Use(
		requestLogger(),
		recovery(),
		errorHandler(),
	)

	// Configure routes
	r.GET("/", indexPage(deps.Service))
	r.GET("/about", aboutPage(deps.Service))
	r.GET("/health", healthCheck)
	r.GET("/api/model", modelDetails(deps.Service))
	r.GET("/api/stats", stats(deps.Metrics, cfg))
	r.POST("/upload", requestSizeLimiter(cfg.MaxUploadSize), uploadFile(deps))
	r.Static(cfg.UploadURLPrefix, cfg.UploadDir)

	return r
}

func uploadFile(deps Dependencies) gin.HandlerFunc {
	cfg := deps.Config
	return func(c *gin.Context) {
		if c.Request.ContentLength > cfg.MaxUploadSize {
			respondAppError(c, apperrors.NewTooLargeError("File too large",
				fmt.Errorf("content length %d exceeds %d", c.Request.ContentLength, cfg.MaxUploadSize)))
			return
		}

		form, err := c.MultipartForm()
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large") {
				respondAppError(c, apperrors.NewTooLargeError("File too large", err))
				return
			}
			respondAppError(c, apperrors.NewValidationError("No file part", err))
			return
		}

		files := form.File["file"]
		if len(files) == 0 {
			// A file input submitted without a selection arrives as an empty value.
			if _, ok := form.Value["file"]; ok {
				respondAppError(c, apperrors.NewValidationError("No selected file", nil))
				return
			}
			respondAppError(c, apperrors.NewValidationError("No file part", nil))
			return
		}
		header := files[0]

		ext, err := deps.Validator.Extension(header.Filename)
		if err != nil {
			respondAppError(c, err)
			return
		}

		src, err := header.Open()
		if err != nil {
			respondAppError(c, apperrors.NewInternalError("failed to read upload", err))
			return
		}
		original, err := deps.Store.SaveUpload(src, ext)
		src.Close()
		if err != nil {
			respondAppError(c, apperrors.NewInternalError("failed to store upload", err))
			return
		}

		logger.WithFields(logrus.Fields{
			"filename": header.Filename,
			"stored":   original.Name,
			"size":     header.Size,
			"ip":       c.ClientIP(),
		}).Info("Processing upload")

		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.RequestTimeout)
		defer cancel()

		result, err := deps.Service.Predict(ctx, original.Path, ext)
		if err != nil {
			// Content that can never be analysed is not kept; backend failures keep the
			// upload for inspection.
			if apperrors.IsType(err, apperrors.ErrorTypeDecode) || apperrors.IsType(err, apperrors.ErrorTypeValidation) {
				if rmErr := deps.Store.Remove(original.Name); rmErr != nil {
					logger.WithError(rmErr).WithField("stored", original.Name).Warn("Failed to remove rejected upload")
				}
			}
			respondAppError(c, err)
			return
		}

		visualizationURL := ""
		if result.Overlay != nil {
			overlay, err := deps.Store.SaveOverlay(original.Token, ext, result.Overlay.Image)
			if err != nil {
				respondAppError(c, apperrors.NewInternalError("failed to store visualization", err))
				return
			}
			visualizationURL = overlay.URL
		}

		c.JSON(http.StatusOK, result.ToResponse(original.URL, visualizationURL))
	}
}

func modelDetails(svc service.PredictionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		meta, err := svc.Model()
		if err != nil {
			respondAppError(c, err)
			return
		}
		c.JSON(http.StatusOK, ToModelDetails(meta))
	}
}

// ToModelDetails converts backend metadata into the public model record.
func ToModelDetails(meta inference.Metadata) models.ModelDetails {
	return models.ModelDetails{
		Name:        meta.Name,
		Type:        meta.Architecture,
		Target:      meta.Target,
		Classes:     append([]string(nil), meta.Labels...),
		InputSize:   fmt.Sprintf("%dx%d pixels", meta.InputSize, meta.InputSize),
		Description: meta.Description,
	}
}

// pageModel returns the metadata for HTML pages, which still render when the backend
// is unavailable.
func pageModel(svc service.PredictionService) models.ModelDetails {
	meta, err := svc.Model()
	if err != nil {
		logger.WithError(err).Warn("Model metadata unavailable, showing defaults")
	}
	return ToModelDetails(meta)
}

func indexPage(svc service.PredictionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.HTML(http.StatusOK, "index.html", gin.H{"Model": pageModel(svc)})
	}
}

func aboutPage(svc service.PredictionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.HTML(http.StatusOK, "about.html", gin.H{"Model": pageModel(svc)})
	}
}

func stats(metrics *observer.MetricsObserver, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		snapshot := map[string]interface{}{}
		if metrics != nil {
			snapshot = metrics.GetMetrics()
		}
		c.JSON(http.StatusOK, models.StatsResponse{
			Metrics: snapshot,
			Backend: cfg.Backend,
		})
	}
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, models.HealthResponse{
		Status:  "available",
		Version: Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
}
