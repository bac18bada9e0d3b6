package service

import (
	"context"
	"errors"
	"sync"
	"time"

	apperrors "go-medscan/internal/errors"
	"go-medscan/internal/imaging"
	"go-medscan/internal/inference"
	"go-medscan/internal/logger"
	"go-medscan/internal/observer"
	"go-medscan/internal/render"
	"go-medscan/internal/saliency"
	"go-medscan/pkg/models"
	"go-medscan/pkg/validation"

	"github.com/sirupsen/logrus"
)

// SaliencyWarning is attached when the configured attention source failed and a
// synthetic map was rendered instead.
const SaliencyWarning = "attention map could not be computed; a synthetic map is shown instead"

// SourceFactory picks the saliency source for a backend. A nil Source disables
// the overlay.
type SourceFactory func(inference.Backend) (saliency.Source, error)

// PredictionService runs the prediction pipeline for stored uploads.
type PredictionService interface {
	Predict(ctx context.Context, path, ext string) (*PredictionResult, error)
	Model() (inference.Metadata, error)
}

type predictionService struct {
	normalizer *imaging.Normalizer
	provider   *inference.Provider
	sources    SourceFactory
	renderer   *render.Renderer
	quality    *validation.QualityValidator
	events     observer.Subject
	opts       Options

	once    sync.Once
	backend inference.Backend
	source  saliency.Source
	initErr error
}

// NewPredictionService creates a new prediction service. events may be nil.
func NewPredictionService(
	normalizer *imaging.Normalizer,
	provider *inference.Provider,
	sources SourceFactory,
	quality *validation.QualityValidator,
	events observer.Subject,
	opts Options,
) (PredictionService, error) {
	renderer, err := render.NewRenderer(opts.Render)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = observer.NewEventPublisher()
	}
	if quality == nil {
		quality = validation.NewQualityValidator()
	}
	return &predictionService{
		normalizer: normalizer,
		provider:   provider,
		sources:    sources,
		renderer:   renderer,
		quality:    quality,
		events:     events,
		opts:       opts,
	}, nil
}

// resolve builds the backend and its saliency source on first use.
func (s *predictionService) resolve() (inference.Backend, saliency.Source, error) {
	s.once.Do(func() {
		s.backend, s.initErr = s.provider.Get()
		if s.initErr != nil || s.sources == nil {
			return
		}
		s.source, s.initErr = s.sources(s.backend)
	})
	return s.backend, s.source, s.initErr
}

func (s *predictionService) Model() (inference.Metadata, error) {
	backend, _, err := s.resolve()
	if err != nil {
		return inference.DefaultMetadata(), apperrors.NewInferenceError("inference backend unavailable", err)
	}
	return backend.Metadata(), nil
}

func (s *predictionService) Predict(ctx context.Context, path, ext string) (*PredictionResult, error) {
	start := time.Now()
	s.events.NotifyObservers(ctx, observer.PredictionEvent{
		EventType: observer.PredictionStarted,
		File:      path,
		Metadata:  map[string]interface{}{"extension": ext},
	})

	result, err := s.run(ctx, path, ext, start)
	if err != nil {
		kind := apperrors.ErrorTypeInternal
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			kind = appErr.Type
		}
		s.events.NotifyObservers(ctx, observer.PredictionEvent{
			EventType:      observer.PredictionFailed,
			File:           path,
			ProcessingTime: time.Since(start),
			ErrorKind:      string(kind),
			ErrorMessage:   err.Error(),
		})
		return nil, err
	}

	s.events.NotifyObservers(ctx, observer.PredictionEvent{
		EventType:      observer.PredictionCompleted,
		File:           path,
		ProcessingTime: result.Elapsed,
		Success:        true,
		ClassName:      result.ClassName,
		Metadata: map[string]interface{}{
			"confidence":       result.Confidence,
			"attention_source": result.Attention.Source,
		},
	})
	return result, nil
}

func (s *predictionService) run(ctx context.Context, path, ext string, start time.Time) (*PredictionResult, error) {
	norm, err := s.normalizer.Normalize(path, ext)
	if err != nil {
		if errors.Is(err, imaging.ErrUnsupportedFormat) {
			return nil, apperrors.NewValidationError("File type not allowed", err)
		}
		return nil, apperrors.NewDecodeError("failed to decode image", err)
	}

	warnings := append([]string(nil), norm.Warnings...)
	if norm.Fallback {
		s.events.NotifyObservers(ctx, observer.PredictionEvent{
			EventType: observer.InputFallback,
			File:      path,
			Metadata:  map[string]interface{}{"family": string(norm.Family)},
		})
	} else if !s.opts.SkipQualityCheck {
		issues := s.quality.Check(norm.Stats)
		warnings = append(warnings, s.quality.ConvertIssuesToMessages(issues)...)
	}

	backend, source, err := s.resolve()
	if err != nil {
		return nil, apperrors.NewInferenceError("inference backend unavailable", err)
	}

	dist, err := inference.InferWithTimeout(ctx, backend, norm.Buffer, s.opts.InferenceTimeout)
	if err != nil {
		return nil, classifyInferenceError(err)
	}

	if source == nil {
		return s.finish(dist, nil, start, warnings, NoAttention), nil
	}

	m, err := source.Compute(ctx, norm.Buffer, dist)
	if err != nil {
		if ctx.Err() != nil {
			return nil, classifyInferenceError(err)
		}
		logger.WithError(err).WithFields(logrus.Fields{
			"file":   path,
			"source": source.Name(),
		}).Warn("Saliency computation failed, rendering synthetic map")
		warnings = append(warnings, SaliencyWarning)
		m = nil
	}

	overlay, err := s.renderer.Render(norm.Buffer, m)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to render heat map", err)
	}
	warnings = append(warnings, overlay.Warnings...)

	attention := models.Attention{Source: overlay.Source, Diagnostic: overlay.Diagnostic}
	return s.finish(dist, overlay, start, warnings, attention), nil
}

func (s *predictionService) finish(dist inference.Distribution, overlay *render.Overlay, start time.Time, warnings []string, attention models.Attention) *PredictionResult {
	result := Compose(dist, overlay, time.Since(start), warnings, attention)
	return &result
}

func classifyInferenceError(err error) error {
	if errors.Is(err, inference.ErrInferenceTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewTimeoutError("inference timed out", err)
	}
	return apperrors.NewInferenceError("inference failed", err)
}
