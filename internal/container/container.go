package container

import (
	"fmt"
	"net/http"

	"go-medscan/internal/config"
	"go-medscan/internal/factory"
	"go-medscan/internal/imaging"
	"go-medscan/internal/inference"
	"go-medscan/internal/logger"
	"go-medscan/internal/observer"
	"go-medscan/internal/service"
	"go-medscan/internal/storage"
	"go-medscan/internal/transport"
	"go-medscan/pkg/validation"
)

// Container holds all application dependencies
type Container struct {
	config            *config.Config
	provider          *inference.Provider
	metrics           *observer.MetricsObserver
	events            *observer.EventPublisher
	store             storage.UploadStore
	predictionService service.PredictionService
	handler           http.Handler
}

// NewContainer wires the application graph. The inference backend is not built here;
// it is constructed on first use.
func NewContainer(cfg *config.Config) (*Container, error) {
	components := factory.NewComponentFactory(cfg)

	store, err := components.StorageFactory.CreateStorage()
	if err != nil {
		return nil, fmt.Errorf("failed to create upload store: %w", err)
	}

	metrics := observer.NewMetricsObserver()
	events := observer.NewEventPublisher()
	events.Subscribe(observer.NewLoggingObserver(logger.Logger))
	events.Subscribe(metrics)

	predictionService, provider, err := NewPipeline(cfg, events)
	if err != nil {
		return nil, err
	}

	handler := transport.NewHandler(transport.Dependencies{
		Service:   predictionService,
		Store:     store,
		Validator: validation.NewUploadValidator(),
		Metrics:   metrics,
		Config:    cfg,
	})

	return &Container{
		config:            cfg,
		provider:          provider,
		metrics:           metrics,
		events:            events,
		store:             store,
		predictionService: predictionService,
		handler:           handler,
	}, nil
}

// NewPipeline builds the prediction service without the HTTP layer. The returned
// provider owns the backend and must be closed by the caller.
func NewPipeline(cfg *config.Config, events observer.Subject) (service.PredictionService, *inference.Provider, error) {
	components := factory.NewComponentFactory(cfg)

	provider := inference.NewProvider(func() (inference.Backend, error) {
		backend, err := components.BackendFactory.CreateBackend(cfg.Backend)
		if err != nil {
			logger.WithError(err).WithField("backend", cfg.Backend).Error("Failed to create inference backend")
			return nil, err
		}
		logger.WithField("backend", cfg.Backend).Info("Inference backend ready")
		return backend, nil
	})

	opts := service.DefaultOptions().WithTimeout(cfg.InferenceTimeout)
	predictionService, err := service.NewPredictionService(
		imaging.NewNormalizer(),
		provider,
		components.SaliencyFactory.SourceFor(cfg.SaliencyMode),
		validation.NewQualityValidator(),
		events,
		opts,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prediction service: %w", err)
	}
	return predictionService, provider, nil
}

// Handler returns the HTTP handler
func (c *Container) Handler() http.Handler {
	return c.handler
}

// Config returns the configuration
func (c *Container) Config() *config.Config {
	return c.config
}

// Service returns the prediction service
func (c *Container) Service() service.PredictionService {
	return c.predictionService
}

// Metrics returns the metrics observer
func (c *Container) Metrics() *observer.MetricsObserver {
	return c.metrics
}

// Close releases the inference backend if one was built.
func (c *Container) Close() error {
	return c.provider.Close()
}
