package factory

import (
	"fmt"

	"go-medscan/internal/config"
	"go-medscan/internal/inference"
	"go-medscan/internal/saliency"
	"go-medscan/internal/service"
	"go-medscan/internal/storage"
)

// BackendFactory creates inference backends
type BackendFactory interface {
	CreateBackend(backendType string) (inference.Backend, error)
}

// SaliencyFactory selects attention sources
type SaliencyFactory interface {
	SourceFor(mode string) service.SourceFactory
}

// StorageFactory creates upload stores
type StorageFactory interface {
	CreateStorage() (storage.UploadStore, error)
}

type backendFactory struct {
	cfg *config.Config
}

func NewBackendFactory(cfg *config.Config) BackendFactory {
	return &backendFactory{cfg: cfg}
}

// CreateBackend creates a backend based on the specified type
func (f *backendFactory) CreateBackend(backendType string) (inference.Backend, error) {
	switch backendType {
	case config.BackendStub:
		return inference.NewDefaultStub(f.cfg.StubLatency), nil
	case config.BackendONNX:
		model, err := inference.NewONNXModel(f.cfg.ModelPath, f.cfg.MetadataPath, f.cfg.ONNXRuntimeLib)
		if err != nil {
			return nil, err
		}
		return model, nil
	case config.BackendRemote:
		return inference.NewRemoteModel(f.cfg.InferenceURL, inference.DefaultLabels), nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", backendType)
	}
}

type saliencyFactory struct {
	cfg *config.Config
}

func NewSaliencyFactory(cfg *config.Config) SaliencyFactory {
	return &saliencyFactory{cfg: cfg}
}

// SourceFor maps a saliency mode to a source constructor. In auto mode a stub backend
// gets synthetic noise and every model-backed backend gets occlusion.
func (f *saliencyFactory) SourceFor(mode string) service.SourceFactory {
	return func(backend inference.Backend) (saliency.Source, error) {
		switch mode {
		case config.SaliencyNone:
			return nil, nil
		case config.SaliencySynthetic:
			return saliency.NewSynthetic(), nil
		case config.SaliencyOcclusion:
			return f.occlusion(backend)
		case config.SaliencyAuto:
			if _, ok := backend.(*inference.FixedStub); ok {
				return saliency.NewSynthetic(), nil
			}
			return f.occlusion(backend)
		default:
			return nil, fmt.Errorf("unsupported saliency mode: %s", mode)
		}
	}
}

func (f *saliencyFactory) occlusion(backend inference.Backend) (saliency.Source, error) {
	occ, err := saliency.NewOcclusion(backend, f.cfg.OcclusionPatch, f.cfg.OcclusionStride, f.cfg.OcclusionWorkers, f.cfg.InferenceTimeout)
	if err != nil {
		return nil, err
	}
	return occ, nil
}

type storageFactory struct {
	cfg *config.Config
}

func NewStorageFactory(cfg *config.Config) StorageFactory {
	return &storageFactory{cfg: cfg}
}

// CreateStorage creates the local upload store
func (f *storageFactory) CreateStorage() (storage.UploadStore, error) {
	return storage.NewLocalStore(f.cfg.UploadDir, f.cfg.UploadURLPrefix)
}

// ComponentFactory combines all factories
type ComponentFactory struct {
	BackendFactory  BackendFactory
	SaliencyFactory SaliencyFactory
	StorageFactory  StorageFactory
}

// NewComponentFactory creates a new component factory
func NewComponentFactory(cfg *config.Config) *ComponentFactory {
	return &ComponentFactory{
		BackendFactory:  NewBackendFactory(cfg),
		SaliencyFactory: NewSaliencyFactory(cfg),
		StorageFactory:  NewStorageFactory(cfg),
	}
}
