package service

import (
	"time"

	"go-medscan/internal/render"
)

// Options configure a prediction run.
type Options struct {
	// InferenceTimeout bounds each backend call. Zero disables the bound.
	InferenceTimeout time.Duration

	// Render tunes the heat-map overlay
	Render render.Options

	// SkipQualityCheck disables input statistics warnings
	SkipQualityCheck bool
}

// DefaultOptions returns default prediction options
func DefaultOptions() Options {
	return Options{
		InferenceTimeout: 10 * time.Second,
		Render:           render.DefaultOptions(),
	}
}

// WithTimeout returns options with a different inference timeout
func (opts Options) WithTimeout(d time.Duration) Options {
	opts.InferenceTimeout = d
	return opts
}

// WithoutQualityCheck disables the input quality warnings
func (opts Options) WithoutQualityCheck() Options {
	opts.SkipQualityCheck = true
	return opts
}
