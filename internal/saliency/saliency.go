// Package saliency derives low-resolution attention maps that explain a class
// prediction.
package saliency

import (
	"context"
	"fmt"

	"go-medscan/internal/imaging"
	"go-medscan/internal/inference"
)

// Source names reported in responses.
const (
	SourceOcclusion = "occlusion"
	SourceSynthetic = "synthetic"
	SourceNone      = "none"
)

const (
	// FlatWarning is attached when no occluded region changed the prediction.
	FlatWarning = "model output is insensitive to occlusion; attention map is flat"

	// SyntheticWarning is attached to every synthetic map.
	SyntheticWarning = "attention map is synthetic noise and is not diagnostic"
)

// Map is a row-major scalar field with values in [0,1].
type Map struct {
	Width      int
	Height     int
	Values     []float64
	Source     string
	Diagnostic bool
	Warnings   []string
}

// NewMap allocates a zeroed w×h map.
func NewMap(w, h int, source string, diagnostic bool) *Map {
	return &Map{
		Width:      w,
		Height:     h,
		Values:     make([]float64, w*h),
		Source:     source,
		Diagnostic: diagnostic,
	}
}

func (m *Map) At(x, y int) float64 {
	return m.Values[y*m.Width+x]
}

func (m *Map) Set(x, y int, v float64) {
	m.Values[y*m.Width+x] = v
}

// Validate checks the field dimensions and value range.
func (m *Map) Validate() error {
	if m.Width <= 0 || m.Height <= 0 || len(m.Values) != m.Width*m.Height {
		return fmt.Errorf("invalid saliency map %dx%d with %d values", m.Width, m.Height, len(m.Values))
	}
	for i, v := range m.Values {
		if v < 0 || v > 1 {
			return fmt.Errorf("saliency value %v at %d out of range", v, i)
		}
	}
	return nil
}

// Source computes an attention map explaining the top class of baseline, the
// distribution already inferred for buf.
type Source interface {
	Name() string
	Diagnostic() bool
	Compute(ctx context.Context, buf *imaging.ImageBuffer, baseline inference.Distribution) (*Map, error)
}
