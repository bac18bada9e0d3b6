package inference

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go-medscan/internal/imaging"

	"gonum.org/v1/gonum/floats"
)

// DefaultLabels is the declared label order for the brain MRI classifier.
var DefaultLabels = []string{"Normal", "Tumor"}

// sumTolerance bounds how far a distribution may drift from 1.
const sumTolerance = 1e-6

var (
	// ErrInferenceTimeout is returned when a backend call exceeds its deadline.
	ErrInferenceTimeout = errors.New("inference timed out")

	// ErrInvalidDistribution reports backend output that is not a probability vector.
	ErrInvalidDistribution = errors.New("invalid class distribution")
)

// Metadata describes the model behind a backend.
type Metadata struct {
	Name         string   `json:"name"`
	Architecture string   `json:"type"`
	Target       string   `json:"target"`
	Labels       []string `json:"classes"`
	InputSize    int      `json:"input_size"`
	Description  string   `json:"description"`
}

// DefaultMetadata is the descriptive record shown when no model file overrides it.
func DefaultMetadata() Metadata {
	return Metadata{
		Name:         "MedNet CNN",
		Architecture: "Convolutional Neural Network",
		Target:       "Brain Tumor Detection",
		Labels:       append([]string(nil), DefaultLabels...),
		InputSize:    imaging.Size,
		Description:  "A deep learning model designed to detect abnormalities in brain MRI scans.",
	}
}

// Backend produces a class distribution for a canonical image buffer.
// Implementations must be safe for concurrent use.
type Backend interface {
	Metadata() Metadata
	Infer(ctx context.Context, buf *imaging.ImageBuffer) (Distribution, error)
	Close() error
}

// Distribution is an ordered label → probability mapping.
type Distribution struct {
	Labels []string
	Probs  []float64
}

// NewDistribution copies labels and probs and validates the result.
func NewDistribution(labels []string, probs []float64) (Distribution, error) {
	d := Distribution{
		Labels: append([]string(nil), labels...),
		Probs:  append([]float64(nil), probs...),
	}
	return d, d.Validate()
}

// Validate checks cardinality, range and normalisation.
func (d Distribution) Validate() error {
	if len(d.Labels) == 0 || len(d.Labels) != len(d.Probs) {
		return fmt.Errorf("%w: %d labels for %d probabilities", ErrInvalidDistribution, len(d.Labels), len(d.Probs))
	}
	for i, p := range d.Probs {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return fmt.Errorf("%w: %s=%v", ErrInvalidDistribution, d.Labels[i], p)
		}
	}
	if sum := floats.Sum(d.Probs); math.Abs(sum-1) > sumTolerance {
		return fmt.Errorf("%w: probabilities sum to %v", ErrInvalidDistribution, sum)
	}
	return nil
}

// Argmax returns the index of the highest probability. Ties go to the label declared
// first.
func (d Distribution) Argmax() int {
	best := 0
	for i := 1; i < len(d.Probs); i++ {
		if d.Probs[i] > d.Probs[best] {
			best = i
		}
	}
	return best
}

// Map returns the distribution keyed by label.
func (d Distribution) Map() map[string]float64 {
	m := make(map[string]float64, len(d.Labels))
	for i, l := range d.Labels {
		m[l] = d.Probs[i]
	}
	return m
}

// Softmax converts raw scores into a probability vector.
func Softmax(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}
	out := make([]float64, len(scores))
	copy(out, scores)
	floats.AddConst(-floats.Max(out), out)
	for i, v := range out {
		out[i] = math.Exp(v)
	}
	floats.Scale(1/floats.Sum(out), out)
	return out
}

// isDistribution reports whether scores already form a probability vector.
func isDistribution(scores []float64) bool {
	for _, s := range scores {
		if math.IsNaN(s) || s < 0 || s > 1 {
			return false
		}
	}
	return math.Abs(floats.Sum(scores)-1) <= 1e-3
}

// normalize rescales a near-distribution so it sums to exactly 1.
func normalize(probs []float64) []float64 {
	out := append([]float64(nil), probs...)
	if sum := floats.Sum(out); sum > 0 {
		floats.Scale(1/sum, out)
	}
	return out
}
