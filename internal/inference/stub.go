package inference

import (
	"context"
	"time"

	"go-medscan/internal/imaging"
)

// DefaultStubProbs is the placeholder output: 85% Tumor.
var DefaultStubProbs = []float64{0.15, 0.85}

// FixedStub returns the same distribution for every input. It stands in for a real
// model in demos and tests.
type FixedStub struct {
	dist    Distribution
	meta    Metadata
	latency time.Duration
}

// NewFixedStub validates labels/probs once at construction.
func NewFixedStub(labels []string, probs []float64, latency time.Duration) (*FixedStub, error) {
	dist, err := NewDistribution(labels, probs)
	if err != nil {
		return nil, err
	}
	meta := DefaultMetadata()
	meta.Labels = append([]string(nil), labels...)
	return &FixedStub{dist: dist, meta: meta, latency: latency}, nil
}

// NewDefaultStub is the stub used by the service when no model is configured.
func NewDefaultStub(latency time.Duration) *FixedStub {
	stub, err := NewFixedStub(DefaultLabels, DefaultStubProbs, latency)
	if err != nil {
		panic(err)
	}
	return stub
}

func (s *FixedStub) Metadata() Metadata {
	return s.meta
}

// Infer ignores buf. A configured latency simulates model cost and honours ctx.
func (s *FixedStub) Infer(ctx context.Context, _ *imaging.ImageBuffer) (Distribution, error) {
	if s.latency > 0 {
		timer := time.NewTimer(s.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Distribution{}, ctx.Err()
		case <-timer.C:
		}
	}
	return Distribution{
		Labels: append([]string(nil), s.dist.Labels...),
		Probs:  append([]float64(nil), s.dist.Probs...),
	}, nil
}

func (s *FixedStub) Close() error {
	return nil
}
