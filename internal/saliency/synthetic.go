package saliency

import (
	"context"
	"math/rand/v2"
	"sync"

	"go-medscan/internal/imaging"
	"go-medscan/internal/inference"
)

// SyntheticSize is the side length of the generated field.
const SyntheticSize = 28

// Synthetic produces uniform noise in [100,200)/255. It has no relation to the image
// or the model and is always flagged non-diagnostic.
type Synthetic struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewSynthetic() *Synthetic {
	return NewSeededSynthetic(rand.Uint64(), rand.Uint64())
}

// NewSeededSynthetic returns a reproducible generator.
func NewSeededSynthetic(seed1, seed2 uint64) *Synthetic {
	return &Synthetic{rng: rand.New(rand.NewPCG(seed1, seed2))}
}

func (s *Synthetic) Name() string     { return SourceSynthetic }
func (s *Synthetic) Diagnostic() bool { return false }

func (s *Synthetic) Compute(ctx context.Context, _ *imaging.ImageBuffer, _ inference.Distribution) (*Map, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Generate(), nil
}

// Generate returns a fresh noise field.
func (s *Synthetic) Generate() *Map {
	m := NewMap(SyntheticSize, SyntheticSize, SourceSynthetic, false)
	m.Warnings = []string{SyntheticWarning}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range m.Values {
		m.Values[i] = float64(100+s.rng.IntN(100)) / 255
	}
	return m
}
