package inference

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go-medscan/internal/imaging"
)

// Provider constructs a Backend at most once. Every caller after the first sees the
// same backend, or the same construction error.
type Provider struct {
	once    sync.Once
	build   func() (Backend, error)
	backend Backend
	err     error
}

func NewProvider(build func() (Backend, error)) *Provider {
	return &Provider{build: build}
}

// Get returns the shared backend, building it on first use.
func (p *Provider) Get() (Backend, error) {
	p.once.Do(func() {
		p.backend, p.err = p.build()
		if p.err == nil && p.backend == nil {
			p.err = fmt.Errorf("backend constructor returned nil")
		}
	})
	return p.backend, p.err
}

// Close releases the backend if it was ever built.
func (p *Provider) Close() error {
	backend, err := p.Get()
	if err != nil {
		return nil
	}
	return backend.Close()
}

// InferWithTimeout bounds a single backend call. On expiry ErrInferenceTimeout is
// returned and the call is left to finish on its own goroutine.
func InferWithTimeout(ctx context.Context, b Backend, buf *imaging.ImageBuffer, timeout time.Duration) (Distribution, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		dist Distribution
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		dist, err := b.Infer(ctx, buf)
		done <- outcome{dist, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return Distribution{}, fmt.Errorf("%w after %s", ErrInferenceTimeout, timeout)
			}
			return Distribution{}, out.err
		}
		if err := out.dist.Validate(); err != nil {
			return Distribution{}, err
		}
		return out.dist, nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return Distribution{}, fmt.Errorf("%w after %s", ErrInferenceTimeout, timeout)
		}
		return Distribution{}, ctx.Err()
	}
}
