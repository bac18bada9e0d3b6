package saliency

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"go-medscan/internal/imaging"
	"go-medscan/internal/inference"
)

const (
	DefaultPatch  = 32
	DefaultStride = 32
)

// Occlusion measures how much the target probability drops when each grid cell of
// the input is blanked out.
type Occlusion struct {
	backend inference.Backend
	patch   int
	stride  int
	workers int
	timeout time.Duration
	buffers sync.Pool
}

// NewOcclusion configures an occlusion source. timeout bounds each backend call.
func NewOcclusion(backend inference.Backend, patch, stride, workers int, timeout time.Duration) (*Occlusion, error) {
	if patch <= 0 || patch > imaging.Size {
		return nil, fmt.Errorf("occlusion patch %d outside (0,%d]", patch, imaging.Size)
	}
	if stride <= 0 {
		return nil, fmt.Errorf("occlusion stride must be positive, got %d", stride)
	}
	// The renderer stretches the grid over the whole buffer, so cells must tile it.
	if stride != patch || imaging.Size%patch != 0 {
		return nil, fmt.Errorf("occlusion patch %d with stride %d does not tile %d pixels", patch, stride, imaging.Size)
	}
	return &Occlusion{
		backend: backend,
		patch:   patch,
		stride:  stride,
		workers: workers,
		timeout: timeout,
		buffers: sync.Pool{
			New: func() interface{} {
				return imaging.NewImageBuffer()
			},
		},
	}, nil
}

func (o *Occlusion) Name() string     { return SourceOcclusion }
func (o *Occlusion) Diagnostic() bool { return true }

// Grid returns the number of patch positions along each axis.
func (o *Occlusion) Grid() int {
	return (imaging.Size-o.patch)/o.stride + 1
}

func (o *Occlusion) Compute(ctx context.Context, buf *imaging.ImageBuffer, baseline inference.Distribution) (*Map, error) {
	if len(baseline.Probs) == 0 {
		return nil, fmt.Errorf("baseline distribution is empty")
	}
	target := baseline.Argmax()
	base := baseline.Probs[target]

	n := o.Grid()
	m := NewMap(n, n, SourceOcclusion, true)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		firstErr error
	)
	pool := NewWorkerPool(o.workers)
	pool.Start()
	for gy := 0; gy < n; gy++ {
		for gx := 0; gx < n; gx++ {
			gx, gy := gx, gy
			pool.Submit(func() {
				if ctx.Err() != nil {
					return
				}
				drop, err := o.occlude(ctx, buf, target, base, gx, gy)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
						cancel()
					}
					mu.Unlock()
					return
				}
				m.Set(gx, gy, drop)
			})
		}
	}
	pool.Wait()
	pool.Close()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	peak := 0.0
	for _, v := range m.Values {
		if v > peak {
			peak = v
		}
	}
	if peak == 0 {
		m.Warnings = []string{FlatWarning}
		return m, nil
	}
	for i, v := range m.Values {
		m.Values[i] = v / peak
	}
	return m, nil
}

// occlude returns max(0, base - p) where p is the target probability with cell
// (gx, gy) zeroed.
func (o *Occlusion) occlude(ctx context.Context, buf *imaging.ImageBuffer, target int, base float64, gx, gy int) (float64, error) {
	work := o.buffers.Get().(*imaging.ImageBuffer)

	copy(work.Pix, buf.Pix)
	x0, y0 := gx*o.stride, gy*o.stride
	work.FillRect(image.Rect(x0, y0, x0+o.patch, y0+o.patch), 0)

	dist, err := inference.InferWithTimeout(ctx, o.backend, work, o.timeout)
	if err != nil {
		// an abandoned call may still be reading work, so it is not returned to the pool
		return 0, fmt.Errorf("occluded inference at cell (%d,%d): %w", gx, gy, err)
	}
	o.buffers.Put(work)
	if len(dist.Probs) <= target {
		return 0, fmt.Errorf("occluded inference at cell (%d,%d) returned %d classes", gx, gy, len(dist.Probs))
	}
	if drop := base - dist.Probs[target]; drop > 0 {
		return drop, nil
	}
	return 0, nil
}
