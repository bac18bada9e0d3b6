// Package render turns saliency maps into heat-map overlays on the analysed image.
package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"go-medscan/internal/imaging"
	"go-medscan/internal/saliency"

	"github.com/nfnt/resize"
)

const (
	DefaultKernelSize = 15
	DefaultImageAlpha = 0.7
	DefaultHeatAlpha  = 0.3
)

var ErrInvalidMap = errors.New("invalid saliency map")

// Overlay is the rendered heat map together with the provenance of its attention field.
type Overlay struct {
	Image      *image.RGBA
	Source     string
	Diagnostic bool
	Warnings   []string
}

// Options tune the renderer.
type Options struct {
	KernelSize int
	ImageAlpha float64
	HeatAlpha  float64
}

func DefaultOptions() Options {
	return Options{
		KernelSize: DefaultKernelSize,
		ImageAlpha: DefaultImageAlpha,
		HeatAlpha:  DefaultHeatAlpha,
	}
}

type Renderer struct {
	opts      Options
	kernel    []float64
	synthetic *saliency.Synthetic
}

func NewRenderer(opts Options) (*Renderer, error) {
	if opts.KernelSize <= 0 || opts.KernelSize%2 == 0 {
		return nil, fmt.Errorf("kernel size must be odd and positive, got %d", opts.KernelSize)
	}
	if opts.ImageAlpha < 0 || opts.HeatAlpha < 0 {
		return nil, fmt.Errorf("blend weights must be non-negative")
	}
	return &Renderer{
		opts:      opts,
		kernel:    gaussianKernel(opts.KernelSize, sigmaFor(opts.KernelSize)),
		synthetic: saliency.NewSynthetic(),
	}, nil
}

// Render blends the heat map of m over buf. A nil m renders a synthetic,
// non-diagnostic field.
func (r *Renderer) Render(buf *imaging.ImageBuffer, m *saliency.Map) (*Overlay, error) {
	if m == nil {
		m = r.synthetic.Generate()
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMap, err)
	}

	field := r.upsample(m)
	blur(field, imaging.Size, imaging.Size, r.kernel)

	base := buf.RGBA()
	out := image.NewRGBA(base.Bounds())
	for y := 0; y < imaging.Size; y++ {
		for x := 0; x < imaging.Size; x++ {
			heat := Jet(uint8(clamp(math.Round(field[y*imaging.Size+x]))))
			orig := base.RGBAAt(x, y)
			out.SetRGBA(x, y, color.RGBA{
				R: r.blend(orig.R, heat.R),
				G: r.blend(orig.G, heat.G),
				B: r.blend(orig.B, heat.B),
				A: 255,
			})
		}
	}

	return &Overlay{
		Image:      out,
		Source:     m.Source,
		Diagnostic: m.Diagnostic,
		Warnings:   append([]string(nil), m.Warnings...),
	}, nil
}

func (r *Renderer) blend(orig, heat uint8) uint8 {
	return uint8(clamp(math.Round(r.opts.ImageAlpha*float64(orig) + r.opts.HeatAlpha*float64(heat))))
}

// upsample scales the map to an 8-bit field covering the whole canvas.
func (r *Renderer) upsample(m *saliency.Map) []float64 {
	gray := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			gray.SetGray(x, y, color.Gray{Y: uint8(clamp(math.Round(255 * m.At(x, y))))})
		}
	}

	scaled := resize.Resize(imaging.Size, imaging.Size, gray, resize.Bilinear)
	field := make([]float64, imaging.Size*imaging.Size)
	for y := 0; y < imaging.Size; y++ {
		for x := 0; x < imaging.Size; x++ {
			g := color.GrayModel.Convert(scaled.At(x, y)).(color.Gray)
			field[y*imaging.Size+x] = float64(g.Y)
		}
	}
	return field
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}
