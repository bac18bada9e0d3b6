package imaging

import (
	"image"
	"image/color"
	"math"
)

// Canonical input geometry shared by every backend.
const (
	Size     = 224
	Channels = 3
)

// ImageBuffer is a Size×Size×Channels array in HWC order with values in [0,1].
type ImageBuffer struct {
	Pix []float32
}

// NewImageBuffer returns an all-zero buffer of canonical shape.
func NewImageBuffer() *ImageBuffer {
	return &ImageBuffer{Pix: make([]float32, Size*Size*Channels)}
}

// Shape reports (height, width, channels).
func (b *ImageBuffer) Shape() (int, int, int) {
	return Size, Size, Channels
}

func (b *ImageBuffer) offset(y, x, c int) int {
	return (y*Size+x)*Channels + c
}

// At returns the value at row y, column x, channel c.
func (b *ImageBuffer) At(y, x, c int) float32 {
	return b.Pix[b.offset(y, x, c)]
}

// Set stores v clamped to [0,1].
func (b *ImageBuffer) Set(y, x, c int, v float32) {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	b.Pix[b.offset(y, x, c)] = v
}

// Clone returns a deep copy.
func (b *ImageBuffer) Clone() *ImageBuffer {
	pix := make([]float32, len(b.Pix))
	copy(pix, b.Pix)
	return &ImageBuffer{Pix: pix}
}

// FillRect sets every channel inside r (clipped to the buffer) to v.
func (b *ImageBuffer) FillRect(r image.Rectangle, v float32) {
	r = r.Intersect(image.Rect(0, 0, Size, Size))
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			for c := 0; c < Channels; c++ {
				b.Pix[b.offset(y, x, c)] = v
			}
		}
	}
}

// CHW returns the buffer in planar channel-first order, as NCHW models expect.
func (b *ImageBuffer) CHW() []float32 {
	out := make([]float32, len(b.Pix))
	plane := Size * Size
	for i := 0; i < plane; i++ {
		for c := 0; c < Channels; c++ {
			out[c*plane+i] = b.Pix[i*Channels+c]
		}
	}
	return out
}

// RGBA denormalises the buffer to an 8-bit opaque raster.
func (b *ImageBuffer) RGBA() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, Size, Size))
	for y := 0; y < Size; y++ {
		for x := 0; x < Size; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: to8(b.At(y, x, 0)),
				G: to8(b.At(y, x, 1)),
				B: to8(b.At(y, x, 2)),
				A: 255,
			})
		}
	}
	return img
}

func to8(v float32) uint8 {
	return uint8(math.Round(float64(v) * 255))
}

// fromImage copies an already-resized Size×Size raster into a new buffer.
func fromImage(img image.Image) *ImageBuffer {
	buf := NewImageBuffer()
	bounds := img.Bounds()
	for y := 0; y < Size; y++ {
		for x := 0; x < Size; x++ {
			r, g, bl, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			i := buf.offset(y, x, 0)
			buf.Pix[i] = float32(r>>8) / 255
			buf.Pix[i+1] = float32(g>>8) / 255
			buf.Pix[i+2] = float32(bl>>8) / 255
		}
	}
	return buf
}
