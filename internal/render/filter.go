package render

import (
	"image/color"
	"math"
)

// sigmaFor derives sigma from the kernel size the way OpenCV does when none is given.
func sigmaFor(k int) float64 {
	return 0.3*(float64(k-1)/2-1) + 0.8
}

func gaussianKernel(k int, sigma float64) []float64 {
	kernel := make([]float64, k)
	half := k / 2
	var sum float64
	for i := range kernel {
		d := float64(i - half)
		kernel[i] = math.Exp(-d * d / (2 * sigma * sigma))
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// blur applies a separable convolution in place, replicating edge pixels.
func blur(field []float64, w, h int, kernel []float64) {
	half := len(kernel) / 2
	tmp := make([]float64, len(field))

	for y := 0; y < h; y++ {
		row := field[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			var acc float64
			for i, kv := range kernel {
				acc += kv * row[clampIndex(x+i-half, w)]
			}
			tmp[y*w+x] = acc
		}
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			for i, kv := range kernel {
				acc += kv * tmp[clampIndex(y+i-half, h)*w+x]
			}
			field[y*w+x] = acc
		}
	}
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// Jet maps an intensity to the cold-to-hot JET ramp.
func Jet(v uint8) color.RGBA {
	t := float64(v) / 255
	channel := func(offset float64) uint8 {
		c := 1.5 - math.Abs(4*t-offset)
		return uint8(math.Round(255 * math.Max(0, math.Min(1, c))))
	}
	return color.RGBA{R: channel(3), G: channel(2), B: channel(1), A: 255}
}
