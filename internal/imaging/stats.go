package imaging

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stats summarises buffer luminance.
type Stats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// ComputeStats uses Rec. 601 luma over the buffer.
func ComputeStats(b *ImageBuffer) Stats {
	luma := make([]float64, Size*Size)
	for i := range luma {
		r := float64(b.Pix[i*Channels])
		g := float64(b.Pix[i*Channels+1])
		bl := float64(b.Pix[i*Channels+2])
		luma[i] = 0.299*r + 0.587*g + 0.114*bl
	}

	mean, std := stat.MeanStdDev(luma, nil)
	return Stats{
		Mean:   mean,
		StdDev: std,
		Min:    floats.Min(luma),
		Max:    floats.Max(luma),
	}
}
