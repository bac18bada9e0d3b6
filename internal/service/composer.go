package service

import (
	"fmt"
	"time"

	"go-medscan/internal/inference"
	"go-medscan/internal/render"
	"go-medscan/internal/saliency"
	"go-medscan/pkg/models"
)

// PredictionResult is the outcome of one pipeline run.
type PredictionResult struct {
	ClassName    string
	Confidence   float64
	Distribution inference.Distribution
	Elapsed      time.Duration
	Overlay      *render.Overlay
	Warnings     []string
	Attention    models.Attention
}

// Compose assembles a result. The winning class is the argmax of dist, ties going to
// the label declared first.
func Compose(dist inference.Distribution, overlay *render.Overlay, elapsed time.Duration, warnings []string, attention models.Attention) PredictionResult {
	best := dist.Argmax()
	return PredictionResult{
		ClassName:  dist.Labels[best],
		Confidence: dist.Probs[best],
		Distribution: inference.Distribution{
			Labels: append([]string(nil), dist.Labels...),
			Probs:  append([]float64(nil), dist.Probs...),
		},
		Elapsed:   elapsed,
		Overlay:   overlay,
		Warnings:  append([]string(nil), warnings...),
		Attention: attention,
	}
}

// NoAttention is reported when saliency is disabled.
var NoAttention = models.Attention{Source: saliency.SourceNone, Diagnostic: false}

// ToResponse converts the result into the upload response body.
func (r *PredictionResult) ToResponse(imageURL, visualizationURL string) models.PredictionResponse {
	resp := models.PredictionResponse{
		ClassName:      r.ClassName,
		Confidence:     r.Confidence,
		AllClasses:     r.Distribution.Map(),
		ProcessingTime: FormatElapsed(r.Elapsed),
		ImageURL:       imageURL,
		Warnings:       r.Warnings,
		Attention:      r.Attention,
	}
	if r.Overlay != nil {
		resp.VisualizationURL = visualizationURL
	}
	return resp
}

// FormatElapsed renders a duration as seconds with two decimals, e.g. "0.42s".
func FormatElapsed(d time.Duration) string {
	return fmt.Sprintf("%.2fs", d.Seconds())
}
