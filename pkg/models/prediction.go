package models

// PredictionResponse is the body returned for a successful upload.
type PredictionResponse struct {
	ClassName        string             `json:"class_name"`
	Confidence       float64            `json:"confidence"`
	AllClasses       map[string]float64 `json:"all_classes"`
	ProcessingTime   string             `json:"processing_time"`
	ImageURL         string             `json:"image_url,omitempty"`
	VisualizationURL string             `json:"visualization_url,omitempty"`
	Warnings         []string           `json:"warnings,omitempty"`
	Attention        Attention          `json:"attention"`
}

// Attention describes where the overlay's saliency field came from.
// Diagnostic is false for synthetic maps, which carry no information about the input.
type Attention struct {
	Source     string `json:"source"`
	Diagnostic bool   `json:"diagnostic"`
}

// ModelDetails is the descriptive model record shown by /api/model and the HTML pages.
type ModelDetails struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Target      string   `json:"target"`
	Classes     []string `json:"classes"`
	InputSize   string   `json:"input_size"`
	Description string   `json:"description"`
}
