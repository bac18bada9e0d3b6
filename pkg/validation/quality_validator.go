package validation

import (
	"go-medscan/internal/imaging"
)

// QualityThresholds defines configurable thresholds for input quality checks.
// Values are on the [0,1] luma scale.
type QualityThresholds struct {
	MinStdDev float64
	MinMean   float64
	MaxMean   float64
}

// DefaultQualityThresholds returns the default quality thresholds
func DefaultQualityThresholds() QualityThresholds {
	return QualityThresholds{
		MinStdDev: 0.02,
		MinMean:   0.05,
		MaxMean:   0.95,
	}
}

// QualityValidator flags inputs the classifier is unlikely to handle well.
type QualityValidator struct {
	thresholds QualityThresholds
}

func NewQualityValidator() *QualityValidator {
	return &QualityValidator{
		thresholds: DefaultQualityThresholds(),
	}
}

func NewQualityValidatorWithThresholds(thresholds QualityThresholds) *QualityValidator {
	return &QualityValidator{
		thresholds: thresholds,
	}
}

// QualityIssue represents a quality validation issue
type QualityIssue struct {
	Type        string  `json:"type"`
	Message     string  `json:"message"`
	Severity    string  `json:"severity"` // "error", "warning", "info"
	ActualValue float64 `json:"actual_value,omitempty"`
	Threshold   float64 `json:"threshold,omitempty"`
}

// Check inspects buffer statistics. Issues never block a prediction.
func (qv *QualityValidator) Check(stats imaging.Stats) []QualityIssue {
	var issues []QualityIssue

	if stats.StdDev < qv.thresholds.MinStdDev {
		issues = append(issues, QualityIssue{
			Type:        "low_contrast",
			Message:     "input is nearly uniform; prediction may be unreliable",
			Severity:    "warning",
			ActualValue: stats.StdDev,
			Threshold:   qv.thresholds.MinStdDev,
		})
	}

	if stats.Mean < qv.thresholds.MinMean {
		issues = append(issues, QualityIssue{
			Type:        "too_dark",
			Message:     "input is very dark; prediction may be unreliable",
			Severity:    "warning",
			ActualValue: stats.Mean,
			Threshold:   qv.thresholds.MinMean,
		})
	} else if stats.Mean > qv.thresholds.MaxMean {
		issues = append(issues, QualityIssue{
			Type:        "too_bright",
			Message:     "input is very bright; prediction may be unreliable",
			Severity:    "warning",
			ActualValue: stats.Mean,
			Threshold:   qv.thresholds.MaxMean,
		})
	}

	return issues
}

// ConvertIssuesToMessages converts quality issues to plain warning strings
func (qv *QualityValidator) ConvertIssuesToMessages(issues []QualityIssue) []string {
	var messages []string
	for _, issue := range issues {
		messages = append(messages, issue.Message)
	}
	return messages
}
