package validation

import (
	"path/filepath"
	"strings"

	apperrors "go-medscan/internal/errors"
)

// DefaultAllowedExtensions lists the accepted upload formats.
var DefaultAllowedExtensions = []string{"png", "jpg", "jpeg", "dcm", "nii", "nii.gz"}

// UploadValidator handles upload filename validation
type UploadValidator struct {
	allowed []string
}

func NewUploadValidator() *UploadValidator {
	return NewUploadValidatorWithExtensions(DefaultAllowedExtensions)
}

func NewUploadValidatorWithExtensions(extensions []string) *UploadValidator {
	allowed := make([]string, len(extensions))
	for i, ext := range extensions {
		allowed[i] = strings.ToLower(strings.TrimPrefix(ext, "."))
	}
	return &UploadValidator{allowed: allowed}
}

// Extension returns the lower-case extension of filename without the leading dot.
// Multi-part extensions such as "nii.gz" are matched as a whole.
func (v *UploadValidator) Extension(filename string) (string, error) {
	name := strings.ToLower(filepath.Base(strings.TrimSpace(filename)))
	if name == "" || name == "." {
		return "", apperrors.NewValidationError("No selected file", nil)
	}

	best := ""
	for _, ext := range v.allowed {
		if len(name) > len(ext)+1 && strings.HasSuffix(name, "."+ext) && len(ext) > len(best) {
			best = ext
		}
	}
	if best == "" {
		return "", apperrors.NewValidationError("File type not allowed", nil)
	}
	return best, nil
}
