// Package langdetect detects the language of patent abstracts using lingua-go.
package langdetect

import (
	"fmt"
	"strings"

	"github.com/pemistahl/lingua-go"

	"github.com/kailas-cloud/patsearch/internal/domain"
)

// Detector implements domain.LanguageDetector on top of lingua-go.
type Detector struct {
	detector lingua.LanguageDetector
}

// NewDetector builds a detector over all lingua-supported languages.
// Building the models is expensive, construct once and share.
func NewDetector() *Detector {
	return &Detector{
		detector: lingua.NewLanguageDetectorBuilder().
			FromAllLanguages().
			Build(),
	}
}

// Detect returns the lowercase ISO 639-1 code of the detected language.
// Returns domain.ErrLanguageUndetected when no language can be determined.
func (d *Detector) Detect(text string) (string, error) {
	lang, ok := d.detector.DetectLanguageOf(text)
	if !ok {
		return "", fmt.Errorf("detect language: %w", domain.ErrLanguageUndetected)
	}
	return strings.ToLower(lang.IsoCode639_1().String()), nil
}
