package domain

// LanguageUnknown is the sentinel language code for undetectable texts.
const LanguageUnknown = "unknown"

// LanguageDetector maps a text to an ISO 639-1 code. Implementations
// return ErrLanguageUndetected when no language can be determined.
type LanguageDetector interface {
	Detect(text string) (string, error)
}
