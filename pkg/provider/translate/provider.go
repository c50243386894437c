// Package translate defines the Provider interface for language detection
// backends.
//
// Each session detects its language once, from the user's first transcribed
// utterance, and uses the result to pick a synthesis voice. Full text
// translation is out of scope; detection is the only operation the call
// pipeline needs.
//
// Implementations must be safe for concurrent use.
package translate

import "context"

// Provider is the abstraction over any language detection backend.
type Provider interface {
	// DetectLanguage returns the BCP 47 tag of the language the text is most
	// likely written in (e.g., "en", "de", "pt-BR"). An empty text returns an
	// error.
	DetectLanguage(ctx context.Context, text string) (string, error)
}
