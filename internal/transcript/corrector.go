package transcript

import (
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/moshi-chat/moshi/internal/transcript/phonetic"
)

// defaultMinWordLength skips words too short for phonetic repair; mishearing
// them costs little and false corrections cost a lot.
const defaultMinWordLength = 4

// CorrectorOption is a functional option for configuring a [Corrector].
type CorrectorOption func(*Corrector)

// WithMatcher replaces the default phonetic matcher, e.g. to tune thresholds.
func WithMatcher(m *phonetic.Matcher) CorrectorOption {
	return func(c *Corrector) {
		c.matcher = m
	}
}

// WithMinWordLength sets the minimum word length (in runes) considered for
// correction. Default: 4.
func WithMinWordLength(n int) CorrectorOption {
	return func(c *Corrector) {
		c.minWordLength = n
	}
}

// Corrector repairs misheard words in raw speech-to-text output by aligning
// them phonetically with vocabulary the session has already used. It runs
// in-process with no network calls, fast enough to sit between transcription
// and the conversation history on every turn.
//
// A Corrector is read-only after construction and safe for concurrent use.
type Corrector struct {
	matcher       *phonetic.Matcher
	minWordLength int
}

// NewCorrector returns a Corrector with default matching thresholds.
func NewCorrector(opts ...CorrectorOption) *Corrector {
	c := &Corrector{
		matcher:       phonetic.New(),
		minWordLength: defaultMinWordLength,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Correct rewrites words in text that phonetically match a vocabulary term,
// keeping the term's canonical casing and the word's surrounding punctuation.
// Words already present in the vocabulary and words shorter than the minimum
// length pass through untouched. Returns text unchanged when nothing matches.
func (c *Corrector) Correct(text string, vocabulary []string) string {
	if len(vocabulary) == 0 {
		return text
	}
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text
	}

	changed := false
	for i, tok := range tokens {
		prefix, core, suffix := splitToken(tok)
		if utf8.RuneCountInString(core) < c.minWordLength {
			continue
		}
		if containsFold(vocabulary, core) {
			continue
		}
		term, score, ok := c.matcher.Match(core, vocabulary)
		if !ok {
			continue
		}
		slog.Debug("transcript: corrected word", "from", core, "to", term, "score", score)
		tokens[i] = prefix + term + suffix
		changed = true
	}
	if !changed {
		return text
	}
	return strings.Join(tokens, " ")
}

// splitToken separates a token into leading punctuation, the word itself and
// trailing punctuation, so "croissant?" corrects cleanly.
func splitToken(tok string) (prefix, core, suffix string) {
	start := 0
	for start < len(tok) {
		r, size := utf8.DecodeRuneInString(tok[start:])
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			break
		}
		start += size
	}
	end := len(tok)
	for end > start {
		r, size := utf8.DecodeLastRuneInString(tok[start:end])
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			break
		}
		end -= size
	}
	return tok[:start], tok[start:end], tok[end:]
}

func containsFold(terms []string, word string) bool {
	for _, t := range terms {
		if strings.EqualFold(t, word) {
			return true
		}
	}
	return false
}
