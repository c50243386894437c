// Package phonetic matches misheard words against known vocabulary.
//
// Speech recognition of language learners drifts on exactly the words that
// matter: the foreign vocabulary the learner is practising comes back
// misspelled when the recognizer guesses from sound. The matcher aligns such
// words with the vocabulary the assistant actually used, in two stages:
//
//  1. Phonetic gate: Double Metaphone codes are computed for the input word
//     and each vocabulary term. A term whose code matches becomes a
//     candidate.
//
//  2. Jaro-Winkler ranking: among candidates, the term with the highest
//     Jaro-Winkler similarity wins, provided it clears the phonetic
//     threshold. When the gate produces no candidate at all, a stricter
//     pure-similarity fallback threshold applies instead.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-gated term to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// term passes the phonetic gate. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher aligns single words with vocabulary terms. It is read-only after
// construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a Matcher configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match returns the vocabulary term most likely misheard as word, with its
// similarity score. When ok is false, term equals word unchanged and score
// is 0. Comparison is case-insensitive; the returned term keeps the casing
// it has in terms.
func (m *Matcher) Match(word string, terms []string) (term string, score float64, ok bool) {
	w := strings.ToLower(strings.TrimSpace(word))
	if w == "" || len(terms) == 0 {
		return word, 0, false
	}
	wp, ws := matchr.DoubleMetaphone(w)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, t := range terms {
		tl := strings.ToLower(strings.TrimSpace(t))
		if tl == "" {
			continue
		}
		tp, ts := matchr.DoubleMetaphone(tl)
		gated := codesOverlap(wp, ws, tp, ts)
		jw := matchr.JaroWinkler(w, tl, false)

		if gated {
			if jw >= m.phoneticThreshold && (!bestPhonetic || jw > bestScore) {
				best, bestScore, bestPhonetic = t, jw, true
			}
			continue
		}
		if !bestPhonetic && jw >= m.fuzzyThreshold && jw > bestScore {
			best, bestScore = t, jw
		}
	}

	if best == "" {
		return word, 0, false
	}
	return best, bestScore, true
}

// codesOverlap reports whether any primary or secondary Double Metaphone code
// of the word equals one of the term. Empty codes never match.
func codesOverlap(wp, ws, tp, ts string) bool {
	eq := func(a, b string) bool { return a != "" && a == b }
	return eq(wp, tp) || eq(wp, ts) || eq(ws, tp) || eq(ws, ts)
}
