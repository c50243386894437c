package phonetic_test

import (
	"testing"

	"github.com/moshi-chat/moshi/internal/transcript/phonetic"
)

func TestMatcher_PhoneticMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New()

	// "kroissant" shares the Double Metaphone code of "croissant" and should
	// clear the phonetic threshold on similarity.
	terms := []string{"croissant", "fromage", "boulangerie"}

	term, score, ok := m.Match("kroissant", terms)
	if !ok {
		t.Fatalf("Match(%q, terms): ok=false, want true", "kroissant")
	}
	if term != "croissant" {
		t.Errorf("Match(%q): term=%q, want %q", "kroissant", term, "croissant")
	}
	if score < 0.7 {
		t.Errorf("Match(%q): score=%f, want >= 0.7", "kroissant", score)
	}
}

func TestMatcher_VowelDrift(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	terms := []string{"bonjour", "merci"}

	term, score, ok := m.Match("bonjoor", terms)
	if !ok {
		t.Fatalf("Match(%q, terms): ok=false, want true", "bonjoor")
	}
	if term != "bonjour" {
		t.Errorf("Match(%q): term=%q, want %q", "bonjoor", term, "bonjour")
	}
	if score < 0.7 {
		t.Errorf("Match(%q): score=%f, want >= 0.7", "bonjoor", score)
	}
}

func TestMatcher_FuzzyFallback(t *testing.T) {
	t.Parallel()

	m := phonetic.New()

	// "parks" and "paris" have different metaphone codes, so only the strict
	// fuzzy path can align them.
	term, score, ok := m.Match("parks", []string{"paris"})
	if !ok {
		t.Fatalf("Match(%q): ok=false, want true via fuzzy fallback", "parks")
	}
	if term != "paris" {
		t.Errorf("Match(%q): term=%q, want %q", "parks", term, "paris")
	}
	if score < 0.85 {
		t.Errorf("Match(%q): score=%f, want >= 0.85", "parks", score)
	}
}

func TestMatcher_NoMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	terms := []string{"croissant", "fromage"}

	term, score, ok := m.Match("hello", terms)
	if ok {
		t.Fatalf("Match(%q, terms): ok=true, want false", "hello")
	}
	if term != "hello" {
		t.Errorf("Match(%q): term=%q, want original word back", "hello", term)
	}
	if score != 0 {
		t.Errorf("Match(%q): score=%f, want 0", "hello", score)
	}
}

func TestMatcher_CaseInsensitivity(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	terms := []string{"Versailles"}

	term, _, ok := m.Match("VERSAILLES", terms)
	if !ok {
		t.Fatalf("Match(%q, terms): ok=false, want true", "VERSAILLES")
	}
	// The canonical casing from the vocabulary wins.
	if term != "Versailles" {
		t.Errorf("Match(%q): term=%q, want %q", "VERSAILLES", term, "Versailles")
	}
}

func TestMatcher_ExactMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	terms := []string{"merci", "bonjour"}

	term, score, ok := m.Match("merci", terms)
	if !ok {
		t.Fatalf("Match(%q, terms): ok=false, want true", "merci")
	}
	if term != "merci" {
		t.Errorf("Match(%q): term=%q, want %q", "merci", term, "merci")
	}
	if score < 0.99 {
		t.Errorf("Match(%q): score=%f, want ~1.0 for exact match", "merci", score)
	}
}

func TestMatcher_ThresholdFiltering(t *testing.T) {
	t.Parallel()

	m := phonetic.New(
		phonetic.WithPhoneticThreshold(0.99),
		phonetic.WithFuzzyThreshold(0.99),
	)

	if _, _, ok := m.Match("kroissant", []string{"croissant"}); ok {
		t.Fatal("Match with thresholds at 0.99 should reject near-matches")
	}
}

func TestMatcher_EmptyInputs(t *testing.T) {
	t.Parallel()

	m := phonetic.New()

	if _, _, ok := m.Match("croissant", nil); ok {
		t.Fatal("Match with no terms should return ok=false")
	}
	term, score, ok := m.Match("", []string{"croissant"})
	if ok {
		t.Fatal("Match with empty word should return ok=false")
	}
	if term != "" || score != 0 {
		t.Errorf("Match(\"\"): term=%q score=%f, want empty and 0", term, score)
	}
}
