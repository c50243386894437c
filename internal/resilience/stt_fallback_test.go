package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/moshi-chat/moshi/pkg/audio"
	sttmock "github.com/moshi-chat/moshi/pkg/provider/stt/mock"
)

func TestSTTFallback_PrimaryWins(t *testing.T) {
	primary := &sttmock.Provider{Texts: []string{"bonjour"}}
	secondary := &sttmock.Provider{Texts: []string{"guten tag"}}

	fb := NewSTTFallback("whisper", primary, BreakerConfig{})
	fb.AddFallback("openai", secondary)

	text, err := fb.Transcribe(context.Background(), audio.Frame{}, "fr")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "bonjour" {
		t.Fatalf("text = %q, want %q", text, "bonjour")
	}
	if n := secondary.CallCount(); n != 0 {
		t.Fatalf("secondary called %d times, want 0", n)
	}
}

func TestSTTFallback_FailsOver(t *testing.T) {
	primary := &sttmock.Provider{TranscribeErr: errors.New("model not loaded")}
	secondary := &sttmock.Provider{Texts: []string{"bonjour"}}

	fb := NewSTTFallback("whisper", primary, BreakerConfig{})
	fb.AddFallback("openai", secondary)

	text, err := fb.Transcribe(context.Background(), audio.Frame{}, "fr")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "bonjour" {
		t.Fatalf("text = %q, want %q", text, "bonjour")
	}

	// The language hint reaches the fallback unchanged.
	if lang := secondary.TranscribeCalls[0].Language; lang != "fr" {
		t.Fatalf("fallback language = %q, want %q", lang, "fr")
	}
}

func TestSTTFallback_OpenBreakerSparesPrimary(t *testing.T) {
	primary := &sttmock.Provider{TranscribeErr: errors.New("model not loaded")}
	secondary := &sttmock.Provider{Texts: []string{"bonjour"}}

	fb := NewSTTFallback("whisper", primary, BreakerConfig{MaxFailures: 2, CoolDown: time.Hour})
	fb.AddFallback("openai", secondary)

	for range 3 {
		if _, err := fb.Transcribe(context.Background(), audio.Frame{}, "fr"); err != nil {
			t.Fatalf("Transcribe: %v", err)
		}
	}

	// Two failures trip the breaker; the third call skips the primary.
	if n := primary.CallCount(); n != 2 {
		t.Fatalf("primary called %d times, want 2", n)
	}
	if n := secondary.CallCount(); n != 3 {
		t.Fatalf("secondary called %d times, want 3", n)
	}
}

func TestSTTFallback_AllFail(t *testing.T) {
	primary := &sttmock.Provider{TranscribeErr: errors.New("model not loaded")}

	fb := NewSTTFallback("whisper", primary, BreakerConfig{})

	_, err := fb.Transcribe(context.Background(), audio.Frame{}, "")
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
