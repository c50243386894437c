package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/moshi-chat/moshi/pkg/audio"
	ttsmock "github.com/moshi-chat/moshi/pkg/provider/tts/mock"
	"github.com/moshi-chat/moshi/pkg/types"
)

func TestTTSFallback_PrimaryWins(t *testing.T) {
	primary := &ttsmock.Provider{
		SynthesizeFrames: []audio.Frame{{Data: []byte{1, 2}, SampleRate: 24000, Channels: 1}},
	}
	secondary := &ttsmock.Provider{
		SynthesizeFrames: []audio.Frame{{Data: []byte{3, 4}, SampleRate: 22050, Channels: 1}},
	}

	fb := NewTTSFallback("google", primary, BreakerConfig{})
	fb.AddFallback("elevenlabs", secondary)

	frame, err := fb.Synthesize(context.Background(), "Bonjour !", types.Voice{Name: "fr-FR-Standard-C"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if frame.SampleRate != 24000 {
		t.Fatalf("sample rate = %d, want 24000", frame.SampleRate)
	}
	if n := len(secondary.SynthesizeCalls); n != 0 {
		t.Fatalf("secondary called %d times, want 0", n)
	}
}

func TestTTSFallback_FailsOver(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("quota exceeded")}
	secondary := &ttsmock.Provider{
		SynthesizeFrames: []audio.Frame{{Data: []byte{3, 4}, SampleRate: 22050, Channels: 1}},
	}

	fb := NewTTSFallback("google", primary, BreakerConfig{})
	fb.AddFallback("elevenlabs", secondary)

	frame, err := fb.Synthesize(context.Background(), "Bonjour !", types.Voice{Name: "fr-FR-Standard-C"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if frame.SampleRate != 22050 {
		t.Fatalf("sample rate = %d, want 22050", frame.SampleRate)
	}

	// The requested voice reaches the fallback unchanged.
	if v := secondary.SynthesizeCalls[0].Voice.Name; v != "fr-FR-Standard-C" {
		t.Fatalf("fallback voice = %q, want %q", v, "fr-FR-Standard-C")
	}
}

func TestTTSFallback_AllFail(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("quota exceeded")}
	secondary := &ttsmock.Provider{SynthesizeErr: errors.New("unauthorized")}

	fb := NewTTSFallback("google", primary, BreakerConfig{})
	fb.AddFallback("elevenlabs", secondary)

	_, err := fb.Synthesize(context.Background(), "Bonjour !", types.Voice{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestTTSFallback_VoicesFailsOver(t *testing.T) {
	primary := &ttsmock.Provider{VoicesErr: errors.New("quota exceeded")}
	secondary := &ttsmock.Provider{
		VoicesResult: []types.Voice{
			{Name: "fr-FR-Standard-C", Language: "fr-FR", Gender: "FEMALE"},
			{Name: "fr-FR-Standard-D", Language: "fr-FR", Gender: "MALE"},
		},
	}

	fb := NewTTSFallback("google", primary, BreakerConfig{})
	fb.AddFallback("elevenlabs", secondary)

	voices, err := fb.Voices(context.Background(), "fr")
	if err != nil {
		t.Fatalf("Voices: %v", err)
	}
	if len(voices) != 2 {
		t.Fatalf("got %d voices, want 2", len(voices))
	}
	if voices[0].Name != "fr-FR-Standard-C" {
		t.Fatalf("voices[0].Name = %q, want fr-FR-Standard-C", voices[0].Name)
	}
}
