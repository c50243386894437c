// Package google provides a Google Cloud Text-to-Speech backed TTS provider.
//
// Synthesis requests LINEAR16 at 24 kHz; the service wraps the PCM in a WAV
// container which is decoded before returning. Authentication uses
// Application Default Credentials unless overridden via client options.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"google.golang.org/api/option"

	"github.com/moshi-chat/moshi/pkg/audio"
	"github.com/moshi-chat/moshi/pkg/provider/tts"
	"github.com/moshi-chat/moshi/pkg/types"
)

// synthesisSampleRate is the rate requested from the service. 24 kHz mono is
// the best LINEAR16 quality Google offers for Standard voices; the caller
// converts to the session format.
const synthesisSampleRate = 24000

// Ensure Provider implements the tts.Provider interface.
var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider backed by Google Cloud Text-to-Speech.
type Provider struct {
	client *texttospeech.Client
}

// New creates a new Google TTS Provider. Credentials come from the
// environment (Application Default Credentials) unless opts override them.
func New(ctx context.Context, opts ...option.ClientOption) (*Provider, error) {
	client, err := texttospeech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google tts: create client: %w", err)
	}
	return &Provider{client: client}, nil
}

// Close releases the underlying gRPC connection.
func (p *Provider) Close() error {
	return p.client.Close()
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.Voice) (audio.Frame, error) {
	if strings.TrimSpace(text) == "" {
		return audio.Frame{}, errors.New("google tts: empty text")
	}
	if voice.Name == "" {
		return audio.Frame{}, errors.New("google tts: voice has no name")
	}

	resp, err := p.client.SynthesizeSpeech(ctx, &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: voice.Language,
			Name:         voice.Name,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding:   texttospeechpb.AudioEncoding_LINEAR16,
			SampleRateHertz: synthesisSampleRate,
		},
	})
	if err != nil {
		return audio.Frame{}, fmt.Errorf("google tts: synthesize: %w", err)
	}

	frame, err := audio.DecodeWAV(resp.GetAudioContent())
	if err != nil {
		return audio.Frame{}, fmt.Errorf("google tts: decode response: %w", err)
	}
	return frame, nil
}

// Voices implements tts.Provider.
func (p *Provider) Voices(ctx context.Context, language string) ([]types.Voice, error) {
	resp, err := p.client.ListVoices(ctx, &texttospeechpb.ListVoicesRequest{
		LanguageCode: language,
	})
	if err != nil {
		return nil, fmt.Errorf("google tts: list voices: %w", err)
	}

	voices := make([]types.Voice, 0, len(resp.GetVoices()))
	for _, v := range resp.GetVoices() {
		voices = append(voices, mapVoice(v))
	}
	return voices, nil
}

// mapVoice converts a service voice record into the provider-neutral shape.
func mapVoice(v *texttospeechpb.Voice) types.Voice {
	lang := ""
	if codes := v.GetLanguageCodes(); len(codes) > 0 {
		lang = codes[0]
	}
	return types.Voice{
		Name:             v.GetName(),
		Language:         lang,
		Gender:           v.GetSsmlGender().String(),
		Model:            modelClass(v.GetName()),
		NativeSampleRate: int(v.GetNaturalSampleRateHertz()),
	}
}

// modelClass extracts the voice model family from a Google voice name:
// "en-US-Standard-C" yields "Standard", "de-DE-Wavenet-A" yields "Wavenet".
func modelClass(name string) string {
	parts := strings.Split(name, "-")
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-2]
}
