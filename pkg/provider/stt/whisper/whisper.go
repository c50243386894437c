// Package whisper provides an in-process STT provider backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.
//
// The model is loaded once at construction and shared across calls; each
// Transcribe creates its own whisper context, so concurrent transcriptions
// do not interfere.
//
// Usage:
//
//	p, err := whisper.New("/models/ggml-base.bin")
//	text, err := p.Transcribe(ctx, utterance, "fr")
//	p.Close()
package whisper

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/moshi-chat/moshi/pkg/audio"
	"github.com/moshi-chat/moshi/pkg/provider/stt"
)

// whisperSampleRate is the only input rate whisper.cpp accepts.
const whisperSampleRate = 16000

// Ensure Provider implements the stt.Provider interface.
var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using whisper.cpp Go bindings (CGO),
// eliminating network overhead entirely.
type Provider struct {
	model whisperlib.Model
}

// New creates a Provider that loads the whisper.cpp model from the given
// file path. The caller must call Close when the provider is no longer
// needed.
func New(modelPath string) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	return &Provider{model: model}, nil
}

// Close releases the whisper model.
func (p *Provider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe implements stt.Provider. The utterance is downmixed to mono,
// resampled to 16 kHz and converted to normalised float32 before inference.
func (p *Provider) Transcribe(ctx context.Context, utterance audio.Frame, language string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	if len(utterance.Data) == 0 {
		return "", errors.New("whisper: empty utterance")
	}

	samples := prepareSamples(utterance)

	// Each context is NOT thread-safe, but the model can be shared.
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if lang := primarySubtag(language); lang != "" {
		if err := wctx.SetLanguage(lang); err != nil {
			return "", fmt.Errorf("whisper: set language %q: %w", lang, err)
		}
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " "), nil
}

// prepareSamples converts an arbitrary PCM frame into 16 kHz mono float32.
func prepareSamples(f audio.Frame) []float32 {
	pcm := f.Data
	if f.Channels == 2 {
		pcm = audio.StereoToMono(pcm)
	}
	pcm = audio.ResampleMono16(pcm, f.SampleRate, whisperSampleRate)

	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		samples[i] = float32(s) / 32768.0
	}
	return samples
}

// primarySubtag reduces a BCP-47 tag to the two-letter code whisper expects.
func primarySubtag(tag string) string {
	tag = strings.TrimSpace(tag)
	if i := strings.IndexByte(tag, '-'); i >= 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}
