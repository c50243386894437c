// Package openai provides an STT provider backed by the OpenAI audio
// transcription API (whisper-1).
package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/moshi-chat/moshi/pkg/audio"
	"github.com/moshi-chat/moshi/pkg/provider/stt"
)

// DefaultModel is the default OpenAI transcription model.
const DefaultModel = "whisper-1"

// Ensure Provider implements the stt.Provider interface.
var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using the OpenAI API. Each utterance is
// wrapped in an in-memory WAV container and uploaded in one request.
type Provider struct {
	client oai.Client
	model  string
}

// settings collects SDK request options during construction.
type settings struct {
	reqOpts []option.RequestOption
}

// Option adds optional client configuration to New.
type Option func(*settings)

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(s *settings) {
		s.reqOpts = append(s.reqOpts, option.WithBaseURL(url))
	}
}

// WithTimeout sets a per-request HTTP timeout. Non-positive values are
// ignored.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.reqOpts = append(s.reqOpts, option.WithHTTPClient(&http.Client{Timeout: d}))
		}
	}
}

// New constructs a new OpenAI STT Provider. If model is empty, DefaultModel
// (whisper-1) is used.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	s := settings{reqOpts: []option.RequestOption{option.WithAPIKey(apiKey)}}
	for _, o := range opts {
		o(&s)
	}

	return &Provider{client: oai.NewClient(s.reqOpts...), model: model}, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, utterance audio.Frame, language string) (string, error) {
	if len(utterance.Data) == 0 {
		return "", fmt.Errorf("openai stt: empty utterance")
	}

	wav := audio.EncodeWAV(utterance)
	params := oai.AudioTranscriptionNewParams{
		Model: p.model,
		File:  oai.File(bytes.NewReader(wav), "utterance.wav", "audio/wav"),
	}
	if lang := primarySubtag(language); lang != "" {
		params.Language = param.NewOpt(lang)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai stt: transcribe: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// primarySubtag reduces a BCP-47 tag to the ISO-639-1 code whisper expects
// ("fr-CA" -> "fr").
func primarySubtag(tag string) string {
	tag = strings.TrimSpace(tag)
	if i := strings.IndexByte(tag, '-'); i >= 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}
