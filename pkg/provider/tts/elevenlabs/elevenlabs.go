// Package elevenlabs synthesizes speech through the ElevenLabs streaming
// WebSocket API. Each Synthesize call opens one stream, sends the full text,
// and collects audio until the service marks the stream final.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/moshi-chat/moshi/pkg/audio"
	"github.com/moshi-chat/moshi/pkg/provider/tts"
	"github.com/moshi-chat/moshi/pkg/types"
)

const (
	wsEndpointFmt    = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s"
	voicesEndpoint   = "https://api.elevenlabs.io/v1/voices"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_24000"
)

// Ensure Provider implements the tts.Provider interface.
var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for [New].
type Option func(*Provider)

// WithModel overrides the default ElevenLabs model ID.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat selects the audio output format. Only pcm_<rate> formats
// are accepted; [New] rejects everything else.
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// Provider synthesizes speech over the ElevenLabs streaming WebSocket API.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	httpClient   *http.Client
}

// New returns a Provider for the given API key. The output format is
// validated here so a misconfigured format fails at startup rather than on
// the first utterance.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		httpClient:   &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	if _, err := parseOutputRate(p.outputFormat); err != nil {
		return nil, err
	}
	return p, nil
}

// textMessage is one text fragment on the input stream. Marshalling an
// empty Text yields the flush command.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// voiceSettings carries the ElevenLabs voice_settings knobs.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// audioResponse is one inbound service message. Audio holds base64 PCM.
type audioResponse struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
}

// boiMessage opens the stream: it authenticates and pins the output format.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
	OutputFormat  string         `json:"output_format,omitempty"`
}

// Synthesize implements tts.Provider. voice.Name carries the ElevenLabs
// voice_id.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.Voice) (audio.Frame, error) {
	if strings.TrimSpace(text) == "" {
		return audio.Frame{}, errors.New("elevenlabs: empty text")
	}
	if voice.Name == "" {
		return audio.Frame{}, errors.New("elevenlabs: voice has no name")
	}

	rate, err := parseOutputRate(p.outputFormat)
	if err != nil {
		return audio.Frame{}, err
	}

	conn, _, err := websocket.Dial(ctx, buildURLForVoice(voice.Name, p.model), nil)
	if err != nil {
		return audio.Frame{}, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}

	// BOI handshake, the text itself, then the empty-text flush that tells
	// the service no more input is coming.
	boi := boiMessage{Text: " ", VoiceSettings: vs, XiAPIKey: p.apiKey, OutputFormat: p.outputFormat}
	boiBytes, _ := json.Marshal(boi)
	if err := conn.Write(ctx, websocket.MessageText, boiBytes); err != nil {
		return audio.Frame{}, fmt.Errorf("elevenlabs: send BOI: %w", err)
	}
	msgBytes, _ := buildWSMessage(text, nil)
	if err := conn.Write(ctx, websocket.MessageText, msgBytes); err != nil {
		return audio.Frame{}, fmt.Errorf("elevenlabs: send text: %w", err)
	}
	flushBytes, _ := buildWSMessage("", nil)
	if err := conn.Write(ctx, websocket.MessageText, flushBytes); err != nil {
		return audio.Frame{}, fmt.Errorf("elevenlabs: flush: %w", err)
	}

	var pcm []byte
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			// The service may close the socket instead of sending isFinal.
			if len(pcm) > 0 || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			if ctx.Err() != nil {
				return audio.Frame{}, fmt.Errorf("elevenlabs: read audio: %w", ctx.Err())
			}
			return audio.Frame{}, fmt.Errorf("elevenlabs: read audio: %w", err)
		}
		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				continue
			}
			pcm = append(pcm, chunk...)
		}
		if resp.IsFinal {
			break
		}
	}

	return audio.Frame{Data: pcm, SampleRate: rate, Channels: 1}, nil
}

// voicesResponse wraps the GET /v1/voices payload.
type voicesResponse struct {
	Voices []elevenLabsVoice `json:"voices"`
}

// elevenLabsVoice is one entry of the remote voice catalogue.
type elevenLabsVoice struct {
	VoiceID  string            `json:"voice_id"`
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Labels   map[string]string `json:"labels"`
}

// Voices implements tts.Provider. The catalogue endpoint has no language
// filter, so filtering happens client-side against the voice's language
// label (primary subtag match).
func (p *Provider) Voices(ctx context.Context, language string) ([]types.Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, voicesEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: voices request: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: voices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: voices: status %d", resp.StatusCode)
	}

	var vr voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("elevenlabs: decode voices: %w", err)
	}

	rate, err := parseOutputRate(p.outputFormat)
	if err != nil {
		return nil, err
	}
	return filterVoices(vr.Voices, language, rate), nil
}

// filterVoices maps catalogue entries to the provider-neutral shape, keeping
// only those matching the requested language (empty keeps all).
func filterVoices(entries []elevenLabsVoice, language string, rate int) []types.Voice {
	want := primarySubtag(language)
	voices := make([]types.Voice, 0, len(entries))
	for _, v := range entries {
		lang := v.Labels["language"]
		if want != "" && primarySubtag(lang) != want {
			continue
		}
		voices = append(voices, types.Voice{
			Name:             v.VoiceID,
			Language:         lang,
			Gender:           strings.ToUpper(v.Labels["gender"]),
			Model:            v.Category,
			NativeSampleRate: rate,
		})
	}
	return voices
}

// buildWSMessage marshals one text fragment for the input stream.
func buildWSMessage(text string, vs *voiceSettings) ([]byte, error) {
	return json.Marshal(textMessage{Text: text, VoiceSettings: vs})
}

// buildURLForVoice fills in the stream-input endpoint for a voice/model pair.
func buildURLForVoice(voiceID, model string) string {
	return fmt.Sprintf(wsEndpointFmt, voiceID, model)
}

// parseOutputRate extracts the sample rate from an output format name like
// "pcm_24000".
func parseOutputRate(format string) (int, error) {
	rest, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0, fmt.Errorf("elevenlabs: unsupported output format %q (want pcm_<rate>)", format)
	}
	rate, err := strconv.Atoi(rest)
	if err != nil || rate <= 0 {
		return 0, fmt.Errorf("elevenlabs: unsupported output format %q (want pcm_<rate>)", format)
	}
	return rate, nil
}

// primarySubtag reduces a BCP 47 tag to its primary language subtag:
// "en-US" becomes "en".
func primarySubtag(language string) string {
	if i := strings.IndexByte(language, '-'); i >= 0 {
		return language[:i]
	}
	return language
}
