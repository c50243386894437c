// Package deepgram provides a Deepgram-backed STT provider using the
// Deepgram streaming WebSocket API. Each utterance is sent as one bounded
// stream: connect, push the PCM, close the stream, collect the finals.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/moshi-chat/moshi/pkg/audio"
	"github.com/moshi-chat/moshi/pkg/provider/stt"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"

	// writeChunkBytes keeps individual WebSocket messages comfortably under
	// Deepgram's frame limits.
	writeChunkBytes = 32 * 1024
)

// Ensure Provider implements the stt.Provider interface.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey string
	model  string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey: apiKey,
		model:  defaultModel,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, utterance audio.Frame, language string) (string, error) {
	if len(utterance.Data) == 0 {
		return "", errors.New("deepgram: empty utterance")
	}

	wsURL, err := p.buildURL(utterance.Format(), language)
	if err != nil {
		return "", fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return "", fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// Push the whole utterance, then tell Deepgram the stream is over so it
	// flushes its final results.
	for off := 0; off < len(utterance.Data); off += writeChunkBytes {
		end := min(off+writeChunkBytes, len(utterance.Data))
		if err := conn.Write(ctx, websocket.MessageBinary, utterance.Data[off:end]); err != nil {
			return "", fmt.Errorf("deepgram: send audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return "", fmt.Errorf("deepgram: close stream: %w", err)
	}

	var parts []string
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			// The server closes the socket once all results are flushed; a
			// normal closure after at least one final is success.
			if len(parts) > 0 || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			if ctx.Err() != nil {
				return "", fmt.Errorf("deepgram: read results: %w", ctx.Err())
			}
			return "", fmt.Errorf("deepgram: read results: %w", err)
		}
		if text, final, ok := parseResponse(msg); ok && final && text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " "), nil
}

// buildURL constructs the streaming endpoint URL for one utterance.
func (p *Provider) buildURL(format audio.Format, language string) (string, error) {
	u, err := url.Parse(deepgramEndpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("punctuate", "true")
	q.Set("interim_results", "false")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(format.SampleRate))
	q.Set("channels", strconv.Itoa(format.Channels))
	if language != "" {
		q.Set("language", language)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// deepgramResponse is the JSON structure returned for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseResponse extracts the transcript text and finality from a raw
// Deepgram message. Non-Results messages report ok=false.
func parseResponse(data []byte) (text string, final bool, ok bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", false, false
	}
	if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
		return "", false, false
	}
	return strings.TrimSpace(resp.Channel.Alternatives[0].Transcript), resp.IsFinal, true
}
