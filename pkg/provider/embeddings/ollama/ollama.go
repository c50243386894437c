// Package ollama provides an embeddings provider backed by a local Ollama
// server (https://ollama.com) via its /api/embed endpoint. It is the
// self-hosted alternative to the OpenAI provider for transcript search.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/moshi-chat/moshi/pkg/provider/embeddings"
)

// DefaultBaseURL is where a locally running Ollama instance listens.
const DefaultBaseURL = "http://localhost:11434"

// modelDims maps common Ollama embedding models (base name, without any
// ":tag" suffix) to their vector widths. Models not listed here are probed
// against the live server on the first Dimensions call.
var modelDims = map[string]int{
	"nomic-embed-text":  768,
	"mxbai-embed-large": 1024,
	"all-minilm":        384,
}

var _ embeddings.Provider = (*Provider)(nil)

// Provider computes embeddings through an Ollama server. It is safe for
// concurrent use.
type Provider struct {
	baseURL string
	model   string
	client  *http.Client

	dims      int
	probeOnce sync.Once
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithTimeout bounds each HTTP request. Zero or negative means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.client.Timeout = d
		}
	}
}

// WithDimensions pins the vector width, skipping both the model table and
// the probe request.
func WithDimensions(dims int) Option {
	return func(p *Provider) {
		p.dims = dims
	}
}

// New constructs the provider. An empty baseURL selects DefaultBaseURL;
// model must not be empty.
func New(baseURL, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama embeddings: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	p := &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	if p.dims == 0 {
		base, _, _ := strings.Cut(model, ":")
		p.dims = modelDims[base]
	}
	return p, nil
}

// Embed implements embeddings.Provider. The text goes to the server
// verbatim; model-specific prompt prefixes ("query: " for nomic-embed-text)
// are the caller's concern.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: %w", err)
	}
	return vecs[0], nil
}

// EmbedBatch implements embeddings.Provider with one /api/embed request for
// the whole batch. Empty input returns (nil, nil) without a network call.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("ollama embeddings: got %d vectors for %d texts", len(vecs), len(texts))
	}
	return vecs, nil
}

// Dimensions implements embeddings.Provider. Models outside the built-in
// table are probed once with a single embed request and the width is cached
// for the provider's lifetime. A failed probe reports 0.
func (p *Provider) Dimensions() int {
	if p.dims == 0 {
		p.probeOnce.Do(func() {
			vecs, err := p.embed(context.Background(), []string{"probe"})
			if err == nil && len(vecs) > 0 {
				p.dims = len(vecs[0])
			}
		})
	}
	return p.dims
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string {
	return p.model
}

// embedRequest and embedResponse mirror the /api/embed wire format.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// embed posts one /api/embed request and returns the raw vectors, at least
// one guaranteed on success.
func (p *Provider) embed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("/api/embed: unexpected status %d", resp.StatusCode)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Embeddings) == 0 {
		return nil, fmt.Errorf("/api/embed: no embeddings in response")
	}
	return out.Embeddings, nil
}
