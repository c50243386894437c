// Package openai provides an embeddings provider backed by the OpenAI
// embeddings API. The vectors feed the transcript store's semantic search.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/moshi-chat/moshi/pkg/provider/embeddings"
)

// DefaultModel is used when the configuration names no embeddings model.
const DefaultModel = oai.EmbeddingModelTextEmbedding3Small

// defaultDims is assumed for models missing from the table below.
const defaultDims = 1536

// modelDims maps the published OpenAI embedding models to their vector
// widths.
var modelDims = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

var _ embeddings.Provider = (*Provider)(nil)

// Provider computes embeddings through the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
	dims   int
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

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(s *settings) {
		s.reqOpts = append(s.reqOpts, option.WithOrganization(org))
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

// New constructs the provider. An empty model selects DefaultModel; the
// vector width is resolved once here.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai embeddings: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	s := settings{reqOpts: []option.RequestOption{option.WithAPIKey(apiKey)}}
	for _, o := range opts {
		o(&s)
	}

	dims, ok := modelDims[model]
	if !ok {
		dims = defaultDims
	}
	return &Provider{
		client: oai.NewClient(s.reqOpts...),
		model:  model,
		dims:   dims,
	}, nil
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.Embeddings.New(ctx, oai.EmbeddingNewParams{
		Model: p.model,
		Input: oai.EmbeddingNewParamsInputUnion{
			OfString: param.NewOpt(text),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embeddings: embed: empty response")
	}
	return toFloat32(resp.Data[0].Embedding), nil
}

// EmbedBatch implements embeddings.Provider. The API reports an index per
// embedding rather than guaranteeing order, so vectors are placed by index.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := p.client.Embeddings.New(ctx, oai.EmbeddingNewParams{
		Model: p.model,
		Input: oai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: embed batch: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: embed batch: got %d vectors for %d texts", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		i := int(d.Index)
		if i < 0 || i >= len(out) {
			return nil, fmt.Errorf("openai embeddings: embed batch: vector index %d out of range", i)
		}
		out[i] = toFloat32(d.Embedding)
	}
	return out, nil
}

// Dimensions implements embeddings.Provider. The width is fixed per model.
func (p *Provider) Dimensions() int {
	return p.dims
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string {
	return p.model
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
