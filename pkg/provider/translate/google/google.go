// Package google provides a Google Cloud Translation backed language
// detector. Authentication uses Application Default Credentials unless
// overridden via client options.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/translate"
	"google.golang.org/api/option"

	translateprovider "github.com/moshi-chat/moshi/pkg/provider/translate"
)

// Ensure Provider implements the translate.Provider interface.
var _ translateprovider.Provider = (*Provider)(nil)

// Provider implements translate.Provider backed by the Cloud Translation
// basic (v2) API.
type Provider struct {
	client *translate.Client
}

// New creates a new Google language detection Provider.
func New(ctx context.Context, opts ...option.ClientOption) (*Provider, error) {
	client, err := translate.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google translate: create client: %w", err)
	}
	return &Provider{client: client}, nil
}

// Close releases the underlying connection.
func (p *Provider) Close() error {
	return p.client.Close()
}

// DetectLanguage implements translate.Provider. The service returns
// candidates ordered by confidence; the top candidate of the single input
// wins.
func (p *Provider) DetectLanguage(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", errors.New("google translate: empty text")
	}

	detections, err := p.client.DetectLanguage(ctx, []string{text})
	if err != nil {
		return "", fmt.Errorf("google translate: detect: %w", err)
	}
	if len(detections) == 0 || len(detections[0]) == 0 {
		return "", errors.New("google translate: no detection returned")
	}
	return detections[0][0].Language.String(), nil
}
