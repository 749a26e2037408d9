// ABOUTME: Google Vertex AI backend authenticated with a service account key
// ABOUTME: Uses the OpenAI-compatible Vertex endpoint with an oauth2 transport

package provider

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// TokenSourceFunc turns a service account JSON key into a token source.
type TokenSourceFunc func(ctx context.Context, serviceAccountKey []byte) (oauth2.TokenSource, error)

// serviceAccountTokenSource is the production TokenSourceFunc.
func serviceAccountTokenSource(ctx context.Context, key []byte) (oauth2.TokenSource, error) {
	conf, err := google.JWTConfigFromJSON(key, cloudPlatformScope)
	if err != nil {
		return nil, fmt.Errorf("parsing service account key: %w", err)
	}
	return conf.TokenSource(ctx), nil
}

// vertexOpenAIConfig builds the OpenAI-compatible settings and HTTP client
// for Vertex. The oauth2 transport replaces the bearer token on every request.
func (f *Factory) vertexOpenAIConfig(ctx context.Context, cfg VertexConfig) (OpenAICompatibleConfig, *oauth2.Transport, error) {
	ts, err := f.tokenSource(ctx, []byte(cfg.ServiceAccountKey))
	if err != nil {
		return OpenAICompatibleConfig{}, nil, err
	}

	transport := &oauth2.Transport{
		Source: oauth2.ReuseTokenSource(nil, ts),
		Base:   f.httpClient.Transport,
	}
	return OpenAICompatibleConfig{
		// Placeholder; the transport overwrites Authorization
		APIKey:  "vertex",
		BaseURL: cfg.BaseURL,
	}, transport, nil
}
