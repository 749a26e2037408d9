// ABOUTME: Provider client factory turning a resolved model into a live llm.Client
// ABOUTME: Unknown families get the configured fallback client instead of an error

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/2389/coven-chat/internal/llm"
	"github.com/2389/coven-chat/internal/store"
)

// ErrUnsupportedProvider marks a family string outside the closed set.
// BuildClient logs it and falls back; it is never returned.
var ErrUnsupportedProvider = errors.New("unsupported provider")

// FallbackConfig is the OpenAI-compatible client used for unrecognized families.
type FallbackConfig struct {
	Model   string
	APIKey  string
	BaseURL string
}

// Factory builds model clients.
type Factory struct {
	fallback    FallbackConfig
	httpClient  *http.Client
	tokenSource TokenSourceFunc
	newBedrock  func(BedrockConfig) converser
	logger      *slog.Logger
}

// Option configures a Factory.
type Option func(*Factory)

// WithHTTPClient sets the HTTP client used by OpenAI-compatible backends.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Factory) { f.httpClient = c }
}

// WithTokenSource replaces how Vertex service account keys become tokens.
func WithTokenSource(fn TokenSourceFunc) Option {
	return func(f *Factory) { f.tokenSource = fn }
}

// NewFactory creates a Factory.
func NewFactory(fallback FallbackConfig, logger *slog.Logger, opts ...Option) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Factory{
		fallback:    fallback,
		httpClient:  &http.Client{},
		tokenSource: serviceAccountTokenSource,
		newBedrock:  newBedrockRuntime,
		logger:      logger.With("component", "provider"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// BuildClient constructs a client for the resolved model. The merged
// configuration and typed config for its family decide everything; a family
// outside the closed set yields the fallback client.
func (f *Factory) BuildClient(ctx context.Context, m *store.ResolvedModel) (llm.Client, error) {
	family, ok := ParseFamily(m.Provider.Family)
	if !ok {
		f.logger.Warn("using fallback client",
			"error", fmt.Errorf("%w: %q", ErrUnsupportedProvider, m.Provider.Family),
			"model_config_id", m.Config.ID,
			"fallback_model", f.fallback.Model,
		)
		return f.fallbackClient(), nil
	}

	merged := MergeConfig(m)
	settings := ParseSettings(m.Settings, f.logger)
	logger := f.logger.With("family", family, "model", m.Config.Model)

	switch family {
	case FamilyOpenAI, FamilyAnthropic, FamilyMistral, FamilyCohere,
		FamilyGroq, FamilyOllama, FamilyGoogleGenerative:
		cfg, err := openAICompatibleConfig(family, merged)
		if err != nil {
			return nil, err
		}
		return newOpenAIClient(cfg, m.Config.Model, settings, f.httpClient, logger), nil

	case FamilyBedrock:
		cfg, err := bedrockConfig(merged)
		if err != nil {
			return nil, err
		}
		return &bedrockClient{
			api:      f.newBedrock(cfg),
			model:    m.Config.Model,
			settings: settings,
			logger:   logger,
		}, nil

	case FamilyGoogleVertex:
		cfg, err := vertexConfig(merged)
		if err != nil {
			return nil, err
		}
		oaCfg, transport, err := f.vertexOpenAIConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		httpClient := &http.Client{Transport: transport, Timeout: f.httpClient.Timeout}
		return newOpenAIClient(oaCfg, m.Config.Model, settings, httpClient, logger), nil
	}

	// Unreachable while ParseFamily and this switch agree
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, family)
}

func (f *Factory) fallbackClient() llm.Client {
	cfg := OpenAICompatibleConfig{
		APIKey:  f.fallback.APIKey,
		BaseURL: f.fallback.BaseURL,
	}
	return newOpenAIClient(cfg, f.fallback.Model, Settings{}, f.httpClient, f.logger.With("fallback", true))
}

// decodeSchema turns a tool's JSON schema into a map, defaulting to an object schema.
func decodeSchema(def llm.ToolDefinition) (map[string]any, error) {
	schema := map[string]any{}
	if len(def.InputSchema) > 0 {
		if err := json.Unmarshal(def.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("decoding schema for %s: %w", def.Name, err)
		}
	}
	if _, ok := schema["type"]; !ok {
		schema["type"] = "object"
	}
	return schema, nil
}
