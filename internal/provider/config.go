// ABOUTME: Merges provider configuration with model credentials into typed backend configs
// ABOUTME: Credentials win on key collision; settings become request options

package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/2389/coven-chat/internal/store"
)

// Merged configuration keys. Credential keys share the same namespace.
const (
	keyBaseURL      = "baseURL"
	keyHeaderPrefix = "header."
)

// ErrMissingCredential is returned when a family's required key is absent.
var ErrMissingCredential = errors.New("missing credential")

// MergeConfig flattens a resolved model into one key/value map.
// Provider configuration is applied first (empty values skipped), then
// credentials, so a credential overrides a configuration entry of the same
// key. The provider's base URL fills baseURL when nothing else set it.
func MergeConfig(m *store.ResolvedModel) map[string]string {
	merged := make(map[string]string, len(m.Provider.Configuration)+len(m.Credentials)+1)
	for k, v := range m.Provider.Configuration {
		if v == "" {
			continue
		}
		merged[k] = v
	}
	for _, c := range m.Credentials {
		merged[string(c.Key)] = c.Value
	}
	if merged[keyBaseURL] == "" && m.Provider.BaseURL != "" {
		merged[keyBaseURL] = m.Provider.BaseURL
	}
	return merged
}

// OpenAICompatibleConfig configures any backend reached through an
// OpenAI-compatible chat completions endpoint.
type OpenAICompatibleConfig struct {
	APIKey  string
	BaseURL string
	Headers map[string]string
}

func openAICompatibleConfig(f Family, merged map[string]string) (OpenAICompatibleConfig, error) {
	cfg := OpenAICompatibleConfig{
		APIKey:  merged[string(store.CredentialAPIKey)],
		BaseURL: merged[keyBaseURL],
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL(f)
	}
	for k, v := range merged {
		if name, ok := strings.CutPrefix(k, keyHeaderPrefix); ok && name != "" {
			if cfg.Headers == nil {
				cfg.Headers = make(map[string]string)
			}
			cfg.Headers[name] = v
		}
	}

	switch {
	case f == FamilyOllama && cfg.APIKey == "":
		// Ollama ignores the key but the client requires one
		cfg.APIKey = "ollama"
	case cfg.APIKey == "":
		return cfg, fmt.Errorf("%w: %s requires %s", ErrMissingCredential, f, store.CredentialAPIKey)
	}
	return cfg, nil
}

// BedrockConfig configures the AWS Bedrock Converse backend.
type BedrockConfig struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
}

func bedrockConfig(merged map[string]string) (BedrockConfig, error) {
	cfg := BedrockConfig{
		AccessKeyID:     merged[string(store.CredentialAccessKeyID)],
		SecretAccessKey: merged[string(store.CredentialSecretAccessKey)],
		Region:          merged[string(store.CredentialRegion)],
	}
	if err := requireKeys(FamilyBedrock, map[store.CredentialKey]string{
		store.CredentialAccessKeyID:     cfg.AccessKeyID,
		store.CredentialSecretAccessKey: cfg.SecretAccessKey,
		store.CredentialRegion:          cfg.Region,
	}); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// VertexConfig configures Google Vertex AI through a service account.
type VertexConfig struct {
	ProjectID         string
	Region            string
	ServiceAccountKey string // JSON key file contents
	BaseURL           string
}

func vertexConfig(merged map[string]string) (VertexConfig, error) {
	cfg := VertexConfig{
		ProjectID:         merged[string(store.CredentialProjectID)],
		Region:            merged[string(store.CredentialRegion)],
		ServiceAccountKey: merged[string(store.CredentialServiceAccountKey)],
		BaseURL:           merged[keyBaseURL],
	}
	if err := requireKeys(FamilyGoogleVertex, map[store.CredentialKey]string{
		store.CredentialProjectID:         cfg.ProjectID,
		store.CredentialRegion:            cfg.Region,
		store.CredentialServiceAccountKey: cfg.ServiceAccountKey,
	}); err != nil {
		return cfg, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = fmt.Sprintf(
			"https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s/endpoints/openapi/",
			cfg.Region, cfg.ProjectID, cfg.Region,
		)
	}
	return cfg, nil
}

func requireKeys(f Family, values map[store.CredentialKey]string) error {
	var missing []string
	for k, v := range values {
		if v == "" {
			missing = append(missing, string(k))
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("%w: %s requires %s", ErrMissingCredential, f, strings.Join(missing, ", "))
}

// Settings are the request options understood by every backend.
type Settings struct {
	Temperature *float64
	MaxTokens   *int64
	TopP        *float64
}

// ParseSettings reads known settings from their JSON values.
// Unknown keys and malformed values are skipped and logged at debug level.
func ParseSettings(settings []store.Setting, logger *slog.Logger) Settings {
	if logger == nil {
		logger = slog.Default()
	}

	var out Settings
	for _, s := range settings {
		var err error
		switch s.Key {
		case "temperature":
			var v float64
			if err = json.Unmarshal(s.Value, &v); err == nil {
				out.Temperature = &v
			}
		case "max_tokens", "maxTokens":
			var v int64
			if err = json.Unmarshal(s.Value, &v); err == nil {
				out.MaxTokens = &v
			}
		case "top_p", "topP":
			var v float64
			if err = json.Unmarshal(s.Value, &v); err == nil {
				out.TopP = &v
			}
		default:
			logger.Debug("ignoring unknown setting", "key", s.Key)
			continue
		}
		if err != nil {
			logger.Debug("ignoring malformed setting", "key", s.Key, "error", err)
		}
	}
	return out
}
