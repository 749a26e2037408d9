// ABOUTME: Tests for family parsing, configuration merging and settings
// ABOUTME: Pins credential precedence and per-family required keys

package provider

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/store"
)

func TestParseFamily(t *testing.T) {
	for _, f := range Families {
		got, ok := ParseFamily(string(f))
		assert.True(t, ok, f)
		assert.Equal(t, f, got)
	}

	for _, s := range []string{"", "OpenAI", "azure", "google"} {
		_, ok := ParseFamily(s)
		assert.False(t, ok, s)
	}
}

func TestMergeConfig_CredentialsWin(t *testing.T) {
	m := &store.ResolvedModel{
		Provider: store.Provider{
			BaseURL: "https://provider.example/v1",
			Configuration: map[string]string{
				"apiKey":        "from-config",
				"region":        "",
				"header.X-Team": "research",
			},
		},
		Credentials: []store.Credential{
			{Key: store.CredentialAPIKey, Value: "from-credential"},
			{Key: store.CredentialRegion, Value: "eu-west-1"},
		},
	}

	merged := MergeConfig(m)
	assert.Equal(t, "from-credential", merged["apiKey"])
	assert.Equal(t, "eu-west-1", merged["region"])
	assert.Equal(t, "research", merged["header.X-Team"])
	assert.Equal(t, "https://provider.example/v1", merged["baseURL"])
}

func TestMergeConfig_ConfiguredBaseURLBeatsProviderColumn(t *testing.T) {
	m := &store.ResolvedModel{
		Provider: store.Provider{
			BaseURL:       "https://column.example",
			Configuration: map[string]string{"baseURL": "https://config.example"},
		},
	}
	assert.Equal(t, "https://config.example", MergeConfig(m)["baseURL"])
}

func TestOpenAICompatibleConfig(t *testing.T) {
	cfg, err := openAICompatibleConfig(FamilyGroq, map[string]string{"apiKey": "gsk", "header.X-A": "1"})
	require.NoError(t, err)
	assert.Equal(t, "https://api.groq.com/openai/v1/", cfg.BaseURL)
	assert.Equal(t, map[string]string{"X-A": "1"}, cfg.Headers)

	cfg, err = openAICompatibleConfig(FamilyOllama, map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, "ollama", cfg.APIKey)
	assert.Equal(t, "http://localhost:11434/v1/", cfg.BaseURL)

	_, err = openAICompatibleConfig(FamilyMistral, map[string]string{})
	assert.ErrorIs(t, err, ErrMissingCredential)
}

func TestBedrockConfig_MissingKeys(t *testing.T) {
	_, err := bedrockConfig(map[string]string{"accessKeyId": "AKIA"})
	require.ErrorIs(t, err, ErrMissingCredential)
	assert.Contains(t, err.Error(), "region, secretAccessKey")
}

func TestVertexConfig_DefaultEndpoint(t *testing.T) {
	cfg, err := vertexConfig(map[string]string{
		"projectId":         "proj",
		"region":            "us-central1",
		"serviceAccountKey": "{}",
	})
	require.NoError(t, err)
	assert.Equal(t,
		"https://us-central1-aiplatform.googleapis.com/v1/projects/proj/locations/us-central1/endpoints/openapi/",
		cfg.BaseURL)
}

func TestParseSettings(t *testing.T) {
	s := ParseSettings([]store.Setting{
		{Key: "temperature", Value: json.RawMessage("0.3")},
		{Key: "max_tokens", Value: json.RawMessage("512")},
		{Key: "topP", Value: json.RawMessage("0.9")},
		{Key: "seed", Value: json.RawMessage("7")},
		{Key: "temperature", Value: json.RawMessage(`"hot"`)},
	}, nil)

	require.NotNil(t, s.Temperature)
	assert.InDelta(t, 0.3, *s.Temperature, 1e-9, "malformed later value is skipped")
	require.NotNil(t, s.MaxTokens)
	assert.Equal(t, int64(512), *s.MaxTokens)
	require.NotNil(t, s.TopP)
	assert.InDelta(t, 0.9, *s.TopP, 1e-9)
}
