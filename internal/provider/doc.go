// Package provider builds live model clients from catalog metadata.
//
// # Families
//
// Family is a closed enum. ParseFamily maps the stored string with an
// exhaustive switch; anything else selects the fallback client configured
// under fallback in the config file, with a warning naming the offending
// family.
//
// # Configuration
//
// MergeConfig flattens provider configuration and model credentials into one
// map, credentials last so they win. Each family then reads a typed config:
//
//   - openai, anthropic, mistral, cohere, groq, ollama and google-generative
//     use OpenAICompatibleConfig and the openai-go client against each
//     vendor's OpenAI-compatible endpoint
//   - bedrock uses BedrockConfig and the Bedrock Converse API
//   - google-vertex uses VertexConfig; the service account key becomes an
//     oauth2 token source feeding Vertex's OpenAI-compatible endpoint
//
// Model settings (temperature, max_tokens, top_p) become request options.
package provider
