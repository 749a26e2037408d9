// Package config handles configuration loading for coven-chat.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. The file extension picks the decoder: ".toml" is TOML, anything
// else is YAML. Missing values receive defaults before validation.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COVEN_CHAT_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/chat.yaml
//  3. ~/.config/coven/chat.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${COVEN_JWT_SECRET}"
//	fallback:
//	  api_key: "${OPENAI_API_KEY}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
// Server and storage:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	database:
//	  path: "/var/lib/coven/chat.db"
//
// Without auth.jwt_secret the gateway refuses any http_addr that is not a
// loopback address.
//
// Generation loop and tool servers:
//
//	chat:
//	  max_steps: 10                # model invocations per request
//	  system_prompt: "..."
//	  tool_connect_timeout: "30s"  # connect + list tools, per server
//	  tool_call_timeout: "60s"     # single tool invocation
//	  max_concurrent_connects: 8
//
// Fallback model, used when a provider family is not recognized:
//
//	fallback:
//	  model: "gpt-4o-mini"
//	  api_key: "${OPENAI_API_KEY}"
//	  base_url: ""
//
// Access cache and rate limiting:
//
//	cache:
//	  ttl: "5m"
//	  max_size: 10000
//	ratelimit:
//	  requests_per_second: 5
//	  burst: 10
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
