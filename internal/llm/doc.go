// Package llm defines the provider-neutral model client used by the
// generation loop. Backends live in the provider package; llmtest holds a
// scripted client for tests.
package llm
