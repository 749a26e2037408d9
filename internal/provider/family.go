// ABOUTME: Closed enumeration of supported provider families
// ABOUTME: Stored family strings are parsed here and never select a constructor directly

package provider

// Family identifies a provider backend.
type Family string

const (
	FamilyOpenAI           Family = "openai"
	FamilyAnthropic        Family = "anthropic"
	FamilyMistral          Family = "mistral"
	FamilyCohere           Family = "cohere"
	FamilyBedrock          Family = "bedrock"
	FamilyOllama           Family = "ollama"
	FamilyGroq             Family = "groq"
	FamilyGoogleVertex     Family = "google-vertex"
	FamilyGoogleGenerative Family = "google-generative"
)

// Families lists every supported family.
var Families = []Family{
	FamilyOpenAI,
	FamilyAnthropic,
	FamilyMistral,
	FamilyCohere,
	FamilyBedrock,
	FamilyOllama,
	FamilyGroq,
	FamilyGoogleVertex,
	FamilyGoogleGenerative,
}

// ParseFamily maps a stored family string to a Family.
// The second result is false for anything outside the closed set.
func ParseFamily(s string) (Family, bool) {
	switch Family(s) {
	case FamilyOpenAI:
		return FamilyOpenAI, true
	case FamilyAnthropic:
		return FamilyAnthropic, true
	case FamilyMistral:
		return FamilyMistral, true
	case FamilyCohere:
		return FamilyCohere, true
	case FamilyBedrock:
		return FamilyBedrock, true
	case FamilyOllama:
		return FamilyOllama, true
	case FamilyGroq:
		return FamilyGroq, true
	case FamilyGoogleVertex:
		return FamilyGoogleVertex, true
	case FamilyGoogleGenerative:
		return FamilyGoogleGenerative, true
	default:
		return "", false
	}
}

// defaultBaseURL is the OpenAI-compatible endpoint used when none is configured.
func defaultBaseURL(f Family) string {
	switch f {
	case FamilyAnthropic:
		return "https://api.anthropic.com/v1/"
	case FamilyMistral:
		return "https://api.mistral.ai/v1/"
	case FamilyCohere:
		return "https://api.cohere.ai/compatibility/v1/"
	case FamilyGroq:
		return "https://api.groq.com/openai/v1/"
	case FamilyOllama:
		return "http://localhost:11434/v1/"
	case FamilyGoogleGenerative:
		return "https://generativelanguage.googleapis.com/v1beta/openai/"
	default:
		// openai-go's own default
		return ""
	}
}
