package tenant

import (
	"strings"

	"github.com/arashbot/gateway/internal/models"
)

// Model name mappings: technical id -> display name. Display names are what
// users see; technical ids are what the upstream backend routes on.
var modelDisplayNames = map[string]string{
	"google/gemini-2.0-flash-001":          "Gemini 2.0 Flash",
	"google/gemini-2.5-flash":              "Gemini 2.5 Flash",
	"google/gemini-2.0-flash-thinking-001": "Gemini 2.0 Flash Thinking",
	"google/gemma-3-1b-it":                 "Gemma 3 1B",
	"openai/gpt-5-chat":                    "GPT-5 Chat",
	"openai/gpt-4.1":                       "GPT-4.1",
	"openai/gpt-4o":                        "GPT-4o",
	"openai/gpt-4o-mini":                   "GPT-4o Mini",
	"openai/gpt-4o-search-preview":         "GPT-4o Search Preview",
	"openai/o1":                            "O1",
	"anthropic/claude-opus-4.5":            "Claude Opus 4.5",
	"anthropic/claude-sonnet-4":            "Claude Sonnet 4",
	"anthropic/claude-3.5-sonnet":          "Claude 3.5 Sonnet",
	"deepseek/deepseek-chat-v3-0324":       "DeepSeek Chat V3",
	"deepseek/deepseek-r1":                 "DeepSeek R1",
	"x-ai/grok-4":                          "Grok 4",
	"meta-llama/llama-3.3-70b-instruct":    "Llama 3.3 70B",
	"meta-llama/llama-4-maverick":          "Llama 4 Maverick",
	"mistralai/mistral-large":              "Mistral Large",
	"qwen/qwen-2.5-72b-instruct":           "Qwen 2.5 72B",
}

var displayToTechnical = func() map[string]string {
	m := make(map[string]string, len(modelDisplayNames))
	for technical, display := range modelDisplayNames {
		m[display] = technical
	}
	return m
}()

// Short aliases users can type in /model, mapped to display names. The
// public tier gets a reduced table matching its reduced model set.
var privateModelAliases = map[string]string{
	"claude":   "Claude Sonnet 4",
	"sonnet":   "Claude Sonnet 4",
	"opus":     "Claude Opus 4.5",
	"gpt":      "GPT-5 Chat",
	"gpt5":     "GPT-5 Chat",
	"gpt-5":    "GPT-5 Chat",
	"gpt4":     "GPT-4.1",
	"gpt-4":    "GPT-4.1",
	"mini":     "GPT-4o Mini",
	"web":      "GPT-4o Search Preview",
	"search":   "GPT-4o Search Preview",
	"o1":       "O1",
	"gemini":   "Gemini 2.5 Flash",
	"flash":    "Gemini 2.0 Flash",
	"grok":     "Grok 4",
	"deepseek": "DeepSeek Chat V3",
	"deep":     "DeepSeek Chat V3",
	"llama":    "Llama 4 Maverick",
}

var publicModelAliases = map[string]string{
	"gemini":    "Gemini 2.5 Flash",
	"gemini-2":  "Gemini 2.0 Flash",
	"flash":     "Gemini 2.0 Flash",
	"flash-2.5": "Gemini 2.5 Flash",
	"gemma":     "Gemma 3 1B",
	"deepseek":  "DeepSeek Chat V3",
	"deep":      "DeepSeek Chat V3",
	"mini":      "GPT-4o Mini",
	"gpt-mini":  "GPT-4o Mini",
}

// DisplayModelName converts a technical id to its display name. Unmapped ids
// get a cleaned-up rendering of the part after the provider prefix.
func DisplayModelName(technical string) string {
	if display, ok := modelDisplayNames[technical]; ok {
		return display
	}

	name := technical
	if idx := strings.Index(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	name = strings.NewReplacer("-", " ", "_", " ").Replace(name)

	words := strings.Fields(name)
	for i, word := range words {
		if upper := strings.ToUpper(word); upper == "GPT" || upper == "LLM" || upper == "AI" {
			words[i] = upper
			continue
		}
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}

// TechnicalModelName converts a display name back to its technical id,
// returning the input unchanged when no mapping exists.
func TechnicalModelName(display string) string {
	if technical, ok := displayToTechnical[display]; ok {
		return technical
	}
	return display
}

// ResolveModelName maps user input to a technical id valid for the given
// config, trying three stages in order: exact technical id, display name,
// then the tier's alias table. Returns "" when nothing resolves to a model
// in the available set.
func ResolveModelName(input string, cfg Config) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}

	if cfg.HasModel(input) {
		return input
	}

	if technical := TechnicalModelName(input); cfg.HasModel(technical) {
		return technical
	}

	aliases := privateModelAliases
	if cfg.Tier == models.TierPublic {
		aliases = publicModelAliases
	}
	if display, ok := aliases[strings.ToLower(input)]; ok {
		if technical := TechnicalModelName(display); cfg.HasModel(technical) {
			return technical
		}
	}

	return ""
}
