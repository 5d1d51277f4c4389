package openai

import (
	"fmt"
	"os"

	"github.com/chriscow/voiceagent-server/pkg/plugin"
)

// newOpenAISTT is the factory function for OpenAI STT.
func newOpenAISTT(cfg map[string]any) (any, error) {
	config := Config{}

	// Get API key from config or environment
	if apiKey, ok := cfg["api_key"].(string); ok {
		config.APIKey = apiKey
	} else {
		config.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required (set OPENAI_API_KEY environment variable or provide api_key in config)")
	}

	if model, ok := cfg["model"].(string); ok {
		config.Model = model
	}

	if language, ok := cfg["language"].(string); ok {
		config.Language = language
	}

	return NewWhisperSTT(config)
}

// validateOpenAISTT and validateOpenAILLM check that an API key is available
// from either the merged config or the environment before the factory runs.
func validateOpenAISTT(cfg map[string]any) error { return requireAPIKey(cfg, "OPENAI_API_KEY") }
func validateOpenAILLM(cfg map[string]any) error { return requireAPIKey(cfg, "OPENAI_API_KEY") }

func requireAPIKey(cfg map[string]any, envVar string) error {
	if apiKey, ok := cfg["api_key"].(string); ok && apiKey != "" {
		return nil
	}
	if os.Getenv(envVar) != "" {
		return nil
	}
	return fmt.Errorf("missing api_key (set %s or provide api_key in config)", envVar)
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:            "stt",
		Name:            "openai",
		Factory:         newOpenAISTT,
		Validate:        validateOpenAISTT,
		Description:     "OpenAI Whisper speech-to-text service",
		Version:         "1.0.0",
		Config:          map[string]any{"model": "whisper-1"},
		RequiredEnvVars: []string{"OPENAI_API_KEY"},
	})

	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:            "llm",
		Name:            "openai",
		Factory:         newOpenAILLM,
		Validate:        validateOpenAILLM,
		Description:     "OpenAI GPT chat completion service",
		Version:         "1.0.0",
		Config:          map[string]any{"model": "gpt-3.5-turbo"},
		RequiredEnvVars: []string{"OPENAI_API_KEY"},
	})
}