package deepgram

import (
	"fmt"
	"os"

	"github.com/chriscow/voiceagent-server/pkg/plugin"
)

// validateDeepgramSTT checks that an API key is available from either the
// merged config or the environment before the factory runs.
func validateDeepgramSTT(cfg map[string]any) error {
	if apiKey, ok := cfg["api_key"].(string); ok && apiKey != "" {
		return nil
	}
	if os.Getenv("DEEPGRAM_API_KEY") != "" {
		return nil
	}
	return fmt.Errorf("missing api_key (set DEEPGRAM_API_KEY or provide api_key in config)")
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        "stt",
		Name:        "deepgram",
		Factory:     newDeepgramSTT,
		Validate:    validateDeepgramSTT,
		Description: "Deepgram real-time streaming speech-to-text service",
		Version:     "1.0.0",
		Config: map[string]any{
			"model": defaultModel,
		},
		RequiredEnvVars: []string{"DEEPGRAM_API_KEY"},
	})
}
