package turn

import (
	"fmt"
	"os"

	"github.com/chriscow/voiceagent-server/pkg/plugin"
)

// DetectorConfig holds configuration for creating turn detectors.
type DetectorConfig struct {
	Model     string // "english" or "multilingual"
	ModelPath string // Path to model files (optional, uses default if empty)
	RemoteURL string // Remote inference URL (optional)
}

// NewDetector creates a turn detector based on the provided configuration.
// If RemoteURL is set, creates a RemoteDetector with local fallback.
// Otherwise, creates an ONNX-based local detector.
func NewDetector(config DetectorConfig) (Detector, error) {
	// Check for remote URL in config or environment
	remoteURL := config.RemoteURL
	if remoteURL == "" {
		remoteURL = os.Getenv("LIVEKIT_REMOTE_EOT_URL")
	}

	// Validate model name
	if config.Model == "" {
		config.Model = "english" // Default to English model
	}

	switch config.Model {
	case "english", "multilingual":
		// valid
	default:
		return nil, fmt.Errorf("invalid model name: %s (supported: english|multilingual)", config.Model)
	}

	// Create local detector (used directly or as fallback)
	localDetector, err := NewONNXDetector(config.Model, config.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX detector: %w", err)
	}

	// If remote URL is configured, create remote detector with local fallback
	if remoteURL != "" {
		return NewRemoteDetector(remoteURL, localDetector), nil
	}

	// Use local detector directly
	return localDetector, nil
}

// NewDefaultDetector creates a detector with default configuration.
func NewDefaultDetector() (Detector, error) {
	return NewDetector(DetectorConfig{Model: "english"})
}

// newONNXTurnDetector is the factory function for the plugin registry. The
// spec string's "model" component (english|multilingual) selects the ONNX
// model; remote_url optionally wraps it in a RemoteDetector.
func newONNXTurnDetector(cfg map[string]any) (any, error) {
	config := DetectorConfig{Model: "english"}

	if model, ok := cfg["model"].(string); ok && model != "" {
		config.Model = model
	}
	if modelPath, ok := cfg["model_path"].(string); ok {
		config.ModelPath = modelPath
	}
	if remoteURL, ok := cfg["remote_url"].(string); ok {
		config.RemoteURL = remoteURL
	}

	return NewDetector(config)
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        "turn",
		Name:        "onnx",
		Factory:     newONNXTurnDetector,
		Description: "ONNX-based end-of-turn detector, with optional remote inference and local fallback",
		Version:     "1.0.0",
		Config: map[string]any{
			"model": "english",
		},
	})
}
