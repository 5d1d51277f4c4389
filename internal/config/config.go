// Package config loads server configuration from environment variables,
// optionally sourced from a .env file at startup.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds every environment-tunable setting the server reads at
// startup. All fields are optional unless the feature they gate is enabled.
type Config struct {
	Host  string
	Port  int
	Debug bool

	LogLevel string

	RequireAPIKey bool

	STTProvider string // "provider[/model][:language]"
	LLMProvider string // "provider[/model]"
	LLMTemperature float32
	LLMMaxTokens   int

	VADProvider   string // "provider[/model]", e.g. "silero"
	VADThreshold  float32
	VADModelPath  string

	TurnDetectorProvider  string // "provider[/model]", e.g. "onnx/english"
	TurnDetectorThreshold float64
	TurnDetectorModelPath string

	EndpointingMinDelayMs int
	EndpointingMaxDelayMs int

	AudioBufferLimit int
	MaxConnections   int

	SessionIdleTimeoutSeconds int

	MetricsPort int
}

// Load reads configuration from the environment, first loading envFile (if
// non-empty) into the process environment. A missing envFile is not an
// error — .env loading is opt-in convenience for local development.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading env file %s: %w", envFile, err)
		}
	}

	cfg := &Config{
		Host:                      getString("HOST", "0.0.0.0"),
		Port:                      getInt("PORT", 8080),
		Debug:                     getBool("DEBUG", false),
		LogLevel:                  getString("LOG_LEVEL", "info"),
		RequireAPIKey:             getBool("REQUIRE_API_KEY", false),
		STTProvider:               getString("STT_PROVIDER", "openai/whisper-1"),
		LLMProvider:               getString("LLM_PROVIDER", "openai/gpt-4o"),
		LLMTemperature:            float32(getFloat("LLM_TEMPERATURE", 0.7)),
		LLMMaxTokens:              getInt("LLM_MAX_TOKENS", 1024),
		VADProvider:               getString("VAD_PROVIDER", "silero"),
		VADThreshold:              float32(getFloat("VAD_THRESHOLD", 0.5)),
		VADModelPath:              getString("VAD_MODEL_PATH", ""),
		TurnDetectorProvider:      getString("TURN_DETECTOR_PROVIDER", "onnx/english"),
		TurnDetectorThreshold:     getFloat("TURN_DETECTOR_THRESHOLD", 0.6),
		TurnDetectorModelPath:     getString("TURN_DETECTOR_MODEL_PATH", ""),
		EndpointingMinDelayMs:     getInt("ENDPOINTING_MIN_DELAY_MS", 500),
		EndpointingMaxDelayMs:     getInt("ENDPOINTING_MAX_DELAY_MS", 3000),
		AudioBufferLimit:          getInt("AUDIO_BUFFER_LIMIT", 100),
		MaxConnections:            getInt("MAX_CONNECTIONS", 1000),
		SessionIdleTimeoutSeconds: getInt("SESSION_IDLE_TIMEOUT_SECONDS", 300),
		MetricsPort:               getInt("METRICS_PORT", 9090),
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
