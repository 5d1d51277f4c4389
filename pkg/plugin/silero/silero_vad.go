// Package silero provides Silero VAD (Voice Activity Detection) implementation.
//go:build silero

package silero

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/chriscow/voiceagent-server/pkg/ai/vad"
	"github.com/chriscow/voiceagent-server/pkg/plugin"
	"github.com/chriscow/voiceagent-server/pkg/rtc"
)

// SileroVAD implements VAD over the shared fixed-window processor. It
// records whether a Silero model file exists at the model path, but no ONNX
// inference runs: windows are scored by the RMS-energy predictor whether or
// not the file is present.
type SileroVAD struct {
	threshold  float32
	sampleRate int
	modelPath  string
	useONNX    bool

	mu sync.Mutex
}

// Config holds configuration for Silero VAD.
type Config struct {
	Threshold  float32 `json:"threshold"`  // VAD threshold (0.0 to 1.0)
	SampleRate int     `json:"sampleRate"` // Audio sample rate
	ModelPath  string  `json:"modelPath"`  // Path to ONNX model file
}

// NewSileroVAD creates a new Silero VAD instance.
func NewSileroVAD(cfg Config) (*SileroVAD, error) {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}

	s := &SileroVAD{
		threshold:  cfg.Threshold,
		sampleRate: cfg.SampleRate,
	}

	modelPath := cfg.ModelPath
	if modelPath == "" {
		modelPath = getDefaultModelPath()
	}

	if _, err := os.Stat(modelPath); err == nil {
		s.useONNX = true
		s.modelPath = modelPath
		slog.Info("found Silero ONNX model file", slog.String("model_path", modelPath))
	} else {
		slog.Info("ONNX model not found, using energy-based VAD", slog.String("model_path", modelPath))
	}

	return s, nil
}

func (s *SileroVAD) predictor() predictor {
	if !s.useONNX {
		return energyPredictor
	}
	// No ONNX session is created: with a model file present, windows are
	// still scored by energyPredictor, and any error is wrapped with the
	// model path.
	return func(samples []float32) (float32, error) {
		p, err := energyPredictor(samples)
		if err != nil {
			return 0, fmt.Errorf("onnx inference failed, model %s: %w", s.modelPath, err)
		}
		return p, nil
	}
}

// Detect implements the VAD interface.
func (s *SileroVAD) Detect(ctx context.Context, frames <-chan rtc.AudioFrame) (<-chan vad.VADEvent, error) {
	eventChan := make(chan vad.VADEvent, 10)
	proc := newWindowProcessor(s.sampleRate, s.predictor())

	go func() {
		defer close(eventChan)

		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-frames:
				if !ok {
					return
				}

				events, err := proc.process(ctx, s.threshold, frame.Data)
				if err != nil {
					eventChan <- vad.VADEvent{Type: vad.VADEventError, Timestamp: time.Now(), Error: err}
					continue
				}
				for _, ev := range events {
					eventChan <- ev
				}
			}
		}
	}()

	return eventChan, nil
}

// Capabilities returns the VAD capabilities.
func (s *SileroVAD) Capabilities() vad.VADCapabilities {
	return vad.VADCapabilities{
		SampleRates:        []int{8000, 16000},
		MinSpeechDuration:  100 * time.Millisecond,
		MinSilenceDuration: 300 * time.Millisecond,
		Sensitivity:        s.threshold,
	}
}

// Download runs SileroDownloader.Download, which writes a placeholder file
// at the default model path if none exists; it does not fetch the model.
func Download() error {
	return (&SileroDownloader{}).Download()
}

// newSileroVAD is the factory function for the plugin system.
func newSileroVAD(cfg map[string]any) (any, error) {
	config := Config{
		Threshold:  DefaultThreshold,
		SampleRate: 16000,
	}

	if threshold, ok := cfg["threshold"].(float64); ok {
		config.Threshold = float32(threshold)
	}
	if sampleRate, ok := cfg["sampleRate"].(float64); ok {
		config.SampleRate = int(sampleRate)
	}
	if modelPath, ok := cfg["modelPath"].(string); ok {
		config.ModelPath = modelPath
	}

	return NewSileroVAD(config)
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        "vad",
		Name:        "silero",
		Factory:     newSileroVAD,
		Description: "Energy-based VAD (checks for a Silero model file; no ONNX inference)",
		Version:     "1.0.0",
		Config: map[string]interface{}{
			"threshold":  DefaultThreshold,
			"sampleRate": 16000,
			"modelPath":  "",
		},
		Downloader: &SileroDownloader{},
	})
}
