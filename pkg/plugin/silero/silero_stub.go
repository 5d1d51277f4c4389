// Package silero provides an energy-based VAD when built without the
// silero build tag (the ONNX runtime and its model download are heavy
// enough that they stay opt-in).
//go:build !silero

package silero

import (
	"context"
	"time"

	"github.com/chriscow/voiceagent-server/pkg/ai/vad"
	"github.com/chriscow/voiceagent-server/pkg/plugin"
	"github.com/chriscow/voiceagent-server/pkg/rtc"
)

// SileroVAD is the energy-based VAD used when the silero build tag is not
// set. It implements the same fixed-window state machine spec.md §4.D
// describes; only the scoring function differs from the ONNX build.
type SileroVAD struct {
	threshold  float32
	sampleRate int
}

// Config holds configuration for the energy-based VAD.
type Config struct {
	Threshold  float32 `json:"threshold"`
	SampleRate int     `json:"sampleRate"`
	ModelPath  string  `json:"modelPath"` // ignored in this build
}

// NewSileroVAD creates a new energy-based VAD instance.
func NewSileroVAD(cfg Config) (*SileroVAD, error) {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	return &SileroVAD{threshold: cfg.Threshold, sampleRate: cfg.SampleRate}, nil
}

// Detect implements the VAD interface.
func (s *SileroVAD) Detect(ctx context.Context, frames <-chan rtc.AudioFrame) (<-chan vad.VADEvent, error) {
	eventChan := make(chan vad.VADEvent, 10)
	proc := newWindowProcessor(s.sampleRate, energyPredictor)

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

// Download is a no-op in this build; there is no ONNX model to fetch.
func Download() error {
	return nil
}

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

	return NewSileroVAD(config)
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        "vad",
		Name:        "silero",
		Factory:     newSileroVAD,
		Description: "Energy-based VAD (build with -tags=silero for the ONNX model)",
		Version:     "1.0.0",
		Config: map[string]interface{}{
			"threshold":  DefaultThreshold,
			"sampleRate": 16000,
		},
	})
}
