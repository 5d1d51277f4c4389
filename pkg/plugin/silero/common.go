package silero

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/chriscow/voiceagent-server/pkg/ai/vad"
	"github.com/chriscow/voiceagent-server/pkg/rtc"
)

const (
	// ModelFileName is the expected ONNX model file name
	ModelFileName = "silero_vad.onnx"
	// DefaultThreshold is the default VAD threshold
	DefaultThreshold = 0.5
)

// getDefaultModelPath returns the default path for the Silero model.
func getDefaultModelPath() string {
	modelPath := os.Getenv("LK_MODEL_PATH")
	if modelPath == "" {
		homeDir, _ := os.UserHomeDir()
		modelPath = filepath.Join(homeDir, ".voiceagent", "models")
	}
	return filepath.Join(modelPath, ModelFileName)
}

// windowSize returns the model's fixed window length in samples for a
// sample rate: 256 at 8kHz, 512 at 16kHz.
func windowSize(sampleRate int) int {
	if sampleRate <= 8000 {
		return 256
	}
	return 512
}

// contextSize returns the ring-buffer context length carried across calls:
// 32 samples at 8kHz, 64 at 16kHz.
func contextSize(sampleRate int) int {
	if sampleRate <= 8000 {
		return 32
	}
	return 64
}

// predictor scores one context+window of samples with a speech probability.
type predictor func(samples []float32) (float32, error)

// windowProcessor slices PCM16 frames into fixed-size windows, prefixes each
// with a small context carried across calls, and derives VAD events from
// the resulting probability sequence per spec.md §4.D's state machine.
type windowProcessor struct {
	sampleRate int
	window     int
	context    []float32 // ring buffer, length == contextSize(sampleRate)
	speaking   bool
	predict    predictor
}

func newWindowProcessor(sampleRate int, predict predictor) *windowProcessor {
	return &windowProcessor{
		sampleRate: sampleRate,
		window:     windowSize(sampleRate),
		context:    make([]float32, contextSize(sampleRate)),
		predict:    predict,
	}
}

// reset restores zero state: clears the context ring buffer and speaking flag.
func (w *windowProcessor) reset() {
	for i := range w.context {
		w.context[i] = 0
	}
	w.speaking = false
}

// process runs one or more window decisions over pcm and returns the
// resulting VAD events in order. If pcm is not an exact multiple of the
// window size, only the last complete window is consumed (legacy
// compatibility path); otherwise every complete window in pcm is processed,
// one event decision per window.
func (w *windowProcessor) process(ctx context.Context, threshold float32, pcm []byte) ([]vad.VADEvent, error) {
	samples := rtc.ToFloat32(pcm)
	numComplete := len(samples) / w.window
	if numComplete == 0 {
		return nil, nil
	}

	start := 0
	if numComplete*w.window != len(samples) {
		// Non-exact multiple: only the trailing complete window counts.
		start = numComplete - 1
		numComplete = 1
	}

	events := make([]vad.VADEvent, 0, numComplete)
	for i := 0; i < numComplete; i++ {
		if err := ctx.Err(); err != nil {
			return events, err
		}

		winStart := (start + i) * w.window
		window := samples[winStart : winStart+w.window]

		input := make([]float32, 0, len(w.context)+len(window))
		input = append(input, w.context...)
		input = append(input, window...)

		p, err := w.predict(input)
		if err != nil {
			return events, err
		}

		// Advance the ring buffer context to the tail of this window.
		if len(w.context) > 0 {
			if len(window) >= len(w.context) {
				copy(w.context, window[len(window)-len(w.context):])
			} else {
				copy(w.context, append(w.context[len(window):], window...))
			}
		}

		switch {
		case !w.speaking && p >= threshold:
			w.speaking = true
			events = append(events, vad.VADEvent{Type: vad.VADEventSpeechStart, Timestamp: time.Now()})
		case w.speaking && p < threshold:
			w.speaking = false
			events = append(events, vad.VADEvent{Type: vad.VADEventSpeechEnd, Timestamp: time.Now()})
		}
	}

	return events, nil
}

// energyPredictor scores a window by RMS energy, scaled so that typical
// speech amplitude saturates near 1.0. It is the scoring function of both
// builds: the default build uses it directly, and the silero-tagged build
// uses it whether or not a model file is present.
func energyPredictor(samples []float32) (float32, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	var sumSquares float64
	for _, s := range samples {
		sumSquares += float64(s) * float64(s)
	}
	rms := math.Sqrt(sumSquares / float64(len(samples)))

	// Empirically, conversational speech RMS sits around 0.05-0.3 of
	// full scale; scale so that range maps to roughly [0,1].
	const scale = 4.0
	p := rms * scale
	if p > 1 {
		p = 1
	}
	return float32(p), nil
}