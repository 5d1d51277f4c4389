package rtc

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// AudioFrame represents exactly 10 ms of PCM audio.
// Len(Data) == SamplesPerChannel * NumChannels * 2.
// All fields are immutable after creation except Data when processed in-place.
//
// A zero Timestamp means "live"; otherwise it points to absolute wall-clock.
type AudioFrame struct {
	Data              []byte        // 16-bit PCM, little-endian
	SampleRate        int           // 48 000 or 16 000
	SamplesPerChannel int           // SampleRate / 100
	NumChannels       int           // 1 or 2
	Timestamp         time.Duration // optional
}

// NewAudioFrame creates a new AudioFrame with the specified parameters.
// Data length is validated to match SamplesPerChannel * NumChannels * 2.
// Returns an error if the data length doesn't match the expected size for 10ms of audio.
func NewAudioFrame(data []byte, sampleRate, numChannels int, timestamp time.Duration) (*AudioFrame, error) {
	samplesPerChannel := sampleRate / 100
	expectedLen := samplesPerChannel * numChannels * 2
	
	if len(data) != expectedLen {
		return nil, fmt.Errorf("AudioFrame data length mismatch: got %d bytes, expected %d bytes for %dHz %d-channel 10ms audio", 
			len(data), expectedLen, sampleRate, numChannels)
	}
	
	return &AudioFrame{
		Data:              data,
		SampleRate:        sampleRate,
		SamplesPerChannel: samplesPerChannel,
		NumChannels:       numChannels,
		Timestamp:         timestamp,
	}, nil
}

// Clone creates a deep copy of the AudioFrame.
func (f *AudioFrame) Clone() *AudioFrame {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	
	return &AudioFrame{
		Data:              data,
		SampleRate:        f.SampleRate,
		SamplesPerChannel: f.SamplesPerChannel,
		NumChannels:       f.NumChannels,
		Timestamp:         f.Timestamp,
	}
}

// Duration returns the duration represented by this frame (always 10ms).
func (f *AudioFrame) Duration() time.Duration {
	return 10 * time.Millisecond
}

// ToFloat32 decodes 16-bit little-endian PCM into samples scaled to [-1, 1],
// the format VAD and ONNX inference expect.
func ToFloat32(pcm []byte) []float32 {
	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(v) / 32768.0
	}
	return samples
}

// FromFloat32 encodes samples in [-1, 1] back into 16-bit little-endian PCM,
// clamping out-of-range values rather than wrapping.
func FromFloat32(samples []float32) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		clamped := math.Max(-1, math.Min(1, float64(s)))
		v := int16(clamped * 32767.0)
		binary.LittleEndian.PutUint16(pcm[i*2:i*2+2], uint16(v))
	}
	return pcm
}