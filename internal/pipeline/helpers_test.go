package pipeline

import (
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/vigilabs/vigil-core/internal/config"
)

func testPipelineConfig() config.PipelineConfig {
	cfg := config.Default().Pipeline
	cfg.Denoise.Enabled = false
	return cfg
}

// sineWave produces a pure tone at the given frequency, the cleanest
// possible stand-in for a voiced sound.
func sineWave(freq float64, seconds float64, sampleRate int, amplitude float64) []float64 {
	n := int(seconds * float64(sampleRate))
	out := make([]float64, n)
	for i := range out {
		out[i] = amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
	}
	return out
}

// noiseBurst produces seeded white noise with speech-comparable energy but
// no periodic structure, imitating a clap or a slammed door.
func noiseBurst(seconds float64, sampleRate int, amplitude float64, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	n := int(seconds * float64(sampleRate))
	out := make([]float64, n)
	for i := range out {
		out[i] = amplitude * (2*rng.Float64() - 1)
	}
	return out
}

// encodeWAV renders float samples to a 16-bit PCM WAV payload. channels
// interleaves the same signal across all channels.
func encodeWAV(t *testing.T, samples []float64, sampleRate, channels int) []byte {
	t.Helper()

	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav file: %v", err)
	}

	data := make([]int, len(samples)*channels)
	for i, s := range samples {
		v := int(s * 32767)
		for c := 0; c < channels; c++ {
			data[i*channels+c] = v
		}
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	if err := enc.Write(buf); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close wav encoder: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close wav file: %v", err)
	}

	payload, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read wav payload: %v", err)
	}
	return payload
}

// encodeWAV8 renders float samples to unsigned 8-bit PCM, where silence
// sits at 128 rather than 0.
func encodeWAV8(t *testing.T, samples []float64, sampleRate int) []byte {
	t.Helper()

	path := filepath.Join(t.TempDir(), "clip8.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav file: %v", err)
	}

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = 128 + int(s*127)
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 8,
	}

	enc := wav.NewEncoder(f, sampleRate, 8, 1, 1)
	if err := enc.Write(buf); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close wav encoder: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close wav file: %v", err)
	}

	payload, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read wav payload: %v", err)
	}
	return payload
}
