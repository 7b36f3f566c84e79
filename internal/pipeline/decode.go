package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/go-audio/wav"
	"github.com/mattn/go-shellwords"
	resampling "github.com/tphakala/go-audio-resampling"

	"github.com/vigilabs/vigil-core/internal/config"
)

// Decoder turns a Clip into a normalized mono Waveform at the pipeline's
// internal sample rate. WAV payloads are parsed natively; webm and mp3 go
// through the configured converter command and come back as WAV.
type Decoder struct {
	cfg        config.DecoderConfig
	sampleRate int
	converter  []string
}

func NewDecoder(cfg config.PipelineConfig) (*Decoder, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Decoder.ConverterCommand)
	if err != nil {
		return nil, fmt.Errorf("parse converter command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("converter command is empty")
	}
	return &Decoder{
		cfg:        cfg.Decoder,
		sampleRate: cfg.SampleRate,
		converter:  args,
	}, nil
}

func (d *Decoder) Decode(ctx context.Context, clip Clip) (*Waveform, error) {
	if len(clip.Data) == 0 {
		return nil, decodeErrorf(nil, "empty audio payload")
	}

	format := formatFromMIME(clip.MIMEType, d.cfg.DefaultFormat)

	wavBytes := clip.Data
	if format != "wav" {
		converted, err := d.convertToWAV(ctx, clip.Data, format)
		if err != nil {
			return nil, err
		}
		wavBytes = converted
	}

	samples, srcRate, err := decodeWAV(wavBytes)
	if err != nil {
		return nil, err
	}

	if srcRate != d.sampleRate {
		samples, err = resample(samples, srcRate, d.sampleRate)
		if err != nil {
			return nil, decodeErrorf(err, "resample %d Hz to %d Hz", srcRate, d.sampleRate)
		}
	}
	if len(samples) == 0 {
		return nil, decodeErrorf(nil, "decoded waveform is empty")
	}

	return &Waveform{Samples: samples, SampleRate: d.sampleRate}, nil
}

// formatFromMIME maps the declared MIME hint onto a container family,
// falling back to the configured default when the hint is absent or
// unrecognized.
func formatFromMIME(mimeType, fallback string) string {
	m := strings.ToLower(mimeType)
	switch {
	case strings.Contains(m, "webm"):
		return "webm"
	case strings.Contains(m, "wav"), strings.Contains(m, "wave"):
		return "wav"
	case strings.Contains(m, "mp3"), strings.Contains(m, "mpeg"):
		return "mp3"
	default:
		return fallback
	}
}

// convertToWAV round-trips the payload through the external converter via
// temp files. Its stderr goes into the decode error verbatim; a corrupt
// container is the dominant failure here.
func (d *Decoder) convertToWAV(ctx context.Context, data []byte, format string) ([]byte, error) {
	in, err := os.CreateTemp("", "vigil_clip_*."+format)
	if err != nil {
		return nil, fmt.Errorf("temp input file: %w", err)
	}
	defer os.Remove(in.Name())
	if _, err := in.Write(data); err != nil {
		in.Close()
		return nil, fmt.Errorf("write temp input: %w", err)
	}
	if err := in.Close(); err != nil {
		return nil, fmt.Errorf("close temp input: %w", err)
	}

	out, err := os.CreateTemp("", "vigil_pcm_*.wav")
	if err != nil {
		return nil, fmt.Errorf("temp output file: %w", err)
	}
	outPath := out.Name()
	out.Close()
	defer os.Remove(outPath)

	args := append([]string{}, d.converter[1:]...)
	args = append(args, "-i", in.Name(), outPath)

	command := exec.CommandContext(ctx, d.converter[0], args...)
	var stderr bytes.Buffer
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, decodeErrorf(err, "convert %s container: %s", format, strings.TrimSpace(stderr.String()))
	}

	converted, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("read converted audio: %w", err)
	}
	return converted, nil
}

// decodeWAV parses PCM, normalizes to [-1, 1] according to the source bit
// depth's encoding, and downmixes multi-channel audio by arithmetic mean
// so a voice weak on one channel is not dropped.
func decodeWAV(data []byte) ([]float64, int, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, 0, decodeErrorf(nil, "invalid or truncated wav container")
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, decodeErrorf(err, "read pcm data")
	}
	if buf == nil || buf.Format == nil || len(buf.Data) == 0 {
		return nil, 0, decodeErrorf(nil, "wav contains no samples")
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = int(dec.BitDepth)
	}
	switch bitDepth {
	case 8, 16, 24, 32:
		// supported
	default:
		return nil, 0, decodeErrorf(nil, "unsupported bit depth %d", bitDepth)
	}

	// 8-bit PCM is unsigned with silence at 128; every other depth is
	// signed two's complement around zero.
	offset := 0.0
	maxValue := float64(int64(1)<<(bitDepth-1) - 1)
	if bitDepth == 8 {
		offset = 128
		maxValue = 128
	}

	channels := buf.Format.NumChannels
	if channels <= 0 {
		return nil, 0, decodeErrorf(nil, "wav reports %d channels", channels)
	}
	frames := len(buf.Data) / channels

	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(buf.Data[i*channels+c]) - offset
		}
		samples[i] = sum / float64(channels) / maxValue
	}

	return samples, buf.Format.SampleRate, nil
}

// resample performs bandlimited rate conversion. Nearest-neighbor
// decimation would alias into the pitch estimator's search band.
func resample(samples []float64, srcRate, dstRate int) ([]float64, error) {
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcRate),
		OutputRate: float64(dstRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("create resampler: %w", err)
	}
	out, err := rs.Process(samples)
	if err != nil {
		return nil, fmt.Errorf("resample: %w", err)
	}
	return out, nil
}
