package pipeline

import (
	"context"
	"math"

	"github.com/vigilabs/vigil-core/internal/config"
)

// Verifier re-examines a VAD-flagged segment for harmonic structure. A
// generic detector still fires on claps, keyboard clatter, and door slams
// because their energy envelopes resemble speech; a stable fundamental in
// the human voice range is what separates the two. The score is the
// fraction of analysis frames with a detectable periodic peak between
// PitchMinHz and PitchMaxHz.
type Verifier struct {
	cfg        config.VoicingConfig
	sampleRate int
	minLag     int
	maxLag     int
}

func NewVerifier(cfg config.PipelineConfig) *Verifier {
	minLag := int(float64(cfg.SampleRate) / cfg.Voicing.PitchMaxHz)
	maxLag := int(float64(cfg.SampleRate) / cfg.Voicing.PitchMinHz)
	if minLag < 2 {
		minLag = 2
	}
	if maxLag >= cfg.Voicing.FrameLength {
		maxLag = cfg.Voicing.FrameLength - 1
	}
	return &Verifier{
		cfg:        cfg.Voicing,
		sampleRate: cfg.SampleRate,
		minLag:     minLag,
		maxLag:     maxLag,
	}
}

// Admit reports whether the segment carries enough voiced frames to count
// as genuine speech evidence. It aborts with the context's error when the
// call's deadline expires mid-analysis.
func (v *Verifier) Admit(ctx context.Context, w *Waveform, seg Segment) (bool, error) {
	score, err := v.Score(ctx, w, seg)
	if err != nil {
		return false, err
	}
	return score > v.cfg.MinFraction, nil
}

// Score computes the voiced-frame fraction for the segment. Frames that
// cannot be analyzed (silence, numerical breakdown) count as unvoiced:
// judgment failures fail closed. The context is checked once per analysis
// frame; a single flagged span can cover minutes of audio, so the
// wall-clock budget must bite inside this loop, not just between segments.
func (v *Verifier) Score(ctx context.Context, w *Waveform, seg Segment) (float64, error) {
	start, end := seg.Start, seg.End
	if start < 0 {
		start = 0
	}
	if end > len(w.Samples) {
		end = len(w.Samples)
	}
	if end-start < v.cfg.FrameLength {
		return 0, nil
	}

	total := 0
	voiced := 0
	for offset := start; offset+v.cfg.FrameLength <= end; offset += v.cfg.HopLength {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		total++
		if v.frameVoiced(w.Samples[offset : offset+v.cfg.FrameLength]) {
			voiced++
		}
	}
	if total == 0 {
		return 0, nil
	}
	return float64(voiced) / float64(total), nil
}

// frameVoiced runs a normalized autocorrelation (NSDF) over the pitch lag
// range. A clear periodic signal peaks near 1; broadband noise and
// impulsive transients stay well below the clarity threshold.
func (v *Verifier) frameVoiced(frame []float64) bool {
	n := len(frame)

	var mean float64
	for _, s := range frame {
		mean += s
	}
	mean /= float64(n)

	centered := make([]float64, n)
	var energy float64
	for i, s := range frame {
		centered[i] = s - mean
		energy += centered[i] * centered[i]
	}
	rms := math.Sqrt(energy / float64(n))
	if rms < 1e-4 {
		// effectively silent, no periodicity to establish
		return false
	}

	clarity := 0.0
	for lag := v.minLag; lag <= v.maxLag; lag++ {
		var r, m float64
		for i := 0; i < n-lag; i++ {
			a, b := centered[i], centered[i+lag]
			r += a * b
			m += a*a + b*b
		}
		if m == 0 {
			continue
		}
		nsdf := 2 * r / m
		if math.IsNaN(nsdf) {
			return false
		}
		if nsdf > clarity {
			clarity = nsdf
		}
	}

	return clarity > v.cfg.ClarityThreshold
}
