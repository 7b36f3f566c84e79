package pipeline

import (
	"context"
	"fmt"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/vigilabs/vigil-core/internal/config"
)

// Segmenter produces time-ascending, non-overlapping candidate speech
// spans for a waveform. An empty result is a valid outcome, not an error.
type Segmenter interface {
	Segments(ctx context.Context, w *Waveform) ([]Segment, error)
	Close() error
}

// SileroSegmenter wraps a pool of Silero VAD detector instances. A single
// detector handle carries per-call inference state and is not safe for
// concurrent use, so calls borrow an instance from the pool instead of
// serializing behind one handle; decode and resample work stays parallel.
type SileroSegmenter struct {
	pool chan *speech.Detector
	size int
}

func NewSileroSegmenter(cfg config.PipelineConfig) (*SileroSegmenter, error) {
	pool := make(chan *speech.Detector, cfg.VAD.PoolSize)
	for i := 0; i < cfg.VAD.PoolSize; i++ {
		det, err := speech.NewDetector(speech.DetectorConfig{
			ModelPath:            cfg.VAD.ModelPath,
			SampleRate:           cfg.SampleRate,
			WindowSize:           cfg.VAD.WindowSize,
			Threshold:            cfg.VAD.Threshold,
			MinSilenceDurationMs: cfg.VAD.MinSilenceDurationMS,
			SpeechPadMs:          cfg.VAD.SpeechPadMS,
		})
		if err != nil {
			drainDetectors(pool)
			return nil, fmt.Errorf("create silero detector %d/%d: %w", i+1, cfg.VAD.PoolSize, err)
		}
		pool <- det
	}
	return &SileroSegmenter{pool: pool, size: cfg.VAD.PoolSize}, nil
}

func (s *SileroSegmenter) Segments(ctx context.Context, w *Waveform) ([]Segment, error) {
	var det *speech.Detector
	select {
	case det = <-s.pool:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() {
		_ = det.Reset()
		s.pool <- det
	}()

	pcm := make([]float32, len(w.Samples))
	for i, sample := range w.Samples {
		pcm[i] = float32(sample)
	}

	raw, err := det.Detect(pcm)
	if err != nil {
		return nil, fmt.Errorf("silero detect: %w", err)
	}

	segments := make([]Segment, 0, len(raw))
	for _, r := range raw {
		start := int(r.SpeechStartAt * float64(w.SampleRate))
		end := int(r.SpeechEndAt * float64(w.SampleRate))
		if r.SpeechEndAt <= 0 {
			// speech ran to the end of the clip
			end = len(w.Samples)
		}
		if start < 0 {
			start = 0
		}
		if end > len(w.Samples) {
			end = len(w.Samples)
		}
		if end > start {
			segments = append(segments, Segment{Start: start, End: end})
		}
	}
	return segments, nil
}

func (s *SileroSegmenter) Close() error {
	var firstErr error
	for i := 0; i < s.size; i++ {
		det := <-s.pool
		if err := det.Destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func drainDetectors(pool chan *speech.Detector) {
	for {
		select {
		case det := <-pool:
			_ = det.Destroy()
		default:
			return
		}
	}
}
