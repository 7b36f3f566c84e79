package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// stubSegmenter lets tests script VAD output without the ONNX model.
type stubSegmenter struct {
	segments []Segment
	err      error
	delay    time.Duration
	calls    int
}

func (s *stubSegmenter) Segments(ctx context.Context, w *Waveform) ([]Segment, error) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.segments, nil
}

func (s *stubSegmenter) Close() error { return nil }

func newTestPipeline(t *testing.T, seg Segmenter) *Pipeline {
	t.Helper()
	p, err := New(testPipelineConfig(), newTestLogger(), seg)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return p
}

func TestDetectSpeechInVoicedClip(t *testing.T) {
	payload := encodeWAV(t, sineWave(200, 2.0, 16000, 0.5), 16000, 1)
	seg := &stubSegmenter{segments: []Segment{{Start: 0, End: 32000}}}
	p := newTestPipeline(t, seg)

	res, err := p.Detect(context.Background(), Clip{Data: payload, MIMEType: "audio/wav"})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if !res.SpeechDetected {
		t.Fatalf("expected speech detected, message %q", res.Message)
	}
	if res.Timestamp.IsZero() {
		t.Fatal("expected timestamp set")
	}
}

func TestDetectSilenceIsFalse(t *testing.T) {
	payload := encodeWAV(t, make([]float64, 32000), 16000, 1)
	seg := &stubSegmenter{} // VAD finds nothing in silence
	p := newTestPipeline(t, seg)

	res, err := p.Detect(context.Background(), Clip{Data: payload, MIMEType: "audio/wav"})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if res.SpeechDetected {
		t.Fatal("expected no speech in silence")
	}
}

func TestDetectRejectsImpulsiveNoise(t *testing.T) {
	// speech-comparable energy, no harmonic structure; the VAD stub flags
	// it, the voicing verifier must throw it out
	payload := encodeWAV(t, noiseBurst(1.0, 16000, 0.5, 5), 16000, 1)
	seg := &stubSegmenter{segments: []Segment{{Start: 0, End: 16000}}}
	p := newTestPipeline(t, seg)

	res, err := p.Detect(context.Background(), Clip{Data: payload, MIMEType: "audio/wav"})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if res.SpeechDetected {
		t.Fatal("expected non-vocal transient rejected")
	}
}

func TestDetectDurationFilter(t *testing.T) {
	// perfectly voiced but shorter than the minimum duration threshold
	payload := encodeWAV(t, sineWave(200, 1.0, 16000, 0.5), 16000, 1)
	short := int(0.2 * 16000)
	seg := &stubSegmenter{segments: []Segment{{Start: 0, End: short}}}
	p := newTestPipeline(t, seg)

	res, err := p.Detect(context.Background(), Clip{Data: payload, MIMEType: "audio/wav"})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if res.SpeechDetected {
		t.Fatal("expected sub-threshold segment discarded")
	}
}

func TestDetectShortCircuitsOnFirstAdmission(t *testing.T) {
	payload := encodeWAV(t, sineWave(200, 2.0, 16000, 0.5), 16000, 1)
	seg := &stubSegmenter{segments: []Segment{
		{Start: 0, End: 16000},
		{Start: 16000, End: 32000},
	}}
	p := newTestPipeline(t, seg)

	res, err := p.Detect(context.Background(), Clip{Data: payload, MIMEType: "audio/wav"})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if !res.SpeechDetected {
		t.Fatal("expected detection from first segment")
	}
}

func TestDetectIdempotent(t *testing.T) {
	payload := encodeWAV(t, sineWave(200, 1.0, 16000, 0.5), 16000, 1)
	seg := &stubSegmenter{segments: []Segment{{Start: 0, End: 16000}}}
	p := newTestPipeline(t, seg)

	first, err := p.Detect(context.Background(), Clip{Data: payload, MIMEType: "audio/wav"})
	if err != nil {
		t.Fatalf("first detect: %v", err)
	}
	second, err := p.Detect(context.Background(), Clip{Data: payload, MIMEType: "audio/wav"})
	if err != nil {
		t.Fatalf("second detect: %v", err)
	}
	if first.SpeechDetected != second.SpeechDetected || first.Message != second.Message {
		t.Fatalf("expected identical verdicts, got %+v vs %+v", first, second)
	}
}

func TestDetectModelUnavailable(t *testing.T) {
	p := newTestPipeline(t, nil)
	payload := encodeWAV(t, make([]float64, 16000), 16000, 1)

	for i := 0; i < 3; i++ {
		_, err := p.Detect(context.Background(), Clip{Data: payload, MIMEType: "audio/wav"})
		if !errors.Is(err, ErrModelUnavailable) {
			t.Fatalf("expected ErrModelUnavailable, got %v", err)
		}
	}
	if p.Available() {
		t.Fatal("expected pipeline to report unavailable")
	}
}

func TestDetectDecodeErrorPropagates(t *testing.T) {
	seg := &stubSegmenter{}
	p := newTestPipeline(t, seg)

	_, err := p.Detect(context.Background(), Clip{Data: nil, MIMEType: "audio/wav"})
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if seg.calls != 0 {
		t.Fatal("expected segmenter never reached after decode failure")
	}
}

func TestDetectBudgetExceeded(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.BudgetMS = 50
	seg := &stubSegmenter{delay: time.Second}
	p, err := New(cfg, newTestLogger(), seg)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}

	payload := encodeWAV(t, make([]float64, 16000), 16000, 1)
	_, err = p.Detect(context.Background(), Clip{Data: payload, MIMEType: "audio/wav"})
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded, got %v", err)
	}
}

func TestDetectBudgetExceededInsideLongSegment(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.BudgetMS = 50

	// One VAD span covering a whole minute of voiced audio: the deadline
	// must interrupt the voicing analysis itself, not wait for the next
	// segment boundary, and must never fall through to a normal verdict.
	const seconds = 60
	samples := sineWave(200, seconds, 16000, 0.5)
	seg := &stubSegmenter{segments: []Segment{{Start: 0, End: len(samples)}}}
	p, err := New(cfg, newTestLogger(), seg)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}

	payload := encodeWAV(t, samples, 16000, 1)
	start := time.Now()
	_, err = p.Detect(context.Background(), Clip{Data: payload, MIMEType: "audio/wav"})
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded, got %v after %v", err, time.Since(start))
	}
}

func TestDetectContinuesWhenSuppressionFails(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.Denoise.Enabled = true
	seg := &stubSegmenter{segments: []Segment{{Start: 0, End: 8000}}}
	p, err := New(cfg, newTestLogger(), seg)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}

	// 0.03 s decodes fine but is shorter than one suppression frame, so
	// the suppressor errors and the pipeline must carry on regardless.
	payload := encodeWAV(t, sineWave(200, 0.03, 16000, 0.5), 16000, 1)
	res, err := p.Detect(context.Background(), Clip{Data: payload, MIMEType: "audio/wav"})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if res.SpeechDetected {
		t.Fatal("expected short clip not detected")
	}
	if seg.calls != 1 {
		t.Fatalf("expected segmenter still consulted, calls %d", seg.calls)
	}
}

func TestDetectFormatInvariance(t *testing.T) {
	// the same utterance as mono 16 kHz and as stereo 44.1 kHz must yield
	// the same verdict once downmix and resample have run
	encodings := []struct {
		name       string
		sampleRate int
		channels   int
	}{
		{"mono 16k", 16000, 1},
		{"stereo 44.1k", 44100, 2},
	}
	for _, enc := range encodings {
		t.Run(enc.name, func(t *testing.T) {
			payload := encodeWAV(t, sineWave(200, 2.0, enc.sampleRate, 0.5), enc.sampleRate, enc.channels)
			seg := &stubSegmenter{segments: []Segment{{Start: 0, End: 30000}}}
			p := newTestPipeline(t, seg)

			res, err := p.Detect(context.Background(), Clip{Data: payload, MIMEType: "audio/wav"})
			if err != nil {
				t.Fatalf("detect: %v", err)
			}
			if !res.SpeechDetected {
				t.Fatalf("expected speech detected for %s, message %q", enc.name, res.Message)
			}
		})
	}
}
