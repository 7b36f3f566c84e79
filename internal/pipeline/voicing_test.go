package pipeline

import (
	"context"
	"errors"
	"testing"
)

func TestVoicedToneScoresHigh(t *testing.T) {
	cfg := testPipelineConfig()
	v := NewVerifier(cfg)
	w := &Waveform{Samples: sineWave(200, 1.0, 16000, 0.5), SampleRate: 16000}
	seg := Segment{Start: 0, End: len(w.Samples)}

	score, err := v.Score(context.Background(), w, seg)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if score < 0.9 {
		t.Fatalf("expected pure tone near fully voiced, score %v", score)
	}
	admitted, err := v.Admit(context.Background(), w, seg)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if !admitted {
		t.Fatal("expected voiced tone admitted")
	}
}

func TestToneAtPitchRangeEdges(t *testing.T) {
	cfg := testPipelineConfig()
	v := NewVerifier(cfg)
	for _, freq := range []float64{60, 380} {
		w := &Waveform{Samples: sineWave(freq, 1.0, 16000, 0.5), SampleRate: 16000}
		admitted, err := v.Admit(context.Background(), w, Segment{Start: 0, End: len(w.Samples)})
		if err != nil {
			t.Fatalf("admit %v Hz: %v", freq, err)
		}
		if !admitted {
			t.Fatalf("expected %v Hz tone admitted", freq)
		}
	}
}

func TestNoiseBurstScoresLow(t *testing.T) {
	cfg := testPipelineConfig()
	v := NewVerifier(cfg)
	w := &Waveform{Samples: noiseBurst(1.0, 16000, 0.5, 3), SampleRate: 16000}
	seg := Segment{Start: 0, End: len(w.Samples)}

	score, err := v.Score(context.Background(), w, seg)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if score > cfg.Voicing.MinFraction {
		t.Fatalf("expected broadband noise below admission bar, score %v", score)
	}
	admitted, err := v.Admit(context.Background(), w, seg)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if admitted {
		t.Fatal("expected noise burst rejected")
	}
}

func TestImpulseScoresZero(t *testing.T) {
	cfg := testPipelineConfig()
	v := NewVerifier(cfg)

	// a single loud click with otherwise silent surroundings
	samples := make([]float64, 16000)
	samples[8000] = 0.9
	w := &Waveform{Samples: samples, SampleRate: 16000}

	score, err := v.Score(context.Background(), w, Segment{Start: 0, End: len(samples)})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if score != 0 {
		t.Fatalf("expected impulse fully unvoiced, score %v", score)
	}
}

func TestSilenceScoresZero(t *testing.T) {
	cfg := testPipelineConfig()
	v := NewVerifier(cfg)
	w := &Waveform{Samples: make([]float64, 16000), SampleRate: 16000}

	score, err := v.Score(context.Background(), w, Segment{Start: 0, End: len(w.Samples)})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if score != 0 {
		t.Fatalf("expected silence unvoiced, score %v", score)
	}
}

func TestSegmentShorterThanFrameScoresZero(t *testing.T) {
	cfg := testPipelineConfig()
	v := NewVerifier(cfg)
	w := &Waveform{Samples: sineWave(200, 1.0, 16000, 0.5), SampleRate: 16000}

	score, err := v.Score(context.Background(), w, Segment{Start: 0, End: cfg.Voicing.FrameLength / 2})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if score != 0 {
		t.Fatalf("expected sub-frame segment unscorable, score %v", score)
	}
}

func TestSegmentBoundsClamped(t *testing.T) {
	cfg := testPipelineConfig()
	v := NewVerifier(cfg)
	w := &Waveform{Samples: sineWave(200, 0.5, 16000, 0.5), SampleRate: 16000}

	// out-of-range indices must not panic
	score, err := v.Score(context.Background(), w, Segment{Start: -100, End: len(w.Samples) + 100})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if score < 0.9 {
		t.Fatalf("expected clamped segment still scored, got %v", score)
	}
}

func TestScoreAbortsOnExpiredContext(t *testing.T) {
	cfg := testPipelineConfig()
	v := NewVerifier(cfg)
	w := &Waveform{Samples: sineWave(200, 2.0, 16000, 0.5), SampleRate: 16000}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := v.Score(ctx, w, Segment{Start: 0, End: len(w.Samples)}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := v.Admit(ctx, w, Segment{Start: 0, End: len(w.Samples)}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled from Admit, got %v", err)
	}
}
