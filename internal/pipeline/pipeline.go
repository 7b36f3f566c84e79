package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/vigilabs/vigil-core/internal/config"
)

// Pipeline composes decode, best-effort denoise, voice-activity
// segmentation, and voicing verification into one synchronous call. Every
// call is stateless and idempotent; the only shared state is the read-only
// segmenter pool and configuration.
type Pipeline struct {
	cfg        config.PipelineConfig
	log        *slog.Logger
	decoder    *Decoder
	suppressor *Suppressor
	verifier   *Verifier
	segmenter  Segmenter

	verdicts metric.Int64Counter
	failures metric.Int64Counter
}

// New builds a pipeline around the given segmenter. A nil segmenter puts
// the pipeline into the model-unavailable state: every Detect call fails
// fast with ErrModelUnavailable instead of reporting "no speech".
func New(cfg config.PipelineConfig, logger *slog.Logger, segmenter Segmenter) (*Pipeline, error) {
	decoder, err := NewDecoder(cfg)
	if err != nil {
		return nil, fmt.Errorf("build decoder: %w", err)
	}

	meter := otel.Meter("vigil-core/pipeline")
	verdicts, err := meter.Int64Counter("vigil_detection_verdicts_total",
		metric.WithDescription("Completed speech detection calls by verdict"))
	if err != nil {
		return nil, fmt.Errorf("create verdict counter: %w", err)
	}
	failures, err := meter.Int64Counter("vigil_detection_failures_total",
		metric.WithDescription("Failed speech detection calls by reason"))
	if err != nil {
		return nil, fmt.Errorf("create failure counter: %w", err)
	}

	return &Pipeline{
		cfg:        cfg,
		log:        logger,
		decoder:    decoder,
		suppressor: NewSuppressor(),
		verifier:   NewVerifier(cfg),
		segmenter:  segmenter,
		verdicts:   verdicts,
		failures:   failures,
	}, nil
}

// Available reports whether the voice-activity model loaded.
func (p *Pipeline) Available() bool {
	return p.segmenter != nil
}

// Close releases the segmenter pool.
func (p *Pipeline) Close() error {
	if p.segmenter == nil {
		return nil
	}
	return p.segmenter.Close()
}

// Detect decides whether the clip contains genuine human speech. Failure
// of the pipeline itself (decode, model, budget) surfaces as an error;
// ambiguity inside the judgment stages resolves toward "not detected".
func (p *Pipeline) Detect(ctx context.Context, clip Clip) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(p.cfg.BudgetMS)*time.Millisecond)
	defer cancel()

	result, err := p.detect(ctx, clip)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrBudgetExceeded
		}
		p.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", failureReason(err))))
		return Result{}, err
	}

	verdict := "not_detected"
	if result.SpeechDetected {
		verdict = "detected"
	}
	p.verdicts.Add(ctx, 1, metric.WithAttributes(attribute.String("verdict", verdict)))
	return result, nil
}

func (p *Pipeline) detect(ctx context.Context, clip Clip) (Result, error) {
	if p.segmenter == nil {
		return Result{}, ErrModelUnavailable
	}

	wave, err := p.decoder.Decode(ctx, clip)
	if err != nil {
		return Result{}, err
	}

	if p.cfg.Denoise.Enabled {
		cleaned, err := p.suppressor.Process(wave)
		if err != nil {
			// Documented policy, not an accident: suppression helps
			// separate voice from hiss, but its failure must never take
			// down the violation-detection path.
			p.log.Warn("noise suppression degraded, continuing with raw waveform",
				slog.String("error", err.Error()))
		} else {
			wave = cleaned
		}
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	segments, err := p.segmenter.Segments(ctx, wave)
	if err != nil {
		return Result{}, fmt.Errorf("voice-activity segmentation: %w", err)
	}

	for _, seg := range segments {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		dur := seg.Duration(wave.SampleRate)
		if dur < p.cfg.MinSpeechDurationS {
			continue
		}
		admitted, err := p.verifier.Admit(ctx, wave, seg)
		if err != nil {
			return Result{}, err
		}
		if admitted {
			// One admitted segment establishes the violation; scoring the
			// rest only adds latency.
			return Result{
				SpeechDetected: true,
				Message:        fmt.Sprintf("human speech detected (segment duration %.2fs)", dur),
				Timestamp:      time.Now().UTC(),
			}, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	return Result{
		SpeechDetected: false,
		Message:        "no human speech detected",
		Timestamp:      time.Now().UTC(),
	}, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrModelUnavailable):
		return "model_unavailable"
	case errors.Is(err, ErrBudgetExceeded):
		return "budget_exceeded"
	default:
		var decodeErr *DecodeError
		if errors.As(err, &decodeErr) {
			return "decode_error"
		}
		return "internal"
	}
}
