// Package pipeline implements the speech-activity verification pipeline:
// decode → resample → best-effort denoise → voice-activity segmentation →
// per-segment voicing verification. A clip comes in as opaque bytes with a
// MIME hint and leaves as a single boolean verdict.
package pipeline

import "time"

// Clip is one audio chunk captured during an exam session. It is owned by a
// single Detect call and never persisted here.
type Clip struct {
	Data     []byte
	MIMEType string
}

// Waveform is normalized mono audio: samples in [-1, 1] at a fixed rate.
// It is produced once by the decoder and read-only afterwards.
type Waveform struct {
	Samples    []float64
	SampleRate int
}

// Duration returns the waveform length in seconds.
func (w *Waveform) Duration() float64 {
	if w.SampleRate == 0 {
		return 0
	}
	return float64(len(w.Samples)) / float64(w.SampleRate)
}

// Segment is a half-open sample interval [Start, End) flagged by the
// voice-activity segmenter as likely speech energy.
type Segment struct {
	Start int
	End   int
}

// Duration returns the segment length in seconds at the given rate.
func (s Segment) Duration(sampleRate int) float64 {
	if sampleRate == 0 {
		return 0
	}
	return float64(s.End-s.Start) / float64(sampleRate)
}

// Result is the sole artifact crossing the pipeline boundary.
type Result struct {
	SpeechDetected bool      `json:"speech_detected"`
	Message        string    `json:"message"`
	Timestamp      time.Time `json:"timestamp"`
}
