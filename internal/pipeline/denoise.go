package pipeline

import (
	"fmt"
	"math"
	"math/cmplx"
	"sort"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Suppressor attenuates stationary background noise by spectral
// subtraction: the noise spectrum is estimated from the quietest analysis
// frames and subtracted from every frame. It is strictly best-effort; the
// orchestrator discards its output on any error and keeps the original
// waveform.
type Suppressor struct {
	frameLen int
	hop      int

	// oversubtraction factor and spectral floor, standard values for
	// stationary suppression without musical-noise artifacts taking over.
	alpha float64
	beta  float64
}

func NewSuppressor() *Suppressor {
	return &Suppressor{
		frameLen: 512,
		hop:      256,
		alpha:    1.5,
		beta:     0.02,
	}
}

// Process returns a denoised waveform of identical length and sample rate.
func (s *Suppressor) Process(w *Waveform) (*Waveform, error) {
	n := len(w.Samples)
	if n < s.frameLen {
		return nil, fmt.Errorf("clip shorter than one analysis frame (%d < %d samples)", n, s.frameLen)
	}

	window := hannWindow(s.frameLen)
	numFrames := 1 + (n-s.frameLen)/s.hop
	numBins := s.frameLen/2 + 1

	fft := fourier.NewFFT(s.frameLen)

	spectra := make([][]complex128, numFrames)
	energies := make([]frameEnergy, numFrames)
	frame := make([]float64, s.frameLen)
	for f := 0; f < numFrames; f++ {
		offset := f * s.hop
		var energy float64
		for i := 0; i < s.frameLen; i++ {
			frame[i] = w.Samples[offset+i] * window[i]
			energy += frame[i] * frame[i]
		}
		spectra[f] = fft.Coefficients(nil, frame)
		energies[f] = frameEnergy{index: f, energy: energy}
	}

	noise, err := estimateNoise(spectra, energies, numBins)
	if err != nil {
		return nil, err
	}

	// Subtract the noise magnitude from each frame, preserving phase and
	// flooring at a fraction of the original magnitude.
	for f := 0; f < numFrames; f++ {
		for b := 0; b < numBins; b++ {
			c := spectra[f][b]
			mag := cmplx.Abs(c)
			if mag == 0 {
				continue
			}
			cleaned := mag - s.alpha*noise[b]
			if floor := s.beta * mag; cleaned < floor {
				cleaned = floor
			}
			spectra[f][b] = c * complex(cleaned/mag, 0)
		}
	}

	out := make([]float64, n)
	norm := make([]float64, n)
	for f := 0; f < numFrames; f++ {
		seq := fft.Sequence(nil, spectra[f])
		offset := f * s.hop
		for i := 0; i < s.frameLen; i++ {
			// gonum's inverse transform is unnormalized.
			out[offset+i] += seq[i] / float64(s.frameLen) * window[i]
			norm[offset+i] += window[i] * window[i]
		}
	}
	for i := range out {
		if norm[i] > 1e-8 {
			out[i] /= norm[i]
		} else {
			out[i] = w.Samples[i]
		}
		if math.IsNaN(out[i]) || math.IsInf(out[i], 0) {
			return nil, fmt.Errorf("suppression produced non-finite sample at %d", i)
		}
	}

	return &Waveform{Samples: out, SampleRate: w.SampleRate}, nil
}

type frameEnergy struct {
	index  int
	energy float64
}

// estimateNoise averages the magnitude spectra of the quietest tenth of
// frames (at least one). A clip with no quiet stretch yields an estimate
// biased by speech, which the spectral floor keeps from destroying the
// signal.
func estimateNoise(spectra [][]complex128, energies []frameEnergy, numBins int) ([]float64, error) {
	sorted := append([]frameEnergy(nil), energies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].energy < sorted[j].energy })

	count := len(sorted) / 10
	if count < 1 {
		count = 1
	}

	noise := make([]float64, numBins)
	for _, fe := range sorted[:count] {
		for b := 0; b < numBins; b++ {
			noise[b] += cmplx.Abs(spectra[fe.index][b])
		}
	}
	for b := range noise {
		noise[b] /= float64(count)
		if math.IsNaN(noise[b]) || math.IsInf(noise[b], 0) {
			return nil, fmt.Errorf("noise estimate not finite in bin %d", b)
		}
	}
	return noise, nil
}

func hannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}
