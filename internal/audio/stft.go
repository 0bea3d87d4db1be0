package audio

import (
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

// STFT parameters shared by every frame-level descriptor
const (
	NFFT = 2048
	Hop  = 512
)

// Spectrogram holds the magnitude STFT, frames x (NFFT/2+1) bins
type Spectrogram struct {
	Magnitude  [][]float64
	SampleRate int
	NFFT       int
	Hop        int
}

// BinFrequency returns the center frequency of bin k in Hz
func (s *Spectrogram) BinFrequency(k int) float64 {
	return float64(k) * float64(s.SampleRate) / float64(s.NFFT)
}

// Bins returns the number of frequency bins per frame
func (s *Spectrogram) Bins() int {
	return s.NFFT/2 + 1
}

// Power returns the squared magnitude spectrogram
func (s *Spectrogram) Power() [][]float64 {
	out := make([][]float64, len(s.Magnitude))
	for t, frame := range s.Magnitude {
		out[t] = make([]float64, len(frame))
		for k, m := range frame {
			out[t][k] = m * m
		}
	}
	return out
}

// ComputeSTFT frames the reflect-padded signal with a Hann window. Frames are
// centered on multiples of hop, so a signal of n samples yields 1 + n/hop
// frames.
func ComputeSTFT(samples []float64, sampleRate, nfft, hop int) *Spectrogram {
	win := window.Hann(nfft)
	padded := reflectPad(samples, nfft/2)
	bins := nfft/2 + 1

	var frames [][]float64
	buf := make([]float64, nfft)
	for start := 0; start+nfft <= len(padded); start += hop {
		for i := 0; i < nfft; i++ {
			buf[i] = padded[start+i] * win[i]
		}
		spectrum := fft.FFTReal(buf)
		mag := make([]float64, bins)
		for k := 0; k < bins; k++ {
			mag[k] = cmplx.Abs(spectrum[k])
		}
		frames = append(frames, mag)
	}

	return &Spectrogram{
		Magnitude:  frames,
		SampleRate: sampleRate,
		NFFT:       nfft,
		Hop:        hop,
	}
}

// reflectPad mirrors pad samples at both ends without repeating the edge.
// Signals too short to mirror are zero padded.
func reflectPad(x []float64, pad int) []float64 {
	out := make([]float64, len(x)+2*pad)
	copy(out[pad:], x)
	if len(x) <= pad {
		return out
	}
	for i := 0; i < pad; i++ {
		out[pad-1-i] = x[i+1]
		out[pad+len(x)+i] = x[len(x)-2-i]
	}
	return out
}
