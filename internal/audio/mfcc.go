package audio

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

// Mel analysis parameters
const (
	NumMelBands = 128
	NumMFCC     = 20
	topDB       = 80.0
	amin        = 1e-10
)

func hzToMel(f float64) float64 {
	return 2595 * math.Log10(1+f/700)
}

func melToHz(m float64) float64 {
	return 700 * (math.Pow(10, m/2595) - 1)
}

// MelFilterbank builds triangular filters between 0 Hz and Nyquist, each
// scaled to unit area.
func MelFilterbank(sampleRate, nfft, bands int) [][]float64 {
	bins := nfft/2 + 1
	maxMel := hzToMel(float64(sampleRate) / 2)

	edges := make([]float64, bands+2)
	for i := range edges {
		edges[i] = melToHz(maxMel * float64(i) / float64(bands+1))
	}

	bank := make([][]float64, bands)
	for m := 0; m < bands; m++ {
		lo, center, hi := edges[m], edges[m+1], edges[m+2]
		norm := 2 / (hi - lo)
		weights := make([]float64, bins)
		for k := 0; k < bins; k++ {
			f := float64(k) * float64(sampleRate) / float64(nfft)
			up := (f - lo) / (center - lo)
			down := (hi - f) / (hi - center)
			if w := math.Min(up, down); w > 0 {
				weights[k] = w * norm
			}
		}
		bank[m] = weights
	}
	return bank
}

// MelSpectrogramDB projects the power spectrogram onto the mel bank and
// converts to decibels, clipped to topDB below the global peak.
func MelSpectrogramDB(s *Spectrogram, bands int) [][]float64 {
	bank := MelFilterbank(s.SampleRate, s.NFFT, bands)
	power := s.Power()

	out := make([][]float64, len(power))
	peak := math.Inf(-1)
	for t, frame := range power {
		row := make([]float64, bands)
		for m, w := range bank {
			row[m] = 10 * math.Log10(math.Max(amin, floats.Dot(w, frame)))
		}
		peak = math.Max(peak, floats.Max(row))
		out[t] = row
	}

	floor := peak - topDB
	for _, row := range out {
		for m, v := range row {
			if v < floor {
				row[m] = floor
			}
		}
	}
	return out
}

// MFCC applies an orthonormal DCT-II to each log-mel frame and keeps the
// first n coefficients.
func MFCC(melDB [][]float64, n int) [][]float64 {
	if len(melDB) == 0 {
		return nil
	}
	bands := len(melDB[0])
	if n > bands {
		n = bands
	}
	// CosSequence yields 4 times the unnormalized DCT-II
	dct := fourier.NewQuarterWaveFFT(bands)
	scale := make([]float64, n)
	for k := range scale {
		scale[k] = math.Sqrt(2/float64(bands)) / 4
	}
	scale[0] = math.Sqrt(1/float64(bands)) / 4

	buf := make([]float64, bands)
	out := make([][]float64, len(melDB))
	for t, frame := range melDB {
		dct.CosSequence(buf, frame)
		coeffs := make([]float64, n)
		floats.MulTo(coeffs, scale, buf[:n])
		out[t] = coeffs
	}
	return out
}
