package audio

import (
	"math"
)

// RolloffPercent is the energy fraction below the spectral rolloff frequency
const RolloffPercent = 0.85

// SpectralShape returns per-frame centroid, bandwidth and rolloff in Hz.
// Silent frames report zero for all three.
func SpectralShape(s *Spectrogram) (centroid, bandwidth, rolloff []float64) {
	n := len(s.Magnitude)
	centroid = make([]float64, n)
	bandwidth = make([]float64, n)
	rolloff = make([]float64, n)

	freqs := make([]float64, s.Bins())
	for k := range freqs {
		freqs[k] = s.BinFrequency(k)
	}

	for t, frame := range s.Magnitude {
		var total, weighted float64
		for k, m := range frame {
			total += m
			weighted += m * freqs[k]
		}
		if total <= 0 {
			continue
		}

		c := weighted / total
		centroid[t] = c

		var spread float64
		for k, m := range frame {
			d := freqs[k] - c
			spread += m / total * d * d
		}
		bandwidth[t] = math.Sqrt(spread)

		threshold := RolloffPercent * total
		var cum float64
		for k, m := range frame {
			cum += m
			if cum >= threshold {
				rolloff[t] = freqs[k]
				break
			}
		}
	}

	return centroid, bandwidth, rolloff
}

// ZeroCrossingRate returns the fraction of sign changes per frame, framed the
// same way as ComputeSTFT.
func ZeroCrossingRate(samples []float64, frameLength, hop int) []float64 {
	padded := reflectPad(samples, frameLength/2)
	var rates []float64
	for start := 0; start+frameLength <= len(padded); start += hop {
		frame := padded[start : start+frameLength]
		crossings := 0
		for i := 1; i < len(frame); i++ {
			if math.Signbit(frame[i]) != math.Signbit(frame[i-1]) {
				crossings++
			}
		}
		rates = append(rates, float64(crossings)/float64(frameLength))
	}
	return rates
}
