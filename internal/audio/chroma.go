package audio

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Chroma frequency range; bins outside carry too little pitch information
const (
	chromaMinHz = 55.0
	chromaMaxHz = 5000.0
)

// Chroma folds the power spectrogram into 12 pitch classes (C = 0) and
// normalizes each frame by its maximum. Silent frames stay all zero.
func Chroma(s *Spectrogram) [][]float64 {
	classes := make([]int, s.Bins())
	for k := range classes {
		classes[k] = -1
		f := s.BinFrequency(k)
		if f < chromaMinHz || f > chromaMaxHz {
			continue
		}
		midi := 69 + 12*math.Log2(f/440.0)
		classes[k] = ((int(math.Round(midi)) % 12) + 12) % 12
	}

	out := make([][]float64, len(s.Magnitude))
	for t, frame := range s.Magnitude {
		c := make([]float64, 12)
		for k, m := range frame {
			if classes[k] >= 0 {
				c[classes[k]] += m * m
			}
		}
		if peak := floats.Max(c); peak > 0 {
			floats.Scale(1/peak, c)
		}
		out[t] = c
	}
	return out
}
