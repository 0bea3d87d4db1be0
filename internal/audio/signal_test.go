package audio

import (
	"math"
)

const testRate = 22050

func sine(freq, amp, seconds float64) []float64 {
	n := int(seconds * testRate)
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/testRate)
	}
	return out
}

// clickTrack places a short decaying burst every period samples
func clickTrack(period int, seconds float64) []float64 {
	n := int(seconds * testRate)
	out := make([]float64, n)
	for start := 0; start < n; start += period {
		for i := 0; i < 300 && start+i < n; i++ {
			out[start+i] = 0.8 * math.Sin(2*math.Pi*2000*float64(i)/testRate) * math.Exp(-float64(i)/30)
		}
	}
	return out
}

func argmax(x []float64) int {
	best := 0
	for i, v := range x {
		if v > x[best] {
			best = i
		}
	}
	return best
}
