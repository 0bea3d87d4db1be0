package audio

import (
	"math"
)

// Integrated loudness gating per ITU-R BS.1770-4
const (
	LoudnessFloor    = -70.0 // LUFS, also the absolute gate
	relativeGateLU   = -10.0
	gateBlockSeconds = 0.4
	gateOverlap      = 0.75
)

// biquad is a direct form I second-order section normalized by a0
type biquad struct {
	b0, b1, b2, a1, a2 float64
}

func (q biquad) apply(x []float64) []float64 {
	y := make([]float64, len(x))
	var x1, x2, y1, y2 float64
	for i, v := range x {
		out := q.b0*v + q.b1*x1 + q.b2*x2 - q.a1*y1 - q.a2*y2
		x2, x1 = x1, v
		y2, y1 = y1, out
		y[i] = out
	}
	return y
}

func highShelf(sampleRate, fc, gainDB, q float64) biquad {
	a := math.Pow(10, gainDB/40)
	w0 := 2 * math.Pi * fc / sampleRate
	alpha := math.Sin(w0) / (2 * q)
	cos := math.Cos(w0)
	sq := 2 * math.Sqrt(a) * alpha

	a0 := (a + 1) - (a-1)*cos + sq
	return biquad{
		b0: a * ((a + 1) + (a-1)*cos + sq) / a0,
		b1: -2 * a * ((a - 1) + (a+1)*cos) / a0,
		b2: a * ((a + 1) + (a-1)*cos - sq) / a0,
		a1: 2 * ((a - 1) - (a+1)*cos) / a0,
		a2: ((a + 1) - (a-1)*cos - sq) / a0,
	}
}

func highPass(sampleRate, fc, q float64) biquad {
	w0 := 2 * math.Pi * fc / sampleRate
	alpha := math.Sin(w0) / (2 * q)
	cos := math.Cos(w0)

	a0 := 1 + alpha
	return biquad{
		b0: (1 + cos) / 2 / a0,
		b1: -(1 + cos) / a0,
		b2: (1 + cos) / 2 / a0,
		a1: -2 * cos / a0,
		a2: (1 - alpha) / a0,
	}
}

// KWeight applies the two-stage K-weighting pre-filter
func KWeight(samples []float64, sampleRate int) []float64 {
	sr := float64(sampleRate)
	shelf := highShelf(sr, 1500, 4.0, 1/math.Sqrt2)
	hp := highPass(sr, 38, 0.5)
	return hp.apply(shelf.apply(samples))
}

func blockLoudness(meanSquare float64) float64 {
	return -0.691 + 10*math.Log10(meanSquare)
}

// IntegratedLoudness measures gated loudness of a mono signal in LUFS.
// Silence and signals shorter than one gating block return LoudnessFloor.
func IntegratedLoudness(samples []float64, sampleRate int) float64 {
	blockLen := int(gateBlockSeconds * float64(sampleRate))
	step := int(float64(blockLen) * (1 - gateOverlap))
	if blockLen == 0 || step == 0 || len(samples) < blockLen {
		return LoudnessFloor
	}

	weighted := KWeight(samples, sampleRate)

	var blocks []float64
	for start := 0; start+blockLen <= len(weighted); start += step {
		var sum float64
		for _, v := range weighted[start : start+blockLen] {
			sum += v * v
		}
		ms := sum / float64(blockLen)
		if ms > 0 && blockLoudness(ms) > LoudnessFloor {
			blocks = append(blocks, ms)
		}
	}
	if len(blocks) == 0 {
		return LoudnessFloor
	}

	var total float64
	for _, ms := range blocks {
		total += ms
	}
	relativeGate := blockLoudness(total/float64(len(blocks))) + relativeGateLU

	var gated float64
	n := 0
	for _, ms := range blocks {
		if blockLoudness(ms) > relativeGate {
			gated += ms
			n++
		}
	}
	if n == 0 {
		return LoudnessFloor
	}

	return math.Max(LoudnessFloor, blockLoudness(gated/float64(n)))
}
