package audio

import (
	"math"
	"sort"
)

// Tempo search parameters
const (
	MinBPM       = 30.0
	MaxBPM       = 300.0
	priorBPM     = 120.0
	priorOctaves = 1.0
	tempoWindow  = 384 // onset frames per local estimate
	tempoWinStep = 32
)

// OnsetEnvelope is the positive spectral flux of the log-mel spectrogram,
// averaged across bands. The first frame is zero.
func OnsetEnvelope(melDB [][]float64) []float64 {
	env := make([]float64, len(melDB))
	for t := 1; t < len(melDB); t++ {
		var flux float64
		for m, v := range melDB[t] {
			if d := v - melDB[t-1][m]; d > 0 {
				flux += d
			}
		}
		env[t] = flux / float64(len(melDB[t]))
	}
	return env
}

// EstimateTempo returns the median of local tempo estimates taken over
// sliding windows of the onset envelope. frameRate is envelope frames per
// second. Returns 0 when no window carries rhythmic energy.
func EstimateTempo(env []float64, frameRate float64) float64 {
	minLag := int(math.Ceil(60 * frameRate / MaxBPM))
	maxLag := int(math.Floor(60 * frameRate / MinBPM))
	if minLag < 1 {
		minLag = 1
	}

	win := tempoWindow
	if len(env) < win {
		win = len(env)
	}
	if maxLag >= win {
		maxLag = win - 1
	}
	if maxLag < minLag+2 {
		return 0
	}

	var local []float64
	for start := 0; start+win <= len(env); start += tempoWinStep {
		if bpm, ok := localTempo(env[start:start+win], frameRate, minLag, maxLag); ok {
			local = append(local, bpm)
		}
	}
	if len(local) == 0 {
		return 0
	}

	sort.Float64s(local)
	mid := len(local) / 2
	if len(local)%2 == 1 {
		return local[mid]
	}
	return (local[mid-1] + local[mid]) / 2
}

// localTempo weights the autocorrelation of one demeaned window with a
// log-normal prior centered on priorBPM and refines the best lag with
// parabolic interpolation.
func localTempo(seg []float64, frameRate float64, minLag, maxLag int) (float64, bool) {
	var mean float64
	for _, v := range seg {
		mean += v
	}
	mean /= float64(len(seg))

	x := make([]float64, len(seg))
	var energy float64
	for i, v := range seg {
		x[i] = v - mean
		energy += x[i] * x[i]
	}
	if energy <= 1e-12 {
		return 0, false
	}

	ac := make([]float64, maxLag+2)
	for lag := minLag - 1; lag <= maxLag+1 && lag < len(x); lag++ {
		if lag < 0 {
			continue
		}
		var sum float64
		for i := lag; i < len(x); i++ {
			sum += x[i] * x[i-lag]
		}
		ac[lag] = sum
	}

	best, bestScore := -1, 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		if ac[lag] <= 0 {
			continue
		}
		bpm := 60 * frameRate / float64(lag)
		z := math.Log2(bpm/priorBPM) / priorOctaves
		score := ac[lag] * math.Exp(-0.5*z*z)
		if score > bestScore {
			best, bestScore = lag, score
		}
	}
	if best < 0 {
		return 0, false
	}

	lag := float64(best)
	if best > 0 && best+1 < len(ac) {
		a, b, c := ac[best-1], ac[best], ac[best+1]
		if denom := a - 2*b + c; denom < 0 {
			shift := 0.5 * (a - c) / denom
			if shift > -0.5 && shift < 0.5 {
				lag += shift
			}
		}
	}

	return 60 * frameRate / lag, true
}
