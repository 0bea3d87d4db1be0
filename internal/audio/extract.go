package audio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/franz/crate-digger/internal/theory"
	"gonum.org/v1/gonum/stat"
)

// FeatureDim is the length of every feature vector:
// chroma mean/std (24), MFCC mean/std (40), centroid, bandwidth, rolloff and
// zero-crossing mean/std (8), tempo, integrated loudness.
const FeatureDim = 2*12 + 2*NumMFCC + 2*4 + 2

// MinDurationSec is the shortest decoded prefix worth describing
const MinDurationSec = 5.0

// SkipReason explains why a track produced no vector
type SkipReason string

const (
	ReasonNone         SkipReason = ""
	ReasonUnreadable   SkipReason = "unreadable"
	ReasonDecodeFailed SkipReason = "decode_failed"
	ReasonTooShort     SkipReason = "too_short"
	ReasonNonFinite    SkipReason = "non_finite"
)

// Result is the outcome of one extraction. Exactly one of Vector or Reason
// is set unless Err carries a cancellation.
type Result struct {
	Vector  []float32
	BPM     float64
	Key     theory.Key
	Skipped bool
	Reason  SkipReason
	Err     error
}

func skipped(reason SkipReason, err error) Result {
	return Result{Skipped: true, Reason: reason, Err: err}
}

// Extractor computes feature vectors with a fixed configuration. The same
// configuration must be used for the lifetime of a catalog.
type Extractor struct {
	decoder     Decoder
	sampleRate  int
	durationSec float64
}

// NewExtractor creates an extractor. A nil decoder selects ffmpeg.
func NewExtractor(decoder Decoder, sampleRate int, durationSec float64) *Extractor {
	if decoder == nil {
		decoder = &FFmpegDecoder{}
	}
	return &Extractor{
		decoder:     decoder,
		sampleRate:  sampleRate,
		durationSec: durationSec,
	}
}

// Extract decodes path and describes its first durationSec seconds.
// Per-track failures are reported as skipped results, never as panics or
// batch-level errors.
func (e *Extractor) Extract(ctx context.Context, path string) Result {
	if err := ctx.Err(); err != nil {
		return Result{Err: err}
	}

	if _, err := os.Stat(path); err != nil {
		return skipped(ReasonUnreadable, err)
	}

	samples, err := e.decoder.Decode(ctx, path, e.sampleRate, e.durationSec)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Result{Err: err}
		}
		return skipped(ReasonDecodeFailed, err)
	}

	return e.Analyze(samples)
}

// Analyze describes already-decoded mono samples at the extractor's rate
func (e *Extractor) Analyze(samples []float64) Result {
	if float64(len(samples)) < MinDurationSec*float64(e.sampleRate) {
		return skipped(ReasonTooShort, fmt.Errorf("decoded %.2fs, need %.0fs",
			float64(len(samples))/float64(e.sampleRate), MinDurationSec))
	}

	spec := ComputeSTFT(samples, e.sampleRate, NFFT, Hop)
	chroma := Chroma(spec)
	melDB := MelSpectrogramDB(spec, NumMelBands)
	mfcc := MFCC(melDB, NumMFCC)
	centroid, bandwidth, rolloff := SpectralShape(spec)
	zcr := ZeroCrossingRate(samples, NFFT, Hop)

	frameRate := float64(e.sampleRate) / float64(Hop)
	bpm := EstimateTempo(OnsetEnvelope(melDB), frameRate)
	lufs := IntegratedLoudness(samples, e.sampleRate)

	key, err := theory.EstimateKey(chroma)
	if err != nil {
		return skipped(ReasonDecodeFailed, err)
	}

	vec := make([]float64, 0, FeatureDim)
	vec = appendColumnStats(vec, chroma, 12)
	vec = appendColumnStats(vec, mfcc, NumMFCC)
	for _, series := range [][]float64{centroid, bandwidth, rolloff, zcr} {
		mean, std := stat.PopMeanStdDev(series, nil)
		vec = append(vec, mean, std)
	}
	vec = append(vec, bpm, lufs)

	out := make([]float32, len(vec))
	for i, v := range vec {
		f := float32(v)
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return skipped(ReasonNonFinite, fmt.Errorf("feature %d is %v", i, v))
		}
		out[i] = f
	}

	return Result{Vector: out, BPM: bpm, Key: key}
}

// appendColumnStats appends all column means followed by all column
// population standard deviations of a frames x width matrix.
func appendColumnStats(dst []float64, m [][]float64, width int) []float64 {
	means := make([]float64, width)
	stds := make([]float64, width)
	col := make([]float64, len(m))
	for j := 0; j < width; j++ {
		for t, row := range m {
			col[t] = row[j]
		}
		means[j], stds[j] = stat.PopMeanStdDev(col, nil)
	}
	dst = append(dst, means...)
	return append(dst, stds...)
}
