// Package theory implements key estimation from chroma profiles and
// Camelot-wheel arithmetic.
package theory

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyChroma is returned for a chroma matrix without frames
	ErrEmptyChroma = errors.New("empty chroma matrix")

	// ErrChromaShape is returned when a frame does not have 12 pitch classes
	ErrChromaShape = errors.New("chroma frame must have 12 bins")
)

// Krumhansl-Kessler key profiles, index 0 is the tonic
var (
	majorProfile = [12]float64{6.35, 2.23, 3.48, 2.33, 4.38, 4.09, 2.52, 5.19, 2.39, 3.66, 2.29, 2.88}
	minorProfile = [12]float64{6.33, 2.68, 3.52, 5.38, 2.60, 3.53, 2.54, 4.75, 3.98, 2.69, 3.34, 3.17}
)

// PitchClasses names the 12 chroma bins starting at C
var PitchClasses = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

var (
	camelotMajor = [12]string{"8B", "3B", "10B", "5B", "12B", "7B", "2B", "9B", "4B", "11B", "6B", "1B"}
	camelotMinor = [12]string{"5A", "12A", "7A", "2A", "9A", "4A", "11A", "6A", "1A", "8A", "3A", "10A"}
)

// Mode is major or minor
type Mode string

const (
	Major Mode = "major"
	Minor Mode = "minor"
)

// Key is an estimated musical key
type Key struct {
	Name    string  // "C", "A#m"
	Tonic   int     // pitch class 0..11
	Mode    Mode    // major or minor
	Camelot string  // "8B"
	Score   float64 // winning profile correlation
}

// KeyFor builds the Key for a tonic pitch class and mode
func KeyFor(tonic int, mode Mode) Key {
	tonic = ((tonic % 12) + 12) % 12
	if mode == Minor {
		return Key{Name: PitchClasses[tonic] + "m", Tonic: tonic, Mode: Minor, Camelot: camelotMinor[tonic]}
	}
	return Key{Name: PitchClasses[tonic], Tonic: tonic, Mode: Major, Camelot: camelotMajor[tonic]}
}

// EstimateKey matches the time-averaged chroma profile against rotated major
// and minor templates. chroma is frames x 12. Major wins ties.
func EstimateKey(chroma [][]float64) (Key, error) {
	if len(chroma) == 0 {
		return Key{}, ErrEmptyChroma
	}

	var profile [12]float64
	for t, frame := range chroma {
		if len(frame) != 12 {
			return Key{}, fmt.Errorf("%w: frame %d has %d", ErrChromaShape, t, len(frame))
		}
		for i, v := range frame {
			profile[i] += v
		}
	}

	var sum float64
	for i := range profile {
		profile[i] /= float64(len(chroma))
		sum += profile[i]
	}
	for i := range profile {
		profile[i] /= sum + 1e-9
	}

	bestMajor, bestMajorScore := 0, -1.0
	bestMinor, bestMinorScore := 0, -1.0
	for tonic := 0; tonic < 12; tonic++ {
		var maj, min float64
		for i := 0; i < 12; i++ {
			v := profile[(i+tonic)%12]
			maj += v * majorProfile[i]
			min += v * minorProfile[i]
		}
		if maj > bestMajorScore {
			bestMajor, bestMajorScore = tonic, maj
		}
		if min > bestMinorScore {
			bestMinor, bestMinorScore = tonic, min
		}
	}

	if bestMajorScore >= bestMinorScore {
		key := KeyFor(bestMajor, Major)
		key.Score = bestMajorScore
		return key, nil
	}
	key := KeyFor(bestMinor, Minor)
	key.Score = bestMinorScore
	return key, nil
}
