package theory

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidCamelot is returned for labels outside 1A..12B
var ErrInvalidCamelot = errors.New("invalid camelot label")

// Camelot filter modes
const (
	ModeSame       = "same"
	ModeCompatible = "compatible"
)

// ParseCamelot validates a label and returns its number, letter and
// canonical form ("8a " -> 8, 'A', "8A").
func ParseCamelot(label string) (int, byte, string, error) {
	s := strings.ToUpper(strings.TrimSpace(label))
	if len(s) < 2 {
		return 0, 0, "", fmt.Errorf("%w: %q", ErrInvalidCamelot, label)
	}

	letter := s[len(s)-1]
	if letter != 'A' && letter != 'B' {
		return 0, 0, "", fmt.Errorf("%w: %q", ErrInvalidCamelot, label)
	}

	num, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || num < 1 || num > 12 {
		return 0, 0, "", fmt.Errorf("%w: %q", ErrInvalidCamelot, label)
	}

	return num, letter, fmt.Sprintf("%d%c", num, letter), nil
}

// CamelotNeighbors returns the label itself, its two neighbours on the same
// ring (wrapping 12 -> 1) and the relative major/minor.
func CamelotNeighbors(label string) ([]string, error) {
	num, letter, self, err := ParseCamelot(label)
	if err != nil {
		return nil, err
	}

	other := byte('A')
	if letter == 'A' {
		other = 'B'
	}

	return []string{
		self,
		fmt.Sprintf("%d%c", num%12+1, letter),
		fmt.Sprintf("%d%c", (num+10)%12+1, letter),
		fmt.Sprintf("%d%c", num, other),
	}, nil
}

// CamelotMatcher returns a predicate for candidate labels under mode.
// Empty candidate labels never match.
func CamelotMatcher(label, mode string) (func(string) bool, error) {
	_, _, self, err := ParseCamelot(label)
	if err != nil {
		return nil, err
	}

	switch mode {
	case ModeSame:
		return func(c string) bool { return c != "" && c == self }, nil
	case ModeCompatible:
		neighbors, _ := CamelotNeighbors(self)
		set := make(map[string]bool, len(neighbors))
		for _, n := range neighbors {
			set[n] = true
		}
		return func(c string) bool { return c != "" && set[c] }, nil
	default:
		return nil, fmt.Errorf("unknown camelot mode %q (want %q or %q)", mode, ModeSame, ModeCompatible)
	}
}
