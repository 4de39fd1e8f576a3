// Package threshold derives a background threshold for SPECT volumes and
// applies the threshold filter used to isolate tracer signal.
package threshold

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"colonictransit/internal/models"
)

const (
	// DefaultBins is the number of histogram bins used by Calculate
	DefaultBins = 100

	// DefaultBinIndex selects the lower edge of the tenth bin
	DefaultBinIndex = 9
)

var (
	// ErrShapeMismatch is returned when source and destination differ in shape
	ErrShapeMismatch = errors.New("threshold input and output differ in shape")

	// ErrEmptyVolume is returned when a volume has no voxels
	ErrEmptyVolume = errors.New("volume has no voxels")
)

// Mode selects which side of the threshold is suppressed
type Mode string

const (
	// Below replaces values lower than the threshold
	Below Mode = "Below"

	// Above replaces values greater than the threshold
	Above Mode = "Above"
)

// ParseMode converts a configuration string to a Mode
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "below", "":
		return Below, nil
	case "above":
		return Above, nil
	}
	return "", fmt.Errorf("invalid threshold mode %q", s)
}

// State is the threshold record kept for each timepoint
type State struct {
	// Value is the current threshold
	Value float64 `yaml:"value"`

	// Max is the maximum voxel value of the SPECT volume
	Max float64 `yaml:"max"`
}

// Result is the outcome of Calculate
type Result struct {
	State

	// Dividers are the bin edges, len(Counts)+1 values
	Dividers []float64

	// Counts holds the number of voxels per bin
	Counts []float64
}

// Calculate computes a threshold that removes the SPECT background: the
// lower edge of bin binIndex of an equal-width histogram spanning the
// volume's value range.
func Calculate(v *models.Volume, bins, binIndex int) (*Result, error) {
	if len(v.Data) == 0 {
		return nil, ErrEmptyVolume
	}
	if bins < 1 {
		bins = DefaultBins
	}
	if binIndex < 0 || binIndex >= bins {
		return nil, fmt.Errorf("bin index %d outside [0, %d)", binIndex, bins)
	}

	sorted := make([]float64, len(v.Data))
	copy(sorted, v.Data)
	sort.Float64s(sorted)

	lo, hi := sorted[0], sorted[len(sorted)-1]
	rangeLo, rangeHi := lo, hi
	if rangeLo == rangeHi {
		rangeLo -= 0.5
		rangeHi += 0.5
	}

	dividers := make([]float64, bins+1)
	floats.Span(dividers, rangeLo, rangeHi)

	// The maximum belongs to the last bin, so the final edge has to sit
	// just above it for stat.Histogram.
	edges := make([]float64, len(dividers))
	copy(edges, dividers)
	edges[bins] = math.Nextafter(rangeHi, math.Inf(1))
	counts := stat.Histogram(nil, edges, sorted, nil)

	return &Result{
		State:    State{Value: dividers[binIndex], Max: hi},
		Dividers: dividers,
		Counts:   counts,
	}, nil
}

// Apply writes src into dst, replacing values on the suppressed side of
// value with outside. dst may be src.
func Apply(dst, src *models.Volume, value float64, mode Mode, outside float64) error {
	if !dst.SameShape(src) || len(dst.Data) != len(src.Data) {
		return fmt.Errorf("%w: %s vs %s", ErrShapeMismatch, src.Name, dst.Name)
	}

	switch mode {
	case Below:
		for i, val := range src.Data {
			if val < value {
				val = outside
			}
			dst.Data[i] = val
		}
	case Above:
		for i, val := range src.Data {
			if val > value {
				val = outside
			}
			dst.Data[i] = val
		}
	default:
		return fmt.Errorf("invalid threshold mode %q", mode)
	}
	return nil
}

// SuppressedFraction returns the fraction of voxels of v that a threshold
// at value removes in mode
func SuppressedFraction(v *models.Volume, value float64, mode Mode) float64 {
	if len(v.Data) == 0 {
		return 0
	}
	var n int
	for _, val := range v.Data {
		if (mode == Below && val < value) || (mode == Above && val > value) {
			n++
		}
	}
	return float64(n) / float64(len(v.Data))
}
