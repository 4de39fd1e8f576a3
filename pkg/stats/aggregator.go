// Package stats computes per-region statistics of a SPECT volume over a
// colon label volume and formats them as CSV.
package stats

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"colonictransit/internal/models"
)

// ccPerCubicMM converts cubic millimetres to cubic centimetres
const ccPerCubicMM = 0.001

var (
	// ErrShapeMismatch is returned when the label and intensity grids differ
	ErrShapeMismatch = errors.New("label and intensity volumes differ in shape")

	// ErrInvalidGeometry is returned for non-positive voxel spacing
	ErrInvalidGeometry = errors.New("voxel spacing must be positive")

	// ErrEmptyCatalog is returned when no region exists beyond background
	ErrEmptyCatalog = errors.New("region catalog has no region beyond background")

	// ErrNilVolume is returned when either input volume is missing
	ErrNilVolume = errors.New("intensity and label volumes are required")
)

// Row holds the statistics of a single region
type Row struct {
	// Label is the region index (the label value)
	Label int

	// Name is the region name from the catalog
	Name string

	// Voxels counts labelled voxels with a positive intensity
	Voxels int

	// VolumeCC is Voxels times the voxel volume, in cubic centimetres
	VolumeCC float64

	// TotalCounts is the sum of the intensity over every labelled voxel
	TotalCounts float64

	// SPECTMean is the region's weighted position contribution,
	// (TotalCounts / grand total) * Label
	SPECTMean float64
}

// Report is the result of one statistics computation
type Report struct {
	// Rows are keyed by region index in ascending order
	Rows []Row

	// Labels is the traversal order of the rows
	Labels []int

	// TotalCounts is the grand total of all regions' counts
	TotalCounts float64

	// ComputedMean is the sum of every region's SPECTMean. Note that it is
	// a count-weighted region index, not an average over regions.
	ComputedMean float64
}

// Row returns the row for label, if present
func (r *Report) Row(label int) (Row, bool) {
	for _, row := range r.Rows {
		if row.Label == label {
			return row, true
		}
	}
	return Row{}, false
}

// Compute aggregates intensity over every region of catalog beyond the
// background entry. geom is the voxel size of the shared grid.
func Compute(intensity, label *models.Volume, catalog models.RegionCatalog, geom models.Geometry) (*Report, error) {
	if intensity == nil || label == nil {
		return nil, ErrNilVolume
	}
	if !intensity.SameShape(label) || len(intensity.Data) != len(label.Data) {
		return nil, fmt.Errorf("%w: %dx%dx%d vs %dx%dx%d", ErrShapeMismatch,
			intensity.Width, intensity.Height, intensity.Depth,
			label.Width, label.Height, label.Depth)
	}
	if !geom.Valid() {
		return nil, fmt.Errorf("%w: (%g, %g, %g)", ErrInvalidGeometry, geom.X, geom.Y, geom.Z)
	}
	if len(catalog) < 2 {
		return nil, ErrEmptyCatalog
	}

	numRegions := len(catalog)
	voxels := make([]int, numRegions)
	present := make([]bool, numRegions)
	// roiCounts[0] is the background slot and stays 0
	roiCounts := make([]float64, numRegions)

	// One pass over the grid instead of a mask per region
	for idx, lv := range label.Data {
		i := int(lv)
		if float64(i) != lv || i < 1 || i >= numRegions {
			continue
		}
		present[i] = true
		value := intensity.Data[idx]
		roiCounts[i] += value
		if value > 0 {
			voxels[i]++
		}
	}

	report := &Report{
		Rows:   make([]Row, 0, numRegions-1),
		Labels: make([]int, 0, numRegions-1),
	}
	cubicMMPerVoxel := geom.VoxelVolume()
	for i := 1; i < numRegions; i++ {
		row := Row{Label: i, Name: catalog[i].Name}
		if present[i] {
			row.Voxels = voxels[i]
			row.TotalCounts = roiCounts[i]
		} else {
			roiCounts[i] = 0
		}
		row.VolumeCC = round3(float64(row.Voxels) * cubicMMPerVoxel * ccPerCubicMM)
		report.Rows = append(report.Rows, row)
		report.Labels = append(report.Labels, i)
	}
	report.TotalCounts = floats.Sum(roiCounts)

	for i := range roiCounts {
		var contribution float64
		if report.TotalCounts != 0 {
			contribution = (roiCounts[i] / report.TotalCounts) * float64(i)
		}
		if i > 0 {
			report.Rows[i-1].SPECTMean = contribution
		}
		report.ComputedMean += contribution
	}

	return report, nil
}

// round3 rounds to three decimal places
func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
