// Package dicomio loads CT and SPECT DICOM series into volumes.
package dicomio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	"golang.org/x/sync/errgroup"

	"colonictransit/internal/models"
)

var (
	// ErrNoDICOM is returned when a directory holds no readable DICOM image
	ErrNoDICOM = errors.New("no DICOM images found")

	// ErrInconsistentSeries is returned when slices of a series differ in size
	ErrInconsistentSeries = errors.New("series slices differ in size")
)

// Loader reads DICOM series
type Loader struct {
	// NumCores bounds the number of files parsed concurrently
	NumCores int

	Log logrus.FieldLogger
}

// NewLoader returns a Loader parsing up to numCores files at once
func NewLoader(numCores int, log logrus.FieldLogger) *Loader {
	if numCores < 1 {
		numCores = 1
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Loader{NumCores: numCores, Log: log.WithField("component", "dicomio")}
}

// slice is one parsed DICOM file; multi-frame files carry several frames
type slice struct {
	path        string
	description string
	position    [3]float64
	hasPosition bool
	instance    int
	rowSpacing  float64
	colSpacing  float64
	thickness   float64
	between     float64
	rows, cols  int
	frames      [][]float64
}

// LoadSeries reads every DICOM file in dir into a single volume. Hidden
// files and files that fail to parse are skipped.
func (l *Loader) LoadSeries(ctx context.Context, dir string) (*models.Volume, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("error reading series directory: %w", err)
	}

	var paths []string
	var total int64
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
		if info, err := e.Info(); err == nil {
			total += info.Size()
		}
	}

	results := make([]*slice, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.NumCores)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			s, err := parseFile(path)
			if err != nil {
				l.Log.WithError(err).WithField("file", path).Debug("skipping file")
				return nil
			}
			results[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var slices []*slice
	for _, s := range results {
		if s != nil {
			slices = append(slices, s)
		}
	}
	if len(slices) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoDICOM, dir)
	}

	name := slices[0].description
	if name == "" {
		name = filepath.Base(dir)
	}
	v, err := assemble(name, slices)
	if err != nil {
		return nil, fmt.Errorf("error assembling %s: %w", dir, err)
	}

	l.Log.WithFields(logrus.Fields{
		"series": v.Name,
		"files":  len(slices),
		"dims":   fmt.Sprintf("%dx%dx%d", v.Width, v.Height, v.Depth),
		"read":   humanize.Bytes(uint64(total)),
	}).Info("loaded DICOM series")
	return v, nil
}

// LoadStudy loads one series per subdirectory of root. Subdirectories
// without DICOM images are skipped.
func (l *Loader) LoadStudy(ctx context.Context, root string) ([]*models.Volume, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("error reading study directory: %w", err)
	}
	var volumes []*models.Volume
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		v, err := l.LoadSeries(ctx, filepath.Join(root, e.Name()))
		if errors.Is(err, ErrNoDICOM) {
			l.Log.WithField("dir", e.Name()).Warn("no DICOM images in directory")
			continue
		}
		if err != nil {
			return nil, err
		}
		volumes = append(volumes, v)
	}
	if len(volumes) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoDICOM, root)
	}
	return volumes, nil
}

// parseFile reads the geometry and pixel frames of one DICOM file
func parseFile(path string) (*slice, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, err
	}

	pixelElement, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, fmt.Errorf("no pixel data: %w", err)
	}

	s := &slice{
		path:        path,
		description: firstString(ds, tag.SeriesDescription),
		instance:    int(firstFloat(ds, tag.InstanceNumber, 0)),
		thickness:   firstFloat(ds, tag.SliceThickness, 0),
		between:     firstFloat(ds, tag.SpacingBetweenSlices, 0),
	}
	if spacing := floatValues(ds, tag.PixelSpacing); len(spacing) == 2 {
		s.rowSpacing, s.colSpacing = spacing[0], spacing[1]
	}
	if pos := floatValues(ds, tag.ImagePositionPatient); len(pos) == 3 {
		// LPS to RAS
		s.position = [3]float64{-pos[0], -pos[1], pos[2]}
		s.hasPosition = true
	}
	slope := firstFloat(ds, tag.RescaleSlope, 1)
	if slope == 0 {
		slope = 1
	}
	intercept := firstFloat(ds, tag.RescaleIntercept, 0)

	info := dicom.MustGetPixelDataInfo(pixelElement.Value)
	for i := range info.Frames {
		native, err := info.Frames[i].GetNativeFrame()
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		if s.rows == 0 {
			s.rows, s.cols = native.Rows, native.Cols
		}
		if native.Rows != s.rows || native.Cols != s.cols {
			return nil, fmt.Errorf("%w: frame %d is %dx%d", ErrInconsistentSeries, i, native.Cols, native.Rows)
		}
		values := make([]float64, len(native.Data))
		for j, px := range native.Data {
			if len(px) > 0 {
				values[j] = float64(px[0])*slope + intercept
			}
		}
		s.frames = append(s.frames, values)
	}
	if len(s.frames) == 0 {
		return nil, fmt.Errorf("no frames in pixel data")
	}
	return s, nil
}

// assemble stacks parsed slices into a volume
func assemble(name string, slices []*slice) (*models.Volume, error) {
	if len(slices) == 0 {
		return nil, ErrNoDICOM
	}

	allPositioned := true
	for _, s := range slices {
		allPositioned = allPositioned && s.hasPosition
	}
	sort.SliceStable(slices, func(i, j int) bool {
		if allPositioned && slices[i].position[2] != slices[j].position[2] {
			return slices[i].position[2] < slices[j].position[2]
		}
		return slices[i].instance < slices[j].instance
	})

	first := slices[0]
	depth := 0
	for _, s := range slices {
		if s.rows != first.rows || s.cols != first.cols {
			return nil, fmt.Errorf("%w: %s is %dx%d, expected %dx%d",
				ErrInconsistentSeries, s.path, s.cols, s.rows, first.cols, first.rows)
		}
		depth += len(s.frames)
	}

	spacing := models.Geometry{X: first.colSpacing, Y: first.rowSpacing, Z: sliceSpacing(slices)}
	v := models.NewVolume(name, first.cols, first.rows, depth, spacing)
	if first.hasPosition {
		v.Origin = first.position
	}

	z := 0
	plane := first.cols * first.rows
	for _, s := range slices {
		for _, frame := range s.frames {
			copy(v.Data[z*plane:(z+1)*plane], frame)
			z++
		}
	}
	return v, nil
}

// sliceSpacing derives the z spacing. Zero means the series carries no
// usable spacing, which is the case for many SPECT exports.
func sliceSpacing(slices []*slice) float64 {
	first := slices[0]
	if first.between > 0 {
		return first.between
	}
	if len(slices) > 1 && first.hasPosition && slices[1].hasPosition {
		if d := math.Abs(slices[1].position[2] - first.position[2]); d > 0 {
			return d
		}
	}
	if len(slices) > 1 && first.thickness > 0 {
		return first.thickness
	}
	return 0
}

// stringValues returns the element value as strings, or nil if absent
func stringValues(ds dicom.Dataset, t tag.Tag) []string {
	e, err := ds.FindElementByTag(t)
	if err != nil || e.Value == nil {
		return nil
	}
	switch v := e.Value.GetValue().(type) {
	case []string:
		return v
	case []int:
		out := make([]string, len(v))
		for i, n := range v {
			out[i] = strconv.Itoa(n)
		}
		return out
	case []float64:
		out := make([]string, len(v))
		for i, f := range v {
			out[i] = strconv.FormatFloat(f, 'g', -1, 64)
		}
		return out
	}
	return nil
}

func firstString(ds dicom.Dataset, t tag.Tag) string {
	if v := stringValues(ds, t); len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

// floatValues parses decimal strings such as PixelSpacing
func floatValues(ds dicom.Dataset, t tag.Tag) []float64 {
	var out []float64
	for _, s := range stringValues(ds, t) {
		for _, part := range strings.Split(s, `\`) {
			f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil {
				return nil
			}
			out = append(out, f)
		}
	}
	return out
}

func firstFloat(ds dicom.Dataset, t tag.Tag, fallback float64) float64 {
	if v := floatValues(ds, t); len(v) > 0 {
		return v[0]
	}
	return fallback
}
