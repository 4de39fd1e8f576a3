// Package orient repairs geometry defects left by DICOM import of SPECT
// series and adjusts display window/level settings.
package orient

import (
	"gonum.org/v1/gonum/stat"

	"colonictransit/internal/models"
)

// FixSpacing copies the x spacing to z. SPECT series are imported without
// a usable slice spacing while their voxels are isotropic.
func FixSpacing(v *models.Volume) {
	v.Spacing.Z = v.Spacing.X
}

// FlipZ reverses the slice axis of the IJK to RAS direction
func FlipZ(v *models.Volume) {
	v.Direction[2][2] = -1.0
}

// Center moves the origin so that the centre of the volume sits at RAS (0, 0, 0)
func Center(v *models.Volume) {
	v.Origin = [3]float64{}
	far := v.IJKToRAS(float64(v.Width-1), float64(v.Height-1), float64(v.Depth-1))
	for r := 0; r < 3; r++ {
		v.Origin[r] = -far[r] / 2
	}
}

// FixSPECT applies every import fix to a SPECT volume
func FixSPECT(v *models.Volume) {
	FixSpacing(v)
	FlipZ(v)
	Center(v)
}

// SetWindowLevel sets a fixed window and level
func SetWindowLevel(v *models.Volume, window, level float64) {
	v.Display.AutoWindowLevel = false
	v.Display.Window = window
	v.Display.Level = level
}

// FixSPECTLevel corrects the auto window/level that comes out far too
// small for some SPECT volumes. It reports whether anything changed.
func FixSPECTLevel(v *models.Volume) bool {
	changed := false
	window := v.Display.Window
	if window < 50 {
		window = window * 10.0
		v.Display.AutoWindowLevel = false
		v.Display.Window = window
		changed = true
	}
	if v.Display.Level < window/3.0 {
		v.Display.AutoWindowLevel = false
		v.Display.Level = window / 2.0
		changed = true
	}
	return changed
}

// AutoWindowLevel derives the window/level from the data distribution when
// the volume still uses automatic display settings. The window spans the
// mean plus or minus two standard deviations, clipped to the data range.
func AutoWindowLevel(v *models.Volume) {
	if !v.Display.AutoWindowLevel || len(v.Data) == 0 {
		return
	}
	mean, std := stat.MeanStdDev(v.Data, nil)
	min, max := v.Range()
	lo := mean - 2*std
	hi := mean + 2*std
	if lo < min {
		lo = min
	}
	if hi > max {
		hi = max
	}
	v.Display.Window = hi - lo
	v.Display.Level = (hi + lo) / 2
}
