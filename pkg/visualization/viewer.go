// Package visualization exports slices of study volumes as preview images,
// with the label volume blended over the grey values.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"

	"colonictransit/internal/models"
)

// labelOpacity is the weight of the label colour over the grey value
const labelOpacity = 0.5

// Viewer renders slices of a volume using its window/level
type Viewer struct {
	volume *models.Volume

	// label and palette are set by Overlay
	label   *models.Volume
	palette map[int]color.RGBA
}

// NewViewer creates a viewer for v
func NewViewer(v *models.Volume) *Viewer {
	return &Viewer{volume: v}
}

// Overlay blends label over the slices. Label values missing from palette
// are drawn with DefaultPalette colours.
func (v *Viewer) Overlay(label *models.Volume, palette map[int]color.RGBA) error {
	if !label.SameShape(v.volume) {
		return fmt.Errorf("label volume %s does not match %s", label.Name, v.volume.Name)
	}
	v.label = label
	v.palette = palette
	return nil
}

// DefaultPalette returns n evenly spaced hues for labels 1..n
func DefaultPalette(n int) map[int]color.RGBA {
	p := make(map[int]color.RGBA, n)
	for i := 1; i <= n; i++ {
		p[i] = hueColor(float64(i-1) / float64(n))
	}
	return p
}

// hueColor converts a hue in [0, 1) at full saturation and value to RGB
func hueColor(h float64) color.RGBA {
	h6 := h * 6
	x := uint8(255 * (1 - math.Abs(math.Mod(h6, 2)-1)))
	switch int(h6) {
	case 0:
		return color.RGBA{255, x, 0, 255}
	case 1:
		return color.RGBA{x, 255, 0, 255}
	case 2:
		return color.RGBA{0, 255, x, 255}
	case 3:
		return color.RGBA{0, x, 255, 255}
	case 4:
		return color.RGBA{x, 0, 255, 255}
	default:
		return color.RGBA{255, 0, x, 255}
	}
}

// grey maps a voxel value through the window/level to [0, 1]
func (v *Viewer) grey(value float64) float64 {
	window, level := v.volume.Display.Window, v.volume.Display.Level
	if window <= 0 {
		min, max := v.volume.Range()
		window, level = max-min, (max+min)/2
		if window <= 0 {
			return 0
		}
	}
	g := (value - (level - window/2)) / window
	return math.Max(0, math.Min(1, g))
}

// sliceDims returns the image size and a function mapping image (col, row)
// to a voxel index for a slice through axis at position
func (v *Viewer) sliceDims(axis string, position int) (int, int, func(c, r int) int, error) {
	vol := v.volume
	if position < 0 {
		return 0, 0, nil, fmt.Errorf("position must be non-negative")
	}

	switch axis {
	case "x", "X":
		// Extract slice along YZ plane
		if position >= vol.Width {
			return 0, 0, nil, fmt.Errorf("position %d exceeds width %d", position, vol.Width)
		}
		return vol.Height, vol.Depth, func(c, r int) int { return vol.Index(position, c, r) }, nil
	case "y", "Y":
		// Extract slice along XZ plane
		if position >= vol.Height {
			return 0, 0, nil, fmt.Errorf("position %d exceeds height %d", position, vol.Height)
		}
		return vol.Width, vol.Depth, func(c, r int) int { return vol.Index(c, position, r) }, nil
	case "z", "Z":
		// Extract slice along XY plane
		if position >= vol.Depth {
			return 0, 0, nil, fmt.Errorf("position %d exceeds depth %d", position, vol.Depth)
		}
		return vol.Width, vol.Height, func(c, r int) int { return vol.Index(c, r, position) }, nil
	}
	return 0, 0, nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
}

// ExtractSlice renders one slice along axis. Without an overlay the image
// is 16-bit grey, otherwise RGBA.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	w, h, index, err := v.sliceDims(axis, position)
	if err != nil {
		return nil, err
	}

	if v.label == nil {
		img := image.NewGray16(image.Rect(0, 0, w, h))
		for r := 0; r < h; r++ {
			for c := 0; c < w; c++ {
				g := v.grey(v.volume.Data[index(c, r)])
				img.SetGray16(c, r, color.Gray16{Y: uint16(g * 65535)})
			}
		}
		return img, nil
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			idx := index(c, r)
			g := uint8(v.grey(v.volume.Data[idx]) * 255)
			px := color.RGBA{g, g, g, 255}
			if l := int(v.label.Data[idx]); l > 0 {
				lc, ok := v.palette[l]
				if !ok {
					lc = hueColor(math.Mod(float64(l)*0.137, 1))
				}
				px = blend(px, lc)
			}
			img.SetRGBA(c, r, px)
		}
	}
	return img, nil
}

func blend(base, over color.RGBA) color.RGBA {
	mix := func(a, b uint8) uint8 {
		return uint8(float64(a)*(1-labelOpacity) + float64(b)*labelOpacity)
	}
	return color.RGBA{mix(base.R, over.R), mix(base.G, over.G), mix(base.B, over.B), 255}
}

// pixelSize returns the physical width and height of an image pixel
func (v *Viewer) pixelSize(axis string) (float64, float64) {
	sp := v.volume.Spacing
	switch axis {
	case "x", "X":
		return sp.Y, sp.Z
	case "y", "Y":
		return sp.X, sp.Z
	}
	return sp.X, sp.Y
}

// Resample scales img so that pixels are square in physical space, with
// the smaller pixel dimension kept at one image pixel
func (v *Viewer) Resample(img image.Image, axis string) image.Image {
	pw, ph := v.pixelSize(axis)
	if pw <= 0 || ph <= 0 || pw == ph {
		return img
	}
	unit := math.Min(pw, ph)
	b := img.Bounds()
	w := int(math.Round(float64(b.Dx()) * pw / unit))
	h := int(math.Round(float64(b.Dy()) * ph / unit))
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// SaveSlice saves an extracted slice as a PNG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return png.Encode(file, img)
}

// SaveSliceSequence extracts, resamples and saves every slice along axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.volume.Width
	case "y", "Y":
		maxPos = v.volume.Height
	case "z", "Z":
		maxPos = v.volume.Depth
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos))
		if err := v.SaveSlice(v.Resample(img, axis), filename); err != nil {
			return err
		}
	}

	return nil
}
