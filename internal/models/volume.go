package models

import (
	"fmt"
	"math"
)

// Geometry holds the physical voxel dimensions of a volume in mm
type Geometry struct {
	X, Y, Z float64
}

// VoxelVolume returns the volume of a single voxel in cubic mm
func (g Geometry) VoxelVolume() float64 {
	return g.X * g.Y * g.Z
}

// Valid reports whether every spacing component is positive
func (g Geometry) Valid() bool {
	return g.X > 0 && g.Y > 0 && g.Z > 0
}

// Display holds the viewing parameters of a volume
type Display struct {
	// Window and Level map voxel values to grey levels
	Window float64 `yaml:"window"`
	Level  float64 `yaml:"level"`

	// AutoWindowLevel is cleared once a window/level was set explicitly
	AutoWindowLevel bool `yaml:"autoWindowLevel"`

	// Colour names the colour table used to display the volume
	Colour string `yaml:"colour,omitempty"`
}

// Volume represents a 3D scalar volume (CT, SPECT, threshold or label)
type Volume struct {
	// Name identifies the volume, e.g. "6HRS Transaxials"
	Name string

	// Data is the 3D volume data as a 1D array, x varying fastest
	Data []float64

	// Width, Height, Depth are the dimensions in voxels
	Width, Height, Depth int

	// Spacing is the physical size of each voxel in mm
	Spacing Geometry

	// Origin is the RAS position of the first voxel
	Origin [3]float64

	// Direction holds the IJK to RAS direction cosines
	Direction [3][3]float64

	Display Display
}

// NewVolume allocates a zero-filled volume with identity direction
func NewVolume(name string, width, height, depth int, spacing Geometry) *Volume {
	return &Volume{
		Name:      name,
		Data:      make([]float64, width*height*depth),
		Width:     width,
		Height:    height,
		Depth:     depth,
		Spacing:   spacing,
		Direction: Identity(),
		Display:   Display{AutoWindowLevel: true},
	}
}

// Identity returns the identity direction matrix
func Identity() [3][3]float64 {
	return [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// Len returns the number of voxels
func (v *Volume) Len() int {
	return v.Width * v.Height * v.Depth
}

// Index returns the flat index of voxel (x, y, z)
func (v *Volume) Index(x, y, z int) int {
	return z*v.Width*v.Height + y*v.Width + x
}

// Contains reports whether (x, y, z) lies inside the volume
func (v *Volume) Contains(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < v.Width && y < v.Height && z < v.Depth
}

// At returns the value of voxel (x, y, z)
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[v.Index(x, y, z)]
}

// Set stores value at voxel (x, y, z)
func (v *Volume) Set(x, y, z int, value float64) {
	v.Data[v.Index(x, y, z)] = value
}

// SameShape reports whether o has the same voxel dimensions as v
func (v *Volume) SameShape(o *Volume) bool {
	return v.Width == o.Width && v.Height == o.Height && v.Depth == o.Depth
}

// Validate checks that the data length matches the dimensions
func (v *Volume) Validate() error {
	if v.Width <= 0 || v.Height <= 0 || v.Depth <= 0 {
		return fmt.Errorf("volume %q has invalid dimensions %dx%dx%d", v.Name, v.Width, v.Height, v.Depth)
	}
	if len(v.Data) != v.Len() {
		return fmt.Errorf("volume %q holds %d values, expected %d", v.Name, len(v.Data), v.Len())
	}
	return nil
}

// Clone returns a deep copy of v carrying a new name
func (v *Volume) Clone(name string) *Volume {
	c := *v
	c.Name = name
	c.Data = make([]float64, len(v.Data))
	copy(c.Data, v.Data)
	return &c
}

// EmptyLike returns a zero-filled volume on the same grid as v
func (v *Volume) EmptyLike(name string) *Volume {
	c := *v
	c.Name = name
	c.Data = make([]float64, len(v.Data))
	c.Display = Display{AutoWindowLevel: true}
	return &c
}

// Range returns the minimum and maximum voxel value
func (v *Volume) Range() (min, max float64) {
	if len(v.Data) == 0 {
		return 0, 0
	}
	min, max = math.Inf(1), math.Inf(-1)
	for _, val := range v.Data {
		if val < min {
			min = val
		}
		if val > max {
			max = val
		}
	}
	return min, max
}

// IJKToRAS maps a continuous voxel coordinate to RAS space
func (v *Volume) IJKToRAS(i, j, k float64) [3]float64 {
	ijk := [3]float64{i * v.Spacing.X, j * v.Spacing.Y, k * v.Spacing.Z}
	var ras [3]float64
	for r := 0; r < 3; r++ {
		ras[r] = v.Origin[r]
		for c := 0; c < 3; c++ {
			ras[r] += v.Direction[r][c] * ijk[c]
		}
	}
	return ras
}
