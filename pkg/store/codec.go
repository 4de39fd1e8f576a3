package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"colonictransit/internal/models"
)

const (
	magic   = "CVOL"
	version = uint32(1)

	// maxHeaderLen and maxVoxels bound what Decode allocates for a file
	maxHeaderLen = 1 << 20
	maxVoxels    = 1 << 28
)

// ErrBadFormat is returned when a volume file cannot be decoded
var ErrBadFormat = errors.New("not a volume file")

// header is the YAML block that precedes the voxel data
type header struct {
	Name      string         `yaml:"name"`
	Dims      [3]int         `yaml:"dims"`
	Spacing   [3]float64     `yaml:"spacing"`
	Origin    [3]float64     `yaml:"origin"`
	Direction [3][3]float64  `yaml:"direction"`
	Display   models.Display `yaml:"display"`
}

// Encode writes v as magic, version, header length, YAML header and
// zstd-compressed little-endian float32 voxels
func Encode(w io.Writer, v *models.Volume) error {
	if err := v.Validate(); err != nil {
		return err
	}
	h := header{
		Name:      v.Name,
		Dims:      [3]int{v.Width, v.Height, v.Depth},
		Spacing:   [3]float64{v.Spacing.X, v.Spacing.Y, v.Spacing.Z},
		Origin:    v.Origin,
		Direction: v.Direction,
		Display:   v.Display,
	}
	hdr, err := yaml.Marshal(&h)
	if err != nil {
		return fmt.Errorf("error marshaling volume header: %w", err)
	}

	if _, err := io.WriteString(w, magic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, version); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(hdr))); err != nil {
		return err
	}
	if _, err := w.Write(hdr); err != nil {
		return err
	}

	enc, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	buf := make([]byte, 4*len(v.Data))
	for i, val := range v.Data {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(float32(val)))
	}
	if _, err := enc.Write(buf); err != nil {
		enc.Close()
		return fmt.Errorf("error compressing voxels: %w", err)
	}
	return enc.Close()
}

// Decode reads a volume written by Encode
func Decode(r io.Reader) (*models.Volume, error) {
	prefix := make([]byte, len(magic)+8)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFormat, err)
	}
	if !bytes.Equal(prefix[:len(magic)], []byte(magic)) {
		return nil, ErrBadFormat
	}
	if v := binary.LittleEndian.Uint32(prefix[4:8]); v != version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadFormat, v)
	}
	hdrLen := binary.LittleEndian.Uint32(prefix[8:12])
	if hdrLen == 0 || hdrLen > maxHeaderLen {
		return nil, fmt.Errorf("%w: header length %d", ErrBadFormat, hdrLen)
	}
	hdr := make([]byte, hdrLen)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, fmt.Errorf("%w: truncated header", ErrBadFormat)
	}
	var h header
	if err := yaml.Unmarshal(hdr, &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFormat, err)
	}

	n, ok := voxelCount(h.Dims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid dimensions %v", ErrBadFormat, h.Dims)
	}

	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	buf := make([]byte, 4*n)
	if _, err := io.ReadFull(dec, buf); err != nil {
		return nil, fmt.Errorf("error decompressing voxels: %w", err)
	}

	v := &models.Volume{
		Name:      h.Name,
		Data:      make([]float64, n),
		Width:     h.Dims[0],
		Height:    h.Dims[1],
		Depth:     h.Dims[2],
		Spacing:   models.Geometry{X: h.Spacing[0], Y: h.Spacing[1], Z: h.Spacing[2]},
		Origin:    h.Origin,
		Direction: h.Direction,
		Display:   h.Display,
	}
	for i := range v.Data {
		v.Data[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:])))
	}
	return v, nil
}

// voxelCount returns the product of dims, or false when a dimension is not
// positive or the product exceeds maxVoxels
func voxelCount(dims [3]int) (int, bool) {
	n := 1
	for _, d := range dims {
		if d <= 0 || d > maxVoxels || n > maxVoxels/d {
			return 0, false
		}
		n *= d
	}
	return n, true
}
