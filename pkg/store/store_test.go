package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"colonictransit/internal/models"
)

func createTestVolume() *models.Volume {
	v := models.NewVolume("24HRS Transaxials", 5, 4, 3, models.Geometry{X: 4.42, Y: 4.42, Z: 4.42})
	for i := range v.Data {
		v.Data[i] = float64(i % 17)
	}
	v.Origin = [3]float64{-11, -6.5, 4.4}
	v.Direction[2][2] = -1
	v.Display = models.Display{Window: 300, Level: 150, Colour: "Green"}
	return v
}

func TestEncodeDecode(t *testing.T) {
	v := createTestVolume()

	var buf bytes.Buffer
	if err := Encode(&buf, v); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if got.Name != v.Name || !got.SameShape(v) {
		t.Fatalf("Decoded %q %dx%dx%d", got.Name, got.Width, got.Height, got.Depth)
	}
	if got.Spacing != v.Spacing || got.Origin != v.Origin || got.Direction != v.Direction {
		t.Errorf("Geometry mismatch: %+v %+v %+v", got.Spacing, got.Origin, got.Direction)
	}
	if got.Display != v.Display {
		t.Errorf("Display mismatch: %+v", got.Display)
	}
	for i := range v.Data {
		if got.Data[i] != v.Data[i] {
			t.Fatalf("voxel %d: expected %v, got %v", i, v.Data[i], got.Data[i])
		}
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte("NRRD0004\nnot a volume")))
	if !errors.Is(err, ErrBadFormat) {
		t.Errorf("Expected ErrBadFormat, got %v", err)
	}
}

// rawVolumeFile builds a file prefix with the given header length field
// followed by hdr
func rawVolumeFile(hdrLen uint32, hdr string) []byte {
	var buf bytes.Buffer
	buf.WriteString(magic)
	binary.Write(&buf, binary.LittleEndian, version)
	binary.Write(&buf, binary.LittleEndian, hdrLen)
	buf.WriteString(hdr)
	return buf.Bytes()
}

func withHeader(hdr string) []byte {
	return rawVolumeFile(uint32(len(hdr)), hdr)
}

func TestDecodeRejectsOversizedInput(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"header length", rawVolumeFile(0xFFFFFFF0, "")},
		{"empty header", rawVolumeFile(0, "")},
		{"huge dims", withHeader("dims: [65536, 65536, 64]\n")},
		{"overflowing dims", withHeader("dims: [4611686018427387904, 4, 4]\n")},
		{"negative dims", withHeader("dims: [-4, -4, 4]\n")},
	}
	for _, tt := range tests {
		_, err := Decode(bytes.NewReader(tt.data))
		if !errors.Is(err, ErrBadFormat) {
			t.Errorf("%s: expected ErrBadFormat, got %v", tt.name, err)
		}
	}
}

func TestVoxelCount(t *testing.T) {
	if n, ok := voxelCount([3]int{512, 512, 300}); !ok || n != 512*512*300 {
		t.Errorf("voxelCount = %d, %v", n, ok)
	}
	if _, ok := voxelCount([3]int{1 << 20, 1 << 20, 1}); ok {
		t.Error("Expected oversized grid to be rejected")
	}
	if _, ok := voxelCount([3]int{4, 0, 4}); ok {
		t.Error("Expected zero dimension to be rejected")
	}
}

func TestStorePutGetList(t *testing.T) {
	s, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	v := createTestVolume()

	if err := s.Put("24HRS", models.RoleSPECT, v); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Put("6HRS", models.RoleLabel, v.EmptyLike("6HRS label")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if !s.Has("24HRS", models.RoleSPECT) {
		t.Error("Expected stored SPECT volume")
	}
	got, err := s.Get("24HRS", models.RoleSPECT)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != v.Name {
		t.Errorf("Expected %q, got %q", v.Name, got.Name)
	}

	list, err := s.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 || len(list["24HRS"]) != 1 || list["6HRS"][0] != models.RoleLabel {
		t.Errorf("Unexpected listing %v", list)
	}

	if _, err := s.Get("32HRS", models.RoleCT); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	if err := s.Delete("24HRS", models.RoleSPECT); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if s.Has("24HRS", models.RoleSPECT) {
		t.Error("Volume still present after Delete")
	}
	if err := s.Delete("24HRS", models.RoleSPECT); err != nil {
		t.Errorf("Deleting a missing volume failed: %v", err)
	}
}
