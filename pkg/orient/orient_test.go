package orient

import (
	"math"
	"testing"

	"colonictransit/internal/models"
)

func TestFixSPECT(t *testing.T) {
	v := models.NewVolume("6HRS Transaxials", 4, 6, 8, models.Geometry{X: 4.42, Y: 4.42, Z: 0})
	FixSPECT(v)

	if v.Spacing.Z != 4.42 {
		t.Errorf("Expected z spacing 4.42, got %v", v.Spacing.Z)
	}
	if v.Direction[2][2] != -1 {
		t.Errorf("Expected flipped z direction, got %v", v.Direction[2][2])
	}

	// The centre voxel maps to the RAS origin
	centre := v.IJKToRAS(1.5, 2.5, 3.5)
	for r, c := range centre {
		if math.Abs(c) > 1e-9 {
			t.Errorf("Centre coordinate %d is %v, expected 0", r, c)
		}
	}
}

func TestFixSPECTLevel(t *testing.T) {
	tests := []struct {
		name          string
		window, level float64
		wantWindow    float64
		wantLevel     float64
		changed       bool
	}{
		{"small window", 20, 100, 200, 100, true},
		{"low level", 300, 50, 300, 150, true},
		{"both", 30, 10, 300, 150, true},
		{"fine", 300, 150, 300, 150, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := models.NewVolume("spect", 1, 1, 1, models.Geometry{X: 1, Y: 1, Z: 1})
			v.Display.Window = tt.window
			v.Display.Level = tt.level
			if got := FixSPECTLevel(v); got != tt.changed {
				t.Errorf("Expected changed=%v, got %v", tt.changed, got)
			}
			if v.Display.Window != tt.wantWindow || v.Display.Level != tt.wantLevel {
				t.Errorf("Expected %v/%v, got %v/%v", tt.wantWindow, tt.wantLevel, v.Display.Window, v.Display.Level)
			}
			if tt.changed && v.Display.AutoWindowLevel {
				t.Error("Auto window/level should be disabled")
			}
		})
	}
}

func TestSetWindowLevel(t *testing.T) {
	v := models.NewVolume("CTAC 6HRS", 1, 1, 1, models.Geometry{X: 1, Y: 1, Z: 1})
	SetWindowLevel(v, 350, 40)
	if v.Display.AutoWindowLevel || v.Display.Window != 350 || v.Display.Level != 40 {
		t.Errorf("Unexpected display %+v", v.Display)
	}

	// Explicit settings survive AutoWindowLevel
	AutoWindowLevel(v)
	if v.Display.Window != 350 {
		t.Errorf("AutoWindowLevel overwrote an explicit window: %v", v.Display.Window)
	}
}

func TestAutoWindowLevel(t *testing.T) {
	v := models.NewVolume("spect", 10, 1, 1, models.Geometry{X: 1, Y: 1, Z: 1})
	for i := range v.Data {
		v.Data[i] = float64(i * 10)
	}
	AutoWindowLevel(v)
	if v.Display.Window <= 0 || v.Display.Window > 90 {
		t.Errorf("Window %v outside the data range", v.Display.Window)
	}
	if v.Display.Level < 0 || v.Display.Level > 90 {
		t.Errorf("Level %v outside the data range", v.Display.Level)
	}
}
