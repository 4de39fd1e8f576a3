package main

import (
	"context"
	"errors"
	"testing"

	"colonictransit/internal/models"
	"colonictransit/pkg/config"
	"colonictransit/pkg/logging"
	"colonictransit/pkg/store"
	"colonictransit/pkg/study"
)

func TestRegionIndex(t *testing.T) {
	catalog := models.DefaultRegions()

	tests := []struct {
		in   string
		want int
		err  bool
	}{
		{"stool", 8, false},
		{"3", 3, false},
		{"0", 0, false},
		{"9", 0, true},
		{"sigmoid", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := regionIndex(catalog, tt.in)
		if (err != nil) != tt.err || got != tt.want {
			t.Errorf("regionIndex(%q) = %d, %v", tt.in, got, err)
		}
	}

	if _, err := regionIndex(catalog, "12"); !errors.Is(err, study.ErrUnknownRegion) {
		t.Errorf("Expected ErrUnknownRegion, got %v", err)
	}
}

func TestParseVoxel(t *testing.T) {
	got, err := parseVoxel("12, 30,4")
	if err != nil {
		t.Fatalf("parseVoxel failed: %v", err)
	}
	if got != [3]int{12, 30, 4} {
		t.Errorf("Unexpected voxel %v", got)
	}

	for _, bad := range []string{"", "1,2", "1,2,z"} {
		if _, err := parseVoxel(bad); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
}

func newTestEnv(t *testing.T) *env {
	t.Helper()
	log := logging.Discard()
	st, err := store.Open(t.TempDir(), log)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	cfg := config.DefaultConfig()
	return &env{
		ctx:   context.Background(),
		cfg:   cfg,
		log:   log,
		store: st,
		study: study.New(cfg, log),
	}
}

func TestRunLabelsSkipsTimepointWithoutThreshold(t *testing.T) {
	e := newTestEnv(t)
	geom := models.Geometry{X: 4, Y: 4, Z: 4}
	spect6 := models.NewVolume("6HRS Transaxials", 4, 4, 2, geom)
	assignments := []struct {
		tp   string
		role models.Role
		v    *models.Volume
	}{
		{"6HRS", models.RoleSPECT, spect6},
		{"6HRS", models.RoleThreshold, spect6.Clone("6HRS Transaxials-threshold")},
		{"24HRS", models.RoleSPECT, models.NewVolume("24HRS Transaxials", 4, 4, 2, geom)},
	}
	for _, a := range assignments {
		if err := e.study.Assign(a.tp, a.role, a.v); err != nil {
			t.Fatalf("Assign(%s, %s) failed: %v", a.tp, a.role, err)
		}
	}

	if err := runLabels(e, nil); err != nil {
		t.Fatalf("runLabels failed: %v", err)
	}

	if e.study.Volume("6HRS", models.RoleLabel) == nil {
		t.Error("6HRS label volume not created")
	}
	if e.study.Volume("24HRS", models.RoleLabel) != nil {
		t.Error("24HRS has no threshold volume and should get no labels")
	}
	if !e.store.Has("6HRS", models.RoleLabel) {
		t.Error("6HRS label volume not saved to the workspace")
	}
	if e.store.Has("24HRS", models.RoleLabel) {
		t.Error("24HRS label volume should not be saved")
	}
}

func TestRunLabelsUnknownTimepoint(t *testing.T) {
	e := newTestEnv(t)
	if err := runLabels(e, []string{"-timepoint", "48HRS"}); !errors.Is(err, study.ErrUnknownTimepoint) {
		t.Errorf("Expected ErrUnknownTimepoint, got %v", err)
	}
}
