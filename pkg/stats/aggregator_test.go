package stats

import (
	"errors"
	"math"
	"testing"

	"colonictransit/internal/models"
)

// createTestVolumes builds the 3x3x1 scenario: every voxel counts 10,
// region 1 covers four voxels and region 2 the remaining five
func createTestVolumes() (*models.Volume, *models.Volume) {
	spacing := models.Geometry{X: 2, Y: 2, Z: 2}
	intensity := models.NewVolume("6HRS Transaxials", 3, 3, 1, spacing)
	label := models.NewVolume("6HRS Transaxials-threshold-label", 3, 3, 1, spacing)
	for i := range intensity.Data {
		intensity.Data[i] = 10
		if i < 4 {
			label.Data[i] = 1
		} else {
			label.Data[i] = 2
		}
	}
	return intensity, label
}

func TestComputeScenario(t *testing.T) {
	intensity, label := createTestVolumes()

	report, err := Compute(intensity, label, models.DefaultRegions(), intensity.Spacing)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	if len(report.Rows) != 8 {
		t.Fatalf("Expected 8 rows, got %d", len(report.Rows))
	}

	expected := []struct {
		label  int
		voxels int
		counts float64
		volume float64
	}{
		{1, 4, 40, 0.032},
		{2, 5, 50, 0.040},
		{3, 0, 0, 0},
		{8, 0, 0, 0},
	}
	for _, e := range expected {
		row, ok := report.Row(e.label)
		if !ok {
			t.Fatalf("Missing row for label %d", e.label)
		}
		if row.Voxels != e.voxels {
			t.Errorf("Label %d: expected %d voxels, got %d", e.label, e.voxels, row.Voxels)
		}
		if row.TotalCounts != e.counts {
			t.Errorf("Label %d: expected counts %v, got %v", e.label, e.counts, row.TotalCounts)
		}
		if FormatFixed(row.VolumeCC) != FormatFixed(e.volume) {
			t.Errorf("Label %d: expected volume %.3f, got %.3f", e.label, e.volume, row.VolumeCC)
		}
	}

	if report.TotalCounts != 90 {
		t.Errorf("Expected grand total 90, got %v", report.TotalCounts)
	}

	wantMean := 40.0/90.0*1 + 50.0/90.0*2
	if math.Abs(report.ComputedMean-wantMean) > 1e-9 {
		t.Errorf("Expected computed mean %f, got %f", wantMean, report.ComputedMean)
	}
	if got := FormatFixed(report.Rows[1].SPECTMean); got != "1.111" {
		t.Errorf("Expected region 2 contribution 1.111, got %s", got)
	}
}

func TestComputeLabelsInTraversalOrder(t *testing.T) {
	intensity, label := createTestVolumes()
	report, err := Compute(intensity, label, models.DefaultRegions(), intensity.Spacing)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	for i, l := range report.Labels {
		if l != i+1 {
			t.Errorf("Labels[%d] = %d, expected %d", i, l, i+1)
		}
		if report.Rows[i].Name != models.DefaultRegions()[i+1].Name {
			t.Errorf("Row %d has name %q", i, report.Rows[i].Name)
		}
	}
}

func TestComputeCountsOnlyPositiveVoxels(t *testing.T) {
	spacing := models.Geometry{X: 1, Y: 1, Z: 1}
	intensity := models.NewVolume("spect", 4, 1, 1, spacing)
	label := models.NewVolume("label", 4, 1, 1, spacing)
	copy(intensity.Data, []float64{5, 0, -2, 7})
	copy(label.Data, []float64{1, 1, 1, 0})

	report, err := Compute(intensity, label, models.DefaultRegions(), spacing)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	row, _ := report.Row(1)
	if row.Voxels != 1 {
		t.Errorf("Expected 1 positive voxel, got %d", row.Voxels)
	}
	// The sum includes the zero and negative voxels of the mask
	if row.TotalCounts != 3 {
		t.Errorf("Expected total counts 3, got %v", row.TotalCounts)
	}
	if report.TotalCounts != 3 {
		t.Errorf("Background voxel leaked into total: %v", report.TotalCounts)
	}
}

func TestComputeAllZeroIntensity(t *testing.T) {
	intensity, label := createTestVolumes()
	for i := range intensity.Data {
		intensity.Data[i] = 0
	}

	report, err := Compute(intensity, label, models.DefaultRegions(), intensity.Spacing)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if report.ComputedMean != 0 {
		t.Errorf("Expected computed mean 0, got %v", report.ComputedMean)
	}
	for _, row := range report.Rows {
		if row.SPECTMean != 0 || math.IsNaN(row.SPECTMean) {
			t.Errorf("Label %d: expected zero contribution, got %v", row.Label, row.SPECTMean)
		}
		if row.Voxels != 0 {
			t.Errorf("Label %d: expected no positive voxels, got %d", row.Label, row.Voxels)
		}
	}
}

func TestComputeInvariants(t *testing.T) {
	spacing := models.Geometry{X: 4.42, Y: 4.42, Z: 4.42}
	intensity := models.NewVolume("spect", 8, 6, 5, spacing)
	label := models.NewVolume("label", 8, 6, 5, spacing)
	for i := range intensity.Data {
		intensity.Data[i] = float64((i * 7) % 13)
		label.Data[i] = float64(i % 10) // 9 is outside the catalog
	}

	report, err := Compute(intensity, label, models.DefaultRegions(), spacing)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	var sum float64
	for _, row := range report.Rows {
		sum += row.TotalCounts
		if row.Voxels > label.Len() {
			t.Errorf("Label %d: %d voxels exceeds volume size", row.Label, row.Voxels)
		}
		want := float64(row.Voxels) * spacing.X * spacing.Y * spacing.Z * 0.001
		if FormatFixed(row.VolumeCC) != FormatFixed(want) {
			t.Errorf("Label %d: volume %s, expected %s", row.Label, FormatFixed(row.VolumeCC), FormatFixed(want))
		}
	}
	if math.Abs(sum-report.TotalCounts) > 1e-9 {
		t.Errorf("Sum of region counts %v differs from grand total %v", sum, report.TotalCounts)
	}
}

func TestComputeErrors(t *testing.T) {
	intensity, label := createTestVolumes()
	small := models.NewVolume("small", 2, 2, 1, intensity.Spacing)

	tests := []struct {
		name      string
		intensity *models.Volume
		label     *models.Volume
		catalog   models.RegionCatalog
		geom      models.Geometry
		want      error
	}{
		{"shape mismatch", intensity, small, models.DefaultRegions(), intensity.Spacing, ErrShapeMismatch},
		{"zero spacing", intensity, label, models.DefaultRegions(), models.Geometry{X: 2, Y: 0, Z: 2}, ErrInvalidGeometry},
		{"negative spacing", intensity, label, models.DefaultRegions(), models.Geometry{X: -1, Y: 2, Z: 2}, ErrInvalidGeometry},
		{"background only", intensity, label, models.DefaultRegions()[:1], intensity.Spacing, ErrEmptyCatalog},
		{"missing label", intensity, nil, models.DefaultRegions(), intensity.Spacing, ErrNilVolume},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compute(tt.intensity, tt.label, tt.catalog, tt.geom)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}
