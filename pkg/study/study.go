// Package study holds the volumes of a colonic transit study, one set of
// CT, SPECT, threshold and label volumes per timepoint, and runs the
// analysis steps on them.
package study

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"colonictransit/internal/models"
	"colonictransit/pkg/config"
	"colonictransit/pkg/orient"
	"colonictransit/pkg/stats"
	"colonictransit/pkg/store"
	"colonictransit/pkg/threshold"
)

var (
	// ErrMissingVolume is returned when a step needs a volume the
	// timepoint does not have
	ErrMissingVolume = errors.New("required volume does not exist")

	// ErrNoSPECT is returned when no timepoint has a SPECT volume
	ErrNoSPECT = errors.New("no SPECT volume loaded")

	// ErrUnknownTimepoint is returned for a timepoint outside the configuration
	ErrUnknownTimepoint = errors.New("unknown timepoint")

	// ErrUnknownRegion is returned when painting a region outside the catalog
	ErrUnknownRegion = errors.New("unknown region")
)

// Timepoint holds the volumes and threshold state of one imaging session
type Timepoint struct {
	Name   string
	Colour string

	Threshold threshold.State

	mu      sync.RWMutex
	volumes map[models.Role]*models.Volume
}

// Volume returns the volume for role, or nil when the role is not active
func (tp *Timepoint) Volume(role models.Role) *models.Volume {
	tp.mu.RLock()
	defer tp.mu.RUnlock()
	return tp.volumes[role]
}

// Active reports whether the timepoint has a volume for role
func (tp *Timepoint) Active(role models.Role) bool {
	return tp.Volume(role) != nil
}

// set stores v for role; a nil volume clears it
func (tp *Timepoint) set(role models.Role, v *models.Volume) {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	if v == nil {
		delete(tp.volumes, role)
		return
	}
	tp.volumes[role] = v
}

// Study is the analysis state of a colonic transit study. Volume access
// on each Timepoint is safe for concurrent use; the analysis steps and the
// current view are not and must be called from one goroutine.
type Study struct {
	cfg *config.Config
	log logrus.FieldLogger

	timepoints  []*Timepoint
	currentView string
}

// New creates an empty study with the configured timepoints
func New(cfg *config.Config, log logrus.FieldLogger) *Study {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Study{
		cfg: cfg,
		log: log.WithField("component", "study"),
	}
	for _, tp := range cfg.Study.Timepoints {
		s.timepoints = append(s.timepoints, &Timepoint{
			Name:    tp.Name,
			Colour:  tp.Colour,
			volumes: make(map[models.Role]*models.Volume),
		})
	}
	if len(s.timepoints) > 0 {
		s.currentView = s.timepoints[0].Name
	}
	return s
}

// Timepoints returns the configured timepoint names in order
func (s *Study) Timepoints() []string {
	names := make([]string, len(s.timepoints))
	for i, tp := range s.timepoints {
		names[i] = tp.Name
	}
	return names
}

// Timepoint returns the named timepoint
func (s *Study) Timepoint(name string) (*Timepoint, error) {
	for _, tp := range s.timepoints {
		if tp.Name == name {
			return tp, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTimepoint, name)
}

// Assign sets the volume for a timepoint and role; a nil volume clears it
func (s *Study) Assign(timepoint string, role models.Role, v *models.Volume) error {
	tp, err := s.Timepoint(timepoint)
	if err != nil {
		return err
	}
	tp.set(role, v)
	return nil
}

// AssignByName classifies v by its name and assigns it. It reports false
// when the name matches no timepoint or role.
func (s *Study) AssignByName(v *models.Volume) (string, models.Role, bool) {
	timepoint, role, ok := Classify(v.Name, s.cfg.Study.Timepoints, s.cfg.Study.Patterns)
	if !ok {
		s.log.WithField("volume", v.Name).Warn("volume matches no timepoint or role")
		return "", "", false
	}
	if err := s.Assign(timepoint, role, v); err != nil {
		return "", "", false
	}
	s.log.WithFields(logrus.Fields{"volume": v.Name, "timepoint": timepoint, "role": role}).Debug("assigned volume")
	return timepoint, role, true
}

// Import assigns loaded volumes by name and returns how many were placed.
// Volumes keep automatic window/level until FixVolumes runs.
func (s *Study) Import(volumes []*models.Volume) int {
	placed := 0
	for _, v := range volumes {
		if _, _, ok := s.AssignByName(v); ok {
			orient.AutoWindowLevel(v)
			placed++
		}
	}
	return placed
}

// Volume returns the volume for timepoint and role, or nil if absent
func (s *Study) Volume(timepoint string, role models.Role) *models.Volume {
	tp, err := s.Timepoint(timepoint)
	if err != nil {
		return nil
	}
	return tp.Volume(role)
}

// ActiveSPECTs returns the timepoints that have a SPECT volume
func (s *Study) ActiveSPECTs() []string {
	var out []string
	for _, tp := range s.timepoints {
		if tp.Active(models.RoleSPECT) {
			out = append(out, tp.Name)
		}
	}
	return out
}

// CurrentView returns the timepoint being worked on
func (s *Study) CurrentView() string {
	return s.currentView
}

// SetCurrentView selects the timepoint being worked on
func (s *Study) SetCurrentView(timepoint string) error {
	if _, err := s.Timepoint(timepoint); err != nil {
		return err
	}
	s.currentView = timepoint
	return nil
}

// FixVolumes repairs the geometry of every SPECT volume, carries it over
// to threshold and label volumes on the same grid and sets the display of
// SPECT and CT volumes. The current view becomes the first
// timepoint with a SPECT volume.
func (s *Study) FixVolumes() error {
	active := s.ActiveSPECTs()
	if len(active) == 0 {
		return ErrNoSPECT
	}
	s.currentView = active[0]

	for _, tp := range s.timepoints {
		if spect := tp.Volume(models.RoleSPECT); spect != nil {
			orient.FixSPECT(spect)
			for _, role := range []models.Role{models.RoleThreshold, models.RoleLabel} {
				if v := tp.Volume(role); v != nil && v.SameShape(spect) {
					v.Spacing, v.Origin, v.Direction = spect.Spacing, spect.Origin, spect.Direction
				}
			}
			spect.Display.Colour = tp.Colour
			orient.AutoWindowLevel(spect)
			if orient.FixSPECTLevel(spect) {
				s.log.WithField("timepoint", tp.Name).Info("adjusted SPECT window level")
			}
			s.log.WithFields(logrus.Fields{
				"timepoint": tp.Name,
				"spacing":   fmt.Sprintf("%.3f,%.3f,%.3f", spect.Spacing.X, spect.Spacing.Y, spect.Spacing.Z),
			}).Info("fixed SPECT volume")
		}
		if ct := tp.Volume(models.RoleCT); ct != nil {
			orient.SetWindowLevel(ct, s.cfg.Display.CTWindow, s.cfg.Display.CTLevel)
		}
	}
	return nil
}

// CalculateThresholds derives the background threshold of every SPECT
// volume, creates the threshold volume where missing and applies it
func (s *Study) CalculateThresholds() (map[string]threshold.State, error) {
	active := s.ActiveSPECTs()
	if len(active) == 0 {
		return nil, ErrNoSPECT
	}

	out := make(map[string]threshold.State, len(active))
	for _, name := range active {
		state, err := s.CalculateThreshold(name)
		if err != nil {
			return nil, err
		}
		if err := s.ApplyThreshold(name, math.Trunc(state.Value)); err != nil {
			return nil, err
		}
		tp, _ := s.Timepoint(name)
		out[name] = tp.Threshold
	}
	s.currentView = active[0]
	return out, nil
}

// CalculateThreshold computes the threshold state of one timepoint and
// creates its threshold volume as a copy of the SPECT volume if needed
func (s *Study) CalculateThreshold(timepoint string) (threshold.State, error) {
	tp, err := s.Timepoint(timepoint)
	if err != nil {
		return threshold.State{}, err
	}
	spect := tp.Volume(models.RoleSPECT)
	if spect == nil {
		return threshold.State{}, fmt.Errorf("%w: %s SPECT", ErrMissingVolume, timepoint)
	}

	res, err := threshold.Calculate(spect, s.cfg.Threshold.Bins, s.cfg.Threshold.BinIndex)
	if err != nil {
		return threshold.State{}, fmt.Errorf("error calculating threshold for %s: %w", timepoint, err)
	}
	tp.Threshold = res.State
	s.log.WithFields(logrus.Fields{
		"timepoint": timepoint,
		"threshold": res.Value,
		"max":       res.Max,
	}).Info("calculated threshold")

	if !tp.Active(models.RoleThreshold) {
		th := spect.Clone(spect.Name + "-threshold")
		if err := s.Assign(timepoint, models.RoleThreshold, th); err != nil {
			return threshold.State{}, err
		}
	}
	return res.State, nil
}

// ApplyThreshold filters the SPECT volume of timepoint into its threshold
// volume. CalculateThreshold must have created the threshold volume.
func (s *Study) ApplyThreshold(timepoint string, value float64) error {
	tp, err := s.Timepoint(timepoint)
	if err != nil {
		return err
	}
	spect, th := tp.Volume(models.RoleSPECT), tp.Volume(models.RoleThreshold)
	if spect == nil || th == nil {
		return fmt.Errorf("%w: %s needs SPECT and threshold volumes, calculate the threshold first",
			ErrMissingVolume, timepoint)
	}

	mode, err := threshold.ParseMode(s.cfg.Threshold.Mode)
	if err != nil {
		return err
	}
	if err := threshold.Apply(th, spect, value, mode, s.cfg.Threshold.OutsideValue); err != nil {
		return err
	}
	tp.Threshold.Value = value
	s.log.WithFields(logrus.Fields{
		"timepoint":  timepoint,
		"threshold":  value,
		"suppressed": fmt.Sprintf("%.1f%%", 100*threshold.SuppressedFraction(spect, value, mode)),
	}).Info("applied threshold")
	return nil
}

// Threshold returns the current threshold value of timepoint
func (s *Study) Threshold(timepoint string) float64 {
	tp, err := s.Timepoint(timepoint)
	if err != nil {
		return 0
	}
	return tp.Threshold.Value
}

// ThresholdMax returns the SPECT maximum recorded for timepoint
func (s *Study) ThresholdMax(timepoint string) float64 {
	tp, err := s.Timepoint(timepoint)
	if err != nil {
		return 0
	}
	return tp.Threshold.Max
}

// SetupLabels creates an empty label volume on the grid of the threshold
// volume. It does nothing when the timepoint already has labels.
func (s *Study) SetupLabels(timepoint string) (*models.Volume, error) {
	tp, err := s.Timepoint(timepoint)
	if err != nil {
		return nil, err
	}
	if label := tp.Volume(models.RoleLabel); label != nil {
		return label, nil
	}
	th := tp.Volume(models.RoleThreshold)
	if th == nil {
		return nil, fmt.Errorf("%w: %s threshold volume", ErrMissingVolume, timepoint)
	}
	label := th.EmptyLike(th.Name + "-label")
	label.Display.Colour = "ColonColors"
	if err := s.Assign(timepoint, models.RoleLabel, label); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"timepoint": timepoint, "volume": label.Name}).Info("created label volume")
	return label, nil
}

// Brush is a spherical paint stroke in voxel coordinates with a radius in mm
type Brush struct {
	Center [3]int
	Radius float64

	// AboveThreshold restricts painting to voxels with a positive
	// threshold volume value
	AboveThreshold bool
}

// Paint assigns region to every label voxel within the brush and returns
// the number of voxels changed. Region 0 erases.
func (s *Study) Paint(timepoint string, region int, brush Brush) (int, error) {
	if !s.cfg.Study.Regions.Has(region) {
		return 0, fmt.Errorf("%w: %d", ErrUnknownRegion, region)
	}
	tp, err := s.Timepoint(timepoint)
	if err != nil {
		return 0, err
	}
	label := tp.Volume(models.RoleLabel)
	if label == nil {
		return 0, fmt.Errorf("%w: %s label volume", ErrMissingVolume, timepoint)
	}
	var mask *models.Volume
	if brush.AboveThreshold {
		mask = tp.Volume(models.RoleThreshold)
		if mask == nil {
			return 0, fmt.Errorf("%w: %s threshold volume", ErrMissingVolume, timepoint)
		}
		if !mask.SameShape(label) {
			return 0, fmt.Errorf("threshold and label volumes of %s differ in shape", timepoint)
		}
	}

	sp := label.Spacing
	if !sp.Valid() {
		return 0, fmt.Errorf("label volume of %s has invalid spacing", timepoint)
	}
	rx := int(math.Ceil(brush.Radius / sp.X))
	ry := int(math.Ceil(brush.Radius / sp.Y))
	rz := int(math.Ceil(brush.Radius / sp.Z))
	r2 := brush.Radius * brush.Radius
	c := brush.Center

	changed := 0
	value := float64(region)
	for z := c[2] - rz; z <= c[2]+rz; z++ {
		for y := c[1] - ry; y <= c[1]+ry; y++ {
			for x := c[0] - rx; x <= c[0]+rx; x++ {
				if !label.Contains(x, y, z) {
					continue
				}
				dx := float64(x-c[0]) * sp.X
				dy := float64(y-c[1]) * sp.Y
				dz := float64(z-c[2]) * sp.Z
				if dx*dx+dy*dy+dz*dz > r2 {
					continue
				}
				idx := label.Index(x, y, z)
				if mask != nil && mask.Data[idx] <= 0 {
					continue
				}
				if label.Data[idx] != value {
					label.Data[idx] = value
					changed++
				}
			}
		}
	}
	s.log.WithFields(logrus.Fields{
		"timepoint": timepoint,
		"region":    s.cfg.Study.Regions.Name(region),
		"voxels":    changed,
	}).Debug("painted region")
	return changed, nil
}

// Stats computes the region statistics of the SPECT volume of timepoint
// over its label volume
func (s *Study) Stats(timepoint string) (*stats.Report, error) {
	tp, err := s.Timepoint(timepoint)
	if err != nil {
		return nil, err
	}
	spect, label := tp.Volume(models.RoleSPECT), tp.Volume(models.RoleLabel)
	if spect == nil || label == nil {
		return nil, fmt.Errorf("%w: either the SPECT or label volume of %s does not exist",
			ErrMissingVolume, timepoint)
	}
	report, err := stats.Compute(spect, label, s.cfg.Study.Regions, spect.Spacing)
	if err != nil {
		return nil, fmt.Errorf("error computing statistics for %s: %w", timepoint, err)
	}
	s.log.WithFields(logrus.Fields{
		"timepoint":    timepoint,
		"totalCounts":  report.TotalCounts,
		"computedMean": report.ComputedMean,
	}).Info("computed region statistics")
	return report, nil
}

// Load reads every stored volume of the configured timepoints. Timepoints
// are read concurrently; missing roles are skipped.
func (s *Study) Load(ctx context.Context, st *store.Store) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, tp := range s.timepoints {
		tp := tp
		g.Go(func() error {
			for _, role := range models.Roles {
				if err := ctx.Err(); err != nil {
					return err
				}
				v, err := st.Get(tp.Name, role)
				if errors.Is(err, store.ErrNotFound) {
					continue
				}
				if err != nil {
					return err
				}
				tp.set(role, v)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := s.loadState(st); err != nil {
		return err
	}
	for _, tp := range s.timepoints {
		if !tp.Active(models.RoleCT) && !tp.Active(models.RoleSPECT) && !tp.Active(models.RoleThreshold) {
			s.log.WithField("timepoint", tp.Name).Debug("no CT or SPECT data")
		}
	}
	return nil
}

// Save writes every active volume and the study state to st
func (s *Study) Save(st *store.Store) error {
	for _, tp := range s.timepoints {
		for _, role := range models.Roles {
			v := tp.Volume(role)
			if v == nil {
				continue
			}
			if err := st.Put(tp.Name, role, v); err != nil {
				return err
			}
		}
	}
	return s.saveState(st)
}
