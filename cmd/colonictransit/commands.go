package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"colonictransit/internal/models"
	"colonictransit/pkg/dicomio"
	"colonictransit/pkg/stats"
	"colonictransit/pkg/study"
	"colonictransit/pkg/visualization"
)

func runImport(e *env, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	dicomDir := fs.String("dicom", "", "Study directory with one DICOM series per subdirectory")
	fs.Parse(args)
	if *dicomDir == "" {
		fs.Usage()
		return errors.New("-dicom is required")
	}

	loader := dicomio.NewLoader(e.cfg.Processing.NumCores, e.log)
	volumes, err := loader.LoadStudy(e.ctx, *dicomDir)
	if err != nil {
		return err
	}
	placed := e.study.Import(volumes)
	fmt.Printf("Imported %d of %d series\n", placed, len(volumes))
	if placed < len(volumes) {
		fmt.Println("Series that match no timepoint or role were ignored (see the naming patterns in the configuration)")
	}
	return e.study.Save(e.store)
}

func runFix(e *env, args []string) error {
	if err := e.study.FixVolumes(); err != nil {
		return err
	}
	for _, tp := range e.study.ActiveSPECTs() {
		v := e.study.Volume(tp, models.RoleSPECT)
		fmt.Printf("%s: spacing %.3f x %.3f x %.3f mm, window %.1f level %.1f\n",
			tp, v.Spacing.X, v.Spacing.Y, v.Spacing.Z, v.Display.Window, v.Display.Level)
	}
	return e.study.Save(e.store)
}

func runThreshold(e *env, args []string) error {
	fs := flag.NewFlagSet("threshold", flag.ExitOnError)
	timepoint := fs.String("timepoint", "", "Timepoint to re-threshold (default: calculate all)")
	value := fs.Float64("value", -1, "Threshold value to apply to -timepoint")
	fs.Parse(args)

	if *timepoint == "" {
		states, err := e.study.CalculateThresholds()
		if err != nil {
			return err
		}
		for _, tp := range e.study.ActiveSPECTs() {
			fmt.Printf("%s: threshold %.0f (max %.0f)\n", tp, states[tp].Value, states[tp].Max)
		}
		return e.study.Save(e.store)
	}

	if *value < 0 {
		return errors.New("-value is required with -timepoint")
	}
	if err := e.study.ApplyThreshold(*timepoint, *value); err != nil {
		return err
	}
	if err := e.study.SetCurrentView(*timepoint); err != nil {
		return err
	}
	fmt.Printf("%s: threshold %.0f (max %.0f)\n", *timepoint, e.study.Threshold(*timepoint), e.study.ThresholdMax(*timepoint))
	return e.study.Save(e.store)
}

func runLabels(e *env, args []string) error {
	fs := flag.NewFlagSet("labels", flag.ExitOnError)
	timepoint := fs.String("timepoint", "", "Timepoint (default: every timepoint with a SPECT volume)")
	fs.Parse(args)

	targets := e.study.ActiveSPECTs()
	if *timepoint != "" {
		targets = []string{*timepoint}
	}
	for _, tp := range targets {
		label, err := e.study.SetupLabels(tp)
		if errors.Is(err, study.ErrMissingVolume) {
			e.log.WithField("timepoint", tp).Warn("no threshold volume, skipping labels")
			continue
		}
		if err != nil {
			return err
		}
		fmt.Printf("%s: label volume %s\n", tp, label.Name)
	}
	return e.study.Save(e.store)
}

func runPaint(e *env, args []string) error {
	fs := flag.NewFlagSet("paint", flag.ExitOnError)
	timepoint := fs.String("timepoint", "", "Timepoint (default: current view)")
	region := fs.String("region", "", "Region name or index (0 erases)")
	at := fs.String("at", "", "Brush centre as voxel coordinates x,y,z")
	radius := fs.Float64("radius", 5, "Brush radius in mm")
	above := fs.Bool("above-threshold", true, "Only paint voxels that survive the threshold")
	fs.Parse(args)

	tp := *timepoint
	if tp == "" {
		tp = e.study.CurrentView()
	}
	index, err := regionIndex(e.cfg.Study.Regions, *region)
	if err != nil {
		return err
	}
	center, err := parseVoxel(*at)
	if err != nil {
		return err
	}

	n, err := e.study.Paint(tp, index, study.Brush{Center: center, Radius: *radius, AboveThreshold: *above})
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d voxels assigned to %s\n", tp, n, e.cfg.Study.Regions.Name(index))
	return e.study.Save(e.store)
}

func runStats(e *env, args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	timepoint := fs.String("timepoint", "", "Timepoint (default: current view)")
	out := fs.String("out", "", "CSV file to write")
	fs.Parse(args)

	tp := *timepoint
	if tp == "" {
		tp = e.study.CurrentView()
	}
	report, err := e.study.Stats(tp)
	if errors.Is(err, study.ErrMissingVolume) {
		fmt.Fprintf(os.Stderr, "Label Statistics: either the SPECT or label volume of %s does not exist.\n", tp)
		return err
	}
	if err != nil {
		return err
	}

	fmt.Printf("Region statistics for %s\n", tp)
	if err := report.Table(os.Stdout); err != nil {
		return err
	}

	if *out == "" {
		return nil
	}
	mode, err := stats.ParseSummaryMode(e.cfg.Report.Summary)
	if err != nil {
		return err
	}
	opts := stats.CSVOptions{Summary: mode, SkipEmpty: e.cfg.Report.SkipEmpty}
	if err := stats.WriteCSV(*out, report, e.cfg.Report.Columns, opts); err != nil {
		return err
	}
	fmt.Printf("Statistics saved to %s\n", *out)
	return nil
}

func runPreview(e *env, args []string) error {
	fs := flag.NewFlagSet("preview", flag.ExitOnError)
	timepoint := fs.String("timepoint", "", "Timepoint (default: current view)")
	role := fs.String("role", "SP", "Volume role: CT, SP, TH or LA")
	axes := fs.String("axes", "x,y,z", "Comma separated axes to export")
	out := fs.String("out", "previews", "Output directory")
	withLabels := fs.Bool("labels", true, "Blend the label volume over the slices")
	fs.Parse(args)

	tp := *timepoint
	if tp == "" {
		tp = e.study.CurrentView()
	}
	v := e.study.Volume(tp, models.Role(strings.ToUpper(*role)))
	if v == nil {
		return fmt.Errorf("%w: %s %s", study.ErrMissingVolume, tp, *role)
	}

	viewer := visualization.NewViewer(v)
	if label := e.study.Volume(tp, models.RoleLabel); *withLabels && label != nil && label != v {
		if err := viewer.Overlay(label, visualization.DefaultPalette(len(e.cfg.Study.Regions)-1)); err != nil {
			return err
		}
	}

	for _, axis := range strings.Split(*axes, ",") {
		axis = strings.TrimSpace(axis)
		axisDir := filepath.Join(*out, tp, axis)
		fmt.Printf("Saving %s-axis slices to: %s\n", axis, axisDir)
		if err := viewer.SaveSliceSequence(axis, axisDir); err != nil {
			e.log.WithError(err).WithField("axis", axis).Warn("failed to save slices")
		}
	}
	return nil
}

func runStatus(e *env, args []string) error {
	listing, err := e.store.List()
	if err != nil {
		return err
	}
	for _, tp := range e.study.Timepoints() {
		marker := " "
		if tp == e.study.CurrentView() {
			marker = "*"
		}
		var roles []string
		for _, r := range listing[tp] {
			roles = append(roles, r.String())
		}
		fmt.Printf("%s %-6s threshold %-6.0f max %-6.0f volumes [%s]\n",
			marker, tp, e.study.Threshold(tp), e.study.ThresholdMax(tp), strings.Join(roles, " "))
	}
	return nil
}

// regionIndex resolves a region given by name or index
func regionIndex(catalog models.RegionCatalog, s string) (int, error) {
	if s == "" {
		return 0, errors.New("-region is required")
	}
	if i, err := strconv.Atoi(s); err == nil {
		if !catalog.Has(i) {
			return 0, fmt.Errorf("%w: %d", study.ErrUnknownRegion, i)
		}
		return i, nil
	}
	for _, r := range catalog {
		if r.Name == s {
			return r.Index, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", study.ErrUnknownRegion, s)
}

// parseVoxel parses "x,y,z"
func parseVoxel(s string) ([3]int, error) {
	var out [3]int
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return out, fmt.Errorf("expected voxel coordinates x,y,z, got %q", s)
	}
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return out, fmt.Errorf("invalid coordinate %q: %w", p, err)
		}
		out[i] = n
	}
	return out, nil
}
