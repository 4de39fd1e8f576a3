package study

import (
	"strings"

	"colonictransit/internal/models"
	"colonictransit/pkg/config"
)

// Classify assigns a volume name to a timepoint and role using the naming
// conventions of the imaging system. The timepoint is the longest
// configured name contained in the volume name, so "24HRS" is not taken
// for "4HRS".
func Classify(name string, timepoints []models.Timepoint, p config.Patterns) (string, models.Role, bool) {
	timepoint := ""
	for _, tp := range timepoints {
		if strings.Contains(name, tp.Name) && len(tp.Name) > len(timepoint) {
			timepoint = tp.Name
		}
	}
	if timepoint == "" {
		return "", "", false
	}

	switch {
	case p.CTContains != "" && strings.Contains(name, p.CTContains):
		return timepoint, models.RoleCT, true
	case p.LabelSuffix != "" && strings.HasSuffix(name, p.LabelSuffix):
		return timepoint, models.RoleLabel, true
	case p.ThresholdSuffix != "" && strings.HasSuffix(name, p.ThresholdSuffix):
		return timepoint, models.RoleThreshold, true
	case p.SPECTSuffix != "" && strings.HasSuffix(name, p.SPECTSuffix):
		return timepoint, models.RoleSPECT, true
	}
	return timepoint, "", false
}
