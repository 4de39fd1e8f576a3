package models

// Role identifies what a volume is used for within a timepoint
type Role string

const (
	RoleCT        Role = "CT"
	RoleSPECT     Role = "SP"
	RoleThreshold Role = "TH"
	RoleLabel     Role = "LA"
)

// Roles lists every role in resolution order
var Roles = []Role{RoleCT, RoleSPECT, RoleThreshold, RoleLabel}

// String returns the short role code
func (r Role) String() string {
	return string(r)
}

// Region is a named anatomical colon region; Index is its label value
type Region struct {
	Index int    `yaml:"index"`
	Name  string `yaml:"name"`
}

// RegionCatalog is the ordered list of regions. Entry 0 is the
// background placeholder and is never aggregated.
type RegionCatalog []Region

// DefaultRegions returns the colon regions used by the transit studies
func DefaultRegions() RegionCatalog {
	names := []string{"precolon", "ascending_1", "ascending_2", "transverse_1",
		"transverse_2", "transverse_3", "transverse_4", "neorectum", "stool"}
	catalog := make(RegionCatalog, len(names))
	for i, name := range names {
		catalog[i] = Region{Index: i, Name: name}
	}
	return catalog
}

// Name returns the region name for label index, or "" when unknown
func (c RegionCatalog) Name(index int) string {
	for _, r := range c {
		if r.Index == index {
			return r.Name
		}
	}
	return ""
}

// Has reports whether index is a paintable region (background included)
func (c RegionCatalog) Has(index int) bool {
	return index >= 0 && index < len(c)
}

// Timepoint describes one imaging session of a study
type Timepoint struct {
	Name   string `yaml:"name"`
	Colour string `yaml:"colour"`
}
