// Package config handles the SOP parameter bundles that drive QC thresholds,
// batch correction and mask updates.
package config

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed sops/*.yaml
var bundled embed.FS

// DefaultSOP is the bundle used to fill fields a loaded SOP leaves empty.
const DefaultSOP = "GenericMS"

// Region is a closed chemical-shift interval in ppm.
type Region struct {
	Low  float64 `yaml:"low"`
	High float64 `yaml:"high"`
}

// Contains reports whether ppm lies inside the region.
func (r Region) Contains(ppm float64) bool {
	return ppm >= r.Low && ppm <= r.High
}

// SOP is a per-dataset parameter bundle.
type SOP struct {
	Name string `yaml:"name"`

	// Feature QC thresholds
	CorrMethod                  string   `yaml:"corrMethod"`
	RSDThreshold                float64  `yaml:"rsdThreshold"`
	CorrThreshold               float64  `yaml:"corrThreshold"`
	VarianceRatio               float64  `yaml:"varianceRatio"`
	BlankThreshold              float64  `yaml:"blankThreshold"`
	DeltaMzArtifactual          float64  `yaml:"deltaMzArtifactual"`
	OverlapThresholdArtifactual float64  `yaml:"overlapThresholdArtifactual"`
	CorrThresholdArtifactual    float64  `yaml:"corrThresholdArtifactual"`
	ArtifactualFilter           bool     `yaml:"artifactualFilter"`
	ExclusionRegions            []Region `yaml:"exclusionRegions"`

	// Run-order correction
	Window               int    `yaml:"window"`
	Align                string `yaml:"align"`
	Method               string `yaml:"method"`
	CorrectionSampleType string `yaml:"correctionSampleType"`

	// Mask selections
	SampleTypes         []string `yaml:"sampleTypes"`
	AssayRoles          []string `yaml:"assayRoles"`
	QuantificationTypes []string `yaml:"quantificationTypes"`
	CalibrationMethods  []string `yaml:"calibrationMethods"`

	// Targeted merge keys in addition to the fixed set
	ExternalIDs []string `yaml:"externalID"`

	// Gap in acquisition time that starts a new batch
	BatchGapHours float64 `yaml:"batchGapHours"`
}

// Bundles lists the names of the embedded SOPs.
func Bundles() []string {
	entries, err := bundled.ReadDir("sops")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
	}
	return names
}

// Load returns the SOP named by nameOrPath. Embedded bundle names are tried
// first, then the argument is read as a YAML file.
func Load(nameOrPath string) (*SOP, error) {
	if nameOrPath == "" {
		nameOrPath = DefaultSOP
	}

	data, err := bundled.ReadFile("sops/" + nameOrPath + ".yaml")
	if err != nil {
		data, err = os.ReadFile(nameOrPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load SOP %q: %w", nameOrPath, err)
		}
	}

	sop, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SOP %q: %w", nameOrPath, err)
	}
	return sop, nil
}

// Parse decodes a YAML SOP and fills missing values from the default bundle.
func Parse(data []byte) (*SOP, error) {
	var sop SOP
	if err := yaml.Unmarshal(data, &sop); err != nil {
		return nil, err
	}
	if err := applyDefaults(&sop); err != nil {
		return nil, err
	}
	if err := sop.Check(); err != nil {
		return nil, err
	}
	return &sop, nil
}

// Default returns the default SOP. It panics if the embedded bundle is
// malformed, which only a broken build can cause.
func Default() SOP {
	sop, err := defaults()
	if err != nil {
		panic(err)
	}
	return *sop
}

func defaults() (*SOP, error) {
	data, err := bundled.ReadFile("sops/" + DefaultSOP + ".yaml")
	if err != nil {
		return nil, err
	}
	var sop SOP
	if err := yaml.Unmarshal(data, &sop); err != nil {
		return nil, err
	}
	return &sop, nil
}

func applyDefaults(sop *SOP) error {
	d, err := defaults()
	if err != nil {
		return err
	}

	if sop.Name == "" {
		sop.Name = "custom"
	}
	if sop.CorrMethod == "" {
		sop.CorrMethod = d.CorrMethod
	}
	if sop.RSDThreshold == 0 {
		sop.RSDThreshold = d.RSDThreshold
	}
	if sop.CorrThreshold == 0 {
		sop.CorrThreshold = d.CorrThreshold
	}
	if sop.VarianceRatio == 0 {
		sop.VarianceRatio = d.VarianceRatio
	}
	if sop.BlankThreshold == 0 {
		sop.BlankThreshold = d.BlankThreshold
	}
	if sop.DeltaMzArtifactual == 0 {
		sop.DeltaMzArtifactual = d.DeltaMzArtifactual
	}
	if sop.OverlapThresholdArtifactual == 0 {
		sop.OverlapThresholdArtifactual = d.OverlapThresholdArtifactual
	}
	if sop.CorrThresholdArtifactual == 0 {
		sop.CorrThresholdArtifactual = d.CorrThresholdArtifactual
	}
	if sop.Window == 0 {
		sop.Window = d.Window
	}
	if sop.Align == "" {
		sop.Align = d.Align
	}
	if sop.Method == "" {
		sop.Method = d.Method
	}
	if sop.CorrectionSampleType == "" {
		sop.CorrectionSampleType = d.CorrectionSampleType
	}
	if len(sop.SampleTypes) == 0 {
		sop.SampleTypes = d.SampleTypes
	}
	if len(sop.AssayRoles) == 0 {
		sop.AssayRoles = d.AssayRoles
	}
	if sop.BatchGapHours == 0 {
		sop.BatchGapHours = d.BatchGapHours
	}
	return nil
}

// Check validates ranges of the numeric parameters.
func (s *SOP) Check() error {
	var errs []string

	switch strings.ToLower(s.CorrMethod) {
	case "pearson", "spearman":
	default:
		errs = append(errs, fmt.Sprintf("corrMethod must be pearson or spearman, got %q", s.CorrMethod))
	}
	if s.RSDThreshold < 0 {
		errs = append(errs, "rsdThreshold must be non-negative")
	}
	if s.CorrThreshold < -1 || s.CorrThreshold > 1 {
		errs = append(errs, "corrThreshold must lie in [-1, 1]")
	}
	if s.CorrThresholdArtifactual < -1 || s.CorrThresholdArtifactual > 1 {
		errs = append(errs, "corrThresholdArtifactual must lie in [-1, 1]")
	}
	if s.OverlapThresholdArtifactual < 0 || s.OverlapThresholdArtifactual > 100 {
		errs = append(errs, "overlapThresholdArtifactual must lie in [0, 100]")
	}
	if s.Window < 1 || s.Window%2 == 0 {
		errs = append(errs, "window must be a positive odd integer")
	}
	switch strings.ToLower(s.Align) {
	case "mean", "median", "none":
	default:
		errs = append(errs, fmt.Sprintf("align must be mean, median or none, got %q", s.Align))
	}
	switch strings.ToLower(s.Method) {
	case "lowess", "none":
	default:
		errs = append(errs, fmt.Sprintf("method must be LOWESS or None, got %q", s.Method))
	}
	for i, r := range s.ExclusionRegions {
		if r.Low > r.High {
			errs = append(errs, fmt.Sprintf("exclusion region %d has low > high", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid SOP: %s", strings.Join(errs, "; "))
	}
	return nil
}
