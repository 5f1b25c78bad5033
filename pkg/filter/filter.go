// Package filter provides the mask engine: sample selection by type and
// role, and feature selection by QC statistics, spectral exclusion regions
// or targeted quantification type.
package filter

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/ChrisMcGann/QCKit/pkg/config"
	"github.com/ChrisMcGann/QCKit/pkg/core"
	"github.com/ChrisMcGann/QCKit/pkg/qcmetrics"
)

// Off disables a numeric test.
var Off = math.NaN()

// Config holds mask update configuration
type Config struct {
	SampleTypes []core.SampleType // Keep only these sample types (nil = all)
	AssayRoles  []core.AssayRole  // Keep only these assay roles (nil = all)

	QuantificationTypes []core.QuantificationType // Targeted: keep only these (nil = all)
	CalibrationMethods  []core.CalibrationMethod  // Targeted: keep only these (nil = all)

	RSDThreshold   float64 // Maximum study-pool RSD in percent (Off = no test)
	CorrThreshold  float64 // Minimum correlation to dilution (Off = no test)
	CorrMethod     qcmetrics.CorrMethod
	VarianceRatio  float64 // Minimum std(study) / std(pool) (Off = no test)
	BlankThreshold float64 // Minimum study mean over blank 95th percentile (Off = no test)

	ArtifactualFilter bool
	Linkage           qcmetrics.LinkageParams
	Linker            *qcmetrics.Linker // Created on demand when nil

	ExclusionRegions []config.Region // Spectral: ppm ranges to mask off
}

// DefaultConfig builds a configuration from an SOP.
func DefaultConfig(sop config.SOP) (Config, error) {
	c := Config{
		RSDThreshold:      sop.RSDThreshold,
		CorrThreshold:     sop.CorrThreshold,
		VarianceRatio:     sop.VarianceRatio,
		BlankThreshold:    sop.BlankThreshold,
		ArtifactualFilter: sop.ArtifactualFilter,
		Linkage: qcmetrics.LinkageParams{
			DeltaMz: sop.DeltaMzArtifactual,
			Overlap: sop.OverlapThresholdArtifactual,
			Corr:    sop.CorrThresholdArtifactual,
		},
		ExclusionRegions: sop.ExclusionRegions,
	}
	var err error
	if c.CorrMethod, err = qcmetrics.ParseCorrMethod(sop.CorrMethod); err != nil {
		return c, err
	}
	if c.SampleTypes, err = core.ParseSampleTypes(sop.SampleTypes); err != nil {
		return c, err
	}
	if c.AssayRoles, err = core.ParseAssayRoles(sop.AssayRoles); err != nil {
		return c, err
	}
	for _, s := range sop.QuantificationTypes {
		q, err := core.ParseQuantificationType(s)
		if err != nil {
			return c, err
		}
		c.QuantificationTypes = append(c.QuantificationTypes, q)
	}
	for _, s := range sop.CalibrationMethods {
		m, err := core.ParseCalibrationMethod(s)
		if err != nil {
			return c, err
		}
		c.CalibrationMethods = append(c.CalibrationMethods, m)
	}
	return c, nil
}

// Check validates the thresholds.
func (c *Config) Check() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{core.ErrThresholdOutOfRange}, args...)...))
	}
	if on(c.RSDThreshold) && c.RSDThreshold < 0 {
		bad("RSD threshold %v is negative", c.RSDThreshold)
	}
	if on(c.CorrThreshold) && (c.CorrThreshold < -1 || c.CorrThreshold > 1) {
		bad("correlation threshold %v outside [-1, 1]", c.CorrThreshold)
	}
	if on(c.VarianceRatio) && c.VarianceRatio < 0 {
		bad("variance ratio %v is negative", c.VarianceRatio)
	}
	if on(c.BlankThreshold) && c.BlankThreshold < 0 {
		bad("blank threshold %v is negative", c.BlankThreshold)
	}
	if c.ArtifactualFilter {
		if c.Linkage.Corr < -1 || c.Linkage.Corr > 1 {
			bad("artefactual correlation threshold %v outside [-1, 1]", c.Linkage.Corr)
		}
		if c.Linkage.Overlap < 0 || c.Linkage.Overlap > 100 {
			bad("overlap threshold %v outside [0, 100]", c.Linkage.Overlap)
		}
		if c.Linkage.DeltaMz < 0 {
			bad("m/z tolerance %v is negative", c.Linkage.DeltaMz)
		}
	}
	for _, r := range c.ExclusionRegions {
		if r.Low > r.High {
			bad("exclusion region [%v, %v] is reversed", r.Low, r.High)
		}
	}
	return errors.Join(errs...)
}

// Apply narrows the dataset masks. Masks only shrink: a sample or feature
// already masked stays masked. On error both masks are left untouched.
func (c *Config) Apply(d *core.Dataset) error {
	if err := c.Check(); err != nil {
		return err
	}
	if err := core.RequireDataset(d); err != nil {
		return err
	}

	samples, err := c.sampleMask(d)
	if err != nil {
		return err
	}

	// Feature statistics use the incoming sample mask, so reference
	// samples dropped by the type and role selection still count.
	var warn core.Warnings
	var features []bool
	switch {
	case d.VariableType == core.Spectral:
		features, err = c.filterByRegion(d)
	case d.FeatureMetadata.Has(core.ColQuantificationType):
		features, err = c.filterByQuantification(d)
	default:
		features, err = c.filterByQC(d, &warn)
	}
	if err != nil {
		return err
	}

	d.SampleMask = samples
	d.FeatureMask = features
	warn.Flush(d.Log("filter"))
	d.AppendLog("Masks updated: %d of %d samples and %d of %d features retained",
		count(samples), len(samples), count(features), len(features))
	return nil
}

// sampleMask keeps samples whose type and role are both selected.
func (c *Config) sampleMask(d *core.Dataset) ([]bool, error) {
	mask := slices.Clone(d.SampleMask)
	if len(c.SampleTypes) > 0 {
		types, err := d.SampleTypes()
		if err != nil {
			return nil, err
		}
		for i, t := range types {
			mask[i] = mask[i] && slices.Contains(c.SampleTypes, t)
		}
	}
	if len(c.AssayRoles) > 0 {
		roles, err := d.AssayRoles()
		if err != nil {
			return nil, err
		}
		for i, r := range roles {
			mask[i] = mask[i] && slices.Contains(c.AssayRoles, r)
		}
	}
	return mask, nil
}

// filterByRegion masks features whose chemical shift lies in an exclusion
// region.
func (c *Config) filterByRegion(d *core.Dataset) ([]bool, error) {
	mask := slices.Clone(d.FeatureMask)
	if len(c.ExclusionRegions) == 0 {
		return mask, nil
	}
	ppm, err := d.FeatureMetadata.Float(core.ColPPM)
	if err != nil {
		return nil, err
	}
	for j, p := range ppm {
		for _, r := range c.ExclusionRegions {
			if r.Contains(p) {
				mask[j] = false
				break
			}
		}
	}
	return mask, nil
}

// filterByQuantification keeps targeted features of the selected
// quantification types and calibration methods.
func (c *Config) filterByQuantification(d *core.Dataset) ([]bool, error) {
	mask := slices.Clone(d.FeatureMask)
	if len(c.QuantificationTypes) > 0 {
		qt, err := d.QuantificationTypes()
		if err != nil {
			return nil, err
		}
		for j, q := range qt {
			mask[j] = mask[j] && slices.Contains(c.QuantificationTypes, q)
		}
	}
	if len(c.CalibrationMethods) > 0 {
		cm, err := d.CalibrationMethods()
		if err != nil {
			return nil, err
		}
		for j, m := range cm {
			mask[j] = mask[j] && slices.Contains(c.CalibrationMethods, m)
		}
	}
	return mask, nil
}

// filterByQC applies the RSD, linearity, blank and artefactual tests. A
// statistic without enough reference samples is skipped with a warning.
func (c *Config) filterByQC(d *core.Dataset, warn *core.Warnings) ([]bool, error) {
	mask := slices.Clone(d.FeatureMask)
	skip := func(test string, err error) error {
		if errors.Is(err, core.ErrInsufficientReferences) {
			warn.Add("%s test skipped: %v", test, err)
			return nil
		}
		return err
	}

	if on(c.RSDThreshold) {
		rsd, err := qcmetrics.RSDStudyPool(d)
		if err != nil {
			if err := skip("RSD", err); err != nil {
				return nil, err
			}
		} else {
			for j, v := range rsd {
				mask[j] = mask[j] && v <= c.RSDThreshold
			}
		}
	}

	if on(c.CorrThreshold) {
		corr, err := qcmetrics.CorrelationToDilution(d, c.CorrMethod)
		if err != nil {
			if err := skip("correlation to dilution", err); err != nil {
				return nil, err
			}
		} else {
			for j, v := range corr {
				mask[j] = mask[j] && v >= c.CorrThreshold
			}
		}
	}

	if on(c.VarianceRatio) {
		ratio, err := qcmetrics.VarianceRatio(d)
		if err != nil {
			if err := skip("variance ratio", err); err != nil {
				return nil, err
			}
		} else {
			for j, v := range ratio {
				mask[j] = mask[j] && v >= c.VarianceRatio
			}
		}
	}

	if on(c.BlankThreshold) {
		pass, err := qcmetrics.BlankFilter(d, c.BlankThreshold, warn)
		if err != nil {
			return nil, err
		}
		for j, ok := range pass {
			mask[j] = mask[j] && ok
		}
	}

	if c.ArtifactualFilter {
		if c.Linker == nil {
			l, err := qcmetrics.NewLinker(qcmetrics.DefaultLinkageCacheSize)
			if err != nil {
				return nil, err
			}
			c.Linker = l
		}
		pass, _, err := c.Linker.ArtifactualFilter(d, c.Linkage)
		if err != nil {
			return nil, err
		}
		for j, ok := range pass {
			mask[j] = mask[j] && ok
		}
	}
	return mask, nil
}

func on(v float64) bool { return !math.IsNaN(v) }

func count(mask []bool) int {
	n := 0
	for _, ok := range mask {
		if ok {
			n++
		}
	}
	return n
}
