// Package targeted extends the core dataset with the state of targeted
// assays: expected concentrations, calibration samples and limits of
// quantification. It implements LOQ censoring and the merge of datasets
// acquired in separate batches.
package targeted

import (
	"fmt"
	"math"

	"github.com/ChrisMcGann/QCKit/pkg/core"
)

// Calibration report columns carried in feature metadata.
const (
	ColCompound            = "Compound"
	ColTargetLynxID        = "TargetLynx ID"
	ColNoiseArea           = "Noise (area)"
	ColA                   = "a"
	ColB                   = "b"
	ColC                   = "c"
	ColCalibrationEquation = "calibrationEquation"
)

// Peak information keys.
const (
	PeakResponse = "Response"
	PeakArea     = "Area"
)

// ExpectedConcentration is the name under which expected concentrations are
// recorded in exclusions.
const ExpectedConcentration = "Expected Concentration"

// Calibration holds the calibration samples of one batch. Its feature order
// equals the dataset's while the dataset has a single calibration; after a
// merge each calibration keeps its own feature set.
type Calibration struct {
	Batch                 float64
	Intensity             *core.Matrix
	SampleMetadata        *core.Table
	FeatureMetadata       *core.Table
	ExpectedConcentration *core.Matrix
	// PeakInfo holds per-peak matrices such as PeakResponse and PeakArea,
	// shaped like Intensity.
	PeakInfo map[string]*core.Matrix
}

// Copy returns a deep copy.
func (c Calibration) Copy() Calibration {
	out := Calibration{
		Batch:                 c.Batch,
		Intensity:             c.Intensity.Copy(),
		SampleMetadata:        c.SampleMetadata.Copy(),
		FeatureMetadata:       c.FeatureMetadata.Copy(),
		ExpectedConcentration: c.ExpectedConcentration.Copy(),
	}
	if c.PeakInfo != nil {
		out.PeakInfo = make(map[string]*core.Matrix, len(c.PeakInfo))
		for k, m := range c.PeakInfo {
			out.PeakInfo[k] = m.Copy()
		}
	}
	return out
}

// selectFeatures projects the calibration onto idx; -1 gives an empty
// feature.
func (c *Calibration) selectFeatures(idx []int) {
	c.FeatureMetadata = c.FeatureMetadata.SelectRows(idx)
	if c.Intensity != nil {
		c.Intensity = c.Intensity.SelectCols(idx)
	}
	if c.ExpectedConcentration != nil {
		c.ExpectedConcentration = c.ExpectedConcentration.SelectCols(idx)
	}
	for k, m := range c.PeakInfo {
		c.PeakInfo[k] = m.SelectCols(idx)
	}
}

// Dataset is a targeted dataset.
type Dataset struct {
	*core.Dataset
	// ExpectedConcentration is N×M and aligned with the intensity data.
	ExpectedConcentration *core.Matrix
	// Calibration has one element for a single-batch dataset and one per
	// batch after merging.
	Calibration []Calibration
}

// New wraps d. A nil expected is replaced by an all-NaN matrix.
func New(d *core.Dataset, expected *core.Matrix, calibration ...Calibration) (*Dataset, error) {
	if err := d.CheckShape(); err != nil {
		return nil, err
	}
	n, m := d.Intensity.Dims()
	if expected == nil {
		expected = core.NewMatrixFilled(n, m, math.NaN())
	}
	if r, c := expected.Dims(); r != n || c != m {
		return nil, fmt.Errorf("%w: expected concentrations are %d×%d, intensity data %d×%d", core.ErrShapeMismatch, r, c, n, m)
	}
	return &Dataset{Dataset: d, ExpectedConcentration: expected, Calibration: calibration}, nil
}

// Merged reports whether the dataset holds more than one calibration.
func (d *Dataset) Merged() bool { return len(d.Calibration) > 1 }

// Copy returns a deep copy with a fresh identity.
func (d *Dataset) Copy() *Dataset {
	out := &Dataset{
		Dataset:               d.Dataset.Copy(),
		ExpectedConcentration: d.ExpectedConcentration.Copy(),
	}
	for _, c := range d.Calibration {
		out.Calibration = append(out.Calibration, c.Copy())
	}
	return out
}

// ApplyMasks removes masked samples and features from the intensity data and
// expected concentrations. A single-batch calibration loses the removed
// features too.
func (d *Dataset) ApplyMasks() error {
	out, err := d.Dataset.ApplyMasksWith(map[string]*core.Matrix{ExpectedConcentration: d.ExpectedConcentration})
	if err != nil {
		return err
	}
	d.ExpectedConcentration = out[ExpectedConcentration]
	return d.pruneCalibration()
}

// removeFeatures drops the flagged features from every aligned container.
func (d *Dataset) removeFeatures(remove []bool) error {
	out, err := d.Dataset.RemoveFeatures(remove, map[string]*core.Matrix{ExpectedConcentration: d.ExpectedConcentration})
	if err != nil {
		return err
	}
	d.ExpectedConcentration = out[ExpectedConcentration]
	return d.pruneCalibration()
}

// pruneCalibration restricts a single-batch calibration to the dataset's
// features, in the dataset's order.
func (d *Dataset) pruneCalibration() error {
	if len(d.Calibration) != 1 {
		return nil
	}
	names, err := d.FeatureNames()
	if err != nil {
		return err
	}
	cal := &d.Calibration[0]
	calNames, err := cal.FeatureMetadata.String(core.ColFeatureName)
	if err != nil {
		return fmt.Errorf("calibration: %w", err)
	}
	pos := make(map[string]int, len(calNames))
	for j, n := range calNames {
		pos[n] = j
	}
	idx := make([]int, len(names))
	for j, n := range names {
		k, ok := pos[n]
		if !ok {
			return fmt.Errorf("%w: feature %q has no calibration", core.ErrShapeMismatch, n)
		}
		idx[j] = k
	}
	cal.selectFeatures(idx)
	return nil
}
