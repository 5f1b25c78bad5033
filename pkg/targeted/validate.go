package targeted

import (
	"slices"

	"github.com/ChrisMcGann/QCKit/pkg/core"
)

// Validate checks d and reports the verdict according to opts. The Basic
// level additionally covers the targeted containers: expected
// concentrations, limits of quantification, feature enums and calibration.
func Validate(d *Dataset, opts core.ValidateOptions) (core.Verdict, error) {
	v := Check(d)
	return v, v.Emit(d.Log("validate"), opts)
}

// Check returns the settled targeted verdict.
func Check(d *Dataset) (v core.Verdict) {
	v = core.Check(d.Dataset)
	defer v.Settle()
	if !v.Dataset {
		return v
	}

	n, m := d.Intensity.Dims()
	if d.ExpectedConcentration == nil {
		v.Fail(core.LevelDataset, core.ErrShapeMismatch, "expected concentrations are missing")
	} else if r, c := d.ExpectedConcentration.Dims(); r != n || c != m {
		v.Fail(core.LevelDataset, core.ErrShapeMismatch, "expected concentrations are %d×%d, intensity data %d×%d", r, c, n, m)
	}

	if d.Attributes.MethodName == "" {
		v.Fail(core.LevelBasic, nil, "method name is not set")
	}
	fm := d.FeatureMetadata
	for _, c := range []string{core.ColUnit, core.ColQuantificationType, core.ColCalibrationMethod} {
		if !fm.Has(c) {
			v.Fail(core.LevelBasic, core.ErrMissingColumn, "column %q is missing", c)
		}
	}
	for _, c := range []string{core.ColLLOQ, core.ColULOQ} {
		if !fm.Has(c) && !hasBatchColumn(fm, c) {
			v.Fail(core.LevelBasic, core.ErrMissingColumn, "column %q is missing", c)
		}
	}
	if fm.Has(core.ColQuantificationType) {
		if _, err := d.QuantificationTypes(); err != nil {
			v.Fail(core.LevelBasic, core.ErrBadEnumValue, "%v", err)
		}
	}
	if fm.Has(core.ColCalibrationMethod) {
		if _, err := d.CalibrationMethods(); err != nil {
			v.Fail(core.LevelBasic, core.ErrBadEnumValue, "%v", err)
		}
	}
	checkCalibration(&v, d)
	return v
}

func hasBatchColumn(t *core.Table, base string) bool {
	return slices.ContainsFunc(t.Columns(), func(name string) bool {
		b, _, ok := batchColumn(name)
		return ok && b == base
	})
}

func checkCalibration(v *core.Verdict, d *Dataset) {
	if len(d.Calibration) == 0 {
		v.Fail(core.LevelBasic, nil, "calibration is missing")
		return
	}
	for k, c := range d.Calibration {
		if c.SampleMetadata == nil || c.FeatureMetadata == nil || c.Intensity == nil {
			v.Fail(core.LevelBasic, core.ErrShapeMismatch, "calibration %d is incomplete", k)
			continue
		}
		n, m := c.SampleMetadata.NumRows(), c.FeatureMetadata.NumRows()
		shaped := map[string]*core.Matrix{"intensity data": c.Intensity, "expected concentrations": c.ExpectedConcentration}
		for name, x := range c.PeakInfo {
			shaped["peak "+name] = x
		}
		for name, x := range shaped {
			if x == nil {
				continue
			}
			if r, cols := x.Dims(); r != n || cols != m {
				v.Fail(core.LevelBasic, core.ErrShapeMismatch, "calibration %d %s are %d×%d, expected %d×%d", k, name, r, cols, n, m)
			}
		}
	}
	if d.Merged() {
		return
	}
	names, _ := d.FeatureNames()
	calNames, err := d.Calibration[0].FeatureMetadata.String(core.ColFeatureName)
	if err != nil {
		v.Fail(core.LevelBasic, core.ErrMissingColumn, "calibration: %v", err)
		return
	}
	if !slices.Equal(names, calNames) {
		v.Fail(core.LevelBasic, nil, "calibration features differ from dataset features")
	}
}
