package core

import (
	"fmt"
	"io"
	"log/slog"
	"math"
)

// Level is a validation tier. Each level implies the ones before it.
type Level int

// Validation levels
const (
	LevelDataset Level = iota
	LevelBasic
	LevelQC
	LevelSampleMetadata
)

var levelNames = []string{"Dataset", "BasicDataset", "QC", "sampleMetadata"}

func (l Level) String() string { return enumName(levelNames, int(l)) }

// Failure is one failed check.
type Failure struct {
	Level   Level
	Kind    error
	Message string
}

// Verdict is the outcome of validating a dataset.
type Verdict struct {
	Dataset        bool
	Basic          bool
	QC             bool
	SampleMetadata bool
	Failures       []Failure
}

// Fail records a failed check at the given level.
func (v *Verdict) Fail(level Level, kind error, format string, args ...any) {
	v.Failures = append(v.Failures, Failure{Level: level, Kind: kind, Message: fmt.Sprintf(format, args...)})
}

// Settle recomputes the level flags from the recorded failures.
func (v *Verdict) Settle() {
	failed := [4]bool{}
	for _, f := range v.Failures {
		failed[f.Level] = true
	}
	v.Dataset = !failed[LevelDataset]
	v.Basic = v.Dataset && !failed[LevelBasic]
	v.QC = v.Basic && !failed[LevelQC]
	v.SampleMetadata = v.QC && !failed[LevelSampleMetadata]
}

// Passes reports whether the verdict reaches level.
func (v Verdict) Passes(level Level) bool {
	switch level {
	case LevelDataset:
		return v.Dataset
	case LevelBasic:
		return v.Basic
	case LevelQC:
		return v.QC
	default:
		return v.SampleMetadata
	}
}

// ValidateOptions control how a verdict is reported.
type ValidateOptions struct {
	// Require is the level the caller needs. With RaiseError set, a verdict
	// below it is returned as a *ValidationError.
	Require      Level
	RaiseError   bool
	RaiseWarning bool
	// Verbose, when set, receives a line per level and per failure.
	Verbose io.Writer
}

// Emit reports a settled verdict according to opts.
func (v Verdict) Emit(logger *slog.Logger, opts ValidateOptions) error {
	if opts.Verbose != nil {
		for l := LevelDataset; l <= LevelSampleMetadata; l++ {
			fmt.Fprintf(opts.Verbose, "%-16s %v\n", l.String()+":", v.Passes(l))
		}
		for _, f := range v.Failures {
			fmt.Fprintf(opts.Verbose, "  [%s] %s\n", f.Level, f.Message)
		}
	}
	if opts.RaiseWarning {
		if logger == nil {
			logger = slog.Default()
		}
		for _, f := range v.Failures {
			logger.Warn("validation check failed", slog.String("level", f.Level.String()), slog.String("check", f.Message))
		}
	}
	if opts.RaiseError && !v.Passes(opts.Require) {
		var msgs []string
		var kinds []error
		for _, f := range v.Failures {
			if f.Level > opts.Require {
				continue
			}
			msgs = append(msgs, f.Message)
			if f.Kind != nil {
				kinds = append(kinds, f.Kind)
			}
		}
		return newValidationError(opts.Require.String(), msgs, kinds)
	}
	return nil
}

// Validate checks d and reports the verdict according to opts.
func Validate(d *Dataset, opts ValidateOptions) (Verdict, error) {
	v := Check(d)
	return v, v.Emit(d.Log("validate"), opts)
}

// RequireDataset returns a *ValidationError when d fails a Dataset-level
// check: mismatched shapes, repeated names or an invalid Run Order.
func RequireDataset(d *Dataset) error {
	v := Check(d)
	return v.Emit(nil, ValidateOptions{Require: LevelDataset, RaiseError: true})
}

// Check runs every dataset check and returns the settled verdict without
// reporting it.
func Check(d *Dataset) (v Verdict) {
	defer v.Settle()

	if err := d.CheckShape(); err != nil {
		// Remaining checks index into the containers.
		v.Fail(LevelDataset, ErrShapeMismatch, "%v", err)
		return v
	}
	checkUnique(&v, d.FeatureMetadata, ColFeatureName, LevelDataset)
	checkUnique(&v, d.SampleMetadata, ColSampleFileName, LevelDataset)
	checkRunOrder(&v, d)

	for _, c := range []string{ColSampleType, ColAssayRole} {
		requireColumn(&v, d.SampleMetadata, c, LevelBasic)
	}
	if d.SampleMetadata.Has(ColSampleType) {
		if _, err := d.SampleTypes(); err != nil {
			v.Fail(LevelBasic, ErrBadEnumValue, "%v", err)
		}
	}
	if d.SampleMetadata.Has(ColAssayRole) {
		if _, err := d.AssayRoles(); err != nil {
			v.Fail(LevelBasic, ErrBadEnumValue, "%v", err)
		}
	}
	if err := d.Attributes.SOP.Check(); err != nil {
		v.Fail(LevelBasic, ErrThresholdOutOfRange, "attributes: %v", err)
	}
	switch {
	case d.FeatureMetadata.Has(ColQuantificationType):
		// Targeted features are identified by name, not by m/z or ppm.
	case d.Platform == MS && d.VariableType == Discrete:
		requireColumn(&v, d.FeatureMetadata, ColMZ, LevelBasic)
		requireColumn(&v, d.FeatureMetadata, ColRetentionTime, LevelBasic)
	case d.Platform == NMR && d.VariableType == Spectral:
		requireColumn(&v, d.FeatureMetadata, ColPPM, LevelBasic)
	}

	for _, c := range []string{ColRunOrder, ColAcquiredTime, ColCorrectionBatch, ColDilution} {
		requireColumn(&v, d.SampleMetadata, c, LevelQC)
	}
	if d.SampleMetadata.Has(ColSampleType) && d.SampleMetadata.Has(ColAssayRole) {
		if idx, err := d.SelectSamples(StudyPool, PrecisionReference, false); err == nil && len(idx) < 2 {
			v.Fail(LevelQC, ErrInsufficientReferences, "%d study-pool precision references, need at least 2", len(idx))
		}
	}

	for _, c := range []string{ColSampleBaseName, ColBatch, ColExclusionDetails} {
		requireColumn(&v, d.SampleMetadata, c, LevelSampleMetadata)
	}
	if d.SampleMetadata.Has(ColAcquiredTime) {
		if ts, err := d.SampleMetadata.Time(ColAcquiredTime); err != nil {
			v.Fail(LevelSampleMetadata, nil, "%v", err)
		} else {
			for i, t := range ts {
				if t.IsZero() {
					v.Fail(LevelSampleMetadata, nil, "sample %d has no acquisition time", i)
					break
				}
			}
		}
	}
	return v
}

func requireColumn(v *Verdict, t *Table, name string, level Level) bool {
	if t.Has(name) {
		return true
	}
	v.Fail(level, ErrMissingColumn, "column %q is missing", name)
	return false
}

func checkUnique(v *Verdict, t *Table, name string, level Level) {
	if !requireColumn(v, t, name, level) {
		return
	}
	vals, _ := t.String(name)
	seen := make(map[string]int, len(vals))
	for i, s := range vals {
		if first, ok := seen[s]; ok {
			v.Fail(level, ErrDuplicateValue, "%s %q repeated in rows %d and %d", name, s, first, i)
			return
		}
		seen[s] = i
	}
}

// checkRunOrder requires distinct non-negative integers. Contiguity is not
// required since masking removes rows.
func checkRunOrder(v *Verdict, d *Dataset) {
	if !d.SampleMetadata.Has(ColRunOrder) {
		return
	}
	ro, err := d.SampleMetadata.Float(ColRunOrder)
	if err != nil {
		v.Fail(LevelDataset, nil, "%v", err)
		return
	}
	seen := make(map[float64]int, len(ro))
	for i, x := range ro {
		if math.IsNaN(x) || math.IsInf(x, 0) || x < 0 || x != math.Trunc(x) {
			v.Fail(LevelDataset, nil, "%s of sample %d is %v, expected a non-negative integer", ColRunOrder, i, x)
			return
		}
		if first, ok := seen[x]; ok {
			v.Fail(LevelDataset, ErrDuplicateValue, "%s %v repeated in rows %d and %d", ColRunOrder, x, first, i)
			return
		}
		seen[x] = i
	}
}
