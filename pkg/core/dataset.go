package core

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/ChrisMcGann/QCKit/pkg/config"
)

// Exclusion flags recorded by ApplyMasks and feature removal.
const (
	ExcludedSamples  = "Samples"
	ExcludedFeatures = "Features"
)

// LogEntry is one line of a dataset's processing history.
type LogEntry struct {
	Time    time.Time
	Message string
}

// Attributes holds per-dataset configuration and history.
type Attributes struct {
	MethodName string
	SOP        config.SOP
	Log        []LogEntry
}

// Exclusion records rows or columns removed from a dataset. Flag says which
// axis was cut; Extra holds slices of additional sample × feature
// containers (e.g. expected concentrations) under their own names.
type Exclusion struct {
	Flag            string
	SampleMetadata  *Table
	FeatureMetadata *Table
	Intensity       *Matrix
	Extra           map[string]*Matrix
}

// Dataset is the samples × features triple with masks. Masks are additive
// filters: a false entry excludes the row or column from analyses while it
// stays physically present until ApplyMasks.
type Dataset struct {
	ID              uuid.UUID
	Name            string
	Intensity       *Matrix
	SampleMetadata  *Table
	FeatureMetadata *Table
	SampleMask      []bool
	FeatureMask     []bool
	// Fit holds the run-order baseline after batch correction, nil before.
	Fit          *Matrix
	Attributes   Attributes
	VariableType VariableType
	Platform     AnalyticalPlatform
	Excluded     []Exclusion
	Logger       *slog.Logger

	featureGeneration uint64
}

// NewDataset assembles a dataset and checks that the parallel containers
// agree in shape. Masks start all-true.
func NewDataset(name string, intensity *Matrix, samples, features *Table,
	platform AnalyticalPlatform, vt VariableType, sop config.SOP) (*Dataset, error) {

	d := &Dataset{
		ID:              uuid.New(),
		Name:            name,
		Intensity:       intensity,
		SampleMetadata:  samples,
		FeatureMetadata: features,
		Attributes:      Attributes{SOP: sop},
		VariableType:    vt,
		Platform:        platform,
	}
	if err := d.CheckShape(); err != nil {
		return nil, err
	}
	d.InitialiseMasks()
	d.AppendLog("Dataset %s created with %d samples and %d features", name, d.NumSamples(), d.NumFeatures())
	return d, nil
}

// NumSamples returns N.
func (d *Dataset) NumSamples() int { return d.SampleMetadata.NumRows() }

// NumFeatures returns M.
func (d *Dataset) NumFeatures() int { return d.FeatureMetadata.NumRows() }

// FeatureGeneration changes whenever the feature axis changes, so caches
// keyed on feature indices can tell they are stale.
func (d *Dataset) FeatureGeneration() uint64 { return d.featureGeneration }

// Log returns the dataset's logger, tagged with the component name.
func (d *Dataset) Log(component string) *slog.Logger {
	l := d.Logger
	if l == nil {
		l = slog.Default()
	}
	return l.With(slog.String("component", component), slog.String("dataset", d.Name))
}

// AppendLog adds an entry to the processing history.
func (d *Dataset) AppendLog(format string, args ...any) {
	d.Attributes.Log = append(d.Attributes.Log, LogEntry{
		Time:    time.Now(),
		Message: fmt.Sprintf(format, args...),
	})
}

// CheckShape verifies the N and M invariants across every container.
func (d *Dataset) CheckShape() error {
	if d.Intensity == nil || d.SampleMetadata == nil || d.FeatureMetadata == nil {
		return fmt.Errorf("%w: dataset is missing intensity data or metadata", ErrShapeMismatch)
	}
	r, c := d.Intensity.Dims()
	if r != d.SampleMetadata.NumRows() {
		return fmt.Errorf("%w: intensity data has %d rows, sample metadata %d", ErrShapeMismatch, r, d.SampleMetadata.NumRows())
	}
	if c != d.FeatureMetadata.NumRows() {
		return fmt.Errorf("%w: intensity data has %d columns, feature metadata %d", ErrShapeMismatch, c, d.FeatureMetadata.NumRows())
	}
	if d.SampleMask != nil && len(d.SampleMask) != r {
		return fmt.Errorf("%w: sample mask has length %d, expected %d", ErrShapeMismatch, len(d.SampleMask), r)
	}
	if d.FeatureMask != nil && len(d.FeatureMask) != c {
		return fmt.Errorf("%w: feature mask has length %d, expected %d", ErrShapeMismatch, len(d.FeatureMask), c)
	}
	if d.Fit != nil {
		if fr, fc := d.Fit.Dims(); fr != r || fc != c {
			return fmt.Errorf("%w: fit is %d×%d, intensity data %d×%d", ErrShapeMismatch, fr, fc, r, c)
		}
	}
	return nil
}

// InitialiseMasks resets both masks to all-true. This is the only way to
// widen a mask.
func (d *Dataset) InitialiseMasks() {
	d.SampleMask = make([]bool, d.NumSamples())
	for i := range d.SampleMask {
		d.SampleMask[i] = true
	}
	d.FeatureMask = make([]bool, d.NumFeatures())
	for j := range d.FeatureMask {
		d.FeatureMask[j] = true
	}
}

// Copy returns a deep copy with a fresh identity.
func (d *Dataset) Copy() *Dataset {
	out := &Dataset{
		ID:              uuid.New(),
		Name:            d.Name,
		Intensity:       d.Intensity.Copy(),
		SampleMetadata:  d.SampleMetadata.Copy(),
		FeatureMetadata: d.FeatureMetadata.Copy(),
		SampleMask:      slices.Clone(d.SampleMask),
		FeatureMask:     slices.Clone(d.FeatureMask),
		Fit:             d.Fit.Copy(),
		Attributes: Attributes{
			MethodName: d.Attributes.MethodName,
			SOP:        d.Attributes.SOP,
			Log:        slices.Clone(d.Attributes.Log),
		},
		VariableType: d.VariableType,
		Platform:     d.Platform,
		Logger:       d.Logger,
	}
	for _, e := range d.Excluded {
		out.Excluded = append(out.Excluded, e.Copy())
	}
	return out
}

// Copy returns a deep copy.
func (e Exclusion) Copy() Exclusion {
	out := Exclusion{
		Flag:            e.Flag,
		SampleMetadata:  e.SampleMetadata.Copy(),
		FeatureMetadata: e.FeatureMetadata.Copy(),
		Intensity:       e.Intensity.Copy(),
	}
	if e.Extra != nil {
		out.Extra = make(map[string]*Matrix, len(e.Extra))
		for k, m := range e.Extra {
			out.Extra[k] = m.Copy()
		}
	}
	return out
}

// FeatureNames returns the Feature Name column.
func (d *Dataset) FeatureNames() ([]string, error) {
	return d.FeatureMetadata.String(ColFeatureName)
}

// SampleTypes parses the SampleType column.
func (d *Dataset) SampleTypes() ([]SampleType, error) {
	raw, err := d.SampleMetadata.String(ColSampleType)
	if err != nil {
		return nil, err
	}
	out := make([]SampleType, len(raw))
	for i, s := range raw {
		if out[i], err = ParseSampleType(s); err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
	}
	return out, nil
}

// AssayRoles parses the AssayRole column.
func (d *Dataset) AssayRoles() ([]AssayRole, error) {
	raw, err := d.SampleMetadata.String(ColAssayRole)
	if err != nil {
		return nil, err
	}
	out := make([]AssayRole, len(raw))
	for i, s := range raw {
		if out[i], err = ParseAssayRole(s); err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
	}
	return out, nil
}

// QuantificationTypes parses the quantificationType feature column.
func (d *Dataset) QuantificationTypes() ([]QuantificationType, error) {
	raw, err := d.FeatureMetadata.String(ColQuantificationType)
	if err != nil {
		return nil, err
	}
	out := make([]QuantificationType, len(raw))
	for j, s := range raw {
		if out[j], err = ParseQuantificationType(s); err != nil {
			return nil, fmt.Errorf("feature %d: %w", j, err)
		}
	}
	return out, nil
}

// CalibrationMethods parses the calibrationMethod feature column.
func (d *Dataset) CalibrationMethods() ([]CalibrationMethod, error) {
	raw, err := d.FeatureMetadata.String(ColCalibrationMethod)
	if err != nil {
		return nil, err
	}
	out := make([]CalibrationMethod, len(raw))
	for j, s := range raw {
		if out[j], err = ParseCalibrationMethod(s); err != nil {
			return nil, fmt.Errorf("feature %d: %w", j, err)
		}
	}
	return out, nil
}

// SelectSamples returns the row indices whose SampleType is st and whose
// AssayRole is ar. When masked is true, rows excluded by the sample mask
// are skipped.
func (d *Dataset) SelectSamples(st SampleType, ar AssayRole, masked bool) ([]int, error) {
	types, err := d.SampleTypes()
	if err != nil {
		return nil, err
	}
	roles, err := d.AssayRoles()
	if err != nil {
		return nil, err
	}
	var idx []int
	for i := range types {
		if types[i] != st || roles[i] != ar {
			continue
		}
		if masked && !d.SampleMask[i] {
			continue
		}
		idx = append(idx, i)
	}
	return idx, nil
}
