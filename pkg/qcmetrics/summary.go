package qcmetrics

import (
	"errors"
	"math"

	"github.com/ChrisMcGann/QCKit/pkg/config"
	"github.com/ChrisMcGann/QCKit/pkg/core"
)

// Summary holds every per-feature QC statistic of a dataset. Statistics
// that could not be computed are NaN and explained in Warnings.
type Summary struct {
	FeatureNames          []string
	RSDStudyPool          []float64
	RSDStudySample        []float64
	CorrelationToDilution []float64
	VarianceRatio         []float64
	BlankLevel            []float64
	BlankPass             []bool
	// ArtifactualPass is nil unless the dataset carries m/z, retention
	// time and peak width.
	ArtifactualPass []bool
	Warnings        []string
}

// Summarise computes the QC summary of d with the thresholds of sop. linker
// may be nil, in which case artefactual linkage is not run.
func Summarise(d *core.Dataset, sop config.SOP, linker *Linker) (*Summary, error) {
	if err := d.CheckShape(); err != nil {
		return nil, err
	}
	names, err := d.FeatureNames()
	if err != nil {
		return nil, err
	}
	method, err := ParseCorrMethod(sop.CorrMethod)
	if err != nil {
		return nil, err
	}
	m := len(names)
	s := &Summary{FeatureNames: names}
	var warn core.Warnings

	optional := func(name string, metric func(*core.Dataset) ([]float64, error)) ([]float64, error) {
		v, err := metric(d)
		if err == nil {
			return v, nil
		}
		if errors.Is(err, core.ErrInsufficientReferences) {
			warn.Add("%s not computed: %v", name, err)
			return nanVector(m), nil
		}
		return nil, err
	}

	if s.RSDStudyPool, err = optional("RSD of study-pool references", RSDStudyPool); err != nil {
		return nil, err
	}
	if s.RSDStudySample, err = optional("RSD of study samples", RSDStudySample); err != nil {
		return nil, err
	}
	if d.SampleMetadata.Has(core.ColDilution) {
		corr := func(d *core.Dataset) ([]float64, error) { return CorrelationToDilution(d, method) }
		if s.CorrelationToDilution, err = optional("correlation to dilution", corr); err != nil {
			return nil, err
		}
	} else {
		warn.Add("correlation to dilution not computed: no %q column", core.ColDilution)
		s.CorrelationToDilution = nanVector(m)
	}
	if s.VarianceRatio, err = optional("variance ratio", VarianceRatio); err != nil {
		return nil, err
	}
	if s.BlankLevel, _, err = BlankLevel(d); err != nil {
		return nil, err
	}
	if s.BlankPass, err = BlankFilter(d, sop.BlankThreshold, &warn); err != nil {
		return nil, err
	}

	if linker != nil && hasColumns(d.FeatureMetadata, core.ColMZ, core.ColRetentionTime, core.ColPeakWidth) {
		s.ArtifactualPass, _, err = linker.ArtifactualFilter(d, LinkageParams{
			DeltaMz: sop.DeltaMzArtifactual,
			Overlap: sop.OverlapThresholdArtifactual,
			Corr:    sop.CorrThresholdArtifactual,
		})
		if err != nil {
			return nil, err
		}
	}

	s.Warnings = warn.Messages()
	warn.Flush(d.Log("qcmetrics"))
	return s, nil
}

func hasColumns(t *core.Table, names ...string) bool {
	for _, n := range names {
		if !t.Has(n) {
			return false
		}
	}
	return true
}

func nanVector(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = math.NaN()
	}
	return v
}
