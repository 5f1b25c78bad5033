package qcmetrics

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"

	"github.com/ChrisMcGann/QCKit/pkg/core"
)

// BlankPercentile is the quantile of blank intensities features are
// compared against.
const BlankPercentile = 0.95

// BlankFilter passes a feature when the mean over unmasked study samples is
// at least threshold × the 95th percentile of its procedural blank values.
// Blanks are used regardless of the sample mask. With no blanks every
// feature passes and a warning is added to warn.
func BlankFilter(d *core.Dataset, threshold float64, warn *core.Warnings) ([]bool, error) {
	level, nBlanks, err := BlankLevel(d)
	if err != nil {
		return nil, err
	}
	pass := make([]bool, len(level))
	if nBlanks == 0 {
		for j := range pass {
			pass[j] = true
		}
		warn.Add("no %s samples in %s, blank filter not applied", core.ProceduralBlank, d.Name)
		return pass, nil
	}
	study, err := d.SelectSamples(core.StudySample, core.Assay, true)
	if err != nil {
		return nil, err
	}
	var s []float64
	for j := range pass {
		if math.IsNaN(level[j]) {
			pass[j] = true
			continue
		}
		s = finiteColumn(s[:0], d.Intensity, study, j)
		if len(s) == 0 {
			continue
		}
		pass[j] = stat.Mean(s, nil) >= threshold*level[j]
	}
	return pass, nil
}

// BlankLevel returns the 95th percentile of each feature's procedural blank
// values (NaN when a feature has none) and the number of blank samples.
func BlankLevel(d *core.Dataset) ([]float64, int, error) {
	types, err := d.SampleTypes()
	if err != nil {
		return nil, 0, err
	}
	var blanks []int
	for i, t := range types {
		if t == core.ProceduralBlank {
			blanks = append(blanks, i)
		}
	}
	_, m := d.Intensity.Dims()
	out := make([]float64, m)
	var b []float64
	for j := range out {
		b = finiteColumn(b[:0], d.Intensity, blanks, j)
		if len(b) == 0 {
			out[j] = math.NaN()
			continue
		}
		slices.Sort(b)
		out[j] = stat.Quantile(BlankPercentile, stat.LinInterp, b, nil)
	}
	return out, len(blanks), nil
}
