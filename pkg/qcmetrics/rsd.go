// Package qcmetrics computes the per-feature quality statistics that drive
// feature filtering: precision (RSD), linearity (correlation to dilution),
// variance ratio, blank contribution and artefactual linkage.
package qcmetrics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/ChrisMcGann/QCKit/pkg/core"
)

// RSD returns 100 × std / |mean| of each feature over the given rows,
// using finite values only. It needs at least two rows.
func RSD(x *core.Matrix, rows []int) ([]float64, error) {
	if len(rows) < 2 {
		return nil, fmt.Errorf("%w: RSD needs 2 samples, got %d", core.ErrInsufficientReferences, len(rows))
	}
	_, m := x.Dims()
	out := make([]float64, m)
	buf := make([]float64, 0, len(rows))
	for j := 0; j < m; j++ {
		buf = finiteColumn(buf[:0], x, rows, j)
		out[j] = rsd(buf)
	}
	return out, nil
}

func rsd(v []float64) float64 {
	if len(v) < 2 {
		return math.NaN()
	}
	mean, std := stat.MeanStdDev(v, nil)
	return 100 * std / math.Abs(mean)
}

// RSDStudyPool is the RSD over unmasked study-pool precision references.
func RSDStudyPool(d *core.Dataset) ([]float64, error) {
	rows, err := d.SelectSamples(core.StudyPool, core.PrecisionReference, true)
	if err != nil {
		return nil, err
	}
	return RSD(d.Intensity, rows)
}

// RSDStudySample is the RSD over unmasked study samples.
func RSDStudySample(d *core.Dataset) ([]float64, error) {
	rows, err := d.SelectSamples(core.StudySample, core.Assay, true)
	if err != nil {
		return nil, err
	}
	return RSD(d.Intensity, rows)
}

// VarianceRatio returns std(study samples) / std(study-pool references) per
// feature. Biologically informative features vary more across study samples
// than across repeated pool injections.
func VarianceRatio(d *core.Dataset) ([]float64, error) {
	ss, err := d.SelectSamples(core.StudySample, core.Assay, true)
	if err != nil {
		return nil, err
	}
	sp, err := d.SelectSamples(core.StudyPool, core.PrecisionReference, true)
	if err != nil {
		return nil, err
	}
	if len(ss) < 2 || len(sp) < 2 {
		return nil, fmt.Errorf("%w: variance ratio needs 2 study samples and 2 references, got %d and %d",
			core.ErrInsufficientReferences, len(ss), len(sp))
	}
	_, m := d.Intensity.Dims()
	out := make([]float64, m)
	var a, b []float64
	for j := 0; j < m; j++ {
		a = finiteColumn(a[:0], d.Intensity, ss, j)
		b = finiteColumn(b[:0], d.Intensity, sp, j)
		if len(a) < 2 || len(b) < 2 {
			out[j] = math.NaN()
			continue
		}
		out[j] = stat.StdDev(a, nil) / stat.StdDev(b, nil)
	}
	return out, nil
}

// finiteColumn appends the finite values of column j over rows to dst.
func finiteColumn(dst []float64, x *core.Matrix, rows []int, j int) []float64 {
	for _, i := range rows {
		if v := x.At(i, j); !math.IsNaN(v) && !math.IsInf(v, 0) {
			dst = append(dst, v)
		}
	}
	return dst
}
