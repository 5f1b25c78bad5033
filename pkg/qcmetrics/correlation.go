package qcmetrics

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/ChrisMcGann/QCKit/pkg/core"
)

// CorrMethod selects the correlation coefficient.
type CorrMethod int

// Correlation methods
const (
	Pearson CorrMethod = iota
	Spearman
)

func (c CorrMethod) String() string {
	if c == Spearman {
		return "spearman"
	}
	return "pearson"
}

// ParseCorrMethod accepts "pearson" or "spearman" in any case.
func ParseCorrMethod(s string) (CorrMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pearson", "":
		return Pearson, nil
	case "spearman":
		return Spearman, nil
	}
	return 0, fmt.Errorf("unknown correlation method %q", s)
}

// Correlate returns the correlation of the pairs where both values are
// finite, or NaN when fewer than two remain or either side is constant.
func Correlate(x, y []float64, method CorrMethod) float64 {
	var a, b []float64
	for i := range x {
		if finite(x[i]) && finite(y[i]) {
			a = append(a, x[i])
			b = append(b, y[i])
		}
	}
	if len(a) < 2 {
		return math.NaN()
	}
	if method == Spearman {
		a, b = ranks(a), ranks(b)
	}
	r := stat.Correlation(a, b, nil)
	if math.IsInf(r, 0) {
		return math.NaN()
	}
	return r
}

// ranks returns 1-based ranks with ties given their average rank.
func ranks(v []float64) []float64 {
	idx := make([]int, len(v))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return v[idx[a]] < v[idx[b]] })
	out := make([]float64, len(v))
	for i := 0; i < len(idx); {
		j := i + 1
		for j < len(idx) && v[idx[j]] == v[idx[i]] {
			j++
		}
		avg := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			out[idx[k]] = avg
		}
		i = j
	}
	return out
}

// DilutionSamples returns the unmasked study-pool linearity references
// that have a finite Dilution.
func DilutionSamples(d *core.Dataset) ([]int, error) {
	rows, err := d.SelectSamples(core.StudyPool, core.LinearityReference, true)
	if err != nil {
		return nil, err
	}
	dil, err := d.SampleMetadata.Float(core.ColDilution)
	if err != nil {
		return nil, err
	}
	out := rows[:0]
	for _, i := range rows {
		if finite(dil[i]) {
			out = append(out, i)
		}
	}
	return out, nil
}

// CorrelationToDilution correlates each feature with the Dilution of the
// dilution-series samples.
func CorrelationToDilution(d *core.Dataset, method CorrMethod) ([]float64, error) {
	rows, err := DilutionSamples(d)
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%w: correlation to dilution needs 2 dilution samples, got %d", core.ErrInsufficientReferences, len(rows))
	}
	dil, _ := d.SampleMetadata.Float(core.ColDilution)
	x := make([]float64, len(rows))
	for k, i := range rows {
		x[k] = dil[i]
	}
	_, m := d.Intensity.Dims()
	out := make([]float64, m)
	y := make([]float64, len(rows))
	for j := range out {
		for k, i := range rows {
			y[k] = d.Intensity.At(i, j)
		}
		out[j] = Correlate(x, y, method)
	}
	return out, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
