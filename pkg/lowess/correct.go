package lowess

import (
	"fmt"
	"math"
	"slices"

	"github.com/ChrisMcGann/QCKit/pkg/core"
)

// DefaultWindow is the number of QC points per local regression.
const DefaultWindow = 11

// Params configure a correction.
type Params struct {
	Window int
	Method Method
	Align  Align
}

// DefaultParams returns LOWESS with an 11-point window, median aligned.
func DefaultParams() Params {
	return Params{Window: DefaultWindow, Method: MethodLOWESS, Align: AlignMedian}
}

// Check validates the window.
func (p Params) Check() error {
	if p.Window < 1 || p.Window%2 == 0 {
		return fmt.Errorf("%w: window must be a positive odd number, got %d", core.ErrThresholdOutOfRange, p.Window)
	}
	return nil
}

// BatchFit is the fit record for one batch of one feature.
type BatchFit struct {
	// QCRunOrder and QCSmoothed hold the smoother at the QC grid.
	QCRunOrder []float64
	QCSmoothed []float64
	// Target is the central QC value the batch was scaled to.
	Target float64
	// Skipped is set when the batch had fewer than two QC points.
	Skipped bool
}

// Result is the correction of one feature.
type Result struct {
	// Fit and Corrected are parallel to the input vectors.
	Fit       []float64
	Corrected []float64
	Batches   []BatchFit
	// Err is set, wrapping core.ErrNumericalFailure, when the feature could
	// not be corrected. Fit and Corrected then hold the raw values.
	Err      error
	Messages []string
}

// CorrectFeature corrects one feature. x and y hold the run order and
// intensity of every sample, batches lists the sample indices of each
// correction batch, and qc flags the anchor samples. Samples in no batch
// pass through unchanged with a NaN fit.
//
// Each batch is fitted independently and corrected as y × target / fit.
// Unless p.Align is AlignNone, batches with at least two QC points are then
// rescaled so that their corrected QC central value equals the central value
// of all raw QC points.
func CorrectFeature(x, y []float64, batches [][]int, qc []bool, p Params) Result {
	res := Result{
		Fit:       make([]float64, len(y)),
		Corrected: slices.Clone(y),
	}
	for i := range res.Fit {
		res.Fit[i] = math.NaN()
	}

	aligned := make([][]int, 0, len(batches))
	for _, idx := range batches {
		bf, err := correctBatch(x, y, idx, qc, p, &res)
		if err != nil {
			return failed(y, batches, fmt.Errorf("%w: %v", core.ErrNumericalFailure, err), res.Messages)
		}
		res.Batches = append(res.Batches, bf)
		if !bf.Skipped {
			aligned = append(aligned, idx)
		}
	}

	if p.Align == AlignNone || len(aligned) == 0 {
		return res
	}
	var rawQC []float64
	for _, idx := range aligned {
		for _, i := range idx {
			if qc[i] {
				rawQC = append(rawQC, y[i])
			}
		}
	}
	global := central(rawQC, p.Align)
	for _, idx := range aligned {
		var corrQC []float64
		for _, i := range idx {
			if qc[i] {
				corrQC = append(corrQC, res.Corrected[i])
			}
		}
		c := central(corrQC, p.Align)
		if !finite(c) || c == 0 || !finite(global) {
			return failed(y, batches, fmt.Errorf("%w: cannot align batch with central QC value %v", core.ErrNumericalFailure, c), res.Messages)
		}
		factor := global / c
		for _, i := range idx {
			res.Corrected[i] *= factor
		}
	}
	return res
}

func correctBatch(x, y []float64, idx []int, qc []bool, p Params, res *Result) (BatchFit, error) {
	var xq, yq []float64
	for _, i := range idx {
		if qc[i] && finite(x[i]) && finite(y[i]) {
			xq = append(xq, x[i])
			yq = append(yq, y[i])
		}
	}
	if len(xq) < 2 {
		for _, i := range idx {
			res.Fit[i] = y[i]
		}
		res.Messages = append(res.Messages, fmt.Sprintf("batch with %d QC points left uncorrected", len(xq)))
		return BatchFit{Skipped: true, Target: math.NaN()}, nil
	}

	target := central(yq, p.Align)
	bf := BatchFit{Target: target}

	xb := make([]float64, len(idx))
	for k, i := range idx {
		xb[k] = x[i]
	}
	var fit []float64
	switch p.Method {
	case MethodNone:
		fit = make([]float64, len(idx))
		for k := range fit {
			fit[k] = target
		}
	default:
		var err error
		if fit, err = Smooth(xq, yq, xb, p.Window); err != nil {
			return bf, err
		}
		pts := sortedPoints(xq, yq)
		bf.QCRunOrder = pts.x
		if bf.QCSmoothed, err = Smooth(xq, yq, pts.x, p.Window); err != nil {
			return bf, err
		}
	}

	floor := math.Inf(1)
	for k, f := range fit {
		if finite(f) && f > 0 && finite(xb[k]) {
			floor = math.Min(floor, f)
		}
	}
	if math.IsInf(floor, 1) {
		return bf, fmt.Errorf("no positive baseline value in batch")
	}
	replaced := 0
	for k, i := range idx {
		if !finite(xb[k]) {
			// No run order: pass through.
			continue
		}
		f := fit[k]
		if !finite(f) || f <= 0 {
			f = floor
			replaced++
		}
		res.Fit[i] = f
		res.Corrected[i] = y[i] * target / f
	}
	if replaced > 0 {
		res.Messages = append(res.Messages, fmt.Sprintf("%d non-positive baseline values replaced by %g", replaced, floor))
	}
	return bf, nil
}

func failed(y []float64, batches [][]int, err error, msgs []string) Result {
	res := Result{
		Fit:       make([]float64, len(y)),
		Corrected: slices.Clone(y),
		Err:       err,
		Messages:  append(msgs, err.Error()),
	}
	for i := range res.Fit {
		res.Fit[i] = math.NaN()
	}
	for _, idx := range batches {
		for _, i := range idx {
			res.Fit[i] = y[i]
		}
	}
	return res
}
