// Package lowess implements the windowed LOWESS smoother and the
// per-feature run-order correction built on it.
package lowess

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Smooth fits a single-pass LOWESS curve through (xq, yq) and evaluates it
// at every position in x. Each evaluation uses the window QC points nearest
// in x, weighted by the tricube of their distance. Points with a non-finite
// coordinate are ignored; positions in x that are not finite yield NaN.
func Smooth(xq, yq, x []float64, window int) ([]float64, error) {
	if len(xq) != len(yq) {
		return nil, fmt.Errorf("smoother got %d positions and %d values", len(xq), len(yq))
	}
	if window < 1 {
		return nil, fmt.Errorf("window must be positive, got %d", window)
	}
	pts := sortedPoints(xq, yq)
	if len(pts.x) == 0 {
		return nil, fmt.Errorf("no finite reference points to smooth")
	}

	out := make([]float64, len(x))
	w := make([]float64, 0, window)
	for i, x0 := range x {
		if math.IsNaN(x0) || math.IsInf(x0, 0) {
			out[i] = math.NaN()
			continue
		}
		lo, hi := nearest(pts.x, x0, window)
		xs, ys := pts.x[lo:hi], pts.y[lo:hi]
		w = tricube(w[:0], xs, x0)
		out[i] = localLinear(xs, ys, w, x0)
	}
	return out, nil
}

type points struct {
	x, y []float64
}

// sortedPoints drops non-finite pairs and sorts by x, ties kept in input
// order.
func sortedPoints(xq, yq []float64) points {
	idx := make([]int, 0, len(xq))
	for i := range xq {
		if finite(xq[i]) && finite(yq[i]) {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool { return xq[idx[a]] < xq[idx[b]] })
	p := points{x: make([]float64, len(idx)), y: make([]float64, len(idx))}
	for k, i := range idx {
		p.x[k] = xq[i]
		p.y[k] = yq[i]
	}
	return p
}

// nearest returns the bounds [lo, hi) of the w points of sorted xs closest
// to x0. On equal distance the lower point wins.
func nearest(xs []float64, x0 float64, w int) (lo, hi int) {
	n := len(xs)
	if w >= n {
		return 0, n
	}
	i := sort.SearchFloat64s(xs, x0)
	lo, hi = i, i
	for hi-lo < w {
		switch {
		case lo == 0:
			hi++
		case hi == n:
			lo--
		case x0-xs[lo-1] <= xs[hi]-x0:
			lo--
		default:
			hi++
		}
	}
	return lo, hi
}

func tricube(w, xs []float64, x0 float64) []float64 {
	dmax := 0.0
	for _, x := range xs {
		dmax = math.Max(dmax, math.Abs(x-x0))
	}
	for _, x := range xs {
		if dmax == 0 {
			w = append(w, 1)
			continue
		}
		u := math.Abs(x-x0) / dmax
		v := 1 - u*u*u
		w = append(w, v*v*v)
	}
	return w
}

// localLinear evaluates a weighted straight-line fit at x0. When the
// weighted fit is degenerate it falls back to an unweighted line over the
// window, then to the mean.
func localLinear(xs, ys, w []float64, x0 float64) float64 {
	if len(xs) == 1 {
		return ys[0]
	}
	if positive(w) >= 2 {
		// gonum treats weights as frequencies; rescale so they sum to the
		// window size and the n-1 denominators stay positive.
		floats.Scale(float64(len(w))/floats.Sum(w), w)
		if a, b := stat.LinearRegression(xs, ys, w, false); finite(a) && finite(b) {
			return a + b*x0
		}
	}
	if a, b := stat.LinearRegression(xs, ys, nil, false); finite(a) && finite(b) {
		return a + b*x0
	}
	return stat.Mean(ys, nil)
}

func positive(w []float64) int {
	n := 0
	for _, v := range w {
		if v > 0 {
			n++
		}
	}
	return n
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Method selects how the within-batch baseline is estimated.
type Method int

// Correction methods
const (
	MethodLOWESS Method = iota
	// MethodNone uses the batch's central QC value as a flat baseline.
	MethodNone
)

func (m Method) String() string {
	if m == MethodNone {
		return "None"
	}
	return "LOWESS"
}

// ParseMethod accepts "LOWESS" or "None" in any case.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lowess", "":
		return MethodLOWESS, nil
	case "none":
		return MethodNone, nil
	}
	return 0, fmt.Errorf("unknown correction method %q", s)
}

// Align selects the central statistic batches are aligned on.
type Align int

// Alignment statistics
const (
	AlignMedian Align = iota
	AlignMean
	AlignNone
)

func (a Align) String() string {
	switch a {
	case AlignMean:
		return "mean"
	case AlignNone:
		return "none"
	default:
		return "median"
	}
}

// ParseAlign accepts "mean", "median" or "none" in any case.
func ParseAlign(s string) (Align, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "median", "":
		return AlignMedian, nil
	case "mean":
		return AlignMean, nil
	case "none":
		return AlignNone, nil
	}
	return 0, fmt.Errorf("unknown alignment %q", s)
}

// central returns the mean or median of the finite values in v, NaN when
// there are none. AlignNone yields 1.
func central(v []float64, a Align) float64 {
	if a == AlignNone {
		return 1
	}
	vals := make([]float64, 0, len(v))
	for _, x := range v {
		if finite(x) {
			vals = append(vals, x)
		}
	}
	if len(vals) == 0 {
		return math.NaN()
	}
	if a == AlignMean {
		return stat.Mean(vals, nil)
	}
	slices.Sort(vals)
	n := len(vals)
	if n%2 == 1 {
		return vals[n/2]
	}
	return (vals[n/2-1] + vals[n/2]) / 2
}
